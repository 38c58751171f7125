// Package api exposes the engine over HTTP.
//
// The caller of every mutating request is taken from the X-Caller-Address
// header, which the upstream identity provider sets after authenticating the
// session. Amounts are decimal strings; bitmaps are 0x-prefixed hex strings.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"YieldRounds/internal/engine"
	"YieldRounds/internal/logger"
)

const (
	// maxBodySize is the maximum request body size in bytes.
	maxBodySize = 1 << 20 // 1 MB

	// CallerHeader carries the authenticated caller address.
	CallerHeader = "X-Caller-Address"

	// RequestIDHeader carries the request id, generated when absent.
	RequestIDHeader = "X-Request-ID"
)

var errNoCaller = errors.New("missing or invalid " + CallerHeader + " header")

// Server is the HTTP API server.
type Server struct {
	addr    string         // addr is the HTTP listen address
	engine  *engine.Engine // engine executes every operation
	handler http.Handler   // handler is the routed middleware chain
	server  *http.Server   // server is the underlying HTTP server
}

// New creates a new HTTP API server.
func New(addr string, e *engine.Engine) *Server {
	s := &Server{addr: addr, engine: e}
	s.handler = s.withRequestID(s.routes())

	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /snapshot", s.handleSnapshot)

	mux.HandleFunc("GET /rounds", s.handleRounds)
	mux.HandleFunc("POST /rounds", s.handleCreateRound)
	mux.HandleFunc("GET /rounds/{id}", s.handleRound)
	mux.HandleFunc("POST /rounds/{id}/cancel", s.handleCancelRound)
	mux.HandleFunc("GET /rounds/{id}/issues", s.handleIssuesForRound)
	mux.HandleFunc("GET /rounds/{id}/tally", s.handleTally)
	mux.HandleFunc("GET /rounds/{id}/ballots/{user}", s.handleBallot)
	mux.HandleFunc("GET /rounds/{id}/unvoted/{user}", s.handleUnvoted)

	mux.HandleFunc("POST /issues", s.handleCreateIssue)
	mux.HandleFunc("GET /issues/{id}", s.handleIssue)
	mux.HandleFunc("POST /issues/{id}/deactivate", s.handleDeactivateIssue)

	mux.HandleFunc("POST /votes/yes", s.handleVoteYes)
	mux.HandleFunc("POST /votes/no", s.handleVoteNo)

	mux.HandleFunc("POST /stake", s.handleStake)
	mux.HandleFunc("POST /unstake", s.handleUnstake)
	mux.HandleFunc("GET /deposits/{user}", s.handleDeposit)
	mux.HandleFunc("POST /payouts/claim", s.handleClaim)

	mux.HandleFunc("POST /withdrawals", s.handleRequestWithdrawal)
	mux.HandleFunc("GET /withdrawals/{id}", s.handleWithdrawal)
	mux.HandleFunc("POST /withdrawals/{id}/approve", s.handleApproveWithdrawal)
	mux.HandleFunc("POST /withdrawals/{id}/disperse", s.handleDisperse)

	mux.HandleFunc("POST /owner", s.handleTransferOwnership)

	return mux
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withRequestID tags every request with an id and logs its outcome.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		next.ServeHTTP(rec, r)

		logger.Debug("http request",
			"id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			logger.Timed(start),
		)
	})
}

// callerOf returns the caller address set by the identity provider.
func callerOf(r *http.Request) (common.Address, error) {
	h := r.Header.Get(CallerHeader)
	if !common.IsHexAddress(h) {
		return common.Address{}, errNoCaller
	}

	addr := common.HexToAddress(h)
	if addr == (common.Address{}) {
		return common.Address{}, errNoCaller
	}

	return addr, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeEngineError maps err to its status code and writes it.
func writeEngineError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), ErrorResponse{Error: err.Error(), Kind: kindFor(err)})
}
