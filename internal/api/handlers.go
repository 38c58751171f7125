package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"YieldRounds/internal/engine"
)

// decodeBody reads a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %v", err)
	}

	return nil
}

// pathID parses the {id} path segment.
func pathID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

// pathUser parses the {user} path segment.
func pathUser(r *http.Request) (common.Address, error) {
	u := r.PathValue("user")
	if !common.IsHexAddress(u) {
		return common.Address{}, fmt.Errorf("invalid address %q", u)
	}
	return common.HexToAddress(u), nil
}

// mutation resolves the caller and decodes body into v when v is not nil.
// It writes the error response and returns false on failure.
func mutation(w http.ResponseWriter, r *http.Request, v any) (common.Address, bool) {
	caller, err := callerOf(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return common.Address{}, false
	}

	if v != nil {
		if err := decodeBody(r, v); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return common.Address{}, false
		}
	}

	return caller, true
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse(st))
}

// handleEvents handles GET /events?from=&limit= requests.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var (
		from  uint64
		limit = 100
		err   error
	)

	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = strconv.ParseUint(v, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid from")
			return
		}
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 || limit > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
	}

	evs, err := s.engine.Events(r.Context(), from, limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	out := make([]EventResponse, len(evs))
	for i, e := range evs {
		out[i] = eventResponse(e)
	}

	writeJSON(w, http.StatusOK, out)
}

// handleSnapshot handles GET /snapshot requests.
// The body is a zstd-compressed snapshot of the record store.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	data, info, err := s.engine.Snapshot(r.Context())
	if err != nil {
		if errors.Is(err, engine.ErrNoStorage) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Snapshot-Last-Event", strconv.FormatUint(info.LastEvent, 10))
	w.Header().Set("X-Snapshot-Checksum", hexutil.Encode(info.Checksum[:]))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleRounds handles GET /rounds requests.
func (s *Server) handleRounds(w http.ResponseWriter, r *http.Request) {
	views, err := s.engine.Rounds(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}

	out := make([]RoundResponse, len(views))
	for i, v := range views {
		out[i] = roundResponse(v)
	}

	writeJSON(w, http.StatusOK, out)
}

// handleCreateRound handles POST /rounds requests.
func (s *Server) handleCreateRound(w http.ResponseWriter, r *http.Request) {
	var req CreateRoundRequest
	caller, ok := mutation(w, r, &req)
	if !ok {
		return
	}

	rd, err := s.engine.CreateRound(r.Context(), caller, req.RegistrationStart, req.VotingStart, req.VotingEnd)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.writeRound(w, r, http.StatusCreated, rd.ID)
}

// handleRound handles GET /rounds/{id} requests.
func (s *Server) handleRound(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeRound(w, r, http.StatusOK, id)
}

// handleCancelRound handles POST /rounds/{id}/cancel requests.
func (s *Server) handleCancelRound(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, ok := mutation(w, r, nil)
	if !ok {
		return
	}

	if _, err := s.engine.CancelRound(r.Context(), caller, id); err != nil {
		writeEngineError(w, err)
		return
	}

	s.writeRound(w, r, http.StatusOK, id)
}

// writeRound writes the current view of round id.
func (s *Server) writeRound(w http.ResponseWriter, r *http.Request, status int, id uint64) {
	v, err := s.engine.Round(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, status, roundResponse(v))
}

// handleIssuesForRound handles GET /rounds/{id}/issues requests.
func (s *Server) handleIssuesForRound(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	issues, err := s.engine.IssuesForRound(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	out := make([]IssueResponse, len(issues))
	for i, is := range issues {
		out[i] = issueResponse(is)
	}

	writeJSON(w, http.StatusOK, out)
}

// handleTally handles GET /rounds/{id}/tally requests.
func (s *Server) handleTally(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tally, err := s.engine.Tally(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	out := make([]TallyEntry, len(tally))
	for i, t := range tally {
		out[i] = TallyEntry{IssueID: t.IssueID, Active: t.Active, Weight: t.Weight}
	}

	writeJSON(w, http.StatusOK, out)
}

// handleBallot handles GET /rounds/{id}/ballots/{user} requests.
func (s *Server) handleBallot(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := pathUser(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	b, err := s.engine.Ballot(r.Context(), user, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ballotResponse(b))
}

// handleUnvoted handles GET /rounds/{id}/unvoted/{user} requests.
func (s *Server) handleUnvoted(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := pathUser(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ids, err := s.engine.UnvotedIssues(r.Context(), user, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ids)
}

// handleCreateIssue handles POST /issues requests.
func (s *Server) handleCreateIssue(w http.ResponseWriter, r *http.Request) {
	var req CreateIssueRequest
	caller, ok := mutation(w, r, &req)
	if !ok {
		return
	}

	is, err := s.engine.CreateIssue(r.Context(), caller, req.Receiver)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, issueResponse(is))
}

// handleIssue handles GET /issues/{id} requests.
func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	is, err := s.engine.Issue(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, issueResponse(is))
}

// handleDeactivateIssue handles POST /issues/{id}/deactivate requests.
func (s *Server) handleDeactivateIssue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, ok := mutation(w, r, nil)
	if !ok {
		return
	}

	is, err := s.engine.DeactivateIssue(r.Context(), caller, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, issueResponse(is))
}

// handleVoteYes handles POST /votes/yes requests.
func (s *Server) handleVoteYes(w http.ResponseWriter, r *http.Request) {
	s.handleVote(w, r, s.engine.VoteYes)
}

// handleVoteNo handles POST /votes/no requests.
func (s *Server) handleVoteNo(w http.ResponseWriter, r *http.Request) {
	s.handleVote(w, r, s.engine.VoteNo)
}

type voteFunc func(ctx context.Context, caller common.Address, bitmap *uint256.Int) (engine.BallotView, error)

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request, vote voteFunc) {
	var req BitmapRequest
	caller, ok := mutation(w, r, &req)
	if !ok {
		return
	}

	bitmap, err := ParseAmount(req.Bitmap)
	if err != nil || bitmap == nil {
		writeError(w, http.StatusBadRequest, "invalid bitmap")
		return
	}

	b, err := vote(r.Context(), caller, bitmap)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ballotResponse(b))
}

// handleStake handles POST /stake requests.
func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	var req StakeRequest
	caller, ok := mutation(w, r, &req)
	if !ok {
		return
	}

	value, minOut, err := parsePair(req.Value, req.MinOut)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := s.engine.Stake(r.Context(), caller, value, minOut)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conversionResponse(conv))
}

// handleUnstake handles POST /unstake requests.
func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	var req UnstakeRequest
	caller, ok := mutation(w, r, &req)
	if !ok {
		return
	}

	amount, minOut, err := parsePair(req.Amount, req.MinOut)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := s.engine.Unstake(r.Context(), caller, amount, minOut)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conversionResponse(conv))
}

// parsePair parses an amount and its optional minimum output.
func parsePair(amount, minOut string) (*uint256.Int, *uint256.Int, error) {
	a, err := ParseAmount(amount)
	if err != nil {
		return nil, nil, err
	}

	m, err := ParseAmount(minOut)
	if err != nil {
		return nil, nil, err
	}

	return a, m, nil
}

// handleDeposit handles GET /deposits/{user} requests.
func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	user, err := pathUser(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	d, err := s.engine.Deposit(r.Context(), user)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, DepositResponse{Principal: FormatAmount(d.Principal), Credit: FormatAmount(d.Credit)})
}

// handleClaim handles POST /payouts/claim requests.
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	caller, ok := mutation(w, r, nil)
	if !ok {
		return
	}

	paid, err := s.engine.ClaimPayout(r.Context(), caller)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ClaimResponse{Paid: FormatAmount(paid)})
}

// handleRequestWithdrawal handles POST /withdrawals requests.
func (s *Server) handleRequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req WithdrawalCreateRequest
	caller, ok := mutation(w, r, &req)
	if !ok {
		return
	}

	amount, err := ParseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := s.engine.RequestWithdrawal(r.Context(), caller, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.writeWithdrawal(w, r, http.StatusCreated, created.ID)
}

// handleWithdrawal handles GET /withdrawals/{id} requests.
func (s *Server) handleWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeWithdrawal(w, r, http.StatusOK, id)
}

// writeWithdrawal writes the current view of request id.
func (s *Server) writeWithdrawal(w http.ResponseWriter, r *http.Request, status int, id uint64) {
	v, err := s.engine.Withdrawal(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, status, withdrawalResponse(v))
}

// handleApproveWithdrawal handles POST /withdrawals/{id}/approve requests.
func (s *Server) handleApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req ApproveRequest
	caller, ok := mutation(w, r, &req)
	if !ok {
		return
	}

	var v engine.WithdrawalView
	if req.Signature == "" {
		v, err = s.engine.ApproveWithdrawal(r.Context(), caller, id)
	} else {
		sig, derr := hexutil.Decode(req.Signature)
		if derr != nil {
			writeError(w, http.StatusBadRequest, "invalid signature encoding")
			return
		}
		v, err = s.engine.ApproveWithdrawalSigned(r.Context(), caller, id, sig)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, withdrawalResponse(v))
}

// handleDisperse handles POST /withdrawals/{id}/disperse requests.
func (s *Server) handleDisperse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req DisperseRequest
	caller, ok := mutation(w, r, &req)
	if !ok {
		return
	}

	values := make([]*uint256.Int, len(req.Values))
	for i, v := range req.Values {
		if values[i], err = ParseAmount(v); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	v, err := s.engine.DisperseDonation(r.Context(), caller, id, req.Recipients, values)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, withdrawalResponse(v))
}

// handleTransferOwnership handles POST /owner requests.
func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	var req TransferOwnershipRequest
	caller, ok := mutation(w, r, &req)
	if !ok {
		return
	}

	if err := s.engine.TransferOwnership(r.Context(), caller, req.NewOwner); err != nil {
		writeEngineError(w, err)
		return
	}

	s.handleStatus(w, r)
}
