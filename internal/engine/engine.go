// Package engine is the single entry point to rounds, votes, the stake vault
// and the withdrawal queue.
//
// Every public operation runs in one critical section. It first observes the
// clock, so a round whose voting ended is deactivated before anything else,
// then validates, performs at most one external call, and only then mutates
// state. The records it changed are written to storage in one batch together
// with the events it emitted.
//
// While a collaborator (the Swapper or Transferer) runs, any call into the
// engine fails with ErrReentrantCall instead of waiting for the lock, whatever
// context it carries. Calls carrying the context of the running operation are
// rejected the same way.
//
// A failed write to storage leaves memory ahead of disk. The engine then
// rejects every state-changing operation with ErrStateDiverged until it is
// restarted; queries keep working and Status reports the divergence.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"YieldRounds/internal/access"
	"YieldRounds/internal/event"
	"YieldRounds/internal/issue"
	"YieldRounds/internal/ledger"
	"YieldRounds/internal/logger"
	"YieldRounds/internal/round"
	"YieldRounds/internal/state"
	"YieldRounds/internal/vault"
	"YieldRounds/internal/withdrawal"
)

var (
	ErrUnauthorized       = errors.New("unauthorized account")
	ErrInvalidOwner       = errors.New("invalid owner")
	ErrReentrantCall      = errors.New("reentrant call")
	ErrNoActiveRound      = errors.New("no active round")
	ErrRegistrationClosed = errors.New("issue registration is not open")
	ErrVotingClosed       = errors.New("voting is not open")
	ErrNotStaked          = errors.New("caller has no stake")
	ErrStateDiverged      = errors.New("in-memory state diverged from storage")
)

// Clock returns the current unix time in seconds.
type Clock func() int64

// SystemClock reads the wall clock.
func SystemClock() int64 {
	return time.Now().Unix()
}

// Config wires an engine.
type Config struct {
	Owner      common.Address
	Access     access.Config
	Vault      vault.Config
	Swapper    vault.Swapper
	Transferer vault.Transferer
	Clock      Clock        // Clock defaults to SystemClock
	State      *state.State // State is optional; nil keeps everything in memory
}

// Engine owns every registry and serializes access to them.
type Engine struct {
	mu         sync.Mutex
	activeCall atomic.Uint64 // activeCall is the id of the running operation, 0 if none
	nextCall   atomic.Uint64
	external   atomic.Bool // external is set while a collaborator runs

	swapper    vault.Swapper
	transferer vault.Transferer

	commit   func(*state.Batch) error
	storeErr error // storeErr is the first failed commit; guarded by mu

	clock Clock
	store *state.State
	owner common.Address

	rounds *round.Registry
	issues *issue.Registry
	ballot *ledger.Ledger
	vault  *vault.Vault
	access *access.Control
	queue  *withdrawal.Queue
	chain  *event.Chain
	events []event.Event
}

// New creates an engine, restoring it from cfg.State when that holds records.
func New(cfg Config) (*Engine, error) {
	if cfg.Swapper == nil || cfg.Transferer == nil {
		return nil, fmt.Errorf("swapper and transferer are required")
	}

	ctrl, err := access.New(cfg.Access)
	if err != nil {
		return nil, fmt.Errorf("access control:\n%w", err)
	}

	e := &Engine{
		clock:  cfg.Clock,
		store:  cfg.State,
		owner:  cfg.Owner,
		rounds: round.NewRegistry(),
		issues: issue.NewRegistry(),
		ballot: ledger.New(),
		access: ctrl,
		queue:  withdrawal.NewQueue(ctrl),
		chain:  event.NewChain(0, [32]byte{}),
	}
	e.swapper = guardedSwapper{e: e, next: cfg.Swapper}
	e.transferer = guardedTransferer{e: e, next: cfg.Transferer}
	e.vault = vault.New(cfg.Vault, e.swapper, e.transferer)

	if e.store != nil {
		e.commit = e.store.Commit
	}

	if e.clock == nil {
		e.clock = SystemClock
	}

	if e.store == nil {
		if cfg.Owner == (common.Address{}) {
			return nil, ErrInvalidOwner
		}
		return e, nil
	}

	empty, err := e.store.Empty()
	if err != nil {
		return nil, fmt.Errorf("inspect state:\n%w", err)
	}

	if empty {
		if cfg.Owner == (common.Address{}) {
			return nil, ErrInvalidOwner
		}

		var b state.Batch
		b.PutOwner(cfg.Owner)
		if err := e.store.Commit(&b); err != nil {
			return nil, fmt.Errorf("initialize state:\n%w", err)
		}

		return e, nil
	}

	if err := e.restore(cfg); err != nil {
		return nil, fmt.Errorf("restore state:\n%w", err)
	}

	return e, nil
}

// restore rebuilds every registry from the persisted records.
func (e *Engine) restore(cfg Config) error {
	recs, err := e.store.Load()
	if err != nil {
		return err
	}

	if err := event.Verify(recs.Events); err != nil {
		return err
	}

	e.ballot, err = ledger.Restore(recs.Ballots)
	if err != nil {
		return err
	}

	requests := make([]withdrawal.Request, len(recs.Withdrawals))
	for i, w := range recs.Withdrawals {
		requests[i] = w.Request
		e.access.RestoreApprovals(w.Request.ID, w.Approvals)
	}

	if recs.Owner != (common.Address{}) {
		e.owner = recs.Owner
	}
	e.rounds = round.Restore(recs.Rounds)
	e.issues = issue.Restore(recs.Issues, recs.Anchors)
	e.vault = vault.Restore(cfg.Vault, e.swapper, e.transferer, recs.Vault)
	e.queue = withdrawal.Restore(e.access, requests)
	e.events = recs.Events

	if n := len(recs.Events); n > 0 {
		last := recs.Events[n-1]
		e.chain = event.NewChain(last.Seq, last.Hash)
	}

	logger.Info("engine restored",
		"rounds", len(recs.Rounds),
		"issues", len(recs.Issues),
		"ballots", len(recs.Ballots),
		"withdrawals", len(recs.Withdrawals),
		"events", len(recs.Events),
	)

	return nil
}

// callKey marks a context as belonging to a running operation.
type callKey struct{}

// call is the state of one running operation.
type call struct {
	ctx   context.Context
	op    string
	now   int64
	batch state.Batch
	start time.Time
}

// begin enters the critical section for op.
// It fails fast when a collaborator is running or when ctx belongs to the
// operation currently holding the lock.
func (e *Engine) begin(ctx context.Context, op string) (*call, error) {
	if e.external.Load() {
		logger.Debug("call during external call rejected", "op", op)
		return nil, fmt.Errorf("%s: %w", op, ErrReentrantCall)
	}

	if id, ok := ctx.Value(callKey{}).(uint64); ok && id != 0 && id == e.activeCall.Load() {
		logger.Debug("reentrant call rejected", "op", op)
		return nil, fmt.Errorf("%s: %w", op, ErrReentrantCall)
	}

	e.mu.Lock()

	id := e.nextCall.Add(1)
	e.activeCall.Store(id)

	c := &call{
		ctx:   context.WithValue(ctx, callKey{}, id),
		op:    op,
		now:   e.clock(),
		start: time.Now(),
	}

	e.observe(c)

	return c, nil
}

// beginWrite is begin for state-changing operations.
// It rejects op once storage has diverged from memory.
func (e *Engine) beginWrite(ctx context.Context, op string) (*call, error) {
	c, err := e.begin(ctx, op)
	if err != nil {
		return nil, err
	}

	if e.storeErr != nil {
		err := fmt.Errorf("%s: %w", op, errors.Join(ErrStateDiverged, e.storeErr))
		e.end(c, err)
		return nil, err
	}

	return c, nil
}

// end persists the staged records and leaves the critical section.
// Records staged by a rejected operation come only from observe.
func (e *Engine) end(c *call, err error) {
	if e.store != nil && c.batch.Len() > 0 {
		if cerr := e.commit(&c.batch); cerr != nil {
			logger.Error("persist records", "op", c.op, "records", c.batch.Len(), "error", cerr)
			if e.storeErr == nil {
				e.storeErr = cerr
			}
		}
	}

	if err != nil {
		logger.Debug("operation rejected", "op", c.op, "error", err)
	} else {
		logger.Info("operation accepted", "op", c.op, logger.Timed(c.start))
	}

	e.activeCall.Store(0)
	e.mu.Unlock()
}

// observe deactivates the active round once its voting window ended.
func (e *Engine) observe(c *call) {
	closed, ok := e.rounds.Observe(c.now)
	if !ok {
		return
	}

	anchor, _ := e.issues.Anchor(closed.ID)
	c.batch.PutRound(closed, anchor)

	logger.Info("round closed", "round", closed.ID, "votingEnd", closed.VotingEnd)
}

// emit seals ev into the journal and stages it.
func (e *Engine) emit(c *call, ev event.Event) {
	ev.Time = c.now
	sealed := e.chain.Seal(ev)

	e.events = append(e.events, sealed)
	c.batch.PutEvent(sealed)
}

// stageDeposit stages user's vault position and the vault totals.
func (e *Engine) stageDeposit(c *call, users ...common.Address) {
	for _, u := range users {
		c.batch.PutDeposit(state.DepositRecord{User: u, Principal: e.vault.Principal(u), Credit: e.vault.Credit(u)})
	}
	c.batch.PutVaultTotals(e.vault.Total(), e.vault.YieldBalance())
}

// stageWithdrawal stages request id with its current approvals.
func (e *Engine) stageWithdrawal(c *call, id uint64) {
	r, ok := e.queue.Get(id)
	if !ok {
		return
	}
	c.batch.PutWithdrawal(state.WithdrawalRecord{Request: r, Approvals: e.access.ApprovalBitmap(id)})
}

// requireOwner checks that caller owns the engine.
func (e *Engine) requireOwner(caller common.Address) error {
	if caller != e.owner {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller.Hex())
	}
	return nil
}

// requireSigner checks that caller is an admin signer.
func (e *Engine) requireSigner(caller common.Address) error {
	if !e.access.IsSigner(caller) {
		return fmt.Errorf("%w: %s", access.ErrNotAdmin, caller.Hex())
	}
	return nil
}

// log returns a logger carrying the operation name.
func (c *call) log() *slog.Logger {
	return logger.With("op", c.op)
}
