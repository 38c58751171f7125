// Package state persists engine records to storage.
//
// Every engine operation writes its changed records through one Batch, so a
// crash never leaves half an operation on disk. Load rebuilds the records the
// registries are restored from.
package state

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"YieldRounds/internal/event"
	"YieldRounds/internal/issue"
	"YieldRounds/internal/ledger"
	"YieldRounds/internal/round"
	"YieldRounds/internal/storage"
	"YieldRounds/internal/vault"
)

// errStop ends an iteration early.
var errStop = errors.New("stop")

// State reads and writes engine records.
type State struct {
	db          *storage.Storage
	rounds      *recordStore
	issues      *recordStore
	ballots     *recordStore
	deposits    *recordStore
	withdrawals *recordStore
	events      *recordStore
}

// New creates a State backed by db.
func New(db *storage.Storage) *State {
	return &State{
		db:          db,
		rounds:      newRecordStore(db, prefixRound),
		issues:      newRecordStore(db, prefixIssue),
		ballots:     newRecordStore(db, prefixBallot),
		deposits:    newRecordStore(db, prefixDeposit),
		withdrawals: newRecordStore(db, prefixWithdrawal),
		events:      newRecordStore(db, prefixEvent),
	}
}

// DB returns the underlying storage.
func (s *State) DB() *storage.Storage {
	return s.db
}

// Batch collects the writes of one operation.
// The zero value is ready to use.
type Batch struct {
	pairs []storage.KeyValue
}

// PutRound stages a round and its issue anchor.
func (b *Batch) PutRound(r round.Round, anchor uint64) {
	b.put(idKey(prefixRound, r.ID), encodeRound(r, anchor))
}

// PutIssue stages an issue.
func (b *Batch) PutIssue(is issue.Issue) {
	b.put(idKey(prefixIssue, is.ID), encodeIssue(is))
}

// PutBallot stages a ballot.
func (b *Batch) PutBallot(rec ledger.Record) {
	b.put(ballotKey(rec.RoundID, rec.User), encodeBallot(rec))
}

// PutWithdrawal stages a withdrawal request with its approvals.
func (b *Batch) PutWithdrawal(w WithdrawalRecord) {
	b.put(idKey(prefixWithdrawal, w.Request.ID), encodeWithdrawal(w))
}

// PutDeposit stages a vault position. Empty positions are deleted.
func (b *Batch) PutDeposit(d DepositRecord) {
	if isZero(d.Principal) && isZero(d.Credit) {
		b.pairs = append(b.pairs, storage.KeyValue{Key: depositKey(d.User)})
		return
	}
	b.put(depositKey(d.User), encodeDeposit(d))
}

// PutVaultTotals stages the vault-wide principal and pool balances.
func (b *Batch) PutVaultTotals(total, yieldBalance *uint256.Int) {
	b.put(metaTotal, uintBytes(total))
	b.put(metaYield, uintBytes(yieldBalance))
}

// PutOwner stages the engine owner.
func (b *Batch) PutOwner(owner common.Address) {
	b.put(metaOwner, owner.Bytes())
}

// PutEvent stages a sealed journal entry.
func (b *Batch) PutEvent(e event.Event) {
	b.put(idKey(prefixEvent, e.Seq), encodeEvent(e))
}

// Len returns the number of staged writes.
func (b *Batch) Len() int {
	return len(b.pairs)
}

func (b *Batch) put(key, value []byte) {
	if value == nil {
		value = []byte{}
	}
	b.pairs = append(b.pairs, storage.KeyValue{Key: key, Value: value})
}

// Commit applies every staged write atomically.
func (s *State) Commit(b *Batch) error {
	if b == nil || len(b.pairs) == 0 {
		return nil
	}

	if err := s.db.SetBatch(b.pairs); err != nil {
		return fmt.Errorf("commit %d records:\n%w", len(b.pairs), err)
	}

	return nil
}

// Records is everything needed to restore an engine.
type Records struct {
	Owner       common.Address
	Rounds      []round.Round
	Anchors     map[uint64]uint64
	Issues      []issue.Issue
	Ballots     []ledger.Record
	Withdrawals []WithdrawalRecord
	Vault       vault.State
	Events      []event.Event
}

// Empty reports whether nothing was ever committed.
func (s *State) Empty() (bool, error) {
	empty := true

	err := s.db.Iterate(func(_, _ []byte) error {
		empty = false
		return errStop
	})
	if err != nil && !errors.Is(err, errStop) {
		return false, err
	}

	return empty, nil
}

// Load reads every record.
func (s *State) Load() (*Records, error) {
	recs := &Records{
		Anchors: make(map[uint64]uint64),
		Vault: vault.State{
			Principals:   make(map[common.Address]*uint256.Int),
			Credits:      make(map[common.Address]*uint256.Int),
			Total:        new(uint256.Int),
			YieldBalance: new(uint256.Int),
		},
	}

	owner, err := s.db.Get(metaOwner)
	if err != nil {
		return nil, fmt.Errorf("load owner:\n%w", err)
	}
	recs.Owner = common.BytesToAddress(owner)

	if err := s.loadVault(recs); err != nil {
		return nil, fmt.Errorf("load vault:\n%w", err)
	}

	err = s.rounds.each(func(_, value []byte) error {
		r, anchor := decodeRound(value)
		recs.Rounds = append(recs.Rounds, r)
		recs.Anchors[r.ID] = anchor
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load rounds:\n%w", err)
	}

	err = s.issues.each(func(_, value []byte) error {
		recs.Issues = append(recs.Issues, decodeIssue(value))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load issues:\n%w", err)
	}

	err = s.ballots.each(func(_, value []byte) error {
		recs.Ballots = append(recs.Ballots, decodeBallot(value))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load ballots:\n%w", err)
	}

	err = s.withdrawals.each(func(_, value []byte) error {
		recs.Withdrawals = append(recs.Withdrawals, decodeWithdrawal(value))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load withdrawals:\n%w", err)
	}

	recs.Events, err = s.Events(1, 0)
	if err != nil {
		return nil, err
	}

	return recs, nil
}

// loadVault reads the deposits and vault totals into recs.
func (s *State) loadVault(recs *Records) error {
	for key, dst := range map[string]*uint256.Int{string(metaTotal): recs.Vault.Total, string(metaYield): recs.Vault.YieldBalance} {
		value, err := s.db.Get([]byte(key))
		if err != nil {
			return err
		}
		dst.SetBytes(value)
	}

	return s.deposits.each(func(_, value []byte) error {
		d := decodeDeposit(value)
		if !d.Principal.IsZero() {
			recs.Vault.Principals[d.User] = d.Principal
		}
		if !d.Credit.IsZero() {
			recs.Vault.Credits[d.User] = d.Credit
		}
		return nil
	})
}

// Events returns up to limit journal entries starting at seq from.
// A limit of 0 means no limit.
func (s *State) Events(from uint64, limit int) ([]event.Event, error) {
	var out []event.Event

	err := s.events.each(func(_, value []byte) error {
		e := decodeEvent(value)
		if e.Seq < from {
			return nil
		}

		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, fmt.Errorf("load events:\n%w", err)
	}

	return out, nil
}

func isZero(x *uint256.Int) bool {
	return x == nil || x.IsZero()
}
