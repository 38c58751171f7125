// Package issue registers the issues voted on in each round.
package issue

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"YieldRounds/internal/seq"
	"YieldRounds/internal/votecodec"
)

var (
	ErrIssueNotFound = errors.New("issue not found")
	ErrIssueInactive = errors.New("issue is not active")
	ErrZeroReceiver  = errors.New("zero receiver address")
	ErrRoundFull     = errors.New("round has no free issue slot")
	ErrNoAnchor      = errors.New("round has no issue anchor")
)

// Issue is a community-submitted beneficiary. Only Active changes after creation.
type Issue struct {
	ID        uint64
	RoundID   uint64
	Receiver  common.Address
	Creator   common.Address
	CreatedAt int64
	Active    bool
}

// Registry owns the global issue counter and the per-round anchors.
type Registry struct {
	issues  map[uint64]*Issue
	ids     seq.Sequence
	anchors map[uint64]uint64 // anchors maps a round to its first issue id
	counts  map[uint64]uint64 // counts maps a round to its number of issues
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		issues:  make(map[uint64]*Issue),
		anchors: make(map[uint64]uint64),
		counts:  make(map[uint64]uint64),
	}
}

// Restore rebuilds a registry from persisted issues and round anchors.
func Restore(issues []Issue, anchors map[uint64]uint64) *Registry {
	r := NewRegistry()

	var last uint64
	for i := range issues {
		is := issues[i]
		r.issues[is.ID] = &is
		r.counts[is.RoundID]++
		last = max(last, is.ID)
	}

	for roundID, anchor := range anchors {
		r.anchors[roundID] = anchor
	}
	r.ids = seq.Restore(last)

	return r
}

// OpenRound records the anchor of a new round: the id the next issue will get.
func (r *Registry) OpenRound(roundID uint64) uint64 {
	anchor := r.ids.Peek()
	r.anchors[roundID] = anchor
	r.counts[roundID] = 0

	return anchor
}

// Create registers an issue in roundID. The caller checks the registration window.
func (r *Registry) Create(roundID uint64, receiver, creator common.Address, now int64) (Issue, error) {
	if receiver == (common.Address{}) {
		return Issue{}, ErrZeroReceiver
	}

	anchor, ok := r.anchors[roundID]
	if !ok {
		return Issue{}, fmt.Errorf("%w: round %d", ErrNoAnchor, roundID)
	}

	// ids are global, so a round only stays addressable while it is the newest
	if r.ids.Peek()-anchor >= votecodec.MaxIssues {
		return Issue{}, fmt.Errorf("%w: round %d holds %d issues", ErrRoundFull, roundID, r.counts[roundID])
	}

	is := &Issue{
		ID:        r.ids.Next(),
		RoundID:   roundID,
		Receiver:  receiver,
		Creator:   creator,
		CreatedAt: now,
		Active:    true,
	}
	r.issues[is.ID] = is
	r.counts[roundID]++

	return *is, nil
}

// Deactivate marks an issue inactive. The caller checks authorization.
func (r *Registry) Deactivate(id uint64) (Issue, error) {
	is, ok := r.issues[id]
	if !ok {
		return Issue{}, fmt.Errorf("%w: %d", ErrIssueNotFound, id)
	}

	if !is.Active {
		return Issue{}, fmt.Errorf("%w: %d", ErrIssueInactive, id)
	}

	is.Active = false

	return *is, nil
}

// Get returns the issue with the given id.
func (r *Registry) Get(id uint64) (Issue, bool) {
	is, ok := r.issues[id]
	if !ok {
		return Issue{}, false
	}
	return *is, true
}

// Last returns the most recently issued id, 0 if none.
func (r *Registry) Last() uint64 {
	return r.ids.Last()
}

// Anchor returns the first issue id of roundID.
func (r *Registry) Anchor(roundID uint64) (uint64, bool) {
	a, ok := r.anchors[roundID]
	return a, ok
}

// Anchors returns a copy of every recorded round anchor.
func (r *Registry) Anchors() map[uint64]uint64 {
	out := make(map[uint64]uint64, len(r.anchors))
	for k, v := range r.anchors {
		out[k] = v
	}
	return out
}

// Count returns the number of issues registered in roundID.
func (r *Registry) Count(roundID uint64) uint64 {
	return r.counts[roundID]
}

// ForRound returns the issues of roundID ordered by id.
func (r *Registry) ForRound(roundID uint64) []Issue {
	anchor, ok := r.anchors[roundID]
	if !ok {
		return nil
	}

	count := r.counts[roundID]
	out := make([]Issue, 0, count)
	for id := anchor; id < anchor+count; id++ {
		if is, ok := r.issues[id]; ok {
			out = append(out, *is)
		}
	}

	return out
}

// All returns every issue ordered by id.
func (r *Registry) All() []Issue {
	out := make([]Issue, 0, len(r.issues))
	for _, is := range r.issues {
		out = append(out, *is)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// InactiveOffsets returns the round-relative slots of the deactivated issues of roundID.
func (r *Registry) InactiveOffsets(roundID uint64) votecodec.ResponseSet {
	set := votecodec.NewResponseSet()

	anchor, ok := r.anchors[roundID]
	if !ok {
		return set
	}

	for _, is := range r.ForRound(roundID) {
		if !is.Active {
			set.Add(uint(is.ID - anchor))
		}
	}

	return set
}
