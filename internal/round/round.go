// Package round owns the round lifecycle: registration, voting, closed.
//
// Phases are derived from the clock and the three timestamps of a round; only
// the Active flag is stored. At most one round is active at a time.
package round

import (
	"errors"
	"fmt"
	"sort"

	"YieldRounds/internal/seq"
)

var (
	ErrHasActiveRound       = errors.New("has active round")
	ErrInvalidRoundTiming   = errors.New("invalid round timing")
	ErrVotingAlreadyStarted = errors.New("voting already started")
	ErrRoundNotFound        = errors.New("round not found")
	ErrRoundInactive        = errors.New("round is not active")
)

// HasActiveRoundError reports the round blocking a new one.
type HasActiveRoundError struct {
	RoundID uint64
}

func (e *HasActiveRoundError) Error() string {
	return fmt.Sprintf("has active round %d", e.RoundID)
}

// Is makes errors.Is(err, ErrHasActiveRound) match.
func (e *HasActiveRoundError) Is(target error) bool {
	return target == ErrHasActiveRound
}

// Phase is the derived state of a round at a point in time.
type Phase uint8

const (
	PhaseCreated Phase = iota
	PhaseRegistration
	PhaseVoting
	PhaseClosed
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseRegistration:
		return "registration"
	case PhaseVoting:
		return "voting"
	case PhaseClosed:
		return "closed"
	case PhaseCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Round is one registration/voting cycle. Timestamps are unix seconds.
type Round struct {
	ID                uint64
	RegistrationStart int64
	VotingStart       int64
	VotingEnd         int64
	Active            bool
	Cancelled         bool
}

// PhaseAt derives the phase of r at now.
func (r Round) PhaseAt(now int64) Phase {
	switch {
	case r.Cancelled:
		return PhaseCancelled
	case now >= r.VotingEnd:
		return PhaseClosed
	case now >= r.VotingStart:
		return PhaseVoting
	case now >= r.RegistrationStart:
		return PhaseRegistration
	default:
		return PhaseCreated
	}
}

// Registry owns all rounds.
type Registry struct {
	rounds map[uint64]*Round
	ids    seq.Sequence
	active uint64 // active is the id of the active round, 0 if none
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{rounds: make(map[uint64]*Round)}
}

// Restore rebuilds a registry from persisted rounds.
func Restore(rounds []Round) *Registry {
	r := NewRegistry()

	var last uint64
	for i := range rounds {
		rd := rounds[i]
		r.rounds[rd.ID] = &rd
		last = max(last, rd.ID)
		if rd.Active {
			r.active = rd.ID
		}
	}
	r.ids = seq.Restore(last)

	return r
}

// Create opens a new round.
// The active round, if any, is first checked for a natural end at now.
func (r *Registry) Create(regStart, votingStart, votingEnd, now int64) (Round, error) {
	if a, ok := r.activeRound(); ok && now < a.VotingEnd {
		return Round{}, &HasActiveRoundError{RoundID: a.ID}
	}

	if regStart > votingStart || votingStart >= votingEnd {
		return Round{}, fmt.Errorf("%w: registration %d, voting %d..%d", ErrInvalidRoundTiming, regStart, votingStart, votingEnd)
	}

	r.Observe(now)

	rd := &Round{
		ID:                r.ids.Next(),
		RegistrationStart: regStart,
		VotingStart:       votingStart,
		VotingEnd:         votingEnd,
		Active:            true,
	}
	r.rounds[rd.ID] = rd
	r.active = rd.ID

	return *rd, nil
}

// Cancel deactivates a round whose voting has not started.
func (r *Registry) Cancel(id uint64, now int64) (Round, error) {
	rd, ok := r.rounds[id]
	if !ok {
		return Round{}, fmt.Errorf("%w: %d", ErrRoundNotFound, id)
	}

	if !rd.Active {
		return Round{}, fmt.Errorf("%w: %d", ErrRoundInactive, id)
	}

	if now >= rd.VotingStart {
		return Round{}, fmt.Errorf("%w: round %d voting opened at %d", ErrVotingAlreadyStarted, id, rd.VotingStart)
	}

	rd.Active = false
	rd.Cancelled = true
	r.active = 0

	return *rd, nil
}

// Observe deactivates the active round once its voting window ended.
// It returns the round that was closed, if any.
func (r *Registry) Observe(now int64) (Round, bool) {
	a, ok := r.activeRound()
	if !ok || now < a.VotingEnd {
		return Round{}, false
	}

	a.Active = false
	r.active = 0

	return *a, true
}

// Current returns the most recently created round.
func (r *Registry) Current() (Round, bool) {
	return r.Get(r.ids.Last())
}

// Active returns the active round.
func (r *Registry) Active() (Round, bool) {
	a, ok := r.activeRound()
	if !ok {
		return Round{}, false
	}
	return *a, true
}

// Get returns the round with the given id.
func (r *Registry) Get(id uint64) (Round, bool) {
	rd, ok := r.rounds[id]
	if !ok {
		return Round{}, false
	}
	return *rd, true
}

// LastID returns the id of the most recent round, 0 if none.
func (r *Registry) LastID() uint64 {
	return r.ids.Last()
}

// All returns every round ordered by id.
func (r *Registry) All() []Round {
	out := make([]Round, 0, len(r.rounds))
	for _, rd := range r.rounds {
		out = append(out, *rd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// IsRegistrationActive reports whether issues may be created in round id at now.
func (r *Registry) IsRegistrationActive(id uint64, now int64) bool {
	rd, ok := r.rounds[id]
	return ok && rd.Active && rd.RegistrationStart <= now && now < rd.VotingStart
}

// IsVotingActive reports whether votes may be cast in round id at now.
func (r *Registry) IsVotingActive(id uint64, now int64) bool {
	rd, ok := r.rounds[id]
	return ok && rd.Active && rd.VotingStart <= now && now < rd.VotingEnd
}

// activeRound returns a pointer to the active round.
func (r *Registry) activeRound() (*Round, bool) {
	if r.active == 0 {
		return nil, false
	}
	rd, ok := r.rounds[r.active]
	return rd, ok
}
