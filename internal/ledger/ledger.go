// Package ledger records per (user, round) ballots and aggregates yes-weights.
//
// A ballot is the pair of containers the external bitmaps decode into: the
// issues a user answered and the weight of every yes answer.
package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"YieldRounds/internal/votecodec"
)

var (
	ErrEmptyBallot   = errors.New("empty ballot")
	ErrAlreadyVoted  = errors.New("issue already answered")
	ErrIssueInactive = errors.New("vote on inactive issue")
)

// Window is the round context a ballot is checked against.
type Window struct {
	RoundID  uint64
	Anchor   uint64
	Count    uint64                // Count is the number of issues in the round
	Inactive votecodec.ResponseSet // Inactive holds the slots of deactivated issues
}

// Ballot is one user's answers in one round.
type Ballot struct {
	Responses votecodec.ResponseSet
	Pledges   votecodec.PledgeSet
}

// VotedBitmap encodes the answered issues with the external layout.
func (b Ballot) VotedBitmap() *uint256.Int {
	return b.Responses.Bitmap()
}

// PledgeBitmap encodes the yes-weights with the external layout.
func (b Ballot) PledgeBitmap() *uint256.Int {
	return b.Pledges.Bitmap()
}

// Record is a persisted ballot.
type Record struct {
	User    common.Address
	RoundID uint64
	Voted   *uint256.Int
	Pledges *uint256.Int
}

type key struct {
	user    common.Address
	roundID uint64
}

// Ledger holds every ballot.
type Ledger struct {
	ballots map[key]*Ballot
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{ballots: make(map[key]*Ballot)}
}

// Restore rebuilds a ledger from persisted records.
func Restore(records []Record) (*Ledger, error) {
	l := New()

	for _, rec := range records {
		responses, err := votecodec.DecodeResponses(rec.Voted)
		if err != nil {
			return nil, fmt.Errorf("ballot of %s in round %d:\n%w", rec.User.Hex(), rec.RoundID, err)
		}

		pledges, err := votecodec.DecodePledges(rec.Pledges)
		if err != nil {
			return nil, fmt.Errorf("ballot of %s in round %d:\n%w", rec.User.Hex(), rec.RoundID, err)
		}

		l.ballots[key{rec.User, rec.RoundID}] = &Ballot{Responses: responses, Pledges: pledges}
	}

	return l, nil
}

// VoteYes records weighted yes answers. Every non-zero field of pledgeBitmap is one answer.
func (l *Ledger) VoteYes(user common.Address, w Window, pledgeBitmap *uint256.Int) (Ballot, error) {
	pledges, err := votecodec.DecodePledges(pledgeBitmap)
	if err != nil {
		return Ballot{}, err
	}

	return l.record(user, w, pledges.Responses(), pledges)
}

// VoteNo records no answers. No answers carry no weight.
func (l *Ledger) VoteNo(user common.Address, w Window, responseBitmap *uint256.Int) (Ballot, error) {
	responses, err := votecodec.DecodeResponses(responseBitmap)
	if err != nil {
		return Ballot{}, err
	}

	return l.record(user, w, responses, votecodec.PledgeSet{})
}

// record validates the answers against the window and the existing ballot, then merges them.
func (l *Ledger) record(user common.Address, w Window, responses votecodec.ResponseSet, pledges votecodec.PledgeSet) (Ballot, error) {
	if responses.Empty() {
		return Ballot{}, ErrEmptyBallot
	}

	if responses.Reaches(uint(w.Count)) {
		return Ballot{}, fmt.Errorf("%w: round %d has %d issues", votecodec.ErrInvalidIssueID, w.RoundID, w.Count)
	}

	if responses.Overlaps(w.Inactive) {
		return Ballot{}, fmt.Errorf("%w: round %d", ErrIssueInactive, w.RoundID)
	}

	k := key{user, w.RoundID}
	b, ok := l.ballots[k]
	if ok && responses.Overlaps(b.Responses) {
		return Ballot{}, fmt.Errorf("%w: %s in round %d", ErrAlreadyVoted, user.Hex(), w.RoundID)
	}

	if !ok {
		b = &Ballot{Responses: votecodec.NewResponseSet()}
		l.ballots[k] = b
	}

	b.Responses.Merge(responses)
	b.Pledges.Merge(pledges)

	return b.clone(), nil
}

// Ballot returns the ballot of user in roundID.
func (l *Ledger) Ballot(user common.Address, roundID uint64) (Ballot, bool) {
	b, ok := l.ballots[key{user, roundID}]
	if !ok {
		return Ballot{Responses: votecodec.NewResponseSet()}, false
	}
	return b.clone(), true
}

// Voters returns every user with a ballot in roundID, ordered by address.
func (l *Ledger) Voters(roundID uint64) []common.Address {
	var out []common.Address
	for k := range l.ballots {
		if k.roundID == roundID {
			out = append(out, k.user)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })

	return out
}

// Tally sums the yes-weights of roundID per issue slot.
// Entry i is the total pledged to issue anchor+i.
func (l *Ledger) Tally(roundID, count uint64) []uint64 {
	totals := make([]uint64, min(count, votecodec.MaxIssues))

	for k, b := range l.ballots {
		if k.roundID != roundID {
			continue
		}

		for off := range totals {
			totals[off] += uint64(b.Pledges.Weight(uint(off)))
		}
	}

	return totals
}

// Records exports every ballot for persistence.
func (l *Ledger) Records() []Record {
	out := make([]Record, 0, len(l.ballots))
	for k, b := range l.ballots {
		out = append(out, Record{User: k.user, RoundID: k.roundID, Voted: b.VotedBitmap(), Pledges: b.PledgeBitmap()})
	}

	return out
}

// clone returns a ballot that shares no state with b.
func (b *Ballot) clone() Ballot {
	return Ballot{Responses: b.Responses.Clone(), Pledges: b.Pledges}
}
