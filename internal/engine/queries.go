package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"YieldRounds/internal/event"
	"YieldRounds/internal/issue"
	"YieldRounds/internal/ledger"
	"YieldRounds/internal/round"
	"YieldRounds/internal/votecodec"
	"YieldRounds/internal/withdrawal"
)

// Status is a summary of the engine at one point in time.
type Status struct {
	Now            int64
	Owner          common.Address
	Signers        []common.Address
	Threshold      int
	ActiveRound    uint64 // ActiveRound is 0 when no round is active
	Phase          round.Phase
	LastRound      uint64
	LastIssue      uint64
	TotalPrincipal *uint256.Int
	YieldBalance   *uint256.Int
	LastEvent      uint64
	Degraded       bool // Degraded is set once a write to storage failed
}

// RoundView is a round with its derived phase and issue range.
type RoundView struct {
	round.Round
	Phase      round.Phase
	Anchor     uint64
	IssueCount uint64
}

// BallotView is a ballot in the external bitmap layout.
type BallotView struct {
	RoundID uint64
	Anchor  uint64
	Voted   *uint256.Int
	Pledges *uint256.Int
}

// IssueTally is the total yes-weight pledged to one issue.
type IssueTally struct {
	IssueID uint64
	Active  bool
	Weight  uint64
}

// DepositView is one user's vault position.
type DepositView struct {
	Principal *uint256.Int
	Credit    *uint256.Int
}

// WithdrawalView is a request with its approval state.
type WithdrawalView struct {
	withdrawal.Request
	Status    withdrawal.Status
	Approvals []common.Address
	Digest    [32]byte
}

// Status reports the current state.
func (e *Engine) Status(ctx context.Context) (st Status, err error) {
	c, err := e.begin(ctx, "status")
	if err != nil {
		return Status{}, err
	}
	defer func() { e.end(c, nil) }()

	seq, _ := e.chain.Head()

	st = Status{
		Now:            c.now,
		Owner:          e.owner,
		Signers:        e.access.Signers(),
		Threshold:      e.access.Threshold(),
		LastRound:      e.rounds.LastID(),
		LastIssue:      e.issues.Last(),
		TotalPrincipal: e.vault.Total(),
		YieldBalance:   e.vault.YieldBalance(),
		LastEvent:      seq,
		Degraded:       e.storeErr != nil,
	}

	if rd, ok := e.rounds.Active(); ok {
		st.ActiveRound = rd.ID
		st.Phase = rd.PhaseAt(c.now)
	} else if rd, ok := e.rounds.Current(); ok {
		st.Phase = rd.PhaseAt(c.now)
	}

	return st, nil
}

// Round returns round id.
func (e *Engine) Round(ctx context.Context, id uint64) (RoundView, error) {
	c, err := e.begin(ctx, "round")
	if err != nil {
		return RoundView{}, err
	}
	defer func() { e.end(c, nil) }()

	rd, ok := e.rounds.Get(id)
	if !ok {
		return RoundView{}, fmt.Errorf("%w: %d", round.ErrRoundNotFound, id)
	}

	return e.roundView(rd, c.now), nil
}

// Rounds returns every round.
func (e *Engine) Rounds(ctx context.Context) ([]RoundView, error) {
	c, err := e.begin(ctx, "rounds")
	if err != nil {
		return nil, err
	}
	defer func() { e.end(c, nil) }()

	all := e.rounds.All()
	out := make([]RoundView, len(all))
	for i, rd := range all {
		out[i] = e.roundView(rd, c.now)
	}

	return out, nil
}

func (e *Engine) roundView(rd round.Round, now int64) RoundView {
	anchor, _ := e.issues.Anchor(rd.ID)

	return RoundView{
		Round:      rd,
		Phase:      rd.PhaseAt(now),
		Anchor:     anchor,
		IssueCount: e.issues.Count(rd.ID),
	}
}

// Issue returns issue id.
func (e *Engine) Issue(ctx context.Context, id uint64) (issue.Issue, error) {
	c, err := e.begin(ctx, "issue")
	if err != nil {
		return issue.Issue{}, err
	}
	defer func() { e.end(c, nil) }()

	is, ok := e.issues.Get(id)
	if !ok {
		return issue.Issue{}, fmt.Errorf("%w: %d", issue.ErrIssueNotFound, id)
	}

	return is, nil
}

// IssuesForRound returns the issues registered in roundID.
func (e *Engine) IssuesForRound(ctx context.Context, roundID uint64) ([]issue.Issue, error) {
	c, err := e.begin(ctx, "issues_for_round")
	if err != nil {
		return nil, err
	}
	defer func() { e.end(c, nil) }()

	if _, ok := e.rounds.Get(roundID); !ok {
		return nil, fmt.Errorf("%w: %d", round.ErrRoundNotFound, roundID)
	}

	return e.issues.ForRound(roundID), nil
}

// Ballot returns user's ballot in roundID. Users who never voted get empty bitmaps.
func (e *Engine) Ballot(ctx context.Context, user common.Address, roundID uint64) (BallotView, error) {
	c, err := e.begin(ctx, "ballot")
	if err != nil {
		return BallotView{}, err
	}
	defer func() { e.end(c, nil) }()

	anchor, ok := e.issues.Anchor(roundID)
	if !ok {
		return BallotView{}, fmt.Errorf("%w: %d", round.ErrRoundNotFound, roundID)
	}

	b, _ := e.ballot.Ballot(user, roundID)

	return ballotView(roundID, anchor, b), nil
}

// UnvotedIssues returns the active issues of roundID that user has not answered.
func (e *Engine) UnvotedIssues(ctx context.Context, user common.Address, roundID uint64) ([]uint64, error) {
	c, err := e.begin(ctx, "unvoted_issues")
	if err != nil {
		return nil, err
	}
	defer func() { e.end(c, nil) }()

	anchor, ok := e.issues.Anchor(roundID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", round.ErrRoundNotFound, roundID)
	}

	b, _ := e.ballot.Ballot(user, roundID)
	inactive := e.issues.InactiveOffsets(roundID)

	out := []uint64{}
	for id := range votecodec.UnvotedIssues(b.VotedBitmap(), anchor, e.issues.Count(roundID)) {
		if !inactive.Has(uint(id - anchor)) {
			out = append(out, id)
		}
	}

	return out, nil
}

// Tally sums the yes-weights of every voter per issue of roundID.
func (e *Engine) Tally(ctx context.Context, roundID uint64) ([]IssueTally, error) {
	c, err := e.begin(ctx, "tally")
	if err != nil {
		return nil, err
	}
	defer func() { e.end(c, nil) }()

	anchor, ok := e.issues.Anchor(roundID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", round.ErrRoundNotFound, roundID)
	}

	totals := e.ballot.Tally(roundID, e.issues.Count(roundID))

	out := make([]IssueTally, len(totals))
	for off, w := range totals {
		id := anchor + uint64(off)
		is, _ := e.issues.Get(id)
		out[off] = IssueTally{IssueID: id, Active: is.Active, Weight: w}
	}

	return out, nil
}

// Deposit returns user's vault position.
func (e *Engine) Deposit(ctx context.Context, user common.Address) (DepositView, error) {
	c, err := e.begin(ctx, "deposit")
	if err != nil {
		return DepositView{}, err
	}
	defer func() { e.end(c, nil) }()

	return DepositView{Principal: e.vault.Principal(user), Credit: e.vault.Credit(user)}, nil
}

// Withdrawal returns request id.
func (e *Engine) Withdrawal(ctx context.Context, id uint64) (WithdrawalView, error) {
	c, err := e.begin(ctx, "withdrawal")
	if err != nil {
		return WithdrawalView{}, err
	}
	defer func() { e.end(c, nil) }()

	if _, ok := e.queue.Get(id); !ok {
		return WithdrawalView{}, fmt.Errorf("%w: %d", withdrawal.ErrRequestNotFound, id)
	}

	return e.withdrawalView(id), nil
}

// Events returns up to limit journal entries starting at seq from.
// A limit of 0 means no limit.
func (e *Engine) Events(ctx context.Context, from uint64, limit int) ([]event.Event, error) {
	c, err := e.begin(ctx, "events")
	if err != nil {
		return nil, err
	}
	defer func() { e.end(c, nil) }()

	if from == 0 {
		from = 1
	}

	if from > uint64(len(e.events)) {
		return []event.Event{}, nil
	}

	out := e.events[from-1:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return append([]event.Event(nil), out...), nil
}

func (e *Engine) withdrawalView(id uint64) WithdrawalView {
	req, _ := e.queue.Get(id)
	st, _ := e.queue.Status(id)

	return WithdrawalView{
		Request:   req,
		Status:    st,
		Approvals: e.access.Approvals(id),
		Digest:    req.Digest(),
	}
}

func ballotView(roundID, anchor uint64, b ledger.Ballot) BallotView {
	return BallotView{
		RoundID: roundID,
		Anchor:  anchor,
		Voted:   b.VotedBitmap(),
		Pledges: b.PledgeBitmap(),
	}
}
