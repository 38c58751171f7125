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
)

// CreateRound opens a new round. Owner only.
func (e *Engine) CreateRound(ctx context.Context, caller common.Address, regStart, votingStart, votingEnd int64) (rd round.Round, err error) {
	c, err := e.beginWrite(ctx, "create_round")
	if err != nil {
		return round.Round{}, err
	}
	defer func() { e.end(c, err) }()

	if err := e.requireOwner(caller); err != nil {
		return round.Round{}, err
	}

	rd, err = e.rounds.Create(regStart, votingStart, votingEnd, c.now)
	if err != nil {
		return round.Round{}, err
	}

	anchor := e.issues.OpenRound(rd.ID)
	c.batch.PutRound(rd, anchor)

	e.emit(c, event.Event{Kind: event.KindRoundCreated, Actor: caller, RoundID: rd.ID})
	c.log().Info("round created", "round", rd.ID, "anchor", anchor, "votingStart", votingStart, "votingEnd", votingEnd)

	return rd, nil
}

// CancelRound deactivates a round before its voting starts. Owner only.
func (e *Engine) CancelRound(ctx context.Context, caller common.Address, roundID uint64) (rd round.Round, err error) {
	c, err := e.beginWrite(ctx, "cancel_round")
	if err != nil {
		return round.Round{}, err
	}
	defer func() { e.end(c, err) }()

	if err := e.requireOwner(caller); err != nil {
		return round.Round{}, err
	}

	rd, err = e.rounds.Cancel(roundID, c.now)
	if err != nil {
		return round.Round{}, err
	}

	anchor, _ := e.issues.Anchor(rd.ID)
	c.batch.PutRound(rd, anchor)

	e.emit(c, event.Event{Kind: event.KindRoundCancelled, Actor: caller, RoundID: rd.ID})

	return rd, nil
}

// CreateIssue registers an issue paying receiver in the active round.
func (e *Engine) CreateIssue(ctx context.Context, caller, receiver common.Address) (is issue.Issue, err error) {
	c, err := e.beginWrite(ctx, "create_issue")
	if err != nil {
		return issue.Issue{}, err
	}
	defer func() { e.end(c, err) }()

	rd, ok := e.rounds.Active()
	if !ok {
		return issue.Issue{}, ErrNoActiveRound
	}

	if !e.rounds.IsRegistrationActive(rd.ID, c.now) {
		return issue.Issue{}, fmt.Errorf("%w: round %d registers from %d until %d", ErrRegistrationClosed, rd.ID, rd.RegistrationStart, rd.VotingStart)
	}

	is, err = e.issues.Create(rd.ID, receiver, caller, c.now)
	if err != nil {
		return issue.Issue{}, err
	}

	c.batch.PutIssue(is)

	e.emit(c, event.Event{Kind: event.KindIssueCreated, Actor: caller, Subject: receiver, RoundID: rd.ID, IssueID: is.ID})
	c.log().Info("issue created", "issue", is.ID, "round", rd.ID, "receiver", receiver.Hex())

	return is, nil
}

// DeactivateIssue withdraws an issue from voting. Owner or signer only.
func (e *Engine) DeactivateIssue(ctx context.Context, caller common.Address, issueID uint64) (is issue.Issue, err error) {
	c, err := e.beginWrite(ctx, "deactivate_issue")
	if err != nil {
		return issue.Issue{}, err
	}
	defer func() { e.end(c, err) }()

	if caller != e.owner && !e.access.IsSigner(caller) {
		return issue.Issue{}, fmt.Errorf("%w: %s", ErrUnauthorized, caller.Hex())
	}

	is, err = e.issues.Deactivate(issueID)
	if err != nil {
		return issue.Issue{}, err
	}

	c.batch.PutIssue(is)

	e.emit(c, event.Event{Kind: event.KindIssueDeactivated, Actor: caller, RoundID: is.RoundID, IssueID: is.ID})

	return is, nil
}

// VoteYes records weighted yes answers of caller in the active round.
// Each 4-bit field of pledgeBitmap holds the weight of one issue.
func (e *Engine) VoteYes(ctx context.Context, caller common.Address, pledgeBitmap *uint256.Int) (BallotView, error) {
	return e.vote(ctx, caller, pledgeBitmap, true)
}

// VoteNo records no answers of caller in the active round.
// Each bit of responseBitmap marks one issue.
func (e *Engine) VoteNo(ctx context.Context, caller common.Address, responseBitmap *uint256.Int) (BallotView, error) {
	return e.vote(ctx, caller, responseBitmap, false)
}

func (e *Engine) vote(ctx context.Context, caller common.Address, bitmap *uint256.Int, yes bool) (view BallotView, err error) {
	op, kind := "vote_no", event.KindNoVoted
	if yes {
		op, kind = "vote_yes", event.KindYesVoted
	}

	c, err := e.beginWrite(ctx, op)
	if err != nil {
		return BallotView{}, err
	}
	defer func() { e.end(c, err) }()

	rd, ok := e.rounds.Active()
	if !ok {
		return BallotView{}, ErrNoActiveRound
	}

	if !e.rounds.IsVotingActive(rd.ID, c.now) {
		return BallotView{}, fmt.Errorf("%w: round %d votes from %d until %d", ErrVotingClosed, rd.ID, rd.VotingStart, rd.VotingEnd)
	}

	if e.vault.Principal(caller).IsZero() {
		return BallotView{}, fmt.Errorf("%w: %s", ErrNotStaked, caller.Hex())
	}

	w := e.window(rd.ID)

	var b ledger.Ballot
	if yes {
		b, err = e.ballot.VoteYes(caller, w, bitmap)
	} else {
		b, err = e.ballot.VoteNo(caller, w, bitmap)
	}
	if err != nil {
		return BallotView{}, err
	}

	c.batch.PutBallot(ledger.Record{User: caller, RoundID: rd.ID, Voted: b.VotedBitmap(), Pledges: b.PledgeBitmap()})

	e.emit(c, event.Event{Kind: kind, Actor: caller, Subject: caller, RoundID: rd.ID, Bitmap: bitmap.Clone()})

	return ballotView(rd.ID, w.Anchor, b), nil
}

// window builds the ballot context of roundID.
func (e *Engine) window(roundID uint64) ledger.Window {
	anchor, _ := e.issues.Anchor(roundID)

	return ledger.Window{
		RoundID:  roundID,
		Anchor:   anchor,
		Count:    e.issues.Count(roundID),
		Inactive: e.issues.InactiveOffsets(roundID),
	}
}
