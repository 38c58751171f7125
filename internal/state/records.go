package state

import (
	"github.com/ethereum/go-ethereum/common"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/holiman/uint256"

	"YieldRounds/internal/event"
	"YieldRounds/internal/issue"
	"YieldRounds/internal/ledger"
	"YieldRounds/internal/round"
	"YieldRounds/internal/types"
	"YieldRounds/internal/withdrawal"
)

// WithdrawalRecord is a request together with its signer approval bitmap.
type WithdrawalRecord struct {
	Request   withdrawal.Request
	Approvals []byte
}

// DepositRecord is one user's vault position.
type DepositRecord struct {
	User      common.Address
	Principal *uint256.Int
	Credit    *uint256.Int
}

// encodeRound serializes a round and its issue anchor.
func encodeRound(r round.Round, anchor uint64) []byte {
	builder := flatbuffers.NewBuilder(64)

	types.RoundStart(builder)
	types.RoundAddId(builder, r.ID)
	types.RoundAddRegistrationStart(builder, r.RegistrationStart)
	types.RoundAddVotingStart(builder, r.VotingStart)
	types.RoundAddVotingEnd(builder, r.VotingEnd)
	types.RoundAddActive(builder, r.Active)
	types.RoundAddCancelled(builder, r.Cancelled)
	types.RoundAddIssueAnchor(builder, anchor)
	builder.Finish(types.RoundEnd(builder))

	return builder.FinishedBytes()
}

// decodeRound parses a round record.
func decodeRound(data []byte) (round.Round, uint64) {
	rec := types.GetRootAsRound(data, 0)

	r := round.Round{
		ID:                rec.Id(),
		RegistrationStart: rec.RegistrationStart(),
		VotingStart:       rec.VotingStart(),
		VotingEnd:         rec.VotingEnd(),
		Active:            rec.Active(),
		Cancelled:         rec.Cancelled(),
	}

	return r, rec.IssueAnchor()
}

// encodeIssue serializes an issue.
func encodeIssue(is issue.Issue) []byte {
	builder := flatbuffers.NewBuilder(128)

	receiver := builder.CreateByteVector(is.Receiver[:])
	creator := builder.CreateByteVector(is.Creator[:])

	types.IssueStart(builder)
	types.IssueAddId(builder, is.ID)
	types.IssueAddRoundId(builder, is.RoundID)
	types.IssueAddReceiver(builder, receiver)
	types.IssueAddCreator(builder, creator)
	types.IssueAddCreatedAt(builder, is.CreatedAt)
	types.IssueAddActive(builder, is.Active)
	builder.Finish(types.IssueEnd(builder))

	return builder.FinishedBytes()
}

// decodeIssue parses an issue record.
func decodeIssue(data []byte) issue.Issue {
	rec := types.GetRootAsIssue(data, 0)

	return issue.Issue{
		ID:        rec.Id(),
		RoundID:   rec.RoundId(),
		Receiver:  common.BytesToAddress(rec.ReceiverBytes()),
		Creator:   common.BytesToAddress(rec.CreatorBytes()),
		CreatedAt: rec.CreatedAt(),
		Active:    rec.Active(),
	}
}

// encodeBallot serializes a ballot with the external bitmap layouts.
func encodeBallot(b ledger.Record) []byte {
	builder := flatbuffers.NewBuilder(128)

	user := builder.CreateByteVector(b.User[:])
	voted := builder.CreateByteVector(uintBytes(b.Voted))
	pledges := builder.CreateByteVector(uintBytes(b.Pledges))

	types.BallotStart(builder)
	types.BallotAddUser(builder, user)
	types.BallotAddRoundId(builder, b.RoundID)
	types.BallotAddVoted(builder, voted)
	types.BallotAddPledges(builder, pledges)
	builder.Finish(types.BallotEnd(builder))

	return builder.FinishedBytes()
}

// decodeBallot parses a ballot record.
func decodeBallot(data []byte) ledger.Record {
	rec := types.GetRootAsBallot(data, 0)

	return ledger.Record{
		User:    common.BytesToAddress(rec.UserBytes()),
		RoundID: rec.RoundId(),
		Voted:   new(uint256.Int).SetBytes(rec.VotedBytes()),
		Pledges: new(uint256.Int).SetBytes(rec.PledgesBytes()),
	}
}

// encodeWithdrawal serializes a request and its approvals.
func encodeWithdrawal(w WithdrawalRecord) []byte {
	builder := flatbuffers.NewBuilder(128)

	amount := builder.CreateByteVector(uintBytes(w.Request.Amount))
	requester := builder.CreateByteVector(w.Request.Requester[:])
	approvals := builder.CreateByteVector(w.Approvals)

	types.WithdrawalStart(builder)
	types.WithdrawalAddId(builder, w.Request.ID)
	types.WithdrawalAddRoundId(builder, w.Request.RoundID)
	types.WithdrawalAddAmount(builder, amount)
	types.WithdrawalAddRequester(builder, requester)
	types.WithdrawalAddCreatedAt(builder, w.Request.CreatedAt)
	types.WithdrawalAddDispersed(builder, w.Request.Dispersed)
	types.WithdrawalAddDispersedAt(builder, w.Request.DispersedAt)
	types.WithdrawalAddApprovals(builder, approvals)
	builder.Finish(types.WithdrawalEnd(builder))

	return builder.FinishedBytes()
}

// decodeWithdrawal parses a withdrawal record.
func decodeWithdrawal(data []byte) WithdrawalRecord {
	rec := types.GetRootAsWithdrawal(data, 0)

	return WithdrawalRecord{
		Request: withdrawal.Request{
			ID:          rec.Id(),
			RoundID:     rec.RoundId(),
			Amount:      new(uint256.Int).SetBytes(rec.AmountBytes()),
			Requester:   common.BytesToAddress(rec.RequesterBytes()),
			CreatedAt:   rec.CreatedAt(),
			Dispersed:   rec.Dispersed(),
			DispersedAt: rec.DispersedAt(),
		},
		Approvals: append([]byte(nil), rec.ApprovalsBytes()...),
	}
}

// encodeDeposit serializes a vault position.
func encodeDeposit(d DepositRecord) []byte {
	builder := flatbuffers.NewBuilder(96)

	user := builder.CreateByteVector(d.User[:])
	principal := builder.CreateByteVector(uintBytes(d.Principal))
	credit := builder.CreateByteVector(uintBytes(d.Credit))

	types.DepositStart(builder)
	types.DepositAddUser(builder, user)
	types.DepositAddPrincipal(builder, principal)
	types.DepositAddCredit(builder, credit)
	builder.Finish(types.DepositEnd(builder))

	return builder.FinishedBytes()
}

// decodeDeposit parses a deposit record.
func decodeDeposit(data []byte) DepositRecord {
	rec := types.GetRootAsDeposit(data, 0)

	return DepositRecord{
		User:      common.BytesToAddress(rec.UserBytes()),
		Principal: new(uint256.Int).SetBytes(rec.PrincipalBytes()),
		Credit:    new(uint256.Int).SetBytes(rec.CreditBytes()),
	}
}

// encodeEvent serializes a journal entry.
func encodeEvent(e event.Event) []byte {
	builder := flatbuffers.NewBuilder(256)

	actor := builder.CreateByteVector(e.Actor[:])
	subject := builder.CreateByteVector(e.Subject[:])
	amount := builder.CreateByteVector(uintBytes(e.Amount))
	amountOut := builder.CreateByteVector(uintBytes(e.AmountOut))
	bitmap := builder.CreateByteVector(uintBytes(e.Bitmap))
	prevHash := builder.CreateByteVector(e.PrevHash[:])
	hash := builder.CreateByteVector(e.Hash[:])

	types.EventStart(builder)
	types.EventAddSeq(builder, e.Seq)
	types.EventAddKind(builder, byte(e.Kind))
	types.EventAddTimestamp(builder, e.Time)
	types.EventAddActor(builder, actor)
	types.EventAddSubject(builder, subject)
	types.EventAddRoundId(builder, e.RoundID)
	types.EventAddIssueId(builder, e.IssueID)
	types.EventAddRequestId(builder, e.RequestID)
	types.EventAddAmount(builder, amount)
	types.EventAddAmountOut(builder, amountOut)
	types.EventAddBitmap(builder, bitmap)
	types.EventAddPrevHash(builder, prevHash)
	types.EventAddHash(builder, hash)
	builder.Finish(types.EventEnd(builder))

	return builder.FinishedBytes()
}

// decodeEvent parses a journal entry. Absent amounts decode as nil.
func decodeEvent(data []byte) event.Event {
	rec := types.GetRootAsEvent(data, 0)

	e := event.Event{
		Seq:       rec.Seq(),
		Kind:      event.Kind(rec.Kind()),
		Time:      rec.Timestamp(),
		Actor:     common.BytesToAddress(rec.ActorBytes()),
		Subject:   common.BytesToAddress(rec.SubjectBytes()),
		RoundID:   rec.RoundId(),
		IssueID:   rec.IssueId(),
		RequestID: rec.RequestId(),
		Amount:    optionalUint(rec.AmountBytes()),
		AmountOut: optionalUint(rec.AmountOutBytes()),
		Bitmap:    optionalUint(rec.BitmapBytes()),
	}
	copy(e.PrevHash[:], rec.PrevHashBytes())
	copy(e.Hash[:], rec.HashBytes())

	return e
}

// uintBytes encodes x as a 32-byte big-endian word; nil encodes as empty.
func uintBytes(x *uint256.Int) []byte {
	if x == nil {
		return nil
	}
	b := x.Bytes32()
	return b[:]
}

func optionalUint(b []byte) *uint256.Int {
	if len(b) == 0 {
		return nil
	}
	return new(uint256.Int).SetBytes(b)
}
