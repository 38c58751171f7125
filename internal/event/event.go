// Package event defines the journal of accepted state transitions.
//
// Events are hash-chained: each Hash covers the previous Hash and the
// canonical encoding of the event, so a journal can be verified end to end.
package event

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/zeebo/blake3"
)

var ErrBrokenChain = errors.New("event chain broken")

// Kind identifies a transition.
type Kind uint8

const (
	KindRoundCreated Kind = iota + 1
	KindRoundCancelled
	KindIssueCreated
	KindIssueDeactivated
	KindYesVoted
	KindNoVoted
	KindStaked
	KindUnstaked
	KindYieldConverted
	KindWithdrawalRequested
	KindWithdrawalApproved
	KindDonationDispersed
	KindPayoutClaimed
	KindOwnershipTransferred
)

var kindNames = map[Kind]string{
	KindRoundCreated:         "round_created",
	KindRoundCancelled:       "round_cancelled",
	KindIssueCreated:         "issue_created",
	KindIssueDeactivated:     "issue_deactivated",
	KindYesVoted:             "yes_voted",
	KindNoVoted:              "no_voted",
	KindStaked:               "staked",
	KindUnstaked:             "unstaked",
	KindYieldConverted:       "yield_converted",
	KindWithdrawalRequested:  "withdrawal_requested",
	KindWithdrawalApproved:   "withdrawal_approved",
	KindDonationDispersed:    "donation_dispersed",
	KindPayoutClaimed:        "payout_claimed",
	KindOwnershipTransferred: "ownership_transferred",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Event is one journal entry. Fields a kind does not use stay zero.
type Event struct {
	Seq       uint64
	Kind      Kind
	Time      int64
	Actor     common.Address // Actor is the caller of the operation
	Subject   common.Address // Subject is the user, receiver or new owner the event concerns
	RoundID   uint64
	IssueID   uint64
	RequestID uint64
	Amount    *uint256.Int
	AmountOut *uint256.Int
	Bitmap    *uint256.Int
	PrevHash  [32]byte
	Hash      [32]byte
}

// Chain assigns sequence numbers and links hashes.
type Chain struct {
	seq  uint64
	head [32]byte
}

// NewChain returns a chain continuing after the event with sequence seq and hash head.
func NewChain(seq uint64, head [32]byte) *Chain {
	return &Chain{seq: seq, head: head}
}

// Seal numbers e and links it to the chain head.
func (c *Chain) Seal(e Event) Event {
	e.Seq = c.seq + 1
	e.PrevHash = c.head
	e.Hash = e.digest()

	c.seq = e.Seq
	c.head = e.Hash

	return e
}

// Head returns the sequence number and hash of the last sealed event.
func (c *Chain) Head() (uint64, [32]byte) {
	return c.seq, c.head
}

// Verify checks that events form an unbroken chain starting from genesis.
func Verify(events []Event) error {
	var prev [32]byte

	for i, e := range events {
		if e.Seq != uint64(i)+1 {
			return fmt.Errorf("%w: event %d has seq %d", ErrBrokenChain, i, e.Seq)
		}

		if e.PrevHash != prev {
			return fmt.Errorf("%w: event %d does not link to its predecessor", ErrBrokenChain, e.Seq)
		}

		if e.digest() != e.Hash {
			return fmt.Errorf("%w: event %d hash mismatch", ErrBrokenChain, e.Seq)
		}

		prev = e.Hash
	}

	return nil
}

// digest hashes the previous hash and every field except Hash.
func (e Event) digest() [32]byte {
	h := blake3.New()
	h.Write(e.PrevHash[:])

	var buf [8]byte
	for _, v := range []uint64{e.Seq, uint64(e.Kind), uint64(e.Time), e.RoundID, e.IssueID, e.RequestID} {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}

	h.Write(e.Actor[:])
	h.Write(e.Subject[:])

	for _, v := range []*uint256.Int{e.Amount, e.AmountOut, e.Bitmap} {
		var word [32]byte
		if v != nil {
			word = v.Bytes32()
		}
		h.Write(word[:])
	}

	var out [32]byte
	h.Sum(out[:0])

	return out
}
