// Package withdrawal queues yield withdrawals until a signer quorum approves them.
package withdrawal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/zeebo/blake3"

	"YieldRounds/internal/access"
	"YieldRounds/internal/seq"
)

var (
	ErrZeroAmount       = errors.New("zero withdrawal amount")
	ErrRequestNotFound  = errors.New("withdrawal request not found")
	ErrAlreadyDispersed = errors.New("withdrawal already dispersed")
	ErrNotApproved      = errors.New("withdrawal not approved by quorum")
	ErrLengthMismatch   = errors.New("recipients and values length mismatch")
	ErrInvalidRecipient = errors.New("invalid recipient")
	ErrExceedsRequest   = errors.New("dispersal exceeds requested amount")
)

// digestDomain separates approval digests from any other signed message.
const digestDomain = "yieldrounds-withdrawal-v1"

// Status is the approval state of a request.
type Status uint8

const (
	StatusPending Status = iota
	StatusPartiallyApproved
	StatusApproved
	StatusDispersed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusPartiallyApproved:
		return "partially_approved"
	case StatusApproved:
		return "approved"
	case StatusDispersed:
		return "dispersed"
	default:
		return "unknown"
	}
}

// Request is a proposal to move Amount yield-asset units out of the pool.
type Request struct {
	ID          uint64
	RoundID     uint64
	Amount      *uint256.Int
	Requester   common.Address
	CreatedAt   int64
	Dispersed   bool
	DispersedAt int64
}

// Digest returns the message signers sign to approve r.
func (r Request) Digest() [32]byte {
	h := blake3.New()
	h.Write([]byte(digestDomain))

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], r.ID)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], r.RoundID)
	h.Write(buf[:])

	amount := r.Amount.Bytes32()
	h.Write(amount[:])
	h.Write(r.Requester[:])

	var out [32]byte
	h.Sum(out[:0])

	return out
}

// Queue holds every request. Approvals live in the access control.
type Queue struct {
	requests map[uint64]*Request
	ids      seq.Sequence
	control  *access.Control
}

// NewQueue returns an empty queue gated by control.
func NewQueue(control *access.Control) *Queue {
	return &Queue{requests: make(map[uint64]*Request), control: control}
}

// Restore rebuilds a queue from persisted requests.
func Restore(control *access.Control, requests []Request) *Queue {
	q := NewQueue(control)

	var last uint64
	for i := range requests {
		r := requests[i]
		r.Amount = r.Amount.Clone()
		q.requests[r.ID] = &r
		last = max(last, r.ID)
	}
	q.ids = seq.Restore(last)

	return q
}

// Create queues a new request. The caller checks the requester's role.
func (q *Queue) Create(requester common.Address, roundID uint64, amount *uint256.Int, now int64) (Request, error) {
	if amount == nil || amount.IsZero() {
		return Request{}, ErrZeroAmount
	}

	r := &Request{
		ID:        q.ids.Next(),
		RoundID:   roundID,
		Amount:    amount.Clone(),
		Requester: requester,
		CreatedAt: now,
	}
	q.requests[r.ID] = r

	return r.copy(), nil
}

// Approve records signer's approval of request id and returns the approval count.
func (q *Queue) Approve(id uint64, signer common.Address) (int, error) {
	if _, err := q.open(id); err != nil {
		return 0, err
	}

	return q.control.Approve(id, signer)
}

// ApproveSigned approves request id with signer's BLS signature over its Digest.
func (q *Queue) ApproveSigned(id uint64, signer common.Address, signature []byte) (int, error) {
	r, err := q.open(id)
	if err != nil {
		return 0, err
	}

	digest := r.Digest()

	return q.control.ApproveSigned(id, signer, digest[:], signature)
}

// Validate checks that request id can be dispersed to recipients.
func (q *Queue) Validate(id uint64, recipients []common.Address, values []*uint256.Int) error {
	r, err := q.open(id)
	if err != nil {
		return err
	}

	if !q.control.HasQuorum(id) {
		return fmt.Errorf("%w: request %d has %d of %d approvals", ErrNotApproved, id, q.control.ApprovalCount(id), q.control.Threshold())
	}

	if len(recipients) == 0 || len(recipients) != len(values) {
		return fmt.Errorf("%w: %d recipients, %d values", ErrLengthMismatch, len(recipients), len(values))
	}

	sum := new(uint256.Int)
	for i, to := range recipients {
		if to == (common.Address{}) {
			return fmt.Errorf("%w: recipient %d is the zero address", ErrInvalidRecipient, i)
		}

		if values[i] == nil {
			return fmt.Errorf("%w: recipient %d has no value", ErrInvalidRecipient, i)
		}

		if _, overflow := sum.AddOverflow(sum, values[i]); overflow {
			return fmt.Errorf("%w: values overflow", ErrExceedsRequest)
		}
	}

	if r.Amount.Lt(sum) {
		return fmt.Errorf("%w: %s of %s", ErrExceedsRequest, sum.Dec(), r.Amount.Dec())
	}

	return nil
}

// Disperse validates the dispersal and marks request id dispersed.
func (q *Queue) Disperse(id uint64, recipients []common.Address, values []*uint256.Int, now int64) (Request, error) {
	if err := q.Validate(id, recipients, values); err != nil {
		return Request{}, err
	}

	r := q.requests[id]
	r.Dispersed = true
	r.DispersedAt = now

	return r.copy(), nil
}

// Get returns request id.
func (q *Queue) Get(id uint64) (Request, bool) {
	r, ok := q.requests[id]
	if !ok {
		return Request{}, false
	}
	return r.copy(), true
}

// Status returns the approval state of request id.
func (q *Queue) Status(id uint64) (Status, error) {
	r, ok := q.requests[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrRequestNotFound, id)
	}

	switch {
	case r.Dispersed:
		return StatusDispersed, nil
	case q.control.HasQuorum(id):
		return StatusApproved, nil
	case q.control.ApprovalCount(id) > 0:
		return StatusPartiallyApproved, nil
	default:
		return StatusPending, nil
	}
}

// All returns every request ordered by id.
func (q *Queue) All() []Request {
	out := make([]Request, 0, len(q.requests))
	for _, r := range q.requests {
		out = append(out, r.copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// open returns request id if it exists and was not dispersed.
func (q *Queue) open(id uint64) (*Request, error) {
	r, ok := q.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrRequestNotFound, id)
	}

	if r.Dispersed {
		return nil, fmt.Errorf("%w: %d", ErrAlreadyDispersed, id)
	}

	return r, nil
}

func (r *Request) copy() Request {
	c := *r
	c.Amount = r.Amount.Clone()
	return c
}
