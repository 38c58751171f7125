// Package votecodec packs per-issue vote data into 256-bit integers.
//
// Two layouts share one round-relative offset, off = issueID - anchor:
//
//	responses: bit off is set when the issue was answered (yes or no)
//	pledges:   bits [4*off, 4*off+4) hold the yes weight, 0 meaning no pledge
//
// A round can therefore hold at most MaxIssues issues.
package votecodec

import (
	"errors"
	"fmt"
	"iter"

	"github.com/holiman/uint256"
)

const (
	// BitmapWidth is the width of an encoded bitmap in bits.
	BitmapWidth = 256

	// WeightBits is the width of one pledge field.
	WeightBits = 4

	// MaxIssues is the number of issue slots a round can address.
	MaxIssues = BitmapWidth / WeightBits

	// MinWeight is the smallest valid yes pledge.
	MinWeight = 1

	// MaxWeight is the largest valid yes pledge.
	MaxWeight = 11

	weightMask = 1<<WeightBits - 1
)

var (
	ErrInvalidIssueID   = errors.New("invalid issue id")
	ErrWeightOutOfRange = errors.New("weight out of range")
	ErrLengthMismatch   = errors.New("length mismatch")
)

// Offset converts a global issue id into its slot relative to anchor.
func Offset(issueID, anchor uint64) (uint, error) {
	if issueID < anchor {
		return 0, fmt.Errorf("%w: %d is below anchor %d", ErrInvalidIssueID, issueID, anchor)
	}

	off := issueID - anchor
	if off >= MaxIssues {
		return 0, fmt.Errorf("%w: %d is %d slots past anchor %d", ErrInvalidIssueID, issueID, off, anchor)
	}

	return uint(off), nil
}

// EncodeResponses sets the response bit of every issue id.
func EncodeResponses(issueIDs []uint64, anchor uint64) (*uint256.Int, error) {
	bitmap := new(uint256.Int)

	for _, id := range issueIDs {
		off, err := Offset(id, anchor)
		if err != nil {
			return nil, err
		}

		setBit(bitmap, off)
	}

	return bitmap, nil
}

// EncodePledges packs one weight per issue id into its 4-bit slot.
// Fields are OR-combined, so callers must not repeat an id within one call.
func EncodePledges(issueIDs []uint64, weights []uint8, anchor uint64) (*uint256.Int, error) {
	if len(issueIDs) != len(weights) {
		return nil, fmt.Errorf("%w: %d issue ids, %d weights", ErrLengthMismatch, len(issueIDs), len(weights))
	}

	bitmap := new(uint256.Int)
	field := new(uint256.Int)

	for i, id := range issueIDs {
		w := weights[i]
		if w < MinWeight || w > MaxWeight {
			return nil, fmt.Errorf("%w: issue %d has weight %d", ErrWeightOutOfRange, id, w)
		}

		off, err := Offset(id, anchor)
		if err != nil {
			return nil, err
		}

		field.SetUint64(uint64(w))
		field.Lsh(field, off*WeightBits)
		bitmap.Or(bitmap, field)
	}

	return bitmap, nil
}

// DecodeWeight extracts the pledge of one issue. 0 means no yes-pledge.
func DecodeWeight(bitmap *uint256.Int, issueID, anchor uint64) uint8 {
	if bitmap == nil {
		return 0
	}

	off, err := Offset(issueID, anchor)
	if err != nil {
		return 0
	}

	return nibble(bitmap, off)
}

// ResponsesOf returns the response bits implied by the non-zero pledge fields.
func ResponsesOf(pledges *uint256.Int) *uint256.Int {
	responses := new(uint256.Int)
	if pledges == nil {
		return responses
	}

	for slot := uint(0); slot < MaxIssues; slot++ {
		if nibble(pledges, slot) != 0 {
			setBit(responses, slot)
		}
	}

	return responses
}

// UnvotedIssues yields every issue id in [anchor, anchor+count) whose response bit is unset.
// The sequence reads only its arguments and can be ranged over any number of times.
func UnvotedIssues(voted *uint256.Int, anchor, count uint64) iter.Seq[uint64] {
	snapshot := new(uint256.Int)
	if voted != nil {
		snapshot.Set(voted)
	}

	limit := min(count, MaxIssues)

	return func(yield func(uint64) bool) {
		for off := uint64(0); off < limit; off++ {
			if testBit(snapshot, uint(off)) {
				continue
			}

			if !yield(anchor + off) {
				return
			}
		}
	}
}

// nibble reads the 4-bit field at slot. Fields never straddle 64-bit limbs.
func nibble(z *uint256.Int, slot uint) uint8 {
	bit := slot * WeightBits
	return uint8((z[bit/64] >> (bit % 64)) & weightMask)
}

// setBit sets bit i of z.
func setBit(z *uint256.Int, i uint) {
	z[i/64] |= 1 << (i % 64)
}

// testBit reports whether bit i of z is set.
func testBit(z *uint256.Int, i uint) bool {
	return z[i/64]&(1<<(i%64)) != 0
}
