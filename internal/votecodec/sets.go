package votecodec

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/holiman/uint256"
)

// ResponseSet is the typed form of a response bitmap: one bit per issue slot.
type ResponseSet struct {
	bits *bitset.BitSet
}

// NewResponseSet returns an empty set sized for MaxIssues slots.
func NewResponseSet() ResponseSet {
	return ResponseSet{bits: bitset.New(MaxIssues)}
}

// DecodeResponses converts an external response bitmap.
// Bits above MaxIssues cannot address an issue and are rejected.
func DecodeResponses(bitmap *uint256.Int) (ResponseSet, error) {
	if bitmap == nil {
		return NewResponseSet(), nil
	}

	if bitmap[1]|bitmap[2]|bitmap[3] != 0 {
		return ResponseSet{}, fmt.Errorf("%w: response bit beyond slot %d", ErrInvalidIssueID, MaxIssues-1)
	}

	return ResponseSet{bits: bitset.From([]uint64{bitmap[0]})}, nil
}

// Has reports whether slot off is answered.
func (r ResponseSet) Has(off uint) bool {
	return r.bits != nil && r.bits.Test(off)
}

// Add marks slot off as answered.
func (r ResponseSet) Add(off uint) {
	r.bits.Set(off)
}

// Len returns the number of answered slots.
func (r ResponseSet) Len() uint {
	if r.bits == nil {
		return 0
	}
	return r.bits.Count()
}

// Empty reports whether no slot is set.
func (r ResponseSet) Empty() bool {
	return r.Len() == 0
}

// Overlaps reports whether both sets answer a common slot.
func (r ResponseSet) Overlaps(o ResponseSet) bool {
	if r.bits == nil || o.bits == nil {
		return false
	}
	return r.bits.IntersectionCardinality(o.bits) > 0
}

// Merge adds every slot of o to r.
func (r ResponseSet) Merge(o ResponseSet) {
	if o.bits == nil {
		return
	}
	r.bits.InPlaceUnion(o.bits)
}

// Reaches reports whether any slot at or past limit is set.
func (r ResponseSet) Reaches(limit uint) bool {
	if r.bits == nil {
		return false
	}
	_, found := r.bits.NextSet(limit)
	return found
}

// Offsets lists the set slots in ascending order.
func (r ResponseSet) Offsets() []uint {
	var out []uint
	if r.bits == nil {
		return out
	}

	for i, ok := r.bits.NextSet(0); ok; i, ok = r.bits.NextSet(i + 1) {
		out = append(out, i)
	}

	return out
}

// Clone returns an independent copy.
func (r ResponseSet) Clone() ResponseSet {
	if r.bits == nil {
		return NewResponseSet()
	}
	return ResponseSet{bits: r.bits.Clone()}
}

// Bitmap encodes the set with the external response layout.
func (r ResponseSet) Bitmap() *uint256.Int {
	bitmap := new(uint256.Int)

	for _, off := range r.Offsets() {
		setBit(bitmap, off)
	}

	return bitmap
}

// PledgeSet is the typed form of a pledge bitmap: one weight per issue slot.
type PledgeSet [MaxIssues]uint8

// DecodePledges converts an external pledge bitmap.
// Fields holding 12..15 are not valid weights.
func DecodePledges(bitmap *uint256.Int) (PledgeSet, error) {
	var p PledgeSet
	if bitmap == nil {
		return p, nil
	}

	for slot := uint(0); slot < MaxIssues; slot++ {
		w := nibble(bitmap, slot)
		if w > MaxWeight {
			return PledgeSet{}, fmt.Errorf("%w: slot %d holds %d", ErrWeightOutOfRange, slot, w)
		}
		p[slot] = w
	}

	return p, nil
}

// Weight returns the pledge at slot off.
func (p *PledgeSet) Weight(off uint) uint8 {
	if off >= MaxIssues {
		return 0
	}
	return p[off]
}

// Responses returns the slots carrying a non-zero pledge.
func (p *PledgeSet) Responses() ResponseSet {
	r := NewResponseSet()

	for off, w := range p {
		if w != 0 {
			r.Add(uint(off))
		}
	}

	return r
}

// Merge copies every non-zero pledge of o into p.
func (p *PledgeSet) Merge(o PledgeSet) {
	for off, w := range o {
		if w != 0 {
			p[off] = w
		}
	}
}

// Bitmap encodes the set with the external pledge layout.
func (p *PledgeSet) Bitmap() *uint256.Int {
	bitmap := new(uint256.Int)

	for off, w := range p {
		if w == 0 {
			continue
		}

		bit := uint(off) * WeightBits
		bitmap[bit/64] |= uint64(w) << (bit % 64)
	}

	return bitmap
}
