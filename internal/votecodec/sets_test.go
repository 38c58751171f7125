package votecodec

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeResponsesRoundTrip(t *testing.T) {
	bitmap, err := EncodeResponses([]uint64{1, 4, 64}, 1)
	require.NoError(t, err)

	set, err := DecodeResponses(bitmap)
	require.NoError(t, err)

	assert.Equal(t, []uint{0, 3, 63}, set.Offsets())
	assert.True(t, set.Bitmap().Eq(bitmap))
}

func TestDecodeResponsesRejectsHighBits(t *testing.T) {
	bitmap := new(uint256.Int).Lsh(uint256.NewInt(1), 64)

	_, err := DecodeResponses(bitmap)
	require.ErrorIs(t, err, ErrInvalidIssueID)
}

func TestDecodePledgesRejectsInvalidNibble(t *testing.T) {
	// legacy one-bit-per-issue bitmap for five issues: slot 0 reads 0xF
	_, err := DecodePledges(uint256.NewInt(0x1f))
	require.ErrorIs(t, err, ErrWeightOutOfRange)

	_, err = DecodePledges(uint256.NewInt(0xc0))
	require.ErrorIs(t, err, ErrWeightOutOfRange)
}

func TestPledgeSetRoundTrip(t *testing.T) {
	bitmap, err := EncodePledges([]uint64{5, 6, 9}, []uint8{4, 2, 11}, 5)
	require.NoError(t, err)

	set, err := DecodePledges(bitmap)
	require.NoError(t, err)

	assert.Equal(t, uint8(4), set.Weight(0))
	assert.Equal(t, uint8(2), set.Weight(1))
	assert.Equal(t, uint8(11), set.Weight(4))
	assert.Zero(t, set.Weight(2))
	assert.Zero(t, set.Weight(MaxIssues))
	assert.True(t, set.Bitmap().Eq(bitmap))
	assert.Equal(t, []uint{0, 1, 4}, set.Responses().Offsets())
}

func TestResponseSetOverlapAndMerge(t *testing.T) {
	a := NewResponseSet()
	a.Add(1)
	a.Add(2)

	b := NewResponseSet()
	b.Add(3)

	assert.False(t, a.Overlaps(b))

	a.Merge(b)
	assert.Equal(t, uint(3), a.Len())
	assert.True(t, a.Overlaps(b))
	assert.True(t, a.Reaches(3))
	assert.False(t, a.Reaches(4))

	c := a.Clone()
	c.Add(10)
	assert.False(t, a.Has(10))
}

func TestPledgeSetMerge(t *testing.T) {
	var p, q PledgeSet
	p[0] = 3
	q[2] = 7

	p.Merge(q)

	assert.Equal(t, uint8(3), p.Weight(0))
	assert.Equal(t, uint8(7), p.Weight(2))
}

func TestPledgeWeightImpliesResponse(t *testing.T) {
	pledges, err := EncodePledges([]uint64{2, 3}, []uint8{1, 9}, 1)
	require.NoError(t, err)

	responses := ResponsesOf(pledges)
	for id := uint64(1); id < 1+MaxIssues; id++ {
		if DecodeWeight(pledges, id, 1) > 0 {
			off, _ := Offset(id, 1)
			assert.True(t, testBit(responses, off), "issue %d", id)
		}
	}
}
