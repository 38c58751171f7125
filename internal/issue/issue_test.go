package issue

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"YieldRounds/internal/votecodec"
)

var (
	receiver = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	creator  = common.HexToAddress("0x00000000000000000000000000000000000000e2")
)

func TestAnchorsFollowCounter(t *testing.T) {
	r := NewRegistry()

	assert.Equal(t, uint64(1), r.OpenRound(1))

	for range 3 {
		_, err := r.Create(1, receiver, creator, 10)
		require.NoError(t, err)
	}

	// round 2 starts right after the last issue of round 1
	assert.Equal(t, uint64(4), r.OpenRound(2))

	is, err := r.Create(2, receiver, creator, 20)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), is.ID)
	assert.True(t, is.Active)

	assert.Equal(t, uint64(3), r.Count(1))
	assert.Equal(t, uint64(1), r.Count(2))
	assert.Equal(t, uint64(4), r.Last())
	assert.Len(t, r.ForRound(1), 3)
	assert.Equal(t, uint64(2), r.ForRound(2)[0].RoundID)
}

func TestCreateValidation(t *testing.T) {
	r := NewRegistry()

	_, err := r.Create(1, receiver, creator, 0)
	require.ErrorIs(t, err, ErrNoAnchor)

	r.OpenRound(1)

	_, err = r.Create(1, common.Address{}, creator, 0)
	require.ErrorIs(t, err, ErrZeroReceiver)

	assert.Zero(t, r.Last())
}

func TestRoundFull(t *testing.T) {
	r := NewRegistry()
	r.OpenRound(1)

	for range votecodec.MaxIssues {
		_, err := r.Create(1, receiver, creator, 0)
		require.NoError(t, err)
	}

	_, err := r.Create(1, receiver, creator, 0)
	require.ErrorIs(t, err, ErrRoundFull)
	assert.Equal(t, uint64(votecodec.MaxIssues), r.Count(1))
}

func TestDeactivate(t *testing.T) {
	r := NewRegistry()
	r.OpenRound(1)

	for range 3 {
		_, err := r.Create(1, receiver, creator, 0)
		require.NoError(t, err)
	}

	_, err := r.Deactivate(9)
	require.ErrorIs(t, err, ErrIssueNotFound)

	is, err := r.Deactivate(2)
	require.NoError(t, err)
	assert.False(t, is.Active)

	_, err = r.Deactivate(2)
	require.ErrorIs(t, err, ErrIssueInactive)

	assert.Equal(t, []uint{1}, r.InactiveOffsets(1).Offsets())
}

func TestRestore(t *testing.T) {
	r := NewRegistry()
	r.OpenRound(1)
	_, err := r.Create(1, receiver, creator, 0)
	require.NoError(t, err)
	_, err = r.Create(1, receiver, creator, 0)
	require.NoError(t, err)

	restored := Restore(r.All(), r.Anchors())

	assert.Equal(t, uint64(2), restored.Count(1))

	anchor, ok := restored.Anchor(1)
	require.True(t, ok)
	assert.Equal(t, uint64(1), anchor)

	assert.Equal(t, uint64(3), restored.OpenRound(2))
}
