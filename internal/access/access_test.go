package access

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	mal   = common.HexToAddress("0x00000000000000000000000000000000000000ff")
)

func newControl(t *testing.T, threshold int) *Control {
	t.Helper()

	c, err := New(Config{Signers: []common.Address{alice, bob, carol}, Threshold: threshold})
	require.NoError(t, err)

	return c
}

func TestNewValidatesQuorum(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrNoSigners)

	_, err = New(Config{Signers: []common.Address{alice}, Threshold: 0})
	require.ErrorIs(t, err, ErrInvalidQuorum)

	_, err = New(Config{Signers: []common.Address{alice, bob}, Threshold: 3})
	require.ErrorIs(t, err, ErrInvalidQuorum)

	_, err = New(Config{Signers: []common.Address{{}}, Threshold: 1})
	require.ErrorIs(t, err, ErrNoSigners)
}

func TestDuplicateSignersCollapse(t *testing.T) {
	// the deployment scripts pass the owner three times
	_, err := New(Config{Signers: []common.Address{alice, alice, alice}, Threshold: 2})
	require.ErrorIs(t, err, ErrInvalidQuorum)

	c, err := New(Config{Signers: []common.Address{alice, alice, alice}, Threshold: 1})
	require.NoError(t, err)

	assert.Equal(t, []common.Address{alice}, c.Signers())

	_, err = c.Approve(1, alice)
	require.NoError(t, err)
	assert.True(t, c.HasQuorum(1))
}

func TestApproveQuorum(t *testing.T) {
	c := newControl(t, 2)

	n, err := c.Approve(7, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, c.HasQuorum(7))

	// idempotent
	n, err = c.Approve(7, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, c.HasQuorum(7))

	n, err = c.Approve(7, carol)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, c.HasQuorum(7))
	assert.Equal(t, []common.Address{alice, carol}, c.Approvals(7))

	assert.False(t, c.HasQuorum(8))
}

func TestApproveRejectsOutsider(t *testing.T) {
	c := newControl(t, 1)

	_, err := c.Approve(1, mal)
	require.ErrorIs(t, err, ErrNotAdmin)
	assert.Zero(t, c.ApprovalCount(1))
}

func TestApprovalBitmapRestore(t *testing.T) {
	c := newControl(t, 2)

	_, err := c.Approve(3, bob)
	require.NoError(t, err)
	_, err = c.Approve(3, carol)
	require.NoError(t, err)

	bitmap := c.ApprovalBitmap(3)
	assert.Equal(t, []byte{0b110}, bitmap)

	restored := newControl(t, 2)
	restored.RestoreApprovals(3, bitmap)

	assert.True(t, restored.HasQuorum(3))
	assert.Equal(t, []common.Address{bob, carol}, restored.Approvals(3))
}

func TestApproveSigned(t *testing.T) {
	aliceKey, err := DeriveBLSKey([]byte("alice"))
	require.NoError(t, err)
	bobKey, err := DeriveBLSKey([]byte("bob"))
	require.NoError(t, err)

	c, err := New(Config{
		Signers:   []common.Address{alice, bob},
		Threshold: 2,
		BLSKeys:   map[common.Address][]byte{alice: aliceKey.PublicKeyBytes()},
	})
	require.NoError(t, err)

	msg := []byte("withdrawal-1")

	_, err = c.ApproveSigned(1, alice, msg, bobKey.Sign(msg))
	require.ErrorIs(t, err, ErrBadSignature)

	_, err = c.ApproveSigned(1, alice, []byte("withdrawal-2"), aliceKey.Sign(msg))
	require.ErrorIs(t, err, ErrBadSignature)

	_, err = c.ApproveSigned(1, bob, msg, bobKey.Sign(msg))
	require.ErrorIs(t, err, ErrNoSignerKey)

	n, err := c.ApproveSigned(1, alice, msg, aliceKey.Sign(msg))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewRejectsForeignBLSKey(t *testing.T) {
	key, err := DeriveBLSKey([]byte("mal"))
	require.NoError(t, err)

	_, err = New(Config{
		Signers:   []common.Address{alice},
		Threshold: 1,
		BLSKeys:   map[common.Address][]byte{mal: key.PublicKeyBytes()},
	})
	require.Error(t, err)
}
