package vault_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"YieldRounds/internal/swap"
	"YieldRounds/internal/vault"
)

var (
	native = common.HexToAddress("0x0000000000000000000000000000000000001001")
	yield  = common.HexToAddress("0x0000000000000000000000000000000000001002")
	self   = common.HexToAddress("0x0000000000000000000000000000000000001003")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type fixture struct {
	vault    *vault.Vault
	router   *swap.Router
	balances *swap.Balances
}

func newFixture(t *testing.T, feeBps uint64) fixture {
	t.Helper()

	balances := swap.NewBalances()
	router, err := swap.NewRouter(swap.Config{Native: native, Yield: yield, RateNum: 9, RateDen: 10, FeeBps: feeBps}, balances)
	require.NoError(t, err)

	v := vault.New(vault.Config{Native: native, Yield: yield, Self: self}, router, balances)

	return fixture{vault: v, router: router, balances: balances}
}

func u(x uint64) *uint256.Int { return uint256.NewInt(x) }

func TestStake(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.vault.Stake(ctx, alice, u(0), nil)
	require.ErrorIs(t, err, vault.ErrZeroAmount)

	conv, err := f.vault.Stake(ctx, alice, u(1000), u(900))
	require.NoError(t, err)
	assert.Equal(t, uint64(900), conv.AmountOut.Uint64())

	assert.Equal(t, uint64(1000), f.vault.Principal(alice).Uint64())
	assert.Equal(t, uint64(1000), f.vault.Total().Uint64())
	assert.Equal(t, uint64(900), f.vault.YieldBalance().Uint64())
	assert.Equal(t, uint64(900), f.balances.BalanceOf(yield, self).Uint64())
}

func TestStakeSlippageLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	_, err := f.vault.Stake(ctx, alice, u(1000), u(900))
	require.ErrorIs(t, err, vault.ErrSlippage)

	assert.True(t, f.vault.Principal(alice).IsZero())
	assert.True(t, f.vault.YieldBalance().IsZero())
}

func TestStakeUnstakeRoundTrip(t *testing.T) {
	for _, fee := range []uint64{0, 30, 500} {
		f := newFixture(t, fee)
		ctx := context.Background()

		_, err := f.vault.Stake(ctx, alice, u(1_000_000), nil)
		require.NoError(t, err)

		conv, err := f.vault.Unstake(ctx, alice, u(1_000_000), nil)
		require.NoError(t, err)

		assert.LessOrEqual(t, conv.AmountOut.Uint64(), uint64(1_000_000), "fee %d", fee)
		assert.True(t, f.vault.Principal(alice).IsZero(), "fee %d", fee)
		assert.True(t, f.vault.Total().IsZero(), "fee %d", fee)
		assert.Equal(t, conv.AmountOut, f.balances.BalanceOf(native, alice), "fee %d", fee)
	}
}

func TestUnstakeChecks(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.vault.Unstake(ctx, alice, u(1), nil)
	require.ErrorIs(t, err, vault.ErrInsufficientPrincipal)

	_, err = f.vault.Stake(ctx, alice, u(1000), nil)
	require.NoError(t, err)

	_, err = f.vault.Unstake(ctx, alice, u(1001), nil)
	require.ErrorIs(t, err, vault.ErrInsufficientPrincipal)

	// drain the pool so the backing of alice's principal is gone
	require.NoError(t, f.vault.Disburse([]common.Address{bob}, []*uint256.Int{u(900)}))

	_, err = f.vault.Unstake(ctx, alice, u(1000), nil)
	require.ErrorIs(t, err, vault.ErrNoYield)
	assert.Equal(t, uint64(1000), f.vault.Principal(alice).Uint64())
}

func TestSurplusAndDisburse(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	surplus, err := f.vault.Surplus(ctx)
	require.NoError(t, err)
	assert.True(t, surplus.IsZero())

	_, err = f.vault.Stake(ctx, alice, u(1000), nil)
	require.NoError(t, err)

	// accrued yield shows up as an unbacked pool balance
	restored := vault.Restore(f.vault.Config(), f.router, f.balances, withYield(f.vault.State(), 150))

	surplus, err = restored.Surplus(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), surplus.Uint64())

	err = restored.Disburse([]common.Address{bob}, []*uint256.Int{u(2000)})
	require.ErrorIs(t, err, vault.ErrNoYield)

	require.NoError(t, restored.Disburse([]common.Address{bob, bob}, []*uint256.Int{u(100), u(50)}))
	assert.Equal(t, uint64(150), restored.Credit(bob).Uint64())
	assert.Equal(t, uint64(900), restored.YieldBalance().Uint64())
}

func TestClaim(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.vault.Claim(ctx, bob)
	require.ErrorIs(t, err, vault.ErrNothingToClaim)

	_, err = f.vault.Stake(ctx, alice, u(1000), nil)
	require.NoError(t, err)
	require.NoError(t, f.vault.Disburse([]common.Address{bob}, []*uint256.Int{u(40)}))

	f.balances.FailNextTransfer(errors.New("offline"))
	_, err = f.vault.Claim(ctx, bob)
	require.ErrorIs(t, err, vault.ErrTransferFailed)
	assert.Equal(t, uint64(40), f.vault.Credit(bob).Uint64())

	paid, err := f.vault.Claim(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), paid.Uint64())
	assert.True(t, f.vault.Credit(bob).IsZero())
	assert.Equal(t, uint64(40), f.balances.BalanceOf(yield, bob).Uint64())
}

func withYield(st vault.State, extra uint64) vault.State {
	st.YieldBalance.Add(st.YieldBalance, u(extra))
	return st
}
