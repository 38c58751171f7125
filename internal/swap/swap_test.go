package swap

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"YieldRounds/internal/vault"
)

var (
	native = common.HexToAddress("0x0000000000000000000000000000000000001001")
	yield  = common.HexToAddress("0x0000000000000000000000000000000000001002")
	holder = common.HexToAddress("0x0000000000000000000000000000000000002001")
)

func TestNewRouterValidation(t *testing.T) {
	_, err := NewRouter(Config{Native: native, Yield: yield, RateNum: 0, RateDen: 1}, NewBalances())
	require.ErrorIs(t, err, ErrInvalidRate)

	_, err = NewRouter(Config{Native: native, Yield: yield, RateNum: 1, RateDen: 1, FeeBps: BasisPoints}, NewBalances())
	require.ErrorIs(t, err, ErrInvalidRate)

	_, err = NewRouter(Config{Native: native, Yield: native, RateNum: 1, RateDen: 1}, NewBalances())
	require.ErrorIs(t, err, ErrUnsupportedPair)
}

func TestQuote(t *testing.T) {
	r, err := NewRouter(Config{Native: native, Yield: yield, RateNum: 9, RateDen: 10, FeeBps: 30}, NewBalances())
	require.NoError(t, err)

	ctx := context.Background()

	out, err := r.Quote(ctx, native, yield, uint256.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(897_300), out.Uint64()) // 900_000 minus 0.3%

	out, err = r.Quote(ctx, yield, native, uint256.NewInt(900_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(997_000), out.Uint64())

	_, err = r.Quote(ctx, yield, holder, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrUnsupportedPair)
}

func TestSwapCreditsRecipient(t *testing.T) {
	balances := NewBalances()
	r, err := NewRouter(Config{Native: native, Yield: yield, RateNum: 1, RateDen: 2}, balances)
	require.NoError(t, err)

	out, err := r.Swap(context.Background(), vault.SwapParams{
		TokenIn: native, TokenOut: yield, Recipient: holder,
		AmountIn: uint256.NewInt(100), MinOut: uint256.NewInt(50),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(50), out.Uint64())
	assert.Equal(t, uint64(50), balances.BalanceOf(yield, holder).Uint64())

	_, err = r.Swap(context.Background(), vault.SwapParams{
		TokenIn: native, TokenOut: yield, Recipient: holder,
		AmountIn: uint256.NewInt(100), MinOut: uint256.NewInt(51),
	})
	require.ErrorIs(t, err, ErrInsufficientOutput)
	assert.Equal(t, uint64(50), balances.BalanceOf(yield, holder).Uint64())
}

func TestHookAbortsSwap(t *testing.T) {
	balances := NewBalances()
	r, err := NewRouter(Config{Native: native, Yield: yield, RateNum: 1, RateDen: 1}, balances)
	require.NoError(t, err)

	boom := errors.New("boom")
	r.SetHook(func(context.Context, vault.SwapParams) error { return boom })

	_, err = r.Swap(context.Background(), vault.SwapParams{TokenIn: native, TokenOut: yield, Recipient: holder, AmountIn: uint256.NewInt(1)})
	require.ErrorIs(t, err, boom)
	assert.True(t, balances.BalanceOf(yield, holder).IsZero())

	r.SetHook(nil)
	_, err = r.Swap(context.Background(), vault.SwapParams{TokenIn: native, TokenOut: yield, Recipient: holder, AmountIn: uint256.NewInt(1)})
	require.NoError(t, err)
}

func TestTransferFailure(t *testing.T) {
	b := NewBalances()
	boom := errors.New("boom")

	b.FailNextTransfer(boom)
	require.ErrorIs(t, b.Transfer(context.Background(), yield, holder, uint256.NewInt(5)), boom)
	require.NoError(t, b.Transfer(context.Background(), yield, holder, uint256.NewInt(5)))

	assert.Equal(t, uint64(5), b.BalanceOf(yield, holder).Uint64())
}

func TestSetRate(t *testing.T) {
	r, err := NewRouter(Config{Native: native, Yield: yield, RateNum: 1, RateDen: 1}, NewBalances())
	require.NoError(t, err)

	require.ErrorIs(t, r.SetRate(0, 1), ErrInvalidRate)
	require.NoError(t, r.SetRate(9, 10))

	out, err := r.Quote(context.Background(), native, yield, uint256.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, uint64(900), out.Uint64())
}
