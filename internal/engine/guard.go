package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"YieldRounds/internal/vault"
)

// guardedSwapper raises the engine's external flag while the swapper runs.
type guardedSwapper struct {
	e    *Engine
	next vault.Swapper
}

func (g guardedSwapper) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *uint256.Int) (*uint256.Int, error) {
	defer g.e.enterExternal()()
	return g.next.Quote(ctx, tokenIn, tokenOut, amountIn)
}

func (g guardedSwapper) Swap(ctx context.Context, p vault.SwapParams) (*uint256.Int, error) {
	defer g.e.enterExternal()()
	return g.next.Swap(ctx, p)
}

// guardedTransferer raises the engine's external flag while the transferer runs.
type guardedTransferer struct {
	e    *Engine
	next vault.Transferer
}

func (g guardedTransferer) Transfer(ctx context.Context, token, to common.Address, amount *uint256.Int) error {
	defer g.e.enterExternal()()
	return g.next.Transfer(ctx, token, to, amount)
}

// enterExternal marks a collaborator call in progress and returns the func clearing it.
// Collaborator calls only happen inside the critical section, so they never overlap.
func (e *Engine) enterExternal() func() {
	e.external.Store(true)
	return func() { e.external.Store(false) }
}
