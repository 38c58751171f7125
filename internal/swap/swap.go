// Package swap provides a fixed-rate conversion router and an in-memory token
// ledger. yieldd uses them when no external router is configured, and tests
// use them to script swap behavior.
package swap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"YieldRounds/internal/vault"
)

var (
	ErrUnsupportedPair    = errors.New("unsupported token pair")
	ErrInsufficientOutput = errors.New("insufficient output amount")
	ErrInvalidRate        = errors.New("invalid conversion rate")
)

// BasisPoints is the denominator of FeeBps.
const BasisPoints = 10_000

// Config is a fixed conversion rate between two tokens.
// One unit of Native buys RateNum/RateDen units of Yield before fees.
type Config struct {
	Native  common.Address
	Yield   common.Address
	RateNum uint64
	RateDen uint64
	FeeBps  uint64 // FeeBps is charged on the output of every conversion
}

// Hook runs inside Swap before the conversion is settled.
// A non-nil error aborts the swap.
type Hook func(ctx context.Context, p vault.SwapParams) error

// Router converts at a fixed rate and credits outputs to a Balances ledger.
type Router struct {
	cfg      Config
	balances *Balances

	mu   sync.Mutex // mu guards cfg rates and hook
	hook Hook
}

// NewRouter validates cfg and returns a router crediting balances.
func NewRouter(cfg Config, balances *Balances) (*Router, error) {
	if cfg.RateNum == 0 || cfg.RateDen == 0 {
		return nil, fmt.Errorf("%w: %d/%d", ErrInvalidRate, cfg.RateNum, cfg.RateDen)
	}

	if cfg.FeeBps >= BasisPoints {
		return nil, fmt.Errorf("%w: fee %d bps", ErrInvalidRate, cfg.FeeBps)
	}

	if cfg.Native == cfg.Yield {
		return nil, fmt.Errorf("%w: native and yield are both %s", ErrUnsupportedPair, cfg.Native.Hex())
	}

	return &Router{cfg: cfg, balances: balances}, nil
}

// SetHook installs h to run inside every subsequent Swap. nil removes it.
func (r *Router) SetHook(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hook = h
}

// SetRate changes the conversion rate. Lowering num/den makes each yield unit
// worth more native value, which is how accrued yield shows up in the vault.
func (r *Router) SetRate(num, den uint64) error {
	if num == 0 || den == 0 {
		return fmt.Errorf("%w: %d/%d", ErrInvalidRate, num, den)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.cfg.RateNum, r.cfg.RateDen = num, den

	return nil
}

// Quote returns the output of converting amountIn from tokenIn to tokenOut.
func (r *Router) Quote(_ context.Context, tokenIn, tokenOut common.Address, amountIn *uint256.Int) (*uint256.Int, error) {
	r.mu.Lock()
	cfg := r.cfg
	r.mu.Unlock()

	var num, den uint64

	switch {
	case tokenIn == cfg.Native && tokenOut == cfg.Yield:
		num, den = cfg.RateNum, cfg.RateDen
	case tokenIn == cfg.Yield && tokenOut == cfg.Native:
		num, den = cfg.RateDen, cfg.RateNum
	default:
		return nil, fmt.Errorf("%w: %s -> %s", ErrUnsupportedPair, tokenIn.Hex(), tokenOut.Hex())
	}

	out := new(uint256.Int).Mul(amountIn, uint256.NewInt(num))
	out.Div(out, uint256.NewInt(den))
	out.Mul(out, uint256.NewInt(BasisPoints-cfg.FeeBps))
	out.Div(out, uint256.NewInt(BasisPoints))

	return out, nil
}

// Swap converts p.AmountIn and credits the output to p.Recipient.
func (r *Router) Swap(ctx context.Context, p vault.SwapParams) (*uint256.Int, error) {
	r.mu.Lock()
	hook := r.hook
	r.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, p); err != nil {
			return nil, err
		}
	}

	out, err := r.Quote(ctx, p.TokenIn, p.TokenOut, p.AmountIn)
	if err != nil {
		return nil, err
	}

	if p.MinOut != nil && out.Lt(p.MinOut) {
		return nil, fmt.Errorf("%w: %s < %s", ErrInsufficientOutput, out.Dec(), p.MinOut.Dec())
	}

	r.balances.Credit(p.TokenOut, p.Recipient, out)

	return out, nil
}

// Balances is an in-memory token ledger.
type Balances struct {
	mu       sync.Mutex
	holdings map[common.Address]map[common.Address]*uint256.Int // token -> holder -> amount
	failNext error
}

// NewBalances returns an empty ledger.
func NewBalances() *Balances {
	return &Balances{holdings: make(map[common.Address]map[common.Address]*uint256.Int)}
}

// Credit adds amount of token to holder.
func (b *Balances) Credit(token, holder common.Address, amount *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	byHolder, ok := b.holdings[token]
	if !ok {
		byHolder = make(map[common.Address]*uint256.Int)
		b.holdings[token] = byHolder
	}

	bal, ok := byHolder[holder]
	if !ok {
		bal = new(uint256.Int)
		byHolder[holder] = bal
	}
	bal.Add(bal, amount)
}

// Transfer pays amount of token to the recipient.
func (b *Balances) Transfer(_ context.Context, token, to common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	err := b.failNext
	b.failNext = nil
	b.mu.Unlock()

	if err != nil {
		return err
	}

	b.Credit(token, to, amount)

	return nil
}

// FailNextTransfer makes the next Transfer return err.
func (b *Balances) FailNextTransfer(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failNext = err
}

// BalanceOf returns holder's balance of token.
func (b *Balances) BalanceOf(token, holder common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if bal, ok := b.holdings[token][holder]; ok {
		return bal.Clone()
	}
	return new(uint256.Int)
}
