// Package vault holds staked principal and the pooled yield asset.
//
// Staked native value is converted into the yield asset through a Swapper.
// Principal is tracked in native units per user; the pool is tracked in yield
// units. The difference, priced back through the Swapper, is the surplus the
// withdrawal queue distributes.
//
// Every operation performs its external call before changing any balance, so
// a failed call leaves the vault untouched.
package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrZeroAmount            = errors.New("zero amount")
	ErrSlippage              = errors.New("swap output below minimum")
	ErrNoYield               = errors.New("not enough yield in pool")
	ErrInsufficientPrincipal = errors.New("insufficient principal")
	ErrNothingToClaim        = errors.New("nothing to claim")
	ErrTransferFailed        = errors.New("payout transfer failed")
)

// SwapParams describes one exact-input conversion.
type SwapParams struct {
	TokenIn   common.Address
	TokenOut  common.Address
	Recipient common.Address
	AmountIn  *uint256.Int
	MinOut    *uint256.Int
}

// Swapper prices and executes conversions between the native and yield assets.
type Swapper interface {
	Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *uint256.Int) (*uint256.Int, error)
	Swap(ctx context.Context, p SwapParams) (*uint256.Int, error)
}

// Transferer moves yield-asset balances out of the vault.
type Transferer interface {
	Transfer(ctx context.Context, token, to common.Address, amount *uint256.Int) error
}

// Config names the assets and the vault's own address.
type Config struct {
	Native common.Address // Native is the staked asset
	Yield  common.Address // Yield is the pooled asset
	Self   common.Address // Self receives staked conversions
}

// Conversion is the outcome of one swap.
type Conversion struct {
	TokenIn   common.Address
	TokenOut  common.Address
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
}

// State is the persisted form of a vault.
type State struct {
	Principals   map[common.Address]*uint256.Int
	Credits      map[common.Address]*uint256.Int
	Total        *uint256.Int
	YieldBalance *uint256.Int
}

// Vault tracks principal, the yield pool and payout credits.
type Vault struct {
	cfg        Config
	swapper    Swapper
	transferer Transferer

	principals   map[common.Address]*uint256.Int
	credits      map[common.Address]*uint256.Int // credits are claimable yield per recipient
	total        *uint256.Int                    // total is the sum of all principal
	yieldBalance *uint256.Int                    // yieldBalance is the pooled yield asset
}

// New creates an empty vault.
func New(cfg Config, swapper Swapper, transferer Transferer) *Vault {
	return &Vault{
		cfg:          cfg,
		swapper:      swapper,
		transferer:   transferer,
		principals:   make(map[common.Address]*uint256.Int),
		credits:      make(map[common.Address]*uint256.Int),
		total:        new(uint256.Int),
		yieldBalance: new(uint256.Int),
	}
}

// Restore creates a vault from persisted state.
func Restore(cfg Config, swapper Swapper, transferer Transferer, st State) *Vault {
	v := New(cfg, swapper, transferer)

	for addr, amt := range st.Principals {
		if !amt.IsZero() {
			v.principals[addr] = amt.Clone()
		}
	}
	for addr, amt := range st.Credits {
		if !amt.IsZero() {
			v.credits[addr] = amt.Clone()
		}
	}
	if st.Total != nil {
		v.total.Set(st.Total)
	}
	if st.YieldBalance != nil {
		v.yieldBalance.Set(st.YieldBalance)
	}

	return v
}

// Stake converts value into the yield asset and credits it as user's principal.
func (v *Vault) Stake(ctx context.Context, user common.Address, value, minOut *uint256.Int) (Conversion, error) {
	if value == nil || value.IsZero() {
		return Conversion{}, ErrZeroAmount
	}

	out, err := v.swap(ctx, SwapParams{
		TokenIn:   v.cfg.Native,
		TokenOut:  v.cfg.Yield,
		Recipient: v.cfg.Self,
		AmountIn:  value,
		MinOut:    orZero(minOut),
	})
	if err != nil {
		return Conversion{}, err
	}

	v.addPrincipal(user, value)
	v.yieldBalance.Add(v.yieldBalance, out)

	return Conversion{TokenIn: v.cfg.Native, TokenOut: v.cfg.Yield, AmountIn: value.Clone(), AmountOut: out}, nil
}

// Unstake sells the yield backing amount of user's principal and sends the proceeds to user.
func (v *Vault) Unstake(ctx context.Context, user common.Address, amount, minOut *uint256.Int) (Conversion, error) {
	if amount == nil || amount.IsZero() {
		return Conversion{}, ErrZeroAmount
	}

	if v.Principal(user).Lt(amount) {
		return Conversion{}, fmt.Errorf("%w: %s has %s, wants %s", ErrInsufficientPrincipal, user.Hex(), v.Principal(user).Dec(), amount.Dec())
	}

	needed, err := v.swapper.Quote(ctx, v.cfg.Native, v.cfg.Yield, amount)
	if err != nil {
		return Conversion{}, fmt.Errorf("quote %s native:\n%w", amount.Dec(), errors.Join(ErrSlippage, err))
	}

	if needed.IsZero() || v.yieldBalance.Lt(needed) {
		return Conversion{}, fmt.Errorf("%w: need %s, pool holds %s", ErrNoYield, needed.Dec(), v.yieldBalance.Dec())
	}

	out, err := v.swap(ctx, SwapParams{
		TokenIn:   v.cfg.Yield,
		TokenOut:  v.cfg.Native,
		Recipient: user,
		AmountIn:  needed,
		MinOut:    orZero(minOut),
	})
	if err != nil {
		return Conversion{}, err
	}

	v.subPrincipal(user, amount)
	v.yieldBalance.Sub(v.yieldBalance, needed)

	return Conversion{TokenIn: v.cfg.Yield, TokenOut: v.cfg.Native, AmountIn: needed.Clone(), AmountOut: out}, nil
}

// Surplus returns the pooled yield not needed to back total principal.
func (v *Vault) Surplus(ctx context.Context) (*uint256.Int, error) {
	if v.total.IsZero() {
		return v.yieldBalance.Clone(), nil
	}

	backing, err := v.swapper.Quote(ctx, v.cfg.Native, v.cfg.Yield, v.total)
	if err != nil {
		return nil, fmt.Errorf("quote backing of %s native:\n%w", v.total.Dec(), errors.Join(ErrSlippage, err))
	}

	if !backing.Lt(v.yieldBalance) {
		return new(uint256.Int), nil
	}

	return new(uint256.Int).Sub(v.yieldBalance, backing), nil
}

// Disburse moves values from the pool into the recipients' payout credits.
func (v *Vault) Disburse(recipients []common.Address, values []*uint256.Int) error {
	sum := new(uint256.Int)
	for _, val := range values {
		if _, overflow := sum.AddOverflow(sum, val); overflow {
			return fmt.Errorf("%w: disbursement overflows", ErrNoYield)
		}
	}

	if v.yieldBalance.Lt(sum) {
		return fmt.Errorf("%w: disburse %s, pool holds %s", ErrNoYield, sum.Dec(), v.yieldBalance.Dec())
	}

	for i, to := range recipients {
		credit, ok := v.credits[to]
		if !ok {
			credit = new(uint256.Int)
			v.credits[to] = credit
		}
		credit.Add(credit, values[i])
	}
	v.yieldBalance.Sub(v.yieldBalance, sum)

	return nil
}

// Claim transfers user's payout credit.
func (v *Vault) Claim(ctx context.Context, user common.Address) (*uint256.Int, error) {
	credit := v.Credit(user)
	if credit.IsZero() {
		return nil, ErrNothingToClaim
	}

	if err := v.transferer.Transfer(ctx, v.cfg.Yield, user, credit); err != nil {
		return nil, fmt.Errorf("transfer %s to %s:\n%w", credit.Dec(), user.Hex(), errors.Join(ErrTransferFailed, err))
	}

	delete(v.credits, user)

	return credit, nil
}

// Principal returns user's staked principal.
func (v *Vault) Principal(user common.Address) *uint256.Int {
	if p, ok := v.principals[user]; ok {
		return p.Clone()
	}
	return new(uint256.Int)
}

// Credit returns user's claimable payout.
func (v *Vault) Credit(user common.Address) *uint256.Int {
	if c, ok := v.credits[user]; ok {
		return c.Clone()
	}
	return new(uint256.Int)
}

// Total returns the sum of all principal.
func (v *Vault) Total() *uint256.Int {
	return v.total.Clone()
}

// YieldBalance returns the pooled yield asset.
func (v *Vault) YieldBalance() *uint256.Int {
	return v.yieldBalance.Clone()
}

// Config returns the asset configuration.
func (v *Vault) Config() Config {
	return v.cfg
}

// State exports the vault for persistence.
func (v *Vault) State() State {
	st := State{
		Principals:   make(map[common.Address]*uint256.Int, len(v.principals)),
		Credits:      make(map[common.Address]*uint256.Int, len(v.credits)),
		Total:        v.total.Clone(),
		YieldBalance: v.yieldBalance.Clone(),
	}
	for addr, amt := range v.principals {
		st.Principals[addr] = amt.Clone()
	}
	for addr, amt := range v.credits {
		st.Credits[addr] = amt.Clone()
	}

	return st
}

// swap runs one conversion and enforces p.MinOut on the reported output.
func (v *Vault) swap(ctx context.Context, p SwapParams) (*uint256.Int, error) {
	out, err := v.swapper.Swap(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("swap %s:\n%w", p.AmountIn.Dec(), errors.Join(ErrSlippage, err))
	}

	if out == nil || out.Lt(p.MinOut) {
		got := "nil"
		if out != nil {
			got = out.Dec()
		}
		return nil, fmt.Errorf("%w: got %s, want at least %s", ErrSlippage, got, p.MinOut.Dec())
	}

	return out.Clone(), nil
}

func (v *Vault) addPrincipal(user common.Address, amount *uint256.Int) {
	p, ok := v.principals[user]
	if !ok {
		p = new(uint256.Int)
		v.principals[user] = p
	}
	p.Add(p, amount)
	v.total.Add(v.total, amount)
}

func (v *Vault) subPrincipal(user common.Address, amount *uint256.Int) {
	p := v.principals[user]
	p.Sub(p, amount)
	if p.IsZero() {
		delete(v.principals, user)
	}
	v.total.Sub(v.total, amount)
}

func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x
}
