package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"YieldRounds/internal/event"
	"YieldRounds/internal/vault"
	"YieldRounds/internal/withdrawal"
)

// Stake converts value native units into the yield asset and credits caller's principal.
// The swap fails unless it returns at least minOut yield units.
func (e *Engine) Stake(ctx context.Context, caller common.Address, value, minOut *uint256.Int) (conv vault.Conversion, err error) {
	c, err := e.beginWrite(ctx, "stake")
	if err != nil {
		return vault.Conversion{}, err
	}
	defer func() { e.end(c, err) }()

	conv, err = e.vault.Stake(c.ctx, caller, value, minOut)
	if err != nil {
		return vault.Conversion{}, err
	}

	e.stageDeposit(c, caller)

	e.emit(c, event.Event{Kind: event.KindStaked, Actor: caller, Subject: caller, Amount: conv.AmountIn})
	e.emit(c, event.Event{Kind: event.KindYieldConverted, Actor: caller, Amount: conv.AmountIn, AmountOut: conv.AmountOut})
	c.log().Info("staked", "user", caller.Hex(), "value", conv.AmountIn.Dec(), "yield", conv.AmountOut.Dec())

	return conv, nil
}

// Unstake returns amount of caller's principal as native value.
// The proceeds go to caller directly; the swap fails unless it returns at least minOut.
func (e *Engine) Unstake(ctx context.Context, caller common.Address, amount, minOut *uint256.Int) (conv vault.Conversion, err error) {
	c, err := e.beginWrite(ctx, "unstake")
	if err != nil {
		return vault.Conversion{}, err
	}
	defer func() { e.end(c, err) }()

	conv, err = e.vault.Unstake(c.ctx, caller, amount, minOut)
	if err != nil {
		return vault.Conversion{}, err
	}

	e.stageDeposit(c, caller)

	e.emit(c, event.Event{Kind: event.KindUnstaked, Actor: caller, Subject: caller, Amount: amount.Clone()})
	e.emit(c, event.Event{Kind: event.KindYieldConverted, Actor: caller, Amount: conv.AmountIn, AmountOut: conv.AmountOut})
	c.log().Info("unstaked", "user", caller.Hex(), "principal", amount.Dec(), "native", conv.AmountOut.Dec())

	return conv, nil
}

// RequestWithdrawal proposes moving amount yield units out of the pool for the current round.
// Signer only.
func (e *Engine) RequestWithdrawal(ctx context.Context, caller common.Address, amount *uint256.Int) (req withdrawal.Request, err error) {
	c, err := e.beginWrite(ctx, "request_withdrawal")
	if err != nil {
		return withdrawal.Request{}, err
	}
	defer func() { e.end(c, err) }()

	if err := e.requireSigner(caller); err != nil {
		return withdrawal.Request{}, err
	}

	req, err = e.queue.Create(caller, e.rounds.LastID(), amount, c.now)
	if err != nil {
		return withdrawal.Request{}, err
	}

	e.stageWithdrawal(c, req.ID)

	e.emit(c, event.Event{Kind: event.KindWithdrawalRequested, Actor: caller, RoundID: req.RoundID, RequestID: req.ID, Amount: req.Amount})

	return req, nil
}

// ApproveWithdrawal records caller's approval of request id. Signer only.
func (e *Engine) ApproveWithdrawal(ctx context.Context, caller common.Address, id uint64) (view WithdrawalView, err error) {
	c, err := e.beginWrite(ctx, "approve_withdrawal")
	if err != nil {
		return WithdrawalView{}, err
	}
	defer func() { e.end(c, err) }()

	if _, err := e.queue.Approve(id, caller); err != nil {
		return WithdrawalView{}, err
	}

	return e.approved(c, caller, id), nil
}

// ApproveWithdrawalSigned records caller's approval of request id given a BLS
// signature over the request digest. Signer only.
func (e *Engine) ApproveWithdrawalSigned(ctx context.Context, caller common.Address, id uint64, signature []byte) (view WithdrawalView, err error) {
	c, err := e.beginWrite(ctx, "approve_withdrawal_signed")
	if err != nil {
		return WithdrawalView{}, err
	}
	defer func() { e.end(c, err) }()

	if _, err := e.queue.ApproveSigned(id, caller, signature); err != nil {
		return WithdrawalView{}, err
	}

	return e.approved(c, caller, id), nil
}

func (e *Engine) approved(c *call, caller common.Address, id uint64) WithdrawalView {
	e.stageWithdrawal(c, id)

	req, _ := e.queue.Get(id)
	e.emit(c, event.Event{Kind: event.KindWithdrawalApproved, Actor: caller, RoundID: req.RoundID, RequestID: id})

	return e.withdrawalView(id)
}

// DisperseDonation pays an approved request out of the surplus yield into the
// recipients' payout credits. Signer only. A request disperses at most once.
func (e *Engine) DisperseDonation(ctx context.Context, caller common.Address, id uint64, recipients []common.Address, values []*uint256.Int) (view WithdrawalView, err error) {
	c, err := e.beginWrite(ctx, "disperse_donation")
	if err != nil {
		return WithdrawalView{}, err
	}
	defer func() { e.end(c, err) }()

	if err := e.requireSigner(caller); err != nil {
		return WithdrawalView{}, err
	}

	if err := e.queue.Validate(id, recipients, values); err != nil {
		return WithdrawalView{}, err
	}

	total := new(uint256.Int)
	for _, v := range values {
		total.Add(total, v)
	}

	surplus, err := e.vault.Surplus(c.ctx)
	if err != nil {
		return WithdrawalView{}, err
	}

	if surplus.Lt(total) {
		return WithdrawalView{}, fmt.Errorf("%w: dispersing %s, surplus is %s", vault.ErrNoYield, total.Dec(), surplus.Dec())
	}

	if err := e.vault.Disburse(recipients, values); err != nil {
		return WithdrawalView{}, err
	}

	req, err := e.queue.Disperse(id, recipients, values, c.now)
	if err != nil {
		return WithdrawalView{}, err
	}

	e.stageWithdrawal(c, id)
	e.stageDeposit(c, recipients...)

	e.emit(c, event.Event{Kind: event.KindDonationDispersed, Actor: caller, RoundID: req.RoundID, RequestID: id, Amount: total})
	c.log().Info("donation dispersed", "request", id, "round", req.RoundID, "recipients", len(recipients), "amount", total.Dec())

	return e.withdrawalView(id), nil
}

// ClaimPayout transfers caller's payout credit to caller.
func (e *Engine) ClaimPayout(ctx context.Context, caller common.Address) (paid *uint256.Int, err error) {
	c, err := e.beginWrite(ctx, "claim_payout")
	if err != nil {
		return nil, err
	}
	defer func() { e.end(c, err) }()

	paid, err = e.vault.Claim(c.ctx, caller)
	if err != nil {
		return nil, err
	}

	e.stageDeposit(c, caller)

	e.emit(c, event.Event{Kind: event.KindPayoutClaimed, Actor: caller, Subject: caller, Amount: paid})

	return paid, nil
}

// TransferOwnership hands the owner role to newOwner. Owner only.
func (e *Engine) TransferOwnership(ctx context.Context, caller, newOwner common.Address) (err error) {
	c, err := e.beginWrite(ctx, "transfer_ownership")
	if err != nil {
		return err
	}
	defer func() { e.end(c, err) }()

	if err := e.requireOwner(caller); err != nil {
		return err
	}

	if newOwner == (common.Address{}) {
		return ErrInvalidOwner
	}

	e.owner = newOwner
	c.batch.PutOwner(newOwner)

	e.emit(c, event.Event{Kind: event.KindOwnershipTransferred, Actor: caller, Subject: newOwner})
	c.log().Info("ownership transferred", "from", caller.Hex(), "to", newOwner.Hex())

	return nil
}
