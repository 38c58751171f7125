package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"YieldRounds/internal/access"
	"YieldRounds/internal/event"
	"YieldRounds/internal/ledger"
	"YieldRounds/internal/round"
	"YieldRounds/internal/state"
	"YieldRounds/internal/storage"
	"YieldRounds/internal/swap"
	"YieldRounds/internal/vault"
	"YieldRounds/internal/votecodec"
	"YieldRounds/internal/withdrawal"
)

var (
	native = common.HexToAddress("0x0000000000000000000000000000000000001001")
	yield  = common.HexToAddress("0x0000000000000000000000000000000000001002")
	self   = common.HexToAddress("0x0000000000000000000000000000000000001003")

	owner   = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	signer1 = common.HexToAddress("0x0000000000000000000000000000000000000051")
	signer2 = common.HexToAddress("0x0000000000000000000000000000000000000052")
	signer3 = common.HexToAddress("0x0000000000000000000000000000000000000053")

	userA = common.HexToAddress("0x000000000000000000000000000000000000000a")
	userB = common.HexToAddress("0x000000000000000000000000000000000000000b")
	userC = common.HexToAddress("0x000000000000000000000000000000000000000c")
	userD = common.HexToAddress("0x000000000000000000000000000000000000000d")
	userE = common.HexToAddress("0x000000000000000000000000000000000000000e")

	receiver1 = common.HexToAddress("0x0000000000000000000000000000000000000071")
	receiver2 = common.HexToAddress("0x0000000000000000000000000000000000000072")
)

type testClock struct {
	now atomic.Int64
}

func (c *testClock) Now() int64  { return c.now.Load() }
func (c *testClock) Set(t int64) { c.now.Store(t) }

type fixture struct {
	engine   *Engine
	clock    *testClock
	router   *swap.Router
	balances *swap.Balances
}

func newFixture(t *testing.T, st *state.State) fixture {
	t.Helper()

	balances := swap.NewBalances()
	router, err := swap.NewRouter(swap.Config{Native: native, Yield: yield, RateNum: 1, RateDen: 1}, balances)
	require.NoError(t, err)

	clock := &testClock{}

	e, err := New(Config{
		Owner:      owner,
		Access:     access.Config{Signers: []common.Address{signer1, signer2, signer3}, Threshold: 2},
		Vault:      vault.Config{Native: native, Yield: yield, Self: self},
		Swapper:    router,
		Transferer: balances,
		Clock:      clock.Now,
		State:      st,
	})
	require.NoError(t, err)

	return fixture{engine: e, clock: clock, router: router, balances: balances}
}

func u(x uint64) *uint256.Int { return uint256.NewInt(x) }

func pledges(t *testing.T, ids []uint64, weights []uint8) *uint256.Int {
	t.Helper()

	b, err := votecodec.EncodePledges(ids, weights, 1)
	require.NoError(t, err)

	return b
}

func responses(t *testing.T, ids ...uint64) *uint256.Int {
	t.Helper()

	b, err := votecodec.EncodeResponses(ids, 1)
	require.NoError(t, err)

	return b
}

// openVoting creates round 1 with count issues and moves the clock into its voting window.
func openVoting(t *testing.T, f fixture, count int) {
	t.Helper()
	ctx := context.Background()

	f.clock.Set(50)
	_, err := f.engine.CreateRound(ctx, owner, 100, 200, 300)
	require.NoError(t, err)

	f.clock.Set(150)
	for i := 0; i < count; i++ {
		_, err := f.engine.CreateIssue(ctx, userA, receiver1)
		require.NoError(t, err)
	}

	f.clock.Set(250)
}

func kinds(evs []event.Event) []event.Kind {
	out := make([]event.Kind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}

func TestNewRequiresOwner(t *testing.T) {
	_, err := New(Config{
		Access:     access.Config{Signers: []common.Address{signer1}, Threshold: 1},
		Swapper:    &swap.Router{},
		Transferer: swap.NewBalances(),
	})
	require.ErrorIs(t, err, ErrInvalidOwner)

	_, err = New(Config{
		Owner:      owner,
		Access:     access.Config{Signers: []common.Address{signer1}, Threshold: 2},
		Swapper:    &swap.Router{},
		Transferer: swap.NewBalances(),
	})
	require.ErrorIs(t, err, access.ErrInvalidQuorum)
}

func TestFiveVoterScenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for _, user := range []common.Address{userA, userB, userC, userD, userE} {
		_, err := f.engine.Stake(ctx, user, u(1000), nil)
		require.NoError(t, err)
	}

	openVoting(t, f, 5)

	_, err := f.engine.VoteYes(ctx, userA, u(0x1f))
	require.ErrorIs(t, err, votecodec.ErrWeightOutOfRange)

	_, err = f.engine.VoteNo(ctx, userB, responses(t, 1, 2, 3, 4, 5))
	require.NoError(t, err)

	_, err = f.engine.VoteYes(ctx, userC, pledges(t, []uint64{1, 3, 4}, []uint8{1, 1, 3}))
	require.NoError(t, err)
	_, err = f.engine.VoteNo(ctx, userC, responses(t, 2, 5))
	require.NoError(t, err)

	_, err = f.engine.VoteYes(ctx, userD, pledges(t, []uint64{1, 2, 3}, []uint8{1, 1, 1}))
	require.NoError(t, err)
	_, err = f.engine.VoteNo(ctx, userD, responses(t, 4, 5))
	require.NoError(t, err)

	_, err = f.engine.VoteYes(ctx, userE, pledges(t, []uint64{1, 2, 5}, []uint8{4, 2, 1}))
	require.NoError(t, err)
	view, err := f.engine.VoteNo(ctx, userE, responses(t, 3, 4))
	require.NoError(t, err)
	assert.True(t, view.Voted.Eq(u(0x1f)))
	assert.Equal(t, uint64(1), view.Anchor)

	tally, err := f.engine.Tally(ctx, 1)
	require.NoError(t, err)

	weights := make([]uint64, len(tally))
	for i, it := range tally {
		weights[i] = it.Weight
		assert.Equal(t, uint64(i+1), it.IssueID)
	}
	assert.Equal(t, []uint64{6, 3, 2, 3, 1}, weights)

	a, err := f.engine.Ballot(ctx, userA, 1)
	require.NoError(t, err)
	assert.True(t, a.Voted.IsZero())

	unvoted, err := f.engine.UnvotedIssues(ctx, userA, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, unvoted)
}

func TestVoteGating(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.VoteNo(ctx, userA, responses(t, 1))
	require.ErrorIs(t, err, ErrNoActiveRound)

	f.clock.Set(50)
	_, err = f.engine.CreateRound(ctx, owner, 100, 200, 300)
	require.NoError(t, err)

	_, err = f.engine.CreateIssue(ctx, userA, receiver1)
	require.ErrorIs(t, err, ErrRegistrationClosed)

	f.clock.Set(150)
	_, err = f.engine.CreateIssue(ctx, userA, receiver1)
	require.NoError(t, err)
	_, err = f.engine.CreateIssue(ctx, userA, receiver2)
	require.NoError(t, err)

	_, err = f.engine.VoteNo(ctx, userA, responses(t, 1))
	require.ErrorIs(t, err, ErrVotingClosed)

	f.clock.Set(250)
	_, err = f.engine.CreateIssue(ctx, userA, receiver1)
	require.ErrorIs(t, err, ErrRegistrationClosed)

	_, err = f.engine.VoteNo(ctx, userA, responses(t, 1))
	require.ErrorIs(t, err, ErrNotStaked)

	_, err = f.engine.Stake(ctx, userA, u(10), nil)
	require.NoError(t, err)

	_, err = f.engine.VoteNo(ctx, userA, responses(t, 3))
	require.ErrorIs(t, err, votecodec.ErrInvalidIssueID)

	_, err = f.engine.VoteNo(ctx, userA, responses(t, 1))
	require.NoError(t, err)

	_, err = f.engine.VoteYes(ctx, userA, pledges(t, []uint64{1}, []uint8{3}))
	require.ErrorIs(t, err, ledger.ErrAlreadyVoted)

	f.clock.Set(300)
	_, err = f.engine.VoteYes(ctx, userA, pledges(t, []uint64{2}, []uint8{3}))
	require.ErrorIs(t, err, ErrNoActiveRound)

	rd, err := f.engine.Round(ctx, 1)
	require.NoError(t, err)
	assert.False(t, rd.Active)
	assert.Equal(t, round.PhaseClosed, rd.Phase)
	assert.Equal(t, uint64(2), rd.IssueCount)
}

func TestDeactivatedIssue(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.Stake(ctx, userA, u(10), nil)
	require.NoError(t, err)

	openVoting(t, f, 3)

	_, err = f.engine.DeactivateIssue(ctx, userB, 2)
	require.ErrorIs(t, err, ErrUnauthorized)

	is, err := f.engine.DeactivateIssue(ctx, signer1, 2)
	require.NoError(t, err)
	assert.False(t, is.Active)

	_, err = f.engine.DeactivateIssue(ctx, owner, 2)
	require.Error(t, err)

	_, err = f.engine.VoteYes(ctx, userA, pledges(t, []uint64{2}, []uint8{5}))
	require.ErrorIs(t, err, ledger.ErrIssueInactive)

	unvoted, err := f.engine.UnvotedIssues(ctx, userA, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 3}, unvoted)

	tally, err := f.engine.Tally(ctx, 1)
	require.NoError(t, err)
	require.Len(t, tally, 3)
	assert.False(t, tally[1].Active)
}

func TestRoundLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.CreateRound(ctx, userA, 100, 200, 300)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.engine.CreateRound(ctx, owner, 100, 50, 200)
	require.ErrorIs(t, err, round.ErrInvalidRoundTiming)

	f.clock.Set(50)
	rd, err := f.engine.CreateRound(ctx, owner, 100, 200, 300)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rd.ID)

	_, err = f.engine.CreateRound(ctx, owner, 400, 500, 600)
	var active *round.HasActiveRoundError
	require.ErrorAs(t, err, &active)
	assert.Equal(t, uint64(1), active.RoundID)

	rd, err = f.engine.CancelRound(ctx, owner, 1)
	require.NoError(t, err)
	assert.True(t, rd.Cancelled)

	rd, err = f.engine.CreateRound(ctx, owner, 100, 200, 300)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rd.ID)

	f.clock.Set(200)
	_, err = f.engine.CancelRound(ctx, owner, 2)
	require.ErrorIs(t, err, round.ErrVotingAlreadyStarted)

	st, err := f.engine.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), st.ActiveRound)
	assert.Equal(t, round.PhaseVoting, st.Phase)

	rounds, err := f.engine.Rounds(ctx)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.Equal(t, round.PhaseCancelled, rounds[0].Phase)
}

func TestWithdrawalFlow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.Stake(ctx, userA, u(1000), u(1000))
	require.NoError(t, err)

	// the yield asset appreciates by 10%
	require.NoError(t, f.router.SetRate(9, 10))

	_, err = f.engine.RequestWithdrawal(ctx, userA, u(100))
	require.ErrorIs(t, err, access.ErrNotAdmin)

	req, err := f.engine.RequestWithdrawal(ctx, signer1, u(100))
	require.NoError(t, err)

	recipients := []common.Address{receiver1, receiver2}
	values := []*uint256.Int{u(60), u(40)}

	_, err = f.engine.DisperseDonation(ctx, signer1, req.ID, recipients, values)
	require.ErrorIs(t, err, withdrawal.ErrNotApproved)

	view, err := f.engine.Withdrawal(ctx, req.ID)
	require.NoError(t, err)
	assert.False(t, view.Dispersed)
	assert.Equal(t, withdrawal.StatusPending, view.Status)

	_, err = f.engine.ApproveWithdrawal(ctx, userA, req.ID)
	require.ErrorIs(t, err, access.ErrNotAdmin)

	view, err = f.engine.ApproveWithdrawal(ctx, signer1, req.ID)
	require.NoError(t, err)
	assert.Equal(t, withdrawal.StatusPartiallyApproved, view.Status)

	view, err = f.engine.ApproveWithdrawal(ctx, signer2, req.ID)
	require.NoError(t, err)
	assert.Equal(t, withdrawal.StatusApproved, view.Status)
	assert.ElementsMatch(t, []common.Address{signer1, signer2}, view.Approvals)

	_, err = f.engine.DisperseDonation(ctx, signer3, req.ID, recipients, []*uint256.Int{u(60), u(41)})
	require.ErrorIs(t, err, withdrawal.ErrExceedsRequest)

	view, err = f.engine.DisperseDonation(ctx, signer3, req.ID, recipients, values)
	require.NoError(t, err)
	assert.True(t, view.Dispersed)
	assert.Equal(t, withdrawal.StatusDispersed, view.Status)

	_, err = f.engine.DisperseDonation(ctx, signer3, req.ID, recipients, values)
	require.ErrorIs(t, err, withdrawal.ErrAlreadyDispersed)

	dep, err := f.engine.Deposit(ctx, receiver1)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), dep.Credit.Uint64())

	paid, err := f.engine.ClaimPayout(ctx, receiver1)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), paid.Uint64())
	assert.Equal(t, uint64(60), f.balances.BalanceOf(yield, receiver1).Uint64())

	_, err = f.engine.ClaimPayout(ctx, receiver1)
	require.ErrorIs(t, err, vault.ErrNothingToClaim)

	// principal stays fully backed
	dep, err = f.engine.Deposit(ctx, userA)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), dep.Principal.Uint64())

	st, err := f.engine.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(900), st.YieldBalance.Uint64())
}

func TestDisperseBeyondSurplus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.Stake(ctx, userA, u(1000), nil)
	require.NoError(t, err)
	require.NoError(t, f.router.SetRate(9, 10))

	req, err := f.engine.RequestWithdrawal(ctx, signer1, u(500))
	require.NoError(t, err)
	_, err = f.engine.ApproveWithdrawal(ctx, signer1, req.ID)
	require.NoError(t, err)
	_, err = f.engine.ApproveWithdrawal(ctx, signer2, req.ID)
	require.NoError(t, err)

	_, err = f.engine.DisperseDonation(ctx, signer1, req.ID, []common.Address{receiver1}, []*uint256.Int{u(500)})
	require.ErrorIs(t, err, vault.ErrNoYield)

	view, err := f.engine.Withdrawal(ctx, req.ID)
	require.NoError(t, err)
	assert.False(t, view.Dispersed)

	dep, err := f.engine.Deposit(ctx, receiver1)
	require.NoError(t, err)
	assert.True(t, dep.Credit.IsZero())
}

func TestSignedApproval(t *testing.T) {
	key, err := access.DeriveBLSKey([]byte("signer one seed material for tests"))
	require.NoError(t, err)

	balances := swap.NewBalances()
	router, err := swap.NewRouter(swap.Config{Native: native, Yield: yield, RateNum: 1, RateDen: 1}, balances)
	require.NoError(t, err)

	e, err := New(Config{
		Owner: owner,
		Access: access.Config{
			Signers:   []common.Address{signer1, signer2},
			Threshold: 1,
			BLSKeys:   map[common.Address][]byte{signer1: key.PublicKeyBytes()},
		},
		Vault:      vault.Config{Native: native, Yield: yield, Self: self},
		Swapper:    router,
		Transferer: balances,
	})
	require.NoError(t, err)

	ctx := context.Background()

	req, err := e.RequestWithdrawal(ctx, signer2, u(10))
	require.NoError(t, err)

	_, err = e.ApproveWithdrawalSigned(ctx, signer1, req.ID, key.Sign([]byte("something else")))
	require.ErrorIs(t, err, access.ErrBadSignature)

	digest := req.Digest()
	view, err := e.ApproveWithdrawalSigned(ctx, signer1, req.ID, key.Sign(digest[:]))
	require.NoError(t, err)
	assert.Equal(t, withdrawal.StatusApproved, view.Status)
	assert.Equal(t, digest, view.Digest)
}

func TestStakeUnstakeRoundTrip(t *testing.T) {
	balances := swap.NewBalances()
	router, err := swap.NewRouter(swap.Config{Native: native, Yield: yield, RateNum: 9, RateDen: 10, FeeBps: 30}, balances)
	require.NoError(t, err)

	e, err := New(Config{
		Owner:      owner,
		Access:     access.Config{Signers: []common.Address{signer1}, Threshold: 1},
		Vault:      vault.Config{Native: native, Yield: yield, Self: self},
		Swapper:    router,
		Transferer: balances,
	})
	require.NoError(t, err)

	ctx := context.Background()

	conv, err := e.Stake(ctx, userA, u(1_000_000), nil)
	require.NoError(t, err)
	assert.Equal(t, yield, conv.TokenOut)

	_, err = e.Unstake(ctx, userA, u(1_000_001), nil)
	require.ErrorIs(t, err, vault.ErrInsufficientPrincipal)

	conv, err = e.Unstake(ctx, userA, u(1_000_000), nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, conv.AmountOut.Uint64(), uint64(1_000_000))
	assert.Equal(t, conv.AmountOut, balances.BalanceOf(native, userA))

	dep, err := e.Deposit(ctx, userA)
	require.NoError(t, err)
	assert.True(t, dep.Principal.IsZero())

	evs, err := e.Events(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []event.Kind{
		event.KindStaked, event.KindYieldConverted,
		event.KindUnstaked, event.KindYieldConverted,
	}, kinds(evs))
	require.NoError(t, event.Verify(evs))
}

func TestStakeSlippage(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.Stake(ctx, userA, u(1000), u(1001))
	require.ErrorIs(t, err, vault.ErrSlippage)

	dep, err := f.engine.Deposit(ctx, userA)
	require.NoError(t, err)
	assert.True(t, dep.Principal.IsZero())

	evs, err := f.engine.Events(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestReentrantCallRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var inner error
	f.router.SetHook(func(ctx context.Context, _ vault.SwapParams) error {
		_, inner = f.engine.Stake(ctx, userB, u(5), nil)
		return inner
	})

	_, err := f.engine.Stake(ctx, userA, u(1000), nil)
	require.ErrorIs(t, inner, ErrReentrantCall)
	require.ErrorIs(t, err, ErrReentrantCall)
	require.ErrorIs(t, err, vault.ErrSlippage)

	dep, err := f.engine.Deposit(ctx, userA)
	require.NoError(t, err)
	assert.True(t, dep.Principal.IsZero())

	dep, err = f.engine.Deposit(ctx, userB)
	require.NoError(t, err)
	assert.True(t, dep.Principal.IsZero())

	st, err := f.engine.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.YieldBalance.IsZero())
	assert.Zero(t, st.LastEvent)

	// the lock was released
	f.router.SetHook(nil)
	_, err = f.engine.Stake(ctx, userA, u(1000), nil)
	require.NoError(t, err)
}

// callbackTransferer runs fn before delegating each transfer.
type callbackTransferer struct {
	next *swap.Balances
	fn   func(ctx context.Context) error
}

func (c *callbackTransferer) Transfer(ctx context.Context, token, to common.Address, amount *uint256.Int) error {
	if c.fn != nil {
		if err := c.fn(ctx); err != nil {
			return err
		}
	}
	return c.next.Transfer(ctx, token, to, amount)
}

// finishWithin runs fn and fails the test if it has not returned after d.
func finishWithin(t *testing.T, d time.Duration, fn func()) {
	t.Helper()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()

	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("engine call blocked")
	}
}

func TestReentrantCallOnFreshContext(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var inner, query error
	f.router.SetHook(func(context.Context, vault.SwapParams) error {
		_, query = f.engine.Status(context.Background())
		_, inner = f.engine.Stake(context.Background(), userB, u(5), nil)
		return inner
	})

	var err error
	finishWithin(t, 2*time.Second, func() {
		_, err = f.engine.Stake(ctx, userA, u(1000), nil)
	})

	require.ErrorIs(t, inner, ErrReentrantCall)
	require.ErrorIs(t, query, ErrReentrantCall)
	require.ErrorIs(t, err, ErrReentrantCall)
	require.ErrorIs(t, err, vault.ErrSlippage)

	st, err := f.engine.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.TotalPrincipal.IsZero())
	assert.True(t, st.YieldBalance.IsZero())
	assert.Zero(t, st.LastEvent)

	f.router.SetHook(nil)
	_, err = f.engine.Stake(ctx, userB, u(5), nil)
	require.NoError(t, err)
}

func TestReentrantCallFromTransfer(t *testing.T) {
	balances := swap.NewBalances()
	router, err := swap.NewRouter(swap.Config{Native: native, Yield: yield, RateNum: 1, RateDen: 1}, balances)
	require.NoError(t, err)

	transferer := &callbackTransferer{next: balances}

	e, err := New(Config{
		Owner:      owner,
		Access:     access.Config{Signers: []common.Address{signer1, signer2}, Threshold: 2},
		Vault:      vault.Config{Native: native, Yield: yield, Self: self},
		Swapper:    router,
		Transferer: transferer,
	})
	require.NoError(t, err)

	ctx := context.Background()

	_, err = e.Stake(ctx, userA, u(1000), nil)
	require.NoError(t, err)
	require.NoError(t, router.SetRate(9, 10))

	req, err := e.RequestWithdrawal(ctx, signer1, u(100))
	require.NoError(t, err)
	_, err = e.ApproveWithdrawal(ctx, signer1, req.ID)
	require.NoError(t, err)
	_, err = e.ApproveWithdrawal(ctx, signer2, req.ID)
	require.NoError(t, err)
	_, err = e.DisperseDonation(ctx, signer1, req.ID, []common.Address{receiver1}, []*uint256.Int{u(100)})
	require.NoError(t, err)

	before, err := e.Status(ctx)
	require.NoError(t, err)

	var inner error
	transferer.fn = func(context.Context) error {
		inner = e.TransferOwnership(context.Background(), owner, userE)
		return inner
	}

	finishWithin(t, 2*time.Second, func() {
		_, err = e.ClaimPayout(ctx, receiver1)
	})

	require.ErrorIs(t, inner, ErrReentrantCall)
	require.ErrorIs(t, err, ErrReentrantCall)
	require.ErrorIs(t, err, vault.ErrTransferFailed)

	after, err := e.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, owner, after.Owner)
	assert.Equal(t, before.LastEvent, after.LastEvent)

	dep, err := e.Deposit(ctx, receiver1)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), dep.Credit.Uint64())

	transferer.fn = nil
	paid, err := e.ClaimPayout(ctx, receiver1)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), paid.Uint64())
}

func TestStoreDivergenceRejectsWrites(t *testing.T) {
	db, err := storage.NewInMemory()
	require.NoError(t, err)
	defer db.Close()

	f := newFixture(t, state.New(db))
	ctx := context.Background()

	diskFull := errors.New("disk full")
	f.engine.commit = func(*state.Batch) error { return diskFull }

	// the in-memory transition still happens; only the write fails
	_, err = f.engine.Stake(ctx, userA, u(100), nil)
	require.NoError(t, err)

	st, err := f.engine.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Degraded)

	_, err = f.engine.Stake(ctx, userA, u(100), nil)
	require.ErrorIs(t, err, ErrStateDiverged)
	require.ErrorIs(t, err, diskFull)

	_, err = f.engine.CreateRound(ctx, owner, 100, 200, 300)
	require.ErrorIs(t, err, ErrStateDiverged)

	dep, err := f.engine.Deposit(ctx, userA)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), dep.Principal.Uint64())
}

func TestTransferOwnership(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	newOwner := userE

	require.ErrorIs(t, f.engine.TransferOwnership(ctx, userA, newOwner), ErrUnauthorized)
	require.ErrorIs(t, f.engine.TransferOwnership(ctx, owner, common.Address{}), ErrInvalidOwner)
	require.NoError(t, f.engine.TransferOwnership(ctx, owner, newOwner))

	_, err := f.engine.CreateRound(ctx, owner, 100, 200, 300)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.engine.CreateRound(ctx, newOwner, 100, 200, 300)
	require.NoError(t, err)

	st, err := f.engine.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, newOwner, st.Owner)
}

func TestEventsPaging(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.engine.Stake(ctx, userA, u(10), nil)
		require.NoError(t, err)
	}

	evs, err := f.engine.Events(ctx, 2, 3)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, uint64(2), evs[0].Seq)

	evs, err = f.engine.Events(ctx, 7, 0)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestRestoreFromState(t *testing.T) {
	db, err := storage.NewInMemory()
	require.NoError(t, err)
	defer db.Close()

	st := state.New(db)
	f := newFixture(t, st)
	ctx := context.Background()

	_, err = f.engine.Stake(ctx, userC, u(1000), nil)
	require.NoError(t, err)

	openVoting(t, f, 3)

	_, err = f.engine.VoteYes(ctx, userC, pledges(t, []uint64{1, 3}, []uint8{2, 7}))
	require.NoError(t, err)

	req, err := f.engine.RequestWithdrawal(ctx, signer1, u(50))
	require.NoError(t, err)
	_, err = f.engine.ApproveWithdrawal(ctx, signer2, req.ID)
	require.NoError(t, err)

	require.NoError(t, f.engine.TransferOwnership(ctx, owner, userE))

	// the round closes on the first call after voting ends
	f.clock.Set(400)
	before, err := f.engine.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, before.ActiveRound)

	restored, err := New(Config{
		Access:     access.Config{Signers: []common.Address{signer1, signer2, signer3}, Threshold: 2},
		Vault:      vault.Config{Native: native, Yield: yield, Self: self},
		Swapper:    f.router,
		Transferer: f.balances,
		Clock:      f.clock.Now,
		State:      st,
	})
	require.NoError(t, err)

	after, err := restored.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, userE, after.Owner)
	assert.Equal(t, before.LastEvent, after.LastEvent)
	assert.Equal(t, before.LastIssue, after.LastIssue)
	assert.Equal(t, before.TotalPrincipal, after.TotalPrincipal)
	assert.Equal(t, before.YieldBalance, after.YieldBalance)
	assert.Zero(t, after.ActiveRound)

	rd, err := restored.Round(ctx, 1)
	require.NoError(t, err)
	assert.False(t, rd.Active)
	assert.Equal(t, uint64(1), rd.Anchor)
	assert.Equal(t, uint64(3), rd.IssueCount)

	b, err := restored.Ballot(ctx, userC, 1)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), votecodec.DecodeWeight(b.Pledges, 3, 1))

	w, err := restored.Withdrawal(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{signer2}, w.Approvals)
	assert.Equal(t, withdrawal.StatusPartiallyApproved, w.Status)

	evs, err := restored.Events(ctx, 0, 0)
	require.NoError(t, err)
	require.NoError(t, event.Verify(evs))

	// new events continue the restored chain
	_, err = restored.Stake(ctx, userD, u(10), nil)
	require.NoError(t, err)

	evs, err = restored.Events(ctx, 0, 0)
	require.NoError(t, err)
	require.NoError(t, event.Verify(evs))
}
