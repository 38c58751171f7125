package client

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"YieldRounds/internal/access"
	"YieldRounds/internal/api"
	"YieldRounds/internal/engine"
	"YieldRounds/internal/snapshot"
	"YieldRounds/internal/state"
	"YieldRounds/internal/storage"
	"YieldRounds/internal/swap"
	"YieldRounds/internal/vault"
)

var (
	native  = common.HexToAddress("0x0000000000000000000000000000000000001001")
	yield   = common.HexToAddress("0x0000000000000000000000000000000000001002")
	self    = common.HexToAddress("0x0000000000000000000000000000000000001003")
	owner   = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	signer1 = common.HexToAddress("0x0000000000000000000000000000000000000051")
	signer2 = common.HexToAddress("0x0000000000000000000000000000000000000052")
	voter   = common.HexToAddress("0x000000000000000000000000000000000000000a")
	payee   = common.HexToAddress("0x0000000000000000000000000000000000000071")
)

// testNode is an httptest server over a fresh engine.
type testNode struct {
	client *Client
	router *swap.Router
	now    *int64
	key    *access.BLSKeyPair
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()

	key, err := access.DeriveBLSKey([]byte("client test signer"))
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}

	db, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	balances := swap.NewBalances()
	router, err := swap.NewRouter(swap.Config{Native: native, Yield: yield, RateNum: 1, RateDen: 1}, balances)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	now := new(int64)

	e, err := engine.New(engine.Config{
		Owner: owner,
		Access: access.Config{
			Signers:   []common.Address{signer1, signer2},
			Threshold: 2,
			BLSKeys:   map[common.Address][]byte{signer2: key.PublicKeyBytes()},
		},
		Vault:      vault.Config{Native: native, Yield: yield, Self: self},
		Swapper:    router,
		Transferer: balances,
		Clock:      func() int64 { return *now },
		State:      state.New(db),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	srv := httptest.NewServer(api.New(":0", e).Handler())
	t.Cleanup(srv.Close)

	return &testNode{client: NewClient(srv.URL), router: router, now: now, key: key}
}

func TestHealth(t *testing.T) {
	node := newTestNode(t)

	if err := node.client.Health(); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestNewClientAddsScheme(t *testing.T) {
	c := NewClient("127.0.0.1:8080/")

	if c.baseURL != "http://127.0.0.1:8080" {
		t.Errorf("unexpected base url %q", c.baseURL)
	}
}

func TestVotingRound(t *testing.T) {
	node := newTestNode(t)
	c := node.client

	admin := c.NewSession(owner)
	user := c.NewSession(voter)

	rd, err := admin.CreateRound(10, 20, 30)
	if err != nil {
		t.Fatalf("create round: %v", err)
	}

	*node.now = 15
	for i := 0; i < 3; i++ {
		if _, err := user.CreateIssue(payee); err != nil {
			t.Fatalf("create issue: %v", err)
		}
	}

	if _, err := user.Stake("500", ""); err != nil {
		t.Fatalf("stake: %v", err)
	}

	*node.now = 25

	yes, err := PledgeBitmap(rd.Anchor, map[uint64]uint8{1: 11, 3: 1})
	if err != nil {
		t.Fatalf("pledge bitmap: %v", err)
	}

	if _, err := user.VoteYes(yes); err != nil {
		t.Fatalf("vote yes: %v", err)
	}

	no, err := ResponseBitmap(rd.Anchor, 2)
	if err != nil {
		t.Fatalf("response bitmap: %v", err)
	}

	ballot, err := user.VoteNo(no)
	if err != nil {
		t.Fatalf("vote no: %v", err)
	}
	if ballot.Voted != "0x7" {
		t.Errorf("expected all three issues answered, got %s", ballot.Voted)
	}

	tally, err := c.Tally(rd.ID)
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if len(tally) != 3 || tally[0].Weight != 11 || tally[1].Weight != 0 || tally[2].Weight != 1 {
		t.Errorf("unexpected tally: %+v", tally)
	}

	unvoted, err := c.Unvoted(rd.ID, voter)
	if err != nil {
		t.Fatalf("unvoted: %v", err)
	}
	if len(unvoted) != 0 {
		t.Errorf("expected no unvoted issues, got %v", unvoted)
	}

	_, err = user.VoteNo(no)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusConflict {
		t.Errorf("expected status 409, got %d", apiErr.Status)
	}
}

func TestWithdrawalWithSignedApproval(t *testing.T) {
	node := newTestNode(t)
	c := node.client

	if _, err := c.NewSession(voter).Stake("1000", "1000"); err != nil {
		t.Fatalf("stake: %v", err)
	}

	if err := node.router.SetRate(4, 5); err != nil {
		t.Fatalf("set rate: %v", err)
	}

	first := c.NewSession(signer1)
	second := c.NewSession(signer2).WithBLSKey(node.key)

	req, err := first.RequestWithdrawal("150")
	if err != nil {
		t.Fatalf("request withdrawal: %v", err)
	}

	if _, err := first.Approve(req.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	approved, err := second.Approve(req.ID)
	if err != nil {
		t.Fatalf("signed approve: %v", err)
	}
	if approved.Status != "approved" || len(approved.Approvals) != 2 {
		t.Fatalf("unexpected approval state: %+v", approved)
	}

	done, err := second.Disperse(req.ID, []common.Address{payee}, []string{"150"})
	if err != nil {
		t.Fatalf("disperse: %v", err)
	}
	if !done.Dispersed {
		t.Error("expected dispersed request")
	}

	paid, err := c.NewSession(payee).Claim()
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if paid != "150" {
		t.Errorf("expected 150 paid, got %s", paid)
	}

	data, err := c.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	raw, err := snapshot.Decompress(data)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if _, err := snapshot.Verify(raw); err != nil {
		t.Fatalf("verify snapshot: %v", err)
	}
}

func TestOwnershipTransfer(t *testing.T) {
	node := newTestNode(t)
	c := node.client

	if err := c.NewSession(voter).TransferOwnership(voter); err == nil {
		t.Fatal("expected non-owner transfer to fail")
	}

	if err := c.NewSession(owner).TransferOwnership(voter); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}

	st, err := c.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Owner != voter {
		t.Errorf("expected owner %s, got %s", voter.Hex(), st.Owner.Hex())
	}

	evs, err := c.Events(1, 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 1 || evs[0].Kind != "ownership_transferred" {
		t.Errorf("unexpected events: %+v", evs)
	}
}
