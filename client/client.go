// Package client is a typed HTTP client for a yieldd node.
package client

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"YieldRounds/internal/api"
	"YieldRounds/internal/votecodec"
)

// Client connects to a yieldd node via HTTP.
type Client struct {
	baseURL string       // baseURL is the node root (e.g. "http://127.0.0.1:8080")
	http    *http.Client // http performs the requests
}

// NewClient creates a client for the node at nodeAddr.
// nodeAddr may be a host:port or a full URL.
func NewClient(nodeAddr string) *Client {
	base := strings.TrimRight(nodeAddr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Health checks that the node answers.
func (c *Client) Health() error {
	var resp map[string]string
	if err := c.doJSON("GET", "/health", common.Address{}, nil, &resp); err != nil {
		return fmt.Errorf("health:\n%w", err)
	}

	if resp["status"] != "ok" {
		return fmt.Errorf("node unhealthy: %q", resp["status"])
	}

	return nil
}

// Status fetches the node summary.
func (c *Client) Status() (api.StatusResponse, error) {
	var st api.StatusResponse
	err := c.doJSON("GET", "/status", common.Address{}, nil, &st)
	return st, err
}

// Rounds lists every round.
func (c *Client) Rounds() ([]api.RoundResponse, error) {
	var out []api.RoundResponse
	err := c.doJSON("GET", "/rounds", common.Address{}, nil, &out)
	return out, err
}

// Round fetches one round.
func (c *Client) Round(id uint64) (api.RoundResponse, error) {
	var out api.RoundResponse
	err := c.doJSON("GET", fmt.Sprintf("/rounds/%d", id), common.Address{}, nil, &out)
	return out, err
}

// Issues lists the issues of a round.
func (c *Client) Issues(roundID uint64) ([]api.IssueResponse, error) {
	var out []api.IssueResponse
	err := c.doJSON("GET", fmt.Sprintf("/rounds/%d/issues", roundID), common.Address{}, nil, &out)
	return out, err
}

// Issue fetches one issue.
func (c *Client) Issue(id uint64) (api.IssueResponse, error) {
	var out api.IssueResponse
	err := c.doJSON("GET", fmt.Sprintf("/issues/%d", id), common.Address{}, nil, &out)
	return out, err
}

// Tally fetches the per-issue yes weights of a round.
func (c *Client) Tally(roundID uint64) ([]api.TallyEntry, error) {
	var out []api.TallyEntry
	err := c.doJSON("GET", fmt.Sprintf("/rounds/%d/tally", roundID), common.Address{}, nil, &out)
	return out, err
}

// Ballot fetches user's ballot in a round.
func (c *Client) Ballot(roundID uint64, user common.Address) (api.BallotResponse, error) {
	var out api.BallotResponse
	err := c.doJSON("GET", fmt.Sprintf("/rounds/%d/ballots/%s", roundID, user.Hex()), common.Address{}, nil, &out)
	return out, err
}

// Unvoted lists the active issues of a round that user has not answered.
func (c *Client) Unvoted(roundID uint64, user common.Address) ([]uint64, error) {
	var out []uint64
	err := c.doJSON("GET", fmt.Sprintf("/rounds/%d/unvoted/%s", roundID, user.Hex()), common.Address{}, nil, &out)
	return out, err
}

// Deposit fetches user's principal and payout credit.
func (c *Client) Deposit(user common.Address) (api.DepositResponse, error) {
	var out api.DepositResponse
	err := c.doJSON("GET", "/deposits/"+user.Hex(), common.Address{}, nil, &out)
	return out, err
}

// Withdrawal fetches one withdrawal request.
func (c *Client) Withdrawal(id uint64) (api.WithdrawalResponse, error) {
	var out api.WithdrawalResponse
	err := c.doJSON("GET", fmt.Sprintf("/withdrawals/%d", id), common.Address{}, nil, &out)
	return out, err
}

// Events fetches up to limit journal entries starting at seq from.
func (c *Client) Events(from uint64, limit int) ([]api.EventResponse, error) {
	var out []api.EventResponse
	err := c.doJSON("GET", fmt.Sprintf("/events?from=%d&limit=%d", from, limit), common.Address{}, nil, &out)
	return out, err
}

// Snapshot downloads the compressed snapshot of the node's records.
func (c *Client) Snapshot() ([]byte, error) {
	resp, err := c.send("GET", "/snapshot", common.Address{}, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot:\n%w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// PledgeBitmap encodes yes weights for the issues of a round starting at anchor.
func PledgeBitmap(anchor uint64, weights map[uint64]uint8) (string, error) {
	ids := make([]uint64, 0, len(weights))
	ws := make([]uint8, 0, len(weights))
	for id, w := range weights {
		ids = append(ids, id)
		ws = append(ws, w)
	}

	bitmap, err := votecodec.EncodePledges(ids, ws, anchor)
	if err != nil {
		return "", err
	}

	return api.FormatBitmap(bitmap), nil
}

// ResponseBitmap encodes no answers for the issues of a round starting at anchor.
func ResponseBitmap(anchor uint64, ids ...uint64) (string, error) {
	bitmap, err := votecodec.EncodeResponses(ids, anchor)
	if err != nil {
		return "", err
	}

	return api.FormatBitmap(bitmap), nil
}
