package api

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"YieldRounds/internal/engine"
	"YieldRounds/internal/event"
	"YieldRounds/internal/issue"
	"YieldRounds/internal/vault"
	"YieldRounds/internal/withdrawal"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type StatusResponse struct {
	Now            int64            `json:"now"`
	Owner          common.Address   `json:"owner"`
	Signers        []common.Address `json:"signers"`
	Threshold      int              `json:"threshold"`
	ActiveRound    uint64           `json:"activeRound"`
	Phase          string           `json:"phase"`
	LastRound      uint64           `json:"lastRound"`
	LastIssue      uint64           `json:"lastIssue"`
	TotalPrincipal string           `json:"totalPrincipal"`
	YieldBalance   string           `json:"yieldBalance"`
	LastEvent      uint64           `json:"lastEvent"`
	Degraded       bool             `json:"degraded"`
}

type CreateRoundRequest struct {
	RegistrationStart int64 `json:"registrationStart"`
	VotingStart       int64 `json:"votingStart"`
	VotingEnd         int64 `json:"votingEnd"`
}

type RoundResponse struct {
	ID                uint64 `json:"id"`
	RegistrationStart int64  `json:"registrationStart"`
	VotingStart       int64  `json:"votingStart"`
	VotingEnd         int64  `json:"votingEnd"`
	Active            bool   `json:"active"`
	Cancelled         bool   `json:"cancelled"`
	Phase             string `json:"phase"`
	Anchor            uint64 `json:"anchor"`
	IssueCount        uint64 `json:"issueCount"`
}

type CreateIssueRequest struct {
	Receiver common.Address `json:"receiver"`
}

type IssueResponse struct {
	ID        uint64         `json:"id"`
	RoundID   uint64         `json:"roundId"`
	Receiver  common.Address `json:"receiver"`
	Creator   common.Address `json:"creator"`
	CreatedAt int64          `json:"createdAt"`
	Active    bool           `json:"active"`
}

// BitmapRequest carries a response or pledge bitmap.
type BitmapRequest struct {
	Bitmap string `json:"bitmap"`
}

type BallotResponse struct {
	RoundID uint64 `json:"roundId"`
	Anchor  uint64 `json:"anchor"`
	Voted   string `json:"voted"`
	Pledges string `json:"pledges"`
}

type TallyEntry struct {
	IssueID uint64 `json:"issueId"`
	Active  bool   `json:"active"`
	Weight  uint64 `json:"weight"`
}

type StakeRequest struct {
	Value  string `json:"value"`
	MinOut string `json:"minOut,omitempty"`
}

type UnstakeRequest struct {
	Amount string `json:"amount"`
	MinOut string `json:"minOut,omitempty"`
}

type ConversionResponse struct {
	TokenIn   common.Address `json:"tokenIn"`
	TokenOut  common.Address `json:"tokenOut"`
	AmountIn  string         `json:"amountIn"`
	AmountOut string         `json:"amountOut"`
}

type DepositResponse struct {
	Principal string `json:"principal"`
	Credit    string `json:"credit"`
}

type ClaimResponse struct {
	Paid string `json:"paid"`
}

type WithdrawalCreateRequest struct {
	Amount string `json:"amount"`
}

// ApproveRequest approves a withdrawal. A non-empty Signature is a hex BLS
// signature over the request digest.
type ApproveRequest struct {
	Signature string `json:"signature,omitempty"`
}

type DisperseRequest struct {
	Recipients []common.Address `json:"recipients"`
	Values     []string         `json:"values"`
}

type WithdrawalResponse struct {
	ID          uint64           `json:"id"`
	RoundID     uint64           `json:"roundId"`
	Amount      string           `json:"amount"`
	Requester   common.Address   `json:"requester"`
	CreatedAt   int64            `json:"createdAt"`
	Dispersed   bool             `json:"dispersed"`
	DispersedAt int64            `json:"dispersedAt,omitempty"`
	Status      string           `json:"status"`
	Approvals   []common.Address `json:"approvals"`
	Digest      string           `json:"digest"`
}

type TransferOwnershipRequest struct {
	NewOwner common.Address `json:"newOwner"`
}

type EventResponse struct {
	Seq       uint64         `json:"seq"`
	Kind      string         `json:"kind"`
	Time      int64          `json:"time"`
	Actor     common.Address `json:"actor"`
	Subject   common.Address `json:"subject"`
	RoundID   uint64         `json:"roundId,omitempty"`
	IssueID   uint64         `json:"issueId,omitempty"`
	RequestID uint64         `json:"requestId,omitempty"`
	Amount    string         `json:"amount,omitempty"`
	AmountOut string         `json:"amountOut,omitempty"`
	Bitmap    string         `json:"bitmap,omitempty"`
	PrevHash  string         `json:"prevHash"`
	Hash      string         `json:"hash"`
}

// ParseAmount reads a decimal or 0x-prefixed hex integer. Empty yields nil.
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var (
		x   *uint256.Int
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		x, err = uint256.FromHex(s)
	} else {
		x, err = uint256.FromDecimal(s)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid integer %q: %w", s, err)
	}

	return x, nil
}

// FormatAmount renders x as a decimal string.
func FormatAmount(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}

// FormatBitmap renders x as a 0x-prefixed hex string.
func FormatBitmap(x *uint256.Int) string {
	if x == nil {
		return "0x0"
	}
	return x.Hex()
}

func optionalAmount(x *uint256.Int) string {
	if x == nil {
		return ""
	}
	return x.Dec()
}

func statusResponse(st engine.Status) StatusResponse {
	return StatusResponse{
		Now:            st.Now,
		Owner:          st.Owner,
		Signers:        st.Signers,
		Threshold:      st.Threshold,
		ActiveRound:    st.ActiveRound,
		Phase:          st.Phase.String(),
		LastRound:      st.LastRound,
		LastIssue:      st.LastIssue,
		TotalPrincipal: FormatAmount(st.TotalPrincipal),
		YieldBalance:   FormatAmount(st.YieldBalance),
		LastEvent:      st.LastEvent,
		Degraded:       st.Degraded,
	}
}

func roundResponse(v engine.RoundView) RoundResponse {
	return RoundResponse{
		ID:                v.ID,
		RegistrationStart: v.RegistrationStart,
		VotingStart:       v.VotingStart,
		VotingEnd:         v.VotingEnd,
		Active:            v.Active,
		Cancelled:         v.Cancelled,
		Phase:             v.Phase.String(),
		Anchor:            v.Anchor,
		IssueCount:        v.IssueCount,
	}
}

func issueResponse(is issue.Issue) IssueResponse {
	return IssueResponse{
		ID:        is.ID,
		RoundID:   is.RoundID,
		Receiver:  is.Receiver,
		Creator:   is.Creator,
		CreatedAt: is.CreatedAt,
		Active:    is.Active,
	}
}

func ballotResponse(b engine.BallotView) BallotResponse {
	return BallotResponse{
		RoundID: b.RoundID,
		Anchor:  b.Anchor,
		Voted:   FormatBitmap(b.Voted),
		Pledges: FormatBitmap(b.Pledges),
	}
}

func conversionResponse(c vault.Conversion) ConversionResponse {
	return ConversionResponse{
		TokenIn:   c.TokenIn,
		TokenOut:  c.TokenOut,
		AmountIn:  FormatAmount(c.AmountIn),
		AmountOut: FormatAmount(c.AmountOut),
	}
}

func requestResponse(r withdrawal.Request, status withdrawal.Status, approvals []common.Address) WithdrawalResponse {
	digest := r.Digest()
	if approvals == nil {
		approvals = []common.Address{}
	}

	return WithdrawalResponse{
		ID:          r.ID,
		RoundID:     r.RoundID,
		Amount:      FormatAmount(r.Amount),
		Requester:   r.Requester,
		CreatedAt:   r.CreatedAt,
		Dispersed:   r.Dispersed,
		DispersedAt: r.DispersedAt,
		Status:      status.String(),
		Approvals:   approvals,
		Digest:      hexutil.Encode(digest[:]),
	}
}

func withdrawalResponse(v engine.WithdrawalView) WithdrawalResponse {
	return requestResponse(v.Request, v.Status, v.Approvals)
}

func eventResponse(e event.Event) EventResponse {
	return EventResponse{
		Seq:       e.Seq,
		Kind:      e.Kind.String(),
		Time:      e.Time,
		Actor:     e.Actor,
		Subject:   e.Subject,
		RoundID:   e.RoundID,
		IssueID:   e.IssueID,
		RequestID: e.RequestID,
		Amount:    optionalAmount(e.Amount),
		AmountOut: optionalAmount(e.AmountOut),
		Bitmap:    bitmapOrEmpty(e.Bitmap),
		PrevHash:  hexutil.Encode(e.PrevHash[:]),
		Hash:      hexutil.Encode(e.Hash[:]),
	}
}

func bitmapOrEmpty(x *uint256.Int) string {
	if x == nil {
		return ""
	}
	return x.Hex()
}
