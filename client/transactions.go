package client

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"YieldRounds/internal/access"
	"YieldRounds/internal/api"
)

// Session acts on a node as one caller.
// The identity header it sends must match what the upstream provider would set.
type Session struct {
	client *Client
	caller common.Address
	blsKey *access.BLSKeyPair // blsKey signs approvals when set
}

// NewSession returns a session sending requests as caller.
func (c *Client) NewSession(caller common.Address) *Session {
	return &Session{client: c, caller: caller}
}

// WithBLSKey makes Approve send signatures made with key.
func (s *Session) WithBLSKey(key *access.BLSKeyPair) *Session {
	s.blsKey = key
	return s
}

// Caller returns the session's address.
func (s *Session) Caller() common.Address {
	return s.caller
}

// CreateRound opens a round.
func (s *Session) CreateRound(regStart, votingStart, votingEnd int64) (api.RoundResponse, error) {
	var out api.RoundResponse
	body := api.CreateRoundRequest{RegistrationStart: regStart, VotingStart: votingStart, VotingEnd: votingEnd}

	if err := s.client.doJSON("POST", "/rounds", s.caller, body, &out); err != nil {
		return api.RoundResponse{}, fmt.Errorf("create round:\n%w", err)
	}

	return out, nil
}

// CancelRound cancels a round before its voting starts.
func (s *Session) CancelRound(id uint64) (api.RoundResponse, error) {
	var out api.RoundResponse

	if err := s.client.doJSON("POST", fmt.Sprintf("/rounds/%d/cancel", id), s.caller, nil, &out); err != nil {
		return api.RoundResponse{}, fmt.Errorf("cancel round:\n%w", err)
	}

	return out, nil
}

// CreateIssue registers an issue paying receiver.
func (s *Session) CreateIssue(receiver common.Address) (api.IssueResponse, error) {
	var out api.IssueResponse

	if err := s.client.doJSON("POST", "/issues", s.caller, api.CreateIssueRequest{Receiver: receiver}, &out); err != nil {
		return api.IssueResponse{}, fmt.Errorf("create issue:\n%w", err)
	}

	return out, nil
}

// DeactivateIssue withdraws an issue from voting.
func (s *Session) DeactivateIssue(id uint64) (api.IssueResponse, error) {
	var out api.IssueResponse

	if err := s.client.doJSON("POST", fmt.Sprintf("/issues/%d/deactivate", id), s.caller, nil, &out); err != nil {
		return api.IssueResponse{}, fmt.Errorf("deactivate issue:\n%w", err)
	}

	return out, nil
}

// VoteYes sends a pledge bitmap (see PledgeBitmap).
func (s *Session) VoteYes(bitmap string) (api.BallotResponse, error) {
	var out api.BallotResponse

	if err := s.client.doJSON("POST", "/votes/yes", s.caller, api.BitmapRequest{Bitmap: bitmap}, &out); err != nil {
		return api.BallotResponse{}, fmt.Errorf("vote yes:\n%w", err)
	}

	return out, nil
}

// VoteNo sends a response bitmap (see ResponseBitmap).
func (s *Session) VoteNo(bitmap string) (api.BallotResponse, error) {
	var out api.BallotResponse

	if err := s.client.doJSON("POST", "/votes/no", s.caller, api.BitmapRequest{Bitmap: bitmap}, &out); err != nil {
		return api.BallotResponse{}, fmt.Errorf("vote no:\n%w", err)
	}

	return out, nil
}

// Stake deposits value native units. An empty minOut accepts any output.
func (s *Session) Stake(value, minOut string) (api.ConversionResponse, error) {
	var out api.ConversionResponse

	if err := s.client.doJSON("POST", "/stake", s.caller, api.StakeRequest{Value: value, MinOut: minOut}, &out); err != nil {
		return api.ConversionResponse{}, fmt.Errorf("stake:\n%w", err)
	}

	return out, nil
}

// Unstake withdraws amount of principal. An empty minOut accepts any output.
func (s *Session) Unstake(amount, minOut string) (api.ConversionResponse, error) {
	var out api.ConversionResponse

	if err := s.client.doJSON("POST", "/unstake", s.caller, api.UnstakeRequest{Amount: amount, MinOut: minOut}, &out); err != nil {
		return api.ConversionResponse{}, fmt.Errorf("unstake:\n%w", err)
	}

	return out, nil
}

// Claim transfers the session's payout credit.
func (s *Session) Claim() (string, error) {
	var out api.ClaimResponse

	if err := s.client.doJSON("POST", "/payouts/claim", s.caller, nil, &out); err != nil {
		return "", fmt.Errorf("claim payout:\n%w", err)
	}

	return out.Paid, nil
}

// RequestWithdrawal proposes moving amount yield units out of the pool.
func (s *Session) RequestWithdrawal(amount string) (api.WithdrawalResponse, error) {
	var out api.WithdrawalResponse

	if err := s.client.doJSON("POST", "/withdrawals", s.caller, api.WithdrawalCreateRequest{Amount: amount}, &out); err != nil {
		return api.WithdrawalResponse{}, fmt.Errorf("request withdrawal:\n%w", err)
	}

	return out, nil
}

// Approve approves request id, signing its digest when the session has a BLS key.
func (s *Session) Approve(id uint64) (api.WithdrawalResponse, error) {
	var body api.ApproveRequest

	if s.blsKey != nil {
		req, err := s.client.Withdrawal(id)
		if err != nil {
			return api.WithdrawalResponse{}, fmt.Errorf("fetch withdrawal:\n%w", err)
		}

		digest, err := hexutil.Decode(req.Digest)
		if err != nil {
			return api.WithdrawalResponse{}, fmt.Errorf("decode digest:\n%w", err)
		}

		body.Signature = hexutil.Encode(s.blsKey.Sign(digest))
	}

	var out api.WithdrawalResponse
	if err := s.client.doJSON("POST", fmt.Sprintf("/withdrawals/%d/approve", id), s.caller, body, &out); err != nil {
		return api.WithdrawalResponse{}, fmt.Errorf("approve withdrawal:\n%w", err)
	}

	return out, nil
}

// Disperse pays request id out to recipients.
func (s *Session) Disperse(id uint64, recipients []common.Address, values []string) (api.WithdrawalResponse, error) {
	var out api.WithdrawalResponse
	body := api.DisperseRequest{Recipients: recipients, Values: values}

	if err := s.client.doJSON("POST", fmt.Sprintf("/withdrawals/%d/disperse", id), s.caller, body, &out); err != nil {
		return api.WithdrawalResponse{}, fmt.Errorf("disperse donation:\n%w", err)
	}

	return out, nil
}

// TransferOwnership hands the owner role to newOwner.
func (s *Session) TransferOwnership(newOwner common.Address) error {
	if err := s.client.doJSON("POST", "/owner", s.caller, api.TransferOwnershipRequest{NewOwner: newOwner}, nil); err != nil {
		return fmt.Errorf("transfer ownership:\n%w", err)
	}

	return nil
}
