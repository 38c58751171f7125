package api

import (
	"errors"
	"net/http"

	"YieldRounds/internal/access"
	"YieldRounds/internal/engine"
	"YieldRounds/internal/issue"
	"YieldRounds/internal/ledger"
	"YieldRounds/internal/round"
	"YieldRounds/internal/vault"
	"YieldRounds/internal/votecodec"
	"YieldRounds/internal/withdrawal"
)

// errorClass groups engine errors that share a status code.
type errorClass struct {
	kind   string
	status int
	errs   []error
}

// errorClasses is checked in order; the first class containing a match wins.
var errorClasses = []errorClass{
	{kind: "reentrancy", status: http.StatusLocked, errs: []error{
		engine.ErrReentrantCall,
	}},
	{kind: "storage", status: http.StatusServiceUnavailable, errs: []error{
		engine.ErrStateDiverged,
	}},
	{kind: "authorization", status: http.StatusForbidden, errs: []error{
		engine.ErrUnauthorized,
		access.ErrNotAdmin,
		access.ErrBadSignature,
		access.ErrNoSignerKey,
	}},
	{kind: "slippage", status: http.StatusUnprocessableEntity, errs: []error{
		vault.ErrSlippage,
		vault.ErrTransferFailed,
	}},
	{kind: "not_found", status: http.StatusNotFound, errs: []error{
		round.ErrRoundNotFound,
		issue.ErrIssueNotFound,
		withdrawal.ErrRequestNotFound,
	}},
	{kind: "encoding", status: http.StatusBadRequest, errs: []error{
		votecodec.ErrInvalidIssueID,
		votecodec.ErrWeightOutOfRange,
		votecodec.ErrLengthMismatch,
		ledger.ErrEmptyBallot,
		withdrawal.ErrLengthMismatch,
		withdrawal.ErrInvalidRecipient,
		withdrawal.ErrZeroAmount,
		vault.ErrZeroAmount,
		issue.ErrZeroReceiver,
		engine.ErrInvalidOwner,
	}},
	{kind: "timing", status: http.StatusConflict, errs: []error{
		round.ErrInvalidRoundTiming,
		round.ErrVotingAlreadyStarted,
		engine.ErrRegistrationClosed,
		engine.ErrVotingClosed,
		engine.ErrNoActiveRound,
	}},
}

// classify returns the class of err, or a generic state conflict.
func classify(err error) (string, int) {
	for _, c := range errorClasses {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.kind, c.status
			}
		}
	}

	return "state", http.StatusConflict
}

func statusFor(err error) int {
	_, status := classify(err)
	return status
}

func kindFor(err error) string {
	kind, _ := classify(err)
	return kind
}
