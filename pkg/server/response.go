// Copyright 2025 Trustcompute Protocol
//
// Shared JSON response helpers and component-error-to-status-code mapping
// for every handler in this package, grounded on the teacher's
// pkg/server/proof_handlers.go writeJSON/writeError pair.

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/trustcompute/protocol/pkg/bisection"
	"github.com/trustcompute/protocol/pkg/escrow"
	"github.com/trustcompute/protocol/pkg/verifier"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// writeComponentError maps a component sentinel error to an HTTP status
// and writes it; unrecognized errors become 500s rather than leaking
// internals to the caller.
func writeComponentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, escrow.ErrJobNotFound), errors.Is(err, escrow.ErrModuleNotFound),
		errors.Is(err, verifier.ErrNotRegistered), errors.Is(err, bisection.ErrChallengeNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, escrow.ErrDuplicateJob), errors.Is(err, verifier.ErrAlreadyRegistered):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, escrow.ErrNotAuthorized), errors.Is(err, bisection.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, escrow.ErrInvalidTransition), errors.Is(err, escrow.ErrInvalidDeadlines),
		errors.Is(err, escrow.ErrInvalidAmount), errors.Is(err, escrow.ErrInputTooLarge),
		errors.Is(err, escrow.ErrModuleTooLarge), errors.Is(err, escrow.ErrReceiptExists),
		errors.Is(err, escrow.ErrBadSignature), errors.Is(err, escrow.ErrOutputDigestUnset),
		errors.Is(err, escrow.ErrDeadlineLapsed), errors.Is(err, escrow.ErrDeadlineNotLapsed),
		errors.Is(err, verifier.ErrStakeTooLow), errors.Is(err, verifier.ErrRegionConcentrated),
		errors.Is(err, verifier.ErrBanned), errors.Is(err, verifier.ErrPendingResponsibilities),
		errors.Is(err, verifier.ErrInsufficientPool), errors.Is(err, verifier.ErrDrawCapExceeded),
		errors.Is(err, bisection.ErrNotInPhase), errors.Is(err, bisection.ErrChallengeResolved),
		errors.Is(err, bisection.ErrCommitRevealMismatch), errors.Is(err, bisection.ErrRevealTooEarly),
		errors.Is(err, bisection.ErrRevealTooLate), errors.Is(err, bisection.ErrJobNotEligible),
		errors.Is(err, bisection.ErrInvalidMerkleProof), errors.Is(err, bisection.ErrRangeAlreadyNarrowed),
		errors.Is(err, bisection.ErrMaxRoundsExceeded), errors.Is(err, bisection.ErrTraceTooLarge),
		errors.Is(err, bisection.ErrRoundTimeout):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, escrow.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "INSUFFICIENT_FUNDS", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "malformed JSON body: "+err.Error())
		return false
	}
	return true
}
