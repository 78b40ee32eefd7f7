package linklockr

import "fmt"

// RelayError is a coded error surfaced by the relay decision engine.
// The code distinguishes malformed input from infrastructure failure from
// the routine economic rejection, so the HTTP layer can map each to its own
// status class.
type RelayError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	// ErrCodeInvalidRequest marks malformed input (bad price, missing
	// field). 400-class.
	ErrCodeInvalidRequest = "invalid_request"
	// ErrCodeUnknownSlug marks a slug with no catalog entry. 404-class.
	ErrCodeUnknownSlug = "unknown_slug"
	// ErrCodeUnprofitable is the kill-switch rejection: relaying would not
	// clear the minimum profit margin. Routine and retryable, 429-class.
	ErrCodeUnprofitable = "unprofitable"
	// ErrCodeSlugInFlight marks a concurrent relay already running for the
	// same slug. Retryable, 429-class.
	ErrCodeSlugInFlight = "slug_in_flight"
	// ErrCodeAlreadySold marks a slug whose purchase was already broadcast.
	ErrCodeAlreadySold = "already_sold"
	// ErrCodePermitFailed marks a permit that expired, reverted, or could
	// not be confirmed. Fatal, never retried by the engine.
	ErrCodePermitFailed = "permit_failed"
	// ErrCodeEstimateFailed marks a failed gas-estimate dry run (item sold,
	// contract paused, insufficient allowance). Fatal, non-retryable.
	ErrCodeEstimateFailed = "estimate_failed"
	// ErrCodeBroadcastFailed marks a transaction that could not be sent.
	ErrCodeBroadcastFailed = "broadcast_failed"
)

// NewRelayError creates a new coded relay error.
func NewRelayError(code, message string, details map[string]interface{}) *RelayError {
	return &RelayError{
		Code:    code,
		Message: message,
		Details: details,
	}
}
