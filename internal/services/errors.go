package services

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidStake    = errors.New("invalid stake")
	ErrInvalidMode     = errors.New("invalid mode")
	ErrAlreadyQueued   = errors.New("already waiting in a lobby")
	ErrNotQueued       = errors.New("not waiting in a lobby")
)

const (
	EntitlementInsufficientFunds = "insufficient_funds"
	EntitlementPremiumRequired   = "premium_required"
	EntitlementBlocked           = "blocked"
)

// EntitlementError is returned when a user may not enter a competition. It
// is surfaced to the user and never retried.
type EntitlementError struct {
	UserID string
	Reason string
	Err    error
}

func (e *EntitlementError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("entitlement error for %s: %s: %v", e.UserID, e.Reason, e.Err)
	}
	return fmt.Sprintf("entitlement error for %s: %s", e.UserID, e.Reason)
}

func (e *EntitlementError) Unwrap() error {
	return e.Err
}
