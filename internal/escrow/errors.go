package escrow

import "fmt"

// AuthorizationError is returned when the caller is not allowed to perform
// the operation (wrong client, unapproved freelancer, non-owner admin call).
type AuthorizationError struct{ Msg string }

func (e *AuthorizationError) Error() string { return e.Msg }

// StateError is returned when the operation is invalid for the current state
// of a job, freelancer or certificate.
type StateError struct{ Msg string }

func (e *StateError) Error() string { return e.Msg }

// ValueError wraps a user-facing validation message for out-of-bounds
// amounts, times, fees and ranges.
type ValueError struct{ Msg string }

func (e *ValueError) Error() string { return e.Msg }

// ExternalTransferError is returned when a collaborator call (funds ledger or
// token registry) fails. The operation that issued it has been rolled back.
type ExternalTransferError struct {
	Op  string
	Err error
}

func (e *ExternalTransferError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ExternalTransferError) Unwrap() error { return e.Err }

// ErrJobNotFound is returned for job ids that were never issued.
var ErrJobNotFound = &StateError{Msg: "job not found"}

// ErrNoFunds is returned by Withdraw when the caller's balance is zero.
var ErrNoFunds = &ValueError{Msg: "no funds"}

func authErr(format string, args ...any) error {
	return &AuthorizationError{Msg: fmt.Sprintf(format, args...)}
}

func stateErr(format string, args ...any) error {
	return &StateError{Msg: fmt.Sprintf(format, args...)}
}

func valueErr(format string, args ...any) error {
	return &ValueError{Msg: fmt.Sprintf(format, args...)}
}
