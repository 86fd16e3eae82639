package doorlock

import "errors"

// Common errors shared across flows
var (
	// ErrNotFound indicates a referenced integration, lock or grant does not exist
	ErrNotFound = errors.New("record not found")

	// ErrForbidden indicates the caller does not own the referenced integration
	ErrForbidden = errors.New("forbidden")

	// ErrSetupPending indicates the integration has not completed the authorization-code exchange
	ErrSetupPending = errors.New("integration setup pending")
)
