package store

import (
	"errors"
	"fmt"
)

// ErrDuplicate indicates a unique field is already taken by another record
var ErrDuplicate = errors.New("duplicate unique field")

func errDuplicateBaseURL(baseURL string) error {
	return fmt.Errorf("integration base url %q: %w", baseURL, ErrDuplicate)
}

// Tokens are credentials, so only the kind is reported
func errDuplicateToken(kind string) error {
	return fmt.Errorf("%s token: %w", kind, ErrDuplicate)
}

// ErrConflict indicates an optimistic transaction kept losing to concurrent writers
var ErrConflict = errors.New("concurrent update conflict")
