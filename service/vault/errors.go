package vault

import (
	"errors"
	"fmt"
)

// Sentinel errors for confirm-path state machine violations. None of
// these are retryable on the same path: the caller must either stop or
// start a fresh purchase intent.
var (
	// ErrNotFound is returned for an unknown transaction id.
	ErrNotFound = errors.New("pending transaction not found")

	// ErrForbidden is returned when the caller does not own the record.
	ErrForbidden = errors.New("pending transaction does not belong to user")

	// ErrAlreadySettled is returned when the record is already CONFIRMED.
	ErrAlreadySettled = errors.New("pending transaction already confirmed")

	// ErrAlreadyFailed is returned when the record is already FAILED.
	// A new purchase intent must be created to retry.
	ErrAlreadyFailed = errors.New("pending transaction already failed")

	// ErrExpired is returned when the record is EXPIRED or its expiry
	// window has passed.
	ErrExpired = errors.New("pending transaction expired")
)

// ValidationError indicates malformed input. The caller must correct the
// input and retry; nothing was persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func validationErr(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
