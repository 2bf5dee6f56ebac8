package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient bones")

	// ErrAccountNotFound is returned by LookupAccount for a user with no account.
	ErrAccountNotFound = errors.New("account not found")

	// ErrShareNotFound is returned for an unknown share ID.
	ErrShareNotFound = errors.New("share not found")

	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation error")
)

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
