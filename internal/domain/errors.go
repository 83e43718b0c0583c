package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAccountBlocked      = errors.New("account blocked")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidTransition   = errors.New("invalid request status transition")
	ErrIdempotencyConflict = errors.New("request in progress")
	ErrIdempotencyMismatch = errors.New("key reuse with mismatched payload")
)

// ValidationError is a boundary rejection raised before any account is touched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ValidateGrant checks an administrative credit grant.
func ValidateGrant(amount int64, reason Reason) error {
	if amount <= 0 {
		return &ValidationError{Field: "amount", Message: "must be positive"}
	}
	if !reason.Grantable() {
		return &ValidationError{Field: "reason", Message: fmt.Sprintf("%q cannot be granted", reason)}
	}
	return nil
}

// ValidateCost checks the per-analysis debit amount.
func ValidateCost(cost int64) error {
	if cost <= 0 {
		return &ValidationError{Field: "cost", Message: "must be positive"}
	}
	return nil
}
