package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation and lookup failures.
var (
	ErrInvalidCriteria  = errors.New("invalid search criteria")
	ErrMissingBrand     = errors.New("brand is required")
	ErrUnknownFuel      = errors.New("unknown fuel type")
	ErrUnknownGearbox   = errors.New("unknown gearbox type")
	ErrInvalidThreshold = errors.New("threshold out of range")
	ErrThresholdOrder   = errors.New("medium threshold above high threshold")
	ErrMissingListingID = errors.New("listing id is required")
	ErrFetchExhausted   = errors.New("retries exhausted")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrNotFound         = errors.New("not found")
)

// ValidationError wraps a sentinel with the offending field and value.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
