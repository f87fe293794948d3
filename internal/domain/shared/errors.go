// Package shared contains common domain types, errors and events used across
// domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrAlreadyProcessed = errors.New("already processed")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// Infrastructure errors
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progress", "event"
	Op      string // Operation that failed, e.g., "Save", "Validate"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching against the kind and the wrapped error.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
// When err is itself a *DomainError sentinel, errors.Is keeps matching it.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Progress domain errors
var (
	ErrRecordNotFound      = NewDomainError("progress", "Find", ErrNotFound, "progress record not found")
	ErrRecordAlreadyExists = NewDomainError("progress", "Create", ErrAlreadyExists, "progress record already exists")
	ErrVersionConflict     = NewDomainError("progress", "Save", ErrConcurrentModification, "progress record was modified concurrently")
	ErrEmptyUserID         = NewDomainError("progress", "Validate", ErrInvalidID, "user id must not be empty")
	ErrEmptyResourceID     = NewDomainError("progress", "Validate", ErrInvalidID, "resource id must not be empty")
	ErrNegativeXP          = NewDomainError("progress", "Validate", ErrNegativeValue, "xp amount must not be negative")
	ErrInvalidPercent      = NewDomainError("progress", "Validate", ErrValueOutOfRange, "percent must be between 0 and 100")
	ErrXPOverflow          = NewDomainError("progress", "Award", ErrValueOutOfRange, "experience would exceed the maximum")
)

// Event domain errors
var (
	ErrUnknownEvent   = NewDomainError("event", "Validate", ErrInvalidInput, "unknown learning event kind")
	ErrDuplicateEvent = NewDomainError("event", "Claim", ErrAlreadyProcessed, "event already processed")
)

// Infrastructure errors
var (
	ErrStoreUnavailable = NewDomainError("store", "Request", ErrServiceUnavailable, "progress store is unavailable")
	ErrStoreTimeout     = NewDomainError("store", "Request", ErrTimeout, "progress store request timeout")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsConflict checks if the error is an optimistic concurrency conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsUnavailable checks if the error means the backing store cannot be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) || errors.Is(err, ErrTimeout)
}

// IsRetryable checks if the operation can be retried by the caller.
func IsRetryable(err error) bool {
	return IsUnavailable(err) || IsConflict(err)
}
