// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
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
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")
	ErrExpired         = errors.New("expired")

	// Business rule errors
	ErrPolicyViolation = errors.New("policy violation")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrOptimisticLock         = errors.New("optimistic lock failure")
	ErrIdempotencyConflict    = errors.New("idempotency token reused with different input")

	// External service errors
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "subscription", "group", "curriculum"
	Op      string // Operation that failed, e.g., "Promote", "Update"
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

// Is implements errors.Is() matching.
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
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Curriculum domain errors
var (
	ErrCurriculumNotFound = NewDomainError("curriculum", "Find", ErrNotFound, "curriculum not found")
	ErrInvalidCurriculum  = NewDomainError("curriculum", "Validate", ErrValidation, "invalid curriculum")
	ErrLevelNotFound      = NewDomainError("curriculum", "FindLevel", ErrNotFound, "level not found")
)

// Subscription domain errors
var (
	ErrSubscriptionNotFound = NewDomainError("subscription", "Find", ErrNotFound, "subscription not found")
	ErrSubscriptionExists   = NewDomainError("subscription", "Create", ErrAlreadyExists, "subscription already exists")
	ErrSubscriptionConflict = NewDomainError("subscription", "Update", ErrConcurrentModification, "subscription was modified concurrently")
	ErrSubscriptionLocked   = NewDomainError("subscription", "Lock", ErrConcurrentModification, "another operation is in progress for this subscription")
)

// Group domain errors
var (
	ErrGroupNotFound      = NewDomainError("group", "Find", ErrNotFound, "group not found")
	ErrGroupExists        = NewDomainError("group", "Create", ErrAlreadyExists, "group already exists")
	ErrGroupConflict      = NewDomainError("group", "Update", ErrConcurrentModification, "group was modified concurrently")
	ErrInvalidGroupBounds = NewDomainError("group", "Validate", ErrValueOutOfRange, "group size bounds are invalid")
	ErrGroupNotReady      = NewDomainError("group", "Activate", ErrStateTransition, "group roster is not ready")
)

// Saga errors
var (
	ErrPromotionRunNotFound = NewDomainError("promotion_run", "Find", ErrNotFound, "promotion run not found")
	ErrPromotionRunConflict = NewDomainError("promotion_run", "Update", ErrConcurrentModification, "promotion run was modified concurrently")
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

// IsPolicyViolation checks if a business rule rejected the operation.
func IsPolicyViolation(err error) bool {
	return errors.Is(err, ErrPolicyViolation)
}

// IsConcurrency checks if the error is an optimistic-concurrency conflict.
func IsConcurrency(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrOptimisticLock)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		IsConcurrency(err)
}
