package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates that the request conflicts with current state.
	ErrConflict = errors.New("conflict")

	// ErrServiceUnavailable indicates that an external service is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrInvariantViolation indicates that persisted state contradicts a
	// precondition of the status machine. Always a defect.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrLockNotAcquired indicates that a review-scoped lock could not be
	// acquired within its wait timeout.
	ErrLockNotAcquired = errors.New("lock not acquired")

	// ErrInternalError indicates an internal server error.
	ErrInternalError = errors.New("internal error")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ConflictError reports a write rejected because of existing state, such as a
// duplicate screening or a frozen review.
type ConflictError struct {
	Entity string
	Reason string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Entity, e.Reason)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// ExternalServiceError wraps a failure of the matcher, classifier, lock
// service or any other collaborator outside the process.
type ExternalServiceError struct {
	Service string
	Op      string
	Cause   error
}

// Error implements the error interface.
func (e *ExternalServiceError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s %s: service unavailable", e.Service, e.Op)
	}
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Cause)
}

// Unwrap exposes both the sentinel and the cause.
func (e *ExternalServiceError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrServiceUnavailable}
	}
	return []error{ErrServiceUnavailable, e.Cause}
}

// InvariantViolation is raised when a cascade step finds state inconsistent
// with its precondition. It must abort the enclosing transaction.
type InvariantViolation struct {
	Op     string
	Detail string
}

// Error implements the error interface.
func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation in %s: %s", e.Op, e.Detail)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *InvariantViolation) Unwrap() error {
	return ErrInvariantViolation
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewConflictError creates a new ConflictError.
func NewConflictError(entity, reason string) *ConflictError {
	return &ConflictError{
		Entity: entity,
		Reason: reason,
	}
}

// NewExternalServiceError creates a new ExternalServiceError.
func NewExternalServiceError(service, op string, cause error) *ExternalServiceError {
	return &ExternalServiceError{
		Service: service,
		Op:      op,
		Cause:   cause,
	}
}

// NewInvariantViolation creates a new InvariantViolation.
func NewInvariantViolation(op, format string, args ...any) *InvariantViolation {
	return &InvariantViolation{
		Op:     op,
		Detail: fmt.Sprintf(format, args...),
	}
}
