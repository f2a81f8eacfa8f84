package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeGuardrail     ErrorType = "guardrail"
	ErrorTypeResolution    ErrorType = "resolution"
	ErrorTypeSerialization ErrorType = "serialization"
	ErrorTypePersistence   ErrorType = "persistence"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeUnauthorized  ErrorType = "unauthorized"
	ErrorTypeForbidden     ErrorType = "forbidden"
	ErrorTypeUnavailable   ErrorType = "unavailable"
	ErrorTypeInternal      ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables. They are matched by type with errors.Is; never
// attach details to them directly.

var (
	// Not Found Errors
	ErrUserNotFound  = NewDomainError(ErrorTypeNotFound, "user not found", nil)
	ErrScopeNotFound = NewDomainError(ErrorTypeNotFound, "chain scope not found", nil)

	// Validation Errors
	ErrInvalidInput      = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidSubmission = NewDomainError(ErrorTypeValidation, "invalid security event", nil)

	// Guardrail Errors
	ErrGuardrailViolation = NewDomainError(ErrorTypeGuardrail, "security event guardrails failed", nil)

	// Resolution Errors
	ErrActorResolution = NewDomainError(ErrorTypeResolution, "actor resolution failed", nil)

	// Serialization Errors
	ErrSerializationFailed = NewDomainError(ErrorTypeSerialization, "security event serialization failed", nil)

	// Persistence Errors
	ErrPersistenceFailed = NewDomainError(ErrorTypePersistence, "security event persistence failed", nil)

	// Conflict Errors
	ErrChainConflict = NewDomainError(ErrorTypeConflict, "hash chain append conflict", nil)

	// Authorization Errors
	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidToken = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)
	ErrTokenExpired = NewDomainError(ErrorTypeUnauthorized, "authentication token expired", nil)

	// Permission Errors
	ErrForbidden               = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)
	ErrInsufficientPermissions = NewDomainError(ErrorTypeForbidden, "insufficient permissions", nil)

	// Availability Errors
	ErrQueueFull     = NewDomainError(ErrorTypeUnavailable, "security event queue is full", nil)
	ErrNotRunning    = NewDomainError(ErrorTypeUnavailable, "security event dispatcher is not running", nil)
	ErrWriteTimedOut = NewDomainError(ErrorTypeUnavailable, "security event write timed out", nil)

	// Internal Errors
	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrPipelinePanic = NewDomainError(ErrorTypeInternal, "security event pipeline panicked", nil)
)

// Error type checking helper functions

func hasType(err error, errType ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == errType
	}
	return false
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsGuardrailError checks if an error is a guardrail rejection
func IsGuardrailError(err error) bool {
	return hasType(err, ErrorTypeGuardrail)
}

// IsResolutionError checks if an error is an actor resolution error
func IsResolutionError(err error) bool {
	return hasType(err, ErrorTypeResolution)
}

// IsSerializationError checks if an error is a serialization error
func IsSerializationError(err error) bool {
	return hasType(err, ErrorTypeSerialization)
}

// IsPersistenceError checks if an error is a persistence error
func IsPersistenceError(err error) bool {
	return hasType(err, ErrorTypePersistence)
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return hasType(err, ErrorTypeConflict)
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return hasType(err, ErrorTypeUnauthorized)
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return hasType(err, ErrorTypeForbidden)
}

// IsUnavailableError checks if an error is a temporary unavailability
func IsUnavailableError(err error) bool {
	return hasType(err, ErrorTypeUnavailable)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return hasType(err, ErrorTypeInternal)
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapPersistence wraps a storage failure
func WrapPersistence(message string, err error) error {
	return NewDomainError(ErrorTypePersistence, message, err)
}
