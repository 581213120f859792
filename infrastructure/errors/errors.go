// Package errors provides the orchestration core's unified error
// taxonomy, per spec.md §7: validation, business-rule, not-found,
// transient-collaborator, permanent-collaborator, compensator-failure,
// and invariant-violation kinds, each carrying an HTTP-equivalent status
// for the facade layer and structured details for diagnostics.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code.
type ErrorCode string

const (
	// Validation errors (input shape/constraints) — rejected before a
	// workflow record exists, per spec.md §7.
	ErrCodeInvalidInput     ErrorCode = "ORC_3001"
	ErrCodeMissingParameter ErrorCode = "ORC_3002"
	ErrCodeInvalidFormat    ErrorCode = "ORC_3003"
	ErrCodeOutOfRange       ErrorCode = "ORC_3004"

	// Business-rule errors (impossible transition given current state).
	ErrCodeInvalidTransition ErrorCode = "ORC_4001"
	ErrCodeIllegalOperation  ErrorCode = "ORC_4002"

	// Not-found errors.
	ErrCodeNotFound ErrorCode = "ORC_4401"

	// Conflict / already-exists.
	ErrCodeAlreadyExists ErrorCode = "ORC_4091"
	ErrCodeConflict      ErrorCode = "ORC_4092"

	// Collaborator failures.
	ErrCodeTransientCollaborator ErrorCode = "ORC_5021"
	ErrCodePermanentCollaborator ErrorCode = "ORC_5022"

	// Saga-specific failures.
	ErrCodeCompensatorFailure  ErrorCode = "ORC_5031"
	ErrCodeHandlerNotFound     ErrorCode = "ORC_5032"
	ErrCodeInvariantViolation  ErrorCode = "ORC_5091"

	// Generic internal/database failures.
	ErrCodeInternal      ErrorCode = "ORC_5001"
	ErrCodeDatabaseError ErrorCode = "ORC_5002"
	ErrCodeTimeout       ErrorCode = "ORC_5003"
)

// ServiceError represents a structured error with code, message, and HTTP status.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError.
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error with a ServiceError.
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Validation errors — rejected input shape/constraints, no workflow
// record created (spec.md §7).

func InvalidInput(field, reason string) *ServiceError {
	return New(ErrCodeInvalidInput, "invalid input", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

func MissingParameter(param string) *ServiceError {
	return New(ErrCodeMissingParameter, "missing required parameter", http.StatusBadRequest).
		WithDetails("parameter", param)
}

func InvalidFormat(field, expected string) *ServiceError {
	return New(ErrCodeInvalidFormat, "invalid format", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("expected", expected)
}

func OutOfRange(field string, minValue, maxValue interface{}) *ServiceError {
	return New(ErrCodeOutOfRange, "value out of range", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("min", minValue).
		WithDetails("max", maxValue)
}

// Business-rule errors — an operation that is impossible given the
// current aggregate state, rejected without mutation.

func InvalidTransition(entity, from, to string) *ServiceError {
	return New(ErrCodeInvalidTransition, "illegal state transition", http.StatusConflict).
		WithDetails("entity", entity).
		WithDetails("from", from).
		WithDetails("to", to)
}

func IllegalOperation(operation, reason string) *ServiceError {
	return New(ErrCodeIllegalOperation, "operation not permitted in current state", http.StatusConflict).
		WithDetails("operation", operation).
		WithDetails("reason", reason)
}

// Resource errors.

func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func AlreadyExists(resource, id string) *ServiceError {
	return New(ErrCodeAlreadyExists, "resource already exists", http.StatusConflict).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func Conflict(message string) *ServiceError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

// Collaborator failures (spec.md §7). The saga orchestrator retries every
// handler error up to the step's max_retries whatever its kind; the kind
// only labels the step's final failure, which triggers compensation.

func TransientCollaboratorError(system string, err error) *ServiceError {
	return Wrap(ErrCodeTransientCollaborator, "transient collaborator failure", http.StatusBadGateway, err).
		WithDetails("system", system)
}

func PermanentCollaboratorError(system string, err error) *ServiceError {
	return Wrap(ErrCodePermanentCollaborator, "permanent collaborator failure", http.StatusBadGateway, err).
		WithDetails("system", system)
}

// Saga-specific failures.

func CompensatorFailure(stepName string, err error) *ServiceError {
	return Wrap(ErrCodeCompensatorFailure, "compensator failed", http.StatusInternalServerError, err).
		WithDetails("step", stepName)
}

func HandlerNotFound(name string) *ServiceError {
	return New(ErrCodeHandlerNotFound, "no handler registered for step", http.StatusInternalServerError).
		WithDetails("handler", name)
}

// InvariantViolation reports a core-internal bug: surfaced as 5xx, the
// workflow is marked failed with no automatic compensation attempted
// (spec.md §7 — distinct from a permanent collaborator failure, which
// does compensate).
func InvariantViolation(what string, err error) *ServiceError {
	return Wrap(ErrCodeInvariantViolation, "invariant violation", http.StatusInternalServerError, err).
		WithDetails("invariant", what)
}

// Generic internal/database/timeout errors.

func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

func DatabaseError(operation string, err error) *ServiceError {
	return Wrap(ErrCodeDatabaseError, "database operation failed", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

func Timeout(operation string) *ServiceError {
	return New(ErrCodeTimeout, "operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

// IsServiceError checks if an error is a ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code for an error.
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsTransientCollaborator reports whether err represents a transient
// collaborator failure; the saga orchestrator uses it to label a step
// whose retries were exhausted on a transient error.
func IsTransientCollaborator(err error) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == ErrCodeTransientCollaborator
}
