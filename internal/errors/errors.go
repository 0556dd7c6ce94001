// Package errors provides the structured error envelope used across the
// control plane's external and internal HTTP surfaces.
//
// Error Structure:
//   - Code: machine-readable error identifier (e.g. "TOO_MANY_REQUESTS")
//   - Message: human-readable description
//   - Details: optional technical context (not always safe to show callers)
//   - Solution: actionable text suitable for agent-facing display
//   - StatusCode: HTTP status code, derived from Code
//
// Usage patterns:
//
//	return errors.NotFound("session", sessionID)
//	return errors.Wrap(errors.CodeInternal, "container create failed", err)
//	c.JSON(err.StatusCode, err.ToResponse(requestID))
package errors

import (
	"fmt"
	"net/http"
)

// AppError is the standardized application error returned by every
// component on the request path. It never carries control flow by
// itself; callers check err != nil and construct/propagate an *AppError.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"description"`
	Details    string `json:"error_detail,omitempty"`
	Solution   string `json:"solution,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorResponse is the wire format of the structured error envelope from
// spec §7: {error_code, description, error_detail, solution, request_id}.
type ErrorResponse struct {
	ErrorCode   string `json:"error_code"`
	Description string `json:"description"`
	ErrorDetail string `json:"error_detail,omitempty"`
	Solution    string `json:"solution,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}

// Error codes, one per spec §7 taxonomy entry.
const (
	CodeInvalidParameter    = "INVALID_PARAMETER"
	CodeNotFound            = "NOT_FOUND"
	CodeStateConflict       = "STATE_CONFLICT"
	CodeTooManyRequests     = "TOO_MANY_REQUESTS"
	CodeUserExecutionError  = "USER_EXECUTION_ERROR"
	CodeDependencyUnavail   = "DEPENDENCY_UNAVAILABLE"
	CodeInternal            = "INTERNAL_ERROR"
	CodeUnauthorized        = "UNAUTHORIZED"
)

// New creates an AppError with no details.
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusForCode(code)}
}

// NewWithSolution creates an AppError carrying caller-facing remediation text.
func NewWithSolution(code, message, solution string) *AppError {
	return &AppError{Code: code, Message: message, Solution: solution, StatusCode: statusForCode(code)}
}

// Wrap attaches an underlying error as Details without leaking it as the
// primary message.
func Wrap(code, message string, err error) *AppError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &AppError{Code: code, Message: message, Details: details, StatusCode: statusForCode(code)}
}

func statusForCode(code string) int {
	switch code {
	case CodeInvalidParameter:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeStateConflict:
		return http.StatusConflict
	case CodeTooManyRequests:
		return http.StatusServiceUnavailable
	case CodeDependencyUnavail:
		return http.StatusServiceUnavailable
	case CodeUserExecutionError:
		return http.StatusOK
	case CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ToResponse renders the envelope, stamping the request ID for correlation.
func (e *AppError) ToResponse(requestID string) ErrorResponse {
	return ErrorResponse{
		ErrorCode:   e.Code,
		Description: e.Message,
		ErrorDetail: e.Details,
		Solution:    e.Solution,
		RequestID:   requestID,
	}
}

// Convenience constructors used throughout the handlers and services.

func InvalidParameter(message string) *AppError {
	return NewWithSolution(CodeInvalidParameter, message, "Check the request body against the documented schema and retry.")
}

func NotFound(resource, id string) *AppError {
	return NewWithSolution(CodeNotFound, fmt.Sprintf("%s %s not found", resource, id),
		fmt.Sprintf("Verify the %s id; it may have been terminated or never existed.", resource))
}

func StateConflict(message, solution string) *AppError {
	return NewWithSolution(CodeStateConflict, message, solution)
}

func CapacityExhausted(message string) *AppError {
	return NewWithSolution(CodeTooManyRequests, message, "Retry after a short delay, or request a smaller resource footprint.")
}

func UserExecutionError(message string) *AppError {
	return New(CodeUserExecutionError, message)
}

func DependencyUnavailable(service string, err error) *AppError {
	return Wrap(CodeDependencyUnavail, fmt.Sprintf("%s is currently unavailable", service), err)
}

func Internal(message string, err error) *AppError {
	e := Wrap(CodeInternal, message, err)
	e.Solution = "Retry; if the problem persists, contact the platform operator with the request id."
	return e
}

func Unauthorized(message string) *AppError {
	return NewWithSolution(CodeUnauthorized, message, "Supply a valid bearer token for this API surface.")
}
