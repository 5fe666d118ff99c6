package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Auth errors
	CodeAuthRequired  = "AUTH_REQUIRED"
	CodeAuthTransient = "AUTH_TRANSIENT"
	CodeForbidden     = "FORBIDDEN"

	// Provider errors
	CodeProviderRateLimited = "PROVIDER_RATE_LIMITED"
	CodeProviderError       = "PROVIDER_ERROR"
	CodeResyncRequired      = "RESYNC_REQUIRED"

	// Validation errors
	CodeValidation   = "VALIDATION_FAILED"
	CodeBadRequest   = "BAD_REQUEST"
	CodeMissingField = "MISSING_FIELD"

	// Resource errors
	CodeNotFound = "NOT_FOUND"
	CodeConflict = "CONFLICT"

	// Infrastructure errors
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeQueueUnavailable = "QUEUE_UNAVAILABLE"
	CodeDatabaseError    = "DATABASE_ERROR"

	// Task errors
	CodeCancelled = "CANCELLED"

	// Internal errors
	CodeInternal = "INTERNAL_ERROR"
	CodeTimeout  = "TIMEOUT"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// HTTPStatus returns the HTTP status code
func (e *AppError) HTTPStatus() int {
	return e.Status
}

// Constructor functions
func New(code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Auth errors
func AuthRequired(message string) *AppError {
	if message == "" {
		message = "relogin required"
	}
	return &AppError{
		Code:    CodeAuthRequired,
		Message: message,
		Status:  http.StatusUnauthorized,
	}
}

func AuthTransient(err error) *AppError {
	return &AppError{
		Code:    CodeAuthTransient,
		Message: "token refresh failed, retry later",
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

func Forbidden(message string) *AppError {
	if message == "" {
		message = "forbidden"
	}
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
		Status:  http.StatusForbidden,
	}
}

// Provider errors
func ProviderRateLimited(err error) *AppError {
	return &AppError{
		Code:    CodeProviderRateLimited,
		Message: "provider rate limit hit",
		Status:  http.StatusTooManyRequests,
		Err:     err,
	}
}

func ProviderError(status int, body string) *AppError {
	return &AppError{
		Code:    CodeProviderError,
		Message: fmt.Sprintf("provider returned %d", status),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"provider_status": status, "body": body},
	}
}

func ResyncRequired(err error) *AppError {
	return &AppError{
		Code:    CodeResyncRequired,
		Message: "delta cursor expired, full sync required",
		Status:  http.StatusGone,
		Err:     err,
	}
}

// Validation errors
func BadRequest(message string) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func MissingField(field string) *AppError {
	return &AppError{
		Code:    CodeMissingField,
		Message: fmt.Sprintf("missing required field: %s", field),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

// Resource errors
func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
		Status:  http.StatusConflict,
	}
}

// Infrastructure errors
func StoreUnavailable(err error) *AppError {
	return &AppError{
		Code:    CodeStoreUnavailable,
		Message: "store pool exhausted and ephemeral connection failed",
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

func QueueUnavailable(err error) *AppError {
	return &AppError{
		Code:    CodeQueueUnavailable,
		Message: "broker unreachable",
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

func DatabaseError(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeDatabaseError,
		Message: fmt.Sprintf("database error: %s", operation),
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Task errors
func Cancelled(message string) *AppError {
	if message == "" {
		message = "cancelled by user"
	}
	return &AppError{
		Code:    CodeCancelled,
		Message: message,
		Status:  http.StatusConflict,
	}
}

// Internal errors
func Internal(message string) *AppError {
	if message == "" {
		message = "internal server error"
	}
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func InternalWithError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "internal server error",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func Timeout(operation string) *AppError {
	return &AppError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("operation timed out: %s", operation),
		Status:  http.StatusGatewayTimeout,
	}
}

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalWithError(err)
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// IsCode reports whether err carries the given application error code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Retryable reports whether the error is transient and worth retrying.
func Retryable(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case CodeAuthTransient, CodeProviderRateLimited, CodeQueueUnavailable, CodeStoreUnavailable, CodeTimeout:
		return true
	}
	return false
}

// NeedsRelogin reports whether the error means the group must log in again.
func NeedsRelogin(err error) bool {
	return IsCode(err, CodeAuthRequired)
}

// NeedsFullResync reports whether the delta cursor is no longer usable.
func NeedsFullResync(err error) bool {
	return IsCode(err, CodeResyncRequired)
}
