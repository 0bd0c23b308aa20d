package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeMissingField ErrorCode = "MISSING_FIELD"

	// Authentication errors
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"

	// Signaling errors
	ErrCodeTargetOffline      ErrorCode = "TARGET_OFFLINE"
	ErrCodeCallNotFound       ErrorCode = "CALL_NOT_FOUND"
	ErrCodeInvalidCallState   ErrorCode = "INVALID_CALL_STATE"
	ErrCodeRelayUndeliverable ErrorCode = "RELAY_UNDELIVERABLE"
	ErrCodeSignalingInternal  ErrorCode = "SIGNALING_INTERNAL"

	// Internal errors
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError represents a structured application error with code, message, and HTTP status
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Details    any       `json:"details,omitempty"`
	Err        error     `json:"-"`
}

// Error implements the error interface, returning a formatted error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the given code and message
// The status code defaults to 500 Internal Server Error
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// NewWithStatus creates a new AppError with a specific HTTP status code
func NewWithStatus(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an existing error with an AppError, preserving the original error
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// WithDetails adds additional details to an AppError for debugging
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// Validation errors
func ValidationError(message string) *AppError {
	return NewWithStatus(ErrCodeValidation, message, http.StatusBadRequest)
}

func InvalidInputError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func MissingFieldError(field string) *AppError {
	return NewWithStatus(ErrCodeMissingField, fmt.Sprintf("Missing required field: %s", field), http.StatusBadRequest)
}

// Authentication errors
func UnauthorizedError(message string) *AppError {
	return NewWithStatus(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidTokenError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidToken, message, http.StatusUnauthorized)
}

// Signaling errors

// TargetOfflineError reports an initiate against a user with no registered connection
func TargetOfflineError(userID string) *AppError {
	return NewWithStatus(ErrCodeTargetOffline, fmt.Sprintf("User %s has no active connection", userID), http.StatusNotFound)
}

// CallNotFoundError reports an operation against an unknown or already-terminal call
func CallNotFoundError(callID string) *AppError {
	return NewWithStatus(ErrCodeCallNotFound, fmt.Sprintf("Call %s not found or already ended", callID), http.StatusNotFound)
}

// InvalidCallStateError reports an operation that is not legal in the call's current state
func InvalidCallStateError(callID, state string) *AppError {
	return NewWithStatus(ErrCodeInvalidCallState, fmt.Sprintf("Call %s is in state %s", callID, state), http.StatusConflict)
}

// RelayUndeliverableError reports a signaling message whose target is not currently connected
func RelayUndeliverableError(userID string) *AppError {
	return NewWithStatus(ErrCodeRelayUndeliverable, fmt.Sprintf("User %s is not connected, message buffered", userID), http.StatusAccepted)
}

// SignalingInternalError reports an unexpected failure inside the call state machine
func SignalingInternalError(err error) *AppError {
	return Wrap(ErrCodeSignalingInternal, "Internal signaling error", err)
}

// Internal errors
func InternalError(message string) *AppError {
	return NewWithStatus(ErrCodeInternal, message, http.StatusInternalServerError)
}

func ServiceUnavailableError(message string) *AppError {
	return NewWithStatus(ErrCodeServiceUnavail, message, http.StatusServiceUnavailable)
}

// IsCode reports whether err is an AppError carrying the given code
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetAppError extracts AppError from an error, wrapping non-AppErrors as InternalError
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalError(err.Error())
}
