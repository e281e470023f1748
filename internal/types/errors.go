package types

import (
	"errors"
	"fmt"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants. Components MUST use these constants
// instead of hardcoded strings so failure paths stay greppable.
const (
	// Provider Gateway / Fix Acquisition Strategy
	ErrCodeProviderTimeout      ErrorCode = "provider_timeout"
	ErrCodeProviderDevice       ErrorCode = "provider_device_error"
	ErrCodeProviderParse        ErrorCode = "provider_parse_error"
	ErrCodeAcquisitionExhausted ErrorCode = "acquisition_exhausted"

	// Station feed (context poller)
	ErrCodeFeedUnavailable ErrorCode = "feed_unavailable"
	ErrCodeFeedParse       ErrorCode = "feed_parse_error"

	// Remote sinks
	ErrCodeSinkUnavailable ErrorCode = "sink_unavailable"
	ErrCodeSinkRateLimited ErrorCode = "sink_rate_limited"

	// Configuration / internal
	ErrCodeConfigInvalid      ErrorCode = "config_invalid"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// AppError is the standard application error type. All component errors are
// expressed as AppError to enable consistent formatting, code-based
// branching in the acquisition strategy, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of the error with the provided details merged
// in, leaving the original untouched.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error. This is the standard constructor.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf extracts the ErrorCode from an error chain. Returns
// ErrCodeInternalUnexpected when the chain contains no AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}
