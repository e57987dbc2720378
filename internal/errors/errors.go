package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a specific error type for better error handling
type ErrorCode string

const (
	// Input degradation, resolved locally to AUTO or UNKNOWN
	ErrCodeStaleHealthData     ErrorCode = "STALE_HEALTH_DATA"
	ErrCodeHealthLookupFailed  ErrorCode = "HEALTH_LOOKUP_FAILED"
	ErrCodeAmbiguousOverride   ErrorCode = "AMBIGUOUS_OVERRIDE"
	ErrCodeOverrideUnavailable ErrorCode = "OVERRIDE_UNAVAILABLE"

	// Blocked decisions
	ErrCodeUnverifiedTarget       ErrorCode = "UNVERIFIED_TARGET"
	ErrCodeInsufficientHealthData ErrorCode = "INSUFFICIENT_HEALTH_DATA"

	// DNS mutation failures
	ErrCodeDNSSwapConflict  ErrorCode = "DNS_SWAP_CONFLICT"
	ErrCodeDNSProviderError ErrorCode = "DNS_PROVIDER_ERROR"
	ErrCodeZoneInconsistent ErrorCode = "ZONE_INCONSISTENT"

	// Surface errors
	ErrCodeInvalidNotification ErrorCode = "INVALID_NOTIFICATION"
	ErrCodeConfigLoad          ErrorCode = "CONFIG_LOAD_FAILED"
	ErrCodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrCodeInternalError       ErrorCode = "INTERNAL_ERROR"
)

// FailoverError represents a structured error with context
type FailoverError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Component string                 `json:"component,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Retryable bool                   `json:"retryable"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface
func (e *FailoverError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s: %s", e.Code, e.Component, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Component, e.Message)
}

// Unwrap returns the underlying error
func (e *FailoverError) Unwrap() error {
	return e.Cause
}

// Is matches another FailoverError by code
func (e *FailoverError) Is(target error) bool {
	if t, ok := target.(*FailoverError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithMetadata adds metadata to the error
func (e *FailoverError) WithMetadata(key string, value interface{}) *FailoverError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// IsRetryable returns true if re-running the decision cycle might succeed
func (e *FailoverError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeDNSSwapConflict:
		return true
	case ErrCodeDNSProviderError:
		return e.Retryable
	default:
		return false
	}
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *FailoverError) HTTPStatusCode() int {
	switch e.Code {
	case ErrCodeInvalidNotification, ErrCodeAmbiguousOverride:
		return 400
	case ErrCodeUnauthorized:
		return 401
	case ErrCodeDNSSwapConflict:
		return 409
	case ErrCodeUnverifiedTarget, ErrCodeInsufficientHealthData:
		return 422
	case ErrCodeDNSProviderError, ErrCodeOverrideUnavailable, ErrCodeHealthLookupFailed:
		return 502
	default:
		return 500
	}
}

// NewError creates a new FailoverError
func NewError(code ErrorCode, component, message string) *FailoverError {
	return &FailoverError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WrapError wraps an existing error with FailoverError structure
func WrapError(err error, code ErrorCode, component, message string) *FailoverError {
	if err == nil {
		return nil
	}

	return &FailoverError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Details:   err.Error(),
	}
}

// NewSwapConflictError reports that the DNS assignment changed underneath a swap
func NewSwapConflictError(expectedVersion string, cause error) *FailoverError {
	e := &FailoverError{
		Code:      ErrCodeDNSSwapConflict,
		Component: "swapper",
		Message:   "DNS assignment changed since it was read",
		Timestamp: time.Now(),
		Cause:     cause,
	}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e.WithMetadata("expected_version", expectedVersion)
}

// NewProviderError reports a DNS provider failure during a swap
func NewProviderError(provider string, retryable bool, cause error) *FailoverError {
	e := WrapError(cause, ErrCodeDNSProviderError, "swapper",
		fmt.Sprintf("DNS provider %s rejected the change", provider))
	if e == nil {
		e = NewError(ErrCodeDNSProviderError, "swapper",
			fmt.Sprintf("DNS provider %s rejected the change", provider))
	}
	e.Retryable = retryable
	return e.WithMetadata("provider", provider)
}

// NewZoneInconsistentError reports record sets that violate the one-LIVE invariant
func NewZoneInconsistentError(reason string) *FailoverError {
	return NewError(ErrCodeZoneInconsistent, "dns", reason)
}

// NewInvalidNotificationError reports an inbound notification that cannot be parsed
func NewInvalidNotificationError(reason string, cause error) *FailoverError {
	if cause != nil {
		return WrapError(cause, ErrCodeInvalidNotification, "notification", reason)
	}
	return NewError(ErrCodeInvalidNotification, "notification", reason)
}

// NewUnauthorizedError reports a rejected admin request
func NewUnauthorizedError(reason string) *FailoverError {
	return NewError(ErrCodeUnauthorized, "auth", reason).WithMetadata("reason", reason)
}

// IsFailoverError checks if an error is a FailoverError
func IsFailoverError(err error) bool {
	var fErr *FailoverError
	return errors.As(err, &fErr)
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var fErr *FailoverError
	if errors.As(err, &fErr) {
		return fErr.Code
	}
	return ErrCodeInternalError
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var fErr *FailoverError
	if errors.As(err, &fErr) {
		return fErr.IsRetryable()
	}
	return false
}

// GetHTTPStatusCode gets the appropriate HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	var fErr *FailoverError
	if errors.As(err, &fErr) {
		return fErr.HTTPStatusCode()
	}
	return 500
}
