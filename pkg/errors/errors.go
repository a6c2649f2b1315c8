package errors

import (
	"errors"
	"fmt"
)

// Standard error types for the security gateway.
var (
	// Encryption errors
	ErrUnknownKeyVersion = errors.New("unknown or retired key version")
	ErrMalformedToken    = errors.New("encrypted token is malformed")
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrInvalidKeySize    = errors.New("invalid key size")
	ErrKeySourceFailed   = errors.New("key source unavailable")

	// Session errors
	ErrSessionExpired   = errors.New("session has expired")
	ErrSessionTampered  = errors.New("session integrity check failed")
	ErrSessionAnomalous = errors.New("session behaviour is anomalous")
	ErrSessionTimeout   = errors.New("session validation timed out")

	// Permission map errors
	ErrPermissionMapInvalid = errors.New("permission map is invalid")

	// Configuration errors
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrConfigLoadFailed = errors.New("failed to load configuration")

	// Service errors
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrInternal           = errors.New("internal error")
)

// SecurityError is a coded error carried across component boundaries.
type SecurityError struct {
	// Code is the error code
	Code string `json:"code"`

	// Message is the error message
	Message string `json:"message"`

	// Details contains additional error details
	Details map[string]any `json:"details,omitempty"`

	// Cause is the underlying error
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *SecurityError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *SecurityError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error.
func (e *SecurityError) WithDetail(key string, value any) *SecurityError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewSecurityError creates a new SecurityError.
func NewSecurityError(code, message string, cause error) *SecurityError {
	return &SecurityError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Error codes
const (
	CodeCryptoError   = "CRYPTO_ERROR"
	CodeSessionError  = "SESSION_ERROR"
	CodeAuditError    = "AUDIT_ERROR"
	CodeConfigError   = "CONFIG_ERROR"
	CodeInternalError = "INTERNAL_ERROR"
	CodeUnavailable   = "SERVICE_UNAVAILABLE"
)

// Is reports whether err matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsTampering reports whether err means a session token cannot be trusted.
func IsTampering(err error) bool {
	return errors.Is(err, ErrUnknownKeyVersion) ||
		errors.Is(err, ErrMalformedToken) ||
		errors.Is(err, ErrDecryptionFailed) ||
		errors.Is(err, ErrSessionTampered)
}
