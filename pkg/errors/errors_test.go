package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *SecurityError
		expected string
	}{
		{
			name: "without cause",
			err: &SecurityError{
				Code:    CodeSessionError,
				Message: "session rejected",
			},
			expected: "SESSION_ERROR: session rejected",
		},
		{
			name: "with cause",
			err: &SecurityError{
				Code:    CodeCryptoError,
				Message: "decrypt failed",
				Cause:   ErrUnknownKeyVersion,
			},
			expected: "CRYPTO_ERROR: decrypt failed: unknown or retired key version",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestSecurityError_Unwrap(t *testing.T) {
	err := NewSecurityError(CodeCryptoError, "decrypt failed", ErrDecryptionFailed)

	assert.Equal(t, ErrDecryptionFailed, err.Unwrap())
	assert.True(t, errors.Is(err, ErrDecryptionFailed))
}

func TestSecurityError_WithDetail(t *testing.T) {
	err := NewSecurityError(CodeAuditError, "sink failed", nil)

	result := err.WithDetail("exporter", "file").WithDetail("dropped", 3)

	require.NotNil(t, result.Details)
	assert.Equal(t, "file", result.Details["exporter"])
	assert.Equal(t, 3, result.Details["dropped"])
	assert.Same(t, err, result)
}

func TestWrap(t *testing.T) {
	wrapped := Wrap(ErrSessionExpired, "validate session")

	require.NotNil(t, wrapped)
	assert.Equal(t, "validate session: session has expired", wrapped.Error())
	assert.True(t, Is(wrapped, ErrSessionExpired))
}

func TestWrap_NilError(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
}

func TestAs(t *testing.T) {
	var err error = fmt.Errorf("outer: %w", NewSecurityError(CodeConfigError, "bad", nil))

	var target *SecurityError
	require.True(t, As(err, &target))
	assert.Equal(t, CodeConfigError, target.Code)
}

func TestIsTampering(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"unknown version", Wrap(ErrUnknownKeyVersion, "decrypt"), true},
		{"malformed", ErrMalformedToken, true},
		{"decryption failed", NewSecurityError(CodeCryptoError, "x", ErrDecryptionFailed), true},
		{"integrity", ErrSessionTampered, true},
		{"expired", ErrSessionExpired, false},
		{"timeout", ErrSessionTimeout, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsTampering(tt.err))
		})
	}
}

func TestStandardErrors(t *testing.T) {
	standardErrors := []error{
		ErrUnknownKeyVersion,
		ErrMalformedToken,
		ErrDecryptionFailed,
		ErrInvalidKeySize,
		ErrKeySourceFailed,
		ErrSessionExpired,
		ErrSessionTampered,
		ErrSessionAnomalous,
		ErrSessionTimeout,
		ErrPermissionMapInvalid,
		ErrConfigInvalid,
		ErrConfigLoadFailed,
		ErrServiceUnavailable,
		ErrTimeout,
		ErrInternal,
	}

	seen := make(map[string]bool)
	for _, err := range standardErrors {
		msg := err.Error()
		assert.False(t, seen[msg], "duplicate error: %s", msg)
		seen[msg] = true
	}
}

func BenchmarkIsTampering(b *testing.B) {
	err := Wrap(ErrDecryptionFailed, "context")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		IsTampering(err)
	}
}
