package domain

import "strings"

// Stage is a step of the security pipeline, in execution order.
type Stage string

const (
	StageRateLimit       Stage = "RATE_LIMIT"
	StageThreatScan      Stage = "THREAT_SCAN"
	StageSessionCheck    Stage = "SESSION_CHECK"
	StagePermissionCheck Stage = "PERMISSION_CHECK"
	StageInputValidation Stage = "INPUT_VALIDATION"
	StageAllowed         Stage = "ALLOWED"
)

// Denial reasons returned to callers.
const (
	ReasonRateLimitExceeded       = "RATE_LIMIT_EXCEEDED"
	ReasonNoSessionToken          = "NO_SESSION_TOKEN"
	ReasonInsufficientPermissions = "INSUFFICIENT_PERMISSIONS"
	ReasonMiddlewareError         = "MIDDLEWARE_ERROR"

	reasonThreatPrefix     = "THREAT_DETECTED:"
	reasonSessionPrefix    = "SESSION_INVALID:"
	reasonValidationPrefix = "INPUT_VALIDATION_FAILED:"
)

// ThreatReason formats a threat denial.
func ThreatReason(threatType string) string {
	return reasonThreatPrefix + threatType
}

// SessionInvalidReason formats a session denial.
func SessionInvalidReason(status SessionStatus) string {
	return reasonSessionPrefix + string(status)
}

// ValidationReason formats a validation denial listing every error.
func ValidationReason(errs []string) string {
	return reasonValidationPrefix + strings.Join(errs, ", ")
}

// SecurityResponse is the pipeline decision. On allow, Request is the
// sanitized request to forward; on deny it is nil and Reason is set.
type SecurityResponse struct {
	Allowed            bool              `json:"allowed"`
	Reason             string            `json:"reason,omitempty"`
	Stage              Stage             `json:"stage"`
	Request            *SecurityRequest  `json:"request,omitempty"`
	Headers            map[string]string `json:"headers"`
	RateLimit          int               `json:"rate_limit,omitempty"`
	RateLimitRemaining int               `json:"rate_limit_remaining"`
	AuditID            string            `json:"audit_id,omitempty"`
}

// SecurityHeaders returns the response headers attached to every decision.
func SecurityHeaders() map[string]string {
	return map[string]string{
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains; preload",
		"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'self'",
		"Referrer-Policy":           "strict-origin-when-cross-origin",
		"Permissions-Policy":        "geolocation=(), microphone=(), camera=(), payment=(), usb=()",
	}
}

// Deny builds a denial at stage.
func Deny(stage Stage, reason string) *SecurityResponse {
	return &SecurityResponse{
		Allowed: false,
		Reason:  reason,
		Stage:   stage,
		Headers: SecurityHeaders(),
	}
}

// Allow builds an allow decision carrying the sanitized request.
func Allow(req *SecurityRequest) *SecurityResponse {
	return &SecurityResponse{
		Allowed: true,
		Stage:   StageAllowed,
		Request: req,
		Headers: SecurityHeaders(),
	}
}
