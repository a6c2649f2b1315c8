package http

import (
	"time"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/domain"
)

// DecisionResponse is returned by the protected routes in decision_only mode.
type DecisionResponse struct {
	Allowed     bool                    `json:"allowed"`
	AuditID     string                  `json:"audit_id"`
	UserID      string                  `json:"user_id,omitempty"`
	SessionID   string                  `json:"session_id,omitempty"`
	Permissions []string                `json:"permissions,omitempty"`
	Request     *domain.SecurityRequest `json:"request"`
	EvaluatedAt time.Time               `json:"evaluated_at"`
}

// FromSecurityResponse builds the decision body of an allowed response.
func FromSecurityResponse(resp *domain.SecurityResponse) *DecisionResponse {
	out := &DecisionResponse{
		Allowed:     resp.Allowed,
		AuditID:     resp.AuditID,
		Request:     resp.Request,
		EvaluatedAt: time.Now().UTC(),
	}
	if resp.Request != nil {
		out.UserID = resp.Request.Context.UserID
		out.SessionID = resp.Request.Context.SessionID
		out.Permissions = resp.Request.Context.Permissions.Slice()
	}
	return out
}

// AuditReportResponse wraps a posture report.
type AuditReportResponse struct {
	Report  *domain.SecurityAuditReport `json:"report"`
	Summary string                      `json:"summary"`
}

// TrailResponse lists audit records, newest first.
type TrailResponse struct {
	Count   int                   `json:"count"`
	Records []*domain.AuditRecord `json:"records"`
}

// ErrorResponse represents an error response from the management API.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// CheckResult represents a single health check result.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ServiceHealth represents health status of a service component.
type ServiceHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // healthy, unhealthy, degraded
	Message string `json:"message,omitempty"`
}
