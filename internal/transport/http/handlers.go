package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/domain"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/service/auditor"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/httputil"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/logger"
)

const (
	defaultTrailLimit = 100
	maxTrailLimit     = 1000
)

// SecurityAuditor produces posture reports on demand.
type SecurityAuditor interface {
	PerformSecurityAudit(ctx context.Context) (*domain.SecurityAuditReport, error)
}

// TrailReader reads the in-memory audit trail.
type TrailReader interface {
	Recent(limit int) []*domain.AuditRecord
	RecentForUser(userID string, limit int) []*domain.AuditRecord
}

// AppInfo reports component health.
type AppInfo interface {
	GetServices() []ServiceHealth
	IsReady() bool
}

// Handler contains the HTTP handlers of the gateway.
type Handler struct {
	auditor  SecurityAuditor
	trail    TrailReader
	app      AppInfo
	version  string
	draining atomic.Bool
}

// HandlerOption is a functional option for configuring the Handler.
type HandlerOption func(*Handler)

// WithAuditor enables the security audit endpoint.
func WithAuditor(a SecurityAuditor) HandlerOption {
	return func(h *Handler) {
		h.auditor = a
	}
}

// WithTrail enables the audit trail endpoint.
func WithTrail(t TrailReader) HandlerOption {
	return func(h *Handler) {
		h.trail = t
	}
}

// WithAppInfo wires component health into the health and readiness checks.
func WithAppInfo(app AppInfo) HandlerOption {
	return func(h *Handler) {
		h.app = app
	}
}

// NewHandler creates a new HTTP handler.
func NewHandler(version string, opts ...HandlerOption) *Handler {
	h := &Handler{version: version}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetDraining makes readiness fail so load balancers stop sending traffic.
func (h *Handler) SetDraining(v bool) {
	h.draining.Store(v)
}

// Decision answers an allowed request with the sanitized request.
func (h *Handler) Decision(w http.ResponseWriter, r *http.Request) {
	d, ok := DecisionFromContext(r.Context())
	if !ok {
		h.writeError(w, r, http.StatusInternalServerError, "NO_DECISION", "request did not pass the security pipeline")
		return
	}
	h.writeJSON(w, http.StatusOK, FromSecurityResponse(d.Response))
}

// SecurityAudit runs the posture audit and returns the report.
func (h *Handler) SecurityAudit(w http.ResponseWriter, r *http.Request) {
	if h.auditor == nil {
		h.writeError(w, r, http.StatusNotFound, "AUDITOR_DISABLED", "security auditor is not configured")
		return
	}

	report, err := h.auditor.PerformSecurityAudit(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		logger.WithContext(r.Context()).Error("security audit request failed", logger.Err(err))
		h.writeError(w, r, status, "AUDIT_FAILED", "security audit failed")
		return
	}

	h.writeJSON(w, http.StatusOK, &AuditReportResponse{
		Report:  report,
		Summary: auditor.FormatSummary(report.Findings),
	})
}

// AuditTrail lists recent audit records. Query: limit, user.
func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	if h.trail == nil {
		h.writeError(w, r, http.StatusNotFound, "TRAIL_DISABLED", "audit trail is not configured")
		return
	}

	limit := defaultTrailLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, r, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = min(n, maxTrailLimit)
	}

	var records []*domain.AuditRecord
	if user := r.URL.Query().Get("user"); user != "" {
		records = h.trail.RecentForUser(user, limit)
	} else {
		records = h.trail.Recent(limit)
	}
	if records == nil {
		records = []*domain.AuditRecord{}
	}
	h.writeJSON(w, http.StatusOK, &TrailResponse{Count: len(records), Records: records})
}

// Health reports component health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]CheckResult)
	if h.app != nil {
		for _, svc := range h.app.GetServices() {
			checks[svc.Name] = CheckResult{Status: svc.Status, Message: svc.Message}
		}
	}

	status := "healthy"
	for _, check := range checks {
		if check.Status == "unhealthy" {
			status = "unhealthy"
			break
		}
		if check.Status == "degraded" {
			status = "degraded"
		}
	}

	statusCode := http.StatusOK
	if status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	h.writeJSON(w, statusCode, &HealthResponse{
		Status:    status,
		Checks:    checks,
		Version:   h.version,
		Timestamp: time.Now(),
	})
}

// Ready is the readiness probe.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		h.writeError(w, r, http.StatusServiceUnavailable, "DRAINING", "server is draining")
		return
	}
	if h.app != nil && !h.app.IsReady() {
		h.writeError(w, r, http.StatusServiceUnavailable, "NOT_READY", "service not ready")
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", logger.Err(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	h.writeJSON(w, status, &ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: httputil.RequestID(r),
	})
}
