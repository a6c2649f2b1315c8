package domain

import (
	"context"
	"time"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

const (
	AuditEventRateLimited      AuditEventType = "RATE_LIMITED"
	AuditEventThreatDetected   AuditEventType = "THREAT_DETECTED"
	AuditEventNoSessionToken   AuditEventType = "NO_SESSION_TOKEN"
	AuditEventSessionExpired   AuditEventType = "SESSION_EXPIRED"
	AuditEventSessionTampered  AuditEventType = "SESSION_TAMPERED"
	AuditEventSessionInvalid   AuditEventType = "SESSION_INVALID"
	AuditEventAnomalyDetected  AuditEventType = "ANOMALY_DETECTED"
	AuditEventPermissionDenied AuditEventType = "PERMISSION_DENIED"
	AuditEventValidationFailed AuditEventType = "VALIDATION_FAILED"
	AuditEventRequestAllowed   AuditEventType = "REQUEST_ALLOWED"
	AuditEventMiddlewareError  AuditEventType = "MIDDLEWARE_ERROR"
	AuditEventAuditCompleted   AuditEventType = "AUDIT_COMPLETED"
	AuditEventAuditFailed      AuditEventType = "AUDIT_FAILED"
	AuditEventDataAccess       AuditEventType = "DATA_ACCESS"
	AuditEventKeyRotated       AuditEventType = "KEY_ROTATED"
)

// Severity returns the default severity of an event type.
func (t AuditEventType) Severity() Severity {
	switch t {
	case AuditEventThreatDetected, AuditEventSessionTampered, AuditEventAnomalyDetected:
		return SeverityHigh
	case AuditEventRateLimited, AuditEventPermissionDenied, AuditEventMiddlewareError, AuditEventAuditFailed:
		return SeverityMedium
	case AuditEventSessionExpired, AuditEventSessionInvalid, AuditEventNoSessionToken, AuditEventValidationFailed:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// AuditRecord is one append-only entry of the audit trail.
type AuditRecord struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Event     AuditEventType `json:"event"`
	Severity  Severity       `json:"severity"`

	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	Method string `json:"method,omitempty"`
	URL    string `json:"url,omitempty"`
	Stage  Stage  `json:"stage,omitempty"`
	Reason string `json:"reason,omitempty"`

	CorrelationID string `json:"correlation_id,omitempty"`
	TraceID       string `json:"trace_id,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewAuditRecord creates a record for event with the caller fields copied from sctx.
func NewAuditRecord(event AuditEventType, sctx SecurityContext) *AuditRecord {
	return &AuditRecord{
		Timestamp: time.Now().UTC(),
		Event:     event,
		Severity:  event.Severity(),
		UserID:    sctx.UserID,
		SessionID: sctx.SessionID,
		IPAddress: sctx.IPAddress,
		UserAgent: sctx.UserAgent,
		Metadata:  make(map[string]any),
	}
}

// SetMetadata sets a metadata value.
func (r *AuditRecord) SetMetadata(key string, value any) *AuditRecord {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
	return r
}

// IsDenial reports whether the record describes a rejected request.
func (r *AuditRecord) IsDenial() bool {
	switch r.Event {
	case AuditEventRateLimited, AuditEventThreatDetected, AuditEventNoSessionToken,
		AuditEventSessionExpired, AuditEventSessionTampered, AuditEventSessionInvalid,
		AuditEventAnomalyDetected, AuditEventPermissionDenied, AuditEventValidationFailed,
		AuditEventMiddlewareError:
		return true
	}
	return false
}

// AuditSink receives audit records. Append must not block the caller.
type AuditSink interface {
	Append(ctx context.Context, rec *AuditRecord)
}

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc func(ctx context.Context, rec *AuditRecord)

// Append implements AuditSink.
func (f AuditSinkFunc) Append(ctx context.Context, rec *AuditRecord) { f(ctx, rec) }

// NopAuditSink discards records.
var NopAuditSink AuditSink = AuditSinkFunc(func(context.Context, *AuditRecord) {})
