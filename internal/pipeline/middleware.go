// Package pipeline runs the fixed sequence of security gates over a request
// and produces exactly one decision and one audit record per run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/domain"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/service/authz"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/service/metrics"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/service/ratelimit"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/service/threat"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/service/validation"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/logger"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/tracing"
)

// RateLimiter admits or rejects a key.
type RateLimiter interface {
	Check(ctx context.Context, key string, now time.Time) (ratelimit.Result, error)
}

// ThreatDetector scans a request for attack patterns.
type ThreatDetector interface {
	Analyze(req *domain.SecurityRequest) threat.Result
}

// SessionValidator validates a bearer session token.
type SessionValidator interface {
	Validate(ctx context.Context, token string, sctx domain.SecurityContext) domain.SessionValidation
}

// PermissionChecker decides whether a permission set may call a route.
type PermissionChecker interface {
	Check(method, rawURL string, perms domain.PermissionSet) authz.Decision
}

// RequestValidator checks request shape.
type RequestValidator interface {
	Validate(req *domain.SecurityRequest) validation.Result
}

// RequestSanitizer produces the sanitized copy handed to the application.
type RequestSanitizer interface {
	SanitizeRequest(req *domain.SecurityRequest) *domain.SecurityRequest
}

// Deps are the collaborators of the pipeline. Audit, Metrics, Tracer and
// Clock are optional.
type Deps struct {
	Limiter    RateLimiter
	Detector   ThreatDetector
	Sessions   SessionValidator
	Authorizer PermissionChecker
	Validator  RequestValidator
	Sanitizer  RequestSanitizer

	Audit   domain.AuditSink
	Metrics *metrics.Metrics
	Tracer  *tracing.Provider
	Clock   func() time.Time
}

// SecurityMiddleware is the request security pipeline.
type SecurityMiddleware struct {
	deps   Deps
	stages []stage
}

type stage struct {
	name domain.Stage
	run  func(ctx context.Context, st *state) *domain.SecurityResponse
}

// state carries what earlier stages established to later ones and to the
// audit record.
type state struct {
	req       *domain.SecurityRequest
	sctx      domain.SecurityContext
	now       time.Time
	stage     domain.Stage
	event     domain.AuditEventType
	rate      ratelimit.Result
	perms     domain.PermissionSet
	sanitized *domain.SecurityRequest
	meta      map[string]any
}

// New validates deps and builds the pipeline.
func New(deps Deps) (*SecurityMiddleware, error) {
	switch {
	case deps.Limiter == nil:
		return nil, fmt.Errorf("pipeline: rate limiter is required")
	case deps.Detector == nil:
		return nil, fmt.Errorf("pipeline: threat detector is required")
	case deps.Sessions == nil:
		return nil, fmt.Errorf("pipeline: session validator is required")
	case deps.Authorizer == nil:
		return nil, fmt.Errorf("pipeline: authorizer is required")
	case deps.Validator == nil:
		return nil, fmt.Errorf("pipeline: validator is required")
	case deps.Sanitizer == nil:
		return nil, fmt.Errorf("pipeline: sanitizer is required")
	}
	if deps.Audit == nil {
		deps.Audit = domain.NopAuditSink
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	if deps.Tracer == nil {
		deps.Tracer = tracing.Disabled()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	m := &SecurityMiddleware{deps: deps}
	m.stages = []stage{
		{domain.StageRateLimit, m.checkRateLimit},
		{domain.StageThreatScan, m.checkThreats},
		{domain.StageSessionCheck, m.checkSession},
		{domain.StagePermissionCheck, m.checkPermissions},
		{domain.StageInputValidation, m.checkInput},
	}
	return m, nil
}

// Process runs every stage in order and stops at the first denial. It never
// returns nil and never panics; internal failures become MIDDLEWARE_ERROR.
func (m *SecurityMiddleware) Process(ctx context.Context, req *domain.SecurityRequest) *domain.SecurityResponse {
	start := m.deps.Clock()
	if req == nil {
		req = &domain.SecurityRequest{}
		st := &state{req: req, now: start, stage: domain.StageRateLimit, event: domain.AuditEventMiddlewareError, meta: map[string]any{"error": "nil request"}}
		return m.finish(ctx, st, domain.Deny(domain.StageRateLimit, domain.ReasonMiddlewareError), start)
	}

	ctx, span := m.deps.Tracer.StartSpan(ctx, "secgate.pipeline",
		trace.WithAttributes(
			attribute.String(tracing.AttrHTTPMethod, req.Method),
			attribute.String(tracing.AttrHTTPPath, req.URL),
			attribute.String(tracing.AttrUserID, req.Context.UserID),
		),
	)
	defer span.End()

	st := &state{
		req:  req,
		sctx: req.Context.WithTimestamp(req.Context.Timestamp),
		now:  start,
		meta: make(map[string]any),
	}

	for _, s := range m.stages {
		st.stage = s.name
		began := m.deps.Clock()
		deny := m.runStage(ctx, st, s)
		elapsed := m.deps.Clock().Sub(began)

		m.deps.Metrics.ObserveStage(string(s.name), elapsed.Seconds())
		tracing.StageEvent(ctx, string(s.name), deny == nil, elapsed)

		if deny != nil {
			span.SetAttributes(attribute.String(tracing.AttrDecisionReason, deny.Reason))
			return m.finish(ctx, st, deny, start)
		}
	}

	st.stage = domain.StageAllowed
	st.event = domain.AuditEventRequestAllowed
	return m.finish(ctx, st, domain.Allow(st.sanitized), start)
}

// runStage converts a panic inside a stage into a MIDDLEWARE_ERROR denial.
// The panic value is logged, never returned to the caller.
func (m *SecurityMiddleware) runStage(ctx context.Context, st *state, s stage) (deny *domain.SecurityResponse) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithContext(ctx).Error("pipeline stage panicked",
				logger.String("stage", string(s.name)),
				logger.Any("panic", r),
				zap.Stack("stack"),
			)
			trace.SpanFromContext(ctx).SetStatus(codes.Error, "stage panicked")
			st.event = domain.AuditEventMiddlewareError
			st.meta["failed_stage"] = string(s.name)
			deny = domain.Deny(s.name, domain.ReasonMiddlewareError)
		}
	}()
	return s.run(ctx, st)
}

func (m *SecurityMiddleware) checkRateLimit(ctx context.Context, st *state) *domain.SecurityResponse {
	res, err := m.deps.Limiter.Check(ctx, st.sctx.RateKey(), st.now)
	if err != nil {
		// The limiter fails open: a store outage must not take the API down.
		logger.WithContext(ctx).Warn("rate limiter unavailable, admitting request",
			logger.String("key", st.sctx.RateKey()), logger.Err(err))
		st.meta["rate_limit_error"] = err.Error()
		return nil
	}
	st.rate = res
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int(tracing.AttrRemaining, res.Remaining))
	if !res.Allowed {
		st.event = domain.AuditEventRateLimited
		return domain.Deny(domain.StageRateLimit, domain.ReasonRateLimitExceeded)
	}
	return nil
}

func (m *SecurityMiddleware) checkThreats(ctx context.Context, st *state) *domain.SecurityResponse {
	res := m.deps.Detector.Analyze(st.req)
	if !res.ThreatDetected {
		return nil
	}
	m.deps.Metrics.RecordThreat(res.ThreatType)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String(tracing.AttrThreatType, res.ThreatType))
	st.event = domain.AuditEventThreatDetected
	st.meta["threat_type"] = res.ThreatType
	st.meta["threat_category"] = res.Category
	return domain.Deny(domain.StageThreatScan, domain.ThreatReason(res.ThreatType))
}

func (m *SecurityMiddleware) checkSession(ctx context.Context, st *state) *domain.SecurityResponse {
	token := st.req.BearerToken()
	if token == "" {
		st.event = domain.AuditEventNoSessionToken
		return domain.Deny(domain.StageSessionCheck, domain.ReasonNoSessionToken)
	}

	v := m.deps.Sessions.Validate(ctx, token, st.sctx)
	st.meta["session_status"] = string(v.Status)
	if v.Session != nil {
		st.meta["session_id"] = v.Session.ID
		st.meta["key_version"] = v.Session.KeyVersion
		if st.sctx.SessionID == "" {
			st.sctx.SessionID = v.Session.ID
		}
		if st.sctx.UserID == "" {
			st.sctx.UserID = v.Session.UserID
		}
	}
	if v.Status == domain.SessionAnomalous || v.Valid() {
		st.meta["anomaly_score"] = v.AnomalyScore
	}

	if !v.Valid() {
		st.event = sessionEvent(v.Status)
		return domain.Deny(domain.StageSessionCheck, domain.SessionInvalidReason(v.Status))
	}

	st.perms = v.Session.Permissions.Clone()
	st.perms[domain.PermissionAuthenticated] = struct{}{}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int64(tracing.AttrKeyVersion, int64(v.Session.KeyVersion)))
	return nil
}

func sessionEvent(status domain.SessionStatus) domain.AuditEventType {
	switch status {
	case domain.SessionExpired:
		return domain.AuditEventSessionExpired
	case domain.SessionTampered:
		return domain.AuditEventSessionTampered
	case domain.SessionAnomalous:
		return domain.AuditEventAnomalyDetected
	default:
		return domain.AuditEventSessionInvalid
	}
}

func (m *SecurityMiddleware) checkPermissions(_ context.Context, st *state) *domain.SecurityResponse {
	d := m.deps.Authorizer.Check(st.req.Method, st.req.URL, st.perms)
	if d.Allowed {
		return nil
	}
	st.event = domain.AuditEventPermissionDenied
	st.meta["required"] = d.Required
	st.meta["missing"] = d.Missing
	return domain.Deny(domain.StagePermissionCheck, domain.ReasonInsufficientPermissions)
}

func (m *SecurityMiddleware) checkInput(_ context.Context, st *state) *domain.SecurityResponse {
	res := m.deps.Validator.Validate(st.req)
	if !res.Valid {
		st.event = domain.AuditEventValidationFailed
		st.meta["errors"] = res.Errors
		return domain.Deny(domain.StageInputValidation, domain.ValidationReason(res.Errors))
	}

	sanitized := m.deps.Sanitizer.SanitizeRequest(st.req)
	sanitized.Context = st.sctx.WithTimestamp(m.deps.Clock())
	sanitized.Context.Permissions = st.perms.Clone()
	st.sanitized = sanitized
	return nil
}

// finish attaches rate-limit info, writes the audit record and records the
// decision.
func (m *SecurityMiddleware) finish(ctx context.Context, st *state, resp *domain.SecurityResponse, start time.Time) *domain.SecurityResponse {
	resp.RateLimit = st.rate.Limit
	resp.RateLimitRemaining = st.rate.Remaining

	rec := domain.NewAuditRecord(st.event, st.sctx)
	rec.ID = uuid.NewString()
	rec.Timestamp = st.now.UTC()
	rec.Method = st.req.Method
	rec.URL = st.req.URL
	rec.Stage = resp.Stage
	rec.Reason = resp.Reason
	for k, v := range st.meta {
		rec.Metadata[k] = v
	}
	resp.AuditID = rec.ID
	m.appendAudit(ctx, rec)

	m.deps.Metrics.RecordDecision(string(resp.Stage), resp.Allowed)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Bool(tracing.AttrDecisionAllowed, resp.Allowed),
		attribute.String(tracing.AttrStage, string(resp.Stage)),
	)

	log := logger.WithContext(ctx)
	fields := []zap.Field{
		logger.Bool("allowed", resp.Allowed),
		logger.String("stage", string(resp.Stage)),
		logger.String("method", st.req.Method),
		logger.String("url", st.req.URL),
		logger.String("user_id", st.sctx.UserID),
		logger.String("audit_id", rec.ID),
		logger.Duration("duration", m.deps.Clock().Sub(start)),
	}
	if resp.Allowed {
		log.Debug("security decision", fields...)
	} else {
		log.Info("security decision", append(fields, logger.String("reason", resp.Reason))...)
	}
	return resp
}

// appendAudit swallows sink failures so they never reach the caller.
func (m *SecurityMiddleware) appendAudit(ctx context.Context, rec *domain.AuditRecord) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithContext(ctx).Error("audit sink failed", logger.String("audit_id", rec.ID), logger.Any("panic", r))
		}
	}()
	m.deps.Audit.Append(ctx, rec)
}
