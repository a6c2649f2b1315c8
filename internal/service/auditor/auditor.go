// Package auditor scores the security posture of the running service from
// its configuration and recent audit history.
package auditor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/config"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/domain"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/service/metrics"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/logger"
)

// Recommendations emitted by PerformSecurityAudit.
const (
	RecommendCritical  = "Address critical security findings immediately"
	RecommendHigh      = "Schedule high-priority security remediation within 24 hours"
	RecommendReview    = "Review medium and low severity findings during the next maintenance window"
	RecommendExcellent = "Security posture is excellent - maintain current controls"
)

const systemUser = "system"

// KeyInfo describes the encryption key registry.
type KeyInfo interface {
	Algorithm() string
	Ephemeral() bool
	KeySourceName() string
	RotationInterval() time.Duration
}

// TrailReader reads recent audit records.
type TrailReader interface {
	Since(t time.Time) []*domain.AuditRecord
	Last() (*domain.AuditRecord, bool)
}

// Options wires the auditor's collaborators.
type Options struct {
	Keys    KeyInfo
	Trail   TrailReader
	Audit   domain.AuditSink
	Metrics *metrics.Metrics
	Clock   func() time.Time
}

// SecurityAuditor runs the posture checklist.
type SecurityAuditor struct {
	cfg            *config.Config
	keys           KeyInfo
	trail          TrailReader
	audit          domain.AuditSink
	metrics        *metrics.Metrics
	clock          func() time.Time
	maxDenialRatio float64
	minSamples     int
}

// New creates an auditor over cfg.
func New(cfg *config.Config, opts Options) (*SecurityAuditor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Keys == nil {
		return nil, fmt.Errorf("key info is required")
	}
	a := &SecurityAuditor{
		cfg:            cfg,
		keys:           opts.Keys,
		trail:          opts.Trail,
		audit:          opts.Audit,
		metrics:        opts.Metrics,
		clock:          opts.Clock,
		maxDenialRatio: cfg.Auditor.MaxDenialRatio,
		minSamples:     cfg.Auditor.MinSamples,
	}
	if a.audit == nil {
		a.audit = domain.NopAuditSink
	}
	if a.metrics == nil {
		a.metrics = metrics.DefaultMetrics
	}
	if a.clock == nil {
		a.clock = time.Now
	}
	if a.maxDenialRatio <= 0 {
		a.maxDenialRatio = 0.5
	}
	if a.minSamples <= 0 {
		a.minSamples = 20
	}
	return a, nil
}

// PerformSecurityAudit runs every sub-audit in order and scores the result.
// Completion or failure is written to the audit sink.
func (a *SecurityAuditor) PerformSecurityAudit(ctx context.Context) (report *domain.SecurityAuditReport, err error) {
	start := a.clock()
	id := uuid.NewString()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("security audit panicked: %v", r)
			report = nil
		}
		if err != nil {
			a.audit.Append(ctx, domain.NewAuditRecord(domain.AuditEventAuditFailed, a.systemContext()).
				SetMetadata("audit_id", id).
				SetMetadata("error", err.Error()))
			logger.WithContext(ctx).Error("security audit failed", logger.String("audit_id", id), logger.Err(err))
		}
	}()

	sections := []func() []domain.AuditFinding{
		a.auditEncryption,
		a.auditAuthentication,
		a.auditCompliance,
		a.auditMonitoring,
	}

	var findings []domain.AuditFinding
	for _, section := range sections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		findings = append(findings, section()...)
	}

	report = &domain.SecurityAuditReport{
		AuditID:         id,
		Timestamp:       start.UTC(),
		Findings:        findings,
		Score:           Score(findings),
		Recommendations: Recommendations(findings),
		Summary:         CountBySeverity(findings),
		Duration:        a.clock().Sub(start),
	}

	a.metrics.RecordPosture(report.Score, summaryLabels(report.Summary))
	a.audit.Append(ctx, domain.NewAuditRecord(domain.AuditEventAuditCompleted, a.systemContext()).
		SetMetadata("audit_id", id).
		SetMetadata("score", report.Score).
		SetMetadata("findings", len(findings)).
		SetMetadata("duration_ms", report.Duration.Milliseconds()))

	logger.WithContext(ctx).Info("security audit completed",
		logger.String("audit_id", id),
		logger.Int("score", report.Score),
		logger.String("summary", FormatSummary(findings)),
	)
	return report, nil
}

// Run audits every interval until ctx is done. A non-positive interval
// returns immediately.
func (a *SecurityAuditor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Failures are already audited and logged.
			_, _ = a.PerformSecurityAudit(ctx)
		}
	}
}

func (a *SecurityAuditor) systemContext() domain.SecurityContext {
	return domain.SecurityContext{UserID: systemUser, Timestamp: a.clock()}
}

// Score is 100 minus the findings' penalties, floored at 0.
func Score(findings []domain.AuditFinding) int {
	score := 100
	for _, f := range findings {
		score -= f.Severity.Penalty()
	}
	if score < 0 {
		return 0
	}
	return score
}

// Recommendations derives the report recommendations from the worst
// severity present.
func Recommendations(findings []domain.AuditFinding) []string {
	switch worst(findings) {
	case domain.SeverityCritical:
		return []string{RecommendCritical}
	case domain.SeverityHigh:
		return []string{RecommendHigh}
	case domain.SeverityMedium, domain.SeverityLow:
		return []string{RecommendReview}
	default:
		return []string{RecommendExcellent}
	}
}

func worst(findings []domain.AuditFinding) domain.Severity {
	w := domain.SeverityInfo
	for _, f := range findings {
		if f.Severity.Rank() > w.Rank() {
			w = f.Severity
		}
	}
	return w
}

// HasCritical reports whether any finding is critical.
func HasCritical(findings []domain.AuditFinding) bool {
	return worst(findings) == domain.SeverityCritical
}

// BySeverity returns the findings of one severity.
func BySeverity(findings []domain.AuditFinding, sev domain.Severity) []domain.AuditFinding {
	var result []domain.AuditFinding
	for _, f := range findings {
		if f.Severity == sev {
			result = append(result, f)
		}
	}
	return result
}

// ByCategory returns the findings of one sub-audit.
func ByCategory(findings []domain.AuditFinding, category string) []domain.AuditFinding {
	var result []domain.AuditFinding
	for _, f := range findings {
		if f.Category == category {
			result = append(result, f)
		}
	}
	return result
}

// CountBySeverity returns the number of findings per severity.
func CountBySeverity(findings []domain.AuditFinding) map[domain.Severity]int {
	counts := map[domain.Severity]int{
		domain.SeverityCritical: 0,
		domain.SeverityHigh:     0,
		domain.SeverityMedium:   0,
		domain.SeverityLow:      0,
		domain.SeverityInfo:     0,
	}
	for _, f := range findings {
		counts[f.Severity]++
	}
	return counts
}

// FormatSummary returns a one-line summary of findings.
func FormatSummary(findings []domain.AuditFinding) string {
	if len(findings) == 0 {
		return "No security findings"
	}
	counts := CountBySeverity(findings)
	return fmt.Sprintf("Security findings: %d critical, %d high, %d medium, %d low, %d info",
		counts[domain.SeverityCritical],
		counts[domain.SeverityHigh],
		counts[domain.SeverityMedium],
		counts[domain.SeverityLow],
		counts[domain.SeverityInfo],
	)
}

func summaryLabels(summary map[domain.Severity]int) map[string]int {
	out := make(map[string]int, len(summary))
	for sev, n := range summary {
		out[string(sev)] = n
	}
	return out
}
