package auditor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/config"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/domain"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/service/audit"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/service/metrics"
)

type fakeKeys struct {
	ephemeral bool
	rotation  time.Duration
}

func (k fakeKeys) Algorithm() string               { return "AES-256-GCM" }
func (k fakeKeys) Ephemeral() bool                 { return k.ephemeral }
func (k fakeKeys) KeySourceName() string           { return "derived" }
func (k fakeKeys) RotationInterval() time.Duration { return k.rotation }

type recordingSink struct {
	mu      sync.Mutex
	records []*domain.AuditRecord
}

func (s *recordingSink) Append(_ context.Context, rec *domain.AuditRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *recordingSink) count(event domain.AuditEventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.Event == event {
			n++
		}
	}
	return n
}

// hardenedConfig produces no finding above info.
func hardenedConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			SessionTimeout:    15 * time.Minute,
			MaxFailedAttempts: 3,
			AccountLockout:    30 * time.Minute,
			MFARequired:       true,
			AnomalyThreshold:  0.8,
		},
		Encryption: config.EncryptionConfig{HSMEnabled: true},
		Monitoring: config.MonitoringConfig{
			RealTimeAlerts:     true,
			IntrusionDetection: true,
			AnomalyDetection:   true,
			AuditLogging:       true,
		},
		Compliance: config.ComplianceConfig{
			LGPDCompliant:     true,
			ISO27001Certified: true,
			PCIDSSLevel:       1,
			SOC2Type:          2,
		},
	}
}

type fixture struct {
	auditor *SecurityAuditor
	trail   *audit.Trail
	sink    *recordingSink
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, cfg *config.Config, keys fakeKeys) *fixture {
	t.Helper()
	if keys.rotation == 0 {
		keys.rotation = 720 * time.Hour
	}
	f := &fixture{
		trail:   audit.NewTrail(100, 0),
		sink:    &recordingSink{},
		metrics: metrics.NewMetrics(prometheus.NewRegistry()),
	}
	f.trail.Add(domain.NewAuditRecord(domain.AuditEventRequestAllowed, domain.SecurityContext{UserID: "u"}))

	a, err := New(cfg, Options{Keys: keys, Trail: f.trail, Audit: f.sink, Metrics: f.metrics})
	require.NoError(t, err)
	f.auditor = a
	return f
}

func codes(findings []domain.AuditFinding) map[string]domain.Severity {
	out := make(map[string]domain.Severity, len(findings))
	for _, f := range findings {
		out[f.Code] = f.Severity
	}
	return out
}

// ===== PerformSecurityAudit Tests =====

func TestSecurityAuditor_PerformSecurityAudit_Hardened(t *testing.T) {
	f := newFixture(t, hardenedConfig(), fakeKeys{})

	report, err := f.auditor.PerformSecurityAudit(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, report.AuditID)
	assert.Equal(t, 100, report.Score)
	assert.Equal(t, []string{RecommendExcellent}, report.Recommendations)
	assert.Empty(t, BySeverity(report.Findings, domain.SeverityLow))

	got := codes(report.Findings)
	for _, code := range []string{"ENC_001", "ENC_002", "AUTH_001", "AUTH_002", "COMP_001", "COMP_002", "MON_001", "MON_002"} {
		assert.Equal(t, domain.SeverityInfo, got[code], code)
	}

	// Findings keep sub-audit order.
	assert.Equal(t, domain.CategoryEncryption, report.Findings[0].Category)
	assert.Equal(t, domain.CategoryMonitoring, report.Findings[len(report.Findings)-1].Category)

	require.Equal(t, 1, f.sink.count(domain.AuditEventAuditCompleted))
	rec := f.sink.records[0]
	assert.Equal(t, report.AuditID, rec.Metadata["audit_id"])
	assert.Equal(t, 100, rec.Metadata["score"])
	assert.Equal(t, "system", rec.UserID)

	assert.Equal(t, 100.0, testutil.ToFloat64(f.metrics.PostureScore))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.PostureFindings.WithLabelValues("critical")))
}

func TestSecurityAuditor_Findings(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*config.Config)
		keys     fakeKeys
		code     string
		severity domain.Severity
	}{
		{"ephemeral key", nil, fakeKeys{ephemeral: true}, "ENC_003", domain.SeverityHigh},
		{"slow rotation", nil, fakeKeys{rotation: 365 * 24 * time.Hour}, "ENC_004", domain.SeverityMedium},
		{"no hsm", func(c *config.Config) { c.Encryption.HSMEnabled = false }, fakeKeys{}, "ENC_005", domain.SeverityLow},
		{"no mfa", func(c *config.Config) { c.Auth.MFARequired = false }, fakeKeys{}, "AUTH_003", domain.SeverityHigh},
		{"long session", func(c *config.Config) { c.Auth.SessionTimeout = 8 * time.Hour }, fakeKeys{}, "AUTH_004", domain.SeverityMedium},
		{"no lockout", func(c *config.Config) { c.Auth.MaxFailedAttempts = 0 }, fakeKeys{}, "AUTH_005", domain.SeverityMedium},
		{"short lockout", func(c *config.Config) { c.Auth.AccountLockout = time.Minute }, fakeKeys{}, "AUTH_006", domain.SeverityLow},
		{"anomaly off", func(c *config.Config) { c.Auth.AnomalyThreshold = 1 }, fakeKeys{}, "AUTH_007", domain.SeverityHigh},
		{"no lgpd", func(c *config.Config) { c.Compliance.LGPDCompliant = false }, fakeKeys{}, "COMP_003", domain.SeverityCritical},
		{"no iso", func(c *config.Config) { c.Compliance.ISO27001Certified = false }, fakeKeys{}, "COMP_004", domain.SeverityHigh},
		{"pci level 3", func(c *config.Config) { c.Compliance.PCIDSSLevel = 3 }, fakeKeys{}, "COMP_005", domain.SeverityLow},
		{"pci invalid", func(c *config.Config) { c.Compliance.PCIDSSLevel = 0 }, fakeKeys{}, "COMP_005", domain.SeverityMedium},
		{"soc2 type 1", func(c *config.Config) { c.Compliance.SOC2Type = 1 }, fakeKeys{}, "COMP_006", domain.SeverityLow},
		{"no alerts", func(c *config.Config) { c.Monitoring.RealTimeAlerts = false }, fakeKeys{}, "MON_003", domain.SeverityMedium},
		{"no ids", func(c *config.Config) { c.Monitoring.IntrusionDetection = false }, fakeKeys{}, "MON_004", domain.SeverityHigh},
		{"no anomaly detection", func(c *config.Config) { c.Monitoring.AnomalyDetection = false }, fakeKeys{}, "MON_005", domain.SeverityMedium},
		{"no audit logging", func(c *config.Config) { c.Monitoring.AuditLogging = false }, fakeKeys{}, "MON_006", domain.SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := hardenedConfig()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			f := newFixture(t, cfg, tt.keys)

			report, err := f.auditor.PerformSecurityAudit(context.Background())
			require.NoError(t, err)

			got := codes(report.Findings)
			require.Contains(t, got, tt.code)
			assert.Equal(t, tt.severity, got[tt.code])
			assert.Equal(t, 100-tt.severity.Penalty(), report.Score)
		})
	}
}

func TestSecurityAuditor_EmptyTrail(t *testing.T) {
	a, err := New(hardenedConfig(), Options{Keys: fakeKeys{rotation: time.Hour}, Trail: audit.NewTrail(10, 0)})
	require.NoError(t, err)

	report, err := a.PerformSecurityAudit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityLow, codes(report.Findings)["MON_007"])
	assert.Equal(t, []string{RecommendReview}, report.Recommendations)
}

func TestSecurityAuditor_NoTrail(t *testing.T) {
	a, err := New(hardenedConfig(), Options{Keys: fakeKeys{rotation: time.Hour}})
	require.NoError(t, err)

	report, err := a.PerformSecurityAudit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityCritical, codes(report.Findings)["MON_006"])
}

func TestSecurityAuditor_TrafficFindings(t *testing.T) {
	cfg := hardenedConfig()
	cfg.Auditor = config.AuditorConfig{MaxDenialRatio: 0.5, MinSamples: 10}
	f := newFixture(t, cfg, fakeKeys{})

	sctx := domain.SecurityContext{UserID: "attacker"}
	for i := 0; i < 12; i++ {
		f.trail.Add(domain.NewAuditRecord(domain.AuditEventThreatDetected, sctx))
	}
	// Non-pipeline events are ignored.
	f.trail.Add(domain.NewAuditRecord(domain.AuditEventKeyRotated, sctx))

	report, err := f.auditor.PerformSecurityAudit(context.Background())
	require.NoError(t, err)

	got := codes(report.Findings)
	assert.Equal(t, domain.SeverityMedium, got["MON_008"])
	assert.Equal(t, domain.SeverityHigh, got["MON_009"])
	assert.Equal(t, 85, report.Score)
	assert.Equal(t, []string{RecommendHigh}, report.Recommendations)
}

func TestSecurityAuditor_TrafficBelowMinSamples(t *testing.T) {
	cfg := hardenedConfig()
	cfg.Auditor = config.AuditorConfig{MinSamples: 50}
	f := newFixture(t, cfg, fakeKeys{})
	for i := 0; i < 10; i++ {
		f.trail.Add(domain.NewAuditRecord(domain.AuditEventPermissionDenied, domain.SecurityContext{}))
	}

	report, err := f.auditor.PerformSecurityAudit(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, codes(report.Findings), "MON_008")
	assert.Equal(t, 100, report.Score)
}

func TestSecurityAuditor_CancelledContext(t *testing.T) {
	f := newFixture(t, hardenedConfig(), fakeKeys{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.auditor.PerformSecurityAudit(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, report)
	assert.Equal(t, 1, f.sink.count(domain.AuditEventAuditFailed))
	assert.Zero(t, f.sink.count(domain.AuditEventAuditCompleted))
}

func TestSecurityAuditor_Run(t *testing.T) {
	f := newFixture(t, hardenedConfig(), fakeKeys{})

	// Disabled interval returns at once.
	f.auditor.Run(context.Background(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.auditor.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return f.sink.count(domain.AuditEventAuditCompleted) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestNew_Errors(t *testing.T) {
	_, err := New(nil, Options{Keys: fakeKeys{}})
	assert.Error(t, err)
	_, err = New(hardenedConfig(), Options{})
	assert.Error(t, err)
}

// ===== Scoring Tests =====

func TestScore_MonotonicAndClamped(t *testing.T) {
	findings := []domain.AuditFinding{
		{Code: "I", Severity: domain.SeverityInfo},
		{Code: "L", Severity: domain.SeverityLow},
	}
	prev := Score(findings)
	assert.Equal(t, 100, prev)

	additions := []domain.Severity{
		domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical,
		domain.SeverityLow, domain.SeverityCritical, domain.SeverityCritical,
		domain.SeverityCritical, domain.SeverityHigh, domain.SeverityMedium,
	}
	for _, sev := range additions {
		findings = append(findings, domain.AuditFinding{Severity: sev})
		score := Score(findings)
		assert.LessOrEqual(t, score, prev)
		assert.GreaterOrEqual(t, score, 0)
		assert.LessOrEqual(t, score, 100)
		prev = score
	}
	assert.Equal(t, 0, prev)
}

func TestRecommendations(t *testing.T) {
	f := func(sevs ...domain.Severity) []domain.AuditFinding {
		var out []domain.AuditFinding
		for _, s := range sevs {
			out = append(out, domain.AuditFinding{Severity: s})
		}
		return out
	}

	tests := []struct {
		name     string
		findings []domain.AuditFinding
		want     string
	}{
		{"none", nil, RecommendExcellent},
		{"info only", f(domain.SeverityInfo), RecommendExcellent},
		{"low", f(domain.SeverityInfo, domain.SeverityLow), RecommendReview},
		{"medium", f(domain.SeverityMedium), RecommendReview},
		{"high", f(domain.SeverityMedium, domain.SeverityHigh), RecommendHigh},
		{"critical wins", f(domain.SeverityHigh, domain.SeverityCritical), RecommendCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, []string{tt.want}, Recommendations(tt.findings))
		})
	}
}

func TestHelpers(t *testing.T) {
	findings := []domain.AuditFinding{
		{Code: "A", Category: domain.CategoryEncryption, Severity: domain.SeverityHigh},
		{Code: "B", Category: domain.CategoryMonitoring, Severity: domain.SeverityInfo},
		{Code: "C", Category: domain.CategoryEncryption, Severity: domain.SeverityInfo},
	}

	assert.False(t, HasCritical(findings))
	assert.Len(t, BySeverity(findings, domain.SeverityInfo), 2)
	assert.Len(t, ByCategory(findings, domain.CategoryEncryption), 2)
	assert.Equal(t, 1, CountBySeverity(findings)[domain.SeverityHigh])
	assert.Equal(t, "Security findings: 0 critical, 1 high, 0 medium, 0 low, 2 info", FormatSummary(findings))
	assert.Equal(t, "No security findings", FormatSummary(nil))
}
