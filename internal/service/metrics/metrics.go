package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "secgate"

// Metrics holds all Prometheus metrics for the security gateway.
type Metrics struct {
	// Pipeline metrics
	DecisionsTotal *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	PipelineErrors prometheus.Counter

	// Component metrics
	ThreatsTotal      *prometheus.CounterVec
	SessionsTotal     *prometheus.CounterVec
	RateLimitKeys     prometheus.Gauge
	KeyRotationsTotal prometheus.Counter
	KeyVersion        prometheus.Gauge
	PermissionReloads *prometheus.CounterVec

	// Audit metrics
	AuditRecordsTotal *prometheus.CounterVec
	AuditDroppedTotal prometheus.Counter
	AuditExportErrors *prometheus.CounterVec
	PostureScore      prometheus.Gauge
	PostureFindings   *prometheus.GaugeVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance registered with the default registry.
var DefaultMetrics *Metrics

func init() {
	DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
}

// NewMetrics creates and registers all metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DecisionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Pipeline decisions by terminal stage and outcome",
			},
			[]string{"stage", "allowed"},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each pipeline stage",
				Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5},
			},
			[]string{"stage"},
		),
		PipelineErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_errors_total",
			Help:      "Recovered panics inside the pipeline",
		}),

		ThreatsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "threat",
				Name:      "detections_total",
				Help:      "Threat detections by type",
			},
			[]string{"type"},
		),
		SessionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "validations_total",
				Help:      "Session validations by outcome",
			},
			[]string{"status"},
		),
		RateLimitKeys: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "tracked_keys",
			Help:      "Rate limit windows currently held in memory",
		}),
		KeyRotationsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crypto",
			Name:      "key_rotations_total",
			Help:      "Encryption key rotations",
		}),
		KeyVersion: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "crypto",
			Name:      "key_version",
			Help:      "Current encryption key version",
		}),
		PermissionReloads: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "permissions",
				Name:      "reloads_total",
				Help:      "Permission map reloads by result",
			},
			[]string{"result"},
		),

		AuditRecordsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "records_total",
				Help:      "Audit records accepted by event type",
			},
			[]string{"event"},
		),
		AuditDroppedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "dropped_total",
			Help:      "Audit records dropped because the buffer was full",
		}),
		AuditExportErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "export_errors_total",
				Help:      "Exporter failures by exporter",
			},
			[]string{"exporter"},
		),
		PostureScore: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "auditor",
			Name:      "score",
			Help:      "Most recent security posture score",
		}),
		PostureFindings: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "auditor",
				Name:      "findings",
				Help:      "Findings of the most recent audit by severity",
			},
			[]string{"severity"},
		),

		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by method and status",
			},
			[]string{"method", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}
}

// RecordDecision records the terminal stage of a pipeline run.
func (m *Metrics) RecordDecision(stage string, allowed bool) {
	m.DecisionsTotal.WithLabelValues(stage, boolLabel(allowed)).Inc()
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordThreat records a threat detection.
func (m *Metrics) RecordThreat(threatType string) {
	m.ThreatsTotal.WithLabelValues(threatType).Inc()
}

// RecordSession records a session validation outcome.
func (m *Metrics) RecordSession(status string) {
	m.SessionsTotal.WithLabelValues(status).Inc()
}

// RecordKeyRotation records a rotation to version.
func (m *Metrics) RecordKeyRotation(version uint32) {
	m.KeyRotationsTotal.Inc()
	m.KeyVersion.Set(float64(version))
}

// RecordPermissionReload records a permission map reload.
func (m *Metrics) RecordPermissionReload(ok bool) {
	result := "success"
	if !ok {
		result = "error"
	}
	m.PermissionReloads.WithLabelValues(result).Inc()
}

// RecordAudit records an accepted audit record.
func (m *Metrics) RecordAudit(event string) {
	m.AuditRecordsTotal.WithLabelValues(event).Inc()
}

// RecordPosture publishes the result of a posture audit.
func (m *Metrics) RecordPosture(score int, bySeverity map[string]int) {
	m.PostureScore.Set(float64(score))
	m.PostureFindings.Reset()
	for sev, n := range bySeverity {
		m.PostureFindings.WithLabelValues(sev).Set(float64(n))
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
