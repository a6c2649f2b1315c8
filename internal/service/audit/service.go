// Package audit records security events into a bounded in-memory trail and
// ships them to exporters from a background worker.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/config"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/domain"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/service/metrics"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/logger"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/tracing"
)

const (
	defaultBufferSize = 4096
	exportTimeout     = 5 * time.Second
)

// Service is the audit logger. Append never blocks: records always land in
// the trail, and are queued for export if there is room.
type Service struct {
	exporters     []Exporter
	enabledEvents map[domain.AuditEventType]bool
	enabled       bool

	trail   *Trail
	queue   chan *domain.AuditRecord
	metrics *metrics.Metrics
	clock   func() time.Time

	started  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewService builds the service and the exporters enabled in cfg. The redis
// exporter needs client.
func NewService(cfg config.AuditConfig, client redis.UniversalClient, m *metrics.Metrics) (*Service, error) {
	var exporters []Exporter
	if cfg.Export.Stdout.Enabled {
		exporters = append(exporters, NewStdoutExporter(cfg.Export.Stdout, nil))
	}
	if cfg.Export.File.Enabled {
		exporters = append(exporters, NewFileExporter(cfg.Export.File))
	}
	if cfg.Export.Redis.Enabled {
		exp, err := NewRedisExporter(client, cfg.Export.Redis)
		if err != nil {
			return nil, err
		}
		exporters = append(exporters, exp)
	}
	return NewServiceWithExporters(cfg, m, exporters...), nil
}

// NewServiceWithExporters builds the service around the given exporters.
func NewServiceWithExporters(cfg config.AuditConfig, m *metrics.Metrics, exporters ...Exporter) *Service {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}

	s := &Service{
		exporters:     exporters,
		enabledEvents: make(map[domain.AuditEventType]bool),
		enabled:       cfg.Enabled,
		trail:         NewTrail(cfg.TrailSize, cfg.TrailRetention),
		queue:         make(chan *domain.AuditRecord, size),
		metrics:       m,
		clock:         time.Now,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, event := range cfg.Events {
		s.enabledEvents[domain.AuditEventType(event)] = true
	}
	return s
}

// Start launches the export worker.
func (s *Service) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	go s.run()

	logger.Info("audit service started",
		logger.Bool("enabled", s.enabled),
		logger.Int("exporters", len(s.exporters)),
		logger.Int("buffer", cap(s.queue)),
		logger.Int("trail", s.trail.Capacity()),
	)
	return nil
}

// Stop drains queued records and closes the exporters.
func (s *Service) Stop() error {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		if s.started.Load() {
			close(s.stop)
			<-s.done
		}
		for _, exp := range s.exporters {
			if err := exp.Close(); err != nil {
				logger.Warn("error closing exporter",
					logger.String("exporter", exp.Name()),
					logger.Err(err),
				)
			}
		}
	})
	return nil
}

// Trail returns the in-memory trail.
func (s *Service) Trail() *Trail { return s.trail }

// RecentForUser returns the user's latest records, newest first.
func (s *Service) RecentForUser(userID string, limit int) []*domain.AuditRecord {
	return s.trail.RecentForUser(userID, limit)
}

// Append records rec. The caller hands over ownership and must not modify
// rec afterwards.
func (s *Service) Append(ctx context.Context, rec *domain.AuditRecord) {
	if rec == nil {
		return
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.clock().UTC()
	}
	if rec.Severity == "" {
		rec.Severity = rec.Event.Severity()
	}
	if rec.CorrelationID == "" {
		rec.CorrelationID = logger.CorrelationIDFromContext(ctx)
	}
	if rec.TraceID == "" {
		rec.TraceID = tracing.TraceIDFromContext(ctx)
	}

	s.trail.Add(rec)
	s.metrics.RecordAudit(string(rec.Event))

	if !s.exported(rec.Event) || s.stopped.Load() {
		return
	}
	select {
	case s.queue <- rec:
	default:
		s.metrics.AuditDroppedTotal.Inc()
		logger.WithContext(ctx).Debug("audit buffer full, record dropped",
			logger.String("event", string(rec.Event)),
			logger.String("id", rec.ID),
		)
	}
}

// exported reports whether event goes to the exporters. An empty event list
// exports everything.
func (s *Service) exported(event domain.AuditEventType) bool {
	if !s.enabled || len(s.exporters) == 0 {
		return false
	}
	return len(s.enabledEvents) == 0 || s.enabledEvents[event]
}

func (s *Service) run() {
	defer close(s.done)
	for {
		select {
		case rec := <-s.queue:
			s.export(rec)
		case <-s.stop:
			for {
				select {
				case rec := <-s.queue:
					s.export(rec)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) export(rec *domain.AuditRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
	defer cancel()

	for _, exp := range s.exporters {
		if err := exp.Export(ctx, rec); err != nil {
			s.metrics.AuditExportErrors.WithLabelValues(exp.Name()).Inc()
			logger.Warn("failed to export audit record",
				logger.String("exporter", exp.Name()),
				logger.String("id", rec.ID),
				logger.Err(err),
			)
		}
	}
}
