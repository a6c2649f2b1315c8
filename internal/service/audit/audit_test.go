package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/config"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/domain"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/service/metrics"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/logger"
)

// memExporter collects exported records.
type memExporter struct {
	mu      sync.Mutex
	records []*domain.AuditRecord
	block   chan struct{}
	err     error
	closed  bool
}

func (e *memExporter) Export(_ context.Context, rec *domain.AuditRecord) error {
	if e.block != nil {
		<-e.block
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, rec)
	return e.err
}

func (e *memExporter) Name() string { return "mem" }

func (e *memExporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *memExporter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.records)
}

func record(event domain.AuditEventType, user string) *domain.AuditRecord {
	return domain.NewAuditRecord(event, domain.SecurityContext{UserID: user, IPAddress: "10.0.0.1"})
}

// ===== Service Tests =====

func TestNewService(t *testing.T) {
	cfg := config.AuditConfig{
		Enabled: true,
		Events:  []string{"REQUEST_ALLOWED", "THREAT_DETECTED"},
		Export: config.ExportConfig{
			Stdout: config.StdoutExportConfig{Enabled: true, Format: "json"},
			File:   config.FileExportConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "audit.log")},
		},
	}

	svc, err := NewService(cfg, nil, metrics.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)
	assert.True(t, svc.enabled)
	assert.Len(t, svc.enabledEvents, 2)
	require.Len(t, svc.exporters, 2)
	assert.Equal(t, "stdout", svc.exporters[0].Name())
	assert.Equal(t, "file", svc.exporters[1].Name())
	assert.Equal(t, defaultBufferSize, cap(svc.queue))
	assert.Equal(t, defaultTrailSize, svc.Trail().Capacity())
}

func TestNewService_RedisWithoutClient(t *testing.T) {
	cfg := config.AuditConfig{
		Enabled: true,
		Export:  config.ExportConfig{Redis: config.RedisExportConfig{Enabled: true}},
	}
	_, err := NewService(cfg, nil, metrics.NewMetrics(prometheus.NewRegistry()))
	assert.Error(t, err)
}

func TestService_Append_FillsFields(t *testing.T) {
	svc := NewServiceWithExporters(config.AuditConfig{}, metrics.NewMetrics(prometheus.NewRegistry()))

	ctx := logger.WithCorrelationID(context.Background(), "corr-1")
	rec := &domain.AuditRecord{Event: domain.AuditEventThreatDetected}
	svc.Append(ctx, rec)

	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.Timestamp.IsZero())
	assert.Equal(t, domain.SeverityHigh, rec.Severity)
	assert.Equal(t, "corr-1", rec.CorrelationID)

	last, ok := svc.Trail().Last()
	require.True(t, ok)
	assert.Same(t, rec, last)
}

func TestService_Append_Nil(t *testing.T) {
	svc := NewServiceWithExporters(config.AuditConfig{}, metrics.NewMetrics(prometheus.NewRegistry()))
	svc.Append(context.Background(), nil)
	assert.Zero(t, svc.Trail().Len())
}

func TestService_ExportsInBackground(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	exp := &memExporter{}
	svc := NewServiceWithExporters(config.AuditConfig{Enabled: true}, m, exp)
	require.NoError(t, svc.Start(context.Background()))

	for i := 0; i < 10; i++ {
		svc.Append(context.Background(), record(domain.AuditEventRequestAllowed, "u"))
	}

	assert.Eventually(t, func() bool { return exp.count() == 10 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 10.0, testutil.ToFloat64(m.AuditRecordsTotal.WithLabelValues("REQUEST_ALLOWED")))

	require.NoError(t, svc.Stop())
	assert.True(t, exp.closed)
}

func TestService_EventFilter(t *testing.T) {
	exp := &memExporter{}
	svc := NewServiceWithExporters(config.AuditConfig{
		Enabled: true,
		Events:  []string{"THREAT_DETECTED"},
	}, metrics.NewMetrics(prometheus.NewRegistry()), exp)
	require.NoError(t, svc.Start(context.Background()))

	svc.Append(context.Background(), record(domain.AuditEventRequestAllowed, "u"))
	svc.Append(context.Background(), record(domain.AuditEventThreatDetected, "u"))
	require.NoError(t, svc.Stop())

	require.Equal(t, 1, exp.count())
	assert.Equal(t, domain.AuditEventThreatDetected, exp.records[0].Event)
	// The trail keeps everything.
	assert.Equal(t, 2, svc.Trail().Len())
}

func TestService_Disabled_TrailOnly(t *testing.T) {
	exp := &memExporter{}
	svc := NewServiceWithExporters(config.AuditConfig{Enabled: false}, metrics.NewMetrics(prometheus.NewRegistry()), exp)
	require.NoError(t, svc.Start(context.Background()))

	svc.Append(context.Background(), record(domain.AuditEventRequestAllowed, "u"))
	require.NoError(t, svc.Stop())

	assert.Zero(t, exp.count())
	assert.Equal(t, 1, svc.Trail().Len())
}

func TestService_FullBufferDrops(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	exp := &memExporter{block: make(chan struct{})}
	svc := NewServiceWithExporters(config.AuditConfig{Enabled: true, BufferSize: 2}, m, exp)
	require.NoError(t, svc.Start(context.Background()))

	// The worker takes one record and blocks in Export; two more fill the
	// buffer, anything after is dropped.
	svc.Append(context.Background(), record(domain.AuditEventRequestAllowed, "u"))
	require.Eventually(t, func() bool { return len(svc.queue) == 0 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			svc.Append(context.Background(), record(domain.AuditEventRequestAllowed, "u"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Append blocked on a full buffer")
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.AuditDroppedTotal))
	assert.Equal(t, 6, svc.Trail().Len())

	close(exp.block)
	require.NoError(t, svc.Stop())
	assert.Equal(t, 3, exp.count())
}

func TestService_ExportErrorCounted(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	exp := &memExporter{err: fmt.Errorf("disk full")}
	svc := NewServiceWithExporters(config.AuditConfig{Enabled: true}, m, exp)
	require.NoError(t, svc.Start(context.Background()))

	svc.Append(context.Background(), record(domain.AuditEventRequestAllowed, "u"))
	require.NoError(t, svc.Stop())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditExportErrors.WithLabelValues("mem")))
}

func TestService_StopWithoutStart(t *testing.T) {
	exp := &memExporter{}
	svc := NewServiceWithExporters(config.AuditConfig{Enabled: true}, metrics.NewMetrics(prometheus.NewRegistry()), exp)
	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop())
	assert.True(t, exp.closed)

	// Appends after Stop still reach the trail.
	svc.Append(context.Background(), record(domain.AuditEventRequestAllowed, "u"))
	assert.Equal(t, 1, svc.Trail().Len())
	assert.Zero(t, len(svc.queue))
}

func TestService_ConcurrentAppend(t *testing.T) {
	svc := NewServiceWithExporters(config.AuditConfig{TrailSize: 100}, metrics.NewMetrics(prometheus.NewRegistry()))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				svc.Append(context.Background(), record(domain.AuditEventRequestAllowed, fmt.Sprintf("u%d", i)))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 100, svc.Trail().Len())
	assert.Len(t, svc.Trail().Recent(0), 100)
}

// ===== Trail Tests =====

func TestTrail_RingOrder(t *testing.T) {
	tr := NewTrail(3, 0)
	for i := 0; i < 5; i++ {
		rec := record(domain.AuditEventRequestAllowed, fmt.Sprintf("u%d", i))
		tr.Add(rec)
	}

	recent := tr.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "u4", recent[0].UserID)
	assert.Equal(t, "u3", recent[1].UserID)
	assert.Equal(t, "u2", recent[2].UserID)

	assert.Len(t, tr.Recent(2), 2)
	assert.Equal(t, 3, tr.Len())
}

func TestTrail_Empty(t *testing.T) {
	tr := NewTrail(0, 0)
	assert.Equal(t, defaultTrailSize, tr.Capacity())
	assert.Empty(t, tr.Recent(10))
	_, ok := tr.Last()
	assert.False(t, ok)
}

func TestTrail_SinceAndUser(t *testing.T) {
	tr := NewTrail(10, 0)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		rec := record(domain.AuditEventRequestAllowed, fmt.Sprintf("u%d", i%2))
		rec.Timestamp = base.Add(time.Duration(i) * time.Minute)
		tr.Add(rec)
	}

	since := tr.Since(base.Add(3 * time.Minute))
	require.Len(t, since, 3)
	assert.Equal(t, base.Add(5*time.Minute), since[0].Timestamp)

	u1 := tr.RecentForUser("u1", 2)
	require.Len(t, u1, 2)
	assert.Equal(t, base.Add(5*time.Minute), u1[0].Timestamp)
	assert.Equal(t, base.Add(3*time.Minute), u1[1].Timestamp)

	assert.Nil(t, tr.RecentForUser("", 10))
	assert.Empty(t, tr.RecentForUser("nobody", 10))
}

func TestTrail_Retention(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTrail(10, time.Hour)
	tr.clock = func() time.Time { return now }

	old := record(domain.AuditEventRequestAllowed, "old")
	old.Timestamp = now.Add(-2 * time.Hour)
	fresh := record(domain.AuditEventRequestAllowed, "fresh")
	fresh.Timestamp = now.Add(-time.Minute)
	tr.Add(old)
	tr.Add(fresh)

	recent := tr.Recent(0)
	require.Len(t, recent, 1)
	assert.Equal(t, "fresh", recent[0].UserID)
	assert.Equal(t, 2, tr.Len())
}

// ===== Exporter Tests =====

func TestStdoutExporter(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := zap.New(core)

	rec := record(domain.AuditEventPermissionDenied, "u1")
	rec.ID = "id-1"
	rec.Reason = domain.ReasonInsufficientPermissions

	require.NoError(t, NewStdoutExporter(config.StdoutExportConfig{Format: "json"}, log).Export(context.Background(), rec))
	require.NoError(t, NewStdoutExporter(config.StdoutExportConfig{Format: "text"}, log).Export(context.Background(), rec))

	entries := logs.All()
	require.Len(t, entries, 2)

	jsonFields := entries[0].ContextMap()
	assert.Equal(t, "PERMISSION_DENIED", jsonFields["event"])
	assert.Contains(t, jsonFields, "record")

	textFields := entries[1].ContextMap()
	assert.Equal(t, "id-1", textFields["id"])
	assert.Equal(t, "u1", textFields["user_id"])
	assert.Equal(t, domain.ReasonInsufficientPermissions, textFields["reason"])
}

func TestFileExporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	exp := NewFileExporter(config.FileExportConfig{Path: path, Rotation: logger.RotationConfig{MaxSizeMB: 1}})

	for i := 0; i < 3; i++ {
		rec := record(domain.AuditEventRequestAllowed, fmt.Sprintf("u%d", i))
		rec.ID = fmt.Sprintf("id-%d", i)
		require.NoError(t, exp.Export(context.Background(), rec))
	}
	require.NoError(t, exp.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec domain.AuditRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"id-0", "id-1", "id-2"}, ids)
}

func TestRedisExporter(t *testing.T) {
	_, err := NewRedisExporter(nil, config.RedisExportConfig{})
	assert.Error(t, err)

	addr := os.Getenv("SECGATE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SECGATE_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	stream := "test:audit:" + time.Now().Format(time.RFC3339Nano)
	defer client.Del(ctx, stream)

	exp, err := NewRedisExporter(client, config.RedisExportConfig{Stream: stream, MaxLen: 100})
	require.NoError(t, err)

	rec := record(domain.AuditEventRequestAllowed, "u")
	rec.ID = "id-1"
	require.NoError(t, exp.Export(ctx, rec))

	msgs, err := client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "id-1", msgs[0].Values["id"])
	assert.Equal(t, "REQUEST_ALLOWED", msgs[0].Values["event"])
}
