package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/config"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/domain"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/logger"
)

// Exporter ships audit records to a destination.
type Exporter interface {
	// Export writes one record.
	Export(ctx context.Context, rec *domain.AuditRecord) error

	// Name returns the exporter name.
	Name() string

	// Close flushes and releases the exporter.
	Close() error
}

// StdoutExporter writes records through the application logger.
type StdoutExporter struct {
	format string
	log    *zap.Logger
}

// NewStdoutExporter creates a stdout exporter. A nil log uses the global
// logger at export time.
func NewStdoutExporter(cfg config.StdoutExportConfig, log *zap.Logger) *StdoutExporter {
	return &StdoutExporter{format: cfg.Format, log: log}
}

// Export logs rec.
func (e *StdoutExporter) Export(_ context.Context, rec *domain.AuditRecord) error {
	log := e.log
	if log == nil {
		log = logger.L()
	}

	if e.format == "text" {
		log.Info("audit",
			logger.String("event", string(rec.Event)),
			logger.String("id", rec.ID),
			logger.String("severity", string(rec.Severity)),
			logger.String("user_id", rec.UserID),
			logger.String("ip_address", rec.IPAddress),
			logger.String("reason", rec.Reason),
		)
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	log.Info("audit",
		logger.String("event", string(rec.Event)),
		logger.Any("record", json.RawMessage(data)),
	)
	return nil
}

// Name returns the exporter name.
func (e *StdoutExporter) Name() string { return "stdout" }

// Close is a no-op.
func (e *StdoutExporter) Close() error { return nil }

// FileExporter appends JSON lines to a size-rotated file.
type FileExporter struct {
	mu  sync.Mutex
	out *lumberjack.Logger
}

// NewFileExporter creates a file exporter. The file is opened on first write.
func NewFileExporter(cfg config.FileExportConfig) *FileExporter {
	return &FileExporter{out: &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.Rotation.MaxSizeMB,
		MaxBackups: cfg.Rotation.MaxBackups,
		MaxAge:     cfg.Rotation.MaxAgeDays,
		Compress:   cfg.Rotation.Compress,
	}}
}

// Export writes rec as one line.
func (e *FileExporter) Export(_ context.Context, rec *domain.AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.out.Write(data)
	return err
}

// Name returns the exporter name.
func (e *FileExporter) Name() string { return "file" }

// Close closes the file.
func (e *FileExporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.out.Close()
}

// RedisExporter appends records to a capped Redis stream.
type RedisExporter struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// NewRedisExporter creates a stream exporter.
func NewRedisExporter(client redis.UniversalClient, cfg config.RedisExportConfig) (*RedisExporter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis audit exporter requires a redis client")
	}
	stream := cfg.Stream
	if stream == "" {
		stream = "secgate:audit"
	}
	return &RedisExporter{client: client, stream: stream, maxLen: cfg.MaxLen}, nil
}

// Export adds rec to the stream, trimming it approximately to maxLen.
func (e *RedisExporter) Export(ctx context.Context, rec *domain.AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: e.stream,
		Values: map[string]any{
			"id":     rec.ID,
			"event":  string(rec.Event),
			"record": data,
		},
	}
	if e.maxLen > 0 {
		args.MaxLen = e.maxLen
		args.Approx = true
	}
	return e.client.XAdd(ctx, args).Err()
}

// Name returns the exporter name.
func (e *RedisExporter) Name() string { return "redis" }

// Close is a no-op; the client is owned by the caller.
func (e *RedisExporter) Close() error { return nil }
