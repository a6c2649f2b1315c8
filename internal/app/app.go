// Package app provides application lifecycle management and dependency injection.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/config"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/domain"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/pipeline"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/service/audit"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/service/auditor"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/service/authz"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/service/crypto"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/service/metrics"
	ratelimiter "github.com/fartech2025/SDR-Juridico-sub003/internal/service/ratelimit"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/service/session"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/service/threat"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/service/validation"
	httpTransport "github.com/fartech2025/SDR-Juridico-sub003/internal/transport/http"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/logger"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/resilience/circuitbreaker"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/resilience/ratelimit"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/tracing"
)

// keyRefreshInterval is how often the key ring is checked for rotation.
const keyRefreshInterval = time.Minute

// BuildInfo holds application build information.
type BuildInfo struct {
	Version   string
	BuildTime string
	GitCommit string
}

// App represents the application with all its services and dependencies.
type App struct {
	cfg *config.Config

	httpServer *httpTransport.Server

	// Services
	auditService *audit.Service
	cryptoMgr    *crypto.Manager
	sessions     *session.Manager
	authorizer   *authz.Authorizer
	pipeline     *pipeline.SecurityMiddleware
	auditor      *auditor.SecurityAuditor

	// Resilience components
	redisClient    redis.UniversalClient
	rateLimiter    *ratelimit.Limiter
	circuitBreaker *circuitbreaker.Manager

	// Observability
	tracingProvider *tracing.Provider
	metrics         *metrics.Metrics
	gatherer        prometheus.Gatherer

	// Background loops started by Initialize.
	cancel context.CancelFunc

	buildInfo BuildInfo
}

// Option is a functional option for configuring the App.
type Option func(*App)

// WithBuildInfo sets the build information.
func WithBuildInfo(info BuildInfo) Option {
	return func(a *App) {
		a.buildInfo = info
	}
}

// WithMetrics records into m and serves g. Tests use a private registry.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(a *App) {
		a.metrics = m
		a.gatherer = g
	}
}

// WithRedisClient injects a redis client instead of dialing cfg.Redis.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(a *App) {
		a.redisClient = client
	}
}

// New creates a new App instance with the given configuration and options.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	app := &App{
		cfg:      cfg,
		metrics:  metrics.DefaultMetrics,
		gatherer: prometheus.DefaultGatherer,
		buildInfo: BuildInfo{
			Version:   "dev",
			BuildTime: "unknown",
			GitCommit: "unknown",
		},
	}

	for _, opt := range opts {
		opt(app)
	}

	return app, nil
}

// Initialize builds every component in dependency order. Background loops
// run until Shutdown.
func (a *App) Initialize(ctx context.Context) error {
	var err error
	cfg := a.cfg

	a.logSecurityWarnings()

	bg, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	tracingCfg := cfg.Tracing
	if tracingCfg.ServiceVersion == "" {
		tracingCfg.ServiceVersion = a.buildInfo.Version
	}
	a.tracingProvider, err = tracing.NewProvider(ctx, tracingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if a.tracingProvider.Enabled() {
		logger.Info("tracing initialized",
			logger.String("endpoint", tracingCfg.Endpoint),
			logger.Float64("sample_rate", tracingCfg.SampleRate),
		)
	}

	a.circuitBreaker = circuitbreaker.NewManager(cfg.CircuitBreaker)

	if a.redisClient == nil && usesRedis(cfg) {
		a.redisClient, err = newRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
	}
	prefix := cfg.Redis.KeyPrefix

	a.auditService, err = audit.NewService(cfg.Audit, a.redisClient, a.metrics)
	if err != nil {
		return fmt.Errorf("failed to create audit service: %w", err)
	}
	if err := a.auditService.Start(bg); err != nil {
		return fmt.Errorf("failed to start audit service: %w", err)
	}

	a.cryptoMgr, err = crypto.NewManagerFromConfig(ctx, cfg.Encryption, cfg.Auth.SessionTimeout,
		a.redisClient, prefix, a.circuitBreaker, a.auditService, a.metrics)
	if err != nil {
		return fmt.Errorf("failed to create encryption manager: %w", err)
	}
	go a.cryptoMgr.Run(bg, keyRefreshInterval)

	a.sessions, err = session.NewManagerFromConfig(cfg.Auth, a.cryptoMgr, a.redisClient, prefix,
		a.auditService, a.circuitBreaker, a.metrics)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	a.authorizer, err = authz.NewFromConfig(cfg.Permissions, a.metrics)
	if err != nil {
		return fmt.Errorf("failed to load permissions: %w", err)
	}
	if cfg.Permissions.File != "" && cfg.Permissions.Watch {
		if err := a.authorizer.Watch(bg, cfg.Permissions.File); err != nil {
			return fmt.Errorf("failed to watch permissions: %w", err)
		}
	}

	a.pipeline, err = pipeline.New(pipeline.Deps{
		Limiter:    ratelimiter.New(cfg.RateLimit, a.redisClient, prefix),
		Detector:   threat.NewDetector(cfg.Threat.ScannerAgents),
		Sessions:   a.sessions,
		Authorizer: a.authorizer,
		Validator:  validation.NewValidator(cfg.Validation),
		Sanitizer:  validation.NewSanitizer(cfg.Validation.AllowedHeaders),
		Audit:      a.auditService,
		Metrics:    a.metrics,
		Tracer:     a.tracingProvider,
	})
	if err != nil {
		return fmt.Errorf("failed to create security pipeline: %w", err)
	}

	a.auditor, err = auditor.New(cfg, auditor.Options{
		Keys:    a.cryptoMgr,
		Trail:   a.auditService.Trail(),
		Audit:   a.auditService,
		Metrics: a.metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create security auditor: %w", err)
	}
	if cfg.Auditor.Interval > 0 {
		go a.auditor.Run(bg, cfg.Auditor.Interval)
	}

	serverOpts := []httpTransport.ServerOption{
		httpTransport.WithTracer(a.tracingProvider),
		httpTransport.WithMetrics(a.metrics, a.gatherer),
	}
	if cfg.Server.ManagementRate.Enabled {
		a.rateLimiter, err = ratelimit.NewLimiter(cfg.Server.ManagementRate, a.redisClient, prefix)
		if err != nil {
			return fmt.Errorf("failed to create management rate limiter: %w", err)
		}
		serverOpts = append(serverOpts, httpTransport.WithRateLimiter(a.rateLimiter))
	}

	handler := httpTransport.NewHandler(a.buildInfo.Version,
		httpTransport.WithAuditor(a.auditor),
		httpTransport.WithTrail(a.auditService.Trail()),
		httpTransport.WithAppInfo(a),
	)
	a.httpServer, err = httpTransport.NewServer(cfg.Server, a.pipeline,
		int64(cfg.Validation.MaxBodyBytes), handler, serverOpts...)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	logger.Info("application initialized",
		logger.String("version", a.buildInfo.Version),
		logger.String("algorithm", a.cryptoMgr.Algorithm()),
		logger.String("key_source", a.cryptoMgr.KeySourceName()),
		logger.Int("routes", len(a.authorizer.Routes())),
	)
	return nil
}

// Start starts the HTTP listener in the background.
func (a *App) Start() error {
	if a.httpServer == nil {
		return fmt.Errorf("app is not initialized")
	}
	if a.cfg.Server.HTTP.Enabled {
		go func() {
			if err := a.httpServer.Start(); err != nil {
				logger.Error("HTTP server error", logger.Err(err))
			}
		}()
	}

	logger.Info("application started")
	return nil
}

// Shutdown gracefully shuts down all application services.
func (a *App) Shutdown(ctx context.Context) error {
	logger.Info("shutting down application")

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown HTTP server", logger.Err(err))
		}
	}

	if a.cancel != nil {
		a.cancel()
	}

	// Drains pending audit records, so it runs after the listener is closed.
	if a.auditService != nil {
		if err := a.auditService.Stop(); err != nil {
			logger.Error("failed to stop audit service", logger.Err(err))
		}
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			logger.Error("failed to close redis client", logger.Err(err))
		}
	}

	// Tracing last to capture all spans.
	if a.tracingProvider != nil {
		if err := a.tracingProvider.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown tracing provider", logger.Err(err))
		}
	}

	logger.Info("application shutdown complete")
	return nil
}

// Pipeline returns the security pipeline.
func (a *App) Pipeline() *pipeline.SecurityMiddleware {
	return a.pipeline
}

// HTTPServer returns the HTTP server.
func (a *App) HTTPServer() *httpTransport.Server {
	return a.httpServer
}

// Sessions returns the session manager, used to issue tokens.
func (a *App) Sessions() *session.Manager {
	return a.sessions
}

// Auditor returns the security auditor.
func (a *App) Auditor() *auditor.SecurityAuditor {
	return a.auditor
}

// AuditTrail returns the in-memory audit trail.
func (a *App) AuditTrail() *audit.Trail {
	if a.auditService == nil {
		return nil
	}
	return a.auditService.Trail()
}

// CircuitBreaker returns the circuit breaker manager.
func (a *App) CircuitBreaker() *circuitbreaker.Manager {
	return a.circuitBreaker
}

func (a *App) logSecurityWarnings() {
	cfg := a.cfg

	if cfg.Encryption.MasterKey == "" {
		logger.Warn("SECURITY WARNING: encryption master key is not configured",
			logger.String("setting", "encryption.master_key"),
		)
	}
	if !cfg.Auth.MFARequired {
		logger.Warn("SECURITY WARNING: multi-factor authentication is not required",
			logger.String("setting", "auth.mfa_required"),
		)
	}
	if !cfg.Audit.Enabled {
		logger.Warn("SECURITY WARNING: audit export is disabled",
			logger.String("setting", "audit.enabled"),
		)
	}
	if cfg.Server.ManagementRate.TrustForwardedFor {
		logger.Warn("SECURITY WARNING: management rate limiter trusts X-Forwarded-For",
			logger.String("setting", "server.management_rate_limit.trust_forwarded_for"),
		)
	}
	if cfg.Server.Proxy.Mode == "reverse_proxy" && cfg.Server.ErrorResponse.IncludeReason {
		logger.Warn("denial reasons are exposed to clients",
			logger.String("setting", "server.error_response.include_reason"),
		)
	}
}

// GetServices returns health status of all services.
func (a *App) GetServices() []httpTransport.ServiceHealth {
	services := []httpTransport.ServiceHealth{}

	if a.auditService != nil {
		services = append(services, httpTransport.ServiceHealth{
			Name:   "audit",
			Status: "healthy",
		})
	}

	if a.cryptoMgr != nil {
		health := httpTransport.ServiceHealth{Name: "encryption", Status: "healthy"}
		if a.cryptoMgr.Ephemeral() {
			health.Status = "degraded"
			health.Message = "ephemeral master key"
		}
		services = append(services, health)
	}

	if a.redisClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := a.redisClient.Ping(ctx).Err()
		cancel()

		health := httpTransport.ServiceHealth{Name: "redis", Status: "healthy"}
		if err != nil {
			health.Status = "unhealthy"
			health.Message = err.Error()
		}
		services = append(services, health)
	}

	if a.circuitBreaker != nil {
		for name, state := range a.circuitBreaker.States() {
			health := httpTransport.ServiceHealth{Name: "breaker:" + name, Status: "healthy"}
			if state != circuitbreaker.StateClosed.String() {
				health.Status = "degraded"
				health.Message = "circuit " + state
			}
			services = append(services, health)
		}
	}

	return services
}

// IsReady reports whether the pipeline can serve requests.
func (a *App) IsReady() bool {
	return a.pipeline != nil && a.auditor != nil
}

// usesRedis reports whether any configured component stores state in redis.
func usesRedis(cfg *config.Config) bool {
	return cfg.RateLimit.Store == "redis" ||
		cfg.Auth.ActivityStore == "redis" ||
		cfg.Encryption.KeySource == "redis" ||
		cfg.Server.ManagementRate.Store == "redis" ||
		(cfg.Audit.Enabled && cfg.Audit.Export.Redis.Enabled)
}

var _ domain.AuditSink = (*audit.Service)(nil)
