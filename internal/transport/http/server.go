package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/config"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/service/metrics"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/httputil"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/logger"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/resilience/ratelimit"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/tracing"
)

// Server represents the HTTP server.
type Server struct {
	httpServer   *http.Server
	router       chi.Router
	handler      *Handler
	reverseProxy *ReverseProxy
	rateLimiter  *ratelimit.Limiter
	tracer       *tracing.Provider
	metrics      *metrics.Metrics
	gatherer     prometheus.Gatherer
	cfg          config.ServerConfig
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithRateLimiter guards the management routes.
func WithRateLimiter(limiter *ratelimit.Limiter) ServerOption {
	return func(s *Server) {
		s.rateLimiter = limiter
	}
}

// WithTracer opens a server span per request.
func WithTracer(p *tracing.Provider) ServerOption {
	return func(s *Server) {
		s.tracer = p
	}
}

// WithMetrics records HTTP metrics into m and serves g on the metrics route.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// NewServer creates the gateway server. Requests under the protected prefix
// go through the pipeline first.
func NewServer(cfg config.ServerConfig, pipeline Processor, maxBody int64, handler *Handler, opts ...ServerOption) (*Server, error) {
	s := &Server{
		handler:  handler,
		cfg:      cfg,
		tracer:   tracing.Disabled(),
		metrics:  metrics.DefaultMetrics,
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.Proxy.Mode == "reverse_proxy" {
		proxy, err := NewReverseProxy(cfg.Proxy)
		if err != nil {
			return nil, err
		}
		s.reverseProxy = proxy
	}

	router := chi.NewRouter()

	// Middleware stack (order matters)
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(logger.CorrelationIDMiddleware)
	router.Use(middleware.Recoverer)
	router.Use(tracing.Middleware(s.tracer))
	router.Use(metrics.HTTPMiddleware(s.metrics))
	router.Use(requestLogger)

	s.registerRoutes(router, pipeline, NewRequestReader(maxBody), httputil.NewErrorResponseWriter(cfg.ErrorResponse))
	s.router = router

	s.httpServer = &http.Server{
		Addr:           cfg.HTTP.Addr,
		Handler:        router,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}
	return s, nil
}

// registerRoutes registers all HTTP routes with configurable endpoints.
func (s *Server) registerRoutes(r chi.Router, pipeline Processor, reader *RequestReader, errs *httputil.ErrorResponseWriter) {
	ep := s.cfg.Endpoints
	h := s.handler

	// Probes are never rate limited.
	if ep.Health != "" {
		r.Get(ep.Health, h.Health)
		r.Get(ep.Health+"z", h.Health)
	}
	if ep.Ready != "" {
		r.Get(ep.Ready, h.Ready)
		r.Get(ep.Ready+"z", h.Ready)
	}

	r.Group(func(r chi.Router) {
		if s.rateLimiter != nil {
			r.Use(s.rateLimiter.Middleware())
			logger.Info("management rate limiter enabled")
		}
		if ep.Metrics != "" {
			r.Handle(ep.Metrics, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
		}
		if ep.SecurityAudit != "" {
			r.Get(ep.SecurityAudit, h.SecurityAudit)
		}
		if ep.AuditTrail != "" {
			r.Get(ep.AuditTrail, h.AuditTrail)
		}
	})

	if ep.Protected == "" || pipeline == nil {
		return
	}

	var next http.Handler = http.HandlerFunc(h.Decision)
	if s.reverseProxy != nil {
		next = s.reverseProxy
	}
	protected := Guard(pipeline, reader, errs)(next)

	prefix := strings.TrimSuffix(ep.Protected, "/")
	r.Handle(prefix, protected)
	r.Handle(prefix+"/*", protected)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logger.Info("starting HTTP server",
		logger.String("addr", s.cfg.HTTP.Addr),
		logger.String("mode", s.cfg.Proxy.Mode),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown marks the server as draining and gracefully shuts it down.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("shutting down HTTP server")
	s.handler.SetDraining(true)
	return s.httpServer.Shutdown(ctx)
}

// requestLogger is a middleware that logs HTTP requests.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.WithContext(r.Context()).Info("http request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Int("bytes", ww.BytesWritten()),
			logger.Duration("duration", time.Since(start)),
			logger.String("remote_addr", r.RemoteAddr),
			logger.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
