// Package ratelimit throttles the management API (audit reports, trail,
// metrics) per client IP using ulule/limiter. The request pipeline has its
// own per user+IP sliding window in internal/service/ratelimit.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/config"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/logger"
)

// Limiter wraps a ulule limiter instance.
type Limiter struct {
	cfg      config.ManagementRateLimitConfig
	instance *limiter.Limiter
}

// NewLimiter creates a limiter. client is only used for the redis store
// and may be nil otherwise.
func NewLimiter(cfg config.ManagementRateLimitConfig, client redis.UniversalClient, keyPrefix string) (*Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(cfg.Rate)
	if err != nil {
		return nil, err
	}

	var store limiter.Store
	switch cfg.Store {
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("management rate limit: redis store requires a redis client")
		}
		store, err = redisstore.NewStoreWithOptions(client, limiter.StoreOptions{
			Prefix: keyPrefix + "mgmt-limit",
		})
		if err != nil {
			return nil, err
		}
	default:
		store = memory.NewStore()
	}

	return &Limiter{cfg: cfg, instance: limiter.New(store, rate)}, nil
}

// Middleware returns an HTTP middleware that applies the limit.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l.isExcluded(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			key := l.clientKey(r)
			lc, err := l.instance.Get(r.Context(), key)
			if err != nil {
				// Store failure: let management traffic through.
				logger.Error("management rate limiter error", logger.Err(err))
				next.ServeHTTP(w, r)
				return
			}

			if l.cfg.HeadersEnabled {
				w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(lc.Limit, 10))
				w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(lc.Remaining, 10))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(lc.Reset, 10))
			}

			if lc.Reached {
				logger.Warn("management rate limit exceeded",
					logger.String("client_key", key),
					logger.String("path", r.URL.Path),
				)
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (l *Limiter) clientKey(r *http.Request) string {
	if l.cfg.TrustForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (l *Limiter) isExcluded(path string) bool {
	for _, p := range l.cfg.ExcludePaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Reset clears the counter for a key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	_, err := l.instance.Reset(ctx, key)
	return err
}
