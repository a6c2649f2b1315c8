// Package circuitbreaker guards slow or flaky dependencies (key source,
// anomaly scorer) with sony/gobreaker.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"

	"github.com/sony/gobreaker/v2"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/config"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/logger"
)

// State represents the circuit breaker state.
type State = gobreaker.State

// States
const (
	StateClosed   = gobreaker.StateClosed
	StateHalfOpen = gobreaker.StateHalfOpen
	StateOpen     = gobreaker.StateOpen
)

// Well-known breaker names.
const (
	KeySource     = "key_source"
	AnomalyScorer = "anomaly_scorer"
)

// ErrOpen is returned when the breaker rejects a call.
var ErrOpen = gobreaker.ErrOpenState

// Manager hands out one breaker per dependency name.
type Manager struct {
	cfg      config.CircuitBreakerConfig
	breakers map[string]*gobreaker.CircuitBreaker[any]
	mu       sync.RWMutex
}

// NewManager creates a new circuit breaker manager.
func NewManager(cfg config.CircuitBreakerConfig) *Manager {
	m := &Manager{
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
	for name, settings := range cfg.Services {
		m.breakers[name] = m.createBreaker(name, settings)
	}
	return m
}

// Get returns or creates the breaker for name.
func (m *Manager) Get(name string) *gobreaker.CircuitBreaker[any] {
	m.mu.RLock()
	cb, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok = m.breakers[name]; ok {
		return cb
	}

	settings := m.cfg.Default
	if s, ok := m.cfg.Services[name]; ok {
		settings = s
	}
	cb = m.createBreaker(name, settings)
	m.breakers[name] = cb
	return cb
}

func (m *Manager) createBreaker(name string, settings config.CircuitBreakerSettings) *gobreaker.CircuitBreaker[any] {
	threshold := settings.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A caller giving up is not a dependency failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if settings.OnStateChange {
				logger.Warn("circuit breaker state changed",
					logger.String("dependency", name),
					logger.String("from", from.String()),
					logger.String("to", to.String()),
				)
			}
		},
	})
}

// ExecuteTyped runs fn under the named breaker. A context that is already
// done short-circuits without touching the breaker counts.
func ExecuteTyped[T any](ctx context.Context, m *Manager, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	result, err := m.Get(name).Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	return result.(T), nil
}

// State returns the current state of a breaker.
func (m *Manager) State(name string) State {
	return m.Get(name).State()
}

// States returns all breaker states keyed by name, as strings for reporting.
func (m *Manager) States() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[string]string, len(m.breakers))
	for name, cb := range m.breakers {
		states[name] = cb.State().String()
	}
	return states
}
