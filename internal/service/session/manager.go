// Package session validates and issues encrypted session tokens.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/config"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/domain"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/service/crypto"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/service/metrics"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/errors"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/logger"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/resilience/circuitbreaker"
)

// IntegrityKeyPurpose is the derivation label of the integrity key.
const IntegrityKeyPurpose = "session-integrity"

const historyLimit = 50

// Cipher is the encryption boundary used for tokens.
type Cipher interface {
	EncryptWithMetadata(ctx context.Context, data any, metadata map[string]any) (string, error)
	Decrypt(ctx context.Context, token string) (crypto.Payload, error)
	CurrentKeyVersion(ctx context.Context) uint32
}

// Options configures a Manager.
type Options struct {
	Timeout           time.Duration
	ValidationTimeout time.Duration
	AnomalyThreshold  float64
	IntegrityKey      []byte

	Scorer   Scorer
	History  History
	Activity ActivityStore
	Breakers *circuitbreaker.Manager
	Metrics  *metrics.Metrics
	Clock    func() time.Time
}

// Manager runs the session validation state machine:
// decrypt, expiry, integrity, anomaly score, then activity update.
type Manager struct {
	cipher Cipher
	opts   Options
	clock  func() time.Time
}

// NewManager creates a session manager.
func NewManager(cipher Cipher, opts Options) (*Manager, error) {
	if cipher == nil {
		return nil, fmt.Errorf("cipher is required")
	}
	if len(opts.IntegrityKey) < 32 {
		return nil, errors.Wrap(errors.ErrInvalidKeySize, "integrity key")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Minute
	}
	if opts.ValidationTimeout <= 0 {
		opts.ValidationTimeout = 2 * time.Second
	}
	if opts.AnomalyThreshold <= 0 {
		opts.AnomalyThreshold = 0.8
	}
	if opts.Scorer == nil {
		opts.Scorer = ConstantScorer(DefaultAnomalyScore)
	}
	if opts.History == nil {
		opts.History = noHistory{}
	}
	if opts.Activity == nil {
		opts.Activity = NewMemoryActivityStore(0, opts.Timeout)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultMetrics
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Manager{cipher: cipher, opts: opts, clock: clock}, nil
}

// NewManagerFromConfig wires a manager to the crypto manager and the
// configured activity store.
func NewManagerFromConfig(cfg config.AuthConfig, cm *crypto.Manager, client redis.UniversalClient, keyPrefix string,
	history History, breakers *circuitbreaker.Manager, m *metrics.Metrics) (*Manager, error) {

	key, err := cm.DeriveSubkey(IntegrityKeyPurpose)
	if err != nil {
		return nil, err
	}

	var activity ActivityStore
	if cfg.ActivityStore == "redis" && client != nil {
		activity = NewRedisActivityStore(client, keyPrefix, cfg.SessionTimeout)
	} else {
		activity = NewMemoryActivityStore(0, cfg.SessionTimeout)
	}

	return NewManager(cm, Options{
		Timeout:           cfg.SessionTimeout,
		ValidationTimeout: cfg.ValidationTimeout,
		AnomalyThreshold:  cfg.AnomalyThreshold,
		IntegrityKey:      key,
		History:           history,
		Activity:          activity,
		Breakers:          breakers,
		Metrics:           m,
	})
}

// Timeout returns the session lifetime.
func (m *Manager) Timeout() time.Duration { return m.opts.Timeout }

// Validate runs the state machine for token. It never returns an error: every
// failure maps to an invalid status.
func (m *Manager) Validate(ctx context.Context, token string, sctx domain.SecurityContext) domain.SessionValidation {
	result := m.validate(ctx, token, sctx)
	m.opts.Metrics.RecordSession(string(result.Status))
	return result
}

func (m *Manager) validate(ctx context.Context, token string, sctx domain.SecurityContext) domain.SessionValidation {
	vctx, cancel := context.WithTimeout(ctx, m.opts.ValidationTimeout)
	defer cancel()

	payload, err := withDeadline(vctx, func(ctx context.Context) (crypto.Payload, error) {
		return m.cipher.Decrypt(ctx, token)
	})
	if err != nil {
		if isTimeout(err) {
			return domain.SessionValidation{Status: domain.SessionTimeout}
		}
		// Any failure to decrypt is treated as tampering.
		logger.WithContext(ctx).Debug("session decrypt failed", logger.Err(err))
		return domain.SessionValidation{Status: domain.SessionTampered}
	}

	var s domain.Session
	if err := payload.Decode(&s); err != nil || s.ID == "" {
		return domain.SessionValidation{Status: domain.SessionTampered}
	}
	s.KeyVersion = payload.KeyVersion

	now := m.clock()
	if s.Age(now) > m.opts.Timeout {
		return domain.SessionValidation{Status: domain.SessionExpired, Session: &s}
	}

	if !m.ValidateIntegrity(&s) {
		return domain.SessionValidation{Status: domain.SessionTampered, Session: &s}
	}

	score, err := m.score(vctx, &s, sctx)
	if err != nil {
		if isTimeout(err) {
			return domain.SessionValidation{Status: domain.SessionTimeout, Session: &s}
		}
		logger.WithContext(ctx).Warn("anomaly scoring failed", logger.String("session_id", s.ID), logger.Err(err))
		return domain.SessionValidation{Status: domain.SessionUnscored, Session: &s}
	}
	if score > m.opts.AnomalyThreshold {
		return domain.SessionValidation{Status: domain.SessionAnomalous, Session: &s, AnomalyScore: score}
	}

	if err := m.UpdateActivity(ctx, s.ID, now); err != nil {
		logger.WithContext(ctx).Warn("failed to record session activity", logger.String("session_id", s.ID), logger.Err(err))
	}
	s.LastActivityAt = now

	return domain.SessionValidation{Status: domain.SessionValid, Session: &s, AnomalyScore: score}
}

func (m *Manager) score(ctx context.Context, s *domain.Session, sctx domain.SecurityContext) (float64, error) {
	history := m.opts.History.RecentForUser(s.UserID, historyLimit)
	run := func(ctx context.Context) (float64, error) {
		return m.opts.Scorer.Score(ctx, s, sctx, history)
	}
	if m.opts.Breakers != nil {
		inner := run
		run = func(ctx context.Context) (float64, error) {
			return circuitbreaker.ExecuteTyped(ctx, m.opts.Breakers, circuitbreaker.AnomalyScorer, inner)
		}
	}
	score, err := withDeadline(ctx, run)
	if err != nil {
		return 0, err
	}
	return domain.ClampScore(score), nil
}

// ValidateIntegrity checks the session's tag against its canonical fields.
func (m *Manager) ValidateIntegrity(s *domain.Session) bool {
	if s == nil || s.IntegrityTag == "" {
		return false
	}
	got, err := base64.RawURLEncoding.DecodeString(s.IntegrityTag)
	if err != nil {
		return false
	}
	return hmac.Equal(got, m.tag(s))
}

// UpdateActivity records the session's latest activity.
func (m *Manager) UpdateActivity(ctx context.Context, sessionID string, at time.Time) error {
	return m.opts.Activity.Touch(ctx, sessionID, at)
}

// LastActivity returns the recorded activity of a session.
func (m *Manager) LastActivity(ctx context.Context, sessionID string) (time.Time, bool, error) {
	return m.opts.Activity.LastActivity(ctx, sessionID)
}

// Issue creates, tags and encrypts a new session.
func (m *Manager) Issue(ctx context.Context, userID string, perms []string) (string, *domain.Session, error) {
	if userID == "" {
		return "", nil, fmt.Errorf("user id is required")
	}
	now := m.clock().UTC()
	s := &domain.Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		Permissions:    domain.NewPermissionSet(perms...),
		CreatedAt:      now,
		LastActivityAt: now,
		KeyVersion:     m.cipher.CurrentKeyVersion(ctx),
	}
	s.IntegrityTag = m.Sign(s)

	token, err := m.cipher.EncryptWithMetadata(ctx, s, map[string]any{"type": "session"})
	if err != nil {
		return "", nil, errors.NewSecurityError(errors.CodeSessionError, "failed to issue session", err)
	}
	if err := m.UpdateActivity(ctx, s.ID, now); err != nil {
		logger.WithContext(ctx).Warn("failed to record session activity", logger.String("session_id", s.ID), logger.Err(err))
	}
	return token, s, nil
}

// Sign returns the integrity tag for s.
func (m *Manager) Sign(s *domain.Session) string {
	return base64.RawURLEncoding.EncodeToString(m.tag(s))
}

// canonicalSession is the tagged view of a session. LastActivityAt and
// KeyVersion change legitimately and are excluded.
type canonicalSession struct {
	ID          string   `json:"id"`
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
	CreatedAt   int64    `json:"created_at"`
}

func (m *Manager) tag(s *domain.Session) []byte {
	data, _ := json.Marshal(canonicalSession{
		ID:          s.ID,
		UserID:      s.UserID,
		Permissions: s.Permissions.Slice(),
		CreatedAt:   s.CreatedAt.UnixNano(),
	})
	mac := hmac.New(sha256.New, m.opts.IntegrityKey)
	mac.Write(data)
	return mac.Sum(nil)
}

// withDeadline runs fn and stops waiting when ctx is done. fn receives ctx
// and is expected to return promptly once it is cancelled.
func withDeadline[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errors.ErrTimeout)
}
