package crypto

import (
	"context"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/config"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/domain"
	"github.com/fartech2025/SDR-Juridico-sub003/internal/service/metrics"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/errors"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/logger"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/resilience/circuitbreaker"
)

// Payload is the decrypted content of a token.
type Payload struct {
	Data       json.RawMessage `json:"data"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	KeyVersion uint32          `json:"-"`
}

// Decode unmarshals Data into v.
func (p Payload) Decode(v any) error {
	if err := json.Unmarshal(p.Data, v); err != nil {
		return errors.Wrap(errors.ErrMalformedToken, err.Error())
	}
	return nil
}

// Options configures a Manager.
type Options struct {
	Algorithm string
	// Rotation is the lifetime of a key version as current.
	Rotation time.Duration
	// Grace keeps a retired version decryptable after its successor
	// becomes current. It equals the session timeout.
	Grace time.Duration
	// Epoch is the start of version 1.
	Epoch  time.Time
	Source KeySource
	// Master is the root secret. Keys for other purposes are derived from it.
	Master []byte
	// Ephemeral marks a master secret generated at startup.
	Ephemeral bool

	Breakers *circuitbreaker.Manager
	Audit    domain.AuditSink
	Metrics  *metrics.Metrics
	Clock    func() time.Time
}

// keyRing is an immutable snapshot of usable key versions.
type keyRing struct {
	current uint32
	keys    map[uint32]cipher.AEAD
	// retireAt holds the discard deadline of every non-current version.
	retireAt map[uint32]time.Time
}

func (r *keyRing) stale(now time.Time) bool {
	for _, deadline := range r.retireAt {
		if !now.Before(deadline) {
			return true
		}
	}
	return false
}

// Manager encrypts and decrypts versioned tokens of the form
// "<version>.<base64url(nonce|ciphertext)>". The version label is bound to
// the ciphertext as associated data.
//
// Versions are a pure function of time, so every instance sharing the master
// secret (or key source) agrees on the current version without coordination.
type Manager struct {
	opts  Options
	clock func() time.Time
	ring  atomic.Pointer[keyRing]
	mu    sync.Mutex
}

// NewManager creates a manager and loads the current key ring.
func NewManager(ctx context.Context, opts Options) (*Manager, error) {
	if opts.Rotation <= 0 {
		return nil, fmt.Errorf("key rotation must be positive")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("key source is required")
	}
	if opts.Algorithm == "" {
		opts.Algorithm = AlgorithmAES256GCM
	}
	if opts.Audit == nil {
		opts.Audit = domain.NopAuditSink
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultMetrics
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	m := &Manager{opts: opts, clock: clock}
	if err := m.Refresh(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// NewManagerFromConfig wires a manager from configuration. client is only
// used when the key source is redis.
func NewManagerFromConfig(ctx context.Context, cfg config.EncryptionConfig, sessionTimeout time.Duration,
	client redis.UniversalClient, keyPrefix string, breakers *circuitbreaker.Manager,
	audit domain.AuditSink, m *metrics.Metrics) (*Manager, error) {

	master, ephemeral, err := DecodeMasterKey(cfg.MasterKey)
	if err != nil {
		return nil, errors.NewSecurityError(errors.CodeConfigError, "invalid master key", err)
	}
	if ephemeral {
		logger.Warn("no encryption master key configured, using an ephemeral key; sessions will not survive a restart")
	}

	epoch, err := cfg.EpochTime()
	if err != nil {
		return nil, errors.NewSecurityError(errors.CodeConfigError, "invalid encryption epoch", err)
	}

	var source KeySource = NewDerivedKeySource(master)
	if cfg.KeySource == "redis" {
		if client == nil {
			return nil, errors.NewSecurityError(errors.CodeConfigError, "redis key source requires redis", nil)
		}
		if source, err = NewRedisKeySource(client, keyPrefix, master); err != nil {
			return nil, err
		}
	}

	return NewManager(ctx, Options{
		Algorithm: cfg.Algorithm,
		Rotation:  cfg.KeyRotation,
		Grace:     sessionTimeout,
		Epoch:     epoch,
		Source:    source,
		Master:    master,
		Ephemeral: ephemeral,
		Breakers:  breakers,
		Audit:     audit,
		Metrics:   m,
	})
}

// VersionAt returns the key version current at t.
func (m *Manager) VersionAt(t time.Time) uint32 {
	if t.Before(m.opts.Epoch) {
		return 1
	}
	return uint32(t.Sub(m.opts.Epoch)/m.opts.Rotation) + 1
}

func (m *Manager) startOf(version uint32) time.Time {
	return m.opts.Epoch.Add(time.Duration(version-1) * m.opts.Rotation)
}

// Refresh makes the version current at the clock's time the active one and
// discards versions whose grace period ended. It is called lazily by
// Encrypt/Decrypt and periodically by Run.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	target := m.VersionAt(now)
	old := m.ring.Load()
	if old != nil && old.current == target && !old.stale(now) {
		return nil
	}

	next := &keyRing{
		current:  target,
		keys:     make(map[uint32]cipher.AEAD),
		retireAt: make(map[uint32]time.Time),
	}

	aead, err := m.aeadFor(ctx, old, target)
	if err != nil {
		if old != nil {
			// Keep serving the last good ring, minus expired versions.
			m.ring.Store(m.prune(old, now))
		}
		return err
	}
	next.keys[target] = aead

	// A version stays decryptable until Grace after its successor started.
	for v := target - 1; v >= 1; v-- {
		deadline := m.startOf(v + 1).Add(m.opts.Grace)
		if !now.Before(deadline) {
			break
		}
		prev, err := m.aeadFor(ctx, old, v)
		if err != nil {
			logger.Warn("failed to load retired key version", logger.Int64("version", int64(v)), logger.Err(err))
			break
		}
		next.keys[v] = prev
		next.retireAt[v] = deadline
	}

	m.ring.Store(next)

	if old == nil || old.current != target {
		m.opts.Metrics.RecordKeyRotation(target)
		logger.Info("encryption key version activated",
			logger.Int64("version", int64(target)),
			logger.String("source", m.opts.Source.Name()),
			logger.Int("retained", len(next.keys)),
		)
		if old != nil {
			rec := domain.NewAuditRecord(domain.AuditEventKeyRotated, domain.SecurityContext{})
			rec.SetMetadata("previous_version", old.current).
				SetMetadata("key_version", target).
				SetMetadata("algorithm", m.opts.Algorithm)
			m.opts.Audit.Append(ctx, rec)
		}
	}
	return nil
}

func (m *Manager) prune(r *keyRing, now time.Time) *keyRing {
	next := &keyRing{current: r.current, keys: make(map[uint32]cipher.AEAD), retireAt: make(map[uint32]time.Time)}
	for v, aead := range r.keys {
		if deadline, retired := r.retireAt[v]; retired {
			if !now.Before(deadline) {
				continue
			}
			next.retireAt[v] = deadline
		}
		next.keys[v] = aead
	}
	return next
}

func (m *Manager) aeadFor(ctx context.Context, old *keyRing, version uint32) (cipher.AEAD, error) {
	if old != nil {
		if aead, ok := old.keys[version]; ok {
			return aead, nil
		}
	}

	fetch := func(ctx context.Context) ([]byte, error) {
		return m.opts.Source.Key(ctx, version)
	}
	var (
		key []byte
		err error
	)
	if m.opts.Breakers != nil {
		key, err = circuitbreaker.ExecuteTyped(ctx, m.opts.Breakers, circuitbreaker.KeySource, fetch)
	} else {
		key, err = fetch(ctx)
	}
	if err != nil {
		return nil, errors.NewSecurityError(errors.CodeUnavailable, "key source unavailable", err).
			WithDetail("version", version)
	}
	return NewAEAD(m.opts.Algorithm, key)
}

// current returns the ring for the clock's time, refreshing if needed. A
// failed refresh falls back to the last good ring.
func (m *Manager) current(ctx context.Context) *keyRing {
	r := m.ring.Load()
	now := m.clock()
	if r.current == m.VersionAt(now) && !r.stale(now) {
		return r
	}
	if err := m.Refresh(ctx); err != nil {
		logger.Error("key refresh failed", logger.Err(err))
	}
	return m.ring.Load()
}

// CurrentKeyVersion returns the version used for new tokens.
func (m *Manager) CurrentKeyVersion(ctx context.Context) uint32 {
	return m.current(ctx).current
}

// RetainedVersions lists every decryptable version, ascending.
func (m *Manager) RetainedVersions() []uint32 {
	r := m.ring.Load()
	out := make([]uint32, 0, len(r.keys))
	for v := range r.keys {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Algorithm returns the configured cipher.
func (m *Manager) Algorithm() string { return m.opts.Algorithm }

// Ephemeral reports whether the master secret was generated at startup.
func (m *Manager) Ephemeral() bool { return m.opts.Ephemeral }

// KeySourceName returns the name of the key source.
func (m *Manager) KeySourceName() string { return m.opts.Source.Name() }

// DeriveSubkey derives a 32-byte key for purpose from the master secret.
func (m *Manager) DeriveSubkey(purpose string) ([]byte, error) {
	if len(m.opts.Master) == 0 {
		return nil, errors.NewSecurityError(errors.CodeCryptoError, "no master secret configured", errors.ErrInvalidKeySize)
	}
	return DeriveKey(m.opts.Master, purpose, KeySize)
}

// RotationInterval returns the version lifetime.
func (m *Manager) RotationInterval() time.Duration { return m.opts.Rotation }

// EncryptWithMetadata seals data and metadata under the current version.
func (m *Manager) EncryptWithMetadata(ctx context.Context, data any, metadata map[string]any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal data: %w", err)
	}
	plaintext, err := json.Marshal(Payload{Data: raw, Metadata: metadata})
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	r := m.current(ctx)
	label := strconv.FormatUint(uint64(r.current), 10)
	sealed, err := seal(r.keys[r.current], plaintext, []byte(label))
	if err != nil {
		return "", err
	}
	return label + "." + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token. Errors are ErrMalformedToken, ErrUnknownKeyVersion
// or ErrDecryptionFailed.
func (m *Manager) Decrypt(ctx context.Context, token string) (Payload, error) {
	label, body, ok := strings.Cut(token, ".")
	if !ok || label == "" || body == "" {
		return Payload{}, errors.ErrMalformedToken
	}
	v, err := strconv.ParseUint(label, 10, 32)
	if err != nil || v == 0 {
		return Payload{}, errors.Wrap(errors.ErrMalformedToken, "invalid key version")
	}
	sealed, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return Payload{}, errors.Wrap(errors.ErrMalformedToken, "invalid encoding")
	}

	r := m.current(ctx)
	aead, ok := r.keys[uint32(v)]
	if !ok {
		return Payload{}, errors.ErrUnknownKeyVersion
	}

	plaintext, err := open(aead, sealed, []byte(label))
	if err != nil {
		return Payload{}, err
	}

	var p Payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return Payload{}, errors.Wrap(errors.ErrMalformedToken, "invalid payload")
	}
	p.KeyVersion = uint32(v)
	return p, nil
}

// Run refreshes the ring every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Refresh(ctx); err != nil {
				logger.Error("scheduled key refresh failed", logger.Err(err))
			}
		}
	}
}
