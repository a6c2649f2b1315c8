package crypto

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	stderrors "errors"
	"fmt"
	"io"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/fartech2025/SDR-Juridico-sub003/pkg/errors"
)

// KeySource supplies the 32-byte data key for a version. Implementations
// must return the same key for the same version on every instance.
type KeySource interface {
	Key(ctx context.Context, version uint32) ([]byte, error)
	Name() string
}

// DerivedKeySource derives every version's key from a master secret.
type DerivedKeySource struct {
	master []byte
}

// NewDerivedKeySource creates a source over master.
func NewDerivedKeySource(master []byte) *DerivedKeySource {
	return &DerivedKeySource{master: append([]byte(nil), master...)}
}

// Key implements KeySource.
func (s *DerivedKeySource) Key(_ context.Context, version uint32) ([]byte, error) {
	return DeriveKey(s.master, "session-key/v"+strconv.FormatUint(uint64(version), 10), KeySize)
}

// Name implements KeySource.
func (s *DerivedKeySource) Name() string { return "derived" }

// RedisKeySource stores random per-version keys in Redis, sealed under a
// key-encryption key derived from the master secret. The first instance to
// need a version generates it; the others read it back.
type RedisKeySource struct {
	client redis.UniversalClient
	prefix string
	kek    cipher.AEAD
}

// NewRedisKeySource creates a Redis-backed source.
func NewRedisKeySource(client redis.UniversalClient, prefix string, master []byte) (*RedisKeySource, error) {
	kekBytes, err := DeriveKey(master, "key-encryption-key", KeySize)
	if err != nil {
		return nil, err
	}
	kek, err := NewAEAD(AlgorithmAES256GCM, kekBytes)
	if err != nil {
		return nil, err
	}
	return &RedisKeySource{client: client, prefix: prefix + "keys:", kek: kek}, nil
}

// Key implements KeySource.
func (s *RedisKeySource) Key(ctx context.Context, version uint32) ([]byte, error) {
	label := strconv.FormatUint(uint64(version), 10)
	redisKey := s.prefix + label

	sealed, err := s.client.Get(ctx, redisKey).Bytes()
	if stderrors.Is(err, redis.Nil) {
		fresh := make([]byte, KeySize)
		if _, err := io.ReadFull(rand.Reader, fresh); err != nil {
			return nil, fmt.Errorf("generate data key: %w", err)
		}
		wrapped, sealErr := seal(s.kek, fresh, []byte(label))
		if sealErr != nil {
			return nil, sealErr
		}
		won, setErr := s.client.SetNX(ctx, redisKey, wrapped, 0).Result()
		if setErr != nil {
			return nil, fmt.Errorf("%w: store key v%s: %v", errors.ErrKeySourceFailed, label, setErr)
		}
		if won {
			return fresh, nil
		}
		// Another instance stored this version first.
		sealed, err = s.client.Get(ctx, redisKey).Bytes()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load key v%s: %v", errors.ErrKeySourceFailed, label, err)
	}

	key, err := open(s.kek, sealed, []byte(label))
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap key v%s: %v", errors.ErrKeySourceFailed, label, err)
	}
	return key, nil
}

// Name implements KeySource.
func (s *RedisKeySource) Name() string { return "redis" }
