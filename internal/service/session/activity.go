package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// ActivityStore records the last activity of each session. Updates are
// last-write-wins.
type ActivityStore interface {
	Touch(ctx context.Context, sessionID string, at time.Time) error
	LastActivity(ctx context.Context, sessionID string) (time.Time, bool, error)
}

// MemoryActivityStore keeps activity in an expirable LRU. Entries live as
// long as the session can, so an evicted entry belonged to an expired session.
type MemoryActivityStore struct {
	entries *expirable.LRU[string, time.Time]
}

// NewMemoryActivityStore creates a store holding at most size sessions for ttl.
func NewMemoryActivityStore(size int, ttl time.Duration) *MemoryActivityStore {
	if size <= 0 {
		size = 100000
	}
	return &MemoryActivityStore{entries: expirable.NewLRU[string, time.Time](size, nil, ttl)}
}

// Touch implements ActivityStore.
func (s *MemoryActivityStore) Touch(_ context.Context, sessionID string, at time.Time) error {
	s.entries.Add(sessionID, at)
	return nil
}

// LastActivity implements ActivityStore.
func (s *MemoryActivityStore) LastActivity(_ context.Context, sessionID string) (time.Time, bool, error) {
	at, ok := s.entries.Get(sessionID)
	return at, ok, nil
}

// RedisActivityStore keeps activity in a Redis hash per session.
type RedisActivityStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

const activityField = "last_activity"

// NewRedisActivityStore creates a Redis-backed store.
func NewRedisActivityStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisActivityStore {
	return &RedisActivityStore{client: client, prefix: prefix + "session:", ttl: ttl}
}

// Touch implements ActivityStore.
func (s *RedisActivityStore) Touch(ctx context.Context, sessionID string, at time.Time) error {
	key := s.prefix + sessionID
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, activityField, at.UnixMilli())
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("touch session %s: %w", sessionID, err)
	}
	return nil
}

// LastActivity implements ActivityStore.
func (s *RedisActivityStore) LastActivity(ctx context.Context, sessionID string) (time.Time, bool, error) {
	raw, err := s.client.HGet(ctx, s.prefix+sessionID, activityField).Result()
	if stderrors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read session %s: %w", sessionID, err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read session %s: %w", sessionID, err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}
