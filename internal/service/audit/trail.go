package audit

import (
	"sync"
	"time"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/domain"
)

const defaultTrailSize = 1000

// Trail is a bounded in-memory ring of the most recent audit records.
// Records older than the retention window are hidden from queries.
// Returned records are shared and must be treated as read-only.
type Trail struct {
	mu        sync.RWMutex
	records   []*domain.AuditRecord
	next      int
	full      bool
	retention time.Duration
	clock     func() time.Time
}

// NewTrail creates a trail holding at most size records. A zero retention
// keeps records until they are overwritten.
func NewTrail(size int, retention time.Duration) *Trail {
	if size <= 0 {
		size = defaultTrailSize
	}
	return &Trail{
		records:   make([]*domain.AuditRecord, size),
		retention: retention,
		clock:     time.Now,
	}
}

// Add appends rec, overwriting the oldest record when full.
func (t *Trail) Add(rec *domain.AuditRecord) {
	t.mu.Lock()
	t.records[t.next] = rec
	t.next = (t.next + 1) % len(t.records)
	if t.next == 0 {
		t.full = true
	}
	t.mu.Unlock()
}

// Len returns the number of stored records, including expired ones.
func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.full {
		return len(t.records)
	}
	return t.next
}

// Capacity returns the maximum number of records kept.
func (t *Trail) Capacity() int { return len(t.records) }

// Recent returns up to limit records, newest first. A limit <= 0 returns
// every retained record.
func (t *Trail) Recent(limit int) []*domain.AuditRecord {
	return t.collect(limit, func(*domain.AuditRecord) bool { return true })
}

// Since returns records with a timestamp at or after since, newest first.
func (t *Trail) Since(since time.Time) []*domain.AuditRecord {
	return t.collect(0, func(r *domain.AuditRecord) bool { return !r.Timestamp.Before(since) })
}

// RecentForUser returns up to limit records of userID, newest first.
func (t *Trail) RecentForUser(userID string, limit int) []*domain.AuditRecord {
	if userID == "" {
		return nil
	}
	return t.collect(limit, func(r *domain.AuditRecord) bool { return r.UserID == userID })
}

// Last returns the newest retained record.
func (t *Trail) Last() (*domain.AuditRecord, bool) {
	recs := t.Recent(1)
	if len(recs) == 0 {
		return nil, false
	}
	return recs[0], true
}

// collect walks newest to oldest. Records are appended in roughly
// timestamp order, so the walk stops at the first expired record.
func (t *Trail) collect(limit int, keep func(*domain.AuditRecord) bool) []*domain.AuditRecord {
	var cutoff time.Time
	if t.retention > 0 {
		cutoff = t.clock().Add(-t.retention)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.next
	if t.full {
		n = len(t.records)
	}

	var out []*domain.AuditRecord
	for i := 0; i < n; i++ {
		idx := (t.next - 1 - i + len(t.records)) % len(t.records)
		rec := t.records[idx]
		if !cutoff.IsZero() && rec.Timestamp.Before(cutoff) {
			break
		}
		if !keep(rec) {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
