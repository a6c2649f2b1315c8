package session

import (
	"context"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/domain"
)

// DefaultAnomalyScore is returned by the default scorer.
const DefaultAnomalyScore = 0.1

// Scorer rates how anomalous a session's use is, in [0, 1]. Implementations
// must be pure functions of their arguments.
type Scorer interface {
	Score(ctx context.Context, s *domain.Session, sctx domain.SecurityContext, history []*domain.AuditRecord) (float64, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, s *domain.Session, sctx domain.SecurityContext, history []*domain.AuditRecord) (float64, error)

// Score implements Scorer.
func (f ScorerFunc) Score(ctx context.Context, s *domain.Session, sctx domain.SecurityContext, history []*domain.AuditRecord) (float64, error) {
	return f(ctx, s, sctx, history)
}

// ConstantScorer always returns its own value.
type ConstantScorer float64

// Score implements Scorer.
func (c ConstantScorer) Score(context.Context, *domain.Session, domain.SecurityContext, []*domain.AuditRecord) (float64, error) {
	return float64(c), nil
}

// History supplies recent audit records for a user.
type History interface {
	RecentForUser(userID string, limit int) []*domain.AuditRecord
}

type noHistory struct{}

func (noHistory) RecentForUser(string, int) []*domain.AuditRecord { return nil }
