package moment

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/wanderlog/internal/tracing"
)

// AssignRanks orders scored moments by composite score descending and
// assigns dense ranks 1..N. The input must be in creation order; equal
// scores keep that order so the oldest moment gets the better rank.
// The input slice is not modified.
func AssignRanks(scored []ScoredMoment) []RankAssignment {
	sorted := make([]ScoredMoment, len(scored))
	copy(sorted, scored)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CompositeScore > sorted[j].CompositeScore
	})

	ranks := make([]RankAssignment, len(sorted))
	for i, m := range sorted {
		ranks[i] = RankAssignment{MomentID: m.ID, Rank: i + 1}
	}
	return ranks
}

// RankAssigner recomputes and persists per-owner moment ranks.
type RankAssigner struct {
	store   RankStore
	logger  *slog.Logger
	metrics *Metrics
}

// NewRankAssigner creates a rank assigner over the given store.
// Metrics may be nil.
func NewRankAssigner(store RankStore, logger *slog.Logger, metrics *Metrics) *RankAssigner {
	if logger == nil {
		logger = slog.Default()
	}
	return &RankAssigner{
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

// RecomputeRanks rewrites the full rank set of ownerID. Every call reads
// the owner's current scored moments and replaces all ranks in one atomic
// store operation, so calling it twice without intervening changes yields
// identical ranks.
func (a *RankAssigner) RecomputeRanks(ctx context.Context, ownerID string) (err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "moment.recompute_ranks")
	defer func() { endSpan(err) }()

	start := time.Now()
	defer func() {
		if a.metrics == nil {
			return
		}
		a.metrics.ObserveRankDuration(time.Since(start).Seconds())
		if err != nil {
			a.metrics.IncRankErrors()
		} else {
			a.metrics.IncRankRecomputes()
		}
	}()

	ranks, err := a.store.RecomputeOwnerRanks(ctx, ownerID, AssignRanks)
	if err != nil {
		return fmt.Errorf("failed to recompute ranks for owner %s: %w", ownerID, err)
	}

	tracing.SetAttributes(ctx,
		attribute.String("moment.owner_id", ownerID),
		attribute.Int("moment.ranked_count", len(ranks)),
	)

	a.logger.DebugContext(ctx, "moment ranks recomputed",
		"owner_id", ownerID,
		"ranked", len(ranks))
	return nil
}
