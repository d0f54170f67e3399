package moment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onnwee/wanderlog/internal/ranking"
)

// FeedInvalidator drops cached feeds after the candidate set changes.
type FeedInvalidator interface {
	InvalidateAll(ctx context.Context) error
}

// ServiceConfig configures the moment service.
type ServiceConfig struct {
	// Weights used for composite scores. Nil uses the defaults.
	Weights *ranking.Weights
	// DirtyTracker defers rank recomputation to a RecomputeJob when set.
	// When nil, ranks are recomputed synchronously inside each mutation.
	DirtyTracker *DirtyTracker
	// Invalidator is notified after any change to the scored moment set.
	Invalidator FeedInvalidator
	Logger      *slog.Logger
	Metrics     *Metrics
}

// Service applies moment mutations and keeps derived state (composite
// scores, ranks, cached feeds) consistent with them.
type Service struct {
	repo     Repository
	assigner *RankAssigner
	config   ServiceConfig
}

// NewService creates a moment service.
func NewService(repo Repository, assigner *RankAssigner, config ServiceConfig) *Service {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Weights == nil {
		config.Weights = ranking.DefaultWeights()
	}
	return &Service{
		repo:     repo,
		assigner: assigner,
		config:   config,
	}
}

// CreateInput carries the fields of a new moment.
type CreateInput struct {
	OwnerID  string
	Category *Category
	Ratings  *Ratings
}

// Create stores a new moment. A moment created with ratings gets its
// composite score immediately and triggers an owner re-rank.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Moment, error) {
	if in.OwnerID == "" {
		return nil, ErrMissingOwner
	}
	if in.Category != nil && !in.Category.Valid() {
		return nil, ErrInvalidCategory
	}

	m := &Moment{
		OwnerID:  in.OwnerID,
		Category: in.Category,
	}
	if in.Ratings != nil {
		if err := in.Ratings.Validate(); err != nil {
			return nil, err
		}
		score := s.compositeScore(*in.Ratings)
		m.Ratings = in.Ratings
		m.CompositeScore = &score
	}

	if err := s.repo.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to create moment: %w", err)
	}

	if m.Scored() {
		if err := s.scoredSetChanged(ctx, m.OwnerID); err != nil {
			return m, err
		}
	}
	return m, nil
}

// Rate sets or replaces the ratings of a moment owned by actorID and
// recomputes its composite score.
func (s *Service) Rate(ctx context.Context, actorID, momentID string, ratings Ratings) (*Moment, error) {
	if err := ratings.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByID(ctx, momentID)
	if err != nil {
		return nil, err
	}
	if existing.OwnerID != actorID {
		return nil, ErrNotOwner
	}

	updated, err := s.repo.SetRatings(ctx, momentID, ratings, s.compositeScore(ratings))
	if err != nil {
		return nil, fmt.Errorf("failed to store ratings: %w", err)
	}

	if err := s.scoredSetChanged(ctx, updated.OwnerID); err != nil {
		return updated, err
	}
	if s.config.DirtyTracker == nil {
		// Pick up the rank written by the synchronous recompute.
		if fresh, err := s.repo.GetByID(ctx, momentID); err == nil {
			updated = fresh
		}
	}
	return updated, nil
}

// Delete soft-deletes a moment owned by actorID.
func (s *Service) Delete(ctx context.Context, actorID, momentID string) error {
	existing, err := s.repo.GetByID(ctx, momentID)
	if err != nil {
		return err
	}
	if existing.OwnerID != actorID {
		return ErrNotOwner
	}

	deleted, err := s.repo.Delete(ctx, momentID)
	if err != nil {
		return err
	}

	if deleted.Scored() {
		return s.scoredSetChanged(ctx, deleted.OwnerID)
	}
	return nil
}

// RecordEngagement adds likes and views to a moment. Engagement does not
// affect ranks, and cached feeds pick it up when they expire.
func (s *Service) RecordEngagement(ctx context.Context, momentID string, likes, views int64) error {
	return s.repo.AddEngagement(ctx, momentID, likes, views)
}

// Get returns a moment by ID.
func (s *Service) Get(ctx context.Context, momentID string) (*Moment, error) {
	return s.repo.GetByID(ctx, momentID)
}

func (s *Service) compositeScore(r Ratings) float64 {
	score := ComputeCompositeScoreWithWeights(r.Overall, r.Value, r.Authenticity, r.Crowd, s.config.Weights)
	if s.config.Metrics != nil {
		s.config.Metrics.ObserveCompositeScore(score)
	}
	return score
}

// scoredSetChanged re-ranks the owner (or marks it dirty) and drops cached feeds.
func (s *Service) scoredSetChanged(ctx context.Context, ownerID string) error {
	if s.config.Invalidator != nil {
		if err := s.config.Invalidator.InvalidateAll(ctx); err != nil {
			s.config.Logger.WarnContext(ctx, "failed to invalidate feed cache",
				"owner_id", ownerID,
				"error", err)
		}
	}

	if s.config.DirtyTracker != nil {
		s.config.DirtyTracker.MarkDirty(ownerID)
		return nil
	}
	if err := s.assigner.RecomputeRanks(ctx, ownerID); err != nil {
		return fmt.Errorf("%w: %w", ErrRanksStale, err)
	}
	return nil
}
