package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/wanderlog/internal/ranking"
	"github.com/onnwee/wanderlog/internal/tracing"
)

// ServiceConfig configures the feed service.
type ServiceConfig struct {
	// Weights used for scoring. Nil uses the defaults.
	Weights *ranking.Weights
	// Cache of full orderings. Nil disables caching.
	Cache   Cache
	Logger  *slog.Logger
	Metrics *Metrics
	// Now returns the reference time of a pass. Defaults to time.Now.
	Now func() time.Time
}

// Service produces personalized feeds.
type Service struct {
	source DataSource
	scorer *Scorer
	config ServiceConfig
}

// NewService creates a feed service over source.
func NewService(source DataSource, config ServiceConfig) *Service {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Service{
		source: source,
		scorer: NewScorer(config.Weights),
		config: config,
	}
}

// Explanation is a feed page together with the per-term score breakdown of
// every returned candidate, in page order.
type Explanation struct {
	Page
	Scores []ScoredCandidate `json:"scores"`
}

// GetPersonalizedFeed returns one page of viewerID's feed. A collaborator
// failure aborts the whole pass with an error wrapping ErrSnapshotFetch.
func (s *Service) GetPersonalizedFeed(ctx context.Context, viewerID string, limit, offset int) (page *Page, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "feed.get_personalized_feed")
	defer func() { endSpan(err) }()
	defer func() { s.countRequest(err) }()

	// The generation is read before the snapshot so an invalidation landing
	// mid-pass keeps this pass's ordering out of the cache.
	ordered, gen, lookup := s.cachedOrdering(ctx, viewerID)
	if lookup == CacheHit {
		p := paginate(ordered, limit, offset)
		return &p, nil
	}

	scored, err := s.scorePass(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	ranked := Order(scored)
	ids := make([]string, len(ranked))
	for i, c := range ranked {
		ids[i] = c.ID
	}
	if lookup == CacheMiss {
		s.storeOrdering(ctx, viewerID, gen, ids)
	}

	p := paginate(ids, limit, offset)
	return &p, nil
}

// Explain scores a fresh snapshot, bypassing the cache, and returns the page
// with per-term breakdowns.
func (s *Service) Explain(ctx context.Context, viewerID string, limit, offset int) (exp *Explanation, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "feed.explain")
	defer func() { endSpan(err) }()

	scored, err := s.scorePass(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	ordered := Order(scored)
	start, end := pageBounds(len(ordered), limit, offset)
	window := ordered[start:end]

	ids := make([]string, len(window))
	for i, c := range window {
		ids[i] = c.ID
	}
	return &Explanation{
		Page: Page{
			IDs:     ids,
			Total:   len(ordered),
			HasMore: end < len(ordered) && start < end,
		},
		Scores: append([]ScoredCandidate(nil), window...),
	}, nil
}

// scorePass fetches a snapshot and scores every candidate.
func (s *Service) scorePass(ctx context.Context, viewerID string) ([]ScoredCandidate, error) {
	start := time.Now()

	snap, err := s.FetchSnapshot(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	_, endSpan := tracing.StartSpan(ctx, "feed.score")
	scored := s.scorer.Score(*snap)
	endSpan(nil)

	if s.config.Metrics != nil {
		s.config.Metrics.ObservePass(time.Since(start).Seconds(), len(scored))
	}
	s.config.Logger.DebugContext(ctx, "feed pass scored",
		"viewer_id", viewerID,
		"candidates", len(scored),
		"duration_seconds", time.Since(start).Seconds())
	return scored, nil
}

// FetchSnapshot fetches candidates, interest profile and follow set
// concurrently, one bulk call each. The first failure cancels the others and
// no snapshot is returned.
func (s *Service) FetchSnapshot(ctx context.Context, viewerID string) (snap *Snapshot, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "feed.fetch_snapshot")
	defer func() { endSpan(err) }()

	snap = &Snapshot{ViewerID: viewerID, Now: s.config.Now()}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		candidates, err := s.source.FetchCandidateMoments(gctx, viewerID)
		if err != nil {
			return s.snapshotError(SourceCandidates, err)
		}
		snap.Candidates = candidates
		return nil
	})
	g.Go(func() error {
		profile, err := s.source.FetchInterestProfile(gctx, viewerID)
		if err != nil {
			return s.snapshotError(SourceInterests, err)
		}
		snap.Profile = profile
		return nil
	})
	g.Go(func() error {
		followed, err := s.source.FetchFollowedIDs(gctx, viewerID)
		if err != nil {
			return s.snapshotError(SourceFollows, err)
		}
		snap.Followed = followed
		return nil
	})

	if err := g.Wait(); err != nil {
		s.config.Logger.ErrorContext(ctx, "feed snapshot fetch failed",
			"viewer_id", viewerID,
			"error", err)
		return nil, err
	}

	tracing.SetAttributes(ctx,
		attribute.Int("feed.candidates", len(snap.Candidates)),
		attribute.Int("feed.interests", len(snap.Profile)),
		attribute.Int("feed.followed", len(snap.Followed)),
	)
	return snap, nil
}

func (s *Service) snapshotError(source string, err error) error {
	if s.config.Metrics != nil {
		s.config.Metrics.IncSnapshotErrors(source)
	}
	return fmt.Errorf("%w: %s: %w", ErrSnapshotFetch, source, err)
}

// cachedOrdering looks up the viewer's ordering and reports the lookup
// result (CacheHit, CacheMiss or CacheError); the empty string means caching
// is disabled. Only a miss yields a generation a later store can trust.
func (s *Service) cachedOrdering(ctx context.Context, viewerID string) ([]string, Generation, string) {
	if s.config.Cache == nil {
		return nil, Generation{}, ""
	}

	ordered, gen, ok, err := s.config.Cache.Get(ctx, viewerID)
	switch {
	case err != nil:
		s.config.Logger.WarnContext(ctx, "feed cache read failed, recomputing",
			"viewer_id", viewerID,
			"error", err)
		s.countCache(CacheError)
		return nil, gen, CacheError
	case !ok:
		s.countCache(CacheMiss)
		return nil, gen, CacheMiss
	default:
		s.countCache(CacheHit)
		return ordered, gen, CacheHit
	}
}

func (s *Service) storeOrdering(ctx context.Context, viewerID string, gen Generation, ordered []string) {
	stored, err := s.config.Cache.Set(ctx, viewerID, gen, ordered)
	if err != nil {
		s.config.Logger.WarnContext(ctx, "feed cache write failed",
			"viewer_id", viewerID,
			"error", err)
		return
	}
	if !stored {
		s.config.Logger.DebugContext(ctx, "feed invalidated during pass, ordering not cached",
			"viewer_id", viewerID)
	}
}

func (s *Service) countCache(result string) {
	if s.config.Metrics != nil {
		s.config.Metrics.IncCacheLookup(result)
	}
}

func (s *Service) countRequest(err error) {
	if s.config.Metrics == nil {
		return
	}
	if err != nil {
		s.config.Metrics.IncRequests(StatusFailure)
	} else {
		s.config.Metrics.IncRequests(StatusSuccess)
	}
}
