package feed

import (
	"github.com/onnwee/wanderlog/internal/ranking"
)

// ScoredCandidate is the ranking score of one candidate for one viewer.
// It lives only for the duration of a scoring pass.
type ScoredCandidate struct {
	ID        string            `json:"id"`
	Score     float64           `json:"score"`
	Breakdown ranking.Breakdown `json:"breakdown"`
}

// Scorer computes personalized ranking scores.
type Scorer struct {
	weights *ranking.Weights
}

// NewScorer creates a scorer. A nil weights value uses the defaults.
func NewScorer(weights *ranking.Weights) *Scorer {
	if weights == nil {
		weights = ranking.DefaultWeights()
	}
	return &Scorer{weights: weights}
}

// Score returns one ScoredCandidate per snapshot candidate, in snapshot order.
// Engagement is normalized against the largest engagement in this batch.
// A viewer with no interests and no follows still gets fully defined scores.
func (s *Scorer) Score(snap Snapshot) []ScoredCandidate {
	var maxEngagement int64
	for _, c := range snap.Candidates {
		maxEngagement = max(maxEngagement, c.Engagement())
	}

	scored := make([]ScoredCandidate, len(snap.Candidates))
	for i, c := range snap.Candidates {
		b := ranking.CompositeFeedScore(ranking.FeedParams{
			InterestWeight: snap.Profile.Weight(c.Category),
			Followed:       snap.Followed.Contains(c.AuthorID),
			Engagement:     c.Engagement(),
			MaxEngagement:  maxEngagement,
			CreatedAt:      c.CreatedAt,
			Now:            snap.Now,
			CompositeScore: c.CompositeScore,
		}, s.weights)

		scored[i] = ScoredCandidate{ID: c.ID, Score: b.Total(), Breakdown: b}
	}
	return scored
}
