// Package ranking provides centralized ranking component calculations
// with calibration support for moment quality and personalized feeds.
package ranking

import (
	"math"
	"time"
)

// Composite score bounds. Sub-ratings live on a [1, 5] scale and the
// weighted average is doubled onto [2, 10].
const (
	MinSubRating      = 1.0
	MaxSubRating      = 5.0
	MinCompositeScore = 2.0
	MaxCompositeScore = 10.0
)

// ClampRating clamps a sub-rating to [1, 5].
func ClampRating(r float64) float64 {
	if math.IsNaN(r) {
		return MinSubRating
	}
	if r < MinSubRating {
		return MinSubRating
	}
	if r > MaxSubRating {
		return MaxSubRating
	}
	return r
}

// CompositeParams holds the four sub-ratings of a moment after defaulting.
type CompositeParams struct {
	Overall      float64
	Value        float64
	Authenticity float64
	Crowd        float64
}

// CompositeScore computes the rounded composite quality score for a moment.
// Every rating is clamped to [1, 5] before weighting.
//
// Default formula: round(((overall * 0.4) + (value * 0.2) + (authenticity * 0.2) + (crowd * 0.2)) * 2, 1)
//
// Parameters:
//   - params: The sub-ratings (missing optional ratings already defaulted by the caller)
//   - weights: The calibrated weight configuration (optional, uses default if nil)
//
// Returns a score in [2.0, 10.0]. Weights that fail CompositeWeights.Validate
// cannot push the score outside that range; the result is clamped.
func CompositeScore(params CompositeParams, weights *Weights) float64 {
	if weights == nil {
		weights = DefaultWeights()
	}
	w := weights.Composite

	raw := ClampRating(params.Overall)*w.Overall +
		ClampRating(params.Value)*w.Value +
		ClampRating(params.Authenticity)*w.Authenticity +
		ClampRating(params.Crowd)*w.Crowd

	score := raw * 2
	if math.IsNaN(score) || score < MinCompositeScore {
		score = MinCompositeScore
	}
	if score > MaxCompositeScore {
		score = MaxCompositeScore
	}
	return roundTo(score, 1)
}

// roundTo rounds v half away from zero to the given number of decimals.
func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// InterestWeight computes the interest affinity term.
// A candidate whose category is absent from the viewer's profile passes
// categoryWeight 0 and contributes nothing.
//
// Parameters:
//   - categoryWeight: The viewer's interest weight for the candidate's category, [1, 10] or 0
//   - multiplier: The per-point multiplier (default: 3)
func InterestWeight(categoryWeight int, multiplier float64) float64 {
	if categoryWeight <= 0 {
		return 0.0
	}
	if categoryWeight > 10 {
		categoryWeight = 10
	}
	return float64(categoryWeight) * multiplier
}

// SocialWeight returns the flat boost applied when the viewer follows the author.
func SocialWeight(followed bool, boost float64) float64 {
	if !followed {
		return 0.0
	}
	return boost
}

// EngagementWeight normalizes a candidate's engagement against the largest
// engagement in the current batch, returning a value in [0, 1].
// The denominator is floored at 1 so an all-zero batch yields 0, not NaN.
func EngagementWeight(engagement, maxEngagement int64) float64 {
	if engagement <= 0 {
		return 0.0
	}
	if maxEngagement < 1 {
		maxEngagement = 1
	}
	ratio := float64(engagement) / float64(maxEngagement)
	if ratio > 1.0 {
		return 1.0
	}
	return ratio
}

// RecencyWeight computes an exponential time decay normalized to (0, 1].
//
// Parameters:
//   - createdAt: When the moment was created
//   - now: Reference time for the scoring pass
//   - timeConstant: Decay time constant (default: 10 days)
//
// Formula: exp(-age / timeConstant). Same-day content scores ~1.0,
// two-week-old content ~0.25. Future timestamps are treated as age 0.
func RecencyWeight(createdAt, now time.Time, timeConstant time.Duration) float64 {
	if timeConstant <= 0 {
		return 1.0
	}

	age := now.Sub(createdAt)
	if age < 0 {
		age = 0
	}

	return math.Exp(-float64(age) / float64(timeConstant))
}

// QualityWeight converts a composite score into the quality floor term.
func QualityWeight(compositeScore, multiplier float64) float64 {
	if compositeScore < 0 {
		compositeScore = 0
	}
	return compositeScore * multiplier
}

// FeedParams holds the raw signals for one (viewer, candidate) pair.
type FeedParams struct {
	InterestWeight int       // Viewer weight for the candidate category, 0 when unmatched
	Followed       bool      // Viewer follows the candidate's author
	Engagement     int64     // likes + views of the candidate
	MaxEngagement  int64     // Largest engagement in the current batch
	CreatedAt      time.Time // Candidate creation time
	Now            time.Time // Reference time for the pass
	CompositeScore float64   // Candidate composite score [2, 10]
}

// Breakdown is the additive, per-term decomposition of a feed score.
type Breakdown struct {
	Interest   float64 `json:"interest"`
	Social     float64 `json:"social"`
	Engagement float64 `json:"engagement"`
	Recency    float64 `json:"recency"`
	Quality    float64 `json:"quality"`
}

// Total returns the sum of all terms.
func (b Breakdown) Total() float64 {
	return b.Interest + b.Social + b.Engagement + b.Recency + b.Quality
}

// CompositeFeedScore computes the personalized ranking score for a candidate.
// The five terms are strictly additive; each can be disabled by zeroing its
// weight without touching the others.
//
// Default formula:
//
//	score = 3*interest + 2*followed + 2*(engagement/maxEngagement) + exp(-ageDays/10) + composite/10
//
// Parameters:
//   - params: The raw signals
//   - weights: The calibrated weight configuration (optional, uses default if nil)
func CompositeFeedScore(params FeedParams, weights *Weights) Breakdown {
	if weights == nil {
		weights = DefaultWeights()
	}
	w := weights.Feed

	return Breakdown{
		Interest:   InterestWeight(params.InterestWeight, w.Interest),
		Social:     SocialWeight(params.Followed, w.Social),
		Engagement: EngagementWeight(params.Engagement, params.MaxEngagement) * w.Engagement,
		Recency:    RecencyWeight(params.CreatedAt, params.Now, w.RecencyTimeConstant()) * w.Recency,
		Quality:    QualityWeight(params.CompositeScore, w.Quality),
	}
}
