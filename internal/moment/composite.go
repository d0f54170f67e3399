package moment

import "github.com/onnwee/wanderlog/internal/ranking"

// ComputeCompositeScore converts a moment's sub-ratings into one quality
// score in [2.0, 10.0], rounded to one decimal.
//
// A missing optional rating defaults to overall before clamping, so a single
// strong overall rating is not diluted by absent dimensions. Inputs are clamped
// to [1, 5]; out-of-range values should be rejected with Ratings.Validate first.
func ComputeCompositeScore(overall float64, value, authenticity, crowd *float64) float64 {
	return ComputeCompositeScoreWithWeights(overall, value, authenticity, crowd, nil)
}

// ComputeCompositeScoreWithWeights is ComputeCompositeScore with calibrated
// weights. A nil weights value uses the defaults.
func ComputeCompositeScoreWithWeights(overall float64, value, authenticity, crowd *float64, weights *ranking.Weights) float64 {
	return ranking.CompositeScore(ranking.CompositeParams{
		Overall:      overall,
		Value:        orDefault(value, overall),
		Authenticity: orDefault(authenticity, overall),
		Crowd:        orDefault(crowd, overall),
	}, weights)
}

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
