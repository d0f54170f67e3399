// Package ranking provides centralized ranking component calculations
// with calibration support for moment quality and personalized feeds.
//
// Basic Usage:
//
//	// Load calibration (typically at startup)
//	weights, err := ranking.LoadCalibration("configs/ranking.calibration.json")
//	if err != nil {
//		log.Warn("using default weights", "error", err)
//	}
//
//	// Composite quality score for a rated moment
//	score := ranking.CompositeScore(ranking.CompositeParams{
//		Overall:      4,
//		Value:        3,
//		Authenticity: 5,
//		Crowd:        4,
//	}, weights)
//
//	// Personalized feed score for one candidate
//	breakdown := ranking.CompositeFeedScore(ranking.FeedParams{
//		InterestWeight: profile[candidate.Category],
//		Followed:       followed[candidate.AuthorID],
//		Engagement:     candidate.LikeCount + candidate.ViewCount,
//		MaxEngagement:  batchMax,
//		CreatedAt:      candidate.CreatedAt,
//		Now:            now,
//		CompositeScore: candidate.CompositeScore,
//	}, weights)
//	total := breakdown.Total()
//
// Weight Functions:
//
// Each weight function computes one independently explainable term. The
// feed score is the plain sum of the five terms, so any term can be
// reweighted through calibration without touching the others.
//
// Calibration:
//
// The calibration system allows deploy-time tuning of ranking weights via
// JSON configuration files loaded at startup. See
// configs/ranking.calibration.json for the default configuration.
package ranking
