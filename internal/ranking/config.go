package ranking

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"
)

// FeedWeights defines the weights of the personalized feed score terms.
type FeedWeights struct {
	Interest         float64 `json:"interest"`           // Points per interest weight unit (default: 3)
	Social           float64 `json:"social"`             // Flat boost for followed authors (default: 2)
	Engagement       float64 `json:"engagement"`         // Multiplier for normalized engagement (default: 2)
	Recency          float64 `json:"recency"`            // Multiplier for the decay term (default: 1)
	RecencyDecayDays float64 `json:"recency_decay_days"` // Decay time constant in days (default: 10)
	Quality          float64 `json:"quality"`            // Multiplier for composite score (default: 0.1)
}

// RecencyTimeConstant returns the decay time constant as a duration.
func (w FeedWeights) RecencyTimeConstant() time.Duration {
	return time.Duration(w.RecencyDecayDays * float64(24*time.Hour))
}

// CompositeWeights defines the weights of the four moment sub-ratings.
type CompositeWeights struct {
	Overall      float64 `json:"overall"`      // default: 0.4
	Value        float64 `json:"value"`        // default: 0.2
	Authenticity float64 `json:"authenticity"` // default: 0.2
	Crowd        float64 `json:"crowd"`        // default: 0.2
}

// Weights holds all ranking weight configurations.
type Weights struct {
	Feed      FeedWeights      `json:"feed"`      // Personalized feed weights
	Composite CompositeWeights `json:"composite"` // Moment quality weights
}

// Calibration validation errors.
var (
	ErrInvalidCompositeWeights = errors.New("composite weights must be non-negative and sum to 1")
	ErrInvalidFeedWeights      = errors.New("feed weights must be non-negative with a positive recency decay")
)

// compositeWeightTolerance is the allowed drift of the composite weight sum from 1.
const compositeWeightTolerance = 1e-6

// Validate reports whether the composite weights keep scores in [2, 10].
func (w CompositeWeights) Validate() error {
	for _, v := range []float64{w.Overall, w.Value, w.Authenticity, w.Crowd} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%w: negative weight %v", ErrInvalidCompositeWeights, v)
		}
	}
	sum := w.Overall + w.Value + w.Authenticity + w.Crowd
	if math.Abs(sum-1) > compositeWeightTolerance {
		return fmt.Errorf("%w: sum is %v", ErrInvalidCompositeWeights, sum)
	}
	return nil
}

// Validate reports whether every feed term weight is usable.
func (w FeedWeights) Validate() error {
	for _, v := range []float64{w.Interest, w.Social, w.Engagement, w.Recency, w.Quality} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%w: negative weight %v", ErrInvalidFeedWeights, v)
		}
	}
	if !(w.RecencyDecayDays > 0) {
		return fmt.Errorf("%w: recency_decay_days is %v", ErrInvalidFeedWeights, w.RecencyDecayDays)
	}
	return nil
}

// Validate checks both weight groups.
func (w *Weights) Validate() error {
	return errors.Join(w.Feed.Validate(), w.Composite.Validate())
}

// CalibrationConfig represents the JSON structure of the calibration file.
type CalibrationConfig struct {
	Version string  `json:"version"` // Config version for future compatibility
	Weights Weights `json:"weights"` // Weight configurations
}

// DefaultWeights returns the default ranking weight configuration.
//
// Feed formula: score = 3*interestWeight + 2*followed + 2*normEngagement + exp(-ageDays/10) + composite/10
// - Interest dominates: a top interest (weight 10) adds 30
// - Following the author adds a flat 2
// - Engagement is normalized within the batch to [0, 2]
// - Recency decays with a 10 day time constant to (0, 1]
// - Quality contributes up to 1.0
//
// Composite formula: round((overall*0.4 + value*0.2 + authenticity*0.2 + crowd*0.2) * 2, 1)
func DefaultWeights() *Weights {
	return &Weights{
		Feed: FeedWeights{
			Interest:         3.0,
			Social:           2.0,
			Engagement:       2.0,
			Recency:          1.0,
			RecencyDecayDays: 10.0,
			Quality:          0.1,
		},
		Composite: CompositeWeights{
			Overall:      0.4,
			Value:        0.2,
			Authenticity: 0.2,
			Crowd:        0.2,
		},
	}
}

// LoadCalibration loads ranking weights from a JSON calibration file.
// If the file doesn't exist, can't be read or yields invalid weights after
// merging, returns default weights with an error.
// Partial configurations are merged with defaults for graceful degradation.
func LoadCalibration(filePath string) (*Weights, error) {
	if filePath == "" {
		return DefaultWeights(), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Warn("failed to read calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to read calibration file: %w", err)
	}

	var config CalibrationConfig
	if err := json.Unmarshal(data, &config); err != nil {
		slog.Warn("failed to parse calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to parse calibration file: %w", err)
	}

	defaults := DefaultWeights()
	merged := MergeCalibration(defaults, &config.Weights)
	if err := merged.Validate(); err != nil {
		slog.Warn("invalid calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("invalid calibration file: %w", err)
	}
	logCalibrationOverrides(defaults, merged)

	return merged, nil
}

// MergeCalibration merges override weights with base weights.
// Only non-zero values from the override are applied, which allows
// partial overrides in the calibration file. A term cannot be disabled
// through calibration; zero means "keep the default". The result is not
// validated; call Validate before using it.
func MergeCalibration(base *Weights, override *Weights) *Weights {
	if base == nil {
		return DefaultWeights()
	}

	result := *base
	if override == nil {
		return &result
	}

	mergeFloat(&result.Feed.Interest, override.Feed.Interest)
	mergeFloat(&result.Feed.Social, override.Feed.Social)
	mergeFloat(&result.Feed.Engagement, override.Feed.Engagement)
	mergeFloat(&result.Feed.Recency, override.Feed.Recency)
	mergeFloat(&result.Feed.RecencyDecayDays, override.Feed.RecencyDecayDays)
	mergeFloat(&result.Feed.Quality, override.Feed.Quality)

	mergeFloat(&result.Composite.Overall, override.Composite.Overall)
	mergeFloat(&result.Composite.Value, override.Composite.Value)
	mergeFloat(&result.Composite.Authenticity, override.Composite.Authenticity)
	mergeFloat(&result.Composite.Crowd, override.Composite.Crowd)

	return &result
}

func mergeFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

// logCalibrationOverrides logs which weights were overridden from defaults.
func logCalibrationOverrides(defaults *Weights, loaded *Weights) {
	var overrides []string

	check := func(name string, def, got float64) {
		if def != got {
			overrides = append(overrides, fmt.Sprintf("%s: %.2f -> %.2f", name, def, got))
		}
	}

	check("feed.interest", defaults.Feed.Interest, loaded.Feed.Interest)
	check("feed.social", defaults.Feed.Social, loaded.Feed.Social)
	check("feed.engagement", defaults.Feed.Engagement, loaded.Feed.Engagement)
	check("feed.recency", defaults.Feed.Recency, loaded.Feed.Recency)
	check("feed.recency_decay_days", defaults.Feed.RecencyDecayDays, loaded.Feed.RecencyDecayDays)
	check("feed.quality", defaults.Feed.Quality, loaded.Feed.Quality)
	check("composite.overall", defaults.Composite.Overall, loaded.Composite.Overall)
	check("composite.value", defaults.Composite.Value, loaded.Composite.Value)
	check("composite.authenticity", defaults.Composite.Authenticity, loaded.Composite.Authenticity)
	check("composite.crowd", defaults.Composite.Crowd, loaded.Composite.Crowd)

	if len(overrides) > 0 {
		slog.Info("loaded ranking calibration with overrides",
			"overrides", overrides)
	} else {
		slog.Info("loaded ranking calibration (using all defaults)")
	}
}
