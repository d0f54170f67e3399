package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/onnwee/wanderlog/internal/follow"
	"github.com/onnwee/wanderlog/internal/interest"
	"github.com/onnwee/wanderlog/internal/moment"
)

// BreakerConfig configures the circuit breaker around a DataSource.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32        // Requests allowed through while half-open
	Interval         time.Duration // Closed-state counter reset period
	Timeout          time.Duration // Open-state duration before probing
	FailureThreshold uint32        // Consecutive failures that open the breaker
	Logger           *slog.Logger
}

// DefaultBreakerConfig returns the breaker settings used by the API server.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "feed-datasource",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}

// BreakerDataSource wraps a DataSource with a circuit breaker. While the
// breaker is open every fetch fails fast with gobreaker.ErrOpenState, which
// the feed service treats like any other fetch failure.
type BreakerDataSource struct {
	next DataSource
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreakerDataSource wraps next with a circuit breaker.
func NewBreakerDataSource(next DataSource, cfg BreakerConfig) *BreakerDataSource {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = DefaultBreakerConfig().FailureThreshold
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Caller cancellation says nothing about the collaborator's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("feed data source circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	}

	return &BreakerDataSource{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[any](settings),
	}
}

// State returns the current breaker state.
func (b *BreakerDataSource) State() gobreaker.State {
	return b.cb.State()
}

// FetchCandidateMoments fetches candidates through the breaker.
func (b *BreakerDataSource) FetchCandidateMoments(ctx context.Context, excludingUserID string) ([]moment.Candidate, error) {
	v, err := b.cb.Execute(func() (any, error) {
		candidates, err := b.next.FetchCandidateMoments(ctx, excludingUserID)
		return candidates, err
	})
	if err != nil {
		return nil, err
	}
	return v.([]moment.Candidate), nil
}

// FetchInterestProfile fetches the profile through the breaker.
func (b *BreakerDataSource) FetchInterestProfile(ctx context.Context, userID string) (interest.Profile, error) {
	v, err := b.cb.Execute(func() (any, error) {
		profile, err := b.next.FetchInterestProfile(ctx, userID)
		return profile, err
	})
	if err != nil {
		return nil, err
	}
	return v.(interest.Profile), nil
}

// FetchFollowedIDs fetches the follow set through the breaker.
func (b *BreakerDataSource) FetchFollowedIDs(ctx context.Context, userID string) (follow.Set, error) {
	v, err := b.cb.Execute(func() (any, error) {
		followed, err := b.next.FetchFollowedIDs(ctx, userID)
		return followed, err
	})
	if err != nil {
		return nil, err
	}
	return v.(follow.Set), nil
}
