package moment

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricRankRecomputeTotal         = "moment_rank_recompute_total"
	MetricRankRecomputeErrors        = "moment_rank_recompute_errors_total"
	MetricRankRecomputeDuration      = "moment_rank_recompute_duration_seconds"
	MetricRankLastSweepTimestamp     = "moment_rank_last_sweep_timestamp"
	MetricRankLastSweepOwnerCount    = "moment_rank_last_sweep_owner_count"
	MetricCompositeScoreDistribution = "moment_composite_score"
)

// Metrics contains Prometheus metrics for moment scoring and ranking.
// All operations are thread-safe.
type Metrics struct {
	rankRecomputes      prometheus.Counter
	rankErrors          prometheus.Counter
	rankDuration        prometheus.Histogram
	lastSweepTimestamp  prometheus.Gauge
	lastSweepOwnerCount prometheus.Gauge
	compositeScores     prometheus.Histogram
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		rankRecomputes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRankRecomputeTotal,
			Help: "Total number of per-owner rank recomputations",
		}),
		rankErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRankRecomputeErrors,
			Help: "Total number of failed per-owner rank recomputations",
		}),
		rankDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricRankRecomputeDuration,
			Help:    "Histogram of per-owner rank recomputation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),
		lastSweepTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricRankLastSweepTimestamp,
			Help: "Unix timestamp of the last dirty-owner rank sweep",
		}),
		lastSweepOwnerCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricRankLastSweepOwnerCount,
			Help: "Number of owners re-ranked in the last sweep",
		}),
		compositeScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricCompositeScoreDistribution,
			Help:    "Distribution of computed moment composite scores",
			Buckets: []float64{2, 3, 4, 5, 6, 7, 8, 9, 10},
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncRankRecomputes increments the successful recompute counter.
func (m *Metrics) IncRankRecomputes() {
	m.rankRecomputes.Inc()
}

// IncRankErrors increments the failed recompute counter.
func (m *Metrics) IncRankErrors() {
	m.rankErrors.Inc()
}

// ObserveRankDuration records a recompute duration sample.
func (m *Metrics) ObserveRankDuration(seconds float64) {
	m.rankDuration.Observe(seconds)
}

// SetLastSweepTimestamp sets the last sweep timestamp gauge.
func (m *Metrics) SetLastSweepTimestamp(timestamp float64) {
	m.lastSweepTimestamp.Set(timestamp)
}

// SetLastSweepOwnerCount sets the last sweep owner count gauge.
func (m *Metrics) SetLastSweepOwnerCount(count float64) {
	m.lastSweepOwnerCount.Set(count)
}

// ObserveCompositeScore records a newly computed composite score.
func (m *Metrics) ObserveCompositeScore(score float64) {
	m.compositeScores.Observe(score)
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.rankRecomputes,
		m.rankErrors,
		m.rankDuration,
		m.lastSweepTimestamp,
		m.lastSweepOwnerCount,
		m.compositeScores,
	}
}
