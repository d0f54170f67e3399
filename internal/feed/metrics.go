package feed

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricFeedRequestsTotal  = "feed_requests_total"
	MetricFeedCacheLookups   = "feed_cache_lookups_total"
	MetricFeedPassDuration   = "feed_pass_duration_seconds"
	MetricFeedPassCandidates = "feed_pass_candidates"
	MetricFeedSnapshotErrors = "feed_snapshot_errors_total"
)

// Label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"

	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"

	SourceCandidates = "candidates"
	SourceInterests  = "interests"
	SourceFollows    = "follows"
)

// Metrics contains Prometheus metrics for feed passes.
// All operations are thread-safe.
type Metrics struct {
	requests       *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	passDuration   prometheus.Histogram
	passCandidates prometheus.Histogram
	snapshotErrors *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricFeedRequestsTotal,
				Help: "Total number of personalized feed requests by status",
			},
			[]string{"status"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricFeedCacheLookups,
				Help: "Total number of feed cache lookups by result",
			},
			[]string{"result"},
		),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricFeedPassDuration,
			Help:    "Histogram of uncached feed pass duration (fetch, score, order) in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),
		passCandidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricFeedPassCandidates,
			Help:    "Number of candidates scored per feed pass",
			Buckets: prometheus.ExponentialBuckets(1, 4, 9),
		}),
		snapshotErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricFeedSnapshotErrors,
				Help: "Total number of snapshot fetch failures by source",
			},
			[]string{"source"},
		),
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

// IncRequests increments the request counter for a status.
func (m *Metrics) IncRequests(status string) {
	m.requests.WithLabelValues(status).Inc()
}

// IncCacheLookup increments the cache lookup counter for a result.
func (m *Metrics) IncCacheLookup(result string) {
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObservePass records the duration and size of an uncached pass.
func (m *Metrics) ObservePass(seconds float64, candidates int) {
	m.passDuration.Observe(seconds)
	m.passCandidates.Observe(float64(candidates))
}

// IncSnapshotErrors increments the snapshot error counter for a source.
func (m *Metrics) IncSnapshotErrors(source string) {
	m.snapshotErrors.WithLabelValues(source).Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requests,
		m.cacheLookups,
		m.passDuration,
		m.passCandidates,
		m.snapshotErrors,
	}
}
