package api

import "net/http"

// RouterConfig carries the handlers and middleware of the HTTP surface.
type RouterConfig struct {
	Feed    *FeedHandlers
	Moments *MomentHandlers
	Profile *ProfileHandlers
	Health  *HealthHandlers
	// Metrics serves GET /metrics. Optional.
	Metrics http.Handler

	// Authenticate guards every /v1 route.
	Authenticate func(http.Handler) http.Handler
	// FeedLimit and WriteLimit rate limit reads of the feed and mutations.
	// Either may be nil.
	FeedLimit  func(http.Handler) http.Handler
	WriteLimit func(http.Handler) http.Handler
	// Idempotency guards moment creation against client retries. Optional.
	Idempotency func(http.Handler) http.Handler
}

// NewRouter builds the API's route table. Cross-cutting middleware
// (request IDs, logging, tracing, HTTP metrics) wraps the returned handler
// in cmd/api.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	guard := func(limit func(http.Handler) http.Handler, h http.HandlerFunc, inner ...func(http.Handler) http.Handler) http.Handler {
		var handler http.Handler = h
		for _, mw := range inner {
			if mw != nil {
				handler = mw(handler)
			}
		}
		if limit != nil {
			handler = limit(handler)
		}
		if cfg.Authenticate != nil {
			handler = cfg.Authenticate(handler)
		}
		return handler
	}

	if cfg.Feed != nil {
		mux.Handle("GET /v1/feed", guard(cfg.FeedLimit, cfg.Feed.GetFeed))
		mux.Handle("GET /v1/feed/explain", guard(cfg.FeedLimit, cfg.Feed.ExplainFeed))
	}

	if cfg.Moments != nil {
		mux.Handle("POST /v1/moments", guard(cfg.WriteLimit, cfg.Moments.CreateMoment, cfg.Idempotency))
		mux.Handle("GET /v1/moments/{id}", guard(nil, cfg.Moments.GetMoment))
		mux.Handle("DELETE /v1/moments/{id}", guard(cfg.WriteLimit, cfg.Moments.DeleteMoment))
		mux.Handle("POST /v1/moments/{id}/ratings", guard(cfg.WriteLimit, cfg.Moments.RateMoment))
		mux.Handle("POST /v1/moments/{id}/engagement", guard(cfg.WriteLimit, cfg.Moments.RecordEngagement))
	}

	if cfg.Profile != nil {
		mux.Handle("GET /v1/interests", guard(nil, cfg.Profile.GetInterests))
		mux.Handle("PUT /v1/interests/{category}", guard(cfg.WriteLimit, cfg.Profile.SetInterest))
		mux.Handle("DELETE /v1/interests/{category}", guard(cfg.WriteLimit, cfg.Profile.RemoveInterest))
		mux.Handle("PUT /v1/follows/{id}", guard(cfg.WriteLimit, cfg.Profile.Follow))
		mux.Handle("DELETE /v1/follows/{id}", guard(cfg.WriteLimit, cfg.Profile.Unfollow))
	}

	if cfg.Health != nil {
		mux.HandleFunc("GET /health", cfg.Health.Health)
		mux.HandleFunc("GET /ready", cfg.Health.Ready)
	}
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r.Context(), http.StatusOK, map[string]string{"service": "wanderlog-api"})
	})

	// Unmatched paths get the JSON envelope instead of the mux's plain-text 404.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
	})

	return mux
}

// Chain wraps h with middleware, the first listed being outermost.
func Chain(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
