// Package main is the entry point for the API server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/wanderlog/internal/api"
	"github.com/onnwee/wanderlog/internal/auth"
	"github.com/onnwee/wanderlog/internal/config"
	"github.com/onnwee/wanderlog/internal/db"
	"github.com/onnwee/wanderlog/internal/feed"
	"github.com/onnwee/wanderlog/internal/follow"
	"github.com/onnwee/wanderlog/internal/health"
	"github.com/onnwee/wanderlog/internal/idempotency"
	"github.com/onnwee/wanderlog/internal/interest"
	"github.com/onnwee/wanderlog/internal/jobs"
	"github.com/onnwee/wanderlog/internal/middleware"
	"github.com/onnwee/wanderlog/internal/moment"
	"github.com/onnwee/wanderlog/internal/ranking"
	"github.com/onnwee/wanderlog/internal/tracing"
)

const serviceName = "wanderlog-api"

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Wanderlog API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if cfg == nil {
		fmt.Fprintln(os.Stderr, errs[0])
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("invalid configuration", "error", err)
		}
		os.Exit(1)
	}
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api server failed", "error", err)
		os.Exit(1)
	}
}

// stores holds the repositories and connections behind the API.
type stores struct {
	moments   moment.Repository
	interests interest.Repository
	follows   follow.Repository
	db        *sql.DB
	redis     *redis.Client
}

func (s *stores) Close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

// openStores connects to Postgres and Redis when configured. Without a
// database URL the in-memory repositories are used.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	s := &stores{}

	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory repositories")
		s.moments = moment.NewInMemoryRepository()
		s.interests = interest.NewInMemoryRepository()
		s.follows = follow.NewInMemoryRepository()
	} else {
		conn, err := db.Open(ctx, cfg.DatabaseURL, db.DefaultPoolConfig())
		if err != nil {
			return nil, err
		}
		s.db = conn
		s.moments = moment.NewPostgresRepository(conn, logger)
		s.interests = interest.NewPostgresRepository(conn, logger)
		s.follows = follow.NewPostgresRepository(conn, logger)
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		s.redis = redis.NewClient(opts)
	}

	return s, nil
}

// loadWeights reads the ranking calibration file, or returns the defaults
// when no path is configured.
func loadWeights(path string) (*ranking.Weights, error) {
	if path == "" {
		return ranking.DefaultWeights(), nil
	}
	weights, err := ranking.LoadCalibration(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load ranking calibration: %w", err)
	}
	return weights, nil
}

// app is a fully wired API server.
type app struct {
	handler http.Handler
	job     *moment.RecomputeJob
	// cleanup runs periodic in-process maintenance until ctx ends. Nil when
	// nothing needs it.
	cleanup func(ctx context.Context)
}

// newApp builds the service graph and HTTP handler over s.
func newApp(cfg *config.Config, s *stores, weights *ranking.Weights, logger *slog.Logger) (*app, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	httpMetrics := middleware.NewMetrics()
	feedMetrics := feed.NewMetrics()
	momentMetrics := moment.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	for _, m := range []interface {
		Register(prometheus.Registerer) error
	}{httpMetrics, feedMetrics, momentMetrics, jobMetrics} {
		if err := m.Register(registry); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	// Feed ordering cache. Interfaces stay nil when caching is off.
	var (
		cache            feed.Cache
		momentInvalidate moment.FeedInvalidator
		viewerInvalidate api.ViewerFeedInvalidator
	)
	if ttl := cfg.FeedCacheTTL(); ttl > 0 {
		if s.redis != nil {
			cache = feed.NewRedisCache(s.redis, ttl)
		} else {
			cache = feed.NewMemoryCache(ttl)
		}
		momentInvalidate = cache
		viewerInvalidate = cache
	}

	assigner := moment.NewRankAssigner(s.moments, logger, momentMetrics)
	dirty := moment.NewDirtyTracker()
	momentSvc := moment.NewService(s.moments, assigner, moment.ServiceConfig{
		Weights:      weights,
		DirtyTracker: dirty,
		Invalidator:  momentInvalidate,
		Logger:       logger,
		Metrics:      momentMetrics,
	})
	job := moment.NewRecomputeJob(moment.RecomputeJobConfig{
		Interval:   cfg.RankRecomputeInterval(),
		Logger:     logger,
		Metrics:    momentMetrics,
		JobMetrics: jobMetrics,
	}, dirty, assigner)

	breakerCfg := feed.DefaultBreakerConfig()
	breakerCfg.Logger = logger
	source := feed.NewBreakerDataSource(feed.NewRepositoryDataSource(s.moments, s.interests, s.follows), breakerCfg)
	feedSvc := feed.NewService(source, feed.ServiceConfig{
		Weights: weights,
		Cache:   cache,
		Logger:  logger,
		Metrics: feedMetrics,
	})

	var (
		limitStore middleware.RateLimitStore
		idemRepo   idempotency.Repository
		cleanup    func(ctx context.Context)
	)
	if s.redis != nil {
		limitStore = middleware.NewRedisRateLimitStore(s.redis).WithMetrics(httpMetrics).WithLogger(logger)
		idemRepo = idempotency.NewRedisRepository(s.redis, idempotency.DefaultExpiry)
	} else {
		memStore := middleware.NewInMemoryRateLimitStore()
		memIdem := idempotency.NewInMemoryRepository()
		limitStore, idemRepo = memStore, memIdem
		cleanup = func(ctx context.Context) {
			go idempotency.RunPeriodicCleanup(ctx, memIdem, time.Hour, idempotency.DefaultExpiry, logger)

			ticker := time.NewTicker(3 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					memStore.Cleanup()
				}
			}
		}
	}

	var dbChecker, redisChecker api.HealthChecker
	if s.db != nil {
		dbChecker = health.NewDBChecker(s.db)
	}
	if s.redis != nil {
		redisChecker = health.NewRedisChecker(s.redis)
	}

	jwtSvc := auth.NewJWTService(cfg.JWTSecret, cfg.JWTPreviousSecret)
	router := api.NewRouter(api.RouterConfig{
		Feed:         api.NewFeedHandlers(feedSvc, logger),
		Moments:      api.NewMomentHandlers(momentSvc, logger),
		Profile:      api.NewProfileHandlers(s.interests, s.follows, viewerInvalidate, logger),
		Health:       api.NewHealthHandlers(api.HealthHandlersConfig{DBChecker: dbChecker, RedisChecker: redisChecker}),
		Metrics:      promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Authenticate: middleware.Authenticate(jwtSvc, logger),
		FeedLimit:    middleware.RateLimiter(limitStore, middleware.DefaultFeedLimit(), middleware.ViewerKeyFunc(), httpMetrics),
		WriteLimit:   middleware.RateLimiter(limitStore, middleware.DefaultWriteLimit(), middleware.ViewerKeyFunc(), httpMetrics),
		Idempotency:  middleware.Idempotency(idemRepo, logger),
	})

	handler := api.Chain(router,
		middleware.Tracing(serviceName),
		middleware.RequestID,
		middleware.HTTPMetrics(httpMetrics),
		middleware.Logging(logger),
	)

	return &app{handler: handler, job: job, cleanup: cleanup}, nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	tp, err := tracing.NewProvider(tracing.Config{
		ServiceName:  serviceName,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: cfg.TracingSampleRate,
		InsecureMode: !cfg.IsProduction(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("tracer shutdown failed", "error", err)
		}
	}()

	weights, err := loadWeights(cfg.RankingCalibrationPath)
	if err != nil {
		return err
	}

	s, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	a, err := newApp(cfg, s, weights, logger)
	if err != nil {
		return err
	}

	if err := a.job.Start(ctx); err != nil {
		return fmt.Errorf("failed to start rank recompute job: %w", err)
	}
	defer a.job.Stop()

	if a.cleanup != nil {
		go a.cleanup(ctx)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	server := &http.Server{
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return serve(ctx, server, ln, logger)
}

// serve runs server on ln until ctx is cancelled, then shuts it down
// gracefully.
func serve(ctx context.Context, server *http.Server, ln net.Listener, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
