// Package main is the entry point for the rank backfill worker. It rewrites
// the per-owner ranks of every owner holding scored moments, once or on an
// interval.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/onnwee/wanderlog/internal/config"
	"github.com/onnwee/wanderlog/internal/db"
	"github.com/onnwee/wanderlog/internal/jobs"
	"github.com/onnwee/wanderlog/internal/middleware"
	"github.com/onnwee/wanderlog/internal/moment"
	"github.com/onnwee/wanderlog/internal/tracing"
)

const serviceName = "wanderlog-ranker"

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	every := flag.Duration("every", 0, "repeat the backfill at this interval instead of running once")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Wanderlog Rank Backfill")
		fmt.Println()
		fmt.Println("Usage: ranker [options]")
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

	logger := middleware.NewLogger(cfg.Env).With("service", serviceName)
	slog.SetDefault(logger)

	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("invalid configuration", "error", err)
		}
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *every, logger); err != nil {
		logger.Error("rank backfill failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, every time.Duration, logger *slog.Logger) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}

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
		_ = tp.Shutdown(shutdownCtx)
	}()

	conn, err := db.Open(ctx, cfg.DatabaseURL, db.DefaultPoolConfig())
	if err != nil {
		return err
	}
	defer conn.Close()

	repo := moment.NewPostgresRepository(conn, logger)
	return backfillLoop(ctx, repo, every, logger)
}

// backfillLoop runs one backfill, then repeats it every interval until ctx
// ends when every is positive.
func backfillLoop(ctx context.Context, repo moment.Repository, every time.Duration, logger *slog.Logger) error {
	momentMetrics := moment.NewMetrics()
	assigner := moment.NewRankAssigner(repo, logger, momentMetrics)
	job := moment.NewRecomputeJob(moment.RecomputeJobConfig{
		Logger:     logger,
		Metrics:    momentMetrics,
		JobMetrics: jobs.NewMetrics(),
	}, moment.NewDirtyTracker(), assigner)

	once := func() error {
		owners, err := job.Backfill(ctx, repo)
		if err != nil {
			return err
		}
		logger.Info("rank backfill complete", "owner_count", owners)
		return nil
	}

	if every <= 0 {
		return once()
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if err := once(); err != nil {
			// Failed owners are retried on the next tick.
			logger.Warn("rank backfill incomplete", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
