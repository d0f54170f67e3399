package moment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/wanderlog/internal/jobs"
)

// JobTypeRankRecompute labels rank sweeps in the centralized job metrics.
const JobTypeRankRecompute = jobs.JobTypeRankRecompute

// RecomputeJobConfig configures the rank recompute job.
type RecomputeJobConfig struct {
	// Interval is the duration between sweeps.
	Interval time.Duration
	// Logger for job activity.
	Logger *slog.Logger
	// Metrics for performance tracking.
	Metrics *Metrics
	// JobMetrics for centralized background job tracking.
	JobMetrics JobMetrics
	// Timeout for each sweep.
	Timeout time.Duration
}

// JobMetrics provides centralized background job metrics tracking.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
}

// DefaultRecomputeInterval is the default interval between sweeps.
const DefaultRecomputeInterval = 5 * time.Second

// DefaultRecomputeTimeout is the default timeout for a single sweep.
const DefaultRecomputeTimeout = 30 * time.Second

// RecomputeJob periodically re-ranks the moments of dirty owners.
type RecomputeJob struct {
	config       RecomputeJobConfig
	dirtyTracker *DirtyTracker
	assigner     *RankAssigner

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRecomputeJob creates a new rank recompute job.
func NewRecomputeJob(config RecomputeJobConfig, dirtyTracker *DirtyTracker, assigner *RankAssigner) *RecomputeJob {
	if config.Interval == 0 {
		config.Interval = DefaultRecomputeInterval
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultRecomputeTimeout
	}

	return &RecomputeJob{
		config:       config,
		dirtyTracker: dirtyTracker,
		assigner:     assigner,
	}
}

// Start begins the periodic recompute job.
// Returns immediately; the job runs in a background goroutine.
func (j *RecomputeJob) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	go j.run(ctx)
	return nil
}

// Stop signals the recompute job to stop and waits for it to finish.
func (j *RecomputeJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh := j.stopCh
	doneCh := j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// IsRunning returns whether the job is currently running.
func (j *RecomputeJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *RecomputeJob) run(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("rank recompute job stopping due to context cancellation")
			return
		case <-j.stopCh:
			j.config.Logger.Info("rank recompute job stopping due to stop signal")
			return
		case <-ticker.C:
			j.recomputeDirtyOwners(ctx)
		}
	}
}

// recomputeDirtyOwners re-ranks every dirty owner. Owners are independent,
// so a failure for one owner leaves it dirty and the sweep moves on.
func (j *RecomputeJob) recomputeDirtyOwners(parentCtx context.Context) int {
	sweepStart := time.Now()
	owners := j.dirtyTracker.GetDirtyOwners()
	if len(owners) == 0 {
		return 0
	}

	ctx, cancel := context.WithTimeout(parentCtx, j.config.Timeout)
	defer cancel()

	ownerCount := len(owners)
	var successCount int

	j.config.Logger.Info("recomputing moment ranks",
		"dirty_count", ownerCount)

	for i, ownerID := range owners {
		if ctx.Err() != nil {
			j.config.Logger.Error("rank recompute timeout exceeded",
				"processed", i,
				"total", ownerCount,
				"timeout", j.config.Timeout)
			if j.config.JobMetrics != nil {
				j.config.JobMetrics.IncJobErrors(JobTypeRankRecompute, jobs.ErrorTypeTimeout)
			}
			break
		}

		if err := j.assigner.RecomputeRanks(ctx, ownerID); err != nil {
			j.config.Logger.Error("failed to recompute moment ranks",
				"owner_id", ownerID,
				"error", err)
			if j.config.JobMetrics != nil {
				j.config.JobMetrics.IncJobErrors(JobTypeRankRecompute, jobs.ErrorTypeRecompute)
			}
			continue
		}

		j.dirtyTracker.ClearDirty(ownerID, sweepStart)
		successCount++
	}

	duration := time.Since(sweepStart).Seconds()
	status := jobs.StatusSuccess
	if successCount < ownerCount {
		status = jobs.StatusFailure
	}

	if j.config.Metrics != nil {
		j.config.Metrics.SetLastSweepTimestamp(float64(time.Now().Unix()))
		j.config.Metrics.SetLastSweepOwnerCount(float64(successCount))
	}
	if j.config.JobMetrics != nil {
		j.config.JobMetrics.IncJobsTotal(JobTypeRankRecompute, status)
		j.config.JobMetrics.ObserveJobDuration(JobTypeRankRecompute, duration)
	}

	j.config.Logger.Info("rank recompute completed",
		"duration_seconds", duration,
		"owners_processed", successCount,
		"owners_failed", ownerCount-successCount)

	return ownerCount - successCount
}

// RecomputeNow immediately re-ranks all dirty owners without waiting for the ticker.
// It returns the number of owners that failed and remain dirty.
func (j *RecomputeJob) RecomputeNow(ctx context.Context) int {
	return j.recomputeDirtyOwners(ctx)
}

// OwnerLister enumerates every owner holding at least one scored moment.
type OwnerLister interface {
	ListScoredOwners(ctx context.Context) ([]string, error)
}

// Backfill marks every owner with scored moments dirty and sweeps them
// immediately. Used after a calibration change or a restore, when stored
// ranks can no longer be trusted.
func (j *RecomputeJob) Backfill(ctx context.Context, lister OwnerLister) (int, error) {
	start := time.Now()
	owners, err := lister.ListScoredOwners(ctx)
	if err != nil {
		if j.config.JobMetrics != nil {
			j.config.JobMetrics.IncJobErrors(jobs.JobTypeRankBackfill, jobs.ErrorTypeListing)
			j.config.JobMetrics.IncJobsTotal(jobs.JobTypeRankBackfill, jobs.StatusFailure)
		}
		return 0, fmt.Errorf("failed to list scored owners: %w", err)
	}

	for _, ownerID := range owners {
		j.dirtyTracker.MarkDirty(ownerID)
	}
	j.config.Logger.Info("rank backfill started", "owner_count", len(owners))

	failed := j.recomputeDirtyOwners(ctx)

	if j.config.JobMetrics != nil {
		status := jobs.StatusSuccess
		if failed > 0 {
			status = jobs.StatusFailure
		}
		j.config.JobMetrics.IncJobsTotal(jobs.JobTypeRankBackfill, status)
		j.config.JobMetrics.ObserveJobDuration(jobs.JobTypeRankBackfill, time.Since(start).Seconds())
	}

	if failed > 0 {
		return len(owners), fmt.Errorf("rank backfill left %d owners dirty", failed)
	}
	return len(owners), nil
}
