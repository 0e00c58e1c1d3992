package campaign

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/boxpress/boxpress/pkg/domain"
	"github.com/boxpress/boxpress/pkg/logger"
	"github.com/boxpress/boxpress/pkg/metrics"
	"github.com/boxpress/boxpress/pkg/models"
)

// Runner is the orchestrator entry point invoked by the scheduler tick.
// Within one process a runner instance refuses to overlap with itself; across
// processes the per-campaign lock is the safety boundary, so redundant cron
// triggers or retried invocations are harmless.
type Runner struct {
	store     domain.Store
	processor *Processor
	lock      *Lock
	metrics   *metrics.Metrics
	log       logger.Logger

	ownerID string
	running atomic.Bool

	mu        sync.Mutex
	lastRunAt *time.Time
	lastRun   *models.RunReport
}

// NewRunner creates a runner with a unique owner id for lock claims
func NewRunner(store domain.Store, processor *Processor, lock *Lock, m *metrics.Metrics, log logger.Logger) *Runner {
	ownerID := uuid.NewString()
	return &Runner{
		store:     store,
		processor: processor,
		lock:      lock,
		metrics:   m,
		log:       log.With("owner_id", ownerID),
		ownerID:   ownerID,
	}
}

// OwnerID returns the id this runner uses for lock claims
func (r *Runner) OwnerID() string {
	return r.ownerID
}

// RunOnce processes every campaign that is ready to send. A second
// concurrent invocation on the same instance is a no-op returning an empty
// report. A single campaign's failure is counted and logged but never
// aborts the rest of the pass, and the lock release always runs.
func (r *Runner) RunOnce(ctx context.Context, cfg models.RunnerConfig) (models.RunReport, error) {
	report := models.RunReport{StartedAt: time.Now()}

	if !r.running.CompareAndSwap(false, true) {
		r.log.Debug("runner already in progress, skipping tick")
		report.FinishedAt = report.StartedAt
		return report, nil
	}
	defer r.running.Store(false)

	r.metrics.ObserveRun()

	campaigns, err := r.store.GetCampaignsReadyToSend(ctx)
	if err != nil {
		report.FinishedAt = time.Now()
		r.recordRun(report)
		return report, fmt.Errorf("failed to query ready campaigns: %w", err)
	}

	for _, c := range campaigns {
		if ctx.Err() != nil {
			break
		}

		if !r.lock.Acquire(ctx, c.ID, r.ownerID) {
			// Another runner owns it, or it is genuinely mid-flight.
			r.metrics.ObserveLockContention()
			report.LockContention++
			continue
		}

		totals, err := r.processCampaign(ctx, c, cfg)
		report.Processed++
		report.Totals.Add(totals)
		if err != nil {
			report.Errors++
			r.metrics.ObserveCampaign(true)
			r.log.Error("campaign processing failed",
				"campaign_id", c.ID,
				"error", err)
			continue
		}
		r.metrics.ObserveCampaign(false)
		r.log.Info("campaign processed",
			"campaign_id", c.ID,
			"sent", totals.Sent,
			"failed", totals.Failed,
			"retried", totals.Retried,
			"skipped", totals.Skipped)
	}

	report.FinishedAt = time.Now()
	r.recordRun(report)
	return report, nil
}

// processCampaign runs one locked campaign and guarantees the release path
// even on panic
func (r *Runner) processCampaign(ctx context.Context, c *models.Campaign, cfg models.RunnerConfig) (totals models.BatchTotals, err error) {
	defer r.lock.Release(ctx, c.ID, r.ownerID)
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while processing campaign %d: %v", c.ID, rec)
		}
	}()

	return r.processor.ProcessCampaign(ctx, c, cfg)
}

func (r *Runner) recordRun(report models.RunReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := report.FinishedAt
	r.lastRunAt = &now
	r.lastRun = &report
}

// Status returns the operator-facing runner snapshot
func (r *Runner) Status() models.RunnerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := models.RunnerStatus{
		Running: r.running.Load(),
		OwnerID: r.ownerID,
	}
	if r.lastRunAt != nil {
		t := *r.lastRunAt
		status.LastRunAt = &t
	}
	if r.lastRun != nil {
		report := *r.lastRun
		status.LastRun = &report
	}
	return status
}
