package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/boxpress/boxpress/pkg/campaign"
	"github.com/boxpress/boxpress/pkg/logger"
)

// CronManager manages scheduled jobs
type CronManager struct {
	cron         *cron.Cron
	service      *campaign.Service
	tickInterval time.Duration
	log          logger.Logger
}

// NewCronManager creates a new cron manager
func NewCronManager(service *campaign.Service, tickInterval time.Duration, log logger.Logger) *CronManager {
	return &CronManager{
		cron:         cron.New(),
		service:      service,
		tickInterval: tickInterval,
		log:          log,
	}
}

// SetupJobs configures all scheduled jobs
func (cm *CronManager) SetupJobs() error {
	// Runner tick: pick up due campaigns and drain their pending sends.
	// The runner itself rejects overlapping passes, so a tick that fires
	// while the previous pass is still draining is a cheap no-op.
	tickSpec := "@every " + cm.tickInterval.String()
	_, err := cm.cron.AddFunc(tickSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		report, err := cm.service.RunOnce(ctx)
		if err != nil {
			cm.log.Error("runner pass failed", "error", err)
			return
		}
		if report.Processed == 0 && report.LockContention == 0 {
			return
		}
		cm.log.Info("runner pass finished",
			"processed", report.Processed,
			"errors", report.Errors,
			"lock_contention", report.LockContention,
			"sent", report.Totals.Sent,
			"failed", report.Totals.Failed,
			"retried", report.Totals.Retried,
			"skipped", report.Totals.Skipped)
	})
	if err != nil {
		return err
	}

	// Daily at 6 AM: log a runner heartbeat so a silently stuck scheduler
	// shows up in the logs
	_, err = cm.cron.AddFunc("0 6 * * *", func() {
		status := cm.service.GetRunnerStatus()
		cm.log.Info("runner heartbeat",
			"running", status.Running,
			"last_run_at", status.LastRunAt,
			"owner_id", status.OwnerID)
	})
	if err != nil {
		return err
	}

	cm.log.Info("cron jobs configured", "tick_interval", cm.tickInterval)
	return nil
}

// Start starts the cron scheduler
func (cm *CronManager) Start() {
	cm.log.Info("starting cron scheduler")
	cm.cron.Start()
}

// Stop stops the cron scheduler and waits for running jobs
func (cm *CronManager) Stop() {
	cm.log.Info("stopping cron scheduler")
	ctx := cm.cron.Stop()
	<-ctx.Done()
}
