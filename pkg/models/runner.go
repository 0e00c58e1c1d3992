package models

import "time"

// RunnerConfig holds the knobs for a single campaign runner pass
type RunnerConfig struct {
	BatchSize        int
	BatchDelay       time.Duration
	SendDelay        time.Duration
	LockTTL          time.Duration
	MaxRetryAttempts int
	RetryBaseDelay   time.Duration
	DryRun           bool
}

// DefaultRunnerConfig returns the defaults used when config options are unset
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		BatchSize:        50,
		BatchDelay:       2 * time.Second,
		SendDelay:        100 * time.Millisecond,
		LockTTL:          10 * time.Minute,
		MaxRetryAttempts: 3,
		RetryBaseDelay:   time.Minute,
	}
}

// BatchTotals aggregates send outcomes for one campaign pass
type BatchTotals struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Retried int `json:"retried"`
	Skipped int `json:"skipped"`
}

// Add merges another totals value into this one
func (t *BatchTotals) Add(other BatchTotals) {
	t.Sent += other.Sent
	t.Failed += other.Failed
	t.Retried += other.Retried
	t.Skipped += other.Skipped
}

// RunReport summarizes one orchestrator pass over all ready campaigns
type RunReport struct {
	Processed      int         `json:"processed"`
	Errors         int         `json:"errors"`
	LockContention int         `json:"lock_contention"`
	Totals         BatchTotals `json:"totals"`
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     time.Time   `json:"finished_at"`
}

// RunnerStatus is the operator-facing status report
type RunnerStatus struct {
	Running   bool       `json:"running"`
	OwnerID   string     `json:"owner_id"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastRun   *RunReport `json:"last_run,omitempty"`
}
