package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/boxpress/boxpress/pkg/domain"
	"github.com/boxpress/boxpress/pkg/logger"
	"github.com/boxpress/boxpress/pkg/metrics"
	"github.com/boxpress/boxpress/pkg/models"
)

// Processor drives one campaign through its pending sends in bounded
// batches. It must only be called while the caller holds the campaign's
// lock. Sends are dispatched sequentially with fixed inter-send and
// inter-batch delays; pause and cancel are observed before every dispatch.
type Processor struct {
	store    domain.Store
	mailer   domain.Mailer
	renderer domain.TemplateRenderer
	metrics  *metrics.Metrics
	log      logger.Logger

	// sleep is swapped out in tests
	sleep func(ctx context.Context, d time.Duration)
}

// NewProcessor creates a batch processor
func NewProcessor(store domain.Store, mailer domain.Mailer, renderer domain.TemplateRenderer, m *metrics.Metrics, log logger.Logger) *Processor {
	return &Processor{
		store:    store,
		mailer:   mailer,
		renderer: renderer,
		metrics:  m,
		log:      log,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// ProcessCampaign runs the campaign to exhaustion for this pass: it
// materializes sends for newly scheduled campaigns, then works through
// pending batches until none are eligible or the campaign is paused or
// cancelled. The campaign transitions to completed only when no queued or
// retryable sends remain at all.
func (p *Processor) ProcessCampaign(ctx context.Context, c *models.Campaign, cfg models.RunnerConfig) (models.BatchTotals, error) {
	totals := models.BatchTotals{}

	if c.Status == models.CampaignStatusScheduled {
		proceed, err := p.materialize(ctx, c, cfg)
		if err != nil {
			return totals, err
		}
		if !proceed {
			return totals, nil
		}
	}

	for {
		batchStart := time.Now()

		sends, err := p.store.GetPendingSends(ctx, c.ID, cfg.BatchSize)
		if err != nil {
			return totals, fmt.Errorf("failed to fetch pending sends: %w", err)
		}
		if len(sends) == 0 {
			break
		}

		interrupted := false
		for i, send := range sends {
			// Pause/cancel is observed at per-send granularity; sends
			// already dispatched in this batch are not rolled back.
			live, err := p.store.GetCampaignByID(ctx, c.ID)
			if err != nil {
				return totals, fmt.Errorf("failed to re-read campaign: %w", err)
			}
			if live.Status == models.CampaignStatusPaused || live.Status == models.CampaignStatusCancelled {
				p.log.Info("campaign interrupted mid-batch",
					"campaign_id", c.ID,
					"status", live.Status)
				interrupted = true
				break
			}

			outcome := p.dispatch(ctx, live, send, cfg)
			p.metrics.ObserveSend(outcome)
			switch outcome {
			case outcomeSent:
				totals.Sent++
			case outcomeFailed:
				totals.Failed++
			case outcomeRetried:
				totals.Retried++
			case outcomeSkipped:
				totals.Skipped++
			}

			if i < len(sends)-1 {
				p.sleep(ctx, cfg.SendDelay)
			}
		}

		// Counters are resynced from the sends aggregate after every batch;
		// a failed sync never blocks dispatch.
		if err := p.store.SyncCampaignStats(ctx, c.ID); err != nil {
			p.log.Warn("failed to sync campaign stats",
				"campaign_id", c.ID,
				"error", err)
		}
		p.metrics.ObserveBatch(time.Since(batchStart))

		if interrupted {
			return totals, nil
		}
		if ctx.Err() != nil {
			return totals, ctx.Err()
		}

		p.sleep(ctx, cfg.BatchDelay)
	}

	// Nothing eligible right now. Complete only when nothing is retryable
	// either; otherwise a later pass picks the campaign up once retry
	// windows elapse.
	pending, err := p.store.CountPendingSends(ctx, c.ID)
	if err != nil {
		return totals, fmt.Errorf("failed to count pending sends: %w", err)
	}
	if pending > 0 {
		return totals, nil
	}

	completed, err := p.store.TransitionCampaignStatus(ctx, c.ID,
		models.CampaignStatusSending, models.CampaignStatusCompleted)
	if err != nil {
		return totals, fmt.Errorf("failed to complete campaign: %w", err)
	}
	if completed {
		p.log.Info("campaign completed", "campaign_id", c.ID)
	}
	return totals, nil
}

// materialize creates send rows for a newly scheduled campaign and flips it
// to sending. Follow-up campaigns are populated at creation time, so only
// the status flip applies to them. Returns false when the campaign changed
// state concurrently and processing should stop.
func (p *Processor) materialize(ctx context.Context, c *models.Campaign, cfg models.RunnerConfig) (bool, error) {
	if c.Type != models.CampaignTypeFollowUp {
		recipients, err := p.store.GetRecipientsByFilter(ctx, c.Filter)
		if err != nil {
			return false, fmt.Errorf("failed to resolve recipients: %w", err)
		}

		created, err := p.store.CreateSends(ctx, c.ID, recipients, cfg.MaxRetryAttempts)
		if err != nil {
			return false, fmt.Errorf("failed to materialize sends: %w", err)
		}
		p.log.Info("materialized campaign sends",
			"campaign_id", c.ID,
			"matched", len(recipients),
			"created", created)
	}

	ok, err := p.store.TransitionCampaignStatus(ctx, c.ID,
		models.CampaignStatusScheduled, models.CampaignStatusSending)
	if err != nil {
		return false, fmt.Errorf("failed to start campaign: %w", err)
	}
	if !ok {
		// Cancelled (or otherwise moved) between the ready query and now.
		p.log.Warn("campaign no longer scheduled, skipping", "campaign_id", c.ID)
		return false, nil
	}
	c.Status = models.CampaignStatusSending

	if err := p.store.SyncCampaignStats(ctx, c.ID); err != nil {
		p.log.Warn("failed to sync campaign stats",
			"campaign_id", c.ID,
			"error", err)
	}
	return true, nil
}

const (
	outcomeSent    = "sent"
	outcomeFailed  = "failed"
	outcomeRetried = "retried"
	outcomeSkipped = "skipped"
)

// dispatch sends one email and classifies the outcome. Every failure path,
// including a panic in a collaborator, ends as a per-send classification;
// it never aborts the batch.
func (p *Processor) dispatch(ctx context.Context, c *models.Campaign, s *models.Send, cfg models.RunnerConfig) (outcome string) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("panic while dispatching send",
				"send_id", s.ID,
				"campaign_id", c.ID,
				"panic", r)
			outcome = p.classifyFailure(ctx, s, cfg, fmt.Errorf("panic: %v", r))
		}
	}()

	if cfg.DryRun {
		return p.markSkipped(ctx, s, "dry run")
	}

	var recipient *models.Recipient
	if s.RecipientID != nil {
		r, err := p.store.GetRecipientByID(ctx, *s.RecipientID)
		if err != nil {
			return p.classifyFailure(ctx, s, cfg, fmt.Errorf("failed to resolve recipient: %w", err))
		}
		if r == nil {
			// Recipient deleted after queuing: skip with an error note
			// rather than silently sending to a stale address.
			return p.markSkipped(ctx, s, "recipient no longer exists")
		}
		if c.Filter.SubscribedOnly && !r.Subscribed {
			return p.markSkipped(ctx, s, "recipient unsubscribed")
		}
		recipient = r
	}

	vars := make(map[string]string, len(c.TemplateVars)+2)
	for k, v := range c.TemplateVars {
		vars[k] = v
	}
	vars["email"] = s.Email
	if recipient != nil && recipient.Name != "" {
		vars["name"] = recipient.Name
	}

	html, err := p.renderer.Render(c.TemplateID, vars)
	if err != nil {
		return p.classifyFailure(ctx, s, cfg, fmt.Errorf("failed to render template: %w", err))
	}

	toName := ""
	if recipient != nil {
		toName = recipient.Name
	}

	s.Status = models.SendStatusSending
	if err := p.store.UpdateSend(ctx, s); err != nil {
		p.log.Warn("failed to mark send in flight", "send_id", s.ID, "error", err)
	}

	result, err := p.mailer.Send(ctx, models.OutboundEmail{
		To:      s.Email,
		ToName:  toName,
		Subject: c.Subject,
		HTML:    html,
		Tags:    []string{fmt.Sprintf("campaign-%d", c.ID)},
	})
	if err != nil {
		return p.classifyFailure(ctx, s, cfg, err)
	}

	now := time.Now()
	s.Status = models.SendStatusSent
	s.MessageID = result.MessageID
	s.LastError = ""
	s.SentAt = &now
	s.NextRetryAt = nil
	if err := p.store.UpdateSend(ctx, s); err != nil {
		p.log.Error("failed to record sent outcome", "send_id", s.ID, "error", err)
	}
	return outcomeSent
}

// classifyFailure applies the retry policy: exponential backoff in attempt
// count until the budget is spent, then terminal failure.
func (p *Processor) classifyFailure(ctx context.Context, s *models.Send, cfg models.RunnerConfig, cause error) string {
	s.AttemptCount++
	s.Status = models.SendStatusFailed
	s.LastError = cause.Error()

	outcome := outcomeFailed
	if s.AttemptCount < s.MaxAttempts {
		next := time.Now().Add(cfg.RetryBaseDelay * time.Duration(1<<uint(s.AttemptCount-1)))
		s.NextRetryAt = &next
		outcome = outcomeRetried
	} else {
		s.NextRetryAt = nil
	}

	if err := p.store.UpdateSend(ctx, s); err != nil {
		p.log.Error("failed to record failed outcome", "send_id", s.ID, "error", err)
	}

	p.log.Warn("send failed",
		"send_id", s.ID,
		"campaign_id", s.CampaignID,
		"attempt", s.AttemptCount,
		"max_attempts", s.MaxAttempts,
		"error", cause)
	return outcome
}

func (p *Processor) markSkipped(ctx context.Context, s *models.Send, reason string) string {
	s.Status = models.SendStatusSkipped
	s.LastError = reason
	s.NextRetryAt = nil
	if err := p.store.UpdateSend(ctx, s); err != nil {
		p.log.Error("failed to record skipped outcome", "send_id", s.ID, "error", err)
	}
	return outcomeSkipped
}
