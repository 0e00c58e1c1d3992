package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/boxpress/boxpress/pkg/domain"
	"github.com/boxpress/boxpress/pkg/logger"
	"github.com/boxpress/boxpress/pkg/models"
)

// FollowUpPlanner derives a new campaign targeting the non-converted
// recipients of a finished campaign within a configurable window.
type FollowUpPlanner struct {
	store domain.Store
	log   logger.Logger
}

// NewFollowUpPlanner creates a follow-up planner
func NewFollowUpPlanner(store domain.Store, log logger.Logger) *FollowUpPlanner {
	return &FollowUpPlanner{store: store, log: log}
}

// CreateFollowUp creates a follow-up campaign for parentID. The parent must
// be completed or still sending, and at least one non-converted recipient
// must exist inside the window. The follow-up's sends are populated here,
// through the same idempotent bulk insert used for initial materialization;
// the generic filter path never runs for it.
func (f *FollowUpPlanner) CreateFollowUp(ctx context.Context, parentID int, opts models.FollowUpOptions, maxAttempts int) (*models.Campaign, error) {
	parent, err := f.store.GetCampaignByID(ctx, parentID)
	if err != nil {
		return nil, err
	}

	if parent.Status != models.CampaignStatusCompleted && parent.Status != models.CampaignStatusSending {
		return nil, domain.NewValidationError(
			fmt.Sprintf("parent campaign must be completed or sending, got %s", parent.Status))
	}

	windowHours := opts.WindowHours
	if windowHours <= 0 {
		windowHours = parent.FollowUpWindowHours
	}
	window := time.Duration(windowHours) * time.Hour

	recipients, err := f.store.GetNonConvertedRecipients(ctx, parentID, window)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve non-converted recipients: %w", err)
	}
	if len(recipients) == 0 {
		return nil, domain.NewValidationError("no non-converted recipients within the follow-up window")
	}

	followUp := &models.Campaign{
		Name:                opts.Name,
		Subject:             opts.Subject,
		TemplateID:          opts.TemplateID,
		TemplateVars:        opts.TemplateVars,
		Status:              models.CampaignStatusDraft,
		Type:                models.CampaignTypeFollowUp,
		Filter:              parent.Filter,
		ScheduledAt:         opts.ScheduledAt,
		ParentCampaignID:    &parent.ID,
		FollowUpWindowHours: windowHours,
	}
	if err := f.store.CreateCampaign(ctx, followUp); err != nil {
		return nil, err
	}

	created, err := f.store.CreateSends(ctx, followUp.ID, recipients, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to populate follow-up sends: %w", err)
	}

	if _, err := f.store.TransitionCampaignStatus(ctx, followUp.ID,
		models.CampaignStatusDraft, models.CampaignStatusScheduled); err != nil {
		return nil, err
	}
	followUp.Status = models.CampaignStatusScheduled

	if err := f.store.SyncCampaignStats(ctx, followUp.ID); err != nil {
		f.log.Warn("failed to sync follow-up stats",
			"campaign_id", followUp.ID,
			"error", err)
	}

	f.log.Info("created follow-up campaign",
		"campaign_id", followUp.ID,
		"parent_campaign_id", parent.ID,
		"recipients", len(recipients),
		"sends_created", created,
		"window_hours", windowHours)
	return followUp, nil
}
