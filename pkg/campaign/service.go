package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/boxpress/boxpress/pkg/domain"
	"github.com/boxpress/boxpress/pkg/logger"
	"github.com/boxpress/boxpress/pkg/models"
)

const statsCacheTTL = 30 * time.Second

// Service is the operator-facing surface of the campaign runner: campaign
// commands, stats and runner status. It is invoked in-process by the HTTP
// handlers and the scheduler.
type Service struct {
	store    domain.Store
	runner   *Runner
	planner  *FollowUpPlanner
	cache    domain.CacheRepository
	validate *validator.Validate
	cfg      models.RunnerConfig
	log      logger.Logger
}

// NewService creates the campaign service. cache may be nil, stats reads
// then always hit the store.
func NewService(store domain.Store, runner *Runner, planner *FollowUpPlanner, cache domain.CacheRepository, cfg models.RunnerConfig, log logger.Logger) *Service {
	return &Service{
		store:    store,
		runner:   runner,
		planner:  planner,
		cache:    cache,
		validate: validator.New(),
		cfg:      cfg,
		log:      log,
	}
}

// CreateCampaign creates a draft campaign
func (s *Service) CreateCampaign(ctx context.Context, req models.CreateCampaignRequest) (*models.Campaign, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, domain.NewValidationError(err.Error())
	}

	filter := models.DefaultRecipientFilter()
	if req.Filter != nil {
		filter = *req.Filter
	}

	windowHours := req.FollowUpWindowHours
	if windowHours <= 0 {
		windowHours = 72
	}

	c := &models.Campaign{
		Name:                req.Name,
		Subject:             req.Subject,
		TemplateID:          req.TemplateID,
		TemplateVars:        req.TemplateVars,
		Status:              models.CampaignStatusDraft,
		Type:                models.CampaignTypeStandard,
		Filter:              filter,
		ScheduledAt:         req.ScheduledAt,
		FollowUpWindowHours: windowHours,
	}
	if err := s.store.CreateCampaign(ctx, c); err != nil {
		return nil, err
	}

	s.log.Info("campaign created", "campaign_id", c.ID, "name", c.Name)
	return c, nil
}

// StartCampaign commits a draft campaign for sending. A filter matching
// zero recipients completes the campaign immediately: an explicit no-op
// success, not an error.
func (s *Service) StartCampaign(ctx context.Context, id int) (*models.Campaign, error) {
	c, err := s.store.GetCampaignByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := ValidateTransition(c.Status, models.CampaignStatusScheduled); err != nil {
		return nil, err
	}

	matched, err := s.store.CountRecipientsByFilter(ctx, c.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count matching recipients: %w", err)
	}
	if matched == 0 {
		if _, err := s.store.TransitionCampaignStatus(ctx, id, c.Status, models.CampaignStatusCompleted); err != nil {
			return nil, err
		}
		s.log.Info("campaign matched no recipients, completed immediately", "campaign_id", id)
		return s.store.GetCampaignByID(ctx, id)
	}

	if c.ScheduledAt == nil {
		now := time.Now()
		c.ScheduledAt = &now
		if err := s.store.UpdateCampaign(ctx, c); err != nil {
			return nil, err
		}
	}

	ok, err := s.store.TransitionCampaignStatus(ctx, id, c.Status, models.CampaignStatusScheduled)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.NewConflictError("campaign status changed concurrently")
	}

	s.log.Info("campaign scheduled",
		"campaign_id", id,
		"matched_recipients", matched,
		"scheduled_at", c.ScheduledAt)
	return s.store.GetCampaignByID(ctx, id)
}

// PauseCampaign pauses a sending campaign
func (s *Service) PauseCampaign(ctx context.Context, id int) (*models.Campaign, error) {
	return s.command(ctx, id, models.CampaignStatusPaused)
}

// ResumeCampaign resumes a paused campaign; the next runner pass picks it up
func (s *Service) ResumeCampaign(ctx context.Context, id int) (*models.Campaign, error) {
	return s.command(ctx, id, models.CampaignStatusSending)
}

// CancelCampaign cancels a campaign unless it already finished
func (s *Service) CancelCampaign(ctx context.Context, id int) (*models.Campaign, error) {
	return s.command(ctx, id, models.CampaignStatusCancelled)
}

// command applies an external lifecycle command with a compare-and-set
// guard against concurrent state changes
func (s *Service) command(ctx context.Context, id int, to models.CampaignStatus) (*models.Campaign, error) {
	c, err := s.store.GetCampaignByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := ValidateTransition(c.Status, to); err != nil {
		return nil, err
	}

	ok, err := s.store.TransitionCampaignStatus(ctx, id, c.Status, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.NewConflictError("campaign status changed concurrently")
	}

	s.invalidateStats(ctx, id)
	s.log.Info("campaign status changed",
		"campaign_id", id,
		"from", c.Status,
		"to", to)
	return s.store.GetCampaignByID(ctx, id)
}

// GetCampaign fetches one campaign
func (s *Service) GetCampaign(ctx context.Context, id int) (*models.Campaign, error) {
	return s.store.GetCampaignByID(ctx, id)
}

// GetCampaignStats returns the per-status send aggregate, cached briefly to
// keep dashboard polling off the sends table
func (s *Service) GetCampaignStats(ctx context.Context, id int) (*models.CampaignStats, error) {
	key := statsCacheKey(id)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key); err == nil && cached != "" {
			var stats models.CampaignStats
			if err := json.Unmarshal([]byte(cached), &stats); err == nil {
				return &stats, nil
			}
		}
	}

	stats, err := s.store.GetCampaignStats(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if payload, err := json.Marshal(stats); err == nil {
			if err := s.cache.Set(ctx, key, string(payload), statsCacheTTL); err != nil {
				s.log.Warn("failed to cache campaign stats", "campaign_id", id, "error", err)
			}
		}
	}
	return stats, nil
}

// RunOnce triggers one runner pass with the configured options
func (s *Service) RunOnce(ctx context.Context) (models.RunReport, error) {
	return s.runner.RunOnce(ctx, s.cfg)
}

// GetRunnerStatus returns the runner snapshot
func (s *Service) GetRunnerStatus() models.RunnerStatus {
	return s.runner.Status()
}

// CreateFollowUp derives a follow-up campaign from a finished parent
func (s *Service) CreateFollowUp(ctx context.Context, parentID int, opts models.FollowUpOptions) (*models.Campaign, error) {
	if err := s.validate.Struct(opts); err != nil {
		return nil, domain.NewValidationError(err.Error())
	}
	return s.planner.CreateFollowUp(ctx, parentID, opts, s.cfg.MaxRetryAttempts)
}

func (s *Service) invalidateStats(ctx context.Context, id int) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, statsCacheKey(id)); err != nil {
		s.log.Warn("failed to invalidate stats cache", "campaign_id", id, "error", err)
	}
}

func statsCacheKey(id int) string {
	return fmt.Sprintf("campaigns:stats:%d", id)
}
