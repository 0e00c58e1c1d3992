package domain

import (
	"context"
	"time"

	"github.com/boxpress/boxpress/pkg/models"
)

// Store defines the durable campaign/recipient/send records the runner
// operates on. Lock acquire and release must be atomic conditional writes;
// CreateSends must tolerate duplicate-insert races.
type Store interface {
	// Campaigns
	CreateCampaign(ctx context.Context, c *models.Campaign) error
	GetCampaignByID(ctx context.Context, id int) (*models.Campaign, error)
	GetCampaignsReadyToSend(ctx context.Context) ([]*models.Campaign, error)
	UpdateCampaign(ctx context.Context, c *models.Campaign) error
	// TransitionCampaignStatus flips status only if the campaign is still in
	// the expected state; returns false when the guard did not match.
	TransitionCampaignStatus(ctx context.Context, id int, from, to models.CampaignStatus) (bool, error)
	SyncCampaignStats(ctx context.Context, campaignID int) error
	GetCampaignStats(ctx context.Context, campaignID int) (*models.CampaignStats, error)

	// Locking
	AcquireLock(ctx context.Context, campaignID int, ownerID string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, campaignID int, ownerID string) (bool, error)

	// Recipients
	// CreateRecipients bulk-inserts recipients, skipping emails that already
	// exist; returns the number actually inserted.
	CreateRecipients(ctx context.Context, recipients []*models.Recipient) (int, error)
	GetRecipientByID(ctx context.Context, id int) (*models.Recipient, error)
	GetRecipientsByFilter(ctx context.Context, filter models.RecipientFilter) ([]*models.Recipient, error)
	CountRecipientsByFilter(ctx context.Context, filter models.RecipientFilter) (int, error)
	GetNonConvertedRecipients(ctx context.Context, campaignID int, window time.Duration) ([]*models.Recipient, error)

	// Sends
	CreateSends(ctx context.Context, campaignID int, recipients []*models.Recipient, maxAttempts int) (int, error)
	GetPendingSends(ctx context.Context, campaignID, limit int) ([]*models.Send, error)
	UpdateSend(ctx context.Context, s *models.Send) error
	CountPendingSends(ctx context.Context, campaignID int) (int, error)
}

// Mailer sends one rendered email and reports the provider outcome
type Mailer interface {
	Send(ctx context.Context, email models.OutboundEmail) (*models.SendResult, error)
}

// TemplateRenderer turns a template id plus variables into HTML
type TemplateRenderer interface {
	Render(templateID string, vars map[string]string) (string, error)
}

// CacheRepository defines caching operations
type CacheRepository interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}
