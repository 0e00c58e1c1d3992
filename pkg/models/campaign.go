package models

import "time"

// CampaignStatus is the lifecycle state of a campaign
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusSending   CampaignStatus = "sending"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCancelled CampaignStatus = "cancelled"
	CampaignStatusCompleted CampaignStatus = "completed"
)

// IsTerminal reports whether no further transitions are allowed
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusCancelled
}

// CampaignType distinguishes regular campaigns from derived follow-ups
type CampaignType string

const (
	CampaignTypeStandard CampaignType = "standard"
	CampaignTypeFollowUp CampaignType = "follow_up"
)

// Campaign represents a bulk email campaign
type Campaign struct {
	ID           int               `json:"id"`
	Name         string            `json:"name"`
	Subject      string            `json:"subject"`
	TemplateID   string            `json:"template_id"`
	TemplateVars map[string]string `json:"template_vars,omitempty"`
	Status       CampaignStatus    `json:"status"`
	Type         CampaignType      `json:"type"`
	Filter       RecipientFilter   `json:"filter"`
	ScheduledAt  *time.Time        `json:"scheduled_at,omitempty"`

	// Counters are resynced from the sends aggregate; they are reporting
	// values, never the source of truth.
	TotalRecipients int `json:"total_recipients"`
	SentCount       int `json:"sent_count"`
	FailedCount     int `json:"failed_count"`
	SkippedCount    int `json:"skipped_count"`

	LockedBy string     `json:"locked_by,omitempty"`
	LockedAt *time.Time `json:"locked_at,omitempty"`

	ParentCampaignID    *int `json:"parent_campaign_id,omitempty"`
	FollowUpWindowHours int  `json:"follow_up_window_hours,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LockIsStale reports whether the campaign's lock is older than ttl
func (c *Campaign) LockIsStale(ttl time.Duration, now time.Time) bool {
	if c.LockedBy == "" || c.LockedAt == nil {
		return true
	}
	return now.Sub(*c.LockedAt) > ttl
}

// CampaignStats is the per-status send aggregate for a campaign
type CampaignStats struct {
	CampaignID int            `json:"campaign_id"`
	Status     CampaignStatus `json:"status"`
	Total      int            `json:"total"`
	Queued     int            `json:"queued"`
	Sent       int            `json:"sent"`
	Failed     int            `json:"failed"`
	Skipped    int            `json:"skipped"`
	Bounced    int            `json:"bounced"`
}
