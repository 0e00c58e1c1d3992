package models

import "time"

// CreateCampaignRequest represents a request to create a campaign
type CreateCampaignRequest struct {
	Name                string            `json:"name" validate:"required,max=200"`
	Subject             string            `json:"subject" validate:"required,max=500"`
	TemplateID          string            `json:"template_id" validate:"required"`
	TemplateVars        map[string]string `json:"template_vars,omitempty"`
	Filter              *RecipientFilter  `json:"filter,omitempty"`
	ScheduledAt         *time.Time        `json:"scheduled_at,omitempty"`
	FollowUpWindowHours int               `json:"follow_up_window_hours,omitempty" validate:"omitempty,min=1,max=720"`
}

// FollowUpOptions represents a request to derive a follow-up campaign
// from a finished parent
type FollowUpOptions struct {
	Name         string            `json:"name" validate:"required,max=200"`
	Subject      string            `json:"subject" validate:"required,max=500"`
	TemplateID   string            `json:"template_id" validate:"required"`
	TemplateVars map[string]string `json:"template_vars,omitempty"`
	WindowHours  int               `json:"window_hours,omitempty" validate:"omitempty,min=1,max=720"`
	ScheduledAt  *time.Time        `json:"scheduled_at,omitempty"`
}

// ErrorResponse is the standard error payload for the control API
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
