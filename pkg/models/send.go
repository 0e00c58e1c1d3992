package models

import "time"

// SendStatus is the delivery state of a single recipient send
type SendStatus string

const (
	SendStatusQueued  SendStatus = "queued"
	SendStatusSending SendStatus = "sending"
	SendStatusSent    SendStatus = "sent"
	SendStatusFailed  SendStatus = "failed"
	SendStatusSkipped SendStatus = "skipped"
	SendStatusBounced SendStatus = "bounced"
)

// Send is the per-recipient unit of work for a campaign. Exactly one row
// exists per (campaign, recipient) pair.
type Send struct {
	ID          int        `json:"id"`
	CampaignID  int        `json:"campaign_id"`
	RecipientID *int       `json:"recipient_id,omitempty"`
	Email       string     `json:"email"`
	Status      SendStatus `json:"status"`
	MessageID   string     `json:"message_id,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	AttemptCount int       `json:"attempt_count"`
	MaxAttempts  int       `json:"max_attempts"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// AttemptsExhausted reports whether the send has reached its retry budget
func (s *Send) AttemptsExhausted() bool {
	return s.AttemptCount >= s.MaxAttempts
}

// OutboundEmail is a rendered email handed to the mailer
type OutboundEmail struct {
	To        string
	ToName    string
	Subject   string
	HTML      string
	PlainText string
	Tags      []string
}

// SendResult holds the provider response for a dispatched email
type SendResult struct {
	MessageID string
}
