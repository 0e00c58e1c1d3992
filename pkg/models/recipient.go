package models

import "time"

// Recipient represents a marketing email recipient
type Recipient struct {
	ID             int        `json:"id"`
	Email          string     `json:"email"`
	Name           string     `json:"name,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	Subscribed     bool       `json:"subscribed"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// RecipientFilter selects the recipient population for a campaign.
// Tags must ALL be present, TagsAny requires at least one, ExcludeTags
// requires none.
type RecipientFilter struct {
	Tags           []string `json:"tags,omitempty"`
	TagsAny        []string `json:"tags_any,omitempty"`
	ExcludeTags    []string `json:"exclude_tags,omitempty"`
	SubscribedOnly bool     `json:"subscribed_only"`
}

// DefaultRecipientFilter returns a filter matching all subscribed recipients
func DefaultRecipientFilter() RecipientFilter {
	return RecipientFilter{SubscribedOnly: true}
}
