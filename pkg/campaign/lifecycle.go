package campaign

import (
	"github.com/boxpress/boxpress/pkg/domain"
	"github.com/boxpress/boxpress/pkg/models"
)

// allowedTransitions is the campaign status graph. draft -> completed covers
// the zero-recipient short-circuit; completed and cancelled are terminal.
var allowedTransitions = map[models.CampaignStatus][]models.CampaignStatus{
	models.CampaignStatusDraft: {
		models.CampaignStatusScheduled,
		models.CampaignStatusCompleted,
		models.CampaignStatusCancelled,
	},
	models.CampaignStatusScheduled: {
		models.CampaignStatusSending,
		models.CampaignStatusCancelled,
	},
	models.CampaignStatusSending: {
		models.CampaignStatusPaused,
		models.CampaignStatusCompleted,
		models.CampaignStatusCancelled,
	},
	models.CampaignStatusPaused: {
		models.CampaignStatusSending,
		models.CampaignStatusCancelled,
	},
	models.CampaignStatusCompleted: {},
	models.CampaignStatusCancelled: {},
}

// CanTransition reports whether the status graph allows from -> to
func CanTransition(from, to models.CampaignStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a typed error when from -> to is not allowed
func ValidateTransition(from, to models.CampaignStatus) error {
	if !CanTransition(from, to) {
		return domain.NewInvalidTransitionError(string(from), string(to))
	}
	return nil
}
