package testdata

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/boxpress/boxpress/pkg/models"
)

// RecipientGeneratorConfig configures recipient generation parameters
type RecipientGeneratorConfig struct {
	Count            int
	SubscribedChance float64 // 0.0-1.0 (probability of being subscribed)
	MinTags          int
	MaxTags          int
}

// PlanTags are the subscription plan tiers recipients can carry.
var PlanTags = []string{"plan:starter", "plan:standard", "plan:premium", "plan:gift"}

// InterestTags are the box interest categories used for targeting.
var InterestTags = []string{
	"interest:snacks", "interest:coffee", "interest:books", "interest:beauty",
	"interest:fitness", "interest:pets", "interest:crafts", "interest:kids",
}

// SegmentTags mark lifecycle segments assigned by the CRM.
var SegmentTags = []string{"segment:new", "segment:loyal", "segment:at-risk", "segment:churned", "segment:vip"}

// GenerateRecipient creates a single recipient with realistic data
func GenerateRecipient(cfg RecipientGeneratorConfig) *models.Recipient {
	name := gofakeit.Name()

	// Derive the address from the name so seeded data reads coherently
	local := strings.ToLower(strings.ReplaceAll(name, " ", "."))
	local = strings.ReplaceAll(local, "'", "")
	email := fmt.Sprintf("%s%d@%s", local, rand.Intn(1000), gofakeit.DomainName())

	subscribed := rand.Float64() < cfg.SubscribedChance
	var unsubscribedAt *time.Time
	if !subscribed {
		t := gofakeit.DateRange(time.Now().AddDate(0, -6, 0), time.Now())
		unsubscribedAt = &t
	}

	return &models.Recipient{
		Email:          strings.ToLower(email),
		Name:           name,
		Tags:           pickTags(cfg.MinTags, cfg.MaxTags),
		Subscribed:     subscribed,
		UnsubscribedAt: unsubscribedAt,
	}
}

// GenerateRecipients creates multiple recipients with the given config
func GenerateRecipients(cfg RecipientGeneratorConfig) []*models.Recipient {
	recipients := make([]*models.Recipient, cfg.Count)
	for i := 0; i < cfg.Count; i++ {
		recipients[i] = GenerateRecipient(cfg)
	}
	return recipients
}

// GenerateSubscriberBase generates a realistic subscriber population:
// 85% subscribed, everyone on a plan, most with a couple of interests.
func GenerateSubscriberBase(count int) []*models.Recipient {
	return GenerateRecipients(RecipientGeneratorConfig{
		Count:            count,
		SubscribedChance: 0.85,
		MinTags:          1,
		MaxTags:          4,
	})
}

// GenerateCampaign creates a draft campaign with plausible content
func GenerateCampaign(templateID string, vars map[string]string) *models.Campaign {
	return &models.Campaign{
		Name:                fmt.Sprintf("%s %s", gofakeit.MonthString(), gofakeit.BuzzWord()),
		Subject:             gofakeit.Sentence(6),
		TemplateID:          templateID,
		TemplateVars:        vars,
		Status:              models.CampaignStatusDraft,
		Type:                models.CampaignTypeStandard,
		Filter:              models.DefaultRecipientFilter(),
		FollowUpWindowHours: 72,
	}
}

// pickTags draws a plan tag plus a random handful of interest and segment tags
func pickTags(min, max int) []string {
	if max < min {
		max = min
	}
	n := min
	if max > min {
		n += rand.Intn(max - min + 1)
	}

	tags := []string{PlanTags[rand.Intn(len(PlanTags))]}
	pool := make([]string, 0, len(InterestTags)+len(SegmentTags))
	pool = append(pool, InterestTags...)
	pool = append(pool, SegmentTags...)
	rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	for i := 0; i < n-1 && i < len(pool); i++ {
		tags = append(tags, pool[i])
	}
	return tags
}
