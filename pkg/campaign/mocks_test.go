package campaign

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/boxpress/boxpress/pkg/domain"
	"github.com/boxpress/boxpress/pkg/logger"
	"github.com/boxpress/boxpress/pkg/models"
)

func testLogger() logger.Logger {
	return logger.New("error", "text")
}

// memStore is an in-memory domain.Store with the same conditional-write
// semantics as the Postgres implementation. Individual methods can be
// overridden per test through the *Func fields.
type memStore struct {
	mu sync.Mutex

	campaigns  map[int]*models.Campaign
	recipients map[int]*models.Recipient
	sends      map[int]*models.Send
	// recipient id -> conversion time
	conversions map[int]time.Time

	nextCampaignID  int
	nextRecipientID int
	nextSendID      int

	GetPendingSendsFunc func(ctx context.Context, campaignID, limit int) ([]*models.Send, error)
	AcquireLockFunc     func(ctx context.Context, campaignID int, ownerID string, ttl time.Duration) (bool, error)
	ReleaseLockFunc     func(ctx context.Context, campaignID int, ownerID string) (bool, error)
}

var _ domain.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		campaigns:   make(map[int]*models.Campaign),
		recipients:  make(map[int]*models.Recipient),
		sends:       make(map[int]*models.Send),
		conversions: make(map[int]time.Time),
	}
}

// ---- fixtures ----

func (m *memStore) addRecipient(email, name string, subscribed bool, tags ...string) *models.Recipient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRecipientID++
	r := &models.Recipient{
		ID:         m.nextRecipientID,
		Email:      strings.ToLower(email),
		Name:       name,
		Tags:       tags,
		Subscribed: subscribed,
		CreatedAt:  time.Now(),
	}
	m.recipients[r.ID] = r
	return copyRecipient(r)
}

func (m *memStore) deleteRecipient(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recipients, id)
}

func (m *memStore) markConverted(recipientID int, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversions[recipientID] = at
}

func (m *memStore) getSend(id int) *models.Send {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copySend(m.sends[id])
}

func (m *memStore) sendsFor(campaignID int) []*models.Send {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Send
	for _, s := range m.sends {
		if s.CampaignID == campaignID {
			out = append(out, copySend(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) setStatus(campaignID int, status models.CampaignStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[campaignID].Status = status
}

func (m *memStore) setLock(campaignID int, owner string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.campaigns[campaignID]
	c.LockedBy = owner
	c.LockedAt = &at
}

// ---- campaigns ----

func (m *memStore) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCampaignID++
	c.ID = m.nextCampaignID
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = models.CampaignStatusDraft
	}
	if c.Type == "" {
		c.Type = models.CampaignTypeStandard
	}
	m.campaigns[c.ID] = copyCampaign(c)
	return nil
}

func (m *memStore) GetCampaignByID(ctx context.Context, id int) (*models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, domain.NewNotFoundError("campaign")
	}
	return copyCampaign(c), nil
}

func (m *memStore) GetCampaignsReadyToSend(ctx context.Context) ([]*models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []*models.Campaign
	for _, c := range m.campaigns {
		if c.Status != models.CampaignStatusScheduled && c.Status != models.CampaignStatusSending {
			continue
		}
		if c.ScheduledAt != nil && c.ScheduledAt.After(now) {
			continue
		}
		out = append(out, copyCampaign(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpdateCampaign(ctx context.Context, c *models.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[c.ID]; !ok {
		return domain.NewNotFoundError("campaign")
	}
	c.UpdatedAt = time.Now()
	m.campaigns[c.ID] = copyCampaign(c)
	return nil
}

func (m *memStore) TransitionCampaignStatus(ctx context.Context, id int, from, to models.CampaignStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return false, domain.NewNotFoundError("campaign")
	}
	if c.Status != from {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = time.Now()
	return true, nil
}

func (m *memStore) SyncCampaignStats(ctx context.Context, campaignID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		return domain.NewNotFoundError("campaign")
	}
	var total, sent, failed, skipped int
	for _, s := range m.sends {
		if s.CampaignID != campaignID {
			continue
		}
		total++
		switch s.Status {
		case models.SendStatusSent:
			sent++
		case models.SendStatusFailed:
			failed++
		case models.SendStatusSkipped:
			skipped++
		}
	}
	c.TotalRecipients = total
	c.SentCount = sent
	c.FailedCount = failed
	c.SkippedCount = skipped
	return nil
}

func (m *memStore) GetCampaignStats(ctx context.Context, campaignID int) (*models.CampaignStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		return nil, domain.NewNotFoundError("campaign")
	}
	stats := &models.CampaignStats{CampaignID: campaignID, Status: c.Status}
	for _, s := range m.sends {
		if s.CampaignID != campaignID {
			continue
		}
		stats.Total++
		switch s.Status {
		case models.SendStatusQueued, models.SendStatusSending:
			stats.Queued++
		case models.SendStatusSent:
			stats.Sent++
		case models.SendStatusFailed:
			stats.Failed++
		case models.SendStatusSkipped:
			stats.Skipped++
		case models.SendStatusBounced:
			stats.Bounced++
		}
	}
	return stats, nil
}

// ---- locking ----

func (m *memStore) AcquireLock(ctx context.Context, campaignID int, ownerID string, ttl time.Duration) (bool, error) {
	if m.AcquireLockFunc != nil {
		return m.AcquireLockFunc(ctx, campaignID, ownerID, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		return false, domain.NewNotFoundError("campaign")
	}
	now := time.Now()
	free := c.LockedBy == "" || c.LockedBy == ownerID ||
		c.LockedAt == nil || c.LockedAt.Before(now.Add(-ttl))
	if !free {
		return false, nil
	}
	c.LockedBy = ownerID
	c.LockedAt = &now
	return true, nil
}

func (m *memStore) ReleaseLock(ctx context.Context, campaignID int, ownerID string) (bool, error) {
	if m.ReleaseLockFunc != nil {
		return m.ReleaseLockFunc(ctx, campaignID, ownerID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		return false, domain.NewNotFoundError("campaign")
	}
	if c.LockedBy != ownerID {
		return false, nil
	}
	c.LockedBy = ""
	c.LockedAt = nil
	return true, nil
}

// ---- recipients ----

func (m *memStore) CreateRecipients(ctx context.Context, recipients []*models.Recipient) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := 0
	for _, r := range recipients {
		email := strings.ToLower(r.Email)
		exists := false
		for _, existing := range m.recipients {
			if existing.Email == email {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		m.nextRecipientID++
		stored := copyRecipient(r)
		stored.ID = m.nextRecipientID
		stored.Email = email
		stored.CreatedAt = time.Now()
		m.recipients[stored.ID] = stored
		created++
	}
	return created, nil
}

func (m *memStore) GetRecipientByID(ctx context.Context, id int) (*models.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recipients[id]
	if !ok {
		return nil, nil
	}
	return copyRecipient(r), nil
}

func (m *memStore) GetRecipientsByFilter(ctx context.Context, filter models.RecipientFilter) ([]*models.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Recipient
	for _, r := range m.recipients {
		if matchesFilter(r, filter) {
			out = append(out, copyRecipient(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) CountRecipientsByFilter(ctx context.Context, filter models.RecipientFilter) (int, error) {
	recipients, err := m.GetRecipientsByFilter(ctx, filter)
	return len(recipients), err
}

func (m *memStore) GetNonConvertedRecipients(ctx context.Context, campaignID int, window time.Duration) ([]*models.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	since := time.Now().Add(-window)
	var out []*models.Recipient
	for _, s := range m.sends {
		if s.CampaignID != campaignID || s.Status != models.SendStatusSent {
			continue
		}
		if s.SentAt == nil || s.SentAt.Before(since) {
			continue
		}
		if s.RecipientID == nil {
			continue
		}
		r, ok := m.recipients[*s.RecipientID]
		if !ok {
			continue
		}
		if conv, converted := m.conversions[r.ID]; converted && !conv.Before(*s.SentAt) {
			continue
		}
		out = append(out, copyRecipient(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func matchesFilter(r *models.Recipient, filter models.RecipientFilter) bool {
	if filter.SubscribedOnly && !r.Subscribed {
		return false
	}
	has := func(tag string) bool {
		for _, t := range r.Tags {
			if t == tag {
				return true
			}
		}
		return false
	}
	for _, t := range filter.Tags {
		if !has(t) {
			return false
		}
	}
	if len(filter.TagsAny) > 0 {
		any := false
		for _, t := range filter.TagsAny {
			if has(t) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	for _, t := range filter.ExcludeTags {
		if has(t) {
			return false
		}
	}
	return true
}

// ---- sends ----

func (m *memStore) CreateSends(ctx context.Context, campaignID int, recipients []*models.Recipient, maxAttempts int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := 0
	for _, r := range recipients {
		email := strings.ToLower(r.Email)
		exists := false
		for _, s := range m.sends {
			if s.CampaignID == campaignID && s.Email == email {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		m.nextSendID++
		rid := r.ID
		m.sends[m.nextSendID] = &models.Send{
			ID:          m.nextSendID,
			CampaignID:  campaignID,
			RecipientID: &rid,
			Email:       email,
			Status:      models.SendStatusQueued,
			MaxAttempts: maxAttempts,
			CreatedAt:   time.Now(),
		}
		created++
	}
	return created, nil
}

func (m *memStore) GetPendingSends(ctx context.Context, campaignID, limit int) ([]*models.Send, error) {
	if m.GetPendingSendsFunc != nil {
		return m.GetPendingSendsFunc(ctx, campaignID, limit)
	}
	return m.pendingSends(ctx, campaignID, limit)
}

// pendingSends is the default GetPendingSends behavior, callable from
// inside a GetPendingSendsFunc override.
func (m *memStore) pendingSends(ctx context.Context, campaignID, limit int) ([]*models.Send, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []*models.Send
	for _, s := range m.sends {
		if s.CampaignID != campaignID {
			continue
		}
		eligible := s.Status == models.SendStatusQueued ||
			(s.Status == models.SendStatusFailed &&
				s.AttemptCount < s.MaxAttempts &&
				s.NextRetryAt != nil && !s.NextRetryAt.After(now))
		if eligible {
			out = append(out, copySend(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) UpdateSend(ctx context.Context, s *models.Send) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sends[s.ID]; !ok {
		return domain.NewNotFoundError("send")
	}
	m.sends[s.ID] = copySend(s)
	return nil
}

func (m *memStore) CountPendingSends(ctx context.Context, campaignID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, s := range m.sends {
		if s.CampaignID != campaignID {
			continue
		}
		if s.Status == models.SendStatusQueued ||
			(s.Status == models.SendStatusFailed && s.AttemptCount < s.MaxAttempts) {
			count++
		}
	}
	return count, nil
}

// ---- copies ----

func copyCampaign(c *models.Campaign) *models.Campaign {
	if c == nil {
		return nil
	}
	cc := *c
	return &cc
}

func copyRecipient(r *models.Recipient) *models.Recipient {
	if r == nil {
		return nil
	}
	rc := *r
	rc.Tags = append([]string(nil), r.Tags...)
	return &rc
}

func copySend(s *models.Send) *models.Send {
	if s == nil {
		return nil
	}
	sc := *s
	if s.RecipientID != nil {
		v := *s.RecipientID
		sc.RecipientID = &v
	}
	if s.NextRetryAt != nil {
		v := *s.NextRetryAt
		sc.NextRetryAt = &v
	}
	if s.SentAt != nil {
		v := *s.SentAt
		sc.SentAt = &v
	}
	return &sc
}

// MockMailer is a mock implementation of domain.Mailer for testing
type MockMailer struct {
	SendFunc func(ctx context.Context, email models.OutboundEmail) (*models.SendResult, error)

	mu   sync.Mutex
	sent []models.OutboundEmail
}

var _ domain.Mailer = (*MockMailer)(nil)

func (m *MockMailer) Send(ctx context.Context, email models.OutboundEmail) (*models.SendResult, error) {
	m.mu.Lock()
	m.sent = append(m.sent, email)
	m.mu.Unlock()
	if m.SendFunc != nil {
		return m.SendFunc(ctx, email)
	}
	return &models.SendResult{MessageID: "msg-test"}, nil
}

func (m *MockMailer) Sent() []models.OutboundEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.OutboundEmail(nil), m.sent...)
}

// MockRenderer is a mock implementation of domain.TemplateRenderer
type MockRenderer struct {
	RenderFunc func(templateID string, vars map[string]string) (string, error)
}

var _ domain.TemplateRenderer = (*MockRenderer)(nil)

func (m *MockRenderer) Render(templateID string, vars map[string]string) (string, error) {
	if m.RenderFunc != nil {
		return m.RenderFunc(templateID, vars)
	}
	return "<html>" + templateID + "</html>", nil
}

// MockCache is an in-memory domain.CacheRepository
type MockCache struct {
	mu    sync.Mutex
	items map[string]string
}

var _ domain.CacheRepository = (*MockCache)(nil)

func NewMockCache() *MockCache {
	return &MockCache{items: make(map[string]string)}
}

func (m *MockCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := value.(string); ok {
		m.items[key] = s
	}
	return nil
}

func (m *MockCache) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[key], nil
}

func (m *MockCache) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.items, k)
	}
	return nil
}

func (m *MockCache) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[key]
	return ok, nil
}

func (m *MockCache) Close() error { return nil }

// ---- shared builders ----

func noDelayConfig() models.RunnerConfig {
	return models.RunnerConfig{
		BatchSize:        10,
		MaxRetryAttempts: 3,
		LockTTL:          10 * time.Minute,
		RetryBaseDelay:   time.Minute,
	}
}

func newTestProcessor(store *memStore, mailer *MockMailer) *Processor {
	p := NewProcessor(store, mailer, &MockRenderer{}, nil, testLogger())
	p.sleep = func(ctx context.Context, d time.Duration) {}
	return p
}

func addScheduledCampaign(store *memStore, filter models.RecipientFilter) *models.Campaign {
	c := &models.Campaign{
		Name:       "Test Campaign",
		Subject:    "Hello",
		TemplateID: "promo",
		Status:     models.CampaignStatusScheduled,
		Type:       models.CampaignTypeStandard,
		Filter:     filter,
	}
	_ = store.CreateCampaign(context.Background(), c)
	return c
}
