package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/boxpress/boxpress/pkg/domain"
	"github.com/boxpress/boxpress/pkg/models"
)

// Postgres implements domain.Store on top of a PostgreSQL database.
// Lock acquire/release and status transitions are single conditional
// UPDATEs so that concurrent runners never both win.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Postgres store
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const campaignColumns = `id, name, subject, template_id, template_vars, status, campaign_type,
	filter, scheduled_at, total_recipients, sent_count, failed_count, skipped_count,
	locked_by, locked_at, parent_campaign_id, follow_up_window_hours, created_at, updated_at`

// ====================== Campaigns ======================

// CreateCampaign inserts a campaign and fills in its generated fields
func (p *Postgres) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	if c.Status == "" {
		c.Status = models.CampaignStatusDraft
	}
	if c.Type == "" {
		c.Type = models.CampaignTypeStandard
	}

	vars, err := json.Marshal(c.TemplateVars)
	if err != nil {
		return fmt.Errorf("failed to marshal template vars: %w", err)
	}
	filter, err := json.Marshal(c.Filter)
	if err != nil {
		return fmt.Errorf("failed to marshal recipient filter: %w", err)
	}

	query := `
		INSERT INTO campaigns (name, subject, template_id, template_vars, status, campaign_type,
			filter, scheduled_at, parent_campaign_id, follow_up_window_hours)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`
	err = p.db.QueryRowContext(ctx, query,
		c.Name, c.Subject, c.TemplateID, vars, c.Status, c.Type,
		filter, c.ScheduledAt, c.ParentCampaignID, c.FollowUpWindowHours,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetCampaignByID fetches a campaign by id
func (p *Postgres) GetCampaignByID(ctx context.Context, id int) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	c, err := scanCampaign(p.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NewNotFoundError("campaign")
		}
		return nil, fmt.Errorf("failed to fetch campaign: %w", err)
	}
	return c, nil
}

// GetCampaignsReadyToSend returns campaigns the runner should pick up:
// scheduled campaigns whose time has passed, plus sending campaigns left
// behind by a paused/crashed run (re-entry is idempotent, the lock decides
// who actually processes them).
func (p *Postgres) GetCampaignsReadyToSend(ctx context.Context) ([]*models.Campaign, error) {
	query := `
		SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE status IN ('scheduled', 'sending')
		  AND (scheduled_at IS NULL OR scheduled_at <= NOW())
		ORDER BY scheduled_at ASC NULLS LAST, id ASC
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query ready campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// UpdateCampaign updates the mutable attributes of a campaign
func (p *Postgres) UpdateCampaign(ctx context.Context, c *models.Campaign) error {
	vars, err := json.Marshal(c.TemplateVars)
	if err != nil {
		return fmt.Errorf("failed to marshal template vars: %w", err)
	}
	filter, err := json.Marshal(c.Filter)
	if err != nil {
		return fmt.Errorf("failed to marshal recipient filter: %w", err)
	}

	query := `
		UPDATE campaigns
		SET name=$1, subject=$2, template_id=$3, template_vars=$4, filter=$5,
			scheduled_at=$6, follow_up_window_hours=$7, updated_at=NOW()
		WHERE id=$8
	`
	res, err := p.db.ExecContext(ctx, query,
		c.Name, c.Subject, c.TemplateID, vars, filter,
		c.ScheduledAt, c.FollowUpWindowHours, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFoundError("campaign")
	}
	return nil
}

// TransitionCampaignStatus flips status with a compare-and-set guard
func (p *Postgres) TransitionCampaignStatus(ctx context.Context, id int, from, to models.CampaignStatus) (bool, error) {
	query := `UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2 AND status=$3`
	res, err := p.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition campaign status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SyncCampaignStats recomputes campaign counters from the sends aggregate
func (p *Postgres) SyncCampaignStats(ctx context.Context, campaignID int) error {
	query := `
		UPDATE campaigns c SET
			total_recipients = s.total,
			sent_count = s.sent,
			failed_count = s.failed,
			skipped_count = s.skipped,
			updated_at = NOW()
		FROM (
			SELECT
				COUNT(*) AS total,
				COUNT(*) FILTER (WHERE status = 'sent') AS sent,
				COUNT(*) FILTER (WHERE status IN ('failed', 'bounced')) AS failed,
				COUNT(*) FILTER (WHERE status = 'skipped') AS skipped
			FROM sends WHERE campaign_id = $1
		) s
		WHERE c.id = $1
	`
	if _, err := p.db.ExecContext(ctx, query, campaignID); err != nil {
		return fmt.Errorf("failed to sync campaign stats: %w", err)
	}
	return nil
}

// GetCampaignStats returns the per-status send aggregate for a campaign
func (p *Postgres) GetCampaignStats(ctx context.Context, campaignID int) (*models.CampaignStats, error) {
	var status models.CampaignStatus
	err := p.db.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id=$1`, campaignID).Scan(&status)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NewNotFoundError("campaign")
		}
		return nil, fmt.Errorf("failed to fetch campaign: %w", err)
	}

	stats := &models.CampaignStats{CampaignID: campaignID, Status: status}
	rows, err := p.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM sends WHERE campaign_id=$1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to query campaign stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s models.SendStatus
		var count int
		if err := rows.Scan(&s, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		switch s {
		case models.SendStatusQueued, models.SendStatusSending:
			stats.Queued += count
		case models.SendStatusSent:
			stats.Sent += count
		case models.SendStatusFailed:
			stats.Failed += count
		case models.SendStatusSkipped:
			stats.Skipped += count
		case models.SendStatusBounced:
			stats.Bounced += count
		}
	}
	return stats, rows.Err()
}

// ====================== Locking ======================

// AcquireLock claims campaign ownership with a single conditional UPDATE.
// It succeeds when the lock is free, stale, or already held by ownerID.
func (p *Postgres) AcquireLock(ctx context.Context, campaignID int, ownerID string, ttl time.Duration) (bool, error) {
	cutoff := time.Now().Add(-ttl)
	query := `
		UPDATE campaigns
		SET locked_by=$2, locked_at=NOW(), updated_at=NOW()
		WHERE id=$1
		  AND (locked_by = '' OR locked_by = $2 OR locked_at IS NULL OR locked_at < $3)
	`
	res, err := p.db.ExecContext(ctx, query, campaignID, ownerID, cutoff)
	if err != nil {
		return false, fmt.Errorf("failed to acquire campaign lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReleaseLock clears the lock only when held by ownerID
func (p *Postgres) ReleaseLock(ctx context.Context, campaignID int, ownerID string) (bool, error) {
	query := `
		UPDATE campaigns
		SET locked_by='', locked_at=NULL, updated_at=NOW()
		WHERE id=$1 AND locked_by=$2
	`
	res, err := p.db.ExecContext(ctx, query, campaignID, ownerID)
	if err != nil {
		return false, fmt.Errorf("failed to release campaign lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ====================== Recipients ======================

const recipientColumns = `id, email, name, tags, subscribed, unsubscribed_at, created_at`

// CreateRecipients bulk-inserts recipients. Emails already present (case
// insensitive) are skipped; returns the number actually inserted.
func (p *Postgres) CreateRecipients(ctx context.Context, recipients []*models.Recipient) (int, error) {
	if len(recipients) == 0 {
		return 0, nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO recipients (email, name, tags, subscribed, unsubscribed_at)
		VALUES (LOWER($1), $2, $3, $4, $5)
		ON CONFLICT (LOWER(email)) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare recipient insert: %w", err)
	}
	defer stmt.Close()

	created := 0
	for _, r := range recipients {
		tags, err := json.Marshal(r.Tags)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal tags for %s: %w", r.Email, err)
		}
		res, err := stmt.ExecContext(ctx, r.Email, r.Name, tags, r.Subscribed, r.UnsubscribedAt)
		if err != nil {
			return 0, fmt.Errorf("failed to insert recipient %s: %w", r.Email, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit recipients: %w", err)
	}
	return created, nil
}

// GetRecipientByID fetches a recipient by id. Returns nil, nil when the
// recipient no longer exists (deleted after queuing).
func (p *Postgres) GetRecipientByID(ctx context.Context, id int) (*models.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE id = $1`
	r, err := scanRecipient(p.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch recipient: %w", err)
	}
	return r, nil
}

// GetRecipientsByFilter returns recipients matching a campaign filter
func (p *Postgres) GetRecipientsByFilter(ctx context.Context, filter models.RecipientFilter) ([]*models.Recipient, error) {
	where, args, err := buildFilterClause(filter)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + recipientColumns + ` FROM recipients` + where + ` ORDER BY id ASC`
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recipients: %w", err)
	}
	defer rows.Close()

	var recipients []*models.Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}

// CountRecipientsByFilter counts recipients matching a campaign filter
func (p *Postgres) CountRecipientsByFilter(ctx context.Context, filter models.RecipientFilter) (int, error) {
	where, args, err := buildFilterClause(filter)
	if err != nil {
		return 0, err
	}

	var count int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipients`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count recipients: %w", err)
	}
	return count, nil
}

// GetNonConvertedRecipients returns recipients who got a sent email from the
// campaign within the window but produced no conversion event afterwards
func (p *Postgres) GetNonConvertedRecipients(ctx context.Context, campaignID int, window time.Duration) ([]*models.Recipient, error) {
	since := time.Now().Add(-window)
	query := `
		SELECT r.id, r.email, r.name, r.tags, r.subscribed, r.unsubscribed_at, r.created_at
		FROM recipients r
		JOIN sends s ON s.recipient_id = r.id
		WHERE s.campaign_id = $1
		  AND s.status = 'sent'
		  AND s.sent_at >= $2
		  AND NOT EXISTS (
			SELECT 1 FROM conversions cv
			WHERE cv.recipient_id = r.id AND cv.occurred_at >= s.sent_at
		  )
		ORDER BY r.id ASC
	`
	rows, err := p.db.QueryContext(ctx, query, campaignID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query non-converted recipients: %w", err)
	}
	defer rows.Close()

	var recipients []*models.Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}

// ====================== Sends ======================

const sendColumns = `id, campaign_id, recipient_id, email, status, message_id, last_error,
	attempt_count, max_attempts, next_retry_at, sent_at, created_at`

// CreateSends bulk-inserts queued send rows, one per recipient. Rows that
// already exist for the campaign are left untouched, so materialization is
// idempotent and duplicate-insert races are harmless.
func (p *Postgres) CreateSends(ctx context.Context, campaignID int, recipients []*models.Recipient, maxAttempts int) (int, error) {
	if len(recipients) == 0 {
		return 0, nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sends (campaign_id, recipient_id, email, status, max_attempts)
		VALUES ($1, $2, LOWER($3), 'queued', $4)
		ON CONFLICT (campaign_id, email) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare send insert: %w", err)
	}
	defer stmt.Close()

	created := 0
	for _, r := range recipients {
		res, err := stmt.ExecContext(ctx, campaignID, r.ID, r.Email, maxAttempts)
		if err != nil {
			return 0, fmt.Errorf("failed to insert send for %s: %w", r.Email, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sends: %w", err)
	}
	return created, nil
}

// GetPendingSends returns up to limit sends eligible for dispatch: queued
// rows plus failed rows whose retry window has elapsed, oldest first
func (p *Postgres) GetPendingSends(ctx context.Context, campaignID, limit int) ([]*models.Send, error) {
	query := `
		SELECT ` + sendColumns + `
		FROM sends
		WHERE campaign_id = $1
		  AND (
			status = 'queued'
			OR (status = 'failed' AND next_retry_at IS NOT NULL AND next_retry_at <= NOW() AND attempt_count < max_attempts)
		  )
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`
	rows, err := p.db.QueryContext(ctx, query, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending sends: %w", err)
	}
	defer rows.Close()

	var sends []*models.Send
	for rows.Next() {
		s, err := scanSend(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan send: %w", err)
		}
		sends = append(sends, s)
	}
	return sends, rows.Err()
}

// UpdateSend persists the outcome fields of a send
func (p *Postgres) UpdateSend(ctx context.Context, s *models.Send) error {
	query := `
		UPDATE sends
		SET status=$1, message_id=$2, last_error=$3, attempt_count=$4,
			next_retry_at=$5, sent_at=$6
		WHERE id=$7
	`
	res, err := p.db.ExecContext(ctx, query,
		s.Status, s.MessageID, s.LastError, s.AttemptCount,
		s.NextRetryAt, s.SentAt, s.ID)
	if err != nil {
		return fmt.Errorf("failed to update send: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFoundError("send")
	}
	return nil
}

// CountPendingSends counts the sends still eligible for dispatch
func (p *Postgres) CountPendingSends(ctx context.Context, campaignID int) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM sends
		WHERE campaign_id = $1
		  AND (
			status = 'queued'
			OR (status = 'failed' AND next_retry_at IS NOT NULL AND attempt_count < max_attempts)
		  )
	`
	var count int
	if err := p.db.QueryRowContext(ctx, query, campaignID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending sends: %w", err)
	}
	return count, nil
}

// ====================== Scanning helpers ======================

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	var c models.Campaign
	var vars, filter []byte
	var scheduledAt, lockedAt sql.NullTime
	var parentID sql.NullInt64

	err := row.Scan(
		&c.ID, &c.Name, &c.Subject, &c.TemplateID, &vars, &c.Status, &c.Type,
		&filter, &scheduledAt, &c.TotalRecipients, &c.SentCount, &c.FailedCount, &c.SkippedCount,
		&c.LockedBy, &lockedAt, &parentID, &c.FollowUpWindowHours, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &c.TemplateVars); err != nil {
			return nil, fmt.Errorf("failed to unmarshal template vars: %w", err)
		}
	}
	if len(filter) > 0 {
		if err := json.Unmarshal(filter, &c.Filter); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recipient filter: %w", err)
		}
	}
	if scheduledAt.Valid {
		c.ScheduledAt = &scheduledAt.Time
	}
	if lockedAt.Valid {
		c.LockedAt = &lockedAt.Time
	}
	if parentID.Valid {
		id := int(parentID.Int64)
		c.ParentCampaignID = &id
	}
	return &c, nil
}

func scanRecipient(row rowScanner) (*models.Recipient, error) {
	var r models.Recipient
	var tags []byte
	var name sql.NullString
	var unsubscribedAt sql.NullTime

	err := row.Scan(&r.ID, &r.Email, &name, &tags, &r.Subscribed, &unsubscribedAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}

	r.Name = name.String
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &r.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recipient tags: %w", err)
		}
	}
	if unsubscribedAt.Valid {
		r.UnsubscribedAt = &unsubscribedAt.Time
	}
	return &r, nil
}

func scanSend(row rowScanner) (*models.Send, error) {
	var s models.Send
	var recipientID sql.NullInt64
	var nextRetryAt, sentAt sql.NullTime

	err := row.Scan(
		&s.ID, &s.CampaignID, &recipientID, &s.Email, &s.Status, &s.MessageID, &s.LastError,
		&s.AttemptCount, &s.MaxAttempts, &nextRetryAt, &sentAt, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if recipientID.Valid {
		id := int(recipientID.Int64)
		s.RecipientID = &id
	}
	if nextRetryAt.Valid {
		s.NextRetryAt = &nextRetryAt.Time
	}
	if sentAt.Valid {
		s.SentAt = &sentAt.Time
	}
	return &s, nil
}

// buildFilterClause translates a RecipientFilter into a WHERE clause.
// Tags live in a jsonb array column; @> covers the must-have-all case and
// ?| the any/none cases.
func buildFilterClause(filter models.RecipientFilter) (string, []interface{}, error) {
	conds := []string{}
	args := []interface{}{}
	argPos := 1

	if filter.SubscribedOnly {
		conds = append(conds, "subscribed = TRUE")
	}
	if len(filter.Tags) > 0 {
		all, err := json.Marshal(filter.Tags)
		if err != nil {
			return "", nil, fmt.Errorf("failed to marshal filter tags: %w", err)
		}
		conds = append(conds, fmt.Sprintf("tags @> $%d::jsonb", argPos))
		args = append(args, string(all))
		argPos++
	}
	if len(filter.TagsAny) > 0 {
		conds = append(conds, fmt.Sprintf("tags ?| $%d", argPos))
		args = append(args, pq.Array(filter.TagsAny))
		argPos++
	}
	if len(filter.ExcludeTags) > 0 {
		conds = append(conds, fmt.Sprintf("NOT (tags ?| $%d)", argPos))
		args = append(args, pq.Array(filter.ExcludeTags))
		argPos++
	}

	if len(conds) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

var _ domain.Store = (*Postgres)(nil)
