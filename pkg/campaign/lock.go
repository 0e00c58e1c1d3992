package campaign

import (
	"context"
	"time"

	"github.com/boxpress/boxpress/pkg/domain"
	"github.com/boxpress/boxpress/pkg/logger"
)

// Lock is the per-campaign TTL mutual exclusion primitive. The store's
// conditional write is the actual safety boundary; this type adds the
// conservative error handling around it: if acquire cannot be confirmed,
// the campaign is skipped for this cycle rather than risking a double send.
type Lock struct {
	store domain.Store
	ttl   time.Duration
	log   logger.Logger
}

// NewLock creates a campaign lock with the given TTL
func NewLock(store domain.Store, ttl time.Duration, log logger.Logger) *Lock {
	return &Lock{store: store, ttl: ttl, log: log}
}

// TTL returns the lock's stale-takeover window
func (l *Lock) TTL() time.Duration {
	return l.ttl
}

// Acquire claims ownership of a campaign. It returns false both on
// contention and on store errors; the caller treats either as "skip".
func (l *Lock) Acquire(ctx context.Context, campaignID int, ownerID string) bool {
	acquired, err := l.store.AcquireLock(ctx, campaignID, ownerID, l.ttl)
	if err != nil {
		l.log.Error("failed to acquire campaign lock",
			"campaign_id", campaignID,
			"owner_id", ownerID,
			"error", err)
		return false
	}
	return acquired
}

// Release gives up ownership. Releasing a lock held by someone else is a
// no-op returning false.
func (l *Lock) Release(ctx context.Context, campaignID int, ownerID string) bool {
	released, err := l.store.ReleaseLock(ctx, campaignID, ownerID)
	if err != nil {
		l.log.Error("failed to release campaign lock",
			"campaign_id", campaignID,
			"owner_id", ownerID,
			"error", err)
		return false
	}
	if !released {
		l.log.Warn("campaign lock not held at release",
			"campaign_id", campaignID,
			"owner_id", ownerID)
	}
	return released
}
