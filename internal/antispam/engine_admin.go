package antispam

import (
	"context"

	"github.com/pkg/errors"

	"github.com/veilchat/relaybot/internal/db"
)

// ClearAutoMute lifts the user's mute timer. With resetViolations the
// counters and the escalation level are zeroed too; without it the level
// stays as memory of prior offenses, so the next violation escalates from
// where the user left off. Returns false when the user has no record.
func (e *Engine) ClearAutoMute(ctx context.Context, userID string, resetViolations bool) bool {
	entry := e.logger.WithField("method", "ClearAutoMute").WithField("user_id", userID)

	unlock := e.lockUser(userID)
	defer unlock()

	entity, err := e.store.GetSpamRecord(ctx, userID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			entry.WithError(err).Error("failed to load record")
		}
		return false
	}
	record := recordFromEntity(entity)
	record.AutoMuteUntil = nil
	if resetViolations {
		record.Flood, record.LinkSpam, record.RapidFire, record.Total = 0, 0, 0, 0
		record.AutoMuteLevel = 0
		now := e.now()
		record.LastReset = &now
	}
	if err := e.persist(ctx, record); err != nil {
		entry.WithError(err).Error("failed to persist cleared mute")
		return false
	}
	return true
}

// ResetViolations zeroes the counters and steps the escalation level down
// by one, floored at zero. A soft amnesty: one rung back, not a clean
// slate.
func (e *Engine) ResetViolations(ctx context.Context, userID string) bool {
	entry := e.logger.WithField("method", "ResetViolations").WithField("user_id", userID)

	unlock := e.lockUser(userID)
	defer unlock()

	record, err := e.loadRecord(ctx, userID)
	if err != nil {
		entry.WithError(err).Error("failed to load record")
		return false
	}
	record.Flood, record.LinkSpam, record.RapidFire, record.Total = 0, 0, 0, 0
	if record.AutoMuteLevel > 0 {
		record.AutoMuteLevel--
	}
	now := e.now()
	record.LastReset = &now
	if err := e.persist(ctx, record); err != nil {
		entry.WithError(err).Error("failed to persist reset")
		return false
	}
	return true
}

// Whitelist exempts the user from all future checks and mutes. The record
// keeps accumulating message history for debugging, but addViolation is
// unreachable for whitelisted users.
func (e *Engine) Whitelist(ctx context.Context, userID, byWhom string) bool {
	entry := e.logger.WithField("method", "Whitelist").WithField("user_id", userID)

	unlock := e.lockUser(userID)
	defer unlock()

	record, err := e.loadRecord(ctx, userID)
	if err != nil {
		entry.WithError(err).Error("failed to load record")
		return false
	}
	now := e.now()
	record.Whitelisted = true
	record.WhitelistedBy = byWhom
	record.WhitelistedAt = &now
	if err := e.persist(ctx, record); err != nil {
		entry.WithError(err).Error("failed to persist whitelist")
		return false
	}
	return true
}

// Unwhitelist removes the engine-local exemption.
func (e *Engine) Unwhitelist(ctx context.Context, userID string) bool {
	entry := e.logger.WithField("method", "Unwhitelist").WithField("user_id", userID)

	unlock := e.lockUser(userID)
	defer unlock()

	record, err := e.loadRecord(ctx, userID)
	if err != nil {
		entry.WithError(err).Error("failed to load record")
		return false
	}
	record.Whitelisted = false
	record.WhitelistedBy = ""
	record.WhitelistedAt = nil
	if err := e.persist(ctx, record); err != nil {
		entry.WithError(err).Error("failed to persist unwhitelist")
		return false
	}
	return true
}

// GetTopOffenders lists records sorted descending by total violations.
func (e *Engine) GetTopOffenders(ctx context.Context, limit int) ([]*db.SpamRecord, error) {
	return e.store.TopSpamRecords(ctx, limit)
}

// GetStats returns the aggregate view for the operator surface.
func (e *Engine) GetStats(ctx context.Context) (*db.SpamStats, error) {
	return e.store.GetSpamStats(ctx, e.now())
}

// UpdateConfig validates and applies a single runtime threshold, persists
// the blob, and hot-reloads the in-memory cache. Unknown keys and
// malformed values return false.
func (e *Engine) UpdateConfig(ctx context.Context, key, value string) bool {
	return e.thresholds.Update(ctx, key, value)
}

// Thresholds returns the active threshold snapshot.
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds.Current()
}

// sweepExpiredMutes bulk-clears passed mute timers. It only touches the
// timer column, which is safe outside the per-user locks: clearing an
// expired timestamp is monotone.
func (e *Engine) sweepExpiredMutes(ctx context.Context) (int64, error) {
	return e.store.ClearExpiredMutes(ctx, e.now())
}
