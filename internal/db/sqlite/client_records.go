package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/veilchat/relaybot/internal/db"
)

func (s *sqliteClient) GetSpamRecord(ctx context.Context, userID string) (*db.SpamRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var record db.SpamRecord
	err := s.db.GetContext(ctx, &record, `SELECT * FROM spam_records WHERE user_id = ?`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, errors.Wrap(err, "get spam record")
	}
	return &record, nil
}

func (s *sqliteClient) UpsertSpamRecord(ctx context.Context, record *db.SpamRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO spam_records (
			user_id, flood_violations, link_spam_violations, rapid_fire_violations,
			total_violations, auto_mute_until, auto_mute_level, whitelisted,
			whitelisted_by, whitelisted_at, last_reset, violation_history,
			recent_messages, message_timestamps, updated_at
		) VALUES (
			:user_id, :flood_violations, :link_spam_violations, :rapid_fire_violations,
			:total_violations, :auto_mute_until, :auto_mute_level, :whitelisted,
			:whitelisted_by, :whitelisted_at, :last_reset, :violation_history,
			:recent_messages, :message_timestamps, :updated_at
		)
		ON CONFLICT(user_id) DO UPDATE SET
			flood_violations = excluded.flood_violations,
			link_spam_violations = excluded.link_spam_violations,
			rapid_fire_violations = excluded.rapid_fire_violations,
			total_violations = excluded.total_violations,
			auto_mute_until = excluded.auto_mute_until,
			auto_mute_level = excluded.auto_mute_level,
			whitelisted = excluded.whitelisted,
			whitelisted_by = excluded.whitelisted_by,
			whitelisted_at = excluded.whitelisted_at,
			last_reset = excluded.last_reset,
			violation_history = excluded.violation_history,
			recent_messages = excluded.recent_messages,
			message_timestamps = excluded.message_timestamps,
			updated_at = excluded.updated_at
	`
	_, err := s.db.NamedExecContext(ctx, query, record)
	return errors.Wrap(err, "upsert spam record")
}

func (s *sqliteClient) TopSpamRecords(ctx context.Context, limit int) ([]*db.SpamRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	var records []*db.SpamRecord
	err := s.db.SelectContext(ctx, &records, `
		SELECT * FROM spam_records
		WHERE total_violations > 0
		ORDER BY total_violations DESC, updated_at DESC
		LIMIT ?
	`, limit)
	return records, errors.Wrap(err, "top spam records")
}

// ClearExpiredMutes zeroes auto_mute_until on every record whose mute has
// passed. The escalation level is deliberately left untouched.
func (s *sqliteClient) ClearExpiredMutes(ctx context.Context, now time.Time) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE spam_records SET auto_mute_until = NULL
		WHERE auto_mute_until IS NOT NULL AND auto_mute_until <= ?
	`, now)
	if err != nil {
		return 0, errors.Wrap(err, "clear expired mutes")
	}
	return res.RowsAffected()
}

func (s *sqliteClient) GetSpamStats(ctx context.Context, now time.Time) (*db.SpamStats, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var stats db.SpamStats
	err := s.db.GetContext(ctx, &stats, `
		SELECT
			COUNT(*) AS tracked_users,
			COALESCE(SUM(CASE WHEN auto_mute_until IS NOT NULL AND auto_mute_until > ? THEN 1 ELSE 0 END), 0) AS active_mutes,
			COALESCE(SUM(flood_violations), 0) AS flood_violations,
			COALESCE(SUM(link_spam_violations), 0) AS link_spam_violations,
			COALESCE(SUM(rapid_fire_violations), 0) AS rapid_fire_violations,
			COALESCE(SUM(total_violations), 0) AS total_violations
		FROM spam_records
	`, now)
	if err != nil {
		return nil, errors.Wrap(err, "get spam stats")
	}
	return &stats, nil
}
