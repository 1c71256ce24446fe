package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type (
	// SpamRecord is the durable per-user anti-spam aggregate, one row per
	// user. The rolling buffers are stored as JSON columns.
	SpamRecord struct {
		UserID              string       `db:"user_id"`
		FloodViolations     int          `db:"flood_violations"`
		LinkSpamViolations  int          `db:"link_spam_violations"`
		RapidFireViolations int          `db:"rapid_fire_violations"`
		TotalViolations     int          `db:"total_violations"`
		AutoMuteUntil       *time.Time   `db:"auto_mute_until"`
		AutoMuteLevel       int          `db:"auto_mute_level"`
		Whitelisted         bool         `db:"whitelisted"`
		WhitelistedBy       string       `db:"whitelisted_by"`
		WhitelistedAt       *time.Time   `db:"whitelisted_at"`
		LastReset           *time.Time   `db:"last_reset"`
		ViolationHistory    ViolationLog `db:"violation_history"`
		RecentMessages      TrackedLog   `db:"recent_messages"`
		MessageTimestamps   TimestampLog `db:"message_timestamps"`
		UpdatedAt           time.Time    `db:"updated_at"`
	}

	// ViolationEntry is one audit-trail entry in a record's violation
	// history. It is never consulted by the detectors.
	ViolationEntry struct {
		Type         string        `json:"type"`
		Timestamp    time.Time     `json:"timestamp"`
		Details      string        `json:"details"`
		MuteApplied  bool          `json:"muteApplied"`
		MuteDuration time.Duration `json:"muteDuration"`
	}

	// TrackedMessage is one entry in a record's recent-message buffer,
	// consumed by the flood and link-spam detectors.
	TrackedMessage struct {
		Content   string    `json:"content"`
		Timestamp time.Time `json:"timestamp"`
		HasLinks  bool      `json:"hasLinks"`
	}

	ViolationLog []ViolationEntry
	TrackedLog   []TrackedMessage
	TimestampLog []time.Time

	// SpamStats is the aggregate view exposed to the operator surface.
	SpamStats struct {
		TrackedUsers        int `db:"tracked_users"`
		ActiveMutes         int `db:"active_mutes"`
		FloodViolations     int `db:"flood_violations"`
		LinkSpamViolations  int `db:"link_spam_violations"`
		RapidFireViolations int `db:"rapid_fire_violations"`
		TotalViolations     int `db:"total_violations"`
	}

	// UserRole is the external role attached to a user, consulted only for
	// exemption purposes.
	UserRole struct {
		UserID    string    `db:"user_id"`
		Role      string    `db:"role"`
		GrantedBy string    `db:"granted_by"`
		GrantedAt time.Time `db:"granted_at"`
	}
)

func jsonValue(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func jsonScan(dst any, src any) error {
	if src == nil {
		return nil
	}
	switch data := src.(type) {
	case string:
		return json.Unmarshal([]byte(data), dst)
	case []byte:
		return json.Unmarshal(data, dst)
	default:
		return fmt.Errorf("cannot scan type %T into %T", src, dst)
	}
}

func (l ViolationLog) Value() (driver.Value, error) { return jsonValue([]ViolationEntry(l)) }
func (l *ViolationLog) Scan(src any) error          { return jsonScan(l, src) }
func (l TrackedLog) Value() (driver.Value, error)   { return jsonValue([]TrackedMessage(l)) }
func (l *TrackedLog) Scan(src any) error            { return jsonScan(l, src) }
func (l TimestampLog) Value() (driver.Value, error) { return jsonValue([]time.Time(l)) }
func (l *TimestampLog) Scan(src any) error          { return jsonScan(l, src) }
