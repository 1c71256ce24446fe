package antispam

import (
	"time"

	"github.com/veilchat/relaybot/internal/db"
	"github.com/veilchat/relaybot/internal/textutil"
)

// Bounded-buffer capacities. History is an audit trail; the other two feed
// the detectors and are additionally trimmed by age on every track.
const (
	historyCapacity        = 20
	recentMessageCapacity  = 10
	timestampCapacity      = 60
	recentMessageRetention = 5 * time.Minute
	timestampRetention     = time.Minute
	trackedContentMaxLen   = 200
)

// SpamRecord is the in-memory form of the per-user aggregate. All counter
// and buffer mutations go through the engine, which serializes them
// per user.
type SpamRecord struct {
	UserID        string
	Flood         int
	LinkSpam      int
	RapidFire     int
	Total         int
	AutoMuteUntil *time.Time
	AutoMuteLevel int
	Whitelisted   bool
	WhitelistedBy string
	WhitelistedAt *time.Time
	LastReset     *time.Time

	history *ring[db.ViolationEntry]
	recent  *ring[db.TrackedMessage]
	stamps  *ring[time.Time]
}

func NewSpamRecord(userID string) *SpamRecord {
	return &SpamRecord{
		UserID:  userID,
		history: newRing[db.ViolationEntry](historyCapacity),
		recent:  newRing[db.TrackedMessage](recentMessageCapacity),
		stamps:  newRing[time.Time](timestampCapacity),
	}
}

func recordFromEntity(e *db.SpamRecord) *SpamRecord {
	r := NewSpamRecord(e.UserID)
	r.Flood = e.FloodViolations
	r.LinkSpam = e.LinkSpamViolations
	r.RapidFire = e.RapidFireViolations
	r.Total = e.TotalViolations
	r.AutoMuteUntil = e.AutoMuteUntil
	r.AutoMuteLevel = e.AutoMuteLevel
	r.Whitelisted = e.Whitelisted
	r.WhitelistedBy = e.WhitelistedBy
	r.WhitelistedAt = e.WhitelistedAt
	r.LastReset = e.LastReset
	for _, entry := range e.ViolationHistory {
		r.history.Push(entry)
	}
	for _, msg := range e.RecentMessages {
		r.recent.Push(msg)
	}
	for _, ts := range e.MessageTimestamps {
		r.stamps.Push(ts)
	}
	return r
}

func (r *SpamRecord) entity(now time.Time) *db.SpamRecord {
	return &db.SpamRecord{
		UserID:              r.UserID,
		FloodViolations:     r.Flood,
		LinkSpamViolations:  r.LinkSpam,
		RapidFireViolations: r.RapidFire,
		TotalViolations:     r.Total,
		AutoMuteUntil:       r.AutoMuteUntil,
		AutoMuteLevel:       r.AutoMuteLevel,
		Whitelisted:         r.Whitelisted,
		WhitelistedBy:       r.WhitelistedBy,
		WhitelistedAt:       r.WhitelistedAt,
		LastReset:           r.LastReset,
		ViolationHistory:    db.ViolationLog(r.history.Snapshot()),
		RecentMessages:      db.TrackedLog(r.recent.Snapshot()),
		MessageTimestamps:   db.TimestampLog(r.stamps.Snapshot()),
		UpdatedAt:           now,
	}
}

// Track appends the message to the rolling buffers and trims stale
// entries. Whitelisted users are tracked too; their buffers serve as
// debugging history only.
func (r *SpamRecord) Track(content string, now time.Time) {
	content = truncateOnRune(content, trackedContentMaxLen)
	r.recent.Push(db.TrackedMessage{
		Content:   content,
		Timestamp: now,
		HasLinks:  len(textutil.ExtractURLs(content)) > 0,
	})
	r.stamps.Push(now)
	r.trim(now)
}

func (r *SpamRecord) trim(now time.Time) {
	messageCutoff := now.Add(-recentMessageRetention)
	r.recent.Trim(func(m db.TrackedMessage) bool { return !m.Timestamp.Before(messageCutoff) })
	stampCutoff := now.Add(-timestampRetention)
	r.stamps.Trim(func(ts time.Time) bool { return !ts.Before(stampCutoff) })
}

// RecentMessages returns the retained messages oldest-first.
func (r *SpamRecord) RecentMessages() []db.TrackedMessage { return r.recent.Snapshot() }

// MessageTimestamps returns the retained timestamps oldest-first.
func (r *SpamRecord) MessageTimestamps() []time.Time { return r.stamps.Snapshot() }

// History returns the violation audit trail oldest-first.
func (r *SpamRecord) History() []db.ViolationEntry { return r.history.Snapshot() }

// IsMuted reports whether an auto-mute is active as of now.
func (r *SpamRecord) IsMuted(now time.Time) bool {
	return r.AutoMuteUntil != nil && now.Before(*r.AutoMuteUntil)
}

// MuteRemaining returns the time left on an active auto-mute, zero when
// none is active.
func (r *SpamRecord) MuteRemaining(now time.Time) time.Duration {
	if !r.IsMuted(now) {
		return 0
	}
	return r.AutoMuteUntil.Sub(now)
}
