package antispam

import (
	"time"

	"github.com/veilchat/relaybot/internal/db"
)

// muteDurations maps the escalation level reached by a violation to the
// applied mute length. Levels past the table get the last entry, flat.
var muteDurations = []time.Duration{
	5 * time.Minute,  // level 1
	15 * time.Minute, // level 2
	time.Hour,        // level 3
	24 * time.Hour,   // level 4
	7 * 24 * time.Hour,
}

func muteDurationForLevel(level int) time.Duration {
	if level < 1 {
		return 0
	}
	if level > len(muteDurations) {
		level = len(muteDurations)
	}
	return muteDurations[level-1]
}

// addViolation applies the escalation policy to the record: counters up,
// level up (when auto-mute applies), mute timer set from the new level,
// history appended. Escalation is one-way; only the explicit resets lower
// the level. Callers must hold the user's lock and persist afterwards.
func addViolation(record *SpamRecord, violation *Violation, autoMuteEnabled bool, now time.Time) MuteOutcome {
	switch violation.Type {
	case ViolationFlood:
		record.Flood++
	case ViolationLinkSpam:
		record.LinkSpam++
	case ViolationRapidFire:
		record.RapidFire++
	}
	record.Total = record.Flood + record.LinkSpam + record.RapidFire

	outcome := MuteOutcome{
		Level:           record.AutoMuteLevel,
		TotalViolations: record.Total,
	}
	if autoMuteEnabled && !record.Whitelisted {
		record.AutoMuteLevel++
		duration := muteDurationForLevel(record.AutoMuteLevel)
		until := now.Add(duration)
		record.AutoMuteUntil = &until

		outcome.MuteApplied = true
		outcome.MuteDuration = duration
		outcome.MuteUntil = &until
		outcome.Level = record.AutoMuteLevel
	}

	record.history.Push(db.ViolationEntry{
		Type:         string(violation.Type),
		Timestamp:    now,
		Details:      violation.Details,
		MuteApplied:  outcome.MuteApplied,
		MuteDuration: outcome.MuteDuration,
	})
	return outcome
}
