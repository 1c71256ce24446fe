package antispam

import (
	"testing"
	"time"
)

func TestMuteEscalationLadder(t *testing.T) {
	t.Parallel()

	record := NewSpamRecord("u1")
	violation := &Violation{Type: ViolationFlood, Reason: "duplicate message flood"}
	now := time.Date(2026, 5, 14, 12, 0, 0, 0, time.UTC)

	expected := []time.Duration{
		5 * time.Minute,
		15 * time.Minute,
		time.Hour,
		24 * time.Hour,
		7 * 24 * time.Hour,
		7 * 24 * time.Hour, // past the table the ladder goes flat
	}
	for i, want := range expected {
		outcome := addViolation(record, violation, true, now)
		if !outcome.MuteApplied {
			t.Fatalf("violation %d: expected mute", i+1)
		}
		if outcome.MuteDuration != want {
			t.Fatalf("violation %d: expected %s mute, got %s", i+1, want, outcome.MuteDuration)
		}
		if outcome.Level != i+1 {
			t.Fatalf("violation %d: expected level %d, got %d", i+1, i+1, outcome.Level)
		}
		wantUntil := now.Add(want)
		if record.AutoMuteUntil == nil || !record.AutoMuteUntil.Equal(wantUntil) {
			t.Fatalf("violation %d: unexpected mute deadline %v", i+1, record.AutoMuteUntil)
		}
	}
	if record.Flood != len(expected) || record.Total != len(expected) {
		t.Fatalf("unexpected counters: flood=%d total=%d", record.Flood, record.Total)
	}
}

func TestAddViolationCountsPerType(t *testing.T) {
	t.Parallel()

	record := NewSpamRecord("u1")
	now := time.Now()

	addViolation(record, &Violation{Type: ViolationFlood}, false, now)
	addViolation(record, &Violation{Type: ViolationLinkSpam}, false, now)
	addViolation(record, &Violation{Type: ViolationLinkSpam}, false, now)
	addViolation(record, &Violation{Type: ViolationRapidFire}, false, now)

	if record.Flood != 1 || record.LinkSpam != 2 || record.RapidFire != 1 {
		t.Fatalf("unexpected counters: %+v", record)
	}
	if record.Total != 4 {
		t.Fatalf("expected total 4, got %d", record.Total)
	}
}

func TestAddViolationWithoutAutoMute(t *testing.T) {
	t.Parallel()

	record := NewSpamRecord("u1")
	outcome := addViolation(record, &Violation{Type: ViolationFlood}, false, time.Now())

	if outcome.MuteApplied {
		t.Fatalf("auto-mute disabled must not mute")
	}
	if record.AutoMuteUntil != nil || record.AutoMuteLevel != 0 {
		t.Fatalf("unexpected mute state: %+v", record)
	}
	if len(record.History()) != 1 {
		t.Fatalf("violation must still be recorded in history")
	}
}

func TestAddViolationWhitelistedNeverMutes(t *testing.T) {
	t.Parallel()

	record := NewSpamRecord("u1")
	record.Whitelisted = true
	outcome := addViolation(record, &Violation{Type: ViolationRapidFire}, true, time.Now())

	if outcome.MuteApplied || record.AutoMuteUntil != nil {
		t.Fatalf("whitelisted user must not be muted: %+v", outcome)
	}
}

func TestViolationHistoryBounded(t *testing.T) {
	t.Parallel()

	record := NewSpamRecord("u1")
	now := time.Now()
	for i := 0; i < historyCapacity+5; i++ {
		addViolation(record, &Violation{Type: ViolationFlood}, false, now)
	}
	if got := len(record.History()); got != historyCapacity {
		t.Fatalf("expected history capped at %d, got %d", historyCapacity, got)
	}
}

func TestMuteDurationForLevel(t *testing.T) {
	t.Parallel()

	if got := muteDurationForLevel(0); got != 0 {
		t.Fatalf("level 0 has no mute, got %s", got)
	}
	if got := muteDurationForLevel(3); got != time.Hour {
		t.Fatalf("expected 1h for level 3, got %s", got)
	}
	if got := muteDurationForLevel(42); got != 7*24*time.Hour {
		t.Fatalf("expected ladder cap for level 42, got %s", got)
	}
}
