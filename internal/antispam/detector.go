package antispam

import (
	"time"
	"unicode/utf8"
)

// detector classifies one message against one heuristic. Detectors are
// read-only: tracking the message into the record's buffers happens
// separately in TrackMessage, so a message can be classified before being
// accepted.
type detector interface {
	Name() ViolationType
	Check(cfg Thresholds, record *SpamRecord, text string, now time.Time) *Violation
}

// orderedDetectors returns the detection pipeline in precedence order.
// The first violation wins and short-circuits the rest.
func orderedDetectors() []detector {
	return []detector{
		floodDetector{},
		linkSpamDetector{},
		rapidFireDetector{},
	}
}

func truncateForDetail(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return truncateOnRune(text, max) + "…"
}

// truncateOnRune cuts s to at most max bytes without splitting a
// multi-byte rune at the boundary.
func truncateOnRune(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
