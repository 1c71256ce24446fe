package antispam

import (
	"fmt"
	"time"
)

// rapidFireDetector flags burst sending: too many tracked messages inside
// the sliding window, regardless of content.
type rapidFireDetector struct{}

func (rapidFireDetector) Name() ViolationType { return ViolationRapidFire }

func (rapidFireDetector) Check(cfg Thresholds, record *SpamRecord, _ string, now time.Time) *Violation {
	if !cfg.RapidFireEnabled {
		return nil
	}

	cutoff := now.Add(-cfg.RapidFireWindow())
	count := 0
	for _, ts := range record.MessageTimestamps() {
		if !ts.Before(cutoff) {
			count++
		}
	}
	if count >= cfg.RapidFireMaxMessages {
		return &Violation{
			Type:    ViolationRapidFire,
			Reason:  "message burst",
			Details: fmt.Sprintf("%d messages in %s (max %d)", count, cfg.RapidFireWindow(), cfg.RapidFireMaxMessages),
		}
	}
	return nil
}
