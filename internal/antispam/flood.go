package antispam

import (
	"fmt"
	"time"

	"github.com/veilchat/relaybot/internal/textutil"
)

// floodDetector flags duplicate and near-duplicate repetition within a
// sliding window. Exact and near matches are counted separately but share
// the same threshold knob; that asymmetry is inherited behavior, kept
// deliberately.
type floodDetector struct{}

func (floodDetector) Name() ViolationType { return ViolationFlood }

func (floodDetector) Check(cfg Thresholds, record *SpamRecord, text string, now time.Time) *Violation {
	if !cfg.FloodEnabled || text == "" {
		return nil
	}

	cutoff := now.Add(-cfg.FloodWindow())
	identicalCount := 0
	similarCount := 0
	for _, msg := range record.RecentMessages() {
		if msg.Timestamp.Before(cutoff) {
			continue
		}
		similarity := textutil.Similarity(text, msg.Content)
		switch {
		case similarity == 1.0:
			identicalCount++
		case similarity >= cfg.FloodSimilarityThreshold:
			similarCount++
		}
	}

	if identicalCount >= cfg.FloodMaxIdentical {
		return &Violation{
			Type:    ViolationFlood,
			Reason:  "duplicate message flood",
			Details: fmt.Sprintf("%d identical messages in %s: %q", identicalCount, cfg.FloodWindow(), truncateForDetail(text, 50)),
		}
	}
	if similarCount >= cfg.FloodMaxIdentical {
		return &Violation{
			Type:    ViolationFlood,
			Reason:  "near-duplicate message flood",
			Details: fmt.Sprintf("%d similar messages in %s: %q", similarCount, cfg.FloodWindow(), truncateForDetail(text, 50)),
		}
	}
	return nil
}
