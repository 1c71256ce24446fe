package antispam

import (
	"fmt"
	"time"

	"github.com/veilchat/relaybot/internal/textutil"
)

// linkSpamDetector flags messages by link volume and link reputation. The
// per-message cap and the suspicious-URL check are message-local; the
// window check additionally counts links from the user's recent history.
type linkSpamDetector struct{}

func (linkSpamDetector) Name() ViolationType { return ViolationLinkSpam }

func (linkSpamDetector) Check(cfg Thresholds, record *SpamRecord, text string, now time.Time) *Violation {
	if !cfg.LinkSpamEnabled || text == "" {
		return nil
	}

	urls := textutil.ExtractURLs(text)
	if len(urls) > cfg.LinkSpamMaxLinks {
		return &Violation{
			Type:    ViolationLinkSpam,
			Reason:  "too many links in one message",
			Details: fmt.Sprintf("%d links (max %d)", len(urls), cfg.LinkSpamMaxLinks),
		}
	}
	for _, url := range urls {
		if textutil.IsSuspiciousURL(url) {
			return &Violation{
				Type:    ViolationLinkSpam,
				Reason:  "suspicious link",
				Details: fmt.Sprintf("suspicious URL: %s", truncateForDetail(url, 80)),
			}
		}
	}
	if len(urls) == 0 {
		return nil
	}

	// Historical link counts are recomputed from the stored (truncated)
	// content of entries flagged hasLinks.
	cutoff := now.Add(-cfg.LinkSpamWindow())
	historical := 0
	for _, msg := range record.RecentMessages() {
		if msg.Timestamp.Before(cutoff) || !msg.HasLinks {
			continue
		}
		historical += len(textutil.ExtractURLs(msg.Content))
	}
	if total := historical + len(urls); total > cfg.LinkSpamMaxLinksInWindow {
		return &Violation{
			Type:    ViolationLinkSpam,
			Reason:  "too many links in window",
			Details: fmt.Sprintf("%d links in %s (%d current + %d recent, max %d)", total, cfg.LinkSpamWindow(), len(urls), historical, cfg.LinkSpamMaxLinksInWindow),
		}
	}
	return nil
}
