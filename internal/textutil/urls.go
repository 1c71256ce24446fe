package textutil

import (
	"regexp"
	"strings"
)

// urlPattern matches http/https URLs, www. URLs, and bare domains with a
// recognized TLD. The bare-domain variant is limited to a fixed TLD set to
// avoid false positives on version strings like "v2.0".
var urlPattern = regexp.MustCompile(`(?i)(https?://[^\s<>"]+|www\.[^\s<>"]+|\b[a-z0-9][a-z0-9-]*(?:\.[a-z0-9][a-z0-9-]*)*\.(?:com|net|org|io|co|xyz|info|biz|me|tv|app|gg|ru|cn|tk|ml|ga|cf|top|click|link)\b(?:/[^\s<>"]*)?)`)

// Known URL-shortener hosts. Shorteners hide the real destination, which is
// a common spam laundering technique.
var shortenerHosts = []string{
	"bit.ly", "tinyurl.com", "goo.gl", "t.co", "ow.ly", "is.gd",
	"buff.ly", "rebrand.ly", "cutt.ly", "shorturl.at", "rb.gy",
}

// Chat invite-link hosts, used to siphon members into other groups.
var inviteHosts = []string{
	"t.me", "telegram.me", "discord.gg", "discord.com/invite",
	"chat.whatsapp.com", "invite.viber.com", "line.me",
}

// TLDs with disproportionate abuse rates in relayed chats.
var suspiciousTLDs = []string{".tk", ".ml", ".ga", ".cf", ".gq", ".top", ".click", ".link"}

// Marketing/clickbait keywords in the host or path.
var spamKeywords = []string{
	"free", "winner", "prize", "casino", "crypto", "airdrop",
	"earn-money", "get-rich", "clickhere", "limited-offer", "hot-deal",
}

// ExtractURLs returns all URL-like substrings in text, in order of
// appearance. Duplicates are retained; callers count occurrences.
func ExtractURLs(text string) []string {
	if text == "" {
		return nil
	}
	return urlPattern.FindAllString(text, -1)
}

// IsSuspiciousURL reports whether url matches the fixed heuristic table:
// known shortener hosts, chat invite hosts, denylisted TLDs, or spam
// keywords in the host/path. The table is tunable but not adaptive.
func IsSuspiciousURL(url string) bool {
	normalized := strings.ToLower(strings.TrimSpace(url))
	normalized = strings.TrimPrefix(normalized, "http://")
	normalized = strings.TrimPrefix(normalized, "https://")
	normalized = strings.TrimPrefix(normalized, "www.")
	if normalized == "" {
		return false
	}

	host := normalized
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}

	for _, shortener := range shortenerHosts {
		if host == shortener || strings.HasSuffix(host, "."+shortener) {
			return true
		}
	}
	for _, invite := range inviteHosts {
		if host == invite || strings.HasPrefix(normalized, invite+"/") {
			return true
		}
	}
	for _, tld := range suspiciousTLDs {
		if strings.HasSuffix(host, tld) {
			return true
		}
	}
	for _, keyword := range spamKeywords {
		if strings.Contains(normalized, keyword) {
			return true
		}
	}
	return false
}
