package antispam

import "time"

// ViolationType classifies a spam event. A message is classified by exactly
// one type even when several detectors would fire.
type ViolationType string

const (
	ViolationFlood     ViolationType = "flood"
	ViolationLinkSpam  ViolationType = "linkSpam"
	ViolationRapidFire ViolationType = "rapidFire"
)

// Violation is a classified spam event returned by CheckSpam.
type Violation struct {
	Type    ViolationType
	Reason  string
	Details string
}

// MuteOutcome describes what the escalation policy did in response to a
// violation. Callers use it to decide whether to restrict the user and
// notify admins.
type MuteOutcome struct {
	MuteApplied     bool
	MuteDuration    time.Duration
	MuteUntil       *time.Time
	Level           int
	TotalViolations int
}

// AuditEvent is the structured moderation-log payload emitted per
// violation, consumed by the external audit collaborator.
type AuditEvent struct {
	Actor           string        `json:"actor"`
	TargetUser      string        `json:"targetUser"`
	Type            string        `json:"type"`
	ViolationType   ViolationType `json:"violationType"`
	Reason          string        `json:"reason"`
	Details         string        `json:"details"`
	MuteApplied     bool          `json:"muteApplied"`
	MuteDuration    time.Duration `json:"muteDuration"`
	Level           int           `json:"level"`
	TotalViolations int           `json:"totalViolations"`
}

const auditEventType = "spam_detected"
