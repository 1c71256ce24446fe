// Package audit emits moderation-log events to the external audit
// collaborator over NATS. Emission is fire-and-forget: a slow or absent
// audit consumer never backpressures detection.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/veilchat/relaybot/internal/antispam"
)

const DefaultSubject = "chat.audit.moderation"

// envelope wraps the engine's audit payload with delivery metadata.
type envelope struct {
	EventID   string              `json:"eventId"`
	EmittedAt time.Time           `json:"emittedAt"`
	Event     antispam.AuditEvent `json:"event"`
}

// Publisher implements antispam.Auditor on a NATS connection. A nil
// connection degrades to log-only, which keeps local and test runs
// working without a broker.
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *log.Entry
}

func NewPublisher(conn *nats.Conn, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{
		conn:    conn,
		subject: subject,
		logger:  log.WithField("object", "AuditPublisher"),
	}
}

func (p *Publisher) SpamDetected(_ context.Context, event antispam.AuditEvent) {
	entry := p.logger.
		WithField("target_user", event.TargetUser).
		WithField("violation_type", event.ViolationType).
		WithField("level", event.Level)

	payload, err := json.Marshal(envelope{
		EventID:   uuid.NewString(),
		EmittedAt: time.Now().UTC(),
		Event:     event,
	})
	if err != nil {
		entry.WithError(err).Error("failed to marshal audit event")
		return
	}

	if p.conn == nil {
		entry.WithField("event", string(payload)).Info("audit event (log only)")
		return
	}
	if err := p.conn.Publish(p.subject, payload); err != nil {
		entry.WithError(err).Error("failed to publish audit event")
	}
}
