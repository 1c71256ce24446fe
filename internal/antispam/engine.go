package antispam

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/veilchat/relaybot/internal/db"
	"github.com/veilchat/relaybot/internal/observability"
)

// Roles exempt from every check, looked up in the external user store.
// They are independent of the engine-local whitelist flag.
const (
	RoleAdmin     = "admin"
	RoleMod       = "mod"
	RoleWhitelist = "whitelist"
)

const lockShards = 256

// RecordStore is the slice of the persistence layer the engine consumes.
type RecordStore interface {
	GetSpamRecord(ctx context.Context, userID string) (*db.SpamRecord, error)
	UpsertSpamRecord(ctx context.Context, record *db.SpamRecord) error
	TopSpamRecords(ctx context.Context, limit int) ([]*db.SpamRecord, error)
	ClearExpiredMutes(ctx context.Context, now time.Time) (int64, error)
	GetSpamStats(ctx context.Context, now time.Time) (*db.SpamStats, error)
}

// RoleLookup resolves a user's platform role. An empty role means no
// special privileges.
type RoleLookup interface {
	GetRole(ctx context.Context, userID string) (string, error)
}

// Auditor receives one structured event per handled violation. Emission is
// fire-and-forget; a failing auditor never affects detection.
type Auditor interface {
	SpamDetected(ctx context.Context, event AuditEvent)
}

// Engine is the anti-spam façade invoked by the relay pipeline for every
// inbound message. Record mutations for one user are serialized through a
// sharded mutex; different users proceed concurrently.
type Engine struct {
	store      RecordStore
	roles      RoleLookup
	auditor    Auditor
	thresholds *ThresholdService

	checkTimeout time.Duration
	detectors    []detector
	locks        [lockShards]sync.Mutex
	logger       *log.Entry
	now          func() time.Time
}

func NewEngine(store RecordStore, roles RoleLookup, auditor Auditor, thresholds *ThresholdService, checkTimeout time.Duration) *Engine {
	if checkTimeout <= 0 {
		checkTimeout = 2 * time.Second
	}
	return &Engine{
		store:        store,
		roles:        roles,
		auditor:      auditor,
		thresholds:   thresholds,
		checkTimeout: checkTimeout,
		detectors:    orderedDetectors(),
		logger:       log.WithField("object", "SpamEngine"),
		now:          time.Now,
	}
}

func (e *Engine) lockUser(userID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	shard := &e.locks[h.Sum32()%lockShards]
	shard.Lock()
	return shard.Unlock
}

// loadRecord fetches the user's record, lazily creating a fresh one for
// previously unseen users. The fresh record is not persisted until the
// first mutation.
func (e *Engine) loadRecord(ctx context.Context, userID string) (*SpamRecord, error) {
	entity, err := e.store.GetSpamRecord(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return NewSpamRecord(userID), nil
		}
		return nil, err
	}
	return recordFromEntity(entity), nil
}

func (e *Engine) persist(ctx context.Context, record *SpamRecord) error {
	return e.store.UpsertSpamRecord(ctx, record.entity(e.now()))
}

// CheckSpam classifies one inbound message. The engine-local whitelist and
// privileged platform roles short-circuit to clean; otherwise the
// detectors run in precedence order and the first violation wins. Any
// internal fault fails open: the error is logged and the message is
// reported clean so a detection outage never blocks chat traffic.
func (e *Engine) CheckSpam(ctx context.Context, userID, text string) (violation *Violation) {
	entry := e.logger.WithField("method", "CheckSpam").WithField("user_id", userID)
	done := observability.StartSpamCheck()
	defer func() {
		if r := recover(); r != nil {
			entry.WithField("panic", r).Error("check panicked, failing open")
			violation = nil
		}
		result := "clean"
		if violation != nil {
			result = string(violation.Type)
		}
		done(result)
	}()

	ctx, cancel := context.WithTimeout(ctx, e.checkTimeout)
	defer cancel()

	unlock := e.lockUser(userID)
	defer unlock()

	record, err := e.loadRecord(ctx, userID)
	if err != nil {
		entry.WithError(err).Error("failed to load record, failing open")
		return nil
	}
	if record.Whitelisted {
		return nil
	}

	role, err := e.roles.GetRole(ctx, userID)
	if err != nil {
		// A role-store fault could false-positive a privileged user, so
		// it fails open like any other internal error.
		entry.WithError(err).Error("failed to look up role, failing open")
		return nil
	}
	switch role {
	case RoleAdmin, RoleMod, RoleWhitelist:
		return nil
	}

	cfg := e.thresholds.Current()
	now := e.now()
	for _, d := range e.detectors {
		if v := d.Check(cfg, record, text, now); v != nil {
			return v
		}
	}
	return nil
}

// HandleViolation applies the escalation policy for a detected violation
// and emits the moderation-log event. The returned outcome tells the
// caller whether a mute was applied and for how long.
func (e *Engine) HandleViolation(ctx context.Context, userID string, violation *Violation) MuteOutcome {
	entry := e.logger.WithField("method", "HandleViolation").WithField("user_id", userID)
	if violation == nil {
		return MuteOutcome{}
	}

	unlock := e.lockUser(userID)
	record, err := e.loadRecord(ctx, userID)
	if err != nil {
		unlock()
		entry.WithError(err).Error("failed to load record, violation dropped")
		return MuteOutcome{}
	}
	if record.Whitelisted {
		unlock()
		return MuteOutcome{TotalViolations: record.Total, Level: record.AutoMuteLevel}
	}

	cfg := e.thresholds.Current()
	outcome := addViolation(record, violation, cfg.AutoMuteEnabled, e.now())
	if err := e.persist(ctx, record); err != nil {
		entry.WithError(err).Error("failed to persist violation")
	}
	unlock()

	observability.RecordViolation(string(violation.Type))
	e.auditor.SpamDetected(ctx, AuditEvent{
		Actor:           "SYSTEM",
		TargetUser:      userID,
		Type:            auditEventType,
		ViolationType:   violation.Type,
		Reason:          violation.Reason,
		Details:         violation.Details,
		MuteApplied:     outcome.MuteApplied,
		MuteDuration:    outcome.MuteDuration,
		Level:           outcome.Level,
		TotalViolations: outcome.TotalViolations,
	})
	return outcome
}

// TrackMessage appends the message to the user's rolling buffers. It is
// called for every message, violating or not, so repeat offenders cannot
// evade the window checks by having prior messages dropped.
func (e *Engine) TrackMessage(ctx context.Context, userID, text string) {
	entry := e.logger.WithField("method", "TrackMessage").WithField("user_id", userID)

	unlock := e.lockUser(userID)
	defer unlock()

	record, err := e.loadRecord(ctx, userID)
	if err != nil {
		entry.WithError(err).Error("failed to load record, message not tracked")
		return
	}
	record.Track(text, e.now())
	if err := e.persist(ctx, record); err != nil {
		entry.WithError(err).Error("failed to persist tracked message")
	}
}

// IsAutoMuted reports whether the user has an active auto-mute.
func (e *Engine) IsAutoMuted(ctx context.Context, userID string) bool {
	unlock := e.lockUser(userID)
	defer unlock()

	record, err := e.loadRecord(ctx, userID)
	if err != nil {
		e.logger.WithError(err).WithField("user_id", userID).Error("failed to load record for mute check")
		return false
	}
	return record.IsMuted(e.now())
}

// GetAutoMuteRemaining returns how long the user's active auto-mute still
// has to run, zero when not muted.
func (e *Engine) GetAutoMuteRemaining(ctx context.Context, userID string) time.Duration {
	unlock := e.lockUser(userID)
	defer unlock()

	record, err := e.loadRecord(ctx, userID)
	if err != nil {
		e.logger.WithError(err).WithField("user_id", userID).Error("failed to load record for mute check")
		return 0
	}
	return record.MuteRemaining(e.now())
}
