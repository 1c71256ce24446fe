package antispam

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/veilchat/relaybot/internal/db"
)

type stubStore struct {
	mutex   sync.Mutex
	records map[string]*db.SpamRecord
	failing bool
}

func newStubStore() *stubStore {
	return &stubStore{records: map[string]*db.SpamRecord{}}
}

func (s *stubStore) GetSpamRecord(_ context.Context, userID string) (*db.SpamRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.failing {
		return nil, errors.New("store down")
	}
	record, ok := s.records[userID]
	if !ok {
		return nil, db.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (s *stubStore) UpsertSpamRecord(_ context.Context, record *db.SpamRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.failing {
		return errors.New("store down")
	}
	clone := *record
	s.records[record.UserID] = &clone
	return nil
}

func (s *stubStore) TopSpamRecords(_ context.Context, limit int) ([]*db.SpamRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]*db.SpamRecord, 0, limit)
	for _, record := range s.records {
		if record.TotalViolations > 0 {
			clone := *record
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *stubStore) ClearExpiredMutes(_ context.Context, now time.Time) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var cleared int64
	for _, record := range s.records {
		if record.AutoMuteUntil != nil && !record.AutoMuteUntil.After(now) {
			record.AutoMuteUntil = nil
			cleared++
		}
	}
	return cleared, nil
}

func (s *stubStore) GetSpamStats(_ context.Context, now time.Time) (*db.SpamStats, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	stats := &db.SpamStats{}
	for _, record := range s.records {
		stats.TrackedUsers++
		stats.TotalViolations += record.TotalViolations
		if record.AutoMuteUntil != nil && record.AutoMuteUntil.After(now) {
			stats.ActiveMutes++
		}
	}
	return stats, nil
}

type stubRoles struct {
	roles map[string]string
	err   error
}

func (s *stubRoles) GetRole(_ context.Context, userID string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.roles[userID], nil
}

type stubAuditor struct {
	mutex  sync.Mutex
	events []AuditEvent
}

func (s *stubAuditor) SpamDetected(_ context.Context, event AuditEvent) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.events = append(s.events, event)
}

func (s *stubAuditor) recorded() []AuditEvent {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]AuditEvent(nil), s.events...)
}

type engineFixture struct {
	engine  *Engine
	store   *stubStore
	roles   *stubRoles
	auditor *stubAuditor
	now     time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store:   newStubStore(),
		roles:   &stubRoles{roles: map[string]string{}},
		auditor: &stubAuditor{},
		now:     time.Date(2026, 5, 14, 12, 0, 0, 0, time.UTC),
	}
	f.engine = NewEngine(f.store, f.roles, f.auditor, NewThresholdService(newStubKV()), time.Second)
	f.engine.now = func() time.Time { return f.now }
	return f
}

func (f *engineFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func TestCheckSpamCleanForNewUser(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	if v := f.engine.CheckSpam(context.Background(), "u1", "hello there"); v != nil {
		t.Fatalf("expected clean, got %+v", v)
	}
}

func TestCheckSpamFloodAfterDuplicates(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.engine.TrackMessage(ctx, "u1", "same old spam")
		f.advance(time.Second)
	}

	v := f.engine.CheckSpam(ctx, "u1", "same old spam")
	if v == nil {
		t.Fatalf("expected flood violation")
	}
	if v.Type != ViolationFlood {
		t.Fatalf("unexpected type: %s", v.Type)
	}
}

func TestCheckSpamWhitelistExemption(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx := context.Background()
	if !f.engine.Whitelist(ctx, "u1", "admin-7") {
		t.Fatalf("whitelist failed")
	}

	// Ten identical messages in one second would trip every detector.
	for i := 0; i < 10; i++ {
		f.engine.TrackMessage(ctx, "u1", "same old spam")
		f.advance(100 * time.Millisecond)
	}
	if v := f.engine.CheckSpam(ctx, "u1", "same old spam"); v != nil {
		t.Fatalf("whitelisted user must be exempt, got %+v", v)
	}
}

func TestCheckSpamRoleExemption(t *testing.T) {
	t.Parallel()

	for _, role := range []string{RoleAdmin, RoleMod, RoleWhitelist} {
		f := newEngineFixture(t)
		f.roles.roles["u1"] = role
		ctx := context.Background()
		for i := 0; i < 10; i++ {
			f.engine.TrackMessage(ctx, "u1", "same old spam")
		}
		if v := f.engine.CheckSpam(ctx, "u1", "same old spam"); v != nil {
			t.Fatalf("role %s must be exempt, got %+v", role, v)
		}
	}
}

func TestCheckSpamDetectorPrecedence(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx := context.Background()
	// A burst of distinct messages: rapid fire is primed, flood is not.
	texts := []string{"one", "two", "three", "four", "five"}
	for _, text := range texts {
		f.engine.TrackMessage(ctx, "u1", text)
		f.advance(100 * time.Millisecond)
	}

	// The message violates both link spam and rapid fire; link spam has
	// the higher precedence.
	fourLinks := "https://a.example.com https://b.example.com https://c.example.com https://d.example.com"
	v := f.engine.CheckSpam(ctx, "u1", fourLinks)
	if v == nil {
		t.Fatalf("expected violation")
	}
	if v.Type != ViolationLinkSpam {
		t.Fatalf("expected link spam to win, got %s", v.Type)
	}
}

func TestCheckSpamFailsOpenOnStoreError(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.store.failing = true
	if v := f.engine.CheckSpam(context.Background(), "u1", "anything"); v != nil {
		t.Fatalf("store failure must fail open, got %+v", v)
	}
}

func TestCheckSpamFailsOpenOnRoleError(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.roles.err = errors.New("role store down")
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		f.engine.TrackMessage(ctx, "u1", "same old spam")
	}
	if v := f.engine.CheckSpam(ctx, "u1", "same old spam"); v != nil {
		t.Fatalf("role failure must fail open, got %+v", v)
	}
}

func TestHandleViolationEscalates(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx := context.Background()
	violation := &Violation{Type: ViolationFlood, Reason: "duplicate message flood"}

	first := f.engine.HandleViolation(ctx, "u1", violation)
	if !first.MuteApplied || first.MuteDuration != 5*time.Minute || first.Level != 1 {
		t.Fatalf("unexpected first outcome: %+v", first)
	}

	second := f.engine.HandleViolation(ctx, "u1", violation)
	if second.MuteDuration != 15*time.Minute || second.Level != 2 {
		t.Fatalf("unexpected second outcome: %+v", second)
	}

	if !f.engine.IsAutoMuted(ctx, "u1") {
		t.Fatalf("expected active mute")
	}
	if got := f.engine.GetAutoMuteRemaining(ctx, "u1"); got != 15*time.Minute {
		t.Fatalf("unexpected remaining: %s", got)
	}

	events := f.auditor.recorded()
	if len(events) != 2 {
		t.Fatalf("expected 2 audit events, got %d", len(events))
	}
	if events[0].Actor != "SYSTEM" || events[0].TargetUser != "u1" || events[0].ViolationType != ViolationFlood {
		t.Fatalf("unexpected audit event: %+v", events[0])
	}
}

func TestHandleViolationWhitelistedShortCircuit(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx := context.Background()
	f.engine.Whitelist(ctx, "u1", "admin-7")

	outcome := f.engine.HandleViolation(ctx, "u1", &Violation{Type: ViolationFlood})
	if outcome.MuteApplied {
		t.Fatalf("whitelisted user must not be muted")
	}
	if len(f.auditor.recorded()) != 0 {
		t.Fatalf("no audit event for short-circuited violation")
	}
}

func TestMuteExpiresWithTime(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx := context.Background()
	f.engine.HandleViolation(ctx, "u1", &Violation{Type: ViolationRapidFire})

	if !f.engine.IsAutoMuted(ctx, "u1") {
		t.Fatalf("expected active mute")
	}
	f.advance(5*time.Minute + time.Second)
	if f.engine.IsAutoMuted(ctx, "u1") {
		t.Fatalf("mute should have expired")
	}
	if got := f.engine.GetAutoMuteRemaining(ctx, "u1"); got != 0 {
		t.Fatalf("expected zero remaining, got %s", got)
	}
}

func TestClearAutoMuteKeepsLevel(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx := context.Background()
	violation := &Violation{Type: ViolationFlood}
	f.engine.HandleViolation(ctx, "u1", violation)
	f.engine.HandleViolation(ctx, "u1", violation)

	if !f.engine.ClearAutoMute(ctx, "u1", false) {
		t.Fatalf("clear failed")
	}
	if f.engine.IsAutoMuted(ctx, "u1") {
		t.Fatalf("mute should be lifted")
	}

	// Level memory survives: the next violation lands on level 3.
	outcome := f.engine.HandleViolation(ctx, "u1", violation)
	if outcome.Level != 3 || outcome.MuteDuration != time.Hour {
		t.Fatalf("expected escalation from remembered level, got %+v", outcome)
	}
}

func TestClearAutoMuteWithReset(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx := context.Background()
	violation := &Violation{Type: ViolationFlood}
	f.engine.HandleViolation(ctx, "u1", violation)
	f.engine.HandleViolation(ctx, "u1", violation)

	if !f.engine.ClearAutoMute(ctx, "u1", true) {
		t.Fatalf("clear failed")
	}

	outcome := f.engine.HandleViolation(ctx, "u1", violation)
	if outcome.Level != 1 || outcome.MuteDuration != 5*time.Minute {
		t.Fatalf("expected clean-slate escalation, got %+v", outcome)
	}
	if outcome.TotalViolations != 1 {
		t.Fatalf("expected counters reset, got %d", outcome.TotalViolations)
	}
}

func TestClearAutoMuteUnknownUser(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	if f.engine.ClearAutoMute(context.Background(), "ghost", false) {
		t.Fatalf("expected false for unknown user")
	}
}

func TestResetViolationsStepsLevelDown(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx := context.Background()
	violation := &Violation{Type: ViolationLinkSpam}
	f.engine.HandleViolation(ctx, "u1", violation)
	f.engine.HandleViolation(ctx, "u1", violation)
	f.engine.HandleViolation(ctx, "u1", violation)

	if !f.engine.ResetViolations(ctx, "u1") {
		t.Fatalf("reset failed")
	}

	// Level went 3 -> 2, so the next violation lands on level 3 again.
	outcome := f.engine.HandleViolation(ctx, "u1", violation)
	if outcome.Level != 3 || outcome.MuteDuration != time.Hour {
		t.Fatalf("unexpected outcome after reset: %+v", outcome)
	}
	if outcome.TotalViolations != 1 {
		t.Fatalf("expected counters zeroed by reset, got %d", outcome.TotalViolations)
	}
}

func TestUnwhitelistRestoresDetection(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx := context.Background()
	f.engine.Whitelist(ctx, "u1", "admin-7")
	f.engine.Unwhitelist(ctx, "u1")

	for i := 0; i < 3; i++ {
		f.engine.TrackMessage(ctx, "u1", "same old spam")
		f.advance(time.Second)
	}
	if v := f.engine.CheckSpam(ctx, "u1", "same old spam"); v == nil {
		t.Fatalf("expected detection after unwhitelist")
	}
}

func TestSweepClearsOnlyExpiredMutes(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx := context.Background()
	f.engine.HandleViolation(ctx, "u1", &Violation{Type: ViolationFlood}) // 5m mute
	f.advance(10 * time.Minute)
	f.engine.HandleViolation(ctx, "u2", &Violation{Type: ViolationFlood}) // fresh 5m mute

	cleared, err := f.engine.sweepExpiredMutes(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("expected 1 cleared mute, got %d", cleared)
	}
	if f.engine.IsAutoMuted(ctx, "u1") {
		t.Fatalf("expired mute should be cleared")
	}
	if !f.engine.IsAutoMuted(ctx, "u2") {
		t.Fatalf("active mute must survive the sweep")
	}
}

func TestUpdateConfigHotReload(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx := context.Background()
	if !f.engine.UpdateConfig(ctx, "floodMaxIdentical", "5") {
		t.Fatalf("update rejected")
	}

	for i := 0; i < 4; i++ {
		f.engine.TrackMessage(ctx, "u1", "same old spam")
		f.advance(time.Second)
	}
	// Four duplicates trip the old threshold of 3 but not the new one.
	if v := f.engine.CheckSpam(ctx, "u1", "same old spam"); v != nil {
		t.Fatalf("expected clean under raised threshold, got %+v", v)
	}
}
