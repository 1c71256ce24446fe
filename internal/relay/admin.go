package relay

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/veilchat/relaybot/internal/antispam"
	"github.com/veilchat/relaybot/internal/db"
	"github.com/veilchat/relaybot/internal/users"
)

const DefaultAdminSubject = "chat.admin.antispam"

// Admin operations, matching the operator command surface.
const (
	OpConfigGet       = "config.get"
	OpConfigSet       = "config.set"
	OpWhitelist       = "whitelist"
	OpUnwhitelist     = "unwhitelist"
	OpResetViolations = "violations.reset"
	OpClearMute       = "mute.clear"
	OpMuteStatus      = "mute.status"
	OpTopOffenders    = "offenders.top"
	OpStats           = "stats"
	OpRoleGrant       = "role.grant"
	OpRoleRevoke      = "role.revoke"
)

// AdminRequest is the command envelope for chat.admin.antispam.
// Fields beyond Op are per-operation; unused ones are left empty.
type AdminRequest struct {
	Op              string `json:"op"`
	UserID          string `json:"userId,omitempty"`
	By              string `json:"by,omitempty"`
	Key             string `json:"key,omitempty"`
	Value           string `json:"value,omitempty"`
	Role            string `json:"role,omitempty"`
	Limit           int    `json:"limit,omitempty"`
	ResetViolations bool   `json:"resetViolations,omitempty"`
}

type AdminResponse struct {
	OK              bool                 `json:"ok"`
	Error           string               `json:"error,omitempty"`
	Config          *antispam.Thresholds `json:"config,omitempty"`
	Offenders       []*db.SpamRecord     `json:"offenders,omitempty"`
	Stats           *db.SpamStats        `json:"stats,omitempty"`
	Role            string               `json:"role,omitempty"`
	Muted           bool                 `json:"muted,omitempty"`
	MuteRemainingMS int64                `json:"muteRemainingMs,omitempty"`
}

// AdminEndpoint serves the operator contract over NATS request/reply.
type AdminEndpoint struct {
	conn    *nats.Conn
	engine  *antispam.Engine
	users   *users.Service
	subject string

	runMutex  sync.Mutex
	started   bool
	runCancel context.CancelFunc
	sub       *nats.Subscription
	logger    *log.Entry
}

func NewAdminEndpoint(conn *nats.Conn, engine *antispam.Engine, userService *users.Service, subject string) *AdminEndpoint {
	if subject == "" {
		subject = DefaultAdminSubject
	}
	return &AdminEndpoint{
		conn:    conn,
		engine:  engine,
		users:   userService,
		subject: subject,
		logger:  log.WithField("object", "AdminEndpoint"),
	}
}

func (a *AdminEndpoint) Start(ctx context.Context) error {
	a.runMutex.Lock()
	defer a.runMutex.Unlock()
	if a.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub, err := a.conn.Subscribe(a.subject, func(msg *nats.Msg) {
		if msg.Reply == "" {
			return
		}
		var req AdminRequest
		resp := AdminResponse{OK: true}
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			resp = AdminResponse{Error: "malformed request: " + err.Error()}
		} else {
			resp = a.handle(runCtx, req)
		}
		payload, err := json.Marshal(resp)
		if err != nil {
			a.logger.WithError(err).Error("failed to marshal admin response")
			return
		}
		if err := a.conn.Publish(msg.Reply, payload); err != nil {
			a.logger.WithError(err).Error("failed to publish admin response")
		}
	})
	if err != nil {
		cancel()
		return err
	}
	a.sub = sub
	a.runCancel = cancel
	a.started = true
	return nil
}

func (a *AdminEndpoint) Stop(_ context.Context) error {
	a.runMutex.Lock()
	defer a.runMutex.Unlock()
	if !a.started {
		return nil
	}
	a.started = false
	if a.sub != nil {
		_ = a.sub.Unsubscribe()
	}
	if a.runCancel != nil {
		a.runCancel()
	}
	return nil
}

func (a *AdminEndpoint) handle(ctx context.Context, req AdminRequest) AdminResponse {
	switch req.Op {
	case OpConfigGet:
		cfg := a.engine.Thresholds()
		return AdminResponse{OK: true, Config: &cfg}

	case OpConfigSet:
		if !a.engine.UpdateConfig(ctx, req.Key, req.Value) {
			return fail("unknown key or invalid value: " + req.Key)
		}
		cfg := a.engine.Thresholds()
		return AdminResponse{OK: true, Config: &cfg}

	case OpWhitelist:
		if req.UserID == "" {
			return fail("userId required")
		}
		if !a.engine.Whitelist(ctx, req.UserID, req.By) {
			return fail("whitelist failed")
		}
		return AdminResponse{OK: true}

	case OpUnwhitelist:
		if req.UserID == "" {
			return fail("userId required")
		}
		if !a.engine.Unwhitelist(ctx, req.UserID) {
			return fail("unwhitelist failed")
		}
		return AdminResponse{OK: true}

	case OpResetViolations:
		if req.UserID == "" {
			return fail("userId required")
		}
		if !a.engine.ResetViolations(ctx, req.UserID) {
			return fail("no record for user")
		}
		return AdminResponse{OK: true}

	case OpClearMute:
		if req.UserID == "" {
			return fail("userId required")
		}
		if !a.engine.ClearAutoMute(ctx, req.UserID, req.ResetViolations) {
			return fail("no record for user")
		}
		return AdminResponse{OK: true}

	case OpMuteStatus:
		if req.UserID == "" {
			return fail("userId required")
		}
		remaining := a.engine.GetAutoMuteRemaining(ctx, req.UserID)
		return AdminResponse{OK: true, Muted: remaining > 0, MuteRemainingMS: remaining.Milliseconds()}

	case OpTopOffenders:
		offenders, err := a.engine.GetTopOffenders(ctx, req.Limit)
		if err != nil {
			return fail(err.Error())
		}
		return AdminResponse{OK: true, Offenders: offenders}

	case OpStats:
		stats, err := a.engine.GetStats(ctx)
		if err != nil {
			return fail(err.Error())
		}
		return AdminResponse{OK: true, Stats: stats}

	case OpRoleGrant:
		if err := a.users.GrantRole(ctx, req.UserID, req.Role, req.By); err != nil {
			return fail(err.Error())
		}
		return AdminResponse{OK: true, Role: req.Role}

	case OpRoleRevoke:
		if err := a.users.RevokeRole(ctx, req.UserID); err != nil {
			return fail(err.Error())
		}
		return AdminResponse{OK: true}

	default:
		return fail("unknown op: " + req.Op)
	}
}

func fail(msg string) AdminResponse {
	return AdminResponse{Error: msg}
}
