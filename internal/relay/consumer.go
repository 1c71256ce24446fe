// Package relay adapts the engine to the message-relay pipeline over
// NATS. It consumes inbound chat messages, runs the detection flow, and
// replies with a verdict; delivery and fan-out stay external.
package relay

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/veilchat/relaybot/internal/antispam"
)

const (
	DefaultInboundSubject = "chat.room.*.inbound"
	defaultWorkerCount    = 8
	shardQueueDepth       = 1024
)

// InboundMessage is what the relay pipeline publishes per chat message.
type InboundMessage struct {
	UserID string `json:"userId"`
	Text   string `json:"text"`
}

// Verdict is the engine's answer, published to the message's reply
// subject. The mute fields let the delivery layer drop messages from
// muted users without another round-trip.
type Verdict struct {
	Allowed         bool   `json:"allowed"`
	ViolationType   string `json:"violationType,omitempty"`
	Reason          string `json:"reason,omitempty"`
	MuteApplied     bool   `json:"muteApplied"`
	Muted           bool   `json:"muted"`
	MuteRemainingMS int64  `json:"muteRemainingMs"`
	Level           int    `json:"level"`
	NotifyAdmins    bool   `json:"notifyAdmins"`
}

type inboundJob struct {
	msg   InboundMessage
	reply string
}

// Consumer shards inbound messages across a fixed worker pool by user ID,
// so one user's messages are processed in arrival order while different
// users proceed concurrently.
type Consumer struct {
	conn    *nats.Conn
	engine  *antispam.Engine
	subject string
	workers int

	shards []chan inboundJob
	sub    *nats.Subscription
	group  *errgroup.Group

	runMutex  sync.Mutex
	started   bool
	runCancel context.CancelFunc
	logger    *log.Entry
}

func NewConsumer(conn *nats.Conn, engine *antispam.Engine, subject string, workers int) *Consumer {
	if subject == "" {
		subject = DefaultInboundSubject
	}
	if workers <= 0 {
		workers = defaultWorkerCount
	}
	return &Consumer{
		conn:    conn,
		engine:  engine,
		subject: subject,
		workers: workers,
		logger:  log.WithField("object", "RelayConsumer"),
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	c.runMutex.Lock()
	defer c.runMutex.Unlock()
	if c.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.runCancel = cancel

	c.shards = make([]chan inboundJob, c.workers)
	for i := range c.shards {
		c.shards[i] = make(chan inboundJob, shardQueueDepth)
	}

	c.group, _ = errgroup.WithContext(runCtx)
	for i := 0; i < c.workers; i++ {
		shard := c.shards[i]
		c.group.Go(func() error {
			for {
				select {
				case <-runCtx.Done():
					return nil
				case job, ok := <-shard:
					if !ok {
						return nil
					}
					c.respond(job.reply, c.process(runCtx, job.msg))
				}
			}
		})
	}

	sub, err := c.conn.Subscribe(c.subject, func(msg *nats.Msg) {
		var inbound InboundMessage
		if err := json.Unmarshal(msg.Data, &inbound); err != nil {
			c.logger.WithError(err).Error("failed to decode inbound message")
			return
		}
		if inbound.UserID == "" {
			return
		}
		select {
		case c.shardFor(inbound.UserID) <- inboundJob{msg: inbound, reply: msg.Reply}:
		default:
			// Queue full: let the message through unchecked rather than
			// stall the relay.
			c.logger.WithField("user_id", inbound.UserID).Warn("shard queue full, message passed unchecked")
			c.respond(msg.Reply, Verdict{Allowed: true})
		}
	})
	if err != nil {
		cancel()
		return err
	}
	c.sub = sub
	c.started = true
	return nil
}

func (c *Consumer) Stop(ctx context.Context) error {
	c.runMutex.Lock()
	if !c.started {
		c.runMutex.Unlock()
		return nil
	}
	c.started = false
	cancel := c.runCancel
	sub := c.sub
	c.runMutex.Unlock()

	if sub != nil {
		_ = sub.Unsubscribe()
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.group.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (c *Consumer) shardFor(userID string) chan inboundJob {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return c.shards[h.Sum32()%uint32(c.workers)]
}

// process runs the per-message control flow: classify, escalate on
// violation, then track — blocked messages are tracked too.
func (c *Consumer) process(ctx context.Context, msg InboundMessage) Verdict {
	cfg := c.engine.Thresholds()
	verdict := Verdict{Allowed: true}

	if violation := c.engine.CheckSpam(ctx, msg.UserID, msg.Text); violation != nil {
		outcome := c.engine.HandleViolation(ctx, msg.UserID, violation)
		verdict = Verdict{
			Allowed:         false,
			ViolationType:   string(violation.Type),
			Reason:          violation.Reason,
			MuteApplied:     outcome.MuteApplied,
			Muted:           outcome.MuteApplied,
			MuteRemainingMS: outcome.MuteDuration.Milliseconds(),
			Level:           outcome.Level,
			NotifyAdmins:    cfg.NotifyAdmins,
		}
	} else if remaining := c.engine.GetAutoMuteRemaining(ctx, msg.UserID); remaining > 0 {
		verdict.Muted = true
		verdict.MuteRemainingMS = remaining.Milliseconds()
	}

	c.engine.TrackMessage(ctx, msg.UserID, msg.Text)
	return verdict
}

func (c *Consumer) respond(reply string, verdict Verdict) {
	if reply == "" {
		return
	}
	payload, err := json.Marshal(verdict)
	if err != nil {
		c.logger.WithError(err).Error("failed to marshal verdict")
		return
	}
	if err := c.conn.Publish(reply, payload); err != nil {
		c.logger.WithError(err).Error("failed to publish verdict")
	}
}
