package antispam

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/veilchat/relaybot/internal/observability"
)

const defaultSweepInterval = 5 * time.Minute

// MuteSweeper periodically bulk-clears expired auto-mutes across all
// records and refreshes the active-mute gauge. Pure state hygiene; it has
// no side effects beyond the mute timer column.
type MuteSweeper struct {
	engine   *Engine
	interval time.Duration

	runMutex  sync.Mutex
	started   bool
	runCancel context.CancelFunc
	workersWg sync.WaitGroup
	logger    *log.Entry
}

func NewMuteSweeper(engine *Engine, interval time.Duration) *MuteSweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &MuteSweeper{
		engine:   engine,
		interval: interval,
		logger:   log.WithField("object", "MuteSweeper"),
	}
}

func (s *MuteSweeper) Start(ctx context.Context) error {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()
	if s.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel

	s.workersWg.Add(1)
	go func() {
		defer s.workersWg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.sweep(runCtx)
			}
		}
	}()

	s.started = true
	return nil
}

func (s *MuteSweeper) Stop(ctx context.Context) error {
	s.runMutex.Lock()
	if !s.started {
		s.runMutex.Unlock()
		return nil
	}
	s.started = false
	cancel := s.runCancel
	s.runMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.workersWg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *MuteSweeper) sweep(ctx context.Context) {
	cleared, err := s.engine.sweepExpiredMutes(ctx)
	if err != nil {
		s.logger.WithError(err).Error("failed to clear expired mutes")
		return
	}
	if cleared > 0 {
		s.logger.WithField("cleared", cleared).Debug("cleared expired mutes")
	}

	stats, err := s.engine.GetStats(ctx)
	if err != nil {
		s.logger.WithError(err).Error("failed to refresh mute gauge")
		return
	}
	observability.SetActiveMutes(stats.ActiveMutes)
}
