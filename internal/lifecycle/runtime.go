// Package lifecycle starts and stops long-running components in order.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Runtime starts components in registration order and stops them in
// reverse. A failed Start stops whatever already started.
type Runtime struct {
	mutex      sync.Mutex
	components []Component
	started    []Component
	logger     *log.Entry
}

func NewRuntime(components ...Component) *Runtime {
	return &Runtime{
		components: components,
		logger:     log.WithField("object", "Runtime"),
	}
}

func (r *Runtime) Register(component Component) {
	if component == nil {
		return
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.components = append(r.components, component)
}

func (r *Runtime) Start(ctx context.Context) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, component := range r.components {
		if component == nil {
			continue
		}
		if err := component.Start(ctx); err != nil {
			_ = stopComponents(ctx, r.started, r.logger)
			r.started = nil
			return fmt.Errorf("start %T: %w", component, err)
		}
		r.logger.WithField("component", fmt.Sprintf("%T", component)).Debug("started")
		r.started = append(r.started, component)
	}
	return nil
}

func (r *Runtime) Stop(ctx context.Context) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	err := stopComponents(ctx, r.started, r.logger)
	r.started = nil
	return err
}

func stopComponents(ctx context.Context, components []Component, logger *log.Entry) error {
	var stopErr error
	for i := len(components) - 1; i >= 0; i-- {
		component := components[i]
		if err := component.Stop(ctx); err != nil {
			stopErr = errors.Join(stopErr, fmt.Errorf("stop %T: %w", component, err))
			continue
		}
		logger.WithField("component", fmt.Sprintf("%T", component)).Debug("stopped")
	}
	return stopErr
}
