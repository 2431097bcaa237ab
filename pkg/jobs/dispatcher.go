package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimburion/nimqueue/pkg/observability/logger"
)

// Enqueuer pushes payloads onto a named queue. queue.Manager implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, connection, queue string, payload any) error
}

// Dispatcher lets producers address jobs by name instead of by queue.
type Dispatcher struct {
	registry *Registry
	queues   Enqueuer
	log      logger.Logger
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, queues Enqueuer, log logger.Logger) (*Dispatcher, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if queues == nil {
		return nil, errors.New("enqueuer is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &Dispatcher{registry: registry, queues: queues, log: log}, nil
}

// Dispatch enqueues payload on the queue bound to jobName.
func (d *Dispatcher) Dispatch(ctx context.Context, jobName string, payload any) error {
	binding, ok := d.registry.Lookup(jobName)
	if !ok {
		recordDispatched(jobName, "unknown")
		return jobsError(ErrNotFound, fmt.Sprintf("job %q is not registered", jobName))
	}
	if err := d.queues.Enqueue(ctx, binding.Connection, binding.Queue, payload); err != nil {
		recordDispatched(binding.Name, "failed")
		return fmt.Errorf("dispatch %s: %w", binding.Name, err)
	}
	recordDispatched(binding.Name, "enqueued")
	d.log.WithContext(ctx).Debug("job dispatched", "job", binding.Name, "connection", binding.Connection, "queue", binding.Queue)
	return nil
}
