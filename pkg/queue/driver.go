package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/nimburion/nimqueue/pkg/observability/logger"
)

// Handler processes one popped payload. A returned error (or panic) routes the payload to the dead-letter queue.
type Handler func(ctx context.Context, payload Payload) error

// Driver wraps the store of one connection with the dead-letter routing policy.
type Driver struct {
	config ConnectionConfig
	store  Store
	log    logger.Logger
}

// NewDriver binds a store to its connection settings.
func NewDriver(conn ConnectionConfig, store Store, log logger.Logger) (*Driver, error) {
	if store == nil {
		return nil, queueError(ErrInvalidArgument, "store is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if conn.Kind == 0 {
		conn.Kind = store.Kind()
	}
	conn.normalize()
	if err := conn.Validate(); err != nil {
		return nil, err
	}
	return &Driver{
		config: conn,
		store:  store,
		log:    log.With("connection", conn.Name, "driver", conn.Kind.String()),
	}, nil
}

// Name returns the connection name.
func (d *Driver) Name() string { return d.config.Name }

// Config returns the normalized connection settings.
func (d *Driver) Config() ConnectionConfig { return d.config }

// Store exposes the underlying store.
func (d *Driver) Store() Store { return d.store }

// Queue returns a handle bound to name. An empty name selects the connection's default queue.
func (d *Driver) Queue(name string) *Handle {
	name = strings.TrimSpace(name)
	if name == "" {
		name = d.config.Queue
	}
	return &Handle{driver: d, name: name}
}

// DeadLetters returns a handle bound to the connection's dead-letter queue.
func (d *Driver) DeadLetters() *Handle {
	return &Handle{driver: d, name: d.config.DeadLetter}
}

// Truncate clears every queue of the connection, dead-letter included.
func (d *Driver) Truncate(ctx context.Context) error {
	if err := d.store.Truncate(ctx); err != nil {
		return err
	}
	d.log.Info("queues truncated")
	return nil
}

// Redrive moves up to max dead-letter records back to their origin queues. max <= 0 moves all of them.
//
// A record whose origin queue rejects it is written back to the dead-letter
// queue. Records that do not decode are skipped and left in the dead-letter
// queue. A crash between the pop and the re-add still loses the record.
func (d *Driver) Redrive(ctx context.Context, max int) (moved int, err error) {
	deadLetters := d.DeadLetters()
	var undecodable []Payload
	defer func() {
		for _, payload := range undecodable {
			if addErr := deadLetters.Add(ctx, payload); addErr != nil {
				err = errors.Join(err, addErr)
			}
		}
		if len(undecodable) > 0 {
			d.log.Warn("undecodable dead-letter records skipped", "count", len(undecodable))
		}
		if moved > 0 {
			d.log.Info("dead-letter records redriven", "count", moved)
		}
	}()

	for max <= 0 || moved < max {
		payload, ok, popErr := deadLetters.Pop(ctx)
		if popErr != nil {
			return moved, popErr
		}
		if !ok {
			break
		}
		record, decodeErr := DecodeDeadLetter(payload)
		if decodeErr != nil {
			undecodable = append(undecodable, payload)
			continue
		}
		if addErr := d.Queue(record.OriginQueue).Add(ctx, record.Payload); addErr != nil {
			if restoreErr := d.addDeadLetter(ctx, record); restoreErr != nil {
				d.log.Error("dead-letter record lost during redrive",
					"queue", record.OriginQueue,
					"id", record.ID,
					"error", restoreErr,
				)
				return moved, errors.Join(addErr, restoreErr)
			}
			return moved, addErr
		}
		moved++
	}
	return moved, nil
}

func (d *Driver) addDeadLetter(ctx context.Context, record DeadLetterRecord) error {
	if writer, ok := d.store.(deadLetterWriter); ok {
		return writer.AddDeadLetter(ctx, d.config.DeadLetter, record)
	}
	encoded, err := record.Encode()
	if err != nil {
		return queueError(ErrInvalidArgument, "encode dead-letter record: "+err.Error())
	}
	return d.store.Add(ctx, d.config.DeadLetter, encoded)
}

// Handle is a driver view bound to one queue name.
type Handle struct {
	driver *Driver
	name   string
}

// Name returns the bound queue name.
func (h *Handle) Name() string { return h.name }

// Connection returns the owning connection name.
func (h *Handle) Connection() string { return h.driver.config.Name }

// Add appends payload to the queue.
func (h *Handle) Add(ctx context.Context, payload Payload) error {
	if err := h.driver.store.Add(ctx, h.name, payload); err != nil {
		return err
	}
	recordEnqueued(h.driver.config.Name, h.name)
	return nil
}

// Pop removes and returns the next item according to the backend ordering.
func (h *Handle) Pop(ctx context.Context) (Payload, bool, error) {
	return h.driver.store.Pop(ctx, h.name)
}

// Peek returns the next item without removing it.
func (h *Handle) Peek(ctx context.Context) (Payload, bool, error) {
	return h.driver.store.Peek(ctx, h.name)
}

// List returns up to limit items in pop order without removing them.
func (h *Handle) List(ctx context.Context, limit int) ([]Payload, error) {
	return h.driver.store.List(ctx, h.name, limit)
}

// Length returns the number of items in the queue.
func (h *Handle) Length(ctx context.Context) (int, error) {
	length, err := h.driver.store.Length(ctx, h.name)
	if err != nil {
		return 0, err
	}
	recordDepth(h.driver.config.Name, h.name, length)
	return length, nil
}

// IsEmpty reports whether the queue holds no items.
func (h *Handle) IsEmpty(ctx context.Context) (bool, error) {
	return h.driver.store.IsEmpty(ctx, h.name)
}

// Truncate clears every queue of the connection, not only the bound one.
func (h *Handle) Truncate(ctx context.Context) error {
	return h.driver.Truncate(ctx)
}

// Process pops one item and hands it to handler. It reports whether an item was consumed.
//
// A handler failure is logged and converted into a DeadLetterRecord on the
// connection's dead-letter queue; it is never returned. Store failures are.
func (h *Handle) Process(ctx context.Context, handler Handler) (bool, error) {
	if handler == nil {
		return false, queueError(ErrInvalidArgument, "handler is required")
	}

	payload, ok, err := h.Pop(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	failure := invokeHandler(ctx, handler, payload)
	if failure == nil {
		recordProcessed(h.driver.config.Name, h.name, "succeeded")
		return true, nil
	}

	recordProcessed(h.driver.config.Name, h.name, "failed")
	failure = &HandlerError{Queue: h.name, Err: failure}
	h.driver.log.WithContext(ctx).Error("adding payload to dead-letter queue",
		"queue", h.name,
		"deadletter", h.driver.config.DeadLetter,
		"error", failure,
	)
	if err := h.driver.addDeadLetter(ctx, newDeadLetterRecord(h.name, payload, errors.Unwrap(failure))); err != nil {
		h.driver.log.Error("dead-letter write failed, payload lost",
			"queue", h.name,
			"payload", string(payload),
			"error", err,
		)
		return true, err
	}
	recordDeadLetter(h.driver.config.Name, h.name)
	return true, nil
}

func invokeHandler(ctx context.Context, handler Handler, payload Payload) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while handling payload: %v; stack=%s", rec, string(debug.Stack()))
		}
	}()
	return handler(ctx, clonePayload(payload))
}
