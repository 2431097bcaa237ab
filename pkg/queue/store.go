package queue

import (
	"context"
	"encoding/json"
	"strings"
)

const (
	// DefaultQueueName is used when a connection does not configure a default queue.
	DefaultQueueName = "default"
	// DefaultDeadLetterQueue is used when a connection does not configure a dead-letter queue.
	DefaultDeadLetterQueue = "deadletter"
	// DefaultTableName is the table (or collection) used by persisted backends.
	DefaultTableName = "jobs"
)

// Payload is an opaque JSON document carried by a job.
type Payload = json.RawMessage

// Store is the raw storage contract shared by every backend.
//
// Pop removes the item in the same operation that returns it, so a crash
// between Pop and a successful handler loses the item (at-most-once).
type Store interface {
	Add(ctx context.Context, queue string, payload Payload) error
	Pop(ctx context.Context, queue string) (Payload, bool, error)
	Peek(ctx context.Context, queue string) (Payload, bool, error)
	// List returns up to limit items in pop order without removing them; limit <= 0 returns all.
	List(ctx context.Context, queue string, limit int) ([]Payload, error)
	Length(ctx context.Context, queue string) (int, error)
	IsEmpty(ctx context.Context, queue string) (bool, error)
	// Truncate clears every queue of the store, dead-letter included.
	Truncate(ctx context.Context) error
	Kind() Kind
	HealthCheck(ctx context.Context) error
	Close() error
}

// deadLetterWriter is implemented by stores that persist the origin queue next to the record.
type deadLetterWriter interface {
	AddDeadLetter(ctx context.Context, deadLetterQueue string, record DeadLetterRecord) error
}

// StoreOpener builds the store behind a connection.
type StoreOpener interface {
	OpenStore(ctx context.Context, conn ConnectionConfig) (Store, error)
}

// StoreOpenerFunc adapts a function to StoreOpener.
type StoreOpenerFunc func(ctx context.Context, conn ConnectionConfig) (Store, error)

// OpenStore calls f.
func (f StoreOpenerFunc) OpenStore(ctx context.Context, conn ConnectionConfig) (Store, error) {
	return f(ctx, conn)
}

func clonePayload(payload Payload) Payload {
	if payload == nil {
		return nil
	}
	out := make(Payload, len(payload))
	copy(out, payload)
	return out
}

func validateQueueName(queue string) (string, error) {
	trimmed := strings.TrimSpace(queue)
	if trimmed == "" {
		return "", queueError(ErrInvalidArgument, "queue name is required")
	}
	return trimmed, nil
}

func validatePayload(payload Payload) error {
	if len(payload) == 0 {
		return queueError(ErrInvalidArgument, "payload is required")
	}
	if !json.Valid(payload) {
		return queueError(ErrInvalidArgument, "payload must be valid json")
	}
	return nil
}

// MarshalPayload encodes a producer value into a Payload. Raw payloads and byte slices holding JSON pass through.
func MarshalPayload(value any) (Payload, error) {
	switch typed := value.(type) {
	case nil:
		return nil, queueError(ErrInvalidArgument, "payload is required")
	case json.RawMessage:
		return rawPayload(typed)
	case []byte:
		return rawPayload(typed)
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, queueError(ErrInvalidArgument, "encode payload: "+err.Error())
	}
	return encoded, nil
}

func rawPayload(raw []byte) (Payload, error) {
	if err := validatePayload(raw); err != nil {
		return nil, err
	}
	return clonePayload(raw), nil
}
