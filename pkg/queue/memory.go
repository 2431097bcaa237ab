package queue

import (
	"context"
	"sync"
)

// MemoryStore keeps queues in process memory. Items pop in insertion order.
type MemoryStore struct {
	mu     sync.Mutex
	queues map[string][]Payload
}

// NewMemoryStore creates an empty in-process store with the given queues pre-created.
func NewMemoryStore(queues ...string) *MemoryStore {
	store := &MemoryStore{queues: map[string][]Payload{}}
	for _, name := range queues {
		if name != "" {
			store.queues[name] = []Payload{}
		}
	}
	return store
}

// Kind returns KindMemory.
func (s *MemoryStore) Kind() Kind { return KindMemory }

// Add appends payload to the tail of queue.
func (s *MemoryStore) Add(_ context.Context, queue string, payload Payload) error {
	queue, err := validateQueueName(queue)
	if err != nil {
		return err
	}
	if err := validatePayload(payload); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[queue] = append(s.queues[queue], clonePayload(payload))
	return nil
}

// Pop removes and returns the head of queue.
func (s *MemoryStore) Pop(_ context.Context, queue string) (Payload, bool, error) {
	queue, err := validateQueueName(queue)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.queues[queue]
	if len(items) == 0 {
		return nil, false, nil
	}
	head := items[0]
	items[0] = nil
	s.queues[queue] = items[1:]
	return head, true, nil
}

// Peek returns the head of queue without removing it.
func (s *MemoryStore) Peek(_ context.Context, queue string) (Payload, bool, error) {
	queue, err := validateQueueName(queue)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.queues[queue]
	if len(items) == 0 {
		return nil, false, nil
	}
	return clonePayload(items[0]), true, nil
}

// List returns up to limit items from the head of queue.
func (s *MemoryStore) List(_ context.Context, queue string, limit int) ([]Payload, error) {
	queue, err := validateQueueName(queue)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return headOf(s.queues[queue], limit), nil
}

// Length returns the number of items in queue.
func (s *MemoryStore) Length(_ context.Context, queue string) (int, error) {
	queue, err := validateQueueName(queue)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[queue]), nil
}

// IsEmpty reports whether queue holds no items.
func (s *MemoryStore) IsEmpty(ctx context.Context, queue string) (bool, error) {
	length, err := s.Length(ctx, queue)
	return length == 0, err
}

// Truncate empties every queue, keeping the names known.
func (s *MemoryStore) Truncate(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.queues {
		s.queues[name] = []Payload{}
	}
	return nil
}

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// DiscardStore accepts every item and keeps nothing.
type DiscardStore struct{}

// NewDiscardStore creates a store that drops everything it receives.
func NewDiscardStore() *DiscardStore { return &DiscardStore{} }

func (DiscardStore) Kind() Kind { return KindDiscard }

func (DiscardStore) Add(_ context.Context, queue string, payload Payload) error {
	if _, err := validateQueueName(queue); err != nil {
		return err
	}
	return validatePayload(payload)
}

func (DiscardStore) Pop(context.Context, string) (Payload, bool, error)   { return nil, false, nil }
func (DiscardStore) Peek(context.Context, string) (Payload, bool, error)  { return nil, false, nil }
func (DiscardStore) List(context.Context, string, int) ([]Payload, error) { return nil, nil }
func (DiscardStore) Length(context.Context, string) (int, error)          { return 0, nil }
func (DiscardStore) IsEmpty(context.Context, string) (bool, error)        { return true, nil }
func (DiscardStore) Truncate(context.Context) error                       { return nil }
func (DiscardStore) HealthCheck(context.Context) error                    { return nil }
func (DiscardStore) Close() error                                         { return nil }

func headOf(items []Payload, limit int) []Payload {
	if limit <= 0 || limit > len(items) {
		limit = len(items)
	}
	out := make([]Payload, 0, limit)
	for _, item := range items[:limit] {
		out = append(out, clonePayload(item))
	}
	return out
}
