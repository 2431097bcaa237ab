package jobs

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nimburion/nimqueue/pkg/queue"
)

// Binding ties a job type to the queue its producers push to and its worker drains.
type Binding struct {
	// Name is the job type, for example "user.confirm". It is how producers address the job.
	Name string
	// Connection is the queue connection. Empty resolves to the default connection.
	Connection string
	Queue      string
	Handler    queue.Handler
}

// Key identifies the (connection, queue) pair a binding drains.
func (b Binding) Key() string {
	return b.Connection + "/" + b.Queue
}

// Registry holds the job bindings known to the process. Each (connection, queue)
// pair and each job name can be bound once.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Binding
	byKey  map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: map[string]Binding{}, byKey: map[string]string{}}
}

// Register adds binding. Duplicate names or queues fail with ErrConfiguration.
func (r *Registry) Register(binding Binding) error {
	binding.Name = strings.TrimSpace(binding.Name)
	binding.Connection = strings.TrimSpace(binding.Connection)
	binding.Queue = strings.TrimSpace(binding.Queue)
	switch {
	case binding.Name == "":
		return jobsError(ErrConfiguration, "job name is required")
	case binding.Queue == "":
		return jobsError(ErrConfiguration, fmt.Sprintf("job %q has no queue", binding.Name))
	case binding.Handler == nil:
		return jobsError(ErrConfiguration, fmt.Sprintf("job %q has no handler", binding.Name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[binding.Name]; exists {
		return jobsError(ErrConfiguration, fmt.Sprintf("job %q is already registered", binding.Name))
	}
	if owner, exists := r.byKey[binding.Key()]; exists {
		return jobsError(ErrConfiguration, fmt.Sprintf("queue %q on connection %q is already bound to job %q", binding.Queue, binding.Connection, owner))
	}
	r.byName[binding.Name] = binding
	r.byKey[binding.Key()] = binding.Name
	return nil
}

// Lookup returns the binding registered under name.
func (r *Registry) Lookup(name string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	binding, ok := r.byName[strings.TrimSpace(name)]
	return binding, ok
}

// Bindings returns every binding sorted by connection, then queue.
func (r *Registry) Bindings() []Binding {
	r.mu.RLock()
	out := make([]Binding, 0, len(r.byName))
	for _, binding := range r.byName {
		out = append(out, binding)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Connection != out[j].Connection {
			return out[i].Connection < out[j].Connection
		}
		return out[i].Queue < out[j].Queue
	})
	return out
}
