package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nimburion/nimqueue/pkg/observability/logger"
)

const (
	// DefaultConnectionName is the in-memory connection used when nothing is configured.
	DefaultConnectionName = "vanilla"
	// DefaultOpenTimeout bounds the opening of one connection's store.
	DefaultOpenTimeout = 30 * time.Second
)

// ManagerConfig lists the configured connections and the default one.
type ManagerConfig struct {
	Default     string
	Connections []ConnectionConfig
	// OpenTimeout bounds each store open; zero selects DefaultOpenTimeout.
	OpenTimeout time.Duration
}

func (c *ManagerConfig) normalize() {
	c.Default = strings.TrimSpace(c.Default)
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = DefaultOpenTimeout
	}
	if len(c.Connections) == 0 {
		c.Connections = []ConnectionConfig{{Name: DefaultConnectionName, Kind: KindMemory}}
	}
	if c.Default == "" {
		c.Default = c.Connections[0].Name
		for _, conn := range c.Connections {
			if conn.Name == DefaultConnectionName {
				c.Default = DefaultConnectionName
				break
			}
		}
	}
}

// Manager is the process-wide access point to queue connections. It is built
// once at boot and passed to producers and the scheduler; the connection set
// never changes afterwards. Stores are opened on first use and cached.
type Manager struct {
	opener      StoreOpener
	log         logger.Logger
	openTimeout time.Duration

	defaultName string
	configs     map[string]ConnectionConfig

	// opening collapses concurrent first uses of one connection into a single open.
	opening singleflight.Group

	mu      sync.Mutex
	drivers map[string]*Driver
	closed  bool
}

// NewManager validates every connection and returns a manager that opens stores through opener.
func NewManager(cfg ManagerConfig, opener StoreOpener, log logger.Logger) (*Manager, error) {
	if opener == nil {
		return nil, queueError(ErrInvalidArgument, "store opener is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg.normalize()

	configs := make(map[string]ConnectionConfig, len(cfg.Connections))
	for _, conn := range cfg.Connections {
		conn.normalize()
		if err := conn.Validate(); err != nil {
			return nil, err
		}
		if _, exists := configs[conn.Name]; exists {
			return nil, queueError(ErrConfiguration, fmt.Sprintf("connection %q is configured twice", conn.Name))
		}
		configs[conn.Name] = conn
	}
	if _, ok := configs[cfg.Default]; !ok {
		return nil, queueError(ErrConfiguration, fmt.Sprintf("default connection %q is not configured", cfg.Default))
	}

	return &Manager{
		opener:      opener,
		log:         log,
		openTimeout: cfg.OpenTimeout,
		defaultName: cfg.Default,
		configs:     configs,
		drivers:     map[string]*Driver{},
	}, nil
}

// DefaultConnection returns the name "" and "default" resolve to.
func (m *Manager) DefaultConnection() string { return m.defaultName }

// Connections returns the configured connection settings sorted by name.
func (m *Manager) Connections() []ConnectionConfig {
	out := make([]ConnectionConfig, 0, len(m.configs))
	for _, conn := range m.configs {
		out = append(out, conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ConnectionConfig resolves name and returns its settings without opening the store.
func (m *Manager) ConnectionConfig(name string) (ConnectionConfig, error) {
	conn, ok := m.configs[m.resolve(name)]
	if !ok {
		return ConnectionConfig{}, queueError(ErrConfiguration, fmt.Sprintf("unknown queue connection %q", name))
	}
	return conn, nil
}

// Connection returns the driver of the named connection, opening its store on first use.
//
// Opening runs outside the manager lock, so a slow or unreachable backend
// only delays callers of its own connection.
func (m *Manager) Connection(ctx context.Context, name string) (*Driver, error) {
	conn, err := m.ConnectionConfig(name)
	if err != nil {
		return nil, err
	}
	if driver, ok, err := m.cached(conn.Name); ok || err != nil {
		return driver, err
	}

	opened, err, _ := m.opening.Do(conn.Name, func() (any, error) {
		return m.open(ctx, conn)
	})
	if err != nil {
		return nil, err
	}
	return opened.(*Driver), nil
}

func (m *Manager) cached(name string) (*Driver, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, queueError(ErrClosed, "queue manager is closed")
	}
	driver, ok := m.drivers[name]
	return driver, ok, nil
}

// open builds the driver of conn. The open outlives a cancelled caller because
// other callers may be waiting on it; openTimeout bounds it instead.
func (m *Manager) open(ctx context.Context, conn ConnectionConfig) (*Driver, error) {
	if driver, ok, err := m.cached(conn.Name); ok || err != nil {
		return driver, err
	}

	openCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.openTimeout)
	defer cancel()
	store, err := m.opener.OpenStore(openCtx, conn)
	if err != nil {
		return nil, fmt.Errorf("open queue connection %q: %w", conn.Name, err)
	}
	driver, err := NewDriver(conn, store, m.log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		_ = store.Close()
		return nil, queueError(ErrClosed, "queue manager is closed")
	}
	m.drivers[conn.Name] = driver
	m.log.Info("queue connection opened", "connection", conn.Name, "driver", conn.Kind.String())
	return driver, nil
}

// Open eagerly opens every named connection, failing on the first error.
func (m *Manager) Open(ctx context.Context, names ...string) error {
	for _, name := range names {
		if _, err := m.Connection(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Enqueue encodes payload and adds it to queue on the named connection.
func (m *Manager) Enqueue(ctx context.Context, connection, queue string, payload any) error {
	encoded, err := MarshalPayload(payload)
	if err != nil {
		return err
	}
	handle, err := m.handle(ctx, connection, queue)
	if err != nil {
		return err
	}
	return handle.Add(ctx, encoded)
}

// DequeueOne pops the next item of queue without invoking any handler.
func (m *Manager) DequeueOne(ctx context.Context, connection, queue string) (Payload, bool, error) {
	handle, err := m.handle(ctx, connection, queue)
	if err != nil {
		return nil, false, err
	}
	return handle.Pop(ctx)
}

// Peek returns the next item of queue without removing it.
func (m *Manager) Peek(ctx context.Context, connection, queue string) (Payload, bool, error) {
	handle, err := m.handle(ctx, connection, queue)
	if err != nil {
		return nil, false, err
	}
	return handle.Peek(ctx)
}

// QueueDepth returns the number of items in queue.
func (m *Manager) QueueDepth(ctx context.Context, connection, queue string) (int, error) {
	handle, err := m.handle(ctx, connection, queue)
	if err != nil {
		return 0, err
	}
	return handle.Length(ctx)
}

// TruncateAll empties every queue of the named connection, dead-letter included.
func (m *Manager) TruncateAll(ctx context.Context, connection string) error {
	driver, err := m.Connection(ctx, connection)
	if err != nil {
		return err
	}
	return driver.Truncate(ctx)
}

// DeadLetters lists up to limit dead-letter records of the named connection without removing them.
// Entries that do not decode as records are left out of the listing.
func (m *Manager) DeadLetters(ctx context.Context, connection string, limit int) ([]DeadLetterRecord, error) {
	driver, err := m.Connection(ctx, connection)
	if err != nil {
		return nil, err
	}
	payloads, err := driver.DeadLetters().List(ctx, limit)
	if err != nil {
		return nil, err
	}
	records := make([]DeadLetterRecord, 0, len(payloads))
	skipped := 0
	for _, payload := range payloads {
		record, err := DecodeDeadLetter(payload)
		if err != nil {
			skipped++
			continue
		}
		records = append(records, record)
	}
	if skipped > 0 {
		m.log.Warn("undecodable dead-letter records skipped", "connection", driver.Name(), "count", skipped)
	}
	return records, nil
}

// Redrive moves up to max dead-letter records of the named connection back to their origin queues.
func (m *Manager) Redrive(ctx context.Context, connection string, max int) (int, error) {
	driver, err := m.Connection(ctx, connection)
	if err != nil {
		return 0, err
	}
	return driver.Redrive(ctx, max)
}

// HealthCheck checks every opened store.
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	drivers := make([]*Driver, 0, len(m.drivers))
	for _, driver := range m.drivers {
		drivers = append(drivers, driver)
	}
	m.mu.Unlock()

	var errs []error
	for _, driver := range drivers {
		if err := driver.store.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("connection %q: %w", driver.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every opened store. The manager rejects further use.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for name, driver := range m.drivers {
		if err := driver.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection %q: %w", name, err))
		}
	}
	m.drivers = map[string]*Driver{}
	return errors.Join(errs...)
}

func (m *Manager) handle(ctx context.Context, connection, queue string) (*Handle, error) {
	driver, err := m.Connection(ctx, connection)
	if err != nil {
		return nil, err
	}
	return driver.Queue(queue), nil
}

func (m *Manager) resolve(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return m.defaultName
	}
	if _, ok := m.configs[name]; ok {
		return name
	}
	if name == "default" {
		return m.defaultName
	}
	return name
}

// MemoryOpener opens in-memory stores for memory connections and discard stores for discard connections.
// Other kinds are rejected; production code wires a full opener at boot.
var MemoryOpener = StoreOpenerFunc(func(_ context.Context, conn ConnectionConfig) (Store, error) {
	switch conn.Kind {
	case KindMemory:
		return NewMemoryStore(conn.Queue, conn.DeadLetter), nil
	case KindDiscard:
		return NewDiscardStore(), nil
	default:
		return nil, queueError(ErrConfiguration, fmt.Sprintf("connection %q: driver %s needs external resources", conn.Name, conn.Kind))
	}
})
