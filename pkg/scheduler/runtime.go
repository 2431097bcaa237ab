package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimburion/nimqueue/pkg/jobs"
	"github.com/nimburion/nimqueue/pkg/observability/logger"
	"github.com/nimburion/nimqueue/pkg/observability/tracing"
	"github.com/nimburion/nimqueue/pkg/queue"
	"github.com/nimburion/nimqueue/pkg/resilience"
)

const (
	DefaultStopTimeout = 30 * time.Second
	DefaultLockTTL     = 30 * time.Second
	defaultLockPrefix  = "queue"
)

// Config controls scheduler runtime behavior.
type Config struct {
	// IntervalOverride replaces every connection's worker interval when > 0.
	IntervalOverride time.Duration
	// HandlerTimeout bounds one handler call. Zero means no timeout.
	HandlerTimeout time.Duration
	StopTimeout    time.Duration
	LockTTL        time.Duration
}

func (c *Config) normalize() {
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
}

// Connections resolves queue connections. queue.Manager implements it.
type Connections interface {
	ConnectionConfig(name string) (queue.ConnectionConfig, error)
	Connection(ctx context.Context, name string) (*queue.Driver, error)
}

type worker struct {
	binding  jobs.Binding
	interval time.Duration
	inFlight atomic.Bool
}

// Runtime drains every registered queue binding, one item per tick.
type Runtime struct {
	connections Connections
	lock        LockProvider
	log         logger.Logger

	config Config

	mu      sync.Mutex
	workers map[string]*worker
	running bool
	cancel  context.CancelFunc
	loops   sync.WaitGroup
	ticks   sync.WaitGroup
}

// NewRuntime creates a scheduler runtime. lockProvider may be nil, in which
// case ticks run without a distributed guard.
func NewRuntime(connections Connections, lockProvider LockProvider, log logger.Logger, cfg Config) (*Runtime, error) {
	if connections == nil {
		return nil, schedulerError(ErrInvalidArgument, "queue connections are required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	cfg.normalize()
	return &Runtime{
		connections: connections,
		lock:        lockProvider,
		log:         log,
		config:      cfg,
		workers:     map[string]*worker{},
	}, nil
}

// Register schedules binding. The connection name is resolved first so that
// aliases of the default connection collide with it.
func (r *Runtime) Register(binding jobs.Binding) error {
	if binding.Handler == nil {
		return schedulerError(ErrValidation, fmt.Sprintf("binding %q has no handler", binding.Name))
	}
	conn, err := r.connections.ConnectionConfig(binding.Connection)
	if err != nil {
		return errors.Join(schedulerError(ErrValidation, fmt.Sprintf("binding %q", binding.Name)), err)
	}
	binding.Connection = conn.Name
	if binding.Queue == "" {
		binding.Queue = conn.Queue
	}
	if binding.Queue == conn.DeadLetter {
		return schedulerError(ErrValidation, fmt.Sprintf("binding %q drains the dead-letter queue %q", binding.Name, conn.DeadLetter))
	}

	interval := conn.WorkerInterval
	if r.config.IntervalOverride > 0 {
		interval = r.config.IntervalOverride
	}
	if interval <= 0 {
		return schedulerError(ErrValidation, fmt.Sprintf("binding %q has no worker interval", binding.Name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return schedulerError(ErrConflict, "scheduler already running")
	}
	if _, exists := r.workers[binding.Key()]; exists {
		return schedulerError(ErrConflict, fmt.Sprintf("queue %q on connection %q is already scheduled", binding.Queue, binding.Connection))
	}
	r.workers[binding.Key()] = &worker{binding: binding, interval: interval}
	return nil
}

// RegisterAll registers every binding of registry.
func (r *Runtime) RegisterAll(registry *jobs.Registry) error {
	if registry == nil {
		return schedulerError(ErrInvalidArgument, "registry is required")
	}
	for _, binding := range registry.Bindings() {
		if err := r.Register(binding); err != nil {
			return err
		}
	}
	return nil
}

// Bindings returns the scheduled bindings with resolved connection names.
func (r *Runtime) Bindings() []jobs.Binding {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]jobs.Binding, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w.binding)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Start runs every binding loop until ctx is done, then stops the runtime.
func (r *Runtime) Start(ctx context.Context) error {
	if r == nil {
		return schedulerError(ErrNotInitialized, "scheduler runtime is not initialized")
	}
	if ctx == nil {
		return schedulerError(ErrInvalidArgument, "context is required")
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return schedulerError(ErrConflict, "scheduler already running")
	}
	if len(r.workers) == 0 {
		r.mu.Unlock()
		return schedulerError(ErrValidation, "no queue bindings registered")
	}
	runningCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	workers := make([]*worker, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, w)
	}
	r.mu.Unlock()

	for _, w := range workers {
		r.loops.Add(1)
		go r.runLoop(runningCtx, w)
		r.log.Info("queue worker started",
			"connection", w.binding.Connection,
			"queue", w.binding.Queue,
			"interval", w.interval.String(),
		)
	}

	<-runningCtx.Done()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), r.config.StopTimeout)
	defer stopCancel()
	return r.Stop(stopCtx)
}

// Stop cancels every loop and waits for in-flight ticks. Handlers already
// running are not cancelled.
func (r *Runtime) Stop(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.cancel = nil
	r.running = false
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	waitCh := make(chan struct{})
	go func() {
		r.loops.Wait()
		r.ticks.Wait()
		close(waitCh)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-waitCh:
		r.log.Info("queue workers stopped")
		return nil
	}
}

// Running reports whether Start is active.
func (r *Runtime) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Runtime) runLoop(ctx context.Context, w *worker) {
	defer r.loops.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !w.inFlight.CompareAndSwap(false, true) {
			recordTick(w.binding, "skipped")
			continue
		}
		r.ticks.Add(1)
		go func() {
			defer r.ticks.Done()
			defer w.inFlight.Store(false)
			r.tick(context.WithoutCancel(ctx), w.binding)
		}()
	}
}

// tick drains at most one item of binding's queue.
func (r *Runtime) tick(ctx context.Context, binding jobs.Binding) {
	log := r.log.With("connection", binding.Connection, "queue", binding.Queue)

	driver, err := r.connections.Connection(ctx, binding.Connection)
	if err != nil {
		recordTick(binding, "error")
		log.Error("queue connection unavailable", "error", err)
		return
	}
	handle := driver.Queue(binding.Queue)

	empty, err := handle.IsEmpty(ctx)
	if err != nil {
		recordTick(binding, "error")
		log.Error("queue emptiness check failed", "error", err)
		return
	}
	if empty {
		recordTick(binding, "idle")
		return
	}

	release, acquired, err := r.acquire(ctx, binding)
	if err != nil {
		recordTick(binding, "error")
		log.Error("queue lock acquire failed", "error", err)
		return
	}
	if !acquired {
		recordTick(binding, "locked")
		return
	}
	defer release()

	log.Info("processing jobs of queue")
	incrementTickInFlight(binding)
	processed, err := handle.Process(ctx, r.handler(binding))
	decrementTickInFlight(binding)
	if err != nil {
		recordTick(binding, "error")
		log.Error("queue processing failed", "error", err)
		return
	}
	if processed {
		recordTick(binding, "processed")
	} else {
		recordTick(binding, "idle")
	}

	remaining, err := handle.Length(ctx)
	if err != nil {
		log.Warn("queue length check failed", "error", err)
		return
	}
	if remaining > 0 {
		log.Info(fmt.Sprintf("still has %d jobs to process", remaining), "remaining", remaining)
	}
}

func (r *Runtime) handler(binding jobs.Binding) queue.Handler {
	timeout := r.config.HandlerTimeout
	return func(ctx context.Context, payload queue.Payload) error {
		ctx, span := tracing.StartMessagingSpan(ctx, tracing.SpanOperationMsgProcess,
			tracing.WithMessagingSystem(binding.Connection),
			tracing.WithMessagingDestination(binding.Queue),
		)
		defer span.End()

		var err error
		if timeout <= 0 {
			err = binding.Handler(ctx, payload)
		} else {
			err = resilience.WithTimeout(ctx, timeout, func(ctx context.Context) error {
				return binding.Handler(ctx, payload)
			})
		}
		tracing.RecordError(span, err)
		return err
	}
}

// acquire takes the distributed lock of binding's queue and keeps it renewed
// until the returned release func runs.
func (r *Runtime) acquire(ctx context.Context, binding jobs.Binding) (func(), bool, error) {
	if r.lock == nil {
		return func() {}, true, nil
	}

	ttl := r.config.LockTTL
	key := LockKey(binding.Connection, binding.Queue)
	lease, acquired, err := r.lock.Acquire(ctx, key, ttl)
	if err != nil || !acquired {
		return nil, false, err
	}

	renewCtx, stopRenew := context.WithCancel(ctx)
	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		r.keepLease(renewCtx, binding, lease, ttl)
	}()

	return func() {
		stopRenew()
		<-renewDone
		if err := r.lock.Release(ctx, lease); err != nil {
			r.log.Warn("queue lock release failed", "key", key, "error", err)
		}
	}, true, nil
}

func (r *Runtime) keepLease(ctx context.Context, binding jobs.Binding, lease *LockLease, ttl time.Duration) {
	interval := ttl / 2
	if interval <= 0 {
		interval = ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := r.lock.Renew(ctx, lease, ttl); err != nil {
			if ctx.Err() != nil {
				return
			}
			if lease.Expired(time.Now()) {
				recordLockRenew(binding, "lost")
				r.log.Error("queue lock lease expired, another worker may drain this queue", "key", lease.Key, "error", err)
				return
			}
			recordLockRenew(binding, "failed")
			r.log.Warn("queue lock renew failed", "key", lease.Key, "error", err)
			continue
		}
		recordLockRenew(binding, "renewed")
	}
}

func randomLockToken() string {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Sprintf("lock-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(raw)
}
