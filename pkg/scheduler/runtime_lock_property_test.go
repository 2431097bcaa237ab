package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/nimburion/nimqueue/pkg/jobs"
	"github.com/nimburion/nimqueue/pkg/queue"
)

type scriptedLockProvider struct {
	mu       sync.Mutex
	outcomes []bool
	index    int
	acquires int
	releases int
}

func (p *scriptedLockProvider) Acquire(_ context.Context, key string, ttl time.Duration) (*LockLease, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquires++

	outcome := false
	if p.index < len(p.outcomes) {
		outcome = p.outcomes[p.index]
	}
	p.index++
	if !outcome {
		return nil, false, nil
	}
	return &LockLease{Key: key, Token: fmt.Sprintf("lease-%d", p.acquires), ExpireAt: time.Now().UTC().Add(ttl)}, true, nil
}

func (p *scriptedLockProvider) Renew(context.Context, *LockLease, time.Duration) error { return nil }

func (p *scriptedLockProvider) Release(context.Context, *LockLease) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releases++
	return nil
}

func (p *scriptedLockProvider) HealthCheck(context.Context) error { return nil }
func (p *scriptedLockProvider) Close() error                      { return nil }

func TestRuntime_Property_ProcessesOnlyUnderAcquiredLock(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	properties.Property("each tick with an acquired lock consumes exactly one item", prop.ForAll(
		func(outcomes []bool) bool {
			ctx := context.Background()
			manager, err := queue.NewManager(queue.ManagerConfig{}, queue.MemoryOpener, &schedulerTestLogger{})
			if err != nil {
				return false
			}
			defer manager.Close()
			for idx := range outcomes {
				if err := manager.Enqueue(ctx, "", "mail", idx); err != nil {
					return false
				}
			}

			lock := &scriptedLockProvider{outcomes: outcomes}
			runtime, err := NewRuntime(manager, lock, &schedulerTestLogger{}, Config{})
			if err != nil {
				return false
			}

			handled := 0
			binding := jobs.Binding{Name: "mail", Connection: "vanilla", Queue: "mail", Handler: func(context.Context, queue.Payload) error {
				handled++
				return nil
			}}
			for range outcomes {
				runtime.tick(ctx, binding)
			}

			expected := 0
			for _, acquired := range outcomes {
				if acquired {
					expected++
				}
			}
			depth, err := manager.QueueDepth(ctx, "", "mail")
			if err != nil {
				return false
			}
			return handled == expected &&
				lock.releases == expected &&
				lock.acquires == len(outcomes) &&
				depth == len(outcomes)-expected
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
