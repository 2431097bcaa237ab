package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nimburion/nimqueue/pkg/health"
)

const (
	defaultLockProviderHealthCheckName = "scheduler-lock-provider"
	defaultRuntimeHealthCheckName      = "scheduler"
)

// NewLockProviderHealthChecker creates a standard health checker for scheduler lock providers.
func NewLockProviderHealthChecker(name string, provider LockProvider, timeout time.Duration) health.Checker {
	checkName := strings.TrimSpace(name)
	if checkName == "" {
		checkName = defaultLockProviderHealthCheckName
	}
	return health.NewAdapterChecker(checkName, provider, timeout)
}

// NewRuntimeHealthChecker reports the runtime unhealthy while its workers are not running.
func NewRuntimeHealthChecker(runtime *Runtime) health.Checker {
	return health.NewCustomChecker(defaultRuntimeHealthCheckName, func(context.Context) (health.Status, string, error) {
		if !runtime.Running() {
			return health.StatusUnhealthy, "queue workers are not running", nil
		}
		return health.StatusHealthy, fmt.Sprintf("%d queue workers running", len(runtime.Bindings())), nil
	})
}
