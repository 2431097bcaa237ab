package health

import (
	"context"
	"time"
)

// DefaultCheckTimeout bounds a single check when no timeout is configured.
const DefaultCheckTimeout = 5 * time.Second

// Checkable is implemented by stores, clients and managers that can probe their backend.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// AdapterChecker turns a Checkable into a Checker with a bounded probe.
type AdapterChecker struct {
	name    string
	target  Checkable
	timeout time.Duration
}

// NewAdapterChecker wraps target. A zero timeout uses DefaultCheckTimeout.
func NewAdapterChecker(name string, target Checkable, timeout time.Duration) *AdapterChecker {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &AdapterChecker{name: name, target: target, timeout: timeout}
}

// Check probes the target within the configured timeout.
func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.target.HealthCheck(checkCtx)
	result := CheckResult{Name: c.name, Timestamp: time.Now(), Duration: time.Since(start)}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		return result
	}
	result.Status = StatusHealthy
	result.Message = "OK"
	return result
}

// Name returns the check name.
func (c *AdapterChecker) Name() string { return c.name }

// PingChecker always reports healthy. It backs the liveness endpoint.
type PingChecker struct {
	name string
}

// NewPingChecker returns a liveness checker.
func NewPingChecker(name string) *PingChecker { return &PingChecker{name: name} }

// Check reports healthy.
func (c *PingChecker) Check(context.Context) CheckResult {
	return CheckResult{Name: c.name, Status: StatusHealthy, Message: "alive", Timestamp: time.Now()}
}

// Name returns the check name.
func (c *PingChecker) Name() string { return c.name }

// CustomChecker runs an arbitrary probe that decides its own status.
type CustomChecker struct {
	name  string
	probe func(ctx context.Context) (Status, string, error)
}

// NewCustomChecker wraps probe.
func NewCustomChecker(name string, probe func(ctx context.Context) (Status, string, error)) *CustomChecker {
	return &CustomChecker{name: name, probe: probe}
}

// Check runs the probe.
func (c *CustomChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	status, message, err := c.probe(ctx)
	result := CheckResult{
		Name:      c.name,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
	if err != nil {
		result.Error = err.Error()
		if result.Status == "" {
			result.Status = StatusUnhealthy
		}
	}
	return result
}

// Name returns the check name.
func (c *CustomChecker) Name() string { return c.name }
