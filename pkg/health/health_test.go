package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeTarget struct {
	err   error
	delay time.Duration
}

func (f fakeTarget) HealthCheck(ctx context.Context) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

type staticChecker struct {
	name   string
	status Status
}

func (c staticChecker) Check(context.Context) CheckResult {
	return CheckResult{Name: c.name, Status: c.status}
}

func (c staticChecker) Name() string { return c.name }

func TestAdapterChecker(t *testing.T) {
	result := NewAdapterChecker("queue:vanilla", fakeTarget{}, 0).Check(context.Background())
	if result.Status != StatusHealthy || result.Message != "OK" {
		t.Fatalf("unexpected result: %+v", result)
	}

	result = NewAdapterChecker("queue:database", fakeTarget{err: errors.New("connection refused")}, time.Second).Check(context.Background())
	if result.Status != StatusUnhealthy || result.Error != "connection refused" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestAdapterChecker_Timeout(t *testing.T) {
	checker := NewAdapterChecker("slow", fakeTarget{delay: time.Second}, 20*time.Millisecond)
	result := checker.Check(context.Background())
	if result.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy on timeout, got %s", result.Status)
	}
	if result.Duration >= time.Second {
		t.Fatalf("check did not honour the timeout: %s", result.Duration)
	}
}

func TestCustomChecker_ErrorDefaultsToUnhealthy(t *testing.T) {
	checker := NewCustomChecker("scheduler", func(context.Context) (Status, string, error) {
		return "", "", errors.New("not running")
	})
	result := checker.Check(context.Background())
	if result.Status != StatusUnhealthy || result.Error != "not running" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRegistry_Check(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{name: "empty", want: StatusHealthy},
		{name: "all healthy", statuses: []Status{StatusHealthy, StatusHealthy}, want: StatusHealthy},
		{name: "degraded", statuses: []Status{StatusHealthy, StatusDegraded}, want: StatusDegraded},
		{name: "unhealthy wins", statuses: []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, want: StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry()
			for i, status := range tt.statuses {
				registry.Register(staticChecker{name: string(rune('a' + i)), status: status})
			}
			result := registry.Check(context.Background())
			if result.Status != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, result.Status)
			}
			if len(result.Checks) != len(tt.statuses) {
				t.Fatalf("expected %d results, got %d", len(tt.statuses), len(result.Checks))
			}
			if result.IsHealthy() != (tt.want == StatusHealthy) {
				t.Fatalf("IsHealthy mismatch for %s", tt.want)
			}
		})
	}
}

func TestRegistry_ListAndCheckOne(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewPingChecker("ping"))
	registry.Register(staticChecker{name: "b", status: StatusHealthy})
	registry.Register(staticChecker{name: "a", status: StatusDegraded})

	names := registry.List()
	if len(names) != 3 || names[0] != "a" || names[2] != "ping" {
		t.Fatalf("unexpected names: %v", names)
	}

	result, err := registry.CheckOne(context.Background(), "a")
	if err != nil || result.Status != StatusDegraded {
		t.Fatalf("unexpected CheckOne result: %+v %v", result, err)
	}
	if _, err := registry.CheckOne(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown check")
	}

	registry.Unregister("a")
	if got := len(registry.List()); got != 2 {
		t.Fatalf("expected 2 checks after unregister, got %d", got)
	}
}
