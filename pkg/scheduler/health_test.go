package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/nimburion/nimqueue/pkg/health"
	"github.com/nimburion/nimqueue/pkg/jobs"
)

func TestNewLockProviderHealthChecker(t *testing.T) {
	checker := NewLockProviderHealthChecker("", &fakeLockProvider{}, time.Second)
	if checker.Name() != "scheduler-lock-provider" {
		t.Fatalf("unexpected checker name: %s", checker.Name())
	}
	if result := checker.Check(context.Background()); result.Status != health.StatusHealthy {
		t.Fatalf("expected healthy result, got %s", result.Status)
	}
}

func TestNewRuntimeHealthChecker(t *testing.T) {
	runtime, err := NewRuntime(newTestManager(t), nil, &schedulerTestLogger{}, Config{IntervalOverride: time.Hour})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	if err := runtime.Register(jobs.Binding{Name: "mail", Queue: "mail", Handler: noopHandler}); err != nil {
		t.Fatalf("register: %v", err)
	}
	checker := NewRuntimeHealthChecker(runtime)
	if result := checker.Check(context.Background()); result.Status != health.StatusUnhealthy {
		t.Fatalf("expected unhealthy before start, got %s", result.Status)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runtime.Start(ctx) }()
	deadline := time.Now().Add(time.Second)
	for !runtime.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if result := checker.Check(context.Background()); result.Status != health.StatusHealthy {
		t.Fatalf("expected healthy while running, got %s (%s)", result.Status, result.Message)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("start: %v", err)
	}
}
