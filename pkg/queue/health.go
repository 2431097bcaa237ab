package queue

import (
	"context"
	"fmt"

	"github.com/nimburion/nimqueue/pkg/health"
)

// RegisterHealthChecks adds one readiness check per configured connection to registry.
// A check opens its connection on first use, so an unreachable backend reports unhealthy.
func (m *Manager) RegisterHealthChecks(registry *health.Registry) {
	for _, conn := range m.Connections() {
		registry.Register(health.NewAdapterChecker("queue:"+conn.Name, connectionProbe{manager: m, name: conn.Name}, 0))
	}
}

type connectionProbe struct {
	manager *Manager
	name    string
}

func (p connectionProbe) HealthCheck(ctx context.Context) error {
	driver, err := p.manager.Connection(ctx, p.name)
	if err != nil {
		return err
	}
	if err := driver.Store().HealthCheck(ctx); err != nil {
		return fmt.Errorf("queue connection %q: %w", p.name, err)
	}
	return nil
}
