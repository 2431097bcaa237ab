package jobs

import (
	"context"
	"strings"

	"github.com/nimburion/nimqueue/pkg/health"
	"github.com/nimburion/nimqueue/pkg/resilience"
)

const defaultMailHealthCheckName = "mail-delivery"

// NewMailHealthChecker reports the mailer degraded while its circuit breaker is not closed.
func NewMailHealthChecker(name string, mailer *Mailer) health.Checker {
	checkName := strings.TrimSpace(name)
	if checkName == "" {
		checkName = defaultMailHealthCheckName
	}
	return health.NewCustomChecker(checkName, func(context.Context) (health.Status, string, error) {
		state := mailer.BreakerState()
		if state == resilience.StateClosed {
			return health.StatusHealthy, "circuit " + state.String(), nil
		}
		return health.StatusDegraded, "circuit " + state.String(), nil
	})
}
