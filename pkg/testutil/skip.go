// Package testutil gates tests that need Docker-backed dependencies.
package testutil

import (
	"os"
	"strconv"
	"testing"
)

// IntegrationEnv opts a CI run into the testcontainers-backed suites.
const IntegrationEnv = "INTEGRATION_TESTS"

// IntegrationEnabled reports whether integration suites may run here.
// Local runs default to on; CI runs must opt in through IntegrationEnv.
func IntegrationEnabled() bool {
	if testing.Short() {
		return false
	}
	if raw := os.Getenv(IntegrationEnv); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		return err == nil && enabled
	}
	return os.Getenv("CI") == ""
}

// RequireIntegration skips the test unless integration suites are enabled.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if !IntegrationEnabled() {
		t.Skipf("skipping integration test (set %s=1 to run)", IntegrationEnv)
	}
}
