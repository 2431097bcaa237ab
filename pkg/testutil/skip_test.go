package testutil

import "testing"

func TestIntegrationEnabled(t *testing.T) {
	if testing.Short() {
		if IntegrationEnabled() {
			t.Fatal("short mode must disable integration suites")
		}
		return
	}

	tests := []struct {
		name        string
		ci          string
		integration string
		want        bool
	}{
		{name: "local default", want: true},
		{name: "ci without opt-in", ci: "true", want: false},
		{name: "ci with opt-in", ci: "true", integration: "1", want: true},
		{name: "explicit opt-out", integration: "false", want: false},
		{name: "garbage value", integration: "maybe", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CI", tt.ci)
			t.Setenv(IntegrationEnv, tt.integration)
			if got := IntegrationEnabled(); got != tt.want {
				t.Fatalf("IntegrationEnabled() = %v, want %v", got, tt.want)
			}
		})
	}
}
