package metrics

import (
	"strconv"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHTTPMetrics(t *testing.T) {
	tests := []struct {
		name   string
		method string
		route  string
		status int
		want   string
	}{
		{name: "ready ok", method: "GET", route: "/ready", status: 200, want: "/ready"},
		{name: "ready unavailable", method: "GET", route: "/ready", status: 503, want: "/ready"},
		{name: "redrive", method: "POST", route: "/deadletters/:connection/redrive", status: 200, want: "/deadletters/:connection/redrive"},
		{name: "unmatched", method: "GET", route: "", status: 404, want: "unmatched"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := httpRequestsTotal.WithLabelValues(tt.method, tt.want, strconv.Itoa(tt.status))
			before := promtestutil.ToFloat64(counter)

			RecordHTTPMetrics(tt.method, tt.route, tt.status, 25*time.Millisecond)

			if got := promtestutil.ToFloat64(counter); got != before+1 {
				t.Fatalf("expected counter %v, got %v", before+1, got)
			}
		})
	}
}

func TestIncrementDecrementInFlight(t *testing.T) {
	before := promtestutil.ToFloat64(httpRequestsInFlight)
	IncrementInFlight()
	IncrementInFlight()
	if got := promtestutil.ToFloat64(httpRequestsInFlight); got != before+2 {
		t.Fatalf("expected %v in flight, got %v", before+2, got)
	}
	DecrementInFlight()
	DecrementInFlight()
	if got := promtestutil.ToFloat64(httpRequestsInFlight); got != before {
		t.Fatalf("expected %v in flight, got %v", before, got)
	}
}
