package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

var (
	up   = pingFunc(func(context.Context) error { return nil })
	down = pingFunc(func(context.Context) error { return errors.New("connection refused") })
)

func TestRunAggregatesWorstStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Check
		want   Status
		down   []string
	}{
		{"none", nil, StatusUp, nil},
		{"all up", map[string]Check{"catalog": PingCheck(up, StatusDown)}, StatusUp, nil},
		{
			"optional failing",
			map[string]Check{
				"catalog": PingCheck(up, StatusDown),
				"redis":   PingCheck(down, StatusDegraded),
			},
			StatusDegraded, nil,
		},
		{
			"required failing",
			map[string]Check{
				"catalog": PingCheck(down, StatusDown),
				"redis":   PingCheck(down, StatusDegraded),
			},
			StatusDown, []string{"catalog"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			for name, check := range tt.checks {
				c.Register(name, check)
			}
			report := c.Run(context.Background())
			if report.Status != tt.want {
				t.Errorf("status = %s, want %s", report.Status, tt.want)
			}
			if got := report.Down(); !slices.Equal(got, tt.down) {
				t.Errorf("down = %v, want %v", got, tt.down)
			}
			if len(report.Components) != len(tt.checks) {
				t.Errorf("components = %d, want %d", len(report.Components), len(tt.checks))
			}
		})
	}
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.Register("catalog", PingCheck(down, StatusDown))

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status code = %d, want 503", rec.Code)
	}
	var report Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if report.Components["catalog"].Message != "connection refused" {
		t.Errorf("catalog message = %q", report.Components["catalog"].Message)
	}
}
