package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNew_DefaultTimeout(t *testing.T) {
	c := New(0, "")
	if c.timeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got %v", c.timeout)
	}
}

func TestCheck_NoChecksIsOK(t *testing.T) {
	report := New(time.Second, "v1").Check(context.Background())

	if report.Status != StatusOK {
		t.Errorf("expected status %q, got %q", StatusOK, report.Status)
	}
	if report.Version != "v1" {
		t.Errorf("expected version v1, got %q", report.Version)
	}
	if len(report.Checks) != 0 {
		t.Errorf("expected no checks, got %d", len(report.Checks))
	}
}

func TestCheck_Aggregates(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]CheckFunc
		want   string
	}{
		{
			name: "all healthy",
			checks: map[string]CheckFunc{
				"ledger":    func(context.Context) error { return nil },
				"providers": func(context.Context) error { return nil },
			},
			want: StatusOK,
		},
		{
			name: "one failing",
			checks: map[string]CheckFunc{
				"ledger":    func(context.Context) error { return nil },
				"providers": func(context.Context) error { return errors.New("openai unhealthy") },
			},
			want: StatusDegraded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(time.Second, "")
			for name, check := range tt.checks {
				c.Register(name, check)
			}

			report := c.Check(context.Background())
			if report.Status != tt.want {
				t.Errorf("expected status %q, got %q", tt.want, report.Status)
			}
			if len(report.Checks) != len(tt.checks) {
				t.Errorf("expected %d results, got %d", len(tt.checks), len(report.Checks))
			}
		})
	}
}

func TestCheck_Timeout(t *testing.T) {
	c := New(20*time.Millisecond, "")
	c.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(500 * time.Millisecond)
		return nil
	})

	start := time.Now()
	report := c.Check(context.Background())

	if time.Since(start) > 250*time.Millisecond {
		t.Errorf("expected check to return at the timeout, took %v", time.Since(start))
	}
	if report.Checks["slow"].Status != CheckUnhealthy {
		t.Errorf("expected slow check unhealthy, got %q", report.Checks["slow"].Status)
	}
}

func TestHandler(t *testing.T) {
	c := New(time.Second, "")
	c.Register("ledger", func(context.Context) error { return nil })

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	var report Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if report.Checks["ledger"].Status != CheckOK {
		t.Errorf("expected ledger ok, got %+v", report.Checks["ledger"])
	}

	c.Register("storage", func(context.Context) error { return errors.New("disk full") })
	rec = httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rec.Code)
	}
}

func TestNames(t *testing.T) {
	c := New(time.Second, "")
	c.Register("b", func(context.Context) error { return nil })
	c.Register("a", func(context.Context) error { return nil })

	names := c.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("expected [a b], got %v", names)
	}
}
