package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/costgate/pkg/config"
	"mercator-hq/costgate/pkg/ledger"
	"mercator-hq/costgate/pkg/ledger/storage"
	"mercator-hq/costgate/pkg/telemetry/health"
	"mercator-hq/costgate/pkg/telemetry/metrics"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testServerConfig() *config.ServerConfig {
	return &config.ServerConfig{
		ListenAddress:   "127.0.0.1:0",
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		IdleTimeout:     time.Second,
		ShutdownTimeout: time.Second,
	}
}

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	daily := int64(1000)
	l, err := ledger.New(context.Background(), ledger.Config{
		Limits: ledger.Limits{
			ledger.LaneStable: {"openai": {DailyUnits: &daily}},
		},
		Storage: storage.NewMemoryBackend(),
		Logger:  quietLogger(),
	})
	if err != nil {
		t.Fatalf("ledger.New() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func newTestServer(t *testing.T, cfg *config.ServerConfig, l Ledger) *httptest.Server {
	t.Helper()
	reg := metrics.NewRegistry()
	ledger.NewMetrics(reg)

	s := New(cfg, Options{
		Ledger:   l,
		Registry: reg,
		Logger:   quietLogger(),
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

// ==================================================================
// Ledger endpoints
// ==================================================================

func TestLedgerEndpoints(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	key := ledger.GlobalKey(ledger.LaneStable, "openai")
	userKey := ledger.UserKey("alice", ledger.LaneStable, "openai")

	settled := ledger.NewReservationID()
	if err := l.Reserve(ctx, key, settled, ledger.Usage{InputUnits: 100}); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if err := l.Commit(ctx, key, settled, ledger.Usage{InputUnits: 100, OutputUnits: 50, Cost: 0.5}); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	id := ledger.NewReservationID()
	if err := l.Reserve(ctx, userKey, id, ledger.Usage{InputUnits: 10}); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}

	srv := newTestServer(t, testServerConfig(), l)

	t.Run("document", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/v1/ledger")
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected status 200, got %d", resp.StatusCode)
		}

		var body struct {
			GlobalBuckets map[string]storage.BucketRecord            `json:"global_buckets"`
			UserBuckets   map[string]map[string]storage.BucketRecord `json:"user_buckets"`
			Outstanding   int                                        `json:"outstanding_reservations"`
		}
		decode(t, resp, &body)

		if body.Outstanding != 1 {
			t.Errorf("expected 1 outstanding reservation, got %d", body.Outstanding)
		}
		if got := body.UserBuckets["alice"]["stable:openai"].Reserved.InputUnits; got != 10 {
			t.Errorf("expected alice reserved 10, got %d", got)
		}
	})

	t.Run("user bucket", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/v1/ledger/stable/openai?user=alice")
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected status 200, got %d", resp.StatusCode)
		}

		var body bucketResponse
		decode(t, resp, &body)
		if body.UserID != "alice" || body.Bucket.Reserved.InputUnits != 10 {
			t.Errorf("unexpected bucket response: %+v", body)
		}
	})

	t.Run("unknown bucket", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/v1/ledger/burn/openai")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", resp.StatusCode)
		}
	})
}

// ==================================================================
// Hard stop
// ==================================================================

func TestHardStop(t *testing.T) {
	l := newTestLedger(t)
	srv := newTestServer(t, testServerConfig(), l)
	key := ledger.GlobalKey(ledger.LaneStable, "openai")

	post := func(body string) *http.Response {
		resp, err := http.Post(srv.URL+"/v1/hardstop", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	resp := post(`{"lane":"stable","provider":"openai","stopped":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	var body bucketResponse
	decode(t, resp, &body)
	if !body.Bucket.HardStopped {
		t.Error("expected hard_stopped in response")
	}

	d := l.CanCall(context.Background(), key, ledger.Usage{InputUnits: 1})
	if d.Allowed || d.Reason != "hard stop active" {
		t.Errorf("expected hard stop denial, got %+v", d)
	}

	resp = post(`{"lane":"stable","provider":"openai","stopped":false}`)
	resp.Body.Close()
	if !l.CanCall(context.Background(), key, ledger.Usage{InputUnits: 1}).Allowed {
		t.Error("expected admission after clearing hard stop")
	}
}

func TestHardStop_BadRequests(t *testing.T) {
	srv := newTestServer(t, testServerConfig(), newTestLedger(t))

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"lane":`},
		{"unknown field", `{"lane":"stable","provider":"openai","stop":true}`},
		{"missing provider", `{"lane":"stable","stopped":true}`},
		{"lane with colon", `{"lane":"a:b","provider":"openai","stopped":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/v1/hardstop", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestHardStop_AdminToken(t *testing.T) {
	cfg := testServerConfig()
	cfg.AdminToken = "s3cret"
	srv := newTestServer(t, cfg, newTestLedger(t))

	body := `{"lane":"stable","provider":"openai","stopped":true}`

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"correct token", "Bearer s3cret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/hardstop", strings.NewReader(body))
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

// failingLedger fails persistence for hard-stop updates.
type failingLedger struct {
	Ledger
}

func (failingLedger) SetHardStop(context.Context, ledger.Key, bool) error {
	return errors.New("disk full")
}

func TestHardStop_PersistFailure(t *testing.T) {
	srv := newTestServer(t, testServerConfig(), failingLedger{Ledger: newTestLedger(t)})

	resp, err := http.Post(srv.URL+"/v1/hardstop", "application/json",
		bytes.NewBufferString(`{"lane":"stable","provider":"openai","stopped":true}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", resp.StatusCode)
	}
}

// ==================================================================
// Health, metrics, middleware
// ==================================================================

func TestHealthAndMetrics(t *testing.T) {
	l := newTestLedger(t)
	checker := health.New(time.Second, "test")
	checker.Register("ledger", func(context.Context) error { return nil })

	reg := metrics.NewRegistry()
	m := ledger.NewMetrics(reg)
	m.RecordPersistError()

	s := New(testServerConfig(), Options{
		Ledger:   l,
		Health:   checker,
		Registry: reg,
		Logger:   quietLogger(),
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	var report health.Report
	decode(t, resp, &report)
	if report.Status != health.StatusOK || report.Version != "test" {
		t.Errorf("unexpected health report: %+v", report)
	}
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID header")
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(raw), "costgate_ledger_persist_errors_total 1") {
		t.Error("expected ledger metrics in exposition")
	}
}

func TestMetricsDisabled(t *testing.T) {
	s := New(testServerConfig(), Options{Ledger: newTestLedger(t), Logger: quietLogger()})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", resp.StatusCode)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	srv := newTestServer(t, testServerConfig(), newTestLedger(t))

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/ledger", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if got := resp.Header.Get(RequestIDHeader); got != "req-123" {
		t.Errorf("expected request id %q, got %q", "req-123", got)
	}
}

type panickingLedger struct {
	Ledger
}

func (panickingLedger) Document() *storage.Document {
	panic("boom")
}

func TestRecovery(t *testing.T) {
	srv := newTestServer(t, testServerConfig(), panickingLedger{Ledger: newTestLedger(t)})

	resp, err := http.Get(srv.URL + "/v1/ledger")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", resp.StatusCode)
	}
}

// ==================================================================
// Lifecycle
// ==================================================================

func TestStartAndShutdown(t *testing.T) {
	s := New(testServerConfig(), Options{Ledger: newTestLedger(t), Logger: quietLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !s.IsRunning() {
		t.Fatal("expected server to be running")
	}

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
	if s.IsRunning() {
		t.Error("expected server to be stopped")
	}
}
