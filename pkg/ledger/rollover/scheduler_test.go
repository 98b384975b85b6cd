package rollover

import (
	"context"
	"sync"
	"testing"
	"time"

	"mercator-hq/costgate/pkg/ledger"
)

// recordingLedger counts scheduler calls.
type recordingLedger struct {
	mu        sync.Mutex
	rollovers int
	sweeps    []time.Duration
}

func (r *recordingLedger) Rollover(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollovers++
	return 1, nil
}

func (r *recordingLedger) ExpireReservations(ctx context.Context, maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweeps = append(r.sweeps, maxAge)
	return 0
}

func (r *recordingLedger) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rollovers, len(r.sweeps)
}

func TestScheduler_Start(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		wantRunning bool
		wantError   bool
	}{
		{name: "default schedule", config: Config{}, wantRunning: true},
		{name: "tokyo midnight", config: Config{Schedule: "0 0 * * *", Location: time.FixedZone("JST", 9*3600)}, wantRunning: true},
		{name: "with sweep", config: Config{ReservationTTL: time.Minute, SweepSchedule: "@every 30s"}, wantRunning: true},
		{name: "invalid schedule", config: Config{Schedule: "not cron"}, wantError: true},
		{name: "invalid sweep", config: Config{ReservationTTL: time.Minute, SweepSchedule: "sometimes"}, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingLedger{}
			s := NewScheduler(rec, tt.config)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			err := s.Start(ctx)
			if (err != nil) != tt.wantError {
				t.Fatalf("Start() error = %v, wantError %v", err, tt.wantError)
			}
			defer s.Stop()

			if s.IsRunning() != tt.wantRunning {
				t.Errorf("IsRunning() = %v, want %v", s.IsRunning(), tt.wantRunning)
			}
			if !tt.wantRunning {
				return
			}

			if rollovers, _ := rec.counts(); rollovers != 1 {
				t.Errorf("Expected one catch-up rollover on start, got %d", rollovers)
			}
			next := s.NextRun()
			if next == nil {
				t.Fatal("NextRun() returned nil for running scheduler")
			}
			if !next.After(time.Now()) {
				t.Errorf("NextRun() = %v, expected a future time", next)
			}
		})
	}
}

func TestScheduler_StopOnContextCancel(t *testing.T) {
	s := NewScheduler(&recordingLedger{}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for s.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.IsRunning() {
		t.Error("Expected scheduler to stop after context cancellation")
	}
}

// TestScheduler_RunOnceRotatesLedger drives a real ledger across midnight.
func TestScheduler_RunOnceRotatesLedger(t *testing.T) {
	now := time.Date(2026, 10, 17, 23, 59, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	l, err := ledger.New(context.Background(), ledger.Config{Location: time.UTC, Now: clock})
	if err != nil {
		t.Fatalf("ledger.New failed: %v", err)
	}
	defer l.Close()

	ctx := context.Background()
	key := ledger.GlobalKey(ledger.LaneStable, "openai")
	_ = l.Reserve(ctx, key, "r1", ledger.Usage{InputUnits: 10})
	_ = l.Commit(ctx, key, "r1", ledger.Usage{InputUnits: 10})

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	NewScheduler(l, Config{Location: time.UTC}).RunOnce(ctx)

	rec := l.Document().GlobalBuckets["stable:openai"]
	if rec.WindowDay != "2026-10-18" {
		t.Errorf("Expected window 2026-10-18, got %s", rec.WindowDay)
	}
	if rec.Daily.InputUnits != 0 || rec.Committed.InputUnits != 10 {
		t.Errorf("Unexpected counters after rollover: daily=%+v committed=%+v", rec.Daily, rec.Committed)
	}
}
