package gitlimits

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/costgate/pkg/config"
)

const validLimits = `stable:
  openai:
    daily_units: 1000
`

// upstream is a source repository tests commit to.
type upstream struct {
	t    *testing.T
	dir  string
	repo *gogit.Repository
}

func newUpstream(t *testing.T, limits string) *upstream {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "upstream")
	repo, err := gogit.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("failed to init repo: %v", err)
	}
	u := &upstream{t: t, dir: dir, repo: repo}
	u.commit("limits.yaml", limits, "initial limits")
	return u
}

func (u *upstream) commit(name, content, msg string) string {
	u.t.Helper()

	full := filepath.Join(u.dir, name)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		u.t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		u.t.Fatalf("failed to write %s: %v", name, err)
	}

	wt, err := u.repo.Worktree()
	if err != nil {
		u.t.Fatalf("failed to get worktree: %v", err)
	}
	if _, err := wt.Add(name); err != nil {
		u.t.Fatalf("failed to add %s: %v", name, err)
	}
	hash, err := wt.Commit(msg, &gogit.CommitOptions{
		Author: &object.Signature{Name: "Test User", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		u.t.Fatalf("failed to commit: %v", err)
	}
	return hash.String()
}

func testConfig(t *testing.T, u *upstream) config.GitLimitsConfig {
	return config.GitLimitsConfig{
		Repository: u.dir,
		Branch:     "master", // go-git init creates "master"
		Path:       "limits.yaml",
		LocalPath:  filepath.Join(t.TempDir(), "clone"),
		Timeout:    10 * time.Second,
	}
}

func clonedRepo(t *testing.T, cfg config.GitLimitsConfig) *Repository {
	t.Helper()
	repo, err := NewRepository(cfg)
	if err != nil {
		t.Fatalf("NewRepository() error = %v", err)
	}
	if err := repo.Clone(context.Background()); err != nil {
		t.Fatalf("Clone() error = %v", err)
	}
	return repo
}

// ==================== Auth ====================

func TestAuthMethod(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.GitAuthConfig
		wantNil bool
		wantErr bool
	}{
		{"default", config.GitAuthConfig{}, true, false},
		{"none", config.GitAuthConfig{Type: "none"}, true, false},
		{"token", config.GitAuthConfig{Type: "token", Token: "ghp_x"}, false, false},
		{"token missing", config.GitAuthConfig{Type: "token"}, true, true},
		{"ssh missing key", config.GitAuthConfig{Type: "ssh"}, true, true},
		{"ssh key not found", config.GitAuthConfig{Type: "ssh", SSHKeyPath: "/nonexistent/id_ed25519"}, true, true},
		{"unknown", config.GitAuthConfig{Type: "kerberos"}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth, err := AuthMethod(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("AuthMethod() error = %v, wantErr %v", err, tt.wantErr)
			}
			if (auth == nil) != tt.wantNil {
				t.Errorf("AuthMethod() = %v, wantNil %v", auth, tt.wantNil)
			}
		})
	}
}

func TestAuthMethod_SSHKeyPermissions(t *testing.T) {
	key := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(key, []byte("not a key"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := AuthMethod(config.GitAuthConfig{Type: "ssh", SSHKeyPath: key})
	if err == nil {
		t.Fatal("expected error for world-readable key")
	}
}

// ==================== Repository ====================

func TestNewRepository_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.GitLimitsConfig
	}{
		{"empty repository", config.GitLimitsConfig{Branch: "main", Path: "limits.yaml"}},
		{"empty branch", config.GitLimitsConfig{Repository: "https://example.com/r.git", Path: "limits.yaml"}},
		{"empty path", config.GitLimitsConfig{Repository: "https://example.com/r.git", Branch: "main"}},
		{"bad auth", config.GitLimitsConfig{Repository: "https://example.com/r.git", Branch: "main", Path: "l.yaml", Auth: config.GitAuthConfig{Type: "token"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRepository(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRepository_NotCloned(t *testing.T) {
	repo, err := NewRepository(config.GitLimitsConfig{
		Repository: "https://example.com/r.git",
		Branch:     "main",
		Path:       "./limits/../limits.yaml",
	})
	if err != nil {
		t.Fatalf("NewRepository() error = %v", err)
	}

	if repo.LimitsFile() != "limits.yaml" {
		t.Errorf("LimitsFile() = %q, want limits.yaml", repo.LimitsFile())
	}
	if _, err := repo.Head(); err != ErrNotCloned {
		t.Errorf("Head() error = %v, want ErrNotCloned", err)
	}
	if _, err := repo.Pull(context.Background()); err != ErrNotCloned {
		t.Errorf("Pull() error = %v, want ErrNotCloned", err)
	}
	if _, err := repo.Load(); err != ErrNotCloned {
		t.Errorf("Load() error = %v, want ErrNotCloned", err)
	}
}

func TestRepository_CloneAndLoad(t *testing.T) {
	u := newUpstream(t, validLimits)
	repo := clonedRepo(t, testConfig(t, u))

	limits, err := repo.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := *limits["stable"]["openai"].DailyUnits; got != 1000 {
		t.Errorf("daily_units = %d, want 1000", got)
	}

	head, err := repo.Head()
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if head.Message != "initial limits" {
		t.Errorf("Head().Message = %q", head.Message)
	}
	if len(head.Short()) != 8 {
		t.Errorf("Short() = %q", head.Short())
	}
}

func TestRepository_CloneReopensExisting(t *testing.T) {
	u := newUpstream(t, validLimits)
	cfg := testConfig(t, u)
	first := clonedRepo(t, cfg)
	head, _ := first.Head()

	second := clonedRepo(t, cfg)
	again, err := second.Head()
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if again.SHA != head.SHA {
		t.Errorf("reopened HEAD = %s, want %s", again.SHA, head.SHA)
	}

	cfg.CleanOnStart = true
	third := clonedRepo(t, cfg)
	if _, err := third.Head(); err != nil {
		t.Errorf("Head() after clean clone error = %v", err)
	}
}

func TestRepository_Pull(t *testing.T) {
	u := newUpstream(t, validLimits)
	repo := clonedRepo(t, testConfig(t, u))
	ctx := context.Background()

	res, err := repo.Pull(ctx)
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if res.HadChanges {
		t.Errorf("Pull() with no upstream commits reported changes: %+v", res)
	}

	sha := u.commit("README.md", "limits\n", "docs")
	res, err = repo.Pull(ctx)
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if !res.HadChanges || res.ToSHA != sha {
		t.Fatalf("Pull() = %+v, want change to %s", res, sha)
	}
	if res.Touches("limits.yaml") || !res.Touches("README.md") {
		t.Errorf("ChangedFiles = %v", res.ChangedFiles)
	}
}

// ==================== Poller ====================

type applyRecorder struct {
	mu    sync.Mutex
	calls []config.LimitsConfig
}

func (a *applyRecorder) apply(l config.LimitsConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, l)
	return nil
}

func (a *applyRecorder) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func (a *applyRecorder) last() config.LimitsConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[len(a.calls)-1]
}

func TestPoller_Poll(t *testing.T) {
	u := newUpstream(t, validLimits)
	repo := clonedRepo(t, testConfig(t, u))
	rec := &applyRecorder{}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	p := NewPoller(repo, time.Hour, rec.apply, WithMetrics(metrics))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Stop()

	if err := p.Start(ctx); err != ErrPollerRunning {
		t.Errorf("second Start() error = %v, want ErrPollerRunning", err)
	}

	steps := []struct {
		name   string
		file   string
		body   string
		want   string
		calls  int
		amount int64
	}{
		{"no commits", "", "", ResultUnchanged, 0, 0},
		{"unrelated file", "README.md", "docs\n", ResultSkipped, 0, 0},
		{"limits raised", "limits.yaml", "stable:\n  openai:\n    daily_units: 2000\n", ResultApplied, 1, 2000},
		{"invalid limits", "limits.yaml", "stable:\n  openai:\n    daily_units: -5\n", ResultRejected, 1, 2000},
		{"unrelated after reject", "README.md", "more docs\n", ResultRejected, 1, 2000},
		{"limits fixed", "limits.yaml", "stable:\n  openai:\n    daily_units: 3000\n", ResultApplied, 2, 3000},
	}

	for _, step := range steps {
		var sha string
		if step.file != "" {
			sha = u.commit(step.file, step.body, step.name)
		}

		got, err := p.Poll(ctx)
		if err != nil {
			t.Fatalf("%s: Poll() error = %v", step.name, err)
		}
		if got != step.want {
			t.Errorf("%s: Poll() = %q, want %q", step.name, got, step.want)
		}
		if rec.count() != step.calls {
			t.Fatalf("%s: apply called %d times, want %d", step.name, rec.count(), step.calls)
		}
		if step.amount > 0 {
			if daily := *rec.last()["stable"]["openai"].DailyUnits; daily != step.amount {
				t.Errorf("%s: applied daily_units = %d, want %d", step.name, daily, step.amount)
			}
		}
		if step.want == ResultApplied && p.AppliedSHA() != sha {
			t.Errorf("%s: AppliedSHA() = %s, want %s", step.name, p.AppliedSHA(), sha)
		}
	}

	if got := testutil.ToFloat64(metrics.polls.WithLabelValues(ResultApplied)); got != 2 {
		t.Errorf("applied polls = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.polls.WithLabelValues(ResultRejected)); got != 2 {
		t.Errorf("rejected polls = %v, want 2", got)
	}
}

func TestPoller_BackgroundLoop(t *testing.T) {
	u := newUpstream(t, validLimits)
	repo := clonedRepo(t, testConfig(t, u))
	rec := &applyRecorder{}

	p := NewPoller(repo, 20*time.Millisecond, rec.apply)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	u.commit("limits.yaml", "stable:\n  openai:\n    daily_units: 5\n", "tighten")

	deadline := time.Now().Add(5 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	p.Stop()
	p.Stop()

	if rec.count() == 0 {
		t.Fatal("background poll never applied the new limits")
	}
}
