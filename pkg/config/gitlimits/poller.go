package gitlimits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mercator-hq/costgate/pkg/config"
)

// ErrPollerRunning is returned when Start is called twice.
var ErrPollerRunning = errors.New("poller already running")

// ApplyFunc installs a validated limits table.
type ApplyFunc func(config.LimitsConfig) error

// Result labels for poll outcomes.
const (
	ResultUnchanged = "unchanged"
	ResultSkipped   = "skipped"
	ResultApplied   = "applied"
	ResultRejected  = "rejected"
	ResultError     = "error"
)

// Metrics counts poll outcomes. A nil *Metrics records nothing.
type Metrics struct {
	polls       *prometheus.CounterVec
	lastApplied prometheus.Gauge
}

// NewMetrics registers poller metrics with reg. A nil reg uses the default
// Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		polls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costgate_limits_git_polls_total",
				Help: "Limits repository polls by outcome",
			},
			[]string{"result"},
		),
		lastApplied: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "costgate_limits_git_last_applied_timestamp_seconds",
				Help: "Unix time the limits table was last applied from Git",
			},
		),
	}
}

func (m *Metrics) recordPoll(result string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(result).Inc()
	if result == ResultApplied {
		m.lastApplied.SetToCurrentTime()
	}
}

// Option configures a Poller.
type Option func(*Poller)

// WithLogger sets the poller's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics attaches poll metrics.
func WithMetrics(m *Metrics) Option {
	return func(p *Poller) {
		p.metrics = m
	}
}

// Poller pulls the limits repository on an interval and applies the limits
// file whenever a new commit changes it.
//
// A commit whose limits fail to parse or validate is rejected: the error is
// logged, apply is not called, and the last applied table stays in force
// until a later commit fixes the file.
type Poller struct {
	repo     *Repository
	interval time.Duration
	apply    ApplyFunc
	logger   *slog.Logger
	metrics  *Metrics

	mu          sync.Mutex
	appliedSHA  string
	rejectedSHA string
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewPoller creates a poller. The commit checked out when Start is called
// is assumed to be applied already.
func NewPoller(repo *Repository, interval time.Duration, apply ApplyFunc, opts ...Option) *Poller {
	if interval <= 0 {
		interval = config.DefaultGitPollInterval
	}
	p := &Poller{
		repo:     repo,
		interval: interval,
		apply:    apply,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "limits-git")
	return p
}

// Start records the current commit and begins polling in the background
// until ctx is cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) error {
	head, err := p.repo.Head()
	if err != nil {
		return fmt.Errorf("failed to get initial commit: %w", err)
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrPollerRunning
	}
	p.running = true
	p.appliedSHA = head.SHA
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	p.logger.Info("polling limits repository",
		"source", p.repo.Describe(),
		"interval", p.interval,
		"commit", head.Short())

	go p.loop(ctx)
	return nil
}

// Stop ends polling and waits for an in-flight poll to finish. It is safe
// to call more than once.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	done := p.doneCh
	p.mu.Unlock()

	<-done
}

// AppliedSHA is the commit whose limits are in force.
func (p *Poller) AppliedSHA() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.appliedSHA
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if _, err := p.Poll(ctx); err != nil {
				p.logger.Error("limits poll failed", "error", err)
			}
		}
	}
}

// Poll pulls once and applies the limits file if the new commit changed it.
// It returns the outcome label.
func (p *Poller) Poll(ctx context.Context) (string, error) {
	result, err := p.poll(ctx)
	p.metrics.recordPoll(result)
	return result, err
}

func (p *Poller) poll(ctx context.Context) (string, error) {
	pull, err := p.repo.Pull(ctx)
	if err != nil {
		return ResultError, err
	}

	p.mu.Lock()
	applied, rejected := p.appliedSHA, p.rejectedSHA
	p.mu.Unlock()

	if !pull.HadChanges || pull.ToSHA == applied || pull.ToSHA == rejected {
		return ResultUnchanged, nil
	}

	// A rejected commit leaves appliedSHA behind HEAD, so the pull diff
	// alone can miss a fix that only landed in the rejected range.
	if pull.FromSHA == applied && !pull.Touches(p.repo.LimitsFile()) {
		p.logger.Debug("limits file unchanged, skipping reload",
			"to", shortSHA(pull.ToSHA),
			"changed_files", len(pull.ChangedFiles))
		p.mu.Lock()
		p.appliedSHA = pull.ToSHA
		p.mu.Unlock()
		return ResultSkipped, nil
	}

	limits, err := p.repo.Load()
	if err != nil {
		p.mu.Lock()
		p.rejectedSHA = pull.ToSHA
		p.mu.Unlock()
		p.logger.Warn("rejected limits commit, keeping previous limits",
			"commit", shortSHA(pull.ToSHA),
			"applied", shortSHA(applied),
			"error", err)
		return ResultRejected, nil
	}

	if err := p.apply(limits); err != nil {
		return ResultError, fmt.Errorf("failed to apply limits from %s: %w", shortSHA(pull.ToSHA), err)
	}

	p.mu.Lock()
	p.appliedSHA = pull.ToSHA
	p.rejectedSHA = ""
	p.mu.Unlock()

	p.logger.Info("limits reloaded from git",
		"commit", shortSHA(pull.ToSHA),
		"pairs", countPairs(limits))
	return ResultApplied, nil
}

func shortSHA(sha string) string {
	return Commit{SHA: sha}.Short()
}

func countPairs(limits config.LimitsConfig) int {
	n := 0
	for _, row := range limits {
		n += len(row)
	}
	return n
}
