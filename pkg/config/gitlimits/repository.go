package gitlimits

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"mercator-hq/costgate/pkg/config"
)

// ErrNotCloned is returned by operations that need a local clone.
var ErrNotCloned = errors.New("repository not initialized, call Clone() first")

// Commit describes the checked-out HEAD.
type Commit struct {
	SHA       string
	Author    string
	Timestamp time.Time
	Message   string
}

// Short returns the abbreviated SHA.
func (c Commit) Short() string {
	if len(c.SHA) > 8 {
		return c.SHA[:8]
	}
	return c.SHA
}

// PullResult reports what a pull changed.
type PullResult struct {
	FromSHA      string
	ToSHA        string
	HadChanges   bool
	ChangedFiles []string
}

// Touches reports whether file (slash-separated, relative to the repository
// root) is among the changed files.
func (p *PullResult) Touches(file string) bool {
	for _, f := range p.ChangedFiles {
		if f == file {
			return true
		}
	}
	return false
}

// Repository is a local clone of the limits repository.
type Repository struct {
	cfg       config.GitLimitsConfig
	limitsRel string
	auth      transport.AuthMethod

	mu   sync.RWMutex
	repo *gogit.Repository
}

// NewRepository validates cfg and resolves its credentials. Nothing is
// fetched until Clone.
func NewRepository(cfg config.GitLimitsConfig) (*Repository, error) {
	if cfg.Repository == "" {
		return nil, fmt.Errorf("repository URL cannot be empty")
	}
	if cfg.Branch == "" {
		return nil, fmt.Errorf("branch cannot be empty")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("limits path cannot be empty")
	}
	if cfg.LocalPath == "" {
		cfg.LocalPath = config.DefaultGitLocalPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultGitTimeout
	}

	auth, err := AuthMethod(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth: %w", err)
	}

	return &Repository{
		cfg:       cfg,
		limitsRel: path.Clean(filepath.ToSlash(cfg.Path)),
		auth:      auth,
	}, nil
}

// Clone makes the local clone, or opens an existing one unless CleanOnStart
// is set.
func (r *Repository) Clone(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.CleanOnStart {
		if err := os.RemoveAll(r.cfg.LocalPath); err != nil {
			return fmt.Errorf("failed to clean existing repository: %w", err)
		}
	}

	if _, err := os.Stat(filepath.Join(r.cfg.LocalPath, ".git")); err == nil {
		repo, err := gogit.PlainOpen(r.cfg.LocalPath)
		if err != nil {
			return fmt.Errorf("failed to open existing repo: %w", err)
		}
		r.repo = repo
		return nil
	}

	if err := os.MkdirAll(r.cfg.LocalPath, 0o755); err != nil {
		return fmt.Errorf("failed to create repository directory: %w", err)
	}

	cloneCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	repo, err := gogit.PlainCloneContext(cloneCtx, r.cfg.LocalPath, false, &gogit.CloneOptions{
		URL:           r.cfg.Repository,
		Auth:          r.auth,
		ReferenceName: plumbing.NewBranchReferenceName(r.cfg.Branch),
		SingleBranch:  true,
		Depth:         r.cfg.Depth,
	})
	if err != nil {
		return fmt.Errorf("failed to clone %s: %w", r.cfg.Repository, err)
	}

	r.repo = repo
	return nil
}

// Pull fast-forwards the clone to the remote branch and lists the files the
// update touched.
func (r *Repository) Pull(ctx context.Context) (*PullResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.repo == nil {
		return nil, ErrNotCloned
	}

	ref, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD: %w", err)
	}
	from := ref.Hash()

	worktree, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}

	pullCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	err = worktree.PullContext(pullCtx, &gogit.PullOptions{
		RemoteName:    "origin",
		ReferenceName: plumbing.NewBranchReferenceName(r.cfg.Branch),
		SingleBranch:  true,
		Auth:          r.auth,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return nil, fmt.Errorf("failed to pull: %w", err)
	}

	newRef, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get new HEAD: %w", err)
	}
	to := newRef.Hash()

	result := &PullResult{
		FromSHA:    from.String(),
		ToSHA:      to.String(),
		HadChanges: from != to,
	}
	if result.HadChanges {
		files, err := r.changedFiles(from, to)
		if err != nil {
			return nil, fmt.Errorf("failed to get changed files: %w", err)
		}
		result.ChangedFiles = files
	}
	return result, nil
}

// changedFiles diffs two commits. Caller must hold the lock.
func (r *Repository) changedFiles(from, to plumbing.Hash) ([]string, error) {
	fromCommit, err := r.repo.CommitObject(from)
	if err != nil {
		return nil, fmt.Errorf("failed to get from commit: %w", err)
	}
	toCommit, err := r.repo.CommitObject(to)
	if err != nil {
		return nil, fmt.Errorf("failed to get to commit: %w", err)
	}

	fromTree, err := fromCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get from tree: %w", err)
	}
	toTree, err := toCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get to tree: %w", err)
	}

	changes, err := fromTree.Diff(toTree)
	if err != nil {
		return nil, fmt.Errorf("failed to diff trees: %w", err)
	}

	files := make([]string, 0, len(changes))
	for _, change := range changes {
		if change.To.Name != "" {
			files = append(files, change.To.Name)
		} else {
			// deleted
			files = append(files, change.From.Name)
		}
	}
	return files, nil
}

// Head returns the checked-out commit.
func (r *Repository) Head() (*Commit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.repo == nil {
		return nil, ErrNotCloned
	}

	ref, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD: %w", err)
	}
	c, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to get commit: %w", err)
	}

	return &Commit{
		SHA:       c.Hash.String(),
		Author:    c.Author.Name,
		Timestamp: c.Author.When,
		Message:   c.Message,
	}, nil
}

// LimitsFile is the slash-separated limits path within the repository.
func (r *Repository) LimitsFile() string {
	return r.limitsRel
}

// LimitsPath is the limits file's location in the local clone.
func (r *Repository) LimitsPath() string {
	return filepath.Join(r.cfg.LocalPath, filepath.FromSlash(r.limitsRel))
}

// Load parses and validates the limits file at the checked-out commit.
func (r *Repository) Load() (config.LimitsConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.repo == nil {
		return nil, ErrNotCloned
	}
	return config.LoadLimits(r.LimitsPath())
}

// Describe names the source for logs.
func (r *Repository) Describe() string {
	return fmt.Sprintf("%s@%s:%s", r.cfg.Repository, r.cfg.Branch, r.limitsRel)
}
