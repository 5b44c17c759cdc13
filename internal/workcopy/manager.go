package workcopy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/config"
	"github.com/fyrsmithlabs/triaged/internal/logging"
)

const (
	remoteName    = "origin"
	tokenUsername = "x-access-token"
)

// ErrPathEscapesRoot is returned for paths outside the working copy.
var ErrPathEscapesRoot = errors.New("path escapes working copy root")

// Config describes the clone.
type Config struct {
	Path          string
	URL           string
	DefaultBranch string
	Token         config.Secret
	AuthorName    string
	AuthorEmail   string
}

// FromRepoConfig maps the application repo section.
func FromRepoConfig(c config.RepoConfig) Config {
	return Config{
		Path:          c.Path,
		URL:           c.URL,
		DefaultBranch: c.DefaultBranch,
		Token:         c.Token,
		AuthorName:    c.AuthorName,
		AuthorEmail:   c.AuthorEmail,
	}
}

// Manager owns the working copy.
type Manager struct {
	cfg    Config
	logger *logging.Logger
	now    func() time.Time

	mu   sync.Mutex
	repo *git.Repository
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a Manager. Nothing touches disk until EnsureSynced.
func New(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.Path == "" {
		return nil, errors.New("working copy path is required")
	}
	if cfg.DefaultBranch == "" {
		cfg.DefaultBranch = "main"
	}
	if cfg.AuthorName == "" {
		cfg.AuthorName = "triaged"
	}
	if cfg.AuthorEmail == "" {
		cfg.AuthorEmail = "triaged@localhost"
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolving working copy path: %w", err)
	}
	cfg.Path = abs

	m := &Manager{cfg: cfg, logger: logging.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Root returns the absolute working copy path.
func (m *Manager) Root() string { return m.cfg.Path }

// DefaultBranch returns the branch the tree rests on between events.
func (m *Manager) DefaultBranch() string { return m.cfg.DefaultBranch }

func (m *Manager) defaultRef() plumbing.ReferenceName {
	return plumbing.NewBranchReferenceName(m.cfg.DefaultBranch)
}

// auth returns token credentials for http(s) remotes and nil otherwise.
func (m *Manager) auth() transport.AuthMethod {
	if !m.cfg.Token.IsSet() || m.cfg.URL == "" {
		return nil
	}
	ep, err := transport.NewEndpoint(m.cfg.URL)
	if err != nil || (ep.Protocol != "http" && ep.Protocol != "https") {
		return nil
	}
	return &githttp.BasicAuth{Username: tokenUsername, Password: m.cfg.Token.Value()}
}

// EnsureSynced clones the repository if absent, otherwise fetches origin
// and hard-resets the default branch to the remote head. Untracked files
// left by earlier runs are removed. Calling it repeatedly is safe.
func (m *Manager) EnsureSynced(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(filepath.Join(m.cfg.Path, ".git")); errors.Is(err, os.ErrNotExist) {
		return m.clone(ctx)
	}

	repo, err := m.open()
	if err != nil {
		return err
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remoteName,
		RefSpecs:   []gitconfig.RefSpec{"+refs/heads/*:refs/remotes/origin/*"},
		Auth:       m.auth(),
		Prune:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetching %s: %w", remoteName, err)
	}

	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName(remoteName, m.cfg.DefaultBranch), true)
	if err != nil {
		return fmt.Errorf("resolving %s/%s: %w", remoteName, m.cfg.DefaultBranch, err)
	}

	if err := m.checkoutDefault(repo, remoteRef.Hash()); err != nil {
		return err
	}

	m.logger.Debug(ctx, "working copy synced",
		zap.String("branch", m.cfg.DefaultBranch),
		zap.String("head", remoteRef.Hash().String()))
	return nil
}

func (m *Manager) clone(ctx context.Context) error {
	if m.cfg.URL == "" {
		return errors.New("repo.url is required to clone the working copy")
	}
	if err := os.MkdirAll(filepath.Dir(m.cfg.Path), 0o755); err != nil {
		return fmt.Errorf("creating working copy parent: %w", err)
	}

	repo, err := git.PlainCloneContext(ctx, m.cfg.Path, false, &git.CloneOptions{
		URL:           m.cfg.URL,
		RemoteName:    remoteName,
		ReferenceName: m.defaultRef(),
		Auth:          m.auth(),
	})
	if err != nil {
		return fmt.Errorf("cloning %s: %w", redactURL(m.cfg.URL), err)
	}
	m.repo = repo

	m.logger.Info(ctx, "working copy cloned",
		zap.String("path", m.cfg.Path),
		zap.String("branch", m.cfg.DefaultBranch))
	return nil
}

func (m *Manager) open() (*git.Repository, error) {
	if m.repo != nil {
		return m.repo, nil
	}
	repo, err := git.PlainOpen(m.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening working copy: %w", err)
	}
	m.repo = repo
	return repo, nil
}

// checkoutDefault force-checks-out the default branch at hash and removes
// untracked files.
func (m *Manager) checkoutDefault(repo *git.Repository, hash plumbing.Hash) error {
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}

	ref := plumbing.NewHashReference(m.defaultRef(), hash)
	if err := repo.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("updating %s: %w", m.cfg.DefaultBranch, err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: m.defaultRef(), Force: true}); err != nil {
		return fmt.Errorf("checking out %s: %w", m.cfg.DefaultBranch, err)
	}
	if err := wt.Reset(&git.ResetOptions{Commit: hash, Mode: git.HardReset}); err != nil {
		return fmt.Errorf("resetting %s: %w", m.cfg.DefaultBranch, err)
	}
	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return fmt.Errorf("cleaning worktree: %w", err)
	}
	return nil
}

// resolve maps a repository-relative path to an absolute path inside the
// working copy.
func (m *Manager) resolve(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("%w: %q", ErrPathEscapesRoot, rel)
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathEscapesRoot, rel)
	}
	if clean == ".git" || strings.HasPrefix(clean, ".git"+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathEscapesRoot, rel)
	}
	return filepath.Join(m.cfg.Path, clean), nil
}

// ReadFile reads a repository-relative file from the working copy.
func (m *Manager) ReadFile(rel string) ([]byte, error) {
	abs, err := m.resolve(rel)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return os.ReadFile(abs)
}

// CreateBranch creates and checks out name at the default branch head.
// A stale local branch of the same name is replaced.
func (m *Manager) CreateBranch(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	repo, err := m.open()
	if err != nil {
		return err
	}
	base, err := repo.Reference(m.defaultRef(), true)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", m.cfg.DefaultBranch, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}

	branch := plumbing.NewBranchReferenceName(name)
	if err := repo.Storer.SetReference(plumbing.NewHashReference(branch, base.Hash())); err != nil {
		return fmt.Errorf("creating branch %s: %w", name, err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: branch, Force: true}); err != nil {
		return fmt.Errorf("checking out %s: %w", name, err)
	}

	m.logger.Debug(ctx, "branch created",
		zap.String("branch", name),
		zap.String("base", base.Hash().String()))
	return nil
}

// WriteFile replaces the content of rel and stages it.
func (m *Manager) WriteFile(_ context.Context, rel, content string) error {
	abs, err := m.resolve(rel)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	repo, err := m.open()
	if err != nil {
		return err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("creating parent of %s: %w", rel, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	if _, err := wt.Add(filepath.ToSlash(filepath.Clean(filepath.FromSlash(rel)))); err != nil {
		return fmt.Errorf("staging %s: %w", rel, err)
	}
	return nil
}

// Commit records the staged changes and returns the commit hash.
func (m *Manager) Commit(_ context.Context, message string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	repo, err := m.open()
	if err != nil {
		return "", err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("opening worktree: %w", err)
	}

	sig := &object.Signature{Name: m.cfg.AuthorName, Email: m.cfg.AuthorEmail, When: m.now()}
	hash, err := wt.Commit(message, &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}
	return hash.String(), nil
}

// Push publishes branch to origin.
func (m *Manager) Push(ctx context.Context, branch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	repo, err := m.open()
	if err != nil {
		return err
	}
	ref := plumbing.NewBranchReferenceName(branch)
	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(ref + ":" + ref)},
		Auth:       m.auth(),
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("pushing %s: %w", branch, err)
	}
	return nil
}

// Reset returns the tree to the default branch head and deletes the local
// branch. It is safe to call after a partial failure.
func (m *Manager) Reset(ctx context.Context, branch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	repo, err := m.open()
	if err != nil {
		return err
	}
	base, err := repo.Reference(m.defaultRef(), true)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", m.cfg.DefaultBranch, err)
	}
	if err := m.checkoutDefault(repo, base.Hash()); err != nil {
		return err
	}

	if branch != "" && branch != m.cfg.DefaultBranch {
		ref := plumbing.NewBranchReferenceName(branch)
		if err := repo.Storer.RemoveReference(ref); err != nil {
			return fmt.Errorf("deleting branch %s: %w", branch, err)
		}
	}

	m.logger.Debug(ctx, "working copy reset",
		zap.String("branch", m.cfg.DefaultBranch),
		zap.String("removed", branch))
	return nil
}

// redactURL strips userinfo from a remote URL for error messages.
func redactURL(raw string) string {
	ep, err := transport.NewEndpoint(raw)
	if err != nil || ep.User == "" && ep.Password == "" {
		return raw
	}
	ep.User, ep.Password = "", ""
	return ep.String()
}
