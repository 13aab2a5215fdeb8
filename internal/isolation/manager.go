// Package isolation confines every file mutation of a remediation run to a
// dedicated git branch. A Session is opened from a base ref, commits each
// accepted fix as its own commit, restores abandoned files from an in-memory
// snapshot, and on close proves that the base branch tip did not move. The
// session branch is left for human review; nothing is merged or pushed.
package isolation

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultBranchPrefix is the first segment of session branch names.
const DefaultBranchPrefix = "optifix"

// Options configures a Manager.
type Options struct {
	BranchPrefix string        // default DefaultBranchPrefix
	Timeout      time.Duration // per git operation; default 30s
	StayOnBranch bool          // leave the session branch checked out on close
	Logger       *slog.Logger
	Now          func() time.Time
}

// Manager opens sessions against one repository.
type Manager struct {
	git    gitRunner
	root   string
	opts   Options
	logger *slog.Logger
}

// NewManager returns a Manager for the repository containing dir. It fails
// with ErrNotRepository when dir is not inside a git work tree.
func NewManager(ctx context.Context, dir string, opts Options) (*Manager, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return nil, fmt.Errorf("git not available: %w", err)
	}
	if opts.BranchPrefix == "" {
		opts.BranchPrefix = DefaultBranchPrefix
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	probe := gitRunner{dir: dir, timeout: opts.Timeout}
	top, err := probe.run(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotRepository, dir, err)
	}
	if resolved, err := filepath.EvalSymlinks(top); err == nil {
		top = resolved
	}
	return &Manager{
		git:    gitRunner{dir: top, timeout: opts.Timeout},
		root:   top,
		opts:   opts,
		logger: opts.Logger,
	}, nil
}

// Root returns the absolute path of the repository work tree.
func (m *Manager) Root() string { return m.root }

// TrackedFiles returns the absolute paths of all files under version control.
// Only tracked files can be restored by a session, so callers restrict
// remediation to this set.
func (m *Manager) TrackedFiles(ctx context.Context) (map[string]bool, error) {
	out, err := m.git.raw(ctx, "ls-files", "-z")
	if err != nil {
		return nil, err
	}
	files := make(map[string]bool)
	for _, rel := range strings.Split(out, "\x00") {
		if rel != "" {
			files[filepath.Join(m.root, filepath.FromSlash(rel))] = true
		}
	}
	return files, nil
}

// OpenSession creates and checks out a new branch at baseRef ("" means HEAD).
// It refuses to start on a dirty work tree or when the branch name is taken;
// both mean the starting state is unsafe.
func (m *Manager) OpenSession(ctx context.Context, baseRef string) (*Session, error) {
	if baseRef == "" {
		baseRef = "HEAD"
	}

	dirty, err := m.git.dirtyFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking work tree: %w", err)
	}
	if len(dirty) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrDirtyWorkTree, strings.Join(dirty, ", "))
	}

	original, err := m.git.currentBranch(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading current branch: %w", err)
	}
	originalHead, err := m.git.revParse(ctx, "HEAD")
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}
	baseSHA, err := m.git.revParse(ctx, baseRef)
	if err != nil {
		return nil, fmt.Errorf("resolving base %q: %w", baseRef, err)
	}

	protected := m.protectedRef(ctx, baseRef, original, baseSHA)
	tip, err := m.git.revParse(ctx, protected)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", protected, err)
	}

	now := m.opts.Now()
	branch := sessionBranch(m.opts.BranchPrefix, now)
	if m.git.branchExists(ctx, branch) {
		return nil, fmt.Errorf("%w: %s", ErrBranchExists, branch)
	}
	if _, err := m.git.run(ctx, "checkout", "-b", branch, baseSHA); err != nil {
		return nil, fmt.Errorf("creating session branch: %w", err)
	}

	s := &Session{
		mgr:            m,
		ID:             uuid.NewString(),
		Branch:         branch,
		BaseRef:        baseRef,
		BaseSHA:        baseSHA,
		OriginalBranch: original,
		OpenedAt:       now,
		originalHead:   originalHead,
		protectedRef:   protected,
		protectedTip:   tip,
		snapshots:      make(map[string]snapshot),
		records:        make(map[string]*FileRecord),
	}
	m.logger.Info("session opened",
		"session", s.ID, "branch", branch, "base", baseRef, "base_sha", shortSHA(baseSHA))
	return s, nil
}

// protectedRef names the ref whose tip must not move: the branch baseRef
// names, or the checked-out branch when baseRef is HEAD. A detached or
// non-branch base is protected by its commit ID alone.
func (m *Manager) protectedRef(ctx context.Context, baseRef, current, baseSHA string) string {
	switch {
	case baseRef == "HEAD" && current != "HEAD":
		return "refs/heads/" + current
	case baseRef != "HEAD" && m.git.branchExists(ctx, strings.TrimPrefix(baseRef, "refs/heads/")):
		return "refs/heads/" + strings.TrimPrefix(baseRef, "refs/heads/")
	default:
		return baseSHA
	}
}

// relPath converts path to a slash-separated path relative to the work tree.
func (m *Manager) relPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if dir, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		abs = filepath.Join(dir, filepath.Base(abs))
	}
	rel, err := filepath.Rel(m.root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", fmt.Errorf("%w: %s", ErrOutsideRepo, path)
	}
	return filepath.ToSlash(rel), nil
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
