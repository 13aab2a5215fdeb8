package isolation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/papapumpkin/optifix/internal/patch"
)

// Outcome is the terminal state of one file in a session.
type Outcome string

const (
	OutcomeFixed              Outcome = "fixed"               // accepted patch committed
	OutcomeAbandonedUnchanged Outcome = "abandoned-unchanged" // never written
	OutcomeAbandonedReverted  Outcome = "abandoned-reverted"  // restored from snapshot
)

type snapshot struct {
	data   []byte
	mode   os.FileMode
	commit string // set once the file is committed
}

// Session is one remediation run's branch and bookkeeping. Its methods are
// safe for concurrent use, though the work tree itself must only have one
// writer.
type Session struct {
	mgr *Manager

	ID             string
	Branch         string
	BaseRef        string
	BaseSHA        string
	OriginalBranch string // "HEAD" when the session was opened detached
	OpenedAt       time.Time

	originalHead string
	protectedRef string
	protectedTip string

	mu        sync.Mutex
	snapshots map[string]snapshot
	records   map[string]*FileRecord
	order     []string
	closed    bool
	summary   *Summary
	closeErr  error
}

// Track snapshots path's current content so it can be restored later. It
// must be called before the first write; tracking a file twice keeps the
// first snapshot.
func (s *Session) Track(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	rel, err := s.mgr.relPath(path)
	if err != nil {
		return err
	}
	if _, ok := s.snapshots[rel]; ok {
		return nil
	}
	abs := s.abs(rel)
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("snapshotting %s: %w", rel, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("snapshotting %s: %w", rel, err)
	}
	s.snapshots[rel] = snapshot{data: data, mode: info.Mode().Perm()}
	return nil
}

// CommitFile records the current content of a tracked file as one commit on
// the session branch and returns the new commit ID. Only that file is
// staged. On failure the index entry is reset and the work tree is left for
// the caller to revert.
func (s *Session) CommitFile(ctx context.Context, path, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSessionClosed
	}
	rel, err := s.mgr.relPath(path)
	if err != nil {
		return "", err
	}
	snap, ok := s.snapshots[rel]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotTracked, rel)
	}
	if snap.commit != "" {
		return "", fmt.Errorf("%w: %s", ErrAlreadyCommitted, rel)
	}

	git := s.mgr.git
	current, err := git.currentBranch(ctx)
	if err != nil {
		return "", fmt.Errorf("checking current branch: %w", err)
	}
	if current != s.Branch {
		return "", fmt.Errorf("%w: expected %q, on %q", ErrWrongBranch, s.Branch, current)
	}

	if _, err := git.run(ctx, "add", "--", rel); err != nil {
		return "", err
	}
	if git.ok(ctx, "diff", "--cached", "--quiet", "--", rel) {
		return "", fmt.Errorf("%w: %s", ErrNoChanges, rel)
	}
	if _, err := git.run(ctx, "commit", "--no-verify", "-m", message, "--", rel); err != nil {
		_, _ = git.run(context.WithoutCancel(ctx), "reset", "-q", "--", rel)
		return "", err
	}
	sha, err := git.revParse(ctx, "HEAD")
	if err != nil {
		return "", err
	}
	snap.commit = sha
	s.snapshots[rel] = snap
	s.mgr.logger.Debug("file committed", "session", s.ID, "path", rel, "commit", shortSHA(sha))
	return sha, nil
}

// RevertFile restores a tracked, uncommitted file to its snapshot. It does
// not touch version-control history and does not take a context: a revert
// must complete even while the run is being cancelled.
func (s *Session) RevertFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, err := s.mgr.relPath(path)
	if err != nil {
		return err
	}
	_, err = s.restore(rel)
	return err
}

// restore writes the snapshot back when the file differs from it and
// reports whether it wrote.
func (s *Session) restore(rel string) (bool, error) {
	snap, ok := s.snapshots[rel]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotTracked, rel)
	}
	if snap.commit != "" {
		return false, fmt.Errorf("%w: %s", ErrAlreadyCommitted, rel)
	}
	abs := s.abs(rel)
	if current, err := os.ReadFile(abs); err == nil && bytes.Equal(current, snap.data) {
		return false, nil
	}
	if err := WriteFileAtomic(abs, snap.data, snap.mode); err != nil {
		return false, fmt.Errorf("reverting %s: %w", rel, err)
	}
	s.mgr.logger.Debug("file reverted", "session", s.ID, "path", rel)
	return true, nil
}

// RelPath returns path relative to the work tree in slash form, or
// ErrOutsideRepo.
func (s *Session) RelPath(path string) (string, error) {
	return s.mgr.relPath(path)
}

// Record stores the terminal outcome of a file. Recording the same file
// again replaces the earlier entry but keeps its position.
func (s *Session) Record(path string, outcome Outcome, attempts int, patches []patch.Patch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, err := s.mgr.relPath(path)
	if err != nil {
		rel = filepath.ToSlash(path)
	}
	rec := &FileRecord{Path: rel, Outcome: outcome, Attempts: attempts, Patches: slices.Clone(patches)}
	if snap, ok := s.snapshots[rel]; ok {
		rec.Commit = snap.commit
	}
	if _, seen := s.records[rel]; !seen {
		s.order = append(s.order, rel)
	}
	s.records[rel] = rec
}

// Close ends the session: uncommitted tracked files are restored, the
// original branch is checked out again (unless Options.StayOnBranch), a
// session branch without commits is deleted, and the base tip is compared
// with its value at open. ErrBaseModified is returned when it moved. Close
// is idempotent; later calls return the first result.
func (s *Session) Close(ctx context.Context) (*Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.summary, s.closeErr
	}
	s.closed = true

	var errs []error
	for _, rel := range sortedKeys(s.snapshots) {
		if s.snapshots[rel].commit != "" {
			continue
		}
		wrote, err := s.restore(rel)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !wrote {
			continue
		}
		if rec, ok := s.records[rel]; ok {
			rec.Outcome = OutcomeAbandonedReverted
		} else {
			s.order = append(s.order, rel)
			s.records[rel] = &FileRecord{Path: rel, Outcome: OutcomeAbandonedReverted}
		}
	}

	git := s.mgr.git
	head, err := git.revParse(ctx, "refs/heads/"+s.Branch)
	if err != nil {
		errs = append(errs, fmt.Errorf("resolving session branch: %w", err))
	}

	sum := &Summary{
		SessionID:      s.ID,
		Branch:         s.Branch,
		BaseRef:        s.BaseRef,
		BaseSHA:        s.BaseSHA,
		OriginalBranch: s.OriginalBranch,
		HeadSHA:        head,
		OpenedAt:       s.OpenedAt,
	}
	for _, rel := range s.order {
		rec := *s.records[rel]
		if rec.Outcome == OutcomeFixed && head != "" {
			stat, err := diffStat(ctx, git, s.BaseSHA, head, rel)
			if err != nil {
				s.mgr.logger.Warn("diff stat failed", "path", rel, "error", err)
			}
			rec.Stat = stat
		}
		sum.Files = append(sum.Files, rec)
	}

	dirty, err := git.dirtyFiles(ctx)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("checking work tree: %w", err))
	case len(dirty) > 0:
		errs = append(errs, fmt.Errorf("%w after session: %v", ErrDirtyWorkTree, dirty))
	case !s.mgr.opts.StayOnBranch:
		target := s.OriginalBranch
		if target == "HEAD" {
			target = s.originalHead
		}
		if _, err := git.run(ctx, "checkout", "-q", target); err != nil {
			errs = append(errs, fmt.Errorf("returning to %s: %w", target, err))
		} else if head == s.BaseSHA {
			if _, err := git.run(ctx, "branch", "-D", s.Branch); err == nil {
				sum.BranchDeleted = true
			}
		}
	}

	tip, err := git.revParse(ctx, s.protectedRef)
	if err != nil || tip != s.protectedTip {
		errs = append(errs, fmt.Errorf("%w: %s was %s, now %s", ErrBaseModified, s.protectedRef, shortSHA(s.protectedTip), shortSHA(tip)))
	} else {
		sum.BaseUnchanged = true
	}

	sum.ClosedAt = s.mgr.opts.Now()
	s.summary = sum
	s.closeErr = errors.Join(errs...)
	s.mgr.logger.Info("session closed", "session", s.ID, "branch", s.Branch,
		"fixed", sum.Count(OutcomeFixed), "reverted", sum.Count(OutcomeAbandonedReverted), "base_unchanged", sum.BaseUnchanged)
	return s.summary, s.closeErr
}

func (s *Session) abs(rel string) string {
	return filepath.Join(s.mgr.root, filepath.FromSlash(rel))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
