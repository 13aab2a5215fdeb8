package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/papapumpkin/optifix/internal/loop"
)

// Status values of a run row.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// RunInfo identifies a run when it is opened.
type RunInfo struct {
	ID      string // session ID, or a fresh ID for dry runs
	Branch  string
	BaseRef string
	BaseSHA string
	DryRun  bool
}

// Recorder writes one run's lifecycle events to the ledger. It implements
// loop.Hook. Write failures are logged and counted rather than returned so a
// broken history database never interrupts remediation.
type Recorder struct {
	ledger *Ledger
	runID  string
	logger *slog.Logger

	mu     sync.Mutex
	failed int
}

// BeginRun inserts a running row for info and returns its recorder.
func (l *Ledger) BeginRun(ctx context.Context, info RunInfo, logger *slog.Logger) (*Recorder, error) {
	if info.ID == "" {
		return nil, errors.New("ledger: run ID is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	const q = `INSERT INTO runs (id, branch, base_ref, base_sha, dry_run, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := l.db.ExecContext(ctx, q, info.ID, info.Branch, info.BaseRef, info.BaseSHA,
		info.DryRun, StatusRunning, formatTimestamp(l.now())); err != nil {
		return nil, fmt.Errorf("ledger: begin run %q: %w", info.ID, err)
	}
	return &Recorder{ledger: l, runID: info.ID, logger: logger.With("run_id", info.ID)}, nil
}

// RunID returns the ID of the recorded run.
func (r *Recorder) RunID() string { return r.runID }

// Failed returns the number of events that could not be written.
func (r *Recorder) Failed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// OnEvent records attempts and terminal file results.
func (r *Recorder) OnEvent(ctx context.Context, ev loop.Event) {
	ctx = context.WithoutCancel(ctx)
	var err error
	switch ev.Kind {
	case loop.EventAttempt:
		if ev.Attempt != nil {
			err = r.insertAttempt(ctx, ev.Path, ev.Attempt)
		}
	case loop.EventAccepted, loop.EventAbandoned, loop.EventSkipped:
		if ev.Result != nil {
			err = r.upsertFile(ctx, ev.Result)
		}
	}
	if err != nil {
		r.mu.Lock()
		r.failed++
		r.mu.Unlock()
		r.logger.Warn("ledger write failed", "event", ev.Kind, "path", ev.Path, "error", err)
	}
}

func (r *Recorder) insertAttempt(ctx context.Context, path string, a *loop.Attempt) error {
	const q = `INSERT INTO attempts (run_id, path, ordinal, outcome, reason, detail, tokens, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.ledger.db.ExecContext(ctx, q, r.runID, path, a.Ordinal, string(a.Outcome),
		string(a.Reason), a.Detail, a.Tokens, a.Duration.Milliseconds()); err != nil {
		return fmt.Errorf("ledger: insert attempt %s#%d: %w", path, a.Ordinal, err)
	}
	return nil
}

func (r *Recorder) upsertFile(ctx context.Context, res *loop.FileResult) error {
	const q = `INSERT INTO files (run_id, path, language, state, outcome, findings, attempts, commit_sha, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, path) DO UPDATE SET
			state      = excluded.state,
			outcome    = excluded.outcome,
			findings   = excluded.findings,
			attempts   = excluded.attempts,
			commit_sha = excluded.commit_sha,
			error      = excluded.error`
	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}
	if _, err := r.ledger.db.ExecContext(ctx, q, r.runID, res.Path, res.Language, res.State.String(),
		string(res.Outcome), len(res.Findings), len(res.Attempts), res.Commit, errText); err != nil {
		return fmt.Errorf("ledger: record file %s: %w", res.Path, err)
	}
	return nil
}

// Finish stamps the run with its totals and final status. runErr is the
// error that ended the run, if any.
func (r *Recorder) Finish(ctx context.Context, rr *loop.RunResult, runErr error) error {
	status := StatusCompleted
	errText := ""
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		status = StatusCancelled
		errText = runErr.Error()
	default:
		status = StatusFailed
		errText = runErr.Error()
	}

	var fixed, abandoned, attempts int
	if rr != nil {
		fixed = rr.Count(loop.StateAccepted)
		abandoned = rr.Count(loop.StateAbandoned)
		attempts = rr.Attempts()
	}
	const q = `UPDATE runs SET status = ?, fixed = ?, abandoned = ?, attempts = ?, error = ?, finished_at = ?
		WHERE id = ?`
	if _, err := r.ledger.db.ExecContext(context.WithoutCancel(ctx), q, status, fixed, abandoned, attempts,
		errText, formatTimestamp(r.ledger.now()), r.runID); err != nil {
		return fmt.Errorf("ledger: finish run %q: %w", r.runID, err)
	}
	return nil
}
