package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run is one row of the run history.
type Run struct {
	ID         string    `json:"id"`
	Branch     string    `json:"branch"`
	BaseRef    string    `json:"base_ref"`
	BaseSHA    string    `json:"base_sha"`
	DryRun     bool      `json:"dry_run"`
	Status     string    `json:"status"`
	Fixed      int       `json:"fixed"`
	Abandoned  int       `json:"abandoned"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// File is the recorded terminal result of one file in a run.
type File struct {
	Path     string `json:"path"`
	Language string `json:"language"`
	State    string `json:"state"`
	Outcome  string `json:"outcome,omitempty"`
	Findings int    `json:"findings"`
	Attempts int    `json:"attempts"`
	Commit   string `json:"commit,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Attempt is one recorded remediation attempt.
type Attempt struct {
	Path     string        `json:"path"`
	Ordinal  int           `json:"ordinal"`
	Outcome  string        `json:"outcome"`
	Reason   string        `json:"reason,omitempty"`
	Detail   string        `json:"detail,omitempty"`
	Tokens   int           `json:"tokens"`
	Duration time.Duration `json:"duration"`
}

const runColumns = `id, branch, base_ref, base_sha, dry_run, status, fixed, abandoned, attempts, error, started_at, finished_at`

// Runs returns the most recent runs, newest first. A non-positive limit
// returns every run.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate runs: %w", err)
	}
	return runs, nil
}

// Run returns one run by ID, or ErrRunNotFound.
func (l *Ledger) Run(ctx context.Context, id string) (Run, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %q", ErrRunNotFound, id)
	}
	return run, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		run               Run
		started, finished string
	)
	if err := s.Scan(&run.ID, &run.Branch, &run.BaseRef, &run.BaseSHA, &run.DryRun, &run.Status,
		&run.Fixed, &run.Abandoned, &run.Attempts, &run.Error, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("ledger: scan run: %w", err)
	}
	var err error
	if run.StartedAt, err = parseTimestamp(started); err != nil {
		return Run{}, fmt.Errorf("ledger: run %q: %w", run.ID, err)
	}
	if run.FinishedAt, err = parseTimestamp(finished); err != nil {
		return Run{}, fmt.Errorf("ledger: run %q: %w", run.ID, err)
	}
	return run, nil
}

// Files returns the recorded file results of a run, ordered by path.
func (l *Ledger) Files(ctx context.Context, runID string) ([]File, error) {
	const q = `SELECT path, language, state, outcome, findings, attempts, commit_sha, error
		FROM files WHERE run_id = ? ORDER BY path`
	rows, err := l.db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("ledger: query files: %w", err)
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.Path, &f.Language, &f.State, &f.Outcome, &f.Findings, &f.Attempts, &f.Commit, &f.Error); err != nil {
			return nil, fmt.Errorf("ledger: scan file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate files: %w", err)
	}
	return files, nil
}

// Attempts returns the recorded attempts of a run, ordered by file and
// ordinal.
func (l *Ledger) Attempts(ctx context.Context, runID string) ([]Attempt, error) {
	const q = `SELECT path, ordinal, outcome, reason, detail, tokens, duration_ms
		FROM attempts WHERE run_id = ? ORDER BY path, ordinal, id`
	rows, err := l.db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("ledger: query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var (
			a  Attempt
			ms int64
		)
		if err := rows.Scan(&a.Path, &a.Ordinal, &a.Outcome, &a.Reason, &a.Detail, &a.Tokens, &ms); err != nil {
			return nil, fmt.Errorf("ledger: scan attempt: %w", err)
		}
		a.Duration = time.Duration(ms) * time.Millisecond
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate attempts: %w", err)
	}
	return attempts, nil
}
