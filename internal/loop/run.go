package loop

import (
	"context"
	"time"

	"github.com/papapumpkin/optifix/internal/isolation"
)

// RunResult aggregates the per-file results of one run.
type RunResult struct {
	Files      []FileResult
	NotStarted []string // files left untouched by cancellation, abort or MaxFiles
	Started    time.Time
	Duration   time.Duration
}

// Count returns the number of files that ended in state s.
func (r *RunResult) Count(s State) int {
	n := 0
	for _, f := range r.Files {
		if f.State == s {
			n++
		}
	}
	return n
}

// Outcomes counts files per session outcome. Clean and skipped files have
// no outcome and are not counted.
func (r *RunResult) Outcomes() map[isolation.Outcome]int {
	out := make(map[isolation.Outcome]int)
	for _, f := range r.Files {
		if f.Outcome != "" {
			out[f.Outcome]++
		}
	}
	return out
}

// Attempts returns the total number of attempts across all files.
func (r *RunResult) Attempts() int {
	n := 0
	for _, f := range r.Files {
		n += len(f.Attempts)
	}
	return n
}

// Run processes paths sequentially. Cancellation is observed between files
// and between attempts; files not yet started are listed in NotStarted.
// The returned error is the first run-stopping error from FixFile (or the
// context error); the RunResult is always non-nil.
func (o *Orchestrator) Run(ctx context.Context, paths []string) (*RunResult, error) {
	rr := &RunResult{Started: time.Now()}
	defer func() { rr.Duration = time.Since(rr.Started) }()

	if o.Workspace == nil && !o.DryRun {
		rr.NotStarted = append(rr.NotStarted, paths...)
		return rr, ErrNoWorkspace
	}

	logger := o.logger()
	attempted := 0
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			rr.NotStarted = append(rr.NotStarted, paths[i:]...)
			logger.Warn("run cancelled", "remaining", len(paths)-i)
			return rr, err
		}
		if o.MaxFiles > 0 && attempted >= o.MaxFiles {
			rr.NotStarted = append(rr.NotStarted, paths[i:]...)
			logger.Info("file limit reached", "max_files", o.MaxFiles, "remaining", len(paths)-i)
			break
		}

		res, err := o.FixFile(ctx, path)
		rr.Files = append(rr.Files, res)
		if len(res.Findings) > 0 {
			attempted++
		}
		if err != nil {
			rr.NotStarted = append(rr.NotStarted, paths[i+1:]...)
			return rr, err
		}
	}
	return rr, nil
}
