// Package loop is the patch orchestrator: a bounded per-file state machine
// that asks the remediation service for patches, applies them to a scratch
// copy, verifies the result, and either hands the accepted content to the
// workspace for commit or reverts the file once the attempt budget is spent.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/papapumpkin/optifix/internal/detect"
	"github.com/papapumpkin/optifix/internal/isolation"
	"github.com/papapumpkin/optifix/internal/patch"
	"github.com/papapumpkin/optifix/internal/remedy"
	"github.com/papapumpkin/optifix/internal/verify"
)

// MaxAttempts is the per-file attempt budget and its upper bound.
const MaxAttempts = 3

// Scanner computes findings for file content.
type Scanner interface {
	Language(path string) string
	Scan(path, content string) []detect.Finding
}

// Remediator proposes patches for a file's findings.
type Remediator interface {
	Propose(ctx context.Context, req remedy.Request) (remedy.Response, error)
}

// Verifier judges patched content against the original findings.
type Verifier interface {
	Baseline(ctx context.Context, path, content string) (verify.Baseline, error)
	Verify(ctx context.Context, req verify.Request) (verify.Result, error)
}

// Workspace confines mutations to the session. Track is called before the
// first write to a file; RevertFile must succeed even after cancellation.
type Workspace interface {
	Track(path string) error
	CommitFile(ctx context.Context, path, message string) (string, error)
	RevertFile(path string) error
	Record(path string, outcome isolation.Outcome, attempts int, patches []patch.Patch)
}

// relPather is implemented by workspaces that can name a path relative to
// their root.
type relPather interface {
	RelPath(path string) (string, error)
}

// Orchestrator drives files through the remediation state machine. Files
// are processed one at a time; the work tree has a single writer.
type Orchestrator struct {
	Scanner     Scanner
	Remediator  Remediator
	Verifier    Verifier
	Workspace   Workspace // Optional when DryRun is set.
	Hooks       []Hook
	MaxAttempts int  // 0 or anything above MaxAttempts means MaxAttempts.
	MaxFiles    int  // Files with findings to attempt per run; 0 = unlimited.
	DryRun      bool // Verify patches but never write, commit or revert.
	Logger      *slog.Logger
}

// FixFile runs the state machine for one file. Findings are recomputed from
// the file's current content. The returned error is non-nil only when the
// run must stop: the context was cancelled, the service rejected the
// request permanently, or the workspace failed. The FileResult is always
// terminal and already recorded in the workspace.
func (o *Orchestrator) FixFile(ctx context.Context, path string) (FileResult, error) {
	if o.Workspace == nil && !o.DryRun {
		return FileResult{Path: path, State: StateSkipped, Err: ErrNoWorkspace}, ErrNoWorkspace
	}
	logger := o.logger().With("path", path)
	res := FileResult{Path: path, Language: o.Scanner.Language(path), State: StateScanned}

	content, err := detect.ReadText(path)
	if err != nil {
		res.State = StateSkipped
		res.Err = err
		logger.Warn("skipping unreadable file", "error", err)
		o.emit(ctx, Event{Kind: EventSkipped, Path: path, Language: res.Language, Result: &res})
		return res, nil
	}
	res.Findings = o.Scanner.Scan(path, content)
	if len(res.Findings) == 0 {
		res.State = StateClean
		o.emit(ctx, Event{Kind: EventClean, Path: path, Language: res.Language, Result: &res})
		return res, nil
	}

	maxAttempts := o.maxAttempts()
	o.emit(ctx, Event{Kind: EventFileStart, Path: path, Language: res.Language, MaxAttempts: maxAttempts, Findings: res.Findings})

	if err := ctx.Err(); err != nil {
		return o.abandon(ctx, &res, err)
	}
	baseline, err := o.Verifier.Baseline(ctx, path, content)
	if err != nil {
		return o.abandon(ctx, &res, err)
	}
	if !o.DryRun {
		if err := o.Workspace.Track(path); err != nil {
			return o.abandon(ctx, &res, fmt.Errorf("%w: tracking %s: %w", ErrWorkspace, path, err))
		}
	}

	history := newFailureHistory()
	var prior, guidance string
	for ordinal := 1; ordinal <= maxAttempts; ordinal++ {
		if err := ctx.Err(); err != nil {
			return o.abandon(ctx, &res, err)
		}

		att, patched, verdict, err := o.attempt(ctx, &res, content, baseline, ordinal, maxAttempts, prior, guidance)
		if err != nil {
			return o.abandon(ctx, &res, err)
		}
		res.Attempts = append(res.Attempts, att)
		o.emit(ctx, Event{Kind: EventAttempt, Path: path, Language: res.Language, MaxAttempts: maxAttempts, Attempt: &res.Attempts[len(res.Attempts)-1]})
		logger.Info("attempt finished", "attempt", ordinal, "outcome", att.Outcome, "reason", att.Reason)

		if att.Outcome == AttemptAccepted {
			res.Remaining = verdict.Remaining
			return o.accept(ctx, &res, att, patched)
		}

		prior = att.feedback()
		guidance = history.record(verdict.Remaining)
		if ordinal < maxAttempts {
			res.State = StateRetryPending
		}
	}

	return o.abandon(ctx, &res, nil)
}

// attempt performs one propose-apply-verify cycle. Rejections are returned
// as an Attempt; the error is reserved for conditions that end the file.
func (o *Orchestrator) attempt(ctx context.Context, res *FileResult, content string, baseline verify.Baseline,
	ordinal, maxAttempts int, prior, guidance string) (Attempt, string, verify.Result, error) {
	start := time.Now()
	att := Attempt{Ordinal: ordinal}
	done := func(outcome AttemptOutcome, reason verify.Reason, detail string) (Attempt, string, verify.Result, error) {
		att.Outcome = outcome
		att.Reason = reason
		att.Detail = detail
		att.Duration = time.Since(start)
		return att, "", verify.Result{}, nil
	}

	res.State = StateAwaitingPatch
	resp, err := o.Remediator.Propose(ctx, remedy.Request{
		Path:           res.Path,
		Language:       res.Language,
		Content:        content,
		Findings:       res.Findings,
		Attempt:        ordinal,
		MaxAttempts:    maxAttempts,
		PriorRejection: prior,
		Guidance:       guidance,
	})
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return att, "", verify.Result{}, ctx.Err()
	case errors.Is(err, remedy.ErrUnavailable):
		return done(AttemptRejected, verify.ReasonServiceUnavailable, err.Error())
	default:
		return att, "", verify.Result{}, err
	}
	att.Tokens = resp.Usage.TotalTokens

	res.State = StatePatchProposed
	patches, err := patch.Parse(res.Path, resp.Text)
	if err != nil {
		return done(AttemptMalformed, verify.ReasonMalformedPatch, err.Error())
	}
	att.Patches = patches

	patched, err := patch.Apply(content, patch.MatchLineEndings(content, patches))
	if err != nil {
		if errors.Is(err, patch.ErrMalformed) {
			return done(AttemptMalformed, verify.ReasonMalformedPatch, err.Error())
		}
		return done(AttemptRejected, verify.ReasonNoUniqueMatch, err.Error())
	}

	res.State = StateVerifying
	verdict, err := o.Verifier.Verify(ctx, verify.Request{
		Path:     res.Path,
		Language: res.Language,
		Original: res.Findings,
		Content:  content,
		Patches:  patches,
		Patched:  patched,
		Baseline: baseline,
	})
	if err != nil {
		return att, "", verify.Result{}, err
	}
	att.Duration = time.Since(start)
	if !verdict.Accepted {
		att.Outcome = AttemptRejected
		att.Reason = verdict.Reason
		att.Detail = verdict.Detail
		return att, "", verdict, nil
	}
	att.Outcome = AttemptAccepted
	return att, patched, verdict, nil
}

// accept writes and commits the accepted content. Both steps run to
// completion even if ctx is cancelled meanwhile. A failure reverts the file
// and aborts the run.
func (o *Orchestrator) accept(ctx context.Context, res *FileResult, att Attempt, patched string) (FileResult, error) {
	res.Patches = att.Patches
	if o.DryRun {
		res.State = StateAccepted
		res.Outcome = isolation.OutcomeFixed
		o.emit(ctx, Event{Kind: EventAccepted, Path: res.Path, Language: res.Language, Result: res})
		return *res, nil
	}

	mode := os.FileMode(0o644)
	if info, err := os.Stat(res.Path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := isolation.WriteFileAtomic(res.Path, []byte(patched), mode); err != nil {
		return o.abandon(ctx, res, fmt.Errorf("%w: %w", ErrWorkspace, err))
	}
	sha, err := o.Workspace.CommitFile(context.WithoutCancel(ctx), res.Path, commitMessage(o.displayPath(res.Path), res.Findings))
	if err != nil {
		return o.abandon(ctx, res, fmt.Errorf("%w: committing %s: %w", ErrWorkspace, res.Path, err))
	}

	res.State = StateAccepted
	res.Outcome = isolation.OutcomeFixed
	res.Commit = sha
	o.Workspace.Record(res.Path, isolation.OutcomeFixed, len(res.Attempts), res.Patches)
	o.emit(ctx, Event{Kind: EventAccepted, Path: res.Path, Language: res.Language, Result: res})
	return *res, nil
}

// abandon reverts the file, records it, and returns cause. A nil cause means
// the attempt budget ran out, which does not stop the run.
func (o *Orchestrator) abandon(ctx context.Context, res *FileResult, cause error) (FileResult, error) {
	res.State = StateAbandoned
	res.Patches = nil
	res.Outcome = isolation.OutcomeAbandonedReverted
	if len(res.Attempts) == 0 {
		res.Outcome = isolation.OutcomeAbandonedUnchanged
	}
	if cause != nil && ctx.Err() != nil && errors.Is(cause, ctx.Err()) {
		res.Cancelled = true
	}
	res.Err = cause

	if !o.DryRun && o.Workspace != nil {
		if err := o.Workspace.RevertFile(res.Path); err != nil && !errors.Is(err, isolation.ErrNotTracked) {
			res.Err = errors.Join(cause, fmt.Errorf("%w: reverting %s: %w", ErrWorkspace, res.Path, err))
			cause = res.Err
		}
		o.Workspace.Record(res.Path, res.Outcome, len(res.Attempts), nil)
	}

	o.logger().Info("file abandoned", "path", res.Path, "attempts", len(res.Attempts), "outcome", res.Outcome, "error", cause)
	o.emit(ctx, Event{Kind: EventAbandoned, Path: res.Path, Language: res.Language, Result: res})
	return *res, cause
}

func (o *Orchestrator) emit(ctx context.Context, ev Event) {
	for _, h := range o.Hooks {
		if h != nil {
			h.OnEvent(ctx, ev)
		}
	}
}

func (o *Orchestrator) maxAttempts() int {
	if o.MaxAttempts <= 0 || o.MaxAttempts > MaxAttempts {
		return MaxAttempts
	}
	return o.MaxAttempts
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// displayPath names path relative to the workspace root when the workspace
// can resolve it, and as given otherwise.
func (o *Orchestrator) displayPath(path string) string {
	if rp, ok := o.Workspace.(relPather); ok {
		if rel, err := rp.RelPath(path); err == nil {
			return rel
		}
	}
	return filepath.ToSlash(path)
}

// commitMessage is "optifix: <path>: resolve <rule IDs>".
func commitMessage(path string, findings []detect.Finding) string {
	return fmt.Sprintf("optifix: %s: resolve %s", path, strings.Join(detect.RuleIDs(findings), ", "))
}
