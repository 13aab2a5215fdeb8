package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/papapumpkin/optifix/internal/isolation"
	"github.com/papapumpkin/optifix/internal/ledger"
	"github.com/papapumpkin/optifix/internal/loop"
	"github.com/papapumpkin/optifix/internal/metrics"
	"github.com/papapumpkin/optifix/internal/remedy"
	"github.com/papapumpkin/optifix/internal/telemetry"
)

var fixCmd = &cobra.Command{
	Use:   "fix [paths...]",
	Short: "Remediate findings on an isolated git branch",
	Long: "Fix scans the given paths, opens a session branch off the base ref when anything " +
		"is found, and asks the remediation service for patches one file at a time. Each " +
		"accepted patch becomes one commit on the session branch; files that cannot be " +
		"fixed within the attempt budget are restored byte for byte. The branch is never " +
		"merged or pushed: review it and merge it yourself.",
	RunE: runFix,
}

func init() {
	fixCmd.Flags().Int("max-attempts", loop.MaxAttempts, "attempts per file (1-3)")
	fixCmd.Flags().String("acceptance", "progress", `acceptance mode: "progress" or "strict"`)
	fixCmd.Flags().String("base", "HEAD", "ref the session branch starts from")
	fixCmd.Flags().Int("max-files", 100, "files with findings to attempt (0 = unlimited)")
	fixCmd.Flags().Bool("dry-run", false, "propose and verify patches without writing or branching")
	fixCmd.Flags().String("model", "", "remediation model name")
	fixCmd.Flags().StringSlice("exclude", nil, "glob patterns to exclude (doublestar syntax)")
	fixCmd.Flags().Bool("stay-on-branch", false, "leave the session branch checked out")
	fixCmd.Flags().Bool("json", false, "print the run result as JSON on stdout")
	rootCmd.AddCommand(fixCmd)
}

func runFix(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("stay-on-branch") {
		e.cfg.StayOnBranch, _ = cmd.Flags().GetBool("stay-on-branch")
	}
	cfg := e.cfg

	ctx, cancel := setupSignalContext(e.printer)
	defer cancel()

	targets, err := e.collectTargets(args)
	if err != nil {
		return err
	}

	var mgr *isolation.Manager
	root, _ := os.Getwd()
	if !cfg.DryRun {
		mgr, err = isolation.NewManager(ctx, root, isolation.Options{
			BranchPrefix: cfg.BranchPrefix,
			Timeout:      cfg.GitTimeout,
			StayOnBranch: cfg.StayOnBranch,
			Logger:       e.logger,
		})
		if err != nil {
			return err
		}
		root = mgr.Root()
		targets, err = trackedOnly(ctx, mgr, targets, e)
		if err != nil {
			return err
		}
	}

	report, err := e.scan(ctx, targets)
	if err != nil {
		return err
	}
	for _, s := range report.Skipped {
		e.logger.Warn("skipping file", "path", s.Path, "reason", s.Reason)
	}
	pending := report.WithFindings()
	if len(pending) == 0 {
		e.printer.Info(fmt.Sprintf("no findings in %d file(s); nothing to fix", len(targets)))
		return nil
	}

	apiKey, err := remedy.LoadCredentials(resolvePath(root, cfg.Remediation.EnvFile), cfg.Remediation.APIKeyEnv)
	if err != nil {
		return err
	}
	client := remedy.New(cfg.RemedyConfig(apiKey), remedy.WithLogger(e.logger))
	verifier, err := e.newVerifier(root)
	if err != nil {
		return err
	}

	o := &loop.Orchestrator{
		Scanner:     e.detector,
		Remediator:  client,
		Verifier:    verifier,
		MaxAttempts: cfg.MaxAttempts,
		MaxFiles:    cfg.MaxFiles,
		DryRun:      cfg.DryRun,
		Logger:      e.logger,
		Hooks:       []loop.Hook{e.printer},
	}

	var sess *isolation.Session
	info := ledger.RunInfo{ID: uuid.NewString(), DryRun: cfg.DryRun, BaseRef: cfg.BaseRef}
	if !cfg.DryRun {
		sess, err = mgr.OpenSession(ctx, cfg.BaseRef)
		if err != nil {
			return err
		}
		o.Workspace = sess
		info = ledger.RunInfo{ID: sess.ID, Branch: sess.Branch, BaseRef: sess.BaseRef, BaseSHA: sess.BaseSHA}
		e.printer.Info(fmt.Sprintf("session %s on branch %s (base %s)", sess.ID, sess.Branch, sess.BaseRef))
	}

	rec, closeLedger := e.openLedger(ctx, root, info)
	defer closeLedger()
	if rec != nil {
		o.Hooks = append(o.Hooks, rec)
	}
	var mrec *metrics.Recorder
	if cfg.MetricsFile != "" {
		mrec = metrics.NewRecorder()
		o.Hooks = append(o.Hooks, mrec)
	}
	th, closeTelemetry := e.openTelemetry(root, info.ID)
	defer closeTelemetry()
	if th != nil {
		o.Hooks = append(o.Hooks, th)
		th.RunStart(map[string]any{"files": len(pending), "model": client.Model(), "dry_run": cfg.DryRun})
	}

	rr, runErr := o.Run(ctx, pending)

	var sum *isolation.Summary
	var closeErr error
	if sess != nil {
		sum, closeErr = sess.Close(context.WithoutCancel(ctx))
	}

	if rec != nil {
		if err := rec.Finish(ctx, rr, errors.Join(runErr, closeErr)); err != nil {
			e.logger.Warn("recording run", "error", err)
		}
	}
	if mrec != nil {
		if err := mrec.WriteTextfile(resolvePath(root, cfg.MetricsFile)); err != nil {
			e.logger.Warn("writing metrics", "error", err)
		}
	}
	if th != nil {
		th.RunDone(map[string]any{
			"fixed":     rr.Count(loop.StateAccepted),
			"abandoned": rr.Count(loop.StateAbandoned),
			"attempts":  rr.Attempts(),
		})
	}

	e.printer.RunSummary(rr, sum)
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		if err := writeRunJSON(info.ID, rr, sum); err != nil {
			return err
		}
	}
	return errors.Join(runErr, closeErr)
}

// trackedOnly drops candidates git does not track: reverting an untracked
// file could not restore it from the base.
func trackedOnly(ctx context.Context, mgr *isolation.Manager, targets []string, e *env) ([]string, error) {
	tracked, err := mgr.TrackedFiles(ctx)
	if err != nil {
		return nil, err
	}
	kept := targets[:0:0]
	for _, t := range targets {
		if tracked[canonical(t)] {
			kept = append(kept, t)
			continue
		}
		e.logger.Debug("skipping untracked file", "path", t)
	}
	return kept, nil
}

// openLedger opens the history database. A ledger that cannot be opened is
// reported and the run continues without history.
func (e *env) openLedger(ctx context.Context, root string, info ledger.RunInfo) (*ledger.Recorder, func()) {
	if e.cfg.LedgerPath == "" {
		return nil, func() {}
	}
	l, err := ledger.Open(ctx, resolvePath(root, e.cfg.LedgerPath))
	if err != nil {
		e.printer.Warn(fmt.Sprintf("run history disabled: %v", err))
		return nil, func() {}
	}
	rec, err := l.BeginRun(ctx, info, e.logger)
	if err != nil {
		e.printer.Warn(fmt.Sprintf("run history disabled: %v", err))
		_ = l.Close()
		return nil, func() {}
	}
	return rec, func() { _ = l.Close() }
}

func (e *env) openTelemetry(root, runID string) (*telemetry.Hook, func()) {
	if e.cfg.TelemetryPath == "" {
		return nil, func() {}
	}
	em, err := telemetry.NewEmitter(resolvePath(root, e.cfg.TelemetryPath))
	if err != nil {
		e.printer.Warn(fmt.Sprintf("telemetry disabled: %v", err))
		return nil, func() {}
	}
	return telemetry.NewHook(em, runID, e.logger), func() { _ = em.Close() }
}

type jsonAttempt struct {
	Ordinal int    `json:"ordinal"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Tokens  int    `json:"tokens"`
}

type jsonFile struct {
	Path      string        `json:"path"`
	Language  string        `json:"language"`
	State     string        `json:"state"`
	Outcome   string        `json:"outcome,omitempty"`
	Rules     []string      `json:"rules,omitempty"`
	Commit    string        `json:"commit,omitempty"`
	Attempts  []jsonAttempt `json:"attempts,omitempty"`
	Cancelled bool          `json:"cancelled,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type jsonRun struct {
	RunID      string             `json:"run_id"`
	Files      []jsonFile         `json:"files"`
	NotStarted []string           `json:"not_started,omitempty"`
	Session    *isolation.Summary `json:"session,omitempty"`
	DurationMS int64              `json:"duration_ms"`
}

func writeRunJSON(runID string, rr *loop.RunResult, sum *isolation.Summary) error {
	out := jsonRun{RunID: runID, NotStarted: rr.NotStarted, Session: sum, DurationMS: rr.Duration.Milliseconds()}
	for _, f := range rr.Files {
		jf := jsonFile{
			Path:      f.Path,
			Language:  f.Language,
			State:     f.State.String(),
			Outcome:   string(f.Outcome),
			Commit:    f.Commit,
			Cancelled: f.Cancelled,
		}
		for _, fd := range f.Findings {
			jf.Rules = append(jf.Rules, fd.RuleID)
		}
		for _, a := range f.Attempts {
			jf.Attempts = append(jf.Attempts, jsonAttempt{
				Ordinal: a.Ordinal,
				Outcome: string(a.Outcome),
				Reason:  string(a.Reason),
				Detail:  a.Detail,
				Tokens:  a.Tokens,
			})
		}
		if f.Err != nil {
			jf.Error = f.Err.Error()
		}
		out.Files = append(out.Files, jf)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
