package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/optifix/internal/config"
	"github.com/papapumpkin/optifix/internal/detect"
	"github.com/papapumpkin/optifix/internal/isolation"
	"github.com/papapumpkin/optifix/internal/rules"
	"github.com/papapumpkin/optifix/internal/ui"
	"github.com/papapumpkin/optifix/internal/verify"
)

// env is what every command needs: validated config, a logger, a printer
// and the rule catalog with its detector.
type env struct {
	cfg      config.Config
	logger   *slog.Logger
	printer  *ui.Printer
	catalog  *rules.Catalog
	detector *detect.Detector
}

// setup loads config and the catalog. Catalog errors are fatal before any
// file is scanned.
func setup(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	applyFlagOverrides(cmd, &cfg)

	logger := newLogger(cfg, os.Stderr)
	printer := ui.New()
	printer.Verbose = cfg.Verbose

	cat, err := loadCatalog(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	logger.Debug("rule catalog loaded", "source", cat.Source(), "rules", cat.Len())

	return &env{
		cfg:      cfg,
		logger:   logger,
		printer:  printer,
		catalog:  cat,
		detector: detect.New(cat, detect.WithWorkers(cfg.Workers), detect.WithLogger(logger)),
	}, nil
}

// applyFlagOverrides applies command-local flag values to the loaded config.
// Only flags the user actually set override config and environment.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("max-attempts") {
		cfg.MaxAttempts, _ = flags.GetInt("max-attempts")
	}
	if flags.Changed("acceptance") {
		cfg.Acceptance, _ = flags.GetString("acceptance")
	}
	if flags.Changed("base") {
		cfg.BaseRef, _ = flags.GetString("base")
	}
	if flags.Changed("max-files") {
		cfg.MaxFiles, _ = flags.GetInt("max-files")
	}
	if flags.Changed("dry-run") {
		cfg.DryRun, _ = flags.GetBool("dry-run")
	}
	if flags.Changed("model") {
		cfg.Remediation.Model, _ = flags.GetString("model")
	}
	if flags.Changed("exclude") {
		cfg.Exclude, _ = flags.GetStringSlice("exclude")
	}
}

func loadCatalog(path string) (*rules.Catalog, error) {
	if path == "" {
		return rules.Default()
	}
	return rules.Load(path)
}

// collectTargets expands the command arguments into candidate files.
func (e *env) collectTargets(args []string) ([]string, error) {
	if len(args) == 0 {
		args = []string{"."}
	}
	return detect.Collect(e.catalog, args, detect.WalkOptions{Exclude: e.cfg.Exclude})
}

// newVerifier builds the verifier with the configured oracles.
func (e *env) newVerifier(dir string) (*verify.Verifier, error) {
	mode, err := verify.ParseMode(e.cfg.Acceptance)
	if err != nil {
		return nil, err
	}
	var checkers []verify.Checker
	if e.cfg.SyntaxCheck {
		checkers = append(checkers, verify.NewSyntaxChecker())
	}
	if l := verify.NewCommandLinter(e.cfg.Lint, e.detector.Language, dir); l != nil {
		checkers = append(checkers, l)
	}
	return verify.New(e.detector,
		verify.WithMode(mode),
		verify.WithCheckers(checkers...),
		verify.WithLogger(e.logger),
	), nil
}

// repoRoot returns the top of the enclosing work tree, or the working
// directory outside of one.
func (e *env) repoRoot(ctx context.Context) string {
	wd, _ := os.Getwd()
	mgr, err := isolation.NewManager(ctx, wd, isolation.Options{Timeout: e.cfg.GitTimeout, Logger: e.logger})
	if err != nil {
		return wd
	}
	return mgr.Root()
}

// resolvePath makes a configured path absolute relative to root.
func resolvePath(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// canonical returns the absolute, symlink-free form of path.
func canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// scan reads and scans targets, reporting cancellation as an error.
func (e *env) scan(ctx context.Context, targets []string) (*detect.Report, error) {
	report, err := e.detector.ScanFiles(ctx, targets)
	if err != nil {
		return nil, fmt.Errorf("scanning: %w", err)
	}
	return report, nil
}
