package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// FilePlaceholder is replaced by the scratch file path in lint commands.
const FilePlaceholder = "{file}"

// CommandLinter runs external linters against a scratch copy of the content.
// Commands are keyed by catalog language and split on whitespace; a command
// that exits non-zero contributes each non-empty output line as one error.
// Commands that succeed are treated as clean even if they print.
type CommandLinter struct {
	Commands map[string][]string      // language -> commands, e.g. "python": {"ruff check {file}"}
	Language func(path string) string // maps a path to its catalog language
	Dir      string                   // working directory for the commands
}

// NewCommandLinter returns a linter for commands keyed by language, or nil
// when there are none. Callers must not register a nil linter as a Checker.
func NewCommandLinter(commands map[string][]string, language func(string) string, dir string) *CommandLinter {
	if len(commands) == 0 || language == nil {
		return nil
	}
	return &CommandLinter{Commands: commands, Language: language, Dir: dir}
}

// Name implements Checker.
func (l *CommandLinter) Name() string { return "lint" }

// Check implements Checker. The content is written to a temporary file with
// the same extension as path so linters pick the right parser; occurrences of
// the temporary path in linter output are rewritten to path.
func (l *CommandLinter) Check(ctx context.Context, path, content string) ([]string, error) {
	cmds := l.Commands[l.Language(path)]
	if len(cmds) == 0 {
		return nil, nil
	}

	tmp, err := os.CreateTemp("", "optifix-lint-*"+filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("creating lint scratch file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("writing lint scratch file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing lint scratch file: %w", err)
	}

	var errs []string
	for _, cmdStr := range cmds {
		parts := strings.Fields(strings.ReplaceAll(cmdStr, FilePlaceholder, tmp.Name()))
		if len(parts) == 0 {
			continue
		}
		if !strings.Contains(cmdStr, FilePlaceholder) {
			parts = append(parts, tmp.Name())
		}

		cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
		cmd.Dir = l.Dir
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()
		if err == nil {
			continue
		}
		if errors.Is(err, exec.ErrNotFound) {
			// Linter not installed; nothing to compare against.
			continue
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("running %q: %w", parts[0], err)
		}

		combined := strings.TrimSpace(stdout.String() + "\n" + stderr.String())
		if combined == "" {
			errs = append(errs, fmt.Sprintf("%s: exit status %d", parts[0], exitErr.ExitCode()))
			continue
		}
		for _, line := range strings.Split(combined, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				errs = append(errs, strings.ReplaceAll(line, tmp.Name(), path))
			}
		}
	}
	return errs, nil
}
