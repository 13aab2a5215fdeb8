package isolation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// gitRunner executes git in one working directory with a per-operation
// timeout.
type gitRunner struct {
	dir     string
	timeout time.Duration
}

// run executes git and returns its trimmed stdout.
func (g gitRunner) run(ctx context.Context, args ...string) (string, error) {
	out, err := g.raw(ctx, args...)
	return strings.TrimSpace(out), err
}

// raw executes git and returns stdout unmodified.
func (g gitRunner) raw(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", g.dir}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("git %s: timeout after %v", args[0], g.timeout)
		}
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// ok reports whether git exits zero.
func (g gitRunner) ok(ctx context.Context, args ...string) bool {
	_, err := g.run(ctx, args...)
	return err == nil
}

func (g gitRunner) revParse(ctx context.Context, ref string) (string, error) {
	return g.run(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
}

func (g gitRunner) currentBranch(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

func (g gitRunner) branchExists(ctx context.Context, name string) bool {
	return g.ok(ctx, "rev-parse", "--verify", "--quiet", "refs/heads/"+name)
}

// dirtyFiles lists tracked files with staged or unstaged changes. Untracked
// files are ignored; they are never touched by a session.
func (g gitRunner) dirtyFiles(ctx context.Context) ([]string, error) {
	out, err := g.raw(ctx, "status", "--porcelain", "--untracked-files=no")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) > 3 {
			files = append(files, strings.TrimSpace(line[3:]))
		}
	}
	return files, nil
}
