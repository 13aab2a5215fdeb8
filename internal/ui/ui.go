// Package ui renders human-facing progress and reports to stderr. Diagnostics
// go through slog; everything a user is meant to read goes through Printer.
package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/papapumpkin/optifix/internal/detect"
	"github.com/papapumpkin/optifix/internal/loop"
	"github.com/papapumpkin/optifix/internal/rules"
)

// Printer writes styled output. It implements loop.Hook to report
// per-file progress during a run.
type Printer struct {
	w  io.Writer
	st styles
	mu sync.Mutex

	// Verbose also reports clean files.
	Verbose bool
}

// New returns a Printer writing to stderr.
func New() *Printer {
	return NewWriter(os.Stderr)
}

// NewWriter returns a Printer writing to w.
func NewWriter(w io.Writer) *Printer {
	return &Printer{w: w, st: newStyles(w)}
}

func (p *Printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

// Error prints an error line.
func (p *Printer) Error(msg string) {
	p.printf("%s %s\n", p.st.danger.Render("error:"), msg)
}

// Warn prints a warning line.
func (p *Printer) Warn(msg string) {
	p.printf("%s %s\n", p.st.warn.Render(iconWarn), msg)
}

// Info prints a de-emphasized line.
func (p *Printer) Info(msg string) {
	p.printf("%s\n", p.st.dim.Render(msg))
}

// OnEvent prints one line per lifecycle event.
func (p *Printer) OnEvent(_ context.Context, ev loop.Event) {
	switch ev.Kind {
	case loop.EventFileStart:
		p.printf("\n%s %s %s\n", p.st.info.Render(iconWorking), p.st.label.Render(ev.Path),
			p.st.dim.Render(fmt.Sprintf("(%s, %d finding(s): %s)", ev.Language, len(ev.Findings),
				strings.Join(detect.RuleIDs(ev.Findings), ", "))))
	case loop.EventAttempt:
		if a := ev.Attempt; a != nil {
			p.printf("  %s\n", p.attemptLine(a, ev.MaxAttempts))
		}
	case loop.EventAccepted:
		if r := ev.Result; r != nil {
			commit := ""
			if r.Commit != "" {
				commit = " " + p.st.dim.Render("commit "+shortSHA(r.Commit))
			}
			p.printf("%s %s fixed%s\n", p.st.success.Render(iconDone), r.Path, commit)
		}
	case loop.EventAbandoned:
		if r := ev.Result; r != nil {
			why := fmt.Sprintf("after %d attempt(s)", len(r.Attempts))
			if r.Cancelled {
				why = "on cancellation"
			} else if r.Err != nil {
				why = r.Err.Error()
			}
			p.printf("%s %s abandoned %s\n", p.st.danger.Render(iconFailed), r.Path, p.st.dim.Render(why))
		}
	case loop.EventSkipped:
		if r := ev.Result; r != nil {
			p.printf("%s %s skipped: %v\n", p.st.dim.Render(iconSkipped), r.Path, r.Err)
		}
	case loop.EventClean:
		if p.Verbose {
			p.printf("%s %s\n", p.st.dim.Render(iconDone), p.st.dim.Render(ev.Path+" clean"))
		}
	}
}

func (p *Printer) attemptLine(a *loop.Attempt, maxAttempts int) string {
	head := fmt.Sprintf("attempt %d/%d", a.Ordinal, maxAttempts)
	timing := p.st.dim.Render(fmt.Sprintf("(%s, %d tokens)", a.Duration.Round(100*time.Millisecond), a.Tokens))
	if a.Outcome == loop.AttemptAccepted {
		return fmt.Sprintf("%s %s %s", p.st.success.Render(iconDone), head, timing)
	}
	detail := firstLine(a.Detail)
	return fmt.Sprintf("%s %s %s: %s %s", p.st.warn.Render(iconFailed), head,
		p.st.warn.Render(string(a.Reason)), detail, timing)
}

// severity renders a severity label in its color.
func (p *Printer) severity(s rules.Severity) string {
	label := fmt.Sprintf("%-6s", s.String())
	switch s {
	case rules.SeverityHigh:
		return p.st.high.Render(label)
	case rules.SeverityMedium:
		return p.st.medium.Render(label)
	default:
		return p.st.low.Render(label)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
