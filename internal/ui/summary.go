package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/papapumpkin/optifix/internal/isolation"
	"github.com/papapumpkin/optifix/internal/ledger"
	"github.com/papapumpkin/optifix/internal/loop"
)

// RunSummary prints the close-out of a run: per-state counts, the session
// branch with per-file diff stats, and how to review, merge or discard it.
// sum is nil for dry runs and for runs that never opened a session.
func (p *Printer) RunSummary(rr *loop.RunResult, sum *isolation.Summary) {
	if rr == nil {
		return
	}
	lines := []string{
		p.st.title.Render("optifix run"),
		fmt.Sprintf("%s %d   %s %d   %s %d   %s %d",
			p.st.success.Render("fixed"), rr.Count(loop.StateAccepted),
			p.st.danger.Render("abandoned"), rr.Count(loop.StateAbandoned),
			p.st.dim.Render("clean"), rr.Count(loop.StateClean),
			p.st.dim.Render("skipped"), rr.Count(loop.StateSkipped)),
		p.st.dim.Render(fmt.Sprintf("%d attempt(s) in %s", rr.Attempts(), rr.Duration.Round(time.Second))),
	}
	if n := len(rr.NotStarted); n > 0 {
		lines = append(lines, p.st.warn.Render(fmt.Sprintf("%d file(s) not started", n)))
	}

	if sum != nil {
		lines = append(lines, "", p.st.label.Render("branch ")+sum.Branch+p.st.dim.Render(" from "+sum.BaseRef+" @ "+shortSHA(sum.BaseSHA)))
		for _, f := range sum.Fixed() {
			lines = append(lines, "  "+p.fileRecord(f))
		}
		for _, f := range sum.Abandoned() {
			lines = append(lines, "  "+p.fileRecord(f))
		}
		if !sum.BaseUnchanged {
			lines = append(lines, p.st.danger.Render(iconWarn+" base "+sum.BaseRef+" moved during the run"))
		}
	}

	p.mu.Lock()
	fmt.Fprintln(p.w, p.st.box.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
	p.mu.Unlock()

	for _, hint := range Hints(sum) {
		p.Info(hint)
	}
}

func (p *Printer) fileRecord(f isolation.FileRecord) string {
	switch f.Outcome {
	case isolation.OutcomeFixed:
		return fmt.Sprintf("%s %s %s %s", p.st.success.Render(iconDone), f.Path,
			p.st.success.Render(fmt.Sprintf("+%d", f.Stat.Added)), p.st.danger.Render(fmt.Sprintf("-%d", f.Stat.Removed)))
	case isolation.OutcomeAbandonedReverted:
		return fmt.Sprintf("%s %s %s", p.st.danger.Render(iconFailed), f.Path, p.st.dim.Render("reverted"))
	default:
		return fmt.Sprintf("%s %s %s", p.st.dim.Render(iconSkipped), f.Path, p.st.dim.Render("unchanged"))
	}
}

// Hints returns the review, merge and discard commands for a closed
// session. A session without commits has nothing to review.
func Hints(sum *isolation.Summary) []string {
	if sum == nil || sum.BranchDeleted || len(sum.Fixed()) == 0 {
		return nil
	}
	base := sum.BaseRef
	if base == "" || base == "HEAD" {
		base = sum.BaseSHA
		if sum.OriginalBranch != "" && sum.OriginalBranch != "HEAD" {
			base = sum.OriginalBranch
		}
	}
	return []string{
		fmt.Sprintf("review:  git log -p %s..%s", base, sum.Branch),
		fmt.Sprintf("merge:   git checkout %s && git merge --ff-only %s", base, sum.Branch),
		fmt.Sprintf("discard: git branch -D %s", sum.Branch),
	}
}

// History prints a table of recorded runs, newest first.
func (p *Printer) History(runs []ledger.Run) {
	if len(runs) == 0 {
		p.Info("no recorded runs")
		return
	}
	p.printf("%s\n", p.st.label.Render(fmt.Sprintf("%-36s  %-19s  %-9s  %5s  %9s  %8s  %s",
		"RUN", "STARTED", "STATUS", "FIXED", "ABANDONED", "ATTEMPTS", "BRANCH")))
	for _, r := range runs {
		branch := r.Branch
		if r.DryRun {
			branch = "(dry run)"
		}
		p.printf("%-36s  %-19s  %s  %5d  %9d  %8d  %s\n", r.ID, r.StartedAt.Local().Format(time.DateTime),
			p.status(r.Status), r.Fixed, r.Abandoned, r.Attempts, branch)
	}
}

// RunDetail prints one run with its files and attempts.
func (p *Printer) RunDetail(run ledger.Run, files []ledger.File, attempts []ledger.Attempt) {
	p.printf("%s %s %s\n", p.st.title.Render("run"), run.ID, p.status(run.Status))
	p.printf("%s\n", p.st.dim.Render(fmt.Sprintf("branch %s from %s @ %s, started %s",
		orDash(run.Branch), orDash(run.BaseRef), orDash(shortSHA(run.BaseSHA)), run.StartedAt.Local().Format(time.DateTime))))
	if run.Error != "" {
		p.printf("%s %s\n", p.st.danger.Render("error:"), run.Error)
	}

	byFile := make(map[string][]ledger.Attempt)
	for _, a := range attempts {
		byFile[a.Path] = append(byFile[a.Path], a)
	}
	for _, f := range files {
		outcome := f.Outcome
		if outcome == "" {
			outcome = f.State
		}
		p.printf("\n%s %s %s\n", p.st.label.Render(f.Path), p.st.dim.Render(f.Language), outcome)
		for _, a := range byFile[f.Path] {
			line := fmt.Sprintf("  #%d %s", a.Ordinal, a.Outcome)
			if a.Reason != "" {
				line += " " + p.st.warn.Render(a.Reason)
			}
			if d := firstLine(a.Detail); d != "" {
				line += ": " + d
			}
			p.printf("%s\n", line)
		}
		if f.Error != "" {
			p.printf("  %s %s\n", p.st.danger.Render("error:"), f.Error)
		}
	}
}

func (p *Printer) status(s string) string {
	label := fmt.Sprintf("%-9s", s)
	switch s {
	case ledger.StatusCompleted:
		return p.st.success.Render(label)
	case ledger.StatusFailed:
		return p.st.danger.Render(label)
	case ledger.StatusCancelled:
		return p.st.warn.Render(label)
	default:
		return p.st.dim.Render(label)
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
