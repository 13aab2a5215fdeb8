package ui

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/papapumpkin/optifix/internal/detect"
	"github.com/papapumpkin/optifix/internal/rules"
	"github.com/papapumpkin/optifix/internal/watch"
)

// ScanReport prints findings grouped by file, highest severity first, then
// a per-severity tally. Paths are shown relative to base when possible.
func (p *Printer) ScanReport(r *detect.Report, base string) {
	findings := r.BySeverity()
	if len(findings) == 0 {
		p.printf("%s no findings in %d file(s)\n", p.st.success.Render(iconDone), len(r.Files))
		p.skipped(r.Skipped)
		return
	}

	byFile := make(map[string][]detect.Finding)
	var order []string
	for _, f := range findings {
		if _, ok := byFile[f.Path]; !ok {
			order = append(order, f.Path)
		}
		byFile[f.Path] = append(byFile[f.Path], f)
	}
	for _, path := range order {
		p.printf("\n%s\n", p.st.title.Render(relTo(base, path)))
		for _, f := range byFile[path] {
			p.printf("  %s %s %s %s\n", p.severity(f.Severity), p.st.dim.Render(fmt.Sprintf("L%-4d", f.Line)),
				p.st.label.Render(f.RuleID), f.Suggestion)
			p.printf("         %s\n", p.st.dim.Render(f.Code))
		}
	}

	counts := r.Summary()
	p.printf("\n%s %d finding(s) in %d file(s): %s HIGH, %s MEDIUM, %s LOW\n",
		p.st.warn.Render(iconWarn), len(findings), len(order),
		p.st.high.Render(fmt.Sprint(counts[rules.SeverityHigh])),
		p.st.medium.Render(fmt.Sprint(counts[rules.SeverityMedium])),
		p.st.low.Render(fmt.Sprint(counts[rules.SeverityLow])))
	p.skipped(r.Skipped)
}

func (p *Printer) skipped(skips []detect.Skipped) {
	if len(skips) == 0 {
		return
	}
	p.printf("%s\n", p.st.dim.Render(fmt.Sprintf("%d file(s) skipped", len(skips))))
	for _, s := range skips {
		p.printf("  %s %s: %s\n", p.st.dim.Render(iconSkipped), s.Path, s.Reason)
	}
}

// Rules prints a catalog listing, grouped by language.
func (p *Printer) Rules(cat *rules.Catalog, language string) {
	langs := cat.Languages()
	if language != "" {
		langs = []string{language}
	}
	total := 0
	for _, lang := range langs {
		rs := cat.RulesFor(lang)
		if len(rs) == 0 {
			continue
		}
		p.printf("\n%s %s\n", p.st.title.Render(lang), p.st.dim.Render(fmt.Sprintf("(%d rules)", len(rs))))
		slices.SortStableFunc(rs, func(a, b rules.Rule) int { return strings.Compare(a.ID, b.ID) })
		for _, r := range rs {
			p.printf("  %s %-14s %s\n", p.severity(r.Severity), r.ID, r.Suggestion)
		}
		total += len(rs)
	}
	p.printf("\n%s\n", p.st.dim.Render(fmt.Sprintf("%d rule(s) from %s", total, cat.Source())))
}

// WatchChange prints the findings of one changed file.
func (p *Printer) WatchChange(c watch.Change, base string, findings []detect.Finding) {
	path := relTo(base, c.Path)
	switch {
	case c.Kind == watch.ChangeRemoved:
		p.printf("%s %s removed\n", p.st.dim.Render(iconSkipped), path)
	case len(findings) == 0:
		p.printf("%s %s clean\n", p.st.success.Render(iconDone), path)
	default:
		p.printf("%s %s %d finding(s)\n", p.st.warn.Render(iconWarn), p.st.label.Render(path), len(findings))
		for _, f := range findings {
			p.printf("  %s %s %s %s\n", p.severity(f.Severity), p.st.dim.Render(fmt.Sprintf("L%-4d", f.Line)),
				f.RuleID, f.Suggestion)
		}
	}
}

func relTo(base, path string) string {
	if base == "" {
		return path
	}
	rel, err := filepath.Rel(base, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}
