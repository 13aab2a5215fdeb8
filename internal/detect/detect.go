// Package detect runs catalog rules over source text and reports findings.
// Detection is lexical: each rule's pattern is evaluated one line at a time,
// and a scan is a pure function of the catalog and the content.
package detect

import (
	"cmp"
	"log/slog"
	"runtime"
	"slices"
	"strings"

	"github.com/papapumpkin/optifix/internal/rules"
)

// Finding is one rule match at one line of one file.
type Finding struct {
	RuleID     string         `json:"rule_id"`
	Path       string         `json:"path"`
	Line       int            `json:"line"` // 1-based
	Text       string         `json:"text"` // matched span
	Code       string         `json:"code"` // trimmed source line
	Severity   rules.Severity `json:"severity"`
	Suggestion string         `json:"suggestion"`
	FixExample string         `json:"fix_example,omitempty"`
}

// Detector scans content against an immutable rule catalog.
type Detector struct {
	catalog *rules.Catalog
	workers int
	logger  *slog.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithWorkers bounds the number of files ScanFiles reads concurrently.
func WithWorkers(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithLogger sets the logger used for skipped files and pattern timeouts.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// New returns a Detector over catalog.
func New(catalog *rules.Catalog, opts ...Option) *Detector {
	d := &Detector{
		catalog: catalog,
		workers: runtime.NumCPU(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Catalog returns the catalog the detector was built with.
func (d *Detector) Catalog() *rules.Catalog { return d.catalog }

// Language returns the catalog language for path, or "" when unsupported.
func (d *Detector) Language(path string) string {
	return d.catalog.LanguageFor(path)
}

// Scan returns the findings for content as if it were the file at path.
// Unsupported extensions and clean content both yield an empty slice.
func (d *Detector) Scan(path, content string) []Finding {
	lang := d.catalog.LanguageFor(path)
	if lang == "" {
		return []Finding{}
	}
	return d.ScanText(content, lang, path)
}

// ScanText scans content with the rules of language, labelling findings with
// path. Findings are ordered by line, then rule identifier; each rule fires at
// most once per line.
func (d *Detector) ScanText(content, language, path string) []Finding {
	ruleset := d.catalog.RulesFor(language)
	findings := []Finding{}
	if len(ruleset) == 0 {
		return findings
	}
	lang, _ := d.catalog.Language(language)

	for i, line := range strings.Split(content, "\n") {
		line = strings.TrimSuffix(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || lang.IsComment(trimmed) {
			continue
		}
		for _, r := range ruleset {
			text, ok, err := r.Match(line)
			if err != nil {
				d.logger.Warn("rule evaluation failed", "rule", r.ID, "path", path, "line", i+1, "error", err)
				continue
			}
			if !ok {
				continue
			}
			findings = append(findings, Finding{
				RuleID:     r.ID,
				Path:       path,
				Line:       i + 1,
				Text:       text,
				Code:       trimmed,
				Severity:   r.Severity,
				Suggestion: r.Suggestion,
				FixExample: r.FixExample,
			})
		}
	}

	slices.SortStableFunc(findings, func(a, b Finding) int {
		if c := cmp.Compare(a.Line, b.Line); c != 0 {
			return c
		}
		return cmp.Compare(a.RuleID, b.RuleID)
	})
	return findings
}

// RuleIDs returns the distinct rule identifiers in findings, sorted.
func RuleIDs(findings []Finding) []string {
	seen := make(map[string]bool, len(findings))
	var ids []string
	for _, f := range findings {
		if !seen[f.RuleID] {
			seen[f.RuleID] = true
			ids = append(ids, f.RuleID)
		}
	}
	slices.Sort(ids)
	return ids
}
