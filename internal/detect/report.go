package detect

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/papapumpkin/optifix/internal/rules"
)

// FileReport holds the findings of one scanned file.
type FileReport struct {
	Path     string    `json:"path"`
	Language string    `json:"language"`
	Findings []Finding `json:"findings"`
}

// Skipped records a file that could not be scanned.
type Skipped struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Report is the result of scanning a set of files.
type Report struct {
	Files   []FileReport `json:"files"`
	Skipped []Skipped    `json:"skipped,omitempty"`
}

// Findings returns every finding in the report, ordered by path then line.
func (r *Report) Findings() []Finding {
	var all []Finding
	for _, f := range r.Files {
		all = append(all, f.Findings...)
	}
	return all
}

// WithFindings returns the paths of files that have at least one finding.
func (r *Report) WithFindings() []string {
	var paths []string
	for _, f := range r.Files {
		if len(f.Findings) > 0 {
			paths = append(paths, f.Path)
		}
	}
	return paths
}

// Summary counts findings by severity.
func (r *Report) Summary() map[rules.Severity]int {
	counts := map[rules.Severity]int{
		rules.SeverityHigh:   0,
		rules.SeverityMedium: 0,
		rules.SeverityLow:    0,
	}
	for _, f := range r.Files {
		for _, fd := range f.Findings {
			counts[fd.Severity]++
		}
	}
	return counts
}

// BySeverity returns all findings ordered HIGH first, then by path and line,
// the way the scan report presents them.
func (r *Report) BySeverity() []Finding {
	all := r.Findings()
	slices.SortStableFunc(all, func(a, b Finding) int {
		return int(a.Severity) - int(b.Severity)
	})
	return all
}

// ScanFiles reads and scans paths concurrently. Reading is bounded by the
// detector's worker count. Unreadable or non-text files are recorded in
// Report.Skipped rather than failing the scan; only context cancellation
// returns an error.
func (d *Detector) ScanFiles(ctx context.Context, paths []string) (*Report, error) {
	files := make([]FileReport, len(paths))
	skips := make([]string, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			content, err := ReadText(path)
			if err != nil {
				skips[i] = err.Error()
				d.logger.Debug("skipping file", "path", path, "error", err)
				return nil
			}
			files[i] = FileReport{
				Path:     path,
				Language: d.Language(path),
				Findings: d.Scan(path, content),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scan cancelled: %w", err)
	}

	report := &Report{}
	for i, path := range paths {
		if skips[i] != "" {
			report.Skipped = append(report.Skipped, Skipped{Path: path, Reason: skips[i]})
			continue
		}
		report.Files = append(report.Files, files[i])
	}
	slices.SortFunc(report.Files, func(a, b FileReport) int { return strings.Compare(a.Path, b.Path) })
	return report, nil
}

// ErrNotText is returned by ReadText for content that is not UTF-8.
var ErrNotText = errors.New("not valid UTF-8 text")

// ReadText loads path as UTF-8 text.
func ReadText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s: %w", path, ErrNotText)
	}
	return string(data), nil
}
