// Package rules holds the immutable rule catalog consumed by the detector and
// the remediation pipeline. A catalog is loaded once at startup from a static
// definition file (TOML or YAML) or from the embedded defaults, validated, and
// then passed explicitly to every component that needs it.
package rules

import (
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
)

// Severity ranks a rule's priority. Lower values sort first.
type Severity int

const (
	SeverityHigh   Severity = iota // Must-fix issues (data loss, panics).
	SeverityMedium                 // Default when a definition omits severity.
	SeverityLow                    // Advisory modernisation hints.
)

// ParseSeverity parses HIGH, MEDIUM or LOW case-insensitively. An empty
// string yields SeverityMedium.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HIGH":
		return SeverityHigh, nil
	case "MEDIUM", "":
		return SeverityMedium, nil
	case "LOW":
		return SeverityLow, nil
	default:
		return 0, fmt.Errorf("unknown severity %q", s)
	}
}

// String returns the upper-case name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityHigh:
		return "HIGH"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler so severities render by name
// in JSON reports.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Rule is a single detection rule. Rules are values; the compiled pattern is
// shared and safe for concurrent matching.
type Rule struct {
	ID         string
	Language   string
	Expr       string // source text of Pattern
	Suggestion string
	Severity   Severity
	FixExample string // optional before/after snippet forwarded to the remediation service

	pattern *regexp2.Regexp
}

// Match reports the first span of line matched by the rule's pattern.
// A pattern that exceeds its match timeout returns an error.
func (r Rule) Match(line string) (string, bool, error) {
	if r.pattern == nil {
		return "", false, nil
	}
	m, err := r.pattern.FindStringMatch(line)
	if err != nil {
		return "", false, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	if m == nil {
		return "", false, nil
	}
	return m.String(), true, nil
}

// DefaultCommentPrefixes are used for languages that declare none.
var DefaultCommentPrefixes = []string{"#", "//"}

// Language groups the file extensions sharing one rule set. Includes names
// other languages whose rules also apply, after the language's own rules.
// Lines starting with one of Comments are never scanned.
type Language struct {
	Name       string
	Extensions []string
	Includes   []string
	Comments   []string
}

// IsComment reports whether a trimmed source line is a whole-line comment.
func (l Language) IsComment(trimmed string) bool {
	prefixes := l.Comments
	if len(prefixes) == 0 {
		prefixes = DefaultCommentPrefixes
	}
	for _, p := range prefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}
