// Package patch models exact search/replace edits proposed by the
// remediation service. Applying a patch never guesses: the search text must
// occur exactly once, verbatim, in the content being edited.
package patch

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoUniqueMatch is returned when a patch's search text is absent or
	// occurs more than once.
	ErrNoUniqueMatch = errors.New("search text does not match exactly once")
	// ErrMalformed is returned when a service response contains no usable patch.
	ErrMalformed = errors.New("malformed patch response")
)

// Patch replaces one verbatim occurrence of Search with Replace in Path.
type Patch struct {
	Path    string `json:"path"`
	Search  string `json:"search"`
	Replace string `json:"replace"`
}

// MatchReason explains why a patch did not match uniquely.
type MatchReason int

const (
	NoMatch   MatchReason = iota // search text absent
	Ambiguous                    // search text occurs more than once
)

// String returns a short description of the reason.
func (r MatchReason) String() string {
	if r == Ambiguous {
		return "ambiguous"
	}
	return "no match"
}

// MatchError reports which patch in a sequence failed to apply.
type MatchError struct {
	Index  int // position in the applied sequence
	Reason MatchReason
}

// Error returns a human-readable description of the failure.
func (e *MatchError) Error() string {
	return fmt.Sprintf("patch %d: %s: %v", e.Index+1, e.Reason, ErrNoUniqueMatch)
}

// Unwrap returns ErrNoUniqueMatch.
func (e *MatchError) Unwrap() error { return ErrNoUniqueMatch }

// Apply applies patches in order to content and returns the result. Each
// patch matches against the output of the previous one. If any patch fails,
// Apply returns an error and no partial result.
func Apply(content string, patches []Patch) (string, error) {
	scratch := content
	for i, p := range patches {
		if p.Search == "" {
			return "", fmt.Errorf("patch %d: empty search text: %w", i+1, ErrMalformed)
		}
		first := strings.Index(scratch, p.Search)
		if first < 0 {
			return "", &MatchError{Index: i, Reason: NoMatch}
		}
		// Overlapping occurrences count too, so resume one byte past the start.
		if strings.Contains(scratch[first+1:], p.Search) {
			return "", &MatchError{Index: i, Reason: Ambiguous}
		}
		scratch = scratch[:first] + p.Replace + scratch[first+len(p.Search):]
	}
	return scratch, nil
}

// MatchLineEndings rewrites LF line breaks in patches to CRLF when content
// uses CRLF line endings, so that patches parsed from a normalised response
// still match a Windows-style file verbatim.
func MatchLineEndings(content string, patches []Patch) []Patch {
	if !strings.Contains(content, "\r\n") {
		return patches
	}
	out := make([]Patch, len(patches))
	for i, p := range patches {
		out[i] = Patch{
			Path:    p.Path,
			Search:  toCRLF(p.Search),
			Replace: toCRLF(p.Replace),
		}
	}
	return out
}

func toCRLF(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\n", "\r\n")
}
