package isolation

import (
	"strconv"
	"strings"
	"time"
)

// sessionBranch returns "<prefix>/run-<unix seconds>". Each segment of the
// prefix is slugified so a configured prefix cannot produce an invalid ref.
func sessionBranch(prefix string, at time.Time) string {
	var segs []string
	for _, seg := range strings.Split(prefix, "/") {
		if s := slugifyBranch(seg); s != "" {
			segs = append(segs, s)
		}
	}
	if len(segs) == 0 {
		segs = []string{DefaultBranchPrefix}
	}
	return strings.Join(segs, "/") + "/run-" + strconv.FormatInt(at.Unix(), 10)
}

// slugifyBranch converts a human-readable name into a valid git branch segment.
// Spaces become hyphens, disallowed characters are stripped, and runs of hyphens
// are collapsed. The result is lowercased and trimmed of leading/trailing hyphens.
func slugifyBranch(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		case r == ' ' || r == '_':
			b.WriteRune('-')
		default:
			// drop disallowed characters (&, ~, ^, :, ?, *, [, etc.)
		}
	}
	s := b.String()
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", ".")
	}
	return strings.Trim(s, "-.")
}
