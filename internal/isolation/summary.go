package isolation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/papapumpkin/optifix/internal/patch"
)

// DiffStat counts changed lines of one file between the base and the
// session branch.
type DiffStat struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// FileRecord is the close-out entry for one file.
type FileRecord struct {
	Path     string        `json:"path"` // relative to the work tree
	Outcome  Outcome       `json:"outcome"`
	Attempts int           `json:"attempts"`
	Commit   string        `json:"commit,omitempty"`
	Patches  []patch.Patch `json:"patches,omitempty"`
	Stat     DiffStat      `json:"stat"`
}

// Summary is the hand-off of a closed session for review.
type Summary struct {
	SessionID      string       `json:"session_id"`
	Branch         string       `json:"branch"`
	BaseRef        string       `json:"base_ref"`
	BaseSHA        string       `json:"base_sha"`
	OriginalBranch string       `json:"original_branch"`
	HeadSHA        string       `json:"head_sha"`
	BranchDeleted  bool         `json:"branch_deleted"`
	BaseUnchanged  bool         `json:"base_unchanged"`
	Files          []FileRecord `json:"files"`
	OpenedAt       time.Time    `json:"opened_at"`
	ClosedAt       time.Time    `json:"closed_at"`
}

// Count returns how many files ended with outcome o.
func (s *Summary) Count(o Outcome) int {
	if s == nil {
		return 0
	}
	n := 0
	for _, f := range s.Files {
		if f.Outcome == o {
			n++
		}
	}
	return n
}

// Fixed returns the records of committed files.
func (s *Summary) Fixed() []FileRecord {
	return s.filter(func(o Outcome) bool { return o == OutcomeFixed })
}

// Abandoned returns the records of files left as they were on the base.
func (s *Summary) Abandoned() []FileRecord {
	return s.filter(func(o Outcome) bool { return o != OutcomeFixed })
}

func (s *Summary) filter(keep func(Outcome) bool) []FileRecord {
	if s == nil {
		return nil
	}
	var out []FileRecord
	for _, f := range s.Files {
		if keep(f.Outcome) {
			out = append(out, f)
		}
	}
	return out
}

// diffStat parses the unified diff of rel between two commits.
func diffStat(ctx context.Context, git gitRunner, from, to, rel string) (DiffStat, error) {
	out, err := git.raw(ctx, "diff", "--no-color", "--no-ext-diff", from, to, "--", rel)
	if err != nil {
		return DiffStat{}, err
	}
	if strings.TrimSpace(out) == "" {
		return DiffStat{}, nil
	}
	files, err := diff.NewMultiFileDiffReader(strings.NewReader(out)).ReadAllFiles()
	if err != nil {
		return DiffStat{}, fmt.Errorf("parsing diff of %s: %w", rel, err)
	}
	var st DiffStat
	for _, fd := range files {
		for _, h := range fd.Hunks {
			for _, line := range strings.Split(string(h.Body), "\n") {
				switch {
				case strings.HasPrefix(line, "+"):
					st.Added++
				case strings.HasPrefix(line, "-"):
					st.Removed++
				}
			}
		}
	}
	return st, nil
}
