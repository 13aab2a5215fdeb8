package loop

import (
	"fmt"
	"strings"

	"github.com/papapumpkin/optifix/internal/detect"
)

// repeatThreshold is the number of consecutive identical failures of one
// rule after which the guidance switches to "keep the existing logic".
const repeatThreshold = 2

// failureHistory tracks, per rule, how many consecutive attempts failed with
// the same signature. It lives for one file within one run.
type failureHistory struct {
	rules map[string]*ruleFailure
}

type ruleFailure struct {
	signature   string
	consecutive int
}

func newFailureHistory() *failureHistory {
	return &failureHistory{rules: make(map[string]*ruleFailure)}
}

// record registers the findings that still failed after an attempt and
// returns guidance for the next request. An attempt that failed without
// remaining findings (no-unique-match, malformed) yields no guidance and
// leaves the streaks untouched.
func (h *failureHistory) record(failing []detect.Finding) string {
	var parts []string
	for _, f := range failing {
		rec, ok := h.rules[f.RuleID]
		if !ok {
			rec = &ruleFailure{}
			h.rules[f.RuleID] = rec
		}
		sig := signature(f)
		if rec.signature == sig {
			rec.consecutive++
		} else {
			rec.consecutive = 1
		}
		rec.signature = sig

		snippet := strings.TrimSpace(f.Code)
		if rec.consecutive >= repeatThreshold {
			parts = append(parts, fmt.Sprintf(
				"Rule %s keeps failing; keep the existing logic near '%s' and adjust only the guarded block to satisfy the rule without reworking the entire function.",
				f.RuleID, orDefault(snippet, "the highlighted section")))
		} else {
			parts = append(parts, fmt.Sprintf(
				"You failed on rule %s because %s; avoid the prior edit by focusing changes around '%s'.",
				f.RuleID, orDefault(f.Suggestion, "No message"), orDefault(snippet, "the affected lines")))
		}
	}
	return strings.Join(parts, " ")
}

// signature identifies a failure by rule, line and message prefix.
func signature(f detect.Finding) string {
	msg := f.Suggestion
	if len(msg) > 128 {
		msg = msg[:128]
	}
	return fmt.Sprintf("%s|%d|%s", f.RuleID, f.Line, msg)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
