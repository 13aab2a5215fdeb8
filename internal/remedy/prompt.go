package remedy

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/papapumpkin/optifix/internal/detect"
	"github.com/papapumpkin/optifix/internal/patch"
)

// BuildPrompt renders the completion prompt for one attempt. The response is
// expected to contain SEARCH/REPLACE blocks only, never the whole file.
func BuildPrompt(req Request) string {
	var b strings.Builder

	b.WriteString("You are an expert code refactoring agent. Fix the issues below using a SEARCH/REPLACE block.\n")
	b.WriteString("Reduce token usage by only returning the changed lines. Do NOT return the full file.\n\n")

	b.WriteString("RULE CONTEXT:\n")
	seen := make(map[string]bool)
	for _, f := range req.Findings {
		if seen[f.RuleID] {
			continue
		}
		seen[f.RuleID] = true
		fmt.Fprintf(&b, "- %s: %s\n", f.RuleID, f.Suggestion)
	}

	b.WriteString("\nISSUES:\n")
	for _, f := range req.Findings {
		fmt.Fprintf(&b, "- Line %d (Rule: %s): %s (Priority: %s) | Code: %s\n",
			f.Line, f.RuleID, f.Suggestion, f.Severity, strings.TrimSpace(f.Code))
	}

	if examples := fixExamples(req.Findings); examples != "" {
		b.WriteString("\nFIX EXAMPLES:\n")
		b.WriteString(examples)
	}

	fmt.Fprintf(&b, "\nFILE CONTENT:\n```%s\n%s\n```\n\n", fence(req.Path), strings.TrimRight(req.Content, "\n"))

	b.WriteString("Return the fix using this EXACT format:\n```\n")
	fmt.Fprintf(&b, "%s\n[Exact lines to be replaced from the original file]\n%s\n[New corrected lines]\n%s\n```\n",
		patch.SearchMarker, patch.DividerMarker, patch.EndMarker)
	b.WriteString("If multiple changes are needed, provide multiple blocks. Copy the SEARCH lines exactly from the input.")

	if req.Attempt > 1 && req.PriorRejection != "" {
		fmt.Fprintf(&b, "\n\nPREVIOUS ATTEMPT %d FAILED: %s. %s",
			req.Attempt-1, req.PriorRejection, followUp(req.Attempt))
	}
	if req.Guidance != "" {
		fmt.Fprintf(&b, "\n\nRULE GUIDANCE: %s", req.Guidance)
	}
	return b.String()
}

// followUp returns the extra instruction for a retry. Later attempts ask for
// progressively narrower edits.
func followUp(attempt int) string {
	if attempt <= 2 {
		return "Highlight the exact lines that still fail verification, mention the rule IDs, and make incremental edits strictly around those locations."
	}
	return "Apply a minimal diff only around the remaining failing lines; keep unrelated sections untouched and avoid reformatting the whole file."
}

func fixExamples(findings []detect.Finding) string {
	var b strings.Builder
	seen := make(map[string]bool)
	for _, f := range findings {
		if f.FixExample == "" || seen[f.RuleID] {
			continue
		}
		seen[f.RuleID] = true
		fmt.Fprintf(&b, "%s:\n%s\n", f.RuleID, strings.TrimRight(f.FixExample, "\n"))
	}
	return b.String()
}

// fence returns the code fence info string for path.
func fence(path string) string {
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
		return ext
	}
	return "txt"
}
