package loop

import (
	"time"

	"github.com/papapumpkin/optifix/internal/detect"
	"github.com/papapumpkin/optifix/internal/isolation"
	"github.com/papapumpkin/optifix/internal/patch"
	"github.com/papapumpkin/optifix/internal/verify"
)

// State is a file's position in the remediation state machine.
type State int

const (
	StateScanned       State = iota // Findings computed, no attempt yet.
	StateAwaitingPatch              // Remediation service invoked.
	StatePatchProposed              // Response parsed into patches.
	StateVerifying                  // Patched scratch content under verification.
	StateAccepted                   // Patch accepted; terminal.
	StateRetryPending               // Attempt rejected with budget left.
	StateAbandoned                  // Budget exhausted, cancelled or aborted; terminal.
	StateClean                      // No findings; terminal without session activity.
	StateSkipped                    // Unreadable or unsupported; terminal.
)

// String returns the snake_case name of the state.
func (s State) String() string {
	switch s {
	case StateScanned:
		return "scanned"
	case StateAwaitingPatch:
		return "awaiting_patch"
	case StatePatchProposed:
		return "patch_proposed"
	case StateVerifying:
		return "verifying"
	case StateAccepted:
		return "accepted"
	case StateRetryPending:
		return "retry_pending"
	case StateAbandoned:
		return "abandoned"
	case StateClean:
		return "clean"
	case StateSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateAccepted, StateAbandoned, StateClean, StateSkipped:
		return true
	default:
		return false
	}
}

// AttemptOutcome is the verdict on one propose-apply-verify cycle.
type AttemptOutcome string

// Attempt outcomes.
const (
	AttemptAccepted  AttemptOutcome = "accepted"
	AttemptRejected  AttemptOutcome = "rejected"
	AttemptMalformed AttemptOutcome = "malformed"
)

// Attempt records one cycle for a file.
type Attempt struct {
	Ordinal  int
	Patches  []patch.Patch
	Outcome  AttemptOutcome
	Reason   verify.Reason
	Detail   string
	Tokens   int
	Duration time.Duration
}

// feedback renders the rejection as sent to the next request.
func (a Attempt) feedback() string {
	if a.Detail == "" {
		return string(a.Reason)
	}
	return string(a.Reason) + ": " + a.Detail
}

// FileResult is the terminal record of one file.
type FileResult struct {
	Path      string
	Language  string
	Findings  []detect.Finding // findings targeted by the attempts
	Remaining []detect.Finding // findings left after the accepted patch
	Attempts  []Attempt
	State     State
	Outcome   isolation.Outcome // empty for clean and skipped files
	Commit    string
	Patches   []patch.Patch // accepted patch set
	Cancelled bool
	Err       error // why a file was skipped or aborted
}

// LastAttempt returns the final attempt, or nil when none was made.
func (r *FileResult) LastAttempt() *Attempt {
	if len(r.Attempts) == 0 {
		return nil
	}
	return &r.Attempts[len(r.Attempts)-1]
}
