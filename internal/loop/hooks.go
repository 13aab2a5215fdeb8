package loop

import (
	"context"

	"github.com/papapumpkin/optifix/internal/detect"
)

// EventKind identifies the type of lifecycle event in the orchestrator.
type EventKind int

const (
	// EventFileStart is emitted when a file with findings enters the loop.
	EventFileStart EventKind = iota
	// EventAttempt is emitted after each propose-apply-verify cycle.
	EventAttempt
	// EventAccepted is emitted when a file's patch is written and committed.
	EventAccepted
	// EventAbandoned is emitted when a file is reverted after exhaustion,
	// cancellation or an aborting failure.
	EventAbandoned
	// EventClean is emitted for files without findings.
	EventClean
	// EventSkipped is emitted for files that could not be read.
	EventSkipped
)

// String returns the snake_case name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventFileStart:
		return "file_start"
	case EventAttempt:
		return "attempt"
	case EventAccepted:
		return "accepted"
	case EventAbandoned:
		return "abandoned"
	case EventClean:
		return "clean"
	case EventSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Event represents a lifecycle event for one file.
type Event struct {
	Kind        EventKind
	Path        string
	Language    string
	MaxAttempts int
	Findings    []detect.Finding
	Attempt     *Attempt    // set for EventAttempt
	Result      *FileResult // set for terminal events
}

// Hook receives lifecycle events from the orchestrator. Implementations must
// not block.
type Hook interface {
	OnEvent(ctx context.Context, event Event)
}

// HookFunc adapts a plain function to the Hook interface.
type HookFunc func(ctx context.Context, event Event)

// OnEvent calls the wrapped function.
func (f HookFunc) OnEvent(ctx context.Context, event Event) { f(ctx, event) }
