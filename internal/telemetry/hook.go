package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/papapumpkin/optifix/internal/detect"
	"github.com/papapumpkin/optifix/internal/loop"
)

// FileStartData is the payload of a file_start event.
type FileStartData struct {
	Language    string   `json:"language"`
	MaxAttempts int      `json:"max_attempts"`
	Rules       []string `json:"rules"`
	Findings    int      `json:"findings"`
}

// AttemptData is the payload of an attempt event.
type AttemptData struct {
	Ordinal    int    `json:"ordinal"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Patches    int    `json:"patches"`
	Tokens     int    `json:"tokens"`
	DurationMS int64  `json:"duration_ms"`
}

// FileDoneData is the payload of a file_done event.
type FileDoneData struct {
	State     string `json:"state"`
	Outcome   string `json:"outcome,omitempty"`
	Attempts  int    `json:"attempts"`
	Commit    string `json:"commit,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Hook adapts an Emitter to loop.Hook for one run.
type Hook struct {
	emitter *Emitter
	runID   string
	logger  *slog.Logger
	now     func() time.Time
}

// NewHook returns a loop.Hook that writes events for runID to e.
func NewHook(e *Emitter, runID string, logger *slog.Logger) *Hook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hook{emitter: e, runID: runID, logger: logger, now: time.Now}
}

// RunStart records the beginning of the run.
func (h *Hook) RunStart(data any) { h.emit(KindRunStart, "", data) }

// RunDone records the end of the run.
func (h *Hook) RunDone(data any) { h.emit(KindRunDone, "", data) }

// OnEvent translates an orchestrator event into a telemetry line.
func (h *Hook) OnEvent(_ context.Context, ev loop.Event) {
	switch ev.Kind {
	case loop.EventFileStart:
		h.emit(KindFileStart, ev.Path, FileStartData{
			Language:    ev.Language,
			MaxAttempts: ev.MaxAttempts,
			Rules:       detect.RuleIDs(ev.Findings),
			Findings:    len(ev.Findings),
		})
	case loop.EventAttempt:
		if a := ev.Attempt; a != nil {
			h.emit(KindAttempt, ev.Path, AttemptData{
				Ordinal:    a.Ordinal,
				Outcome:    string(a.Outcome),
				Reason:     string(a.Reason),
				Detail:     a.Detail,
				Patches:    len(a.Patches),
				Tokens:     a.Tokens,
				DurationMS: a.Duration.Milliseconds(),
			})
		}
	case loop.EventAccepted, loop.EventAbandoned, loop.EventSkipped:
		if r := ev.Result; r != nil {
			d := FileDoneData{
				State:     r.State.String(),
				Outcome:   string(r.Outcome),
				Attempts:  len(r.Attempts),
				Commit:    r.Commit,
				Cancelled: r.Cancelled,
			}
			if r.Err != nil {
				d.Error = r.Err.Error()
			}
			h.emit(KindFileDone, ev.Path, d)
		}
	}
}

func (h *Hook) emit(kind, path string, data any) {
	err := h.emitter.Emit(Event{Timestamp: h.now(), Kind: kind, RunID: h.runID, Path: path, Data: data})
	if err != nil {
		h.logger.Warn("telemetry write failed", "kind", kind, "error", err)
	}
}
