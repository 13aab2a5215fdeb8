package loop

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/papapumpkin/optifix/internal/detect"
	"github.com/papapumpkin/optifix/internal/isolation"
	"github.com/papapumpkin/optifix/internal/remedy"
)

func TestRunMixedFiles(t *testing.T) {
	t.Parallel()
	fixable := writeTemp(t, "a.py", itemsLoop)
	stubborn := writeTemp(t, "b.go", panicky)
	clean := writeTemp(t, "c.py", valuesLoop)

	stillPanics := reply(block("\tpanic(\"x\")", "\tpanic(\"y\")"))
	rem := &scriptedRemediator{t: t, responses: []func(remedy.Request) (remedy.Response, error){
		reply(block("for k, v in d.items():", "for v in d.values():")),
		stillPanics, stillPanics, stillPanics,
	}}
	ws := newFakeWorkspace()
	o := newOrchestrator(t, rem, ws)

	var kinds []string
	o.Hooks = []Hook{HookFunc(func(_ context.Context, ev Event) {
		kinds = append(kinds, ev.Kind.String())
	})}

	rr, err := o.Run(context.Background(), []string{fixable, stubborn, clean})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rr.Files) != 3 || len(rr.NotStarted) != 0 {
		t.Fatalf("files = %d, not started = %v", len(rr.Files), rr.NotStarted)
	}
	if rr.Count(StateAccepted) != 1 || rr.Count(StateAbandoned) != 1 || rr.Count(StateClean) != 1 {
		t.Errorf("states = %v %v %v", rr.Files[0].State, rr.Files[1].State, rr.Files[2].State)
	}
	outcomes := rr.Outcomes()
	if outcomes[isolation.OutcomeFixed] != 1 || outcomes[isolation.OutcomeAbandonedReverted] != 1 || len(outcomes) != 2 {
		t.Errorf("outcomes = %v", outcomes)
	}
	if rr.Attempts() != 4 {
		t.Errorf("attempts = %d, want 4", rr.Attempts())
	}
	want := []string{
		"file_start", "attempt", "accepted",
		"file_start", "attempt", "attempt", "attempt", "abandoned",
		"clean",
	}
	if !slices.Equal(kinds, want) {
		t.Errorf("events = %v, want %v", kinds, want)
	}
	if rr.Duration <= 0 {
		t.Errorf("duration not set")
	}
}

func TestRunMaxFiles(t *testing.T) {
	t.Parallel()
	clean := writeTemp(t, "c.py", valuesLoop)
	first := writeTemp(t, "a.py", itemsLoop)
	second := writeTemp(t, "d.py", itemsLoop)
	rem := &scriptedRemediator{t: t, responses: []func(remedy.Request) (remedy.Response, error){
		reply(block("for k, v in d.items():", "for v in d.values():")),
	}}
	o := newOrchestrator(t, rem, newFakeWorkspace())
	o.MaxFiles = 1

	rr, err := o.Run(context.Background(), []string{clean, first, second})
	if err != nil {
		t.Fatal(err)
	}
	if len(rr.Files) != 2 || !slices.Equal(rr.NotStarted, []string{second}) {
		t.Errorf("files = %d, not started = %v", len(rr.Files), rr.NotStarted)
	}
	if got := readFile(t, second); got != itemsLoop {
		t.Errorf("file beyond limit modified: %q", got)
	}
}

func TestRunStopsOnFatalError(t *testing.T) {
	t.Parallel()
	first := writeTemp(t, "a.py", itemsLoop)
	second := writeTemp(t, "b.go", panicky)
	rem := &scriptedRemediator{t: t, responses: []func(remedy.Request) (remedy.Response, error){
		fail(&remedy.FatalError{StatusCode: 404, Err: errors.New("model not found")}),
	}}
	o := newOrchestrator(t, rem, newFakeWorkspace())

	rr, err := o.Run(context.Background(), []string{first, second})
	if !remedy.IsFatal(err) {
		t.Fatalf("err = %v, want fatal", err)
	}
	if len(rr.Files) != 1 || !slices.Equal(rr.NotStarted, []string{second}) {
		t.Errorf("files = %d, not started = %v", len(rr.Files), rr.NotStarted)
	}
}

func TestRunCancellationLeavesRemainingUntouched(t *testing.T) {
	t.Parallel()
	first := writeTemp(t, "a.py", itemsLoop)
	second := writeTemp(t, "b.go", panicky)
	third := writeTemp(t, "d.py", itemsLoop)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rem := &scriptedRemediator{t: t, responses: []func(remedy.Request) (remedy.Response, error){
		reply(block("for k, v in d.items():", "for v in d.values():")),
		func(remedy.Request) (remedy.Response, error) {
			cancel()
			return remedy.Response{}, context.Canceled
		},
	}}
	ws := newFakeWorkspace()
	o := newOrchestrator(t, rem, ws)

	rr, err := o.Run(ctx, []string{first, second, third})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(rr.Files) != 2 || !slices.Equal(rr.NotStarted, []string{third}) {
		t.Fatalf("files = %d, not started = %v", len(rr.Files), rr.NotStarted)
	}
	if rr.Files[0].State != StateAccepted || rr.Files[0].Cancelled {
		t.Errorf("first file = %v cancelled=%v", rr.Files[0].State, rr.Files[0].Cancelled)
	}
	if !rr.Files[1].Cancelled || rr.Files[1].Outcome != isolation.OutcomeAbandonedUnchanged {
		t.Errorf("second file = %+v", rr.Files[1])
	}
	if got := readFile(t, second); got != panicky {
		t.Errorf("cancelled file modified: %q", got)
	}
	if got := readFile(t, third); got != itemsLoop {
		t.Errorf("unstarted file modified: %q", got)
	}
	if len(ws.commits) != 1 || !strings.HasPrefix(ws.commits[0], first) {
		t.Errorf("commits = %v", ws.commits)
	}
}

func TestRunRequiresWorkspaceUnlessDryRun(t *testing.T) {
	t.Parallel()
	o := newOrchestrator(t, &scriptedRemediator{t: t}, nil)
	rr, err := o.Run(context.Background(), []string{"a.py"})
	if !errors.Is(err, ErrNoWorkspace) {
		t.Fatalf("err = %v", err)
	}
	if len(rr.NotStarted) != 1 {
		t.Errorf("not started = %v", rr.NotStarted)
	}
}

func TestFailureHistory(t *testing.T) {
	t.Parallel()
	f := detect.Finding{RuleID: "R1", Line: 3, Code: "x = 1", Suggestion: "do better"}

	h := newFailureHistory()
	if got := h.record(nil); got != "" {
		t.Errorf("no failures guidance = %q", got)
	}
	if got := h.record([]detect.Finding{f}); !strings.HasPrefix(got, "You failed on rule R1 because do better") {
		t.Errorf("first failure = %q", got)
	}
	if got := h.record([]detect.Finding{f}); !strings.HasPrefix(got, "Rule R1 keeps failing; keep the existing logic near 'x = 1'") {
		t.Errorf("repeat failure = %q", got)
	}

	moved := f
	moved.Line = 4
	if got := h.record([]detect.Finding{moved}); !strings.HasPrefix(got, "You failed on rule R1") {
		t.Errorf("moved failure should reset streak: %q", got)
	}

	bare := detect.Finding{RuleID: "R2"}
	if got := newFailureHistory().record([]detect.Finding{bare}); !strings.Contains(got, "because No message") ||
		!strings.Contains(got, "'the affected lines'") {
		t.Errorf("defaults = %q", got)
	}
}

// rootedWorkspace names paths relative to root, like a git session does.
type rootedWorkspace struct {
	*fakeWorkspace
	root string
}

func (w rootedWorkspace) RelPath(path string) (string, error) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func TestCommitMessageUsesWorkspaceRelativePath(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "a.py", itemsLoop)
	rem := &scriptedRemediator{t: t, responses: []func(remedy.Request) (remedy.Response, error){
		reply(block("for k, v in d.items():", "for v in d.values():")),
	}}
	ws := rootedWorkspace{fakeWorkspace: newFakeWorkspace(), root: filepath.Dir(path)}
	o := newOrchestrator(t, rem, ws)

	if _, err := o.FixFile(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	if len(ws.commits) != 1 {
		t.Fatalf("commits = %v", ws.commits)
	}
	if want := path + ": optifix: a.py: resolve PY-VALUES"; ws.commits[0] != want {
		t.Errorf("commit = %q, want %q", ws.commits[0], want)
	}
}

func TestCommitMessage(t *testing.T) {
	t.Parallel()
	findings := []detect.Finding{{RuleID: "B"}, {RuleID: "A"}, {RuleID: "B"}}
	if got, want := commitMessage("pkg/a.py", findings), "optifix: pkg/a.py: resolve A, B"; got != want {
		t.Errorf("commitMessage = %q, want %q", got, want)
	}
}
