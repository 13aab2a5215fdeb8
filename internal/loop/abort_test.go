package loop

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/papapumpkin/optifix/internal/isolation"
	"github.com/papapumpkin/optifix/internal/remedy"
)

func TestFixFileFatalServiceErrorAborts(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "a.py", itemsLoop)
	fatal := &remedy.FatalError{StatusCode: 401, Err: errors.New("invalid api key")}
	rem := &scriptedRemediator{t: t, responses: []func(remedy.Request) (remedy.Response, error){fail(fatal)}}
	ws := newFakeWorkspace()
	o := newOrchestrator(t, rem, ws)

	res, err := o.FixFile(context.Background(), path)
	if !remedy.IsFatal(err) {
		t.Fatalf("err = %v, want fatal", err)
	}
	if res.State != StateAbandoned || res.Outcome != isolation.OutcomeAbandonedUnchanged || res.Cancelled {
		t.Errorf("state = %v, outcome = %q, cancelled = %v", res.State, res.Outcome, res.Cancelled)
	}
	if ws.records[path] != isolation.OutcomeAbandonedUnchanged {
		t.Errorf("recorded = %q", ws.records[path])
	}
}

func TestFixFileCommitFailureRevertsAndAborts(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "a.py", itemsLoop)
	rem := &scriptedRemediator{t: t, responses: []func(remedy.Request) (remedy.Response, error){
		reply(block("for k, v in d.items():", "for v in d.values():")),
	}}
	ws := newFakeWorkspace()
	ws.commitErr = errors.New("index.lock exists")
	o := newOrchestrator(t, rem, ws)

	res, err := o.FixFile(context.Background(), path)
	if !errors.Is(err, ErrWorkspace) {
		t.Fatalf("err = %v, want ErrWorkspace", err)
	}
	if res.State != StateAbandoned || res.Outcome != isolation.OutcomeAbandonedReverted {
		t.Errorf("state = %v, outcome = %q", res.State, res.Outcome)
	}
	if got := readFile(t, path); got != itemsLoop {
		t.Errorf("content not reverted: %q", got)
	}
}

func TestFixFileCancelledMidAttempt(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "a.py", itemsLoop)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rem := &scriptedRemediator{t: t, responses: []func(remedy.Request) (remedy.Response, error){
		func(remedy.Request) (remedy.Response, error) {
			cancel()
			return remedy.Response{}, ctx.Err()
		},
	}}
	ws := newFakeWorkspace()
	o := newOrchestrator(t, rem, ws)

	res, err := o.FixFile(ctx, path)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if !res.Cancelled || res.State != StateAbandoned {
		t.Errorf("cancelled = %v, state = %v", res.Cancelled, res.State)
	}
	if got := readFile(t, path); got != itemsLoop {
		t.Errorf("content = %q", got)
	}
	if _, ok := ws.records[path]; !ok {
		t.Error("cancelled file not recorded")
	}
}

func TestFixFileDryRun(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "a.py", itemsLoop)
	rem := &scriptedRemediator{t: t, responses: []func(remedy.Request) (remedy.Response, error){
		reply(block("for k, v in d.items():", "for v in d.values():")),
	}}
	o := newOrchestrator(t, rem, nil)
	o.DryRun = true

	res, err := o.FixFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateAccepted || len(res.Patches) != 1 {
		t.Errorf("state = %v, patches = %v", res.State, res.Patches)
	}
	if got := readFile(t, path); got != itemsLoop {
		t.Errorf("dry run wrote the file: %q", got)
	}
}

func TestFixFileNeedsWorkspace(t *testing.T) {
	t.Parallel()
	o := newOrchestrator(t, &scriptedRemediator{t: t}, nil)
	if _, err := o.FixFile(context.Background(), "a.py"); !errors.Is(err, ErrNoWorkspace) {
		t.Errorf("err = %v, want ErrNoWorkspace", err)
	}
}

func TestFixFileSkipsUnreadable(t *testing.T) {
	t.Parallel()
	o := newOrchestrator(t, &scriptedRemediator{t: t}, newFakeWorkspace())
	res, err := o.FixFile(context.Background(), filepath.Join(t.TempDir(), "missing.py"))
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateSkipped || res.Err == nil {
		t.Errorf("state = %v, err = %v", res.State, res.Err)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state State
		want  string
	}{
		{StateScanned, "scanned"},
		{StateAwaitingPatch, "awaiting_patch"},
		{StatePatchProposed, "patch_proposed"},
		{StateVerifying, "verifying"},
		{StateAccepted, "accepted"},
		{StateRetryPending, "retry_pending"},
		{StateAbandoned, "abandoned"},
		{StateClean, "clean"},
		{StateSkipped, "skipped"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
	if !StateAccepted.Terminal() || StateRetryPending.Terminal() {
		t.Error("Terminal() wrong")
	}
}
