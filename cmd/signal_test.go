package cmd

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/papapumpkin/optifix/internal/ui"
)

func stopWithin(t *testing.T, stop func()) {
	t.Helper()
	stopped := make(chan struct{})
	go func() {
		stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("signal goroutine did not exit after stop")
	}
}

func TestCancelOnSignalRepeatedSignalsOnlyCancel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	sigCh := make(chan os.Signal, 2)
	ctx, stop := cancelOnSignal(sigCh, ui.NewWriter(&buf))

	sigCh <- os.Interrupt
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled by the first signal")
	}
	// Later signals are absorbed; the process keeps running to restore files.
	sigCh <- os.Interrupt
	sigCh <- os.Interrupt

	stopWithin(t, stop)
	stop()
	if !strings.Contains(buf.String(), "restoring the work tree") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestCancelOnSignalStopWithoutSignal(t *testing.T) {
	t.Parallel()
	ctx, stop := cancelOnSignal(make(chan os.Signal), ui.NewWriter(&bytes.Buffer{}))
	if ctx.Err() != nil {
		t.Fatal("context cancelled before any signal")
	}
	stopWithin(t, stop)
	if ctx.Err() == nil {
		t.Error("stop did not cancel the context")
	}
}
