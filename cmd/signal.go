package cmd

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/papapumpkin/optifix/internal/ui"
)

// setupSignalContext returns a context that is canceled on SIGINT or
// SIGTERM. Further signals do not exit the process: the run still reverts
// uncommitted files and closes the session before returning.
func setupSignalContext(printer *ui.Printer) (context.Context, context.CancelFunc) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	ctx, stop := cancelOnSignal(sigCh, printer)
	return ctx, func() {
		signal.Stop(sigCh)
		stop()
	}
}

// cancelOnSignal cancels the returned context on the first value from sigCh.
// The returned stop function cancels the context and waits for the watching
// goroutine to exit; it is safe to call more than once.
func cancelOnSignal(sigCh <-chan os.Signal, printer *ui.Printer) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		select {
		case <-sigCh:
		case <-done:
			return
		}
		printer.Warn("interrupt: finishing the current step and restoring the work tree")
		cancel()
		for {
			select {
			case <-sigCh:
				printer.Warn("already stopping; waiting for touched files to be restored")
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			cancel()
			close(done)
			<-exited
		})
	}
}
