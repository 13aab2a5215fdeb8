package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/optifix/internal/detect"
	"github.com/papapumpkin/optifix/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Re-scan files as they change",
	Long: "Watch follows the directory tree (default: the current directory) and re-scans " +
		"every supported file shortly after it is written. It only reports; it never " +
		"changes files. Stop it with Ctrl-C.",
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Duration("debounce", watch.DefaultDebounce, "quiet period before a change is scanned")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	debounce, _ := cmd.Flags().GetDuration("debounce")

	ctx, cancel := setupSignalContext(e.printer)
	defer cancel()

	w, err := watch.NewWatcher(dir,
		watch.WithDebounce(debounce),
		watch.WithLogger(e.logger),
		watch.WithFilter(func(path string) bool { return detect.Candidate(e.catalog, path) }),
	)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()
	e.printer.Info(fmt.Sprintf("watching %s (%d languages); Ctrl-C to stop", w.Root, len(e.catalog.Languages())))

	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-w.Changes:
			if !ok {
				return nil
			}
			var findings []detect.Finding
			if c.Kind == watch.ChangeModified {
				content, err := detect.ReadText(c.Path)
				if err != nil {
					e.logger.Warn("re-scan failed", "path", c.Path, "error", err)
					continue
				}
				findings = e.detector.Scan(c.Path, content)
			}
			e.printer.WatchChange(c, w.Root, findings)
		}
	}
}
