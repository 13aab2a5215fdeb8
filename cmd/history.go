package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/optifix/internal/ledger"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show past remediation runs",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().Int("limit", 20, "number of runs to list (0 = all)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	if e.cfg.LedgerPath == "" {
		return errors.New("run history is disabled (ledger_path is empty)")
	}
	ctx := cmd.Context()
	path := resolvePath(e.repoRoot(ctx), e.cfg.LedgerPath)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		e.printer.Info("no runs recorded yet")
		return nil
	}

	l, err := ledger.Open(ctx, path)
	if err != nil {
		return err
	}
	defer l.Close()

	if len(args) == 0 {
		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := l.Runs(ctx, limit)
		if err != nil {
			return err
		}
		e.printer.History(runs)
		return nil
	}

	run, err := l.Run(ctx, args[0])
	if errors.Is(err, ledger.ErrRunNotFound) {
		return fmt.Errorf("no run with ID %q", args[0])
	}
	if err != nil {
		return err
	}
	files, err := l.Files(ctx, run.ID)
	if err != nil {
		return err
	}
	attempts, err := l.Attempts(ctx, run.ID)
	if err != nil {
		return err
	}
	e.printer.RunDetail(run, files, attempts)
	return nil
}
