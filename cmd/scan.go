package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan [paths...]",
	Short: "Report rule findings without changing anything",
	Long: "Scan walks the given files and directories (default: the current directory), " +
		"evaluates the rule catalog and prints findings grouped by file. Findings are " +
		"advisory: the exit code is zero unless the scan itself fails.",
	RunE: runScan,
}

func init() {
	scanCmd.Flags().Bool("json", false, "print the report as JSON on stdout")
	scanCmd.Flags().StringSlice("exclude", nil, "glob patterns to exclude (doublestar syntax)")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := setupSignalContext(e.printer)
	defer cancel()

	targets, err := e.collectTargets(args)
	if err != nil {
		return err
	}
	report, err := e.scan(ctx, targets)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	wd, _ := os.Getwd()
	e.printer.ScanReport(report, wd)
	return nil
}
