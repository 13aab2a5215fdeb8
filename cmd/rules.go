package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the rule catalog",
	Args:  cobra.NoArgs,
	RunE:  runRules,
}

func init() {
	rulesCmd.Flags().String("lang", "", "only list rules for this language")
	rootCmd.AddCommand(rulesCmd)
}

func runRules(cmd *cobra.Command, _ []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	lang, _ := cmd.Flags().GetString("lang")
	if lang != "" {
		if _, ok := e.catalog.Language(lang); !ok {
			return fmt.Errorf("unknown language %q (have %v)", lang, e.catalog.Languages())
		}
	}
	e.printer.Rules(e.catalog, lang)
	return nil
}
