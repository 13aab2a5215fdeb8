// Package cmd wires the optifix command line.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "optifix",
	Short: "Detect and remediate performance anti-patterns on an isolated git branch",
	Long: "optifix scans source files against a rule catalog, asks a language model for " +
		"minimal search/replace patches, verifies every patch, and commits accepted fixes " +
		"to a fresh branch. It never merges, pushes, or writes the base branch.",
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default .optifix.yaml)")
	flags.BoolP("verbose", "v", false, "verbose output")
	flags.String("rules", "", "rule catalog file (.toml or .yaml); default is the built-in catalog")
	flags.String("log-level", "", "diagnostic log level: debug, info, warn, error")
	flags.String("log-format", "", "diagnostic log format: text or json")

	for key, flag := range map[string]string{
		"verbose":    "verbose",
		"rules_file": "rules",
		"log_level":  "log-level",
		"log_format": "log-format",
	} {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}
}

func initConfig() {
	if cfgFile, _ := rootCmd.Flags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".optifix")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
	}

	viper.SetEnvPrefix("OPTIFIX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// It's fine if no config file is found; we use defaults.
	_ = viper.ReadInConfig()
}
