package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	seed      int64
	logLevel  string
	logFormat string
	version   = "dev"
)

var rootCmd = &cobra.Command{
	Use:     "pathsim",
	Short:   "Tor client path-selection simulator",
	Long:    `pathsim replays Tor consensus periods against a stream workload and reports the circuits and guards a client would build.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults)")
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", 0, "PRNG seed (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text, json (overrides config)")

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(simulateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
