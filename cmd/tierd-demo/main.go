package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "tierd-demo",
	Short: "Demo driver for the tiered memory manager",
	Long: `tierd-demo exercises the tiered memory manager (pkg/tierd) end to end:
it stands in for the allocation-interception shim by mmapping an anonymous
region directly, registers it for fault interception, drives a configurable
hot/cold access pattern against it, and reports live status.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./tierd.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
