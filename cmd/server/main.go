package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/isdmx/runbox/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "runbox",
	Short: "runbox - sandboxed code execution",
	Long: `runbox runs untrusted code in disposable, network-less sandboxes.

The Dispatcher accepts submissions from signed-in callers and forwards them to
the Execution Service, which runs each one under a fixed resource policy.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default ./config.yaml or ./config/config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
