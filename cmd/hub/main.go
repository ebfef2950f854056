// Command hub runs the DAG hub node: config load, component wiring and
// signal-driven shutdown, split into one cobra subcommand per file
// (§6: sync, send, info, log) instead of one flag-driven binary.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/trustweave/dag-hub/pkg/config"
)

var (
	configPath string
	logger     = logrus.New()
)

func main() {
	root := &cobra.Command{
		Use:   "hub",
		Short: "DAG-based distributed ledger node",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "hub.yaml", "path to the node's YAML config file")

	root.AddCommand(syncCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(infoCmd())
	root.AddCommand(logCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(configPath); err != nil {
		logger.WithField("path", configPath).Debug("no config file, using defaults")
		return config.Default(), nil
	}
	return config.Load(configPath)
}
