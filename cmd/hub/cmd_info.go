package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// infoCmd prints the node's current stable-chain position.
func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "print the node's last stable main-chain index and free-unit count",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			n, err := newNode(ctx, cfg, logger.WithField("cmd", "info"))
			if err != nil {
				return err
			}
			defer n.Close()

			mci, err := n.store.LastStableMCI(ctx)
			if err != nil {
				return fmt.Errorf("info: last stable mci: %w", err)
			}
			free, err := n.store.ListFreeUnits(ctx)
			if err != nil {
				return fmt.Errorf("info: list free units: %w", err)
			}

			fmt.Printf("last_stable_mci: %d\n", mci)
			fmt.Printf("free_units: %d\n", len(free))
			fmt.Printf("witness_count: %d\n", len(cfg.WitnessAddresses))
			fmt.Printf("remote_hubs: %d\n", len(cfg.RemoteHubURLs))
			return nil
		},
	}
}
