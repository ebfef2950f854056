package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// logCmd walks the main chain backward from the last stable index and
// prints each stable joint as one JSON line, newest first.
func logCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "print the most recent stable main-chain joints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			n, err := newNode(ctx, cfg, logger.WithField("cmd", "log"))
			if err != nil {
				return err
			}
			defer n.Close()

			mci, err := n.store.LastStableMCI(ctx)
			if err != nil {
				return fmt.Errorf("log: last stable mci: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for i := 0; i < limit && mci-int64(i) >= 0; i++ {
				at := mci - int64(i)
				unit, err := n.store.MainChainUnitAt(ctx, at)
				if err != nil {
					break
				}
				joint, err := n.store.GetJoint(ctx, unit)
				if err != nil {
					return fmt.Errorf("log: get joint %s: %w", unit, err)
				}
				if err := enc.Encode(joint); err != nil {
					return fmt.Errorf("log: encode joint %s: %w", unit, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of stable main-chain joints to print")
	return cmd
}
