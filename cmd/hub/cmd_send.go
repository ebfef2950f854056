package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/trustweave/dag-hub/pkg/compose"
	"github.com/trustweave/dag-hub/pkg/entity"
)

// sendCmd composes, signs and locally ingests a single payment, per
// spec §6's `send <addr> <amount>`.
func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <addr> <amount>",
		Short: "pay amount to addr from this node's signing address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			toAddr := args[0]
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("send: bad amount %q: %w", args[1], err)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.SigningKeyB64 == "" {
				return fmt.Errorf("send: no signing_key_b64 configured")
			}
			signer, err := NewKeySigner(cfg.SigningKeyB64)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			n, err := newNode(ctx, cfg, logger.WithField("cmd", "send"))
			if err != nil {
				return err
			}
			defer n.Close()

			req := compose.Request{
				SigningAddresses: []string{signer.Address()},
				PayingAddresses:  []string{signer.Address()},
				Outputs:          []entity.Output{{Address: toAddr, Amount: amount}},
			}
			joint, err := n.composer.Compose(ctx, req, signer)
			if err != nil {
				return fmt.Errorf("send: compose: %w", err)
			}
			if err := n.pipeline.HandleJoint(ctx, joint, "self"); err != nil {
				return fmt.Errorf("send: ingest composed joint: %w", err)
			}

			fmt.Println(joint.Unit.Unit_)
			return nil
		},
	}
}
