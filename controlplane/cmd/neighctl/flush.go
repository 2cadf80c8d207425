package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yanet-platform/neighd/modules/neigh/controlplane/neighpb"
)

var flushCmdArgs struct {
	VLAN uint16
}

var flushCmd = &cobra.Command{
	Use:   "flush ADDR",
	Short: "Remove the neighbour entry of an address",
	Args:  cobra.ExactArgs(1),
	Run: runE(func(args []string) error {
		return withClient(func(ctx context.Context, client neighpb.NeighbourClient) error {
			_, err := client.Flush(ctx, &neighpb.FlushRequest{
				VLAN: flushCmdArgs.VLAN,
				Addr: args[0],
			})
			if err != nil {
				return fmt.Errorf("failed to flush %s: %w", args[0], err)
			}
			return nil
		})
	}),
}

func init() {
	flushCmd.Flags().Uint16Var(&flushCmdArgs.VLAN, "vlan", 0, "VLAN of the entry (required)")
	flushCmd.MarkFlagRequired("vlan")
}
