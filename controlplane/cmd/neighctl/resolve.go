package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yanet-platform/neighd/modules/neigh/controlplane/neighpb"
)

var resolveCmdArgs struct {
	VLAN uint16
}

var resolveCmd = &cobra.Command{
	Use:   "resolve ADDR",
	Short: "Start resolution of an address",
	Args:  cobra.ExactArgs(1),
	Run: runE(func(args []string) error {
		return withClient(func(ctx context.Context, client neighpb.NeighbourClient) error {
			_, err := client.Resolve(ctx, &neighpb.ResolveRequest{
				VLAN: resolveCmdArgs.VLAN,
				Addr: args[0],
			})
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", args[0], err)
			}

			fmt.Printf("resolution of %s started, see \"neighctl show --vlan %d\"\n", args[0], resolveCmdArgs.VLAN)
			return nil
		})
	}),
}

func init() {
	resolveCmd.Flags().Uint16Var(&resolveCmdArgs.VLAN, "vlan", 0, "VLAN to resolve in (required)")
	resolveCmd.MarkFlagRequired("vlan")
}
