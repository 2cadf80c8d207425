package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/yanet-platform/neighd/modules/neigh/controlplane/neighpb"
)

var showCmdArgs struct {
	VLAN   uint16
	Family string
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show neighbour entries",
	Args:  cobra.NoArgs,
	Run: runE(func(args []string) error {
		return withClient(func(ctx context.Context, client neighpb.NeighbourClient) error {
			resp, err := client.List(ctx, &neighpb.ListRequest{
				VLAN:   showCmdArgs.VLAN,
				Family: showCmdArgs.Family,
			})
			if err != nil {
				return fmt.Errorf("failed to list neighbours: %w", err)
			}

			renderEntries(os.Stdout, resp, time.Now())
			return nil
		})
	}),
}

func init() {
	showCmd.Flags().Uint16Var(&showCmdArgs.VLAN, "vlan", 0, "Show only entries of this VLAN")
	showCmd.Flags().StringVar(&showCmdArgs.Family, "family", "", "Show only entries of this family (ipv4 or ipv6)")
}

func renderEntries(w io.Writer, resp *neighpb.ListResponse, now time.Time) {
	rows := make([][]string, 0, len(resp.Entries))
	for _, entry := range resp.Entries {
		port := entry.PortName
		if port == "" && entry.Port != 0 {
			port = strconv.FormatUint(uint64(entry.Port), 10)
		}

		rows = append(rows, []string{
			"vlan" + strconv.FormatUint(uint64(entry.VLAN), 10),
			entry.Addr,
			orDash(entry.MAC),
			orDash(port),
			entry.State,
			entry.Origin,
			strconv.Itoa(entry.Retries),
			now.Sub(entry.UpdatedAt).Truncate(time.Second).String(),
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"VLAN", "ADDRESS", "MAC", "PORT", "STATE", "ORIGIN", "RETRIES", "AGE"})
	table.AppendBulk(rows)
	table.Render()

	fmt.Fprintf(w, "\n%d entries, version %d\n", len(resp.Entries), resp.Version)
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
