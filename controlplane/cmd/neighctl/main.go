package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/yanet-platform/neighd/controlplane/internal/version"
	"github.com/yanet-platform/neighd/modules/neigh/controlplane/neighpb"
)

var rootCmdArgs struct {
	Endpoint string
	Timeout  time.Duration
}

var rootCmd = &cobra.Command{
	Use:     "neighctl",
	Short:   "Inspect and control the neighbour resolution daemon",
	Version: version.Version(),
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootCmdArgs.Endpoint, "endpoint", "e", "[::1]:50061", "neighd gRPC endpoint, either host:port or a unix socket path")
	rootCmd.PersistentFlags().DurationVar(&rootCmdArgs.Timeout, "timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(resolveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

// target converts the endpoint into a gRPC dial target.
func target(endpoint string) string {
	if strings.HasPrefix(endpoint, "/") {
		return "unix://" + endpoint
	}
	return endpoint
}

// withClient connects to neighd and calls fn with a request context.
func withClient(fn func(ctx context.Context, client neighpb.NeighbourClient) error) error {
	conn, err := grpc.NewClient(
		target(rootCmdArgs.Endpoint),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to neighd: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), rootCmdArgs.Timeout)
	defer cancel()

	return fn(ctx, neighpb.NewNeighbourClient(conn))
}

// runE adapts a command body to cobra, printing errors the same way for
// every subcommand.
func runE(fn func(args []string) error) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		if err := fn(args); err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	}
}
