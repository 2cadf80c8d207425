package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanet-platform/neighd/common/go/logging"
	"github.com/yanet-platform/neighd/common/go/xcmd"
	"github.com/yanet-platform/neighd/controlplane/pkg/neighd"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string
}

var rootCmd = &cobra.Command{
	Use:     "neighd",
	Short:   "Neighbour resolution daemon",
	Version: neighd.Version(),
	Run: func(rawCmd *cobra.Command, args []string) {
		if err := run(cmd); err != nil {
			if xcmd.IsInterrupted(err) {
				return
			}

			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file (required)")
	rootCmd.MarkFlagRequired("config")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd Cmd) error {
	cfg, err := neighd.LoadConfig(cmd.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, _, err := logging.Init(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer log.Sync()

	director, err := neighd.NewDirector(cfg, neighd.WithLog(log))
	if err != nil {
		return fmt.Errorf("failed to create director: %w", err)
	}
	defer func() {
		if err := director.Close(); err != nil {
			log.Warnw("failed to close director", zap.Error(err))
		}
	}()

	ctx := context.Background()
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return director.Run(ctx)
	})
	wg.Go(func() error {
		err := xcmd.WaitInterrupted(ctx)
		log.Infow("caught signal", zap.Error(err))
		return err
	})

	return wg.Wait()
}
