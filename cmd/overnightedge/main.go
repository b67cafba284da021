package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "overnightedge",
		Short:         "Tiered read access to overnight options-flow signals",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to configuration file")

	root.AddCommand(
		&cobra.Command{
			Use:   "mcp",
			Short: "Serve the signal tools over MCP on stdin/stdout",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMCP(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "http",
			Short: "Serve the signal tools over HTTP",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runHTTP(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "bot",
			Short: "Answer signal commands in Telegram",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runBot(cmd.Context(), configPath)
			},
		},
		newSeedCmd(&configPath),
	)
	return root
}

func newSeedCmd(configPath *string) *cobra.Command {
	var toWarehouse bool
	cmd := &cobra.Command{
		Use:   "seed <fixture.yaml>",
		Short: "Load signals and themes from a YAML fixture into the stores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), *configPath, args[0], toWarehouse)
		},
	}
	cmd.Flags().BoolVar(&toWarehouse, "warehouse", false, "Also write the fixture to the warehouse")
	return cmd
}
