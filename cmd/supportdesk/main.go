// ABOUTME: Entry point for the supportdesk relay server and its admin commands
// ABOUTME: Cobra root command wiring serve, init, agent management and health checks

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/supportdesk/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                       _           _
 ___ _   _ _ __  _ __   ___  _ __| |_ __| | ___  ___| | __
/ __| | | | '_ \| '_ \ / _ \| '__| __/ _' |/ _ \/ __| |/ /
\__ \ |_| | |_) | |_) | (_) | |  | || (_| |  __/\__ \   <
|___/\__,_| .__/| .__/ \___/|_|   \__\__,_|\___||___/_|\_\
          |_|   |_|
`

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "supportdesk",
		Short:         "Realtime support chat relay between agents and users",
		Long:          color.CyanString(banner) + "\nRelays chat between support agents and anonymous users with presence-aware routing.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(),
		"config file (.yaml or .toml); env "+config.EnvPrefix+"_CONFIG")

	root.AddCommand(
		newServeCmd(),
		newInitCmd(),
		newRegisterAgentCmd(),
		newTokenCmd(),
		newAgentsCmd(),
		newUserCmd(),
		newHealthCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the config selected by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
