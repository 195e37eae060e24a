// ABOUTME: serve command: prints the startup banner and runs the gateway until signaled
// ABOUTME: Logging is configured from the loaded config before the gateway starts

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/supportdesk/internal/gateway"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.Logging)

			cyan := color.New(color.FgCyan)
			gray := color.New(color.FgHiBlack)
			green := color.New(color.FgGreen)
			yellow := color.New(color.FgYellow)

			cyan.Print(banner)
			gray.Printf("    version: %s\n\n", version)

			source := configPath
			if source == "" {
				source = "(defaults + environment)"
			}
			green.Print("    ▶ ")
			fmt.Printf("Config:    %s\n", source)
			green.Print("    ▶ ")
			fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
			if cfg.Server.GRPCAddr != "" {
				green.Print("    ▶ ")
				fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
			}
			green.Print("    ▶ ")
			fmt.Printf("Database:  %s (%s)\n", cfg.Database.Path, cfg.Database.Driver)
			if cfg.Redis.URL != "" {
				green.Print("    ▶ ")
				fmt.Printf("Redis:     %s\n", cfg.Redis.ChannelPrefix)
			}
			if cfg.Tailscale.Enabled {
				green.Print("    ▶ ")
				fmt.Printf("Tailscale: ")
				cyan.Print(cfg.Tailscale.Hostname)
				if cfg.Tailscale.Funnel {
					yellow.Print(" [funnel]")
				}
				if cfg.Tailscale.Ephemeral {
					gray.Print(" (ephemeral)")
				}
				fmt.Println()
			}
			fmt.Println()

			logger.Info("starting supportdesk",
				"config", source,
				"http_addr", cfg.Server.HTTPAddr,
				"grpc_addr", cfg.Server.GRPCAddr,
				"broadcast_user_status", cfg.Presence.BroadcastUserStatus,
			)

			gw, err := gateway.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			return gw.Run(cmd.Context())
		},
	}
}
