// ABOUTME: init command: writes a starter config with a freshly generated JWT secret
// ABOUTME: Refuses to overwrite an existing file unless --force is given

package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const configTemplate = `# supportdesk configuration
# Generated by supportdesk init

server:
  http_addr: "%s"

database:
  path: "%s"

auth:
  jwt_secret: "%s"
  token_ttl: "24h"

presence:
  broadcast_user_status: false

cors:
  allowed_origins:
    - "http://localhost:5173"

logging:
  level: "info"
  format: "text"

metrics:
  enabled: false
  path: "/metrics"
`

// dataDir returns the default directory for the SQLite database.
// Priority: XDG_DATA_HOME/supportdesk > ~/.local/share/supportdesk
func dataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "supportdesk")
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func newInitCmd() *cobra.Command {
	var (
		output   string
		httpAddr string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a config file with a random JWT secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output == "" {
				dir, err := os.UserConfigDir()
				if err != nil {
					return fmt.Errorf("resolving config directory: %w", err)
				}
				output = filepath.Join(dir, "supportdesk", "config.yaml")
			}

			if _, err := os.Stat(output); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", output)
			}

			secret, err := generateSecret()
			if err != nil {
				return err
			}

			data := dataDir()
			if err := os.MkdirAll(data, 0755); err != nil {
				return fmt.Errorf("creating data directory: %w", err)
			}
			if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
				return fmt.Errorf("creating config directory: %w", err)
			}

			content := fmt.Sprintf(configTemplate, httpAddr, filepath.Join(data, "supportdesk.db"), secret)
			if err := os.WriteFile(output, []byte(content), 0600); err != nil {
				return fmt.Errorf("writing config file: %w", err)
			}

			green := color.New(color.FgGreen)
			green.Printf("  ✓ Created config: %s\n", output)
			fmt.Println()
			color.New(color.FgYellow).Println("  Next steps:")
			fmt.Println("    supportdesk register-agent --username alice --password ...")
			fmt.Println("    supportdesk serve")
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "config file to write (default: user config dir)")
	cmd.Flags().StringVar(&httpAddr, "http-addr", "0.0.0.0:5000", "HTTP listen address")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
