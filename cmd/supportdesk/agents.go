// ABOUTME: Agent management commands that work directly against the database
// ABOUTME: register-agent, token and user read the store; agents reads a running server

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/supportdesk/internal/auth"
	"github.com/2389/supportdesk/internal/relay"
	"github.com/2389/supportdesk/internal/store"
)

func openStore() (*store.SQLiteStore, *auth.JWTVerifier, time.Duration, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, 0, err
	}
	s, err := store.OpenSQLiteStore(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("opening database: %w", err)
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		_ = s.Close()
		return nil, nil, 0, fmt.Errorf("creating JWT verifier: %w", err)
	}
	return s, verifier, cfg.Auth.TokenTTL, nil
}

func newRegisterAgentCmd() *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "register-agent",
		Short: "Create an agent account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, err := relay.NormalizeUsername(username)
			if err != nil {
				return errors.New(relay.ClientMessage(err))
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}

			s, _, _, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			agent := &store.Agent{Username: name, PasswordHash: hash}
			if err := s.CreateAgent(cmd.Context(), agent); err != nil {
				if errors.Is(err, store.ErrUsernameExists) {
					return fmt.Errorf("agent %q already exists", name)
				}
				return fmt.Errorf("creating agent: %w", err)
			}

			color.New(color.FgGreen).Printf("  ✓ Registered agent %s\n", agent.Username)
			fmt.Printf("  ID: %s\n", agent.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "agent username (3-30 characters)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "agent password (min 6 characters)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <username>",
		Short: "Mint a websocket token for an existing agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, verifier, defaultTTL, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			agent, err := s.GetAgentByUsername(cmd.Context(), strings.TrimSpace(args[0]))
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("agent %q not found", args[0])
			}
			if err != nil {
				return fmt.Errorf("looking up agent: %w", err)
			}

			if ttl == 0 {
				ttl = defaultTTL
			}
			token, err := verifier.Generate(agent.ID, agent.Username, ttl)
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: auth.token_ttl)")
	return cmd
}

func newAgentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List agents and their presence from a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			base := "http://" + localAddr(cfg.Server.HTTPAddr)

			var out struct {
				Agents []struct {
					Username string    `json:"username"`
					IsOnline bool      `json:"isOnline"`
					LastSeen time.Time `json:"lastSeen"`
				} `json:"agents"`
			}
			if err := getJSON(cmd, base+"/api/auth/agent/status", &out); err != nil {
				return err
			}

			var ready struct {
				OnlineAgents []string `json:"onlineAgents"`
			}
			if err := getJSON(cmd, base+"/health/ready", &ready); err != nil {
				return err
			}
			live := make(map[string]bool, len(ready.OnlineAgents))
			for _, name := range ready.OnlineAgents {
				live[name] = true
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "USERNAME\tSTATUS\tLAST SEEN")
			for _, a := range out.Agents {
				fmt.Fprintf(w, "%s\t%s\t%s\n", a.Username, presenceLabel(a.IsOnline, live[a.Username]),
					a.LastSeen.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
}

// presenceLabel prefers the server's live registry. A record marked online
// without a live connection here belongs to another relay instance.
func presenceLabel(recordedOnline, live bool) string {
	switch {
	case live:
		return color.GreenString("live")
	case recordedOnline:
		return color.YellowString("online (other instance)")
	default:
		return color.HiBlackString("offline")
	}
}

func newUserCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "user <username>",
		Short: "Show a user's recorded presence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, _, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			u, err := s.GetUser(cmd.Context(), strings.TrimSpace(args[0]))
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("user %q has never identified", args[0])
			}
			if err != nil {
				return fmt.Errorf("looking up user: %w", err)
			}

			fmt.Printf("  Username:  %s\n", u.Username)
			fmt.Printf("  ID:        %s\n", u.ID)
			fmt.Printf("  Status:    %s\n", presenceLabel(u.IsOnline, false))
			fmt.Printf("  Last seen: %s\n", u.LastSeen.Local().Format(time.DateTime))
			fmt.Printf("  First seen: %s\n", u.CreatedAt.Local().Format(time.DateTime))
			return nil
		},
	}
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server readiness",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var out struct {
				Status       string `json:"status"`
				AgentsOnline int    `json:"agentsOnline"`
				UsersOnline  int    `json:"usersOnline"`
				Uptime       string `json:"uptime"`
			}
			if err := getJSON(cmd, "http://"+localAddr(cfg.Server.HTTPAddr)+"/health/ready", &out); err != nil {
				return err
			}
			fmt.Printf("%s (agents %d, users %d, up %s)\n", out.Status, out.AgentsOnline, out.UsersOnline, out.Uptime)
			return nil
		},
	}
}

// localAddr rewrites a wildcard listen address into one a client can dial.
func localAddr(addr string) string {
	if strings.HasPrefix(addr, "0.0.0.0:") {
		return "127.0.0.1" + strings.TrimPrefix(addr, "0.0.0.0")
	}
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}
	return addr
}

func getJSON(cmd *cobra.Command, url string, v any) error {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
