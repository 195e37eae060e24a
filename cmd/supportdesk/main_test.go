// ABOUTME: Tests for CLI helpers: address rewriting, secrets and log levels
// ABOUTME: Command wiring is checked through the cobra tree

package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/supportdesk/internal/config"
	"github.com/2389/supportdesk/internal/store"
)

func TestLocalAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:5000", localAddr("0.0.0.0:5000"))
	assert.Equal(t, "127.0.0.1:5000", localAddr(":5000"))
	assert.Equal(t, "relay.internal:80", localAddr("relay.internal:80"))
}

func TestGenerateSecret(t *testing.T) {
	s, err := generateSecret()
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(s)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
	assert.GreaterOrEqual(t, len(s), config.MinJWTSecretLength)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestRootHasCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "init", "register-agent", "token", "agents", "user", "health", "version"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, version+"\n", out.String())
}

func TestInitWritesLoadableConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)
	path := filepath.Join(dir, "config.yaml")

	root := newRootCmd()
	root.SetArgs([]string{"init", "--output", path})
	require.NoError(t, root.Execute())

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "supportdesk", "supportdesk.db"), cfg.Database.Path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	root = newRootCmd()
	root.SetArgs([]string{"init", "--output", path})
	assert.Error(t, root.Execute())
}

func TestPresenceLabel(t *testing.T) {
	color.NoColor = true
	assert.Equal(t, "live", presenceLabel(true, true))
	assert.Equal(t, "live", presenceLabel(false, true))
	assert.Equal(t, "online (other instance)", presenceLabel(true, false))
	assert.Equal(t, "offline", presenceLabel(false, false))
}

func TestUserCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	dbPath := filepath.Join(dir, "desk.db")
	cfgText := "database:\n  path: \"" + dbPath + "\"\nauth:\n  jwt_secret: \"cli-test-secret-0123456789abcdefgh\"\n"
	require.NoError(t, os.WriteFile(path, []byte(cfgText), 0600))

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.UpsertUserOnline(context.Background(), "carol", "conn-1", time.Now()))
	require.NoError(t, s.Close())

	root := newRootCmd()
	root.SetArgs([]string{"--config", path, "user", "carol"})
	require.NoError(t, root.Execute())

	root = newRootCmd()
	root.SetArgs([]string{"--config", path, "user", "nobody"})
	assert.Error(t, root.Execute())
}
