// ABOUTME: Tests for config path resolution, the color log handler and the operator commands
// ABOUTME: Commands run against a temp config and SQLite database through the cobra tree

package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/triage-gateway/internal/config"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("TRIAGE_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")

	assert.Equal(t, "/flag.yaml", getConfigPath("/flag.yaml"))
	assert.Equal(t, "/xdg/triage/gateway.yaml", getConfigPath(""))

	t.Setenv("TRIAGE_CONFIG", "/env.yaml")
	assert.Equal(t, "/env.yaml", getConfigPath(""))
	assert.Equal(t, "/flag.yaml", getConfigPath("/flag.yaml"), "flag wins over env")
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	logger = setupLogger(config.LoggingConfig{Level: "debug"}, &buf)
	logger.With("component", "triage").WithGroup("conv").Debug("routed", "sector", "financeiro")
	out := buf.String()
	assert.Contains(t, out, "DBG")
	assert.Contains(t, out, "routed")
	assert.Contains(t, out, "component=")
	assert.Contains(t, out, "conv.sector=")
	assert.Contains(t, out, "financeiro")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestDialAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8080", dialAddr("0.0.0.0:8080"))
	assert.Equal(t, "127.0.0.1:8080", dialAddr(":8080"))
	assert.Equal(t, "10.0.0.2:9000", dialAddr("10.0.0.2:9000"))
	assert.Equal(t, "localhost", dialAddr("localhost"))
}

func writeConfig(t *testing.T) string {
	t.Helper()
	t.Setenv("TRIAGE_DB_PATH", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	content := `
database:
  path: ` + filepath.Join(dir, "triage.db") + `
logging:
  level: error
bot:
  auto_close_minutes: 30
sectors:
  - name: Financeiro
    slug: financeiro
    menu_code: "1"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommands_SeedSectorUser(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := run(t, "--config", cfgPath, "seed")
	require.NoError(t, err)
	assert.Contains(t, out, "created 2 sector(s)", "financeiro plus reception")

	out, err = run(t, "--config", cfgPath, "seed")
	require.NoError(t, err)
	assert.Contains(t, out, "created 0 sector(s)")

	_, err = run(t, "--config", cfgPath, "sector", "add", "Tributos", "--slug", "tributos", "--menu-code", "2")
	require.NoError(t, err)

	_, err = run(t, "--config", cfgPath, "sector", "add", "Bad", "--slug", "Bad Slug", "--menu-code", "3")
	require.Error(t, err)

	out, err = run(t, "--config", cfgPath, "sector", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "financeiro")
	assert.Contains(t, out, "tributos")

	_, err = run(t, "--config", cfgPath, "user", "add", "Bruna", "--email", "Bruna@Prefeitura.gov.br", "--sector", "tributos")
	require.NoError(t, err)

	_, err = run(t, "--config", cfgPath, "user", "add", "X", "--email", "x@y.z", "--sector", "missing")
	require.Error(t, err)

	out, err = run(t, "--config", cfgPath, "user", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "bruna@prefeitura.gov.br")
	assert.Contains(t, out, "agent")
}

func TestCommands_AutoCloseDryRun(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := run(t, "--config", cfgPath, "autoclose", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "0 conversation(s) idle for more than 30 minutes")

	_, err = run(t, "--config", cfgPath, "autoclose", "--minutes", "0")
	require.Error(t, err)
}
