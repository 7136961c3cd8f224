package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	require.NotNil(t, cmd)
	assert.Equal(t, "workerpool", cmd.Use)
	assert.Equal(t, "1.0.0", cmd.Version)

	commands := cmd.Commands()
	assert.Len(t, commands, 3)

	names := make(map[string]bool)
	for _, c := range commands {
		names[c.Use] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["call"])
	assert.True(t, names["status"])

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue)
}

func TestBuildRunCommand(t *testing.T) {
	cmd := buildRunCommand()

	require.NotNil(t, cmd)
	assert.Equal(t, "run", cmd.Use)
	assert.NotNil(t, cmd.RunE)
}

func TestBuildCallCommand(t *testing.T) {
	cmd := buildCallCommand()

	require.NotNil(t, cmd)
	assert.Equal(t, "call", cmd.Use)
	assert.NotNil(t, cmd.RunE)

	entryFlag := cmd.Flags().Lookup("entry")
	require.NotNil(t, entryFlag)
	assert.Equal(t, echoEntryTag, entryFlag.DefValue)
}

func TestBuildStatusCommand(t *testing.T) {
	cmd := buildStatusCommand()

	require.NotNil(t, cmd)
	assert.Equal(t, "status", cmd.Use)
	assert.NotNil(t, cmd.RunE)
}

func TestLoadConfigValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
pool:
  num_workers: 4
  mode: longlived
metrics:
  enabled: true
  port: 9090
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Pool.NumWorkers)
	assert.Equal(t, "longlived", cfg.Pool.Mode)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9090, cfg.Metrics.Port)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool: [this is not a map"), 0o644))

	_, err := loadConfig(path)
	assert.Error(t, err)
}

func TestConfigModeDefaultsToLongLived(t *testing.T) {
	var cfg Config
	cfg.Pool.Mode = ""
	assert.Equal(t, "longlived", cfg.mode().String())

	cfg.Pool.Mode = "clone-per-call"
	assert.Equal(t, "clone-per-call", cfg.mode().String())
}
