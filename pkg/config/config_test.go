package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// yamlSafePath converts a filesystem path to a YAML-safe representation.
// On Windows, backslashes in double-quoted YAML strings are interpreted as
// escape sequences (e.g. \U -> Unicode escape), causing parse errors.
func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: "info"

server:
  username: operator
  password: secret
  host_key_path: "/tmp/netconfd-test-key"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 830, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Server.Watchdog)
	assert.Equal(t, time.Second, cfg.Server.PollInterval)
	assert.Equal(t, ByteSize(16*humanize.MiByte), cfg.Server.MaxMessageSize)
	assert.Equal(t, "memory", cfg.Status.Backend)
	assert.Equal(t, "memory", cfg.Engine.Archive.Type)
	assert.Equal(t, 1024, cfg.Dispatcher.QueueSize)
	assert.Equal(t, 8080, cfg.Admin.Port)
	assert.NotEmpty(t, cfg.Lifecycle.Node)
}

func TestLoad_ParsesUnits(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  username: operator
  password: secret
  host_key_path: "/tmp/netconfd-test-key"
  watchdog: 2m
  poll_interval: 500ms
  max_message_size: 4Mi
  capabilities:
    - "urn:example:capability:1.0"
engine:
  offer_timeout: 5s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.Server.Watchdog)
	assert.Equal(t, 500*time.Millisecond, cfg.Server.PollInterval)
	assert.Equal(t, ByteSize(4*humanize.MiByte), cfg.Server.MaxMessageSize)
	assert.Equal(t, []string{"urn:example:capability:1.0"}, cfg.Server.Capabilities)
	assert.Equal(t, 5*time.Second, cfg.Engine.OfferTimeout)
}

func TestLoad_NoConfigFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 830, cfg.Server.Port)
	assert.Equal(t, "admin", cfg.Server.Username)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid.yaml", `
logging:
  level: INFO
  invalid yaml here [[[
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  username: operator
  host_key_path: "/tmp/netconfd-test-key"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password or authorized_keys_path")
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[logging]
level = "WARN"
format = "json"

[server]
username = "operator"
password = "secret"
host_key_path = "`+yamlSafePath(t.TempDir())+`/key"

[status]
backend = "badger"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "WARN", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "badger", cfg.Status.Backend)
	assert.NotEmpty(t, cfg.Status.Badger.Path)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: INFO
server:
  username: operator
  password: secret
  host_key_path: "/tmp/netconfd-test-key"
  port: 830
`)

	t.Setenv("NETCONFD_LOGGING_LEVEL", "DEBUG")
	t.Setenv("NETCONFD_SERVER_PORT", "2830")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, 2830, cfg.Server.Port)
}

func TestMustLoad(t *testing.T) {
	t.Run("missing explicit file", func(t *testing.T) {
		_, err := MustLoad(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "netconfd init --config")
	})

	t.Run("missing default file", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", t.TempDir())
		_, err := MustLoad("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "netconfd init")
	})
}

func TestSaveConfig(t *testing.T) {
	cfg := validConfig()
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	if filepath.Separator == '/' {
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Server.Username, loaded.Server.Username)
	assert.Equal(t, cfg.Server.Watchdog, loaded.Server.Watchdog)
	assert.Equal(t, cfg.Server.MaxMessageSize, loaded.Server.MaxMessageSize)
}

func TestConfigPaths(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)

	assert.Equal(t, filepath.Join(tmp, "netconfd"), GetConfigDir())
	assert.Equal(t, filepath.Join(tmp, "netconfd", "config.yaml"), GetDefaultConfigPath())
	assert.False(t, DefaultConfigExists())

	require.NoError(t, os.MkdirAll(GetConfigDir(), 0755))
	require.NoError(t, os.WriteFile(GetDefaultConfigPath(), []byte("{}"), 0644))
	assert.True(t, DefaultConfigExists())
}
