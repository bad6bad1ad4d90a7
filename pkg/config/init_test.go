package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/marmos91/netconfd/pkg/transport/sshd"
)

func TestInitConfig(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	t.Setenv("NETCONFD_ADMIN_JWT_SECRET", "")

	result, err := InitConfig(false, InitOptions{})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(tmp, "netconfd", "config.yaml"), result.ConfigPath)
	assert.NotEmpty(t, result.GeneratedPassword)

	content, err := os.ReadFile(result.ConfigPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(content), "# netconfd configuration file"))
	for _, section := range []string{"logging:", "server:", "status:", "engine:", "admin:"} {
		assert.Contains(t, string(content), section)
	}

	t.Run("generated config loads", func(t *testing.T) {
		cfg, err := Load(result.ConfigPath)
		require.NoError(t, err)

		assert.Equal(t, "admin", cfg.Server.Username)
		assert.True(t, sshd.IsBcryptHash(cfg.Server.Password))
		assert.True(t, sshd.CheckCredentials(cfg.Server.Username, cfg.Server.Password,
			"admin", []byte(result.GeneratedPassword)))
		assert.True(t, cfg.Admin.Enabled)
		assert.GreaterOrEqual(t, len(cfg.Admin.JWT.Secret), 32)
		assert.Equal(t, result.HostKeyPath, cfg.Server.HostKeyPath)
	})

	t.Run("host key is usable", func(t *testing.T) {
		key, err := os.ReadFile(result.HostKeyPath)
		require.NoError(t, err)
		_, err = ssh.ParsePrivateKey(key)
		require.NoError(t, err)
	})

	t.Run("refuses to overwrite", func(t *testing.T) {
		_, err := InitConfig(false, InitOptions{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")
	})
}

func TestInitConfigToPath(t *testing.T) {
	t.Setenv("NETCONFD_ADMIN_JWT_SECRET", "")
	path := filepath.Join(t.TempDir(), "custom", "netconfd.yaml")

	t.Run("with explicit credentials", func(t *testing.T) {
		result, err := InitConfigToPath(path, false, InitOptions{Username: "operator", Password: "s3cret"})
		require.NoError(t, err)
		assert.Empty(t, result.GeneratedPassword)

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "operator", cfg.Server.Username)
		assert.True(t, sshd.CheckCredentials(cfg.Server.Username, cfg.Server.Password, "operator", []byte("s3cret")))
	})

	t.Run("force replaces secrets", func(t *testing.T) {
		before, err := Load(path)
		require.NoError(t, err)
		keyBefore, err := os.ReadFile(filepath.Join(filepath.Dir(path), "ssh_host_ed25519_key"))
		require.NoError(t, err)

		_, err = InitConfigToPath(path, true, InitOptions{})
		require.NoError(t, err)

		after, err := Load(path)
		require.NoError(t, err)
		keyAfter, err := os.ReadFile(filepath.Join(filepath.Dir(path), "ssh_host_ed25519_key"))
		require.NoError(t, err)

		assert.NotEqual(t, before.Admin.JWT.Secret, after.Admin.JWT.Secret)
		assert.NotEqual(t, keyBefore, keyAfter)
	})
}

func TestInitConfigToPath_KeepsExistingHostKey(t *testing.T) {
	t.Setenv("NETCONFD_ADMIN_JWT_SECRET", "")
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "ssh_host_ed25519_key")
	require.NoError(t, os.WriteFile(keyPath, []byte("existing"), 0600))

	_, err := InitConfigToPath(filepath.Join(dir, "config.yaml"), false, InitOptions{Password: "pw"})
	require.NoError(t, err)

	key, err := os.ReadFile(keyPath)
	require.NoError(t, err)
	assert.Equal(t, "existing", string(key))
}
