package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/netconfd/pkg/transport/sshd"
)

const configHeader = `# netconfd configuration file
#
# Environment variables override any value here, e.g.
#   NETCONFD_LOGGING_LEVEL=DEBUG
#   NETCONFD_ADMIN_JWT_SECRET=<secret>
#
`

// InitOptions customizes the generated configuration.
type InitOptions struct {
	// Username is the NETCONF login. Default: "admin".
	Username string

	// Password is stored as a bcrypt hash. When empty a random password is
	// generated and returned in InitResult.
	Password string
}

// InitResult describes what InitConfigToPath wrote.
type InitResult struct {
	ConfigPath  string
	HostKeyPath string

	// GeneratedPassword is set only when no password was supplied.
	GeneratedPassword string
}

// InitConfig writes a new configuration file to the default location.
func InitConfig(force bool, opts InitOptions) (*InitResult, error) {
	return InitConfigToPath(GetDefaultConfigPath(), force, opts)
}

// InitConfigToPath writes a new configuration file, a fresh ed25519 host key
// next to it, and a random admin JWT secret. Existing files are only
// replaced when force is set.
func InitConfigToPath(path string, force bool, opts InitOptions) (*InitResult, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return nil, fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}

	result := &InitResult{
		ConfigPath:  path,
		HostKeyPath: filepath.Join(filepath.Dir(path), "ssh_host_ed25519_key"),
	}

	cfg := GetDefaultConfig()
	if opts.Username != "" {
		cfg.Server.Username = opts.Username
	}

	password := opts.Password
	if password == "" {
		generated, err := generateSecret(18)
		if err != nil {
			return nil, err
		}
		password = generated
		result.GeneratedPassword = generated
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	cfg.Server.Password = string(hash)

	secret, err := generateSecret(32)
	if err != nil {
		return nil, err
	}
	cfg.Admin.Enabled = true
	cfg.Admin.JWT.Secret = secret

	cfg.Server.HostKey = ""
	cfg.Server.HostKeyPath = result.HostKeyPath
	if err := writeHostKey(result.HostKeyPath, force); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("generated configuration is invalid: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(configHeader), data...), 0600); err != nil {
		return nil, fmt.Errorf("failed to write config file: %w", err)
	}

	return result, nil
}

// writeHostKey generates a host key unless one exists and force is unset.
func writeHostKey(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
	}

	key, err := sshd.GenerateHostKey()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create host key directory: %w", err)
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return fmt.Errorf("failed to write host key: %w", err)
	}
	return nil
}

// generateSecret returns n random bytes as URL-safe base64.
func generateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
