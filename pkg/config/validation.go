package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults, not here.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return validateCustomRules(cfg)
}

// validateCustomRules covers rules that span fields.
func validateCustomRules(cfg *Config) error {
	if cfg.Server.Password == "" && cfg.Server.AuthorizedKeysPath == "" {
		return fmt.Errorf("server: a password or authorized_keys_path is required")
	}

	if cfg.Server.HostKey == "" && cfg.Server.HostKeyPath == "" {
		return fmt.Errorf("server: host_key or host_key_path is required")
	}

	if cfg.Server.Watchdog > 0 && cfg.Server.PollInterval > cfg.Server.Watchdog {
		return fmt.Errorf("server: poll_interval (%s) must not exceed watchdog (%s)",
			cfg.Server.PollInterval, cfg.Server.Watchdog)
	}

	if cfg.Status.Backend == "sql" {
		sqlCfg := cfg.Status.SQL
		sqlCfg.ApplyDefaults()
		if err := sqlCfg.Validate(); err != nil {
			return fmt.Errorf("status.sql: %w", err)
		}
	}

	if cfg.Engine.Archive.Type == "s3" && cfg.Engine.Archive.S3 == nil {
		return fmt.Errorf("engine.archive: s3 section is required when type is s3")
	}

	if cfg.Admin.Enabled {
		if secret := cfg.Admin.GetJWTSecret(); len(secret) < 32 {
			return fmt.Errorf("admin.jwt.secret: must be at least 32 characters (got %d)", len(secret))
		}
	}

	if cfg.Metrics.Enabled && !cfg.Admin.Enabled {
		return fmt.Errorf("metrics: enabled metrics are served by the admin API, which is disabled")
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry: endpoint is required when telemetry is enabled")
	}

	return nil
}

// formatValidationError converts validator errors to a readable message.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
