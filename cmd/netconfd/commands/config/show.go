package config

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/netconfd/internal/cli/output"
	"github.com/marmos91/netconfd/pkg/config"
)

const redacted = "<redacted>"

var (
	showOutput  string
	showSecrets bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective netconfd configuration, with defaults and
environment overrides applied. Secrets are redacted unless --show-secrets
is set.

Examples:
  # Show config as YAML
  netconfd config show

  # Show as JSON
  netconfd config show --output json`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print passwords and secrets")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	if !showSecrets {
		Redact(cfg)
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, cfg)
	default:
		return output.PrintYAML(os.Stdout, cfg)
	}
}

// Redact replaces every secret in cfg.
func Redact(cfg *config.Config) {
	redact(&cfg.Server.Password)
	redact(&cfg.Server.HostKey)
	redact(&cfg.Admin.JWT.Secret)
	redact(&cfg.Status.SQL.Postgres.Password)
	redact(&cfg.Status.Redis.Password)
	if s3 := cfg.Engine.Archive.S3; s3 != nil {
		redact(&s3.SecretAccessKey)
	}
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
