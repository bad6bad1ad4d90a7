package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/netconfd/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the netconfd configuration file.

Checks for syntax errors, missing required fields, invalid values and
referenced files that do not exist.

Examples:
  # Validate default config
  netconfd config validate

  # Validate specific config file
  netconfd config validate --config /etc/netconfd/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if warnings := Warnings(cfg); len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  NETCONF port:    %d\n", cfg.Server.Port)
	_, _ = fmt.Fprintf(out, "  Username:        %s\n", cfg.Server.Username)
	_, _ = fmt.Fprintf(out, "  Status backend:  %s\n", cfg.Status.Backend)
	_, _ = fmt.Fprintf(out, "  Archive:         %s\n", cfg.Engine.Archive.Type)
	if cfg.Admin.Enabled {
		_, _ = fmt.Fprintf(out, "  Admin API port:  %d\n", cfg.Admin.Port)
	} else {
		_, _ = fmt.Fprintln(out, "  Admin API:       disabled")
	}
	_, _ = fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)

	return nil
}

// Warnings reports settings that load but are likely to fail at start.
func Warnings(cfg *config.Config) []string {
	var warnings []string

	if cfg.Server.HostKey == "" {
		if _, err := os.Stat(cfg.Server.HostKeyPath); err != nil {
			warnings = append(warnings, fmt.Sprintf("host key %s is not readable: %v", cfg.Server.HostKeyPath, err))
		}
	}
	if cfg.Server.AuthorizedKeysPath != "" {
		if _, err := os.Stat(cfg.Server.AuthorizedKeysPath); err != nil {
			warnings = append(warnings, fmt.Sprintf("authorized keys %s is not readable: %v", cfg.Server.AuthorizedKeysPath, err))
		}
	}
	if !cfg.Admin.Enabled {
		warnings = append(warnings, "admin API disabled - 'netconfd status' and 'netconfd stop' will not work")
	}
	if cfg.Status.Backend == "memory" {
		warnings = append(warnings, "status backend is memory - the lifecycle status is not shared or persisted")
	}

	return warnings
}
