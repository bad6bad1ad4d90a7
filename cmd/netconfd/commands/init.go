package commands

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/marmos91/netconfd/internal/cli/prompt"
	"github.com/marmos91/netconfd/pkg/admin"
	"github.com/marmos91/netconfd/pkg/config"
)

var (
	initForce    bool
	initUsername string
	initPassword string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a configuration file",
	Long: `Initialize a netconfd configuration file, an ed25519 SSH host key and a
random admin API secret.

The NETCONF password is stored as a bcrypt hash. It is prompted for when
stdin is a terminal and --password is not set; otherwise a random password
is generated and printed once.

Examples:
  # Initialize with default location
  netconfd init

  # Initialize with custom path and user
  netconfd init --config /etc/netconfd/config.yaml --username operator

  # Force overwrite existing config and host key
  netconfd init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file and host key")
	initCmd.Flags().StringVar(&initUsername, "username", "admin", "NETCONF username")
	initCmd.Flags().StringVar(&initPassword, "password", "", "NETCONF password (prompted when omitted on a terminal)")
}

func runInit(cmd *cobra.Command, args []string) error {
	opts := config.InitOptions{
		Username: initUsername,
		Password: firstNonEmpty(initPassword, os.Getenv(EnvPassword)),
	}

	if opts.Password == "" && isatty.IsTerminal(os.Stdin.Fd()) {
		password, err := prompt.Password("NETCONF password for " + opts.Username)
		if err != nil {
			return err
		}
		confirm, err := prompt.Password("Confirm password")
		if err != nil {
			return err
		}
		if password != confirm {
			return fmt.Errorf("passwords do not match")
		}
		opts.Password = password
	}

	var (
		result *config.InitResult
		err    error
	)
	if configFile := GetConfigFile(); configFile != "" {
		result, err = config.InitConfigToPath(configFile, initForce, opts)
	} else {
		result, err = config.InitConfig(initForce, opts)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", result.ConfigPath)
	fmt.Printf("SSH host key:                  %s\n", result.HostKeyPath)
	if result.GeneratedPassword != "" {
		fmt.Printf("\n*** Generated password for %s: %s ***\n", opts.Username, result.GeneratedPassword)
		fmt.Println("Please save this password. It will not be shown again.")
	}

	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the server with: netconfd start")
	fmt.Printf("  3. Or specify custom config: netconfd start --config %s\n", result.ConfigPath)
	fmt.Println("\nSecurity note:")
	fmt.Println("  A random admin API secret has been written to the configuration file.")
	fmt.Println("  For production, prefer an environment variable:")
	fmt.Printf("    export %s=$(openssl rand -hex 32)\n", admin.EnvJWTSecret)

	return nil
}
