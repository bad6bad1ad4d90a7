package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/netconfd/internal/cli/credentials"
)

var logoutClient clientFlags

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the cached admin API token",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := credentials.Open(credentialsPath())
		if err != nil {
			return err
		}

		url := logoutClient.serverURL()
		if err := store.Delete(url); err != nil {
			return fmt.Errorf("failed to update %s: %w", store.Path(), err)
		}
		fmt.Printf("Logged out of %s\n", url)
		return nil
	},
}

func init() {
	logoutCmd.Flags().StringVar(&logoutClient.server, "server", "", "Admin API URL (env "+EnvServerURL+")")
}
