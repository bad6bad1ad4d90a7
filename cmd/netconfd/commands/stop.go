package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/netconfd/internal/cli/prompt"
	"github.com/marmos91/netconfd/pkg/apiclient"
	"github.com/marmos91/netconfd/pkg/lifecycle"
)

var (
	stopReason string
	stopYes    bool
	stopClient clientFlags

	acceptClient clientFlags
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Drain and stop a running server",
	Long: `Ask a running server to stop through the admin API.

The server moves to READY_TO_STOP, refuses new configuration requests,
waits for outstanding work to drain and then writes STOP and exits.
With --reason change-over the drain hands over to a successor started
with 'netconfd start --change-over'.

The request is accepted only while the server is in START.

Examples:
  # Normal stop
  netconfd stop

  # Hand over without confirmation
  netconfd stop --reason change-over --yes`,
	RunE: runStop,
}

var acceptCmd = &cobra.Command{
	Use:   "accept",
	Short: "Start accepting configuration requests",
	Long: `Write START on a running server that was started with --auto-start=false
or in CHANGE_OVER.

Examples:
  netconfd accept`,
	RunE: runAccept,
}

func init() {
	stopCmd.Flags().StringVar(&stopReason, "reason", "normal", "Stop reason (normal|change-over)")
	stopCmd.Flags().BoolVarP(&stopYes, "yes", "y", false, "Skip confirmation")
	stopClient.register(stopCmd)

	acceptClient.register(acceptCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	reason, err := lifecycle.ParseReason(stopReason)
	if err != nil {
		return err
	}

	if !stopYes {
		ok, err := prompt.Confirm(fmt.Sprintf("Stop the server (%s)", reason), false)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var resp *apiclient.LifecycleResponse
	if err := stopClient.withClient(func(c *apiclient.Client) error {
		resp, err = c.Stop(reason.String())
		return err
	}); err != nil {
		if apiclient.IsConflict(err) {
			return fmt.Errorf("server refused the stop: %w", err)
		}
		return err
	}

	fmt.Printf("Stop requested (reason: %s, state: %s). The server exits once outstanding work has drained.\n",
		resp.Reason, resp.State)
	return nil
}

func runAccept(cmd *cobra.Command, args []string) error {
	var resp *apiclient.LifecycleResponse
	err := acceptClient.withClient(func(c *apiclient.Client) error {
		var err error
		resp, err = c.Start()
		return err
	})
	if err != nil {
		return err
	}

	fmt.Printf("Server state: %s\n", resp.State)
	return nil
}
