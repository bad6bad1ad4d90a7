package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/netconfd/internal/cli/output"
	"github.com/marmos91/netconfd/internal/cli/timeutil"
	"github.com/marmos91/netconfd/pkg/apiclient"
)

var (
	statusOutput string
	statusClient clientFlags
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Display the lifecycle status, live NETCONF sessions, reply queue depth
and outstanding order engine work of a running server.

The admin API must be enabled. Credentials are the NETCONF login; the
issued token is cached in the config directory.

Examples:
  # Status of the local server
  netconfd status

  # Remote server as JSON
  netconfd status --server http://10.0.0.5:8080 -o json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
	statusClient.register(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	var st *apiclient.StatusResponse
	if err := statusClient.withClient(func(c *apiclient.Client) error {
		st, err = c.Status()
		return err
	}); err != nil {
		return err
	}

	printer := output.StdoutPrinter(format)
	if format != output.FormatTable {
		return printer.Print(st)
	}
	return printStatusTable(printer, st)
}

func printStatusTable(printer *output.Printer, st *apiclient.StatusResponse) error {
	outstanding := strconv.Itoa(st.Outstanding)
	if st.Outstanding < 0 {
		outstanding = "unknown"
	}

	printer.Printf("\nnetconfd server status\n======================\n\n")
	switch st.State {
	case "START":
		printer.Success("  Status:  " + st.State)
	case "STOP":
		printer.Error("  Status:  " + st.State)
	default:
		printer.Warning("  Status:  " + st.State)
	}

	if err := output.SimpleTable(os.Stdout, [][2]string{
		{"  Started", timeutil.FormatTime(st.StartedAt)},
		{"  Uptime", timeutil.FormatUptime(st.Uptime)},
		{"  Queue depth", strconv.Itoa(st.QueueDepth)},
		{"  Outstanding", outstanding},
		{"  Sessions", strconv.Itoa(len(st.Sessions))},
	}); err != nil {
		return err
	}

	if len(st.Sessions) == 0 {
		printer.Printf("\n")
		return nil
	}

	printer.Printf("\n")
	return output.PrintTable(os.Stdout, sessionTable(st.Sessions))
}

func sessionTable(sessions []apiclient.SessionInfo) *output.TableData {
	table := output.NewTableData("ID", "User", "Remote", "Transport", "Framing", "Opened", "RPCs")
	for _, s := range sessions {
		table.AddRow(
			fmt.Sprintf("%d", s.ID),
			s.User,
			s.RemoteAddr,
			s.Transport,
			s.Framing,
			timeutil.FormatTime(s.OpenedAt),
			strconv.FormatUint(s.RPCs, 10),
		)
	}
	return table
}
