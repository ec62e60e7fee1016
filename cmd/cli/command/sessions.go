package command

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"possync/cmd/cli/command/client"
	"possync/internal/protocol"
)

var sessionsShowMetrics bool

// sessionsCmd lists live sessions through the admin API
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List the server's live sessions",
	Long:  `Query the admin API (GET /sessions) and print one row per session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		admin := client.NewAdminClient(adminAddr)

		resp, err := admin.ListSessions(cmd.Context())
		if err != nil {
			return err
		}

		if resp.Count == 0 {
			fmt.Println("No live sessions")
		} else {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ADDR\tID\tPOSITION\tLAST HEARTBEAT\tCONNECTED")
			for _, s := range resp.Sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s ago\t%s\n",
					s.Addr,
					s.ID,
					protocol.EncodePosition(s.Position),
					time.Since(s.LastHeartbeat).Round(time.Second),
					s.ConnectedAt.Format("2006-01-02 15:04:05"),
				)
			}
			w.Flush()
			fmt.Printf("\n%d session(s)\n", resp.Count)
		}

		if !sessionsShowMetrics {
			return nil
		}
		metrics, err := admin.Metrics(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("\nUptime %ds, %d observer(s)\n", metrics.UptimeSeconds, metrics.Observers)
		for name, value := range metrics.Counters {
			fmt.Printf("  %-22s %d\n", name, value)
		}
		return nil
	},
}

func init() {
	sessionsCmd.Flags().BoolVar(&sessionsShowMetrics, "metrics", false, "also print server counters")
}
