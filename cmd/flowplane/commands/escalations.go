package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/flowplane/flowplane/pkg/stores"
)

func newEscalationsCommand() *cobra.Command {
	var (
		tenantID string
		status   string
		limit    int
		ack      string
		closeID  string
	)

	cmd := &cobra.Command{
		Use:   "escalations",
		Short: "List and work escalation items",
		Long: `List escalation items raised by SLA thresholds or transition actions.
Items are created open; operational staff acknowledge and close them
with --ack and --close.`,
		Example: `  # Open items for a tenant
  flowplane escalations --tenant t1 --status open

  # Acknowledge one
  flowplane escalations --ack 6e0f...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			if ack != "" {
				if err := rt.store.UpdateEscalationStatus(ctx, ack, stores.EscalationStatusAck); err != nil {
					return err
				}
				fmt.Printf("acknowledged %s\n", ack)
				return nil
			}
			if closeID != "" {
				if err := rt.store.UpdateEscalationStatus(ctx, closeID, stores.EscalationStatusClosed); err != nil {
					return err
				}
				fmt.Printf("closed %s\n", closeID)
				return nil
			}

			var filter *stores.EscalationStatus
			if status != "" {
				s := stores.EscalationStatus(status)
				filter = &s
			}
			items, err := rt.store.ListEscalations(ctx, tenantID, filter, limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(items)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSIGNAL\tTHRESHOLD\tSEVERITY\tASSIGNEE\tSTATUS\tCREATED")
			for _, item := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					item.ID, item.SignalCode, item.ThresholdKind,
					item.Severity, item.Assignee, item.Status,
					item.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "tenant ID")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (open, ack, closed)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum items to show")
	cmd.Flags().StringVar(&ack, "ack", "", "acknowledge the item with this ID")
	cmd.Flags().StringVar(&closeID, "close", "", "close the item with this ID")

	return cmd
}
