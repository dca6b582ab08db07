package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newTimersCommand() *cobra.Command {
	var (
		tenantID string
		sweep    bool
		batch    int
	)

	cmd := &cobra.Command{
		Use:   "timers <entity-ref>",
		Short: "List an entity's SLA timers, or run one sweep pass",
		Long: `List the SLA timers attached to an entity: policy, status, and the
warn/due deadlines. With --sweep, run one synchronous sweep pass over
all expired timers instead (the same pass the serve worker runs
periodically).`,
		Example: `  # Show timers for a case
  flowplane timers case:1042 --tenant t1

  # Run a single sweep pass
  flowplane timers --sweep`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			if sweep {
				processed, err := rt.sla.Sweep(ctx, batch)
				if err != nil {
					return err
				}
				fmt.Printf("sweep complete: %d timers advanced\n", processed)
				return nil
			}

			if len(args) != 1 {
				return fmt.Errorf("an entity-ref argument is required unless --sweep is set")
			}
			timers, err := rt.workflow.Timers(ctx, tenantID, args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(timers)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "POLICY\tSTATUS\tSTARTED\tWARN\tDUE")
			for _, t := range timers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					t.PolicyCode, t.Status,
					t.StartedUTC.Format("2006-01-02 15:04:05"),
					t.WarnUTC.Format("2006-01-02 15:04:05"),
					t.DueUTC.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "tenant ID")
	cmd.Flags().BoolVar(&sweep, "sweep", false, "run one sweep pass over expired timers")
	cmd.Flags().IntVar(&batch, "batch-size", 100, "sweep batch size")

	return cmd
}
