package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var (
		tenantID string
		limit    int
		offset   int
	)

	cmd := &cobra.Command{
		Use:   "history <entity-ref>",
		Short: "Show an entity's journal entries",
		Long: `Show the entity's append-only journal in sequence order: transitions,
field changes, emitted events, and timer activity. A quarantined
entity refuses reads until an operator reviews the broken chain.`,
		Example: `  flowplane history case:1042 --tenant t1 --limit 50`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			entries, err := rt.workflow.History(ctx, tenantID, args[0], limit, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(entries)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tTIMESTAMP\tEVENT\tACTOR\tPAYLOAD")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					e.Sequence,
					e.TimestampUTC.Format("2006-01-02 15:04:05"),
					e.EventType, e.Actor, e.Payload)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "tenant ID (required)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum entries to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}
