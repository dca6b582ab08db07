package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newDefinitionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "definitions",
		Short: "List the loaded workflow definitions",
		Long: `List the workflow definitions loaded from the configured catalog
paths, with their state and transition counts and bound SLA policies.`,
		Example: `  flowplane definitions --config /etc/flowplane/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			defs := rt.catalog.Definitions()

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(defs)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tNAME\tENTITY\tSTART\tSTATES\tTRANSITIONS\tPOLICIES")
			for _, d := range defs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
					d.Code, d.Name, d.EntityType, d.StartState(),
					len(d.States), len(d.Transitions), len(d.SlaPolicies))
			}
			return w.Flush()
		},
	}

	return cmd
}
