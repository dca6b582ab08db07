package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newVerifyCommand() *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "verify <entity-ref>",
		Short: "Verify an entity's journal hash chain",
		Long: `Recompute the entity's journal hash chain from the first entry and
report the first mismatch, if any. A broken chain means an appended
entry was retroactively edited or deleted; the entity is quarantined
and the command exits non-zero.`,
		Example: `  flowplane verify case:1042 --tenant t1`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			result, err := rt.journal.VerifyChain(ctx, tenantID, args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := json.NewEncoder(os.Stdout).Encode(result); err != nil {
					return err
				}
			} else if result.Valid {
				fmt.Printf("valid: %d entries verified\n", result.Entries)
			} else {
				fmt.Printf("BROKEN at sequence %d (%d entries scanned)\n", result.BrokenAt, result.Entries)
			}

			if !result.Valid {
				return fmt.Errorf("journal chain broken at sequence %d", result.BrokenAt)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "tenant ID (required)")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}
