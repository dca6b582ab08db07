package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flowplane/flowplane/pkg/dsl"
	"github.com/flowplane/flowplane/pkg/workflow"
)

func newTransitionCommand() *cobra.Command {
	var (
		workflowCode string
		tenantID     string
		actorID      string
		roles        []string
		fields       []string
		callerCtx    []string
		retryFlag    bool
	)

	cmd := &cobra.Command{
		Use:   "transition <entity-ref> <transition-code>",
		Short: "Request a workflow transition for an entity",
		Long: `Request a workflow transition. The request commits, is denied with a
stable reason (role, guard, action), or reports a conflict when a
concurrent writer won the commit race.

Entry transitions create the instance; seed its fields with --field.`,
		Example: `  # Open a new case
  flowplane transition case:1042 open --workflow case-lifecycle \
    --tenant t1 --actor u-clerk --roles clerk --field CaseNumber=50-0042

  # Submit it, retrying on conflicts
  flowplane transition case:1042 submit --workflow case-lifecycle \
    --tenant t1 --actor u-clerk --roles clerk --retry`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			fieldMap, err := parseKeyValues(fields)
			if err != nil {
				return fmt.Errorf("invalid --field: %w", err)
			}
			ctxMap, err := parseKeyValues(callerCtx)
			if err != nil {
				return fmt.Errorf("invalid --context: %w", err)
			}

			req := workflow.Request{
				WorkflowCode:   workflowCode,
				TenantID:       tenantID,
				EntityRef:      args[0],
				TransitionCode: args[1],
				Actor:          dsl.Actor{ID: actorID, Roles: roles},
				Fields:         fieldMap,
				Context:        ctxMap,
			}

			var result *workflow.Result
			if retryFlag {
				result, err = workflow.RetryTransition(ctx, rt.workflow, req, workflow.DefaultRetryPolicy())
			} else {
				result, err = rt.workflow.RequestTransition(ctx, req)
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(result)
			}
			switch result.Outcome {
			case workflow.OutcomeCommitted:
				fmt.Printf("committed: %s is now %s (version %d)\n", args[0], result.NewState, result.Version)
			case workflow.OutcomeDenied:
				fmt.Printf("denied (%s)\n", result.Reason)
			case workflow.OutcomeConflict:
				fmt.Println("conflict: a concurrent request won; re-read and retry")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&workflowCode, "workflow", "w", "", "workflow code (required)")
	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "tenant ID (required)")
	cmd.Flags().StringVarP(&actorID, "actor", "a", "", "acting user ID (required)")
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "actor role codes")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "initial snapshot field key=value (entry transitions)")
	cmd.Flags().StringArrayVar(&callerCtx, "context", nil, "caller context key=value")
	cmd.Flags().BoolVar(&retryFlag, "retry", false, "retry on conflict with backoff")
	_ = cmd.MarkFlagRequired("workflow")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("actor")

	return cmd
}

// parseKeyValues turns key=value pairs into a map. Values that parse
// as JSON scalars keep their type; everything else stays a string.
func parseKeyValues(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		var parsed interface{}
		if err := json.Unmarshal([]byte(value), &parsed); err == nil {
			switch parsed.(type) {
			case bool, float64, nil:
				out[key] = parsed
				continue
			}
		}
		out[key] = value
	}
	return out, nil
}
