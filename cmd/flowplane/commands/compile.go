package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/flowplane/flowplane/pkg/compile"
	"github.com/flowplane/flowplane/pkg/dsl"
	"github.com/flowplane/flowplane/pkg/stores"
)

func newCompileCommand() *cobra.Command {
	var (
		target  string
		persist bool
	)

	cmd := &cobra.Command{
		Use:   "compile <document.json>",
		Short: "Compile a rule document for a target backend",
		Long: `Compile a canonical rule document to one of the supported backends:

  sql    ANSI SQL boolean predicate
  flink  Flink SQL streaming predicate or effect descriptors
  rego   OPA Rego module

Guard and rule documents compile as expressions; action documents
compile as effect lists. A construct the target cannot express fails
the compilation - nothing is silently degraded. With --persist the
artifact is cached in the store under the document's hash.`,
		Example: `  # Compile a guard to SQL
  flowplane compile guard.json --target sql

  # Compile an action list to Rego and cache the artifact
  flowplane compile actions.json --target rego --persist`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			doc, err := dsl.ParseDocument(raw)
			if err != nil {
				return fmt.Errorf("invalid rule document: %w", err)
			}

			compiler := compile.NewCompiler(nil, zerolog.Nop())
			if persist {
				rt, rerr := newRuntime(ctx)
				if rerr != nil {
					return rerr
				}
				defer rt.Close(ctx)
				compiler = compile.NewCompiler(rt.store, rt.log()).
					WithMetrics(rt.telemetry.Metrics).
					WithTracer(rt.telemetry.Tracer)
			}

			var artifact *stores.CompiledArtifact
			if doc.Kind == dsl.KindActions {
				artifact, err = compiler.CompileActions(ctx, doc, target)
			} else {
				artifact, err = compiler.CompileExpr(ctx, doc, target)
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(artifact)
			}
			fmt.Printf("# %s %s %s\n", artifact.Backend, artifact.Kind, artifact.ExpressionHash)
			fmt.Println(artifact.Content)
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "target", "sql", "compilation target (sql, flink, rego)")
	cmd.Flags().BoolVar(&persist, "persist", false, "cache the artifact in the store")

	return cmd
}
