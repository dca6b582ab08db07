package commands

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowplane/flowplane/pkg/sla"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with the SLA sweeper and HTTP endpoints",
		Long: `Run the engine as a long-lived process: load workflow definitions,
start the SLA sweep worker, and expose health and metrics endpoints.
Definition files are watched for changes when catalog.watch is set.`,
		Example: `  # Run with the default configuration
  flowplane serve

  # Run with an explicit configuration file
  flowplane serve --config /etc/flowplane/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				rt.Close(shutdownCtx)
			}()
			logger := rt.log()

			if rt.cfg.Catalog.Watch {
				if err := rt.catalog.Watch(ctx, rt.cfg.Catalog.Paths); err != nil {
					return err
				}
			}

			if err := rt.telemetry.StartMetricsServer(); err != nil {
				return err
			}

			var sweeper *sla.Sweeper
			if rt.cfg.Sweep.Enabled {
				sweeper = sla.NewSweeper(rt.sla, rt.cfg.Sweep.Interval.Std(), rt.cfg.Sweep.BatchSize, logger).
					WithTracer(rt.telemetry.Tracer)
				sweeper.Start(ctx)
				defer sweeper.Stop()
			}

			healthSrv := startHealthServer(rt)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = healthSrv.Shutdown(shutdownCtx)
			}()

			logger.Info().
				Str("health_addr", rt.cfg.Server.HealthAddr).
				Bool("sweeper", rt.cfg.Sweep.Enabled).
				Msg("engine running")

			<-ctx.Done()
			logger.Info().Msg("shutting down")
			return nil
		},
	}

	return cmd
}

// startHealthServer serves liveness and readiness probes.
func startHealthServer(rt *runtime) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"store": "ok"}
		code := http.StatusOK
		if err := rt.store.HealthCheck(r.Context()); err != nil {
			status["store"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})

	srv := &http.Server{
		Addr:              rt.cfg.Server.HealthAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger := rt.log()
			logger.Error().Err(err).Msg("health server failed")
		}
	}()
	return srv
}
