package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/flowplane/flowplane/pkg/catalog"
	"github.com/flowplane/flowplane/pkg/config"
	"github.com/flowplane/flowplane/pkg/journal"
	"github.com/flowplane/flowplane/pkg/sla"
	"github.com/flowplane/flowplane/pkg/stores"
	"github.com/flowplane/flowplane/pkg/telemetry"
	"github.com/flowplane/flowplane/pkg/workflow"
)

// runtime bundles the wired application components for one command
// invocation.
type runtime struct {
	cfg       *config.Config
	telemetry *telemetry.Telemetry
	store     *stores.SQLiteStore
	catalog   *catalog.Catalog
	journal   *journal.Journal
	workflow  *workflow.Engine
	sla       *sla.Engine
}

// newRuntime loads configuration and wires storage, catalog, journal,
// and both engines. Callers must Close when done.
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := tel.Logger.Zerolog()

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}

	cat := catalog.New(logger)
	if err := cat.LoadFromPaths(ctx, cfg.Catalog.Paths); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to load workflow definitions: %w", err)
	}

	jrnl := journal.New(store, logger).WithMetrics(tel.Metrics)

	slaEngine := sla.New(store, cat, jrnl, logger).
		WithMetrics(tel.Metrics).
		WithEvents(tel.Events)

	wf := workflow.New(store, cat, jrnl, logger).
		WithTimerHook(slaEngine).
		WithMetrics(tel.Metrics).
		WithTracer(tel.Tracer).
		WithEvents(tel.Events)

	return &runtime{
		cfg:       cfg,
		telemetry: tel,
		store:     store,
		catalog:   cat,
		journal:   jrnl,
		workflow:  wf,
		sla:       slaEngine,
	}, nil
}

// Close releases the runtime's resources.
func (r *runtime) Close(ctx context.Context) {
	_ = r.telemetry.Shutdown(ctx)
	_ = r.store.Close()
}

// log returns the runtime's base logger.
func (r *runtime) log() zerolog.Logger {
	return r.telemetry.Logger.Zerolog()
}
