package telemetry_test

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/flowplane/flowplane/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	// Create configuration
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "flowplane"
	cfg.ServiceVersion = "1.0.0"

	// Initialize telemetry
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	// Start metrics server (non-blocking)
	if err := tel.StartMetricsServer(); err != nil {
		panic(err)
	}

	// Add telemetry to context
	ctx := tel.WithContext(context.Background())

	// Use telemetry
	logger := telemetry.FromContext(ctx)
	logger.Info("Engine started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific logger
	logger := tel.Logger.NewComponentLogger("workflow-engine")

	// Add context fields
	logger = logger.
		WithTenant("tenant-1").
		WithEntity("case-4711")

	// Log at different levels
	logger.Debug("Evaluating guard")
	logger.Info("Transition committed")
	logger.Warn("Guard denied transition")

	// Log with error
	err := fmt.Errorf("version conflict")
	logger.WithError(err).Error("Transition lost the commit race")

	// Output varies, no output specified
}

// Example_distributedTracing demonstrates distributed tracing usage.
func Example_distributedTracing() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Exporter = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start a transition span
	ctx, span := tel.Tracer.StartTransitionSpan(ctx, "case-lifecycle", "submit", "case-4711")
	defer span.End()

	// Add attributes
	span.SetAttributes(
		telemetry.AttrTenantID.String("tenant-1"),
		attribute.Int64("instance.version", 5),
	)

	// Add event
	span.AddEvent("guard.passed")

	// Nested span for the journal append
	_, childSpan := tel.Tracer.Start(ctx, "journal.append")
	defer childSpan.End()

	childSpan.SetAttributes(
		attribute.String("event.type", "workflow.transition"),
	)

	// Output varies, no output specified
}

// Example_eventSubscription demonstrates the in-process event bus.
func Example_eventSubscription() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Subscribe to timer events only
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("timer event: %s\n", event.Type)
	}, telemetry.FilterByType(
		telemetry.EventTypeTimerWarned,
		telemetry.EventTypeTimerBreached,
	))

	_ = tel.Events.PublishTimerStatus("tenant-1", "case-4711", "review-sla", "warned")

	// Delivery is asynchronous per subscriber, no output specified
}
