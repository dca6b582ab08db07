// Package telemetry provides observability instrumentation for
// FlowPlane: structured logging (zerolog), distributed tracing
// (OpenTelemetry), Prometheus metrics, and an in-process event bus.
//
// # Setup
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "flowplane"
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//		return err
//	}
//	defer tel.Shutdown(ctx)
//	ctx = tel.WithContext(ctx)
//
// Components pick the pieces up from the context via FromContext
// (logger) and FromTelemetryContext (everything else), or receive a
// zerolog.Logger directly through Logger.Zerolog.
//
// # Metrics
//
// The collector exposes, under the configured namespace:
//
//   - transitions_total{workflow,outcome}
//   - transition_duration_seconds{workflow}
//   - transition_denials_total{workflow,reason}
//   - journal_appends_total{event_type}
//   - chain_verifications_total{result}
//   - timer_transitions_total{status}
//   - sweep_duration_seconds, sweep_batch_size
//   - escalations_total{threshold}
//   - compilations_total{backend,cache}
//   - errors_by_class_total{class}
//
// # Events
//
// The EventPublisher fans transition, timer, escalation, and journal
// integrity events out to in-process subscribers, optionally buffered
// and batched. Subscribers run on their own goroutines and never
// block the engine.
package telemetry
