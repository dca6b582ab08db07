package sla

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/flowplane/flowplane/pkg/catalog"
	"github.com/flowplane/flowplane/pkg/dsl"
	"github.com/flowplane/flowplane/pkg/journal"
	"github.com/flowplane/flowplane/pkg/stores"
	"github.com/flowplane/flowplane/pkg/telemetry"
)

// SweepActor is the journal actor recorded for sweep-driven timer
// transitions.
const SweepActor = "system:sla-sweeper"

// Engine runs SLA timers: the synchronous trigger invoked from the
// workflow engine's commit, and the asynchronous sweep. It implements
// the workflow engine's TimerHook.
type Engine struct {
	store   stores.Store
	catalog *catalog.Catalog
	journal *journal.Journal
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates an SLA engine.
func New(store stores.Store, cat *catalog.Catalog, jrnl *journal.Journal, logger zerolog.Logger) *Engine {
	return &Engine{
		store:   store,
		catalog: cat,
		journal: jrnl,
		logger:  logger.With().Str("component", "sla").Logger(),
		now:     time.Now,
	}
}

// WithMetrics enables timer metrics.
func (e *Engine) WithMetrics(m *telemetry.Metrics) *Engine {
	e.metrics = m
	return e
}

// WithEvents enables timer event publishing.
func (e *Engine) WithEvents(p *telemetry.EventPublisher) *Engine {
	e.events = p
	return e
}

// WithClock overrides the engine clock for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// OnTransition evaluates every policy bound to the committed
// transition. A policy whose start rule holds gets its timer started;
// one whose stop rule holds gets it stopped. Runs inside the workflow
// commit transaction.
func (e *Engine) OnTransition(ctx context.Context, tx *sql.Tx, def *catalog.Definition, inst *stores.WorkflowInstance, ec *dsl.EvaluationContext) error {
	for _, p := range def.PoliciesFor(ec.Transition.Code) {
		if rule := p.StartDoc(); rule != nil {
			hold, err := rule.EvalBool(ec)
			if err != nil {
				return fmt.Errorf("start rule for policy %s: %w", p.Code, err)
			}
			if hold {
				if err := e.startTimer(ctx, tx, p, inst, ec.User.ID); err != nil {
					return err
				}
			}
		}
		if rule := p.StopDoc(); rule != nil {
			hold, err := rule.EvalBool(ec)
			if err != nil {
				return fmt.Errorf("stop rule for policy %s: %w", p.Code, err)
			}
			if hold {
				if err := e.stopTimer(ctx, tx, p.Code, inst, ec.User.ID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// StartTimer starts the named policy's timer, fired by an explicit
// start_timer action.
func (e *Engine) StartTimer(ctx context.Context, tx *sql.Tx, def *catalog.Definition, policyCode string, inst *stores.WorkflowInstance, actor dsl.Actor) error {
	p, ok := def.Policy(policyCode)
	if !ok {
		return fmt.Errorf("unknown sla policy %q", policyCode)
	}
	return e.startTimer(ctx, tx, p, inst, actor.ID)
}

// StopTimer stops the named policy's timer, fired by an explicit
// stop_timer action.
func (e *Engine) StopTimer(ctx context.Context, tx *sql.Tx, policyCode string, inst *stores.WorkflowInstance, actor dsl.Actor) error {
	return e.stopTimer(ctx, tx, policyCode, inst, actor.ID)
}

// startTimer creates the (instance, policy) timer if none exists. An
// existing timer is left alone whatever its status: a running timer
// keeps its original deadline and a stopped one never reopens.
func (e *Engine) startTimer(ctx context.Context, tx *sql.Tx, p *catalog.SlaPolicy, inst *stores.WorkflowInstance, actor string) error {
	_, err := e.store.GetTimer(ctx, tx, inst.TenantID, inst.EntityRef, p.Code)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrNotFound):
	default:
		return fmt.Errorf("failed to read timer: %w", err)
	}

	started := e.now().UTC()
	timer := &stores.SlaTimer{
		ID:         uuid.New().String(),
		TenantID:   inst.TenantID,
		EntityRef:  inst.EntityRef,
		PolicyCode: p.Code,
		Status:     stores.TimerStatusRunning,
		StartedUTC: started,
		WarnUTC:    started.Add(time.Duration(p.TargetMinutes-p.WarnMinutes) * time.Minute),
		DueUTC:     started.Add(time.Duration(p.TargetMinutes) * time.Minute),
		Version:    1,
		CreatedAt:  started,
		UpdatedAt:  started,
	}
	if err := e.store.CreateTimer(ctx, tx, timer); err != nil {
		return fmt.Errorf("failed to create timer: %w", err)
	}

	if _, err := e.journal.Append(ctx, tx, journal.Record{
		TenantID:  inst.TenantID,
		EntityRef: inst.EntityRef,
		EventType: journal.EventTimerStarted,
		Actor:     actor,
		Payload: map[string]interface{}{
			"policy":   p.Code,
			"warn_utc": timer.WarnUTC.Format(time.RFC3339Nano),
			"due_utc":  timer.DueUTC.Format(time.RFC3339Nano),
		},
	}); err != nil {
		return fmt.Errorf("failed to journal timer start: %w", err)
	}

	if e.metrics != nil {
		e.metrics.RecordTimerTransition(string(stores.TimerStatusRunning))
	}
	e.logger.Info().
		Str("tenant", inst.TenantID).
		Str("entity", inst.EntityRef).
		Str("policy", p.Code).
		Time("due_utc", timer.DueUTC).
		Msg("timer started")
	return nil
}

// stopTimer freezes the (instance, policy) timer. Missing or already
// stopped timers are a no-op.
func (e *Engine) stopTimer(ctx context.Context, tx *sql.Tx, policyCode string, inst *stores.WorkflowInstance, actor string) error {
	timer, err := e.store.GetTimer(ctx, tx, inst.TenantID, inst.EntityRef, policyCode)
	switch {
	case errors.Is(err, stores.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("failed to read timer: %w", err)
	}
	if timer.Status == stores.TimerStatusStopped {
		return nil
	}

	next, err := advanceStatus(timer.Status, triggerStop)
	if err != nil {
		return fmt.Errorf("illegal timer stop from %s: %w", timer.Status, err)
	}
	stopped := e.now().UTC()
	timer.Status = next
	timer.StoppedUTC = &stopped
	if err := e.store.UpdateTimerStatus(ctx, tx, timer, timer.Version); err != nil {
		return fmt.Errorf("failed to stop timer: %w", err)
	}

	if _, err := e.journal.Append(ctx, tx, journal.Record{
		TenantID:  inst.TenantID,
		EntityRef: inst.EntityRef,
		EventType: journal.EventTimerStopped,
		Actor:     actor,
		Payload:   map[string]interface{}{"policy": policyCode},
	}); err != nil {
		return fmt.Errorf("failed to journal timer stop: %w", err)
	}

	if e.metrics != nil {
		e.metrics.RecordTimerTransition(string(stores.TimerStatusStopped))
	}
	if e.events != nil {
		_ = e.events.PublishTimerStatus(inst.TenantID, inst.EntityRef, policyCode, string(stores.TimerStatusStopped))
	}
	e.logger.Info().
		Str("tenant", inst.TenantID).
		Str("entity", inst.EntityRef).
		Str("policy", policyCode).
		Msg("timer stopped")
	return nil
}

// Sweep runs one batch pass over expired timers, advancing each past
// the threshold it has crossed. Safe to re-run: status only moves
// forward and escalations de-duplicate on (timer, threshold).
func (e *Engine) Sweep(ctx context.Context, batchSize int) (int, error) {
	started := e.now()
	now := started.UTC()

	candidates, err := e.store.ListExpiredTimers(ctx, now, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired timers: %w", err)
	}

	processed := 0
	for _, stale := range candidates {
		// Stale-read guard: the candidate list is a snapshot, so
		// re-read the row before acting. A timer stopped since the
		// list was taken is left alone.
		timer, err := e.store.GetTimer(ctx, nil, stale.TenantID, stale.EntityRef, stale.PolicyCode)
		if err != nil {
			e.logger.Warn().Err(err).Str("timer", stale.ID).Msg("sweep re-read failed")
			continue
		}

		var trigger string
		var kind stores.ThresholdKind
		var event string
		switch {
		case !now.Before(timer.DueUTC) &&
			(timer.Status == stores.TimerStatusRunning || timer.Status == stores.TimerStatusWarned):
			trigger, kind, event = triggerBreach, stores.ThresholdBreach, journal.EventTimerBreached
		case !now.Before(timer.WarnUTC) && timer.Status == stores.TimerStatusRunning:
			trigger, kind, event = triggerWarn, stores.ThresholdWarn, journal.EventTimerWarned
		default:
			continue
		}

		if err := e.advance(ctx, timer, trigger, event); err != nil {
			if errors.Is(err, stores.ErrVersionConflict) {
				// Another sweeper or a stop won; nothing to do here.
				continue
			}
			e.logger.Error().Err(err).Str("timer", timer.ID).Msg("sweep advance failed")
			continue
		}
		processed++

		// Status is durable; escalation side effects are best-effort.
		e.escalate(ctx, timer, kind)
	}

	if e.metrics != nil {
		e.metrics.RecordSweep(e.now().Sub(started), processed)
	}
	return processed, nil
}

// advance moves one timer past a threshold, committing the status
// change and its journal entry as one unit.
func (e *Engine) advance(ctx context.Context, timer *stores.SlaTimer, trigger, event string) error {
	next, err := advanceStatus(timer.Status, trigger)
	if err != nil {
		return fmt.Errorf("illegal timer %s from %s: %w", trigger, timer.Status, err)
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = e.store.RollbackTx(tx)
		}
	}()

	prev := timer.Status
	timer.Status = next
	if err := e.store.UpdateTimerStatus(ctx, tx, timer, timer.Version); err != nil {
		timer.Status = prev
		return err
	}
	if _, err := e.journal.Append(ctx, tx, journal.Record{
		TenantID:  timer.TenantID,
		EntityRef: timer.EntityRef,
		EventType: event,
		Actor:     SweepActor,
		Payload: map[string]interface{}{
			"policy": timer.PolicyCode,
			"status": string(next),
		},
	}); err != nil {
		return fmt.Errorf("failed to journal timer %s: %w", trigger, err)
	}
	if err := e.store.CommitTx(tx); err != nil {
		return fmt.Errorf("failed to commit timer %s: %w", trigger, err)
	}
	committed = true

	if e.metrics != nil {
		e.metrics.RecordTimerTransition(string(next))
	}
	if e.events != nil {
		_ = e.events.PublishTimerStatus(timer.TenantID, timer.EntityRef, timer.PolicyCode, string(next))
	}
	e.logger.Info().
		Str("tenant", timer.TenantID).
		Str("entity", timer.EntityRef).
		Str("policy", timer.PolicyCode).
		Str("status", string(next)).
		Msg("timer threshold crossed")
	return nil
}

// escalate executes the policy's escalation rule for a crossed
// threshold. Failures are logged and swallowed; the timer's status
// change already committed and stands either way.
func (e *Engine) escalate(ctx context.Context, timer *stores.SlaTimer, kind stores.ThresholdKind) {
	logger := e.logger.With().
		Str("tenant", timer.TenantID).
		Str("entity", timer.EntityRef).
		Str("policy", timer.PolicyCode).
		Str("threshold", string(kind)).
		Logger()

	inst, err := e.store.GetInstance(ctx, timer.TenantID, timer.EntityRef)
	if err != nil {
		logger.Error().Err(err).Msg("escalation skipped: instance unavailable")
		return
	}
	def, ok := e.catalog.Definition(inst.WorkflowCode)
	if !ok {
		logger.Error().Str("workflow", inst.WorkflowCode).Msg("escalation skipped: unknown workflow")
		return
	}
	policy, ok := def.Policy(timer.PolicyCode)
	if !ok {
		logger.Error().Msg("escalation skipped: unknown policy")
		return
	}
	rule := policy.EscalationDoc()
	if rule == nil {
		return
	}

	var object map[string]interface{}
	if inst.Snapshot != "" {
		if err := json.Unmarshal([]byte(inst.Snapshot), &object); err != nil {
			logger.Error().Err(err).Msg("escalation skipped: corrupt snapshot")
			return
		}
	}

	effects, err := rule.EvalActions(&dsl.EvaluationContext{
		Object:   object,
		TenantID: timer.TenantID,
		Now:      e.now().UTC(),
	})
	if err != nil {
		logger.Error().Err(err).Msg("escalation rule evaluation failed")
		return
	}

	for _, ef := range effects {
		switch ef.Kind {
		case dsl.EffectEnqueueEscalation:
			e.enqueue(ctx, logger, timer, kind, ef)
		case dsl.EffectEmitEvent:
			if _, err := e.journal.Append(ctx, nil, journal.Record{
				TenantID:  timer.TenantID,
				EntityRef: timer.EntityRef,
				EventType: ef.EventType,
				Actor:     SweepActor,
				Payload:   ef.Payload,
			}); err != nil {
				logger.Error().Err(err).Msg("failed to journal escalation event")
			}
			if e.events != nil {
				_ = e.events.PublishDomainEvent(timer.TenantID, timer.EntityRef, ef.EventType, ef.Payload)
			}
		default:
			logger.Warn().Str("kind", string(ef.Kind)).Msg("unsupported effect in escalation rule")
		}
	}
}

// enqueue creates the escalation work item, de-duplicated on
// (timer, threshold) so a re-run sweep cannot double-escalate.
func (e *Engine) enqueue(ctx context.Context, logger zerolog.Logger, timer *stores.SlaTimer, kind stores.ThresholdKind, ef dsl.Effect) {
	now := e.now().UTC()
	item := &stores.EscalationItem{
		ID:            uuid.New().String(),
		TenantID:      timer.TenantID,
		TimerID:       timer.ID,
		ThresholdKind: kind,
		SignalCode:    ef.SignalCode,
		Severity:      ef.Severity,
		Assignee:      ef.Assignee,
		Status:        stores.EscalationStatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	created, err := e.store.CreateEscalation(ctx, nil, item)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create escalation")
		return
	}
	if !created {
		return
	}

	if _, err := e.journal.Append(ctx, nil, journal.Record{
		TenantID:  timer.TenantID,
		EntityRef: timer.EntityRef,
		EventType: journal.EventEscalation,
		Actor:     SweepActor,
		Payload: map[string]interface{}{
			"policy":      timer.PolicyCode,
			"signal_code": ef.SignalCode,
			"severity":    ef.Severity,
			"assignee":    ef.Assignee,
			"threshold":   string(kind),
		},
	}); err != nil {
		logger.Error().Err(err).Msg("failed to journal escalation")
	}
	if e.metrics != nil {
		e.metrics.RecordEscalation(string(kind))
	}
	if e.events != nil {
		_ = e.events.PublishEscalationCreated(timer.TenantID, timer.EntityRef, ef.SignalCode, string(kind))
	}
	logger.Info().Str("signal", ef.SignalCode).Msg("escalation enqueued")
}
