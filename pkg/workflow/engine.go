package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/flowplane/flowplane/pkg/catalog"
	"github.com/flowplane/flowplane/pkg/dsl"
	"github.com/flowplane/flowplane/pkg/journal"
	"github.com/flowplane/flowplane/pkg/stores"
	"github.com/flowplane/flowplane/pkg/telemetry"
)

// Engine executes transition requests against the catalog, the store,
// and the journal.
type Engine struct {
	store   stores.Store
	catalog *catalog.Catalog
	journal *journal.Journal
	timers  TimerHook
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  *telemetry.EventPublisher
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates a workflow engine.
func New(store stores.Store, cat *catalog.Catalog, jrnl *journal.Journal, logger zerolog.Logger) *Engine {
	return &Engine{
		store:   store,
		catalog: cat,
		journal: jrnl,
		logger:  logger.With().Str("component", "workflow").Logger(),
		now:     time.Now,
	}
}

// WithTimerHook wires the SLA engine into the commit path.
func (e *Engine) WithTimerHook(hook TimerHook) *Engine {
	e.timers = hook
	return e
}

// WithMetrics enables transition metrics.
func (e *Engine) WithMetrics(m *telemetry.Metrics) *Engine {
	e.metrics = m
	return e
}

// WithTracer enables transition spans.
func (e *Engine) WithTracer(t *telemetry.Tracer) *Engine {
	e.tracer = t
	return e
}

// WithEvents enables post-commit event publishing.
func (e *Engine) WithEvents(p *telemetry.EventPublisher) *Engine {
	e.events = p
	return e
}

// WithClock overrides the engine clock for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// RequestTransition attempts one transition and returns its outcome.
//
// The request either commits (state change, journal unit, and timer
// effects durable as one atomic transaction), is denied with a stable
// reason code (nothing written), or reports a conflict when a
// concurrent caller won the optimistic commit race (nothing written;
// the engine never retries internally).
func (e *Engine) RequestTransition(ctx context.Context, req Request) (*Result, error) {
	if e.tracer == nil {
		return e.requestTransition(ctx, req)
	}

	ctx, span := e.tracer.StartTransitionSpan(ctx, req.WorkflowCode, req.TransitionCode, req.EntityRef)
	defer span.End()

	result, err := e.requestTransition(ctx, req)
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		span.SetAttributes(telemetry.AttrOutcome.String(string(result.Outcome)))
		telemetry.RecordSuccess(span)
	}
	return result, err
}

func (e *Engine) requestTransition(ctx context.Context, req Request) (*Result, error) {
	started := e.now()

	def, ok := e.catalog.Definition(req.WorkflowCode)
	if !ok {
		return nil, NewNotFoundError("unknown workflow", nil).
			WithWorkflow(req.WorkflowCode).
			WithCode(ErrCodeWorkflowNotFound)
	}

	logger := e.logger.With().
		Str("workflow", req.WorkflowCode).
		Str("tenant", req.TenantID).
		Str("entity", req.EntityRef).
		Str("transition", req.TransitionCode).
		Logger()

	if err := e.checkQuarantine(ctx, req); err != nil {
		return nil, err
	}

	inst, tr, creating, err := e.resolve(ctx, def, req)
	if err != nil {
		return nil, err
	}

	if !authorized(req.Actor, tr.Roles) {
		logger.Info().Str("actor", req.Actor.ID).Msg("transition denied: role")
		return e.denied(req, tr, DenyReasonRole, inst.Version, started), nil
	}

	object, err := decodeSnapshot(inst.Snapshot)
	if err != nil {
		return nil, NewInternalError("corrupt instance snapshot", err).
			WithWorkflow(req.WorkflowCode).WithEntity(req.EntityRef)
	}

	ec := &dsl.EvaluationContext{
		Object:     object,
		Transition: dsl.TransitionRef{From: tr.From, To: tr.To, Code: tr.Code},
		User:       req.Actor,
		TenantID:   req.TenantID,
		Now:        e.now().UTC(),
		Context:    req.Context,
	}

	if guard := tr.GuardDoc(); guard != nil {
		pass, gerr := guard.EvalBool(ec)
		if gerr != nil {
			logger.Info().Err(gerr).Msg("transition denied: guard evaluation failed")
			return e.denied(req, tr, DenyReasonGuard, inst.Version, started), nil
		}
		if !pass {
			logger.Info().Msg("transition denied: guard")
			return e.denied(req, tr, DenyReasonGuard, inst.Version, started), nil
		}
	}

	// Resolve the whole action list before touching storage so a
	// failing action aborts with nothing written.
	var effects []dsl.Effect
	if actions := tr.ActionDoc(); actions != nil {
		effects, err = actions.EvalActions(ec)
		if err != nil {
			logger.Info().Err(err).Msg("transition denied: action evaluation failed")
			return e.denied(req, tr, DenyReasonAction, inst.Version, started), nil
		}
	}

	result, err := e.commit(ctx, logger, def, req, inst, tr, creating, object, ec, effects)
	if err != nil {
		if e.metrics != nil {
			var werr *Error
			if errors.As(err, &werr) {
				e.metrics.RecordError(string(werr.Class))
			}
		}
		return nil, err
	}

	e.publish(req, tr, result, effects)
	if e.metrics != nil {
		e.metrics.RecordTransition(req.WorkflowCode, string(result.Outcome), e.now().Sub(started))
	}
	if result.Outcome == OutcomeCommitted {
		logger.Info().
			Str("from", tr.From).
			Str("to", tr.To).
			Int64("version", result.Version).
			Msg("transition committed")
	}
	return result, nil
}

// checkQuarantine refuses writes for entities whose journal chain is
// broken; extending a broken chain would mask the tampering point.
func (e *Engine) checkQuarantine(ctx context.Context, req Request) error {
	q, err := e.store.GetQuarantine(ctx, req.TenantID, req.EntityRef)
	switch {
	case err == nil:
		return NewIntegrityError("journal quarantined", fmt.Errorf("%w: chain broken at sequence %d: %s", stores.ErrQuarantined, q.BrokenAt, q.Reason)).
			WithWorkflow(req.WorkflowCode).
			WithEntity(req.EntityRef).
			WithCode(ErrCodeChainQuarantined)
	case errors.Is(err, stores.ErrNotFound):
		return nil
	default:
		return NewInternalError("failed to check quarantine", err).WithCode(ErrCodeStorageFailed)
	}
}

// resolve loads the instance and picks the edge to follow. A missing
// instance is acceptable only when the requested transition is an
// entry transition, in which case a fresh instance in the start state
// is returned alongside it.
func (e *Engine) resolve(ctx context.Context, def *catalog.Definition, req Request) (*stores.WorkflowInstance, *catalog.Transition, bool, error) {
	inst, err := e.store.GetInstance(ctx, req.TenantID, req.EntityRef)
	switch {
	case err == nil:
		if st, ok := def.State(inst.CurrentState); ok && st.IsTerminal {
			return nil, nil, false, NewValidationError("state is terminal", nil).
				WithWorkflow(req.WorkflowCode).
				WithEntity(req.EntityRef).
				WithCode(ErrCodeTerminalState).
				WithDetail("state", inst.CurrentState)
		}
		tr, ok := def.Resolve(inst.CurrentState, req.TransitionCode)
		if !ok {
			return nil, nil, false, NewValidationError("no such transition from current state", nil).
				WithWorkflow(req.WorkflowCode).
				WithEntity(req.EntityRef).
				WithCode(ErrCodeInvalidTransition).
				WithDetail("state", inst.CurrentState).
				WithDetail("transition", req.TransitionCode)
		}
		return inst, tr, false, nil

	case errors.Is(err, stores.ErrNotFound):
		tr, ok := def.Entry(req.TransitionCode)
		if !ok {
			return nil, nil, false, NewNotFoundError("instance not found", nil).
				WithWorkflow(req.WorkflowCode).
				WithEntity(req.EntityRef).
				WithCode(ErrCodeInstanceNotFound)
		}
		snapshot, merr := encodeSnapshot(req.Fields)
		if merr != nil {
			return nil, nil, false, NewValidationError("unencodable instance fields", merr).
				WithWorkflow(req.WorkflowCode).WithEntity(req.EntityRef)
		}
		now := e.now().UTC()
		inst = &stores.WorkflowInstance{
			ID:           uuid.New().String(),
			TenantID:     req.TenantID,
			EntityRef:    req.EntityRef,
			WorkflowCode: req.WorkflowCode,
			CurrentState: def.StartState(),
			Snapshot:     snapshot,
			Version:      0,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return inst, tr, true, nil

	default:
		return nil, nil, false, NewInternalError("failed to load instance", err).
			WithWorkflow(req.WorkflowCode).
			WithEntity(req.EntityRef).
			WithCode(ErrCodeStorageFailed)
	}
}

// commit applies the transition, its journal unit, and its timer
// effects as one transaction.
func (e *Engine) commit(ctx context.Context, logger zerolog.Logger, def *catalog.Definition, req Request, inst *stores.WorkflowInstance, tr *catalog.Transition, creating bool, object map[string]interface{}, ec *dsl.EvaluationContext, effects []dsl.Effect) (*Result, error) {
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, NewInternalError("failed to begin transaction", err).WithCode(ErrCodeStorageFailed)
	}
	finished := false
	defer func() {
		if !finished {
			_ = e.store.RollbackTx(tx)
		}
	}()

	for _, ef := range effects {
		if ef.Kind == dsl.EffectSetField {
			setField(object, ef.FieldPath, ef.Value)
		}
	}
	snapshot, err := encodeSnapshot(object)
	if err != nil {
		return nil, NewInternalError("failed to encode snapshot", err)
	}

	expected := inst.Version
	now := e.now().UTC()
	fromState := inst.CurrentState
	inst.CurrentState = tr.To
	inst.LastTransitionCode = tr.Code
	inst.LastTransitionUTC = &now
	inst.Snapshot = snapshot
	inst.UpdatedAt = now

	if creating {
		inst.Version = 1
		if err := e.store.CreateInstance(ctx, tx, inst); err != nil {
			// A concurrent entry request may have created the row
			// between our read and this insert. If it exists now, the
			// other caller won the race.
			_ = e.store.RollbackTx(tx)
			finished = true
			if _, gerr := e.store.GetInstance(ctx, req.TenantID, req.EntityRef); gerr == nil {
				logger.Info().Msg("transition conflict: concurrent instance creation")
				return &Result{Outcome: OutcomeConflict}, nil
			}
			return nil, NewInternalError("failed to create instance", err).
				WithWorkflow(req.WorkflowCode).
				WithEntity(req.EntityRef).
				WithCode(ErrCodeStorageFailed)
		}
		if _, err := e.journal.Append(ctx, tx, journal.Record{
			TenantID:  req.TenantID,
			EntityRef: req.EntityRef,
			EventType: journal.EventInstanceCreated,
			Actor:     req.Actor.ID,
			Payload: map[string]interface{}{
				"workflow": req.WorkflowCode,
				"state":    def.StartState(),
			},
		}); err != nil {
			return nil, NewInternalError("failed to journal instance creation", err).WithCode(ErrCodeStorageFailed)
		}
	} else {
		if err := e.store.UpdateInstance(ctx, tx, inst, expected); err != nil {
			if errors.Is(err, stores.ErrVersionConflict) {
				logger.Info().Int64("expected_version", expected).Msg("transition conflict")
				return &Result{Outcome: OutcomeConflict, Version: expected}, nil
			}
			return nil, NewInternalError("failed to update instance", err).
				WithWorkflow(req.WorkflowCode).
				WithEntity(req.EntityRef).
				WithCode(ErrCodeStorageFailed)
		}
	}

	if _, err := e.journal.Append(ctx, tx, journal.Record{
		TenantID:  req.TenantID,
		EntityRef: req.EntityRef,
		EventType: journal.EventTransition,
		Actor:     req.Actor.ID,
		Payload: map[string]interface{}{
			"workflow":   req.WorkflowCode,
			"transition": tr.Code,
			"from":       fromState,
			"to":         tr.To,
			"version":    inst.Version,
		},
	}); err != nil {
		return nil, NewInternalError("failed to journal transition", err).WithCode(ErrCodeStorageFailed)
	}

	if err := e.applyEffects(ctx, tx, def, req, inst, effects); err != nil {
		return nil, err
	}

	if e.timers != nil {
		if err := e.timers.OnTransition(ctx, tx, def, inst, ec); err != nil {
			return nil, NewInternalError("timer evaluation failed", err).
				WithWorkflow(req.WorkflowCode).
				WithEntity(req.EntityRef)
		}
	}

	if err := e.store.CommitTx(tx); err != nil {
		return nil, NewInternalError("failed to commit transaction", err).WithCode(ErrCodeStorageFailed)
	}
	finished = true

	return &Result{Outcome: OutcomeCommitted, NewState: tr.To, Version: inst.Version}, nil
}

// applyEffects journals each effect and dispatches timer and
// escalation directives, preserving action list order.
func (e *Engine) applyEffects(ctx context.Context, tx *sql.Tx, def *catalog.Definition, req Request, inst *stores.WorkflowInstance, effects []dsl.Effect) error {
	for _, ef := range effects {
		switch ef.Kind {
		case dsl.EffectEmitEvent:
			if _, err := e.journal.Append(ctx, tx, journal.Record{
				TenantID:  req.TenantID,
				EntityRef: req.EntityRef,
				EventType: ef.EventType,
				Actor:     req.Actor.ID,
				Payload:   ef.Payload,
			}); err != nil {
				return NewInternalError("failed to journal emitted event", err).WithCode(ErrCodeStorageFailed)
			}

		case dsl.EffectSetField:
			// Snapshot mutation already happened before the instance
			// write; this entry records it.
			if _, err := e.journal.Append(ctx, tx, journal.Record{
				TenantID:  req.TenantID,
				EntityRef: req.EntityRef,
				EventType: journal.EventFieldSet,
				Actor:     req.Actor.ID,
				Payload: map[string]interface{}{
					"field_path": ef.FieldPath,
					"value":      ef.Value,
				},
			}); err != nil {
				return NewInternalError("failed to journal field set", err).WithCode(ErrCodeStorageFailed)
			}

		case dsl.EffectStartTimer:
			if e.timers == nil {
				continue
			}
			if err := e.timers.StartTimer(ctx, tx, def, ef.PolicyCode, inst, req.Actor); err != nil {
				return NewInternalError("failed to start timer", err).
					WithDetail("policy", ef.PolicyCode)
			}

		case dsl.EffectStopTimer:
			if e.timers == nil {
				continue
			}
			if err := e.timers.StopTimer(ctx, tx, ef.PolicyCode, inst, req.Actor); err != nil {
				return NewInternalError("failed to stop timer", err).
					WithDetail("policy", ef.PolicyCode)
			}

		case dsl.EffectEnqueueEscalation:
			if err := e.enqueueEscalation(ctx, tx, req, ef); err != nil {
				return err
			}
		}
	}
	return nil
}

// enqueueEscalation creates an action-raised escalation item. Each
// item carries its own ID as the timer reference so the
// (timer, threshold) de-duplication key never collides with
// timer-raised items.
func (e *Engine) enqueueEscalation(ctx context.Context, tx *sql.Tx, req Request, ef dsl.Effect) error {
	now := e.now().UTC()
	id := uuid.New().String()
	item := &stores.EscalationItem{
		ID:            id,
		TenantID:      req.TenantID,
		TimerID:       id,
		ThresholdKind: stores.ThresholdAction,
		SignalCode:    ef.SignalCode,
		Severity:      ef.Severity,
		Assignee:      ef.Assignee,
		Status:        stores.EscalationStatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := e.store.CreateEscalation(ctx, tx, item); err != nil {
		return NewInternalError("failed to create escalation", err).WithCode(ErrCodeStorageFailed)
	}
	if _, err := e.journal.Append(ctx, tx, journal.Record{
		TenantID:  req.TenantID,
		EntityRef: req.EntityRef,
		EventType: journal.EventEscalation,
		Actor:     req.Actor.ID,
		Payload: map[string]interface{}{
			"signal_code": ef.SignalCode,
			"severity":    ef.Severity,
			"assignee":    ef.Assignee,
			"threshold":   string(stores.ThresholdAction),
		},
	}); err != nil {
		return NewInternalError("failed to journal escalation", err).WithCode(ErrCodeStorageFailed)
	}
	if e.metrics != nil {
		e.metrics.RecordEscalation(string(stores.ThresholdAction))
	}
	return nil
}

// denied builds a denial result and records it.
func (e *Engine) denied(req Request, tr *catalog.Transition, reason DenyReason, version int64, started time.Time) *Result {
	if e.metrics != nil {
		e.metrics.RecordDenial(req.WorkflowCode, string(reason))
		e.metrics.RecordTransition(req.WorkflowCode, string(OutcomeDenied), e.now().Sub(started))
	}
	if e.events != nil {
		_ = e.events.PublishTransitionDenied(req.TenantID, req.EntityRef, req.WorkflowCode, tr.Code, string(reason))
	}
	return &Result{Outcome: OutcomeDenied, Reason: reason, Version: version}
}

// publish emits post-commit events; publishing is outside the
// transaction and best-effort.
func (e *Engine) publish(req Request, tr *catalog.Transition, result *Result, effects []dsl.Effect) {
	if e.events == nil || result.Outcome != OutcomeCommitted {
		return
	}
	_ = e.events.PublishTransitionCommitted(req.TenantID, req.EntityRef, req.WorkflowCode, tr.Code, result.NewState)
	for _, ef := range effects {
		if ef.Kind == dsl.EffectEmitEvent {
			_ = e.events.PublishDomainEvent(req.TenantID, req.EntityRef, ef.EventType, ef.Payload)
		}
	}
}

// Instance returns the current instance row.
func (e *Engine) Instance(ctx context.Context, tenantID, entityRef string) (*stores.WorkflowInstance, error) {
	inst, err := e.store.GetInstance(ctx, tenantID, entityRef)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, NewNotFoundError("instance not found", err).
				WithEntity(entityRef).
				WithCode(ErrCodeInstanceNotFound)
		}
		return nil, NewInternalError("failed to load instance", err).WithCode(ErrCodeStorageFailed)
	}
	return inst, nil
}

// Timers returns the instance's SLA timers.
func (e *Engine) Timers(ctx context.Context, tenantID, entityRef string) ([]*stores.SlaTimer, error) {
	timers, err := e.store.ListTimersByEntity(ctx, tenantID, entityRef)
	if err != nil {
		return nil, NewInternalError("failed to list timers", err).WithCode(ErrCodeStorageFailed)
	}
	return timers, nil
}

// History returns the entity's journal entries in sequence order. A
// quarantined entity returns an integrity error.
func (e *Engine) History(ctx context.Context, tenantID, entityRef string, limit, offset int) ([]*stores.JournalEntry, error) {
	entries, err := e.journal.Entries(ctx, tenantID, entityRef, limit, offset)
	if err != nil {
		var ierr *journal.IntegrityError
		if errors.As(err, &ierr) {
			return nil, NewIntegrityError("journal quarantined", err).
				WithEntity(entityRef).
				WithCode(ErrCodeChainQuarantined)
		}
		return nil, NewInternalError("failed to read journal", err).WithCode(ErrCodeStorageFailed)
	}
	return entries, nil
}

func authorized(actor dsl.Actor, roles []string) bool {
	// A transition with no configured roles is open to any actor.
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if actor.HasRole(r) {
			return true
		}
	}
	return false
}

func decodeSnapshot(snapshot string) (map[string]interface{}, error) {
	if snapshot == "" {
		return map[string]interface{}{}, nil
	}
	var object map[string]interface{}
	if err := json.Unmarshal([]byte(snapshot), &object); err != nil {
		return nil, err
	}
	if object == nil {
		object = map[string]interface{}{}
	}
	return object, nil
}

func encodeSnapshot(object map[string]interface{}) (string, error) {
	if object == nil {
		object = map[string]interface{}{}
	}
	raw, err := json.Marshal(object)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// setField writes a value at a dotted path inside the snapshot map,
// creating intermediate maps as needed. A non-map intermediate is
// overwritten; set_field is authoritative for its path.
func setField(object map[string]interface{}, path string, value interface{}) {
	parts := strings.Split(path, ".")
	current := object
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}
