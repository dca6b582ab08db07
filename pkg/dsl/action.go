package dsl

import (
	"fmt"
	"strconv"
	"time"
)

// EffectKind identifies the kind of a resolved action effect.
type EffectKind string

const (
	EffectEmitEvent         EffectKind = "emit_event"
	EffectSetField          EffectKind = "set_field"
	EffectStartTimer        EffectKind = "start_timer"
	EffectStopTimer         EffectKind = "stop_timer"
	EffectEnqueueEscalation EffectKind = "enqueue_escalation"
)

// Effect is one fully resolved action directive: every embedded
// expression has been evaluated against the context, so an Effect
// carries only plain values. Producing effects is pure; applying them
// is the workflow engine's job, which lets the engine evaluate the
// whole list before committing anything (all-or-nothing execution).
type Effect struct {
	// Kind is the directive kind.
	Kind EffectKind `json:"kind"`

	// EventType is the domain event type code for emit_event.
	EventType string `json:"event_type,omitempty"`

	// Payload is the resolved emit_event payload.
	Payload map[string]interface{} `json:"payload,omitempty"`

	// FieldPath is the runtime field path for set_field.
	FieldPath string `json:"field_path,omitempty"`

	// Value is the resolved set_field value.
	Value interface{} `json:"value,omitempty"`

	// PolicyCode is the SLA policy code for start_timer/stop_timer.
	PolicyCode string `json:"policy_code,omitempty"`

	// SignalCode is the escalation signal code.
	SignalCode string `json:"signal_code,omitempty"`

	// Severity is the resolved escalation severity.
	Severity string `json:"severity,omitempty"`

	// Assignee is the resolved escalation assignee.
	Assignee string `json:"assignee,omitempty"`
}

// EvalActions resolves an actions document against the context,
// returning effects in list order. Any evaluation failure aborts the
// whole list; no partial effect slice is returned.
func (d *Document) EvalActions(ctx *EvaluationContext) ([]Effect, error) {
	if d.Kind != KindActions {
		return nil, &EvaluationError{Message: fmt.Sprintf("document kind %s is not an action list", d.Kind)}
	}
	effects := make([]Effect, 0, len(d.Actions))
	for _, a := range d.Actions {
		effect, err := evalAction(a, ctx)
		if err != nil {
			return nil, err
		}
		effects = append(effects, effect)
	}
	return effects, nil
}

func evalAction(a *Expr, ctx *EvaluationContext) (Effect, error) {
	switch a.Op {
	case OpEmitEvent:
		effect := Effect{Kind: EffectEmitEvent, EventType: a.Args[0].Value.(string)}
		if len(a.Args) > 1 {
			effect.Payload = make(map[string]interface{}, len(a.Args)-1)
			for _, p := range a.Args[1:] {
				name := p.Args[0].Value.(string)
				v, err := Evaluate(p.Args[1], ctx)
				if err != nil {
					return Effect{}, err
				}
				effect.Payload[name] = jsonSafe(v)
			}
		}
		return effect, nil

	case OpSetField:
		v, err := Evaluate(a.Args[1], ctx)
		if err != nil {
			return Effect{}, err
		}
		return Effect{Kind: EffectSetField, FieldPath: a.Args[0].Value.(string), Value: jsonSafe(v)}, nil

	case OpStartTimer:
		return Effect{Kind: EffectStartTimer, PolicyCode: a.Args[0].Value.(string)}, nil

	case OpStopTimer:
		return Effect{Kind: EffectStopTimer, PolicyCode: a.Args[0].Value.(string)}, nil

	case OpEnqueueEscalation:
		severity, err := Evaluate(a.Args[1], ctx)
		if err != nil {
			return Effect{}, err
		}
		assignee, err := Evaluate(a.Args[2], ctx)
		if err != nil {
			return Effect{}, err
		}
		return Effect{
			Kind:       EffectEnqueueEscalation,
			SignalCode: a.Args[0].Value.(string),
			Severity:   valueString(severity),
			Assignee:   valueString(assignee),
		}, nil
	}
	return Effect{}, &EvaluationError{Op: a.Op, Message: "not an action operator"}
}

// valueString renders a resolved scalar for fields that are stored as
// text (severity, assignee).
func valueString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

// jsonSafe converts evaluator-internal value types into shapes that
// survive a JSON round trip, so journal payloads re-hash identically
// after storage.
func jsonSafe(v interface{}) interface{} {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return val.String()
	default:
		return v
	}
}
