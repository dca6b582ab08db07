package compile

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flowplane/flowplane/pkg/dsl"
)

// FlinkBackend emits Flink SQL expression text for distributed-
// compute consumers. Unlike the ANSI sql target it supports duration
// literals (INTERVAL ... SECOND) and compiles action lists into an
// ordered JSON effect-descriptor array whose value expressions are
// themselves Flink SQL text.
type FlinkBackend struct{}

// NewFlinkBackend creates the flink backend.
func NewFlinkBackend() *FlinkBackend { return &FlinkBackend{} }

// Name implements Backend.
func (b *FlinkBackend) Name() string { return "flink" }

var flinkComparison = map[dsl.Op]string{
	dsl.OpEq: "=", dsl.OpNe: "<>",
	dsl.OpLt: "<", dsl.OpLe: "<=",
	dsl.OpGt: ">", dsl.OpGe: ">=",
	dsl.OpAdd: "+", dsl.OpSub: "-",
	dsl.OpMul: "*", dsl.OpDiv: "/",
}

// CompileExpr implements Backend.
func (b *FlinkBackend) CompileExpr(doc *dsl.Document) (string, error) {
	return b.emit(doc.Root)
}

// flinkEffect is one entry of the actions artifact.
type flinkEffect struct {
	Kind       string            `json:"kind"`
	EventType  string            `json:"event_type,omitempty"`
	Payload    map[string]string `json:"payload,omitempty"`
	FieldPath  string            `json:"field_path,omitempty"`
	ValueExpr  string            `json:"value_expr,omitempty"`
	PolicyCode string            `json:"policy_code,omitempty"`
	SignalCode string            `json:"signal_code,omitempty"`
	Severity   string            `json:"severity_expr,omitempty"`
	Assignee   string            `json:"assignee_expr,omitempty"`
}

// CompileActions implements Backend.
func (b *FlinkBackend) CompileActions(doc *dsl.Document) (string, error) {
	effects := make([]flinkEffect, 0, len(doc.Actions))
	for _, a := range doc.Actions {
		effect, err := b.emitAction(a)
		if err != nil {
			return "", err
		}
		effects = append(effects, effect)
	}
	out, err := json.Marshal(effects)
	if err != nil {
		return "", fmt.Errorf("failed to encode effects: %w", err)
	}
	return string(out), nil
}

func (b *FlinkBackend) emitAction(a *dsl.Expr) (flinkEffect, error) {
	switch a.Op {
	case dsl.OpEmitEvent:
		effect := flinkEffect{Kind: string(dsl.EffectEmitEvent), EventType: a.Args[0].Value.(string)}
		if len(a.Args) > 1 {
			effect.Payload = make(map[string]string, len(a.Args)-1)
			for _, p := range a.Args[1:] {
				expr, err := b.emit(p.Args[1])
				if err != nil {
					return flinkEffect{}, err
				}
				effect.Payload[p.Args[0].Value.(string)] = expr
			}
		}
		return effect, nil
	case dsl.OpSetField:
		expr, err := b.emit(a.Args[1])
		if err != nil {
			return flinkEffect{}, err
		}
		return flinkEffect{Kind: string(dsl.EffectSetField), FieldPath: a.Args[0].Value.(string), ValueExpr: expr}, nil
	case dsl.OpStartTimer:
		return flinkEffect{Kind: string(dsl.EffectStartTimer), PolicyCode: a.Args[0].Value.(string)}, nil
	case dsl.OpStopTimer:
		return flinkEffect{Kind: string(dsl.EffectStopTimer), PolicyCode: a.Args[0].Value.(string)}, nil
	case dsl.OpEnqueueEscalation:
		severity, err := b.emit(a.Args[1])
		if err != nil {
			return flinkEffect{}, err
		}
		assignee, err := b.emit(a.Args[2])
		if err != nil {
			return flinkEffect{}, err
		}
		return flinkEffect{
			Kind:       string(dsl.EffectEnqueueEscalation),
			SignalCode: a.Args[0].Value.(string),
			Severity:   severity,
			Assignee:   assignee,
		}, nil
	}
	return flinkEffect{}, &CompileError{Backend: b.Name(), Construct: string(a.Op), Message: "not an action operator"}
}

func (b *FlinkBackend) emit(e *dsl.Expr) (string, error) {
	switch e.Op {
	case dsl.OpLit:
		return b.literal(e.Value)

	case dsl.OpDur:
		return fmt.Sprintf("INTERVAL '%d' SECOND", int64(e.Dur.Seconds())), nil

	case dsl.OpRef:
		return b.reference(e.Path), nil

	case dsl.OpAnd, dsl.OpOr:
		join := " AND "
		if e.Op == dsl.OpOr {
			join = " OR "
		}
		parts := make([]string, len(e.Args))
		for i, a := range e.Args {
			s, err := b.emit(a)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return "(" + strings.Join(parts, join) + ")", nil

	case dsl.OpNot:
		inner, err := b.emit(e.Args[0])
		if err != nil {
			return "", err
		}
		return "(NOT " + inner + ")", nil

	case dsl.OpEq, dsl.OpNe, dsl.OpLt, dsl.OpLe, dsl.OpGt, dsl.OpGe,
		dsl.OpAdd, dsl.OpSub, dsl.OpMul, dsl.OpDiv:
		l, err := b.emit(e.Args[0])
		if err != nil {
			return "", err
		}
		r, err := b.emit(e.Args[1])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s %s %s)", l, flinkComparison[e.Op], r), nil

	case dsl.OpIn:
		needle, err := b.emit(e.Args[0])
		if err != nil {
			return "", err
		}
		haystack, err := b.emit(e.Args[1])
		if err != nil {
			return "", err
		}
		// Non-literal lists ride through ARRAY_CONTAINS.
		if e.Args[1].Op == dsl.OpLit {
			list := e.Args[1].Value.([]interface{})
			items := make([]string, len(list))
			for i, item := range list {
				s, err := b.literal(item)
				if err != nil {
					return "", err
				}
				items[i] = s
			}
			return fmt.Sprintf("(%s IN (%s))", needle, strings.Join(items, ", ")), nil
		}
		return fmt.Sprintf("ARRAY_CONTAINS(%s, %s)", haystack, needle), nil

	case dsl.OpExists:
		return fmt.Sprintf("(%s IS NOT NULL)", b.reference(e.Args[0].Path)), nil

	case dsl.OpStartsWith:
		return b.stringFunc("STARTSWITH", e)

	case dsl.OpContains:
		return b.stringFunc("INSTR", e)
	}
	return "", &CompileError{Backend: b.Name(), Construct: string(e.Op), Message: "unsupported operator"}
}

func (b *FlinkBackend) stringFunc(fn string, e *dsl.Expr) (string, error) {
	l, err := b.emit(e.Args[0])
	if err != nil {
		return "", err
	}
	r, err := b.emit(e.Args[1])
	if err != nil {
		return "", err
	}
	if fn == "INSTR" {
		return fmt.Sprintf("(INSTR(%s, %s) > 0)", l, r), nil
	}
	return fmt.Sprintf("%s(%s, %s)", fn, l, r), nil
}

// reference maps a namespace path onto the conventional row fields of
// the streaming job (`ctx` row with nested namespaces).
func (b *FlinkBackend) reference(path string) string {
	if path == "now.utc" {
		return "CURRENT_TIMESTAMP"
	}
	parts := strings.Split(path, ".")
	for i, p := range parts {
		parts[i] = "`" + p + "`"
	}
	return strings.Join(parts, ".")
}

func (b *FlinkBackend) literal(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "CAST(NULL AS STRING)", nil
	case bool:
		if val {
			return "TRUE", nil
		}
		return "FALSE", nil
	case float64:
		return trimFloat(val), nil
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'", nil
	default:
		return "", &CompileError{Backend: b.Name(), Construct: fmt.Sprintf("%T literal", v), Message: "unsupported literal type"}
	}
}
