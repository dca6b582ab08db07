package compile

import (
	"fmt"
	"strings"

	"github.com/open-policy-agent/opa/v1/ast"

	"github.com/flowplane/flowplane/pkg/dsl"
)

// RegoBackend emits a Rego module for policy-decision consumers. Top
// level disjunctions become alternative rule bodies, conjunctions
// become statement sequences, and action lists become a partial set
// of effect descriptors gated on allow. Every emitted module is
// parsed back with the OPA AST before it is returned.
type RegoBackend struct{}

// NewRegoBackend creates the rego backend.
func NewRegoBackend() *RegoBackend { return &RegoBackend{} }

// Name implements Backend.
func (b *RegoBackend) Name() string { return "rego" }

// RegoPackage is the package emitted modules are declared under.
const RegoPackage = "flowplane.rules"

// CompileExpr implements Backend.
func (b *RegoBackend) CompileExpr(doc *dsl.Document) (string, error) {
	branches, err := b.disjoin(doc.Root)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "package %s\n\ndefault allow := false\n", RegoPackage)
	for _, conjuncts := range branches {
		sb.WriteString("\nallow if {\n")
		for _, stmt := range conjuncts {
			sb.WriteString("\t" + stmt + "\n")
		}
		sb.WriteString("}\n")
	}
	return b.validated(sb.String())
}

// CompileActions implements Backend.
func (b *RegoBackend) CompileActions(doc *dsl.Document) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "package %s\n", RegoPackage)
	for _, a := range doc.Actions {
		descriptor, err := b.emitAction(a)
		if err != nil {
			return "", err
		}
		sb.WriteString("\neffects contains effect if {\n")
		sb.WriteString("\teffect := " + descriptor + "\n")
		sb.WriteString("}\n")
	}
	return b.validated(sb.String())
}

func (b *RegoBackend) validated(module string) (string, error) {
	if _, err := ast.ParseModule("generated.rego", module); err != nil {
		return "", &CompileError{Backend: b.Name(), Construct: "module", Message: fmt.Sprintf("emitted module does not parse: %v", err)}
	}
	return module, nil
}

func (b *RegoBackend) emitAction(a *dsl.Expr) (string, error) {
	fields := []string{fmt.Sprintf("%q: %q", "kind", a.Op)}
	switch a.Op {
	case dsl.OpEmitEvent:
		fields = append(fields, fmt.Sprintf("%q: %q", "event_type", a.Args[0].Value.(string)))
		if len(a.Args) > 1 {
			pairs := make([]string, 0, len(a.Args)-1)
			for _, p := range a.Args[1:] {
				term, err := b.term(p.Args[1])
				if err != nil {
					return "", err
				}
				pairs = append(pairs, fmt.Sprintf("%q: %s", p.Args[0].Value.(string), term))
			}
			fields = append(fields, fmt.Sprintf("%q: {%s}", "payload", strings.Join(pairs, ", ")))
		}
	case dsl.OpSetField:
		term, err := b.term(a.Args[1])
		if err != nil {
			return "", err
		}
		fields = append(fields,
			fmt.Sprintf("%q: %q", "field_path", a.Args[0].Value.(string)),
			fmt.Sprintf("%q: %s", "value", term))
	case dsl.OpStartTimer, dsl.OpStopTimer:
		fields = append(fields, fmt.Sprintf("%q: %q", "policy_code", a.Args[0].Value.(string)))
	case dsl.OpEnqueueEscalation:
		severity, err := b.term(a.Args[1])
		if err != nil {
			return "", err
		}
		assignee, err := b.term(a.Args[2])
		if err != nil {
			return "", err
		}
		fields = append(fields,
			fmt.Sprintf("%q: %q", "signal_code", a.Args[0].Value.(string)),
			fmt.Sprintf("%q: %s", "severity", severity),
			fmt.Sprintf("%q: %s", "assignee", assignee))
	default:
		return "", &CompileError{Backend: b.Name(), Construct: string(a.Op), Message: "not an action operator"}
	}
	return "{" + strings.Join(fields, ", ") + "}", nil
}

// disjoin flattens a boolean tree into disjunctive normal form: a
// list of rule bodies, each a list of conjunct statements.
func (b *RegoBackend) disjoin(e *dsl.Expr) ([][]string, error) {
	switch e.Op {
	case dsl.OpOr:
		var branches [][]string
		for _, a := range e.Args {
			sub, err := b.disjoin(a)
			if err != nil {
				return nil, err
			}
			branches = append(branches, sub...)
		}
		return branches, nil
	case dsl.OpAnd:
		branches := [][]string{nil}
		for _, a := range e.Args {
			sub, err := b.disjoin(a)
			if err != nil {
				return nil, err
			}
			var next [][]string
			for _, left := range branches {
				for _, right := range sub {
					merged := make([]string, 0, len(left)+len(right))
					merged = append(merged, left...)
					merged = append(merged, right...)
					next = append(next, merged)
				}
			}
			branches = next
		}
		return branches, nil
	default:
		stmt, err := b.statement(e)
		if err != nil {
			return nil, err
		}
		return [][]string{{stmt}}, nil
	}
}

// statement emits one rule-body line for a boolean node.
func (b *RegoBackend) statement(e *dsl.Expr) (string, error) {
	switch e.Op {
	case dsl.OpNot:
		inner := e.Args[0]
		if inner.Op == dsl.OpAnd || inner.Op == dsl.OpOr {
			return "", &CompileError{Backend: b.Name(), Construct: "not", Message: "negated conjunction or disjunction is not expressible as a rule body"}
		}
		stmt, err := b.statement(inner)
		if err != nil {
			return "", err
		}
		return "not " + stmt, nil
	case dsl.OpExists:
		return b.reference(e.Args[0].Path), nil
	case dsl.OpIn:
		needle, err := b.term(e.Args[0])
		if err != nil {
			return "", err
		}
		haystack, err := b.term(e.Args[1])
		if err != nil {
			return "", err
		}
		return needle + " in " + haystack, nil
	case dsl.OpStartsWith:
		return b.call("startswith", e)
	case dsl.OpContains:
		return b.call("contains", e)
	case dsl.OpEq, dsl.OpNe, dsl.OpLt, dsl.OpLe, dsl.OpGt, dsl.OpGe:
		ops := map[dsl.Op]string{
			dsl.OpEq: "==", dsl.OpNe: "!=",
			dsl.OpLt: "<", dsl.OpLe: "<=",
			dsl.OpGt: ">", dsl.OpGe: ">=",
		}
		l, err := b.term(e.Args[0])
		if err != nil {
			return "", err
		}
		r, err := b.term(e.Args[1])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s", l, ops[e.Op], r), nil
	case dsl.OpRef:
		return b.reference(e.Path), nil
	case dsl.OpLit:
		if v, ok := e.Value.(bool); ok {
			if v {
				return "true", nil
			}
			return "false", nil
		}
	}
	return "", &CompileError{Backend: b.Name(), Construct: string(e.Op), Message: "not a boolean statement"}
}

func (b *RegoBackend) call(fn string, e *dsl.Expr) (string, error) {
	l, err := b.term(e.Args[0])
	if err != nil {
		return "", err
	}
	r, err := b.term(e.Args[1])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s(%s, %s)", fn, l, r), nil
}

// term emits a value-position expression.
func (b *RegoBackend) term(e *dsl.Expr) (string, error) {
	switch e.Op {
	case dsl.OpLit:
		return b.literal(e.Value)
	case dsl.OpDur:
		// Durations surface as nanoseconds so they compare against
		// time.now_ns arithmetic.
		return fmt.Sprintf("time.parse_duration_ns(%q)", e.Dur.String()), nil
	case dsl.OpRef:
		return b.reference(e.Path), nil
	case dsl.OpAdd, dsl.OpSub, dsl.OpMul, dsl.OpDiv:
		ops := map[dsl.Op]string{dsl.OpAdd: "+", dsl.OpSub: "-", dsl.OpMul: "*", dsl.OpDiv: "/"}
		l, err := b.term(e.Args[0])
		if err != nil {
			return "", err
		}
		r, err := b.term(e.Args[1])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s %s %s)", l, ops[e.Op], r), nil
	}
	return "", &CompileError{Backend: b.Name(), Construct: string(e.Op), Message: "not a value expression"}
}

func (b *RegoBackend) reference(path string) string {
	if path == "now.utc" {
		return "time.now_ns()"
	}
	parts := strings.Split(path, ".")
	refs := make([]string, 0, len(parts)+1)
	refs = append(refs, "input")
	for _, p := range parts {
		refs = append(refs, fmt.Sprintf("[%q]", p))
	}
	return refs[0] + strings.Join(refs[1:], "")
}

func (b *RegoBackend) literal(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "null", nil
	case bool:
		if val {
			return "true", nil
		}
		return "false", nil
	case float64:
		return trimFloat(val), nil
	case string:
		return fmt.Sprintf("%q", val), nil
	case []interface{}:
		items := make([]string, len(val))
		for i, item := range val {
			s, err := b.literal(item)
			if err != nil {
				return "", err
			}
			items[i] = s
		}
		return "[" + strings.Join(items, ", ") + "]", nil
	default:
		return "", &CompileError{Backend: b.Name(), Construct: fmt.Sprintf("%T literal", v), Message: "unsupported literal type"}
	}
}
