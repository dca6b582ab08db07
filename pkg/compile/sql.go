package compile

import (
	"fmt"
	"strings"

	"github.com/flowplane/flowplane/pkg/dsl"
)

// SQLBackend emits ANSI SQL predicate text for relational consumers.
// References map onto namespace-aliased columns (object.CaseNumber
// becomes o."CaseNumber") so the consumer joins its own tables under
// the conventional aliases.
type SQLBackend struct{}

// NewSQLBackend creates the sql backend.
func NewSQLBackend() *SQLBackend { return &SQLBackend{} }

// Name implements Backend.
func (b *SQLBackend) Name() string { return "sql" }

// namespace table aliases in emitted predicates.
var sqlAliases = map[dsl.Namespace]string{
	dsl.NamespaceObject:     "o",
	dsl.NamespaceTransition: "t",
	dsl.NamespaceUser:       "u",
	dsl.NamespaceTenant:     "tn",
	dsl.NamespaceContext:    "cx",
}

var sqlComparison = map[dsl.Op]string{
	dsl.OpEq: "=", dsl.OpNe: "<>",
	dsl.OpLt: "<", dsl.OpLe: "<=",
	dsl.OpGt: ">", dsl.OpGe: ">=",
}

var sqlArithmetic = map[dsl.Op]string{
	dsl.OpAdd: "+", dsl.OpSub: "-",
	dsl.OpMul: "*", dsl.OpDiv: "/",
}

// CompileExpr implements Backend.
func (b *SQLBackend) CompileExpr(doc *dsl.Document) (string, error) {
	return b.emit(doc.Root)
}

// CompileActions implements Backend. Side-effecting directives have
// no relational equivalent; consumers of the sql target only execute
// predicates.
func (b *SQLBackend) CompileActions(_ *dsl.Document) (string, error) {
	return "", &CompileError{
		Backend:   b.Name(),
		Construct: "action list",
		Message:   "relational targets execute predicates only",
	}
}

func (b *SQLBackend) emit(e *dsl.Expr) (string, error) {
	switch e.Op {
	case dsl.OpLit:
		return b.literal(e.Value)

	case dsl.OpDur:
		return "", &CompileError{
			Backend:   b.Name(),
			Construct: "duration literal",
			Message:   "ANSI SQL has no portable interval literal",
		}

	case dsl.OpRef:
		return b.reference(e.Path)

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

	case dsl.OpEq, dsl.OpNe, dsl.OpLt, dsl.OpLe, dsl.OpGt, dsl.OpGe:
		l, r, err := b.emitBinary(e)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s %s %s)", l, sqlComparison[e.Op], r), nil

	case dsl.OpIn:
		needle, err := b.emit(e.Args[0])
		if err != nil {
			return "", err
		}
		list, ok := e.Args[1].Value.([]interface{})
		if e.Args[1].Op != dsl.OpLit || !ok {
			return "", &CompileError{
				Backend:   b.Name(),
				Construct: "in over a non-literal list",
				Message:   "SQL IN requires a literal value list",
			}
		}
		items := make([]string, len(list))
		for i, item := range list {
			s, err := b.literal(item)
			if err != nil {
				return "", err
			}
			items[i] = s
		}
		return fmt.Sprintf("(%s IN (%s))", needle, strings.Join(items, ", ")), nil

	case dsl.OpExists:
		ref, err := b.reference(e.Args[0].Path)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s IS NOT NULL)", ref), nil

	case dsl.OpAdd, dsl.OpSub, dsl.OpMul, dsl.OpDiv:
		l, r, err := b.emitBinary(e)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s %s %s)", l, sqlArithmetic[e.Op], r), nil

	case dsl.OpStartsWith, dsl.OpContains:
		subject, err := b.emit(e.Args[0])
		if err != nil {
			return "", err
		}
		pattern, ok := e.Args[1].Value.(string)
		if e.Args[1].Op != dsl.OpLit || !ok {
			return "", &CompileError{
				Backend:   b.Name(),
				Construct: string(e.Op) + " over a non-literal pattern",
				Message:   "SQL LIKE requires a literal pattern",
			}
		}
		escaped := escapeLike(pattern)
		if e.Op == dsl.OpStartsWith {
			return fmt.Sprintf("(%s LIKE '%s%%' ESCAPE '\\')", subject, escaped), nil
		}
		return fmt.Sprintf("(%s LIKE '%%%s%%' ESCAPE '\\')", subject, escaped), nil
	}
	return "", &CompileError{Backend: b.Name(), Construct: string(e.Op), Message: "unsupported operator"}
}

func (b *SQLBackend) emitBinary(e *dsl.Expr) (string, string, error) {
	l, err := b.emit(e.Args[0])
	if err != nil {
		return "", "", err
	}
	r, err := b.emit(e.Args[1])
	if err != nil {
		return "", "", err
	}
	return l, r, nil
}

func (b *SQLBackend) reference(path string) (string, error) {
	ns, rest, _ := strings.Cut(path, ".")
	if dsl.Namespace(ns) == dsl.NamespaceNow {
		return "CURRENT_TIMESTAMP", nil
	}
	alias, ok := sqlAliases[dsl.Namespace(ns)]
	if !ok {
		return "", &CompileError{Backend: b.Name(), Construct: path, Message: "unknown namespace"}
	}
	// Nested paths flatten with underscores; consumers expose nested
	// runtime fields as flattened columns.
	column := strings.ReplaceAll(rest, ".", "_")
	return fmt.Sprintf(`%s."%s"`, alias, column), nil
}

func (b *SQLBackend) literal(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "NULL", nil
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

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return strings.ReplaceAll(s, "'", "''")
}
