package dsl

import (
	"fmt"
	"strings"
)

// kindNamespaces lists the reference namespaces legal for each rule
// kind. Security rules compile to backend policy tables evaluated
// outside any transition, so they see no transition or caller context;
// timer rules are also evaluated by the sweep, where no user applies.
var kindNamespaces = map[Kind]map[Namespace]bool{
	KindGuard: {
		NamespaceObject: true, NamespaceTransition: true, NamespaceUser: true,
		NamespaceTenant: true, NamespaceNow: true, NamespaceContext: true,
	},
	KindSecurityRule: {
		NamespaceObject: true, NamespaceUser: true,
		NamespaceTenant: true, NamespaceNow: true,
	},
	KindTimerRule: {
		NamespaceObject: true, NamespaceTransition: true,
		NamespaceTenant: true, NamespaceNow: true, NamespaceContext: true,
	},
	KindActions: {
		NamespaceObject: true, NamespaceTransition: true, NamespaceUser: true,
		NamespaceTenant: true, NamespaceNow: true, NamespaceContext: true,
	},
}

// Validate statically checks the document: operator whitelist,
// reference path shape, namespace legality for the document kind, and
// type consistency. A document that validates cleanly cannot produce
// a type error at evaluation time except through dynamically typed
// object/context references.
func (d *Document) Validate() error {
	switch d.Kind {
	case KindGuard, KindSecurityRule, KindTimerRule:
		t, err := typeOf(d.Root, d.Kind)
		if err != nil {
			return err
		}
		if t != TypeBool && t != TypeAny {
			return &ValidationError{Op: d.Root.Op, Message: fmt.Sprintf("%s root must be boolean, got %s", d.Kind, t)}
		}
		return nil
	case KindActions:
		for _, a := range d.Actions {
			if err := validateAction(a); err != nil {
				return err
			}
		}
		return nil
	default:
		return &ValidationError{Message: fmt.Sprintf("unknown document kind %q", d.Kind)}
	}
}

// typeOf returns the static type of an expression node, checking
// arity, operand types, and reference legality as it recurses.
func typeOf(e *Expr, kind Kind) (Type, error) {
	if e == nil {
		return "", &ValidationError{Message: "missing expression node"}
	}
	switch e.Op {
	case OpLit:
		return literalType(e.Value)
	case OpDur:
		return TypeDuration, nil
	case OpRef:
		return refType(e.Path, kind)

	case OpAnd, OpOr:
		if len(e.Args) < 2 {
			return "", &ValidationError{Op: e.Op, Message: "needs at least two operands"}
		}
		for _, a := range e.Args {
			t, err := typeOf(a, kind)
			if err != nil {
				return "", err
			}
			if t != TypeBool && t != TypeAny {
				return "", &ValidationError{Op: e.Op, Message: fmt.Sprintf("operand must be boolean, got %s", t)}
			}
		}
		return TypeBool, nil

	case OpNot:
		if len(e.Args) != 1 {
			return "", &ValidationError{Op: OpNot, Message: "takes exactly one operand"}
		}
		t, err := typeOf(e.Args[0], kind)
		if err != nil {
			return "", err
		}
		if t != TypeBool && t != TypeAny {
			return "", &ValidationError{Op: OpNot, Message: fmt.Sprintf("operand must be boolean, got %s", t)}
		}
		return TypeBool, nil

	case OpEq, OpNe:
		lt, rt, err := binaryTypes(e, kind)
		if err != nil {
			return "", err
		}
		if !comparable(lt, rt) {
			return "", &ValidationError{Op: e.Op, Message: fmt.Sprintf("cannot compare %s with %s", lt, rt)}
		}
		return TypeBool, nil

	case OpLt, OpLe, OpGt, OpGe:
		lt, rt, err := binaryTypes(e, kind)
		if err != nil {
			return "", err
		}
		if !ordered(lt) || !ordered(rt) || !comparable(lt, rt) {
			return "", &ValidationError{Op: e.Op, Message: fmt.Sprintf("cannot order %s against %s", lt, rt)}
		}
		return TypeBool, nil

	case OpIn:
		lt, rt, err := binaryTypes(e, kind)
		if err != nil {
			return "", err
		}
		_ = lt
		if rt != TypeList && rt != TypeAny {
			return "", &ValidationError{Op: OpIn, Message: fmt.Sprintf("right operand must be a list, got %s", rt)}
		}
		return TypeBool, nil

	case OpExists:
		if len(e.Args) != 1 || e.Args[0].Op != OpRef {
			return "", &ValidationError{Op: OpExists, Message: "takes exactly one reference operand"}
		}
		if _, err := refType(e.Args[0].Path, kind); err != nil {
			return "", err
		}
		return TypeBool, nil

	case OpAdd, OpSub:
		lt, rt, err := binaryTypes(e, kind)
		if err != nil {
			return "", err
		}
		return additiveType(e.Op, lt, rt)

	case OpMul, OpDiv:
		lt, rt, err := binaryTypes(e, kind)
		if err != nil {
			return "", err
		}
		switch {
		case lt == TypeAny || rt == TypeAny:
			return TypeAny, nil
		case lt == TypeNumber && rt == TypeNumber:
			return TypeNumber, nil
		case lt == TypeDuration && rt == TypeNumber:
			return TypeDuration, nil
		default:
			return "", &ValidationError{Op: e.Op, Message: fmt.Sprintf("cannot apply to %s and %s", lt, rt)}
		}

	case OpStartsWith, OpContains:
		lt, rt, err := binaryTypes(e, kind)
		if err != nil {
			return "", err
		}
		if (lt != TypeString && lt != TypeAny) || (rt != TypeString && rt != TypeAny) {
			return "", &ValidationError{Op: e.Op, Message: fmt.Sprintf("operands must be strings, got %s and %s", lt, rt)}
		}
		return TypeBool, nil
	}
	return "", &ValidationError{Op: e.Op, Message: "operator not in whitelist"}
}

func binaryTypes(e *Expr, kind Kind) (Type, Type, error) {
	if len(e.Args) != 2 {
		return "", "", &ValidationError{Op: e.Op, Message: "takes exactly two operands"}
	}
	lt, err := typeOf(e.Args[0], kind)
	if err != nil {
		return "", "", err
	}
	rt, err := typeOf(e.Args[1], kind)
	if err != nil {
		return "", "", err
	}
	return lt, rt, nil
}

func additiveType(op Op, lt, rt Type) (Type, error) {
	switch {
	case lt == TypeAny || rt == TypeAny:
		return TypeAny, nil
	case lt == TypeNumber && rt == TypeNumber:
		return TypeNumber, nil
	case lt == TypeDuration && rt == TypeDuration:
		return TypeDuration, nil
	case lt == TypeTime && rt == TypeDuration:
		return TypeTime, nil
	case op == OpSub && lt == TypeTime && rt == TypeTime:
		return TypeDuration, nil
	default:
		return "", &ValidationError{Op: op, Message: fmt.Sprintf("cannot apply to %s and %s", lt, rt)}
	}
}

func literalType(v interface{}) (Type, error) {
	switch v.(type) {
	case bool:
		return TypeBool, nil
	case float64:
		return TypeNumber, nil
	case string:
		return TypeString, nil
	case []interface{}:
		return TypeList, nil
	case nil:
		return TypeAny, nil
	default:
		return "", &ValidationError{Op: OpLit, Message: "unsupported literal type"}
	}
}

func comparable(a, b Type) bool {
	return a == TypeAny || b == TypeAny || a == b
}

func ordered(t Type) bool {
	switch t {
	case TypeNumber, TypeDuration, TypeTime, TypeString, TypeAny:
		return true
	}
	return false
}

// refType checks the reference path against the namespace whitelist
// for the document kind and returns its static type. transition, user,
// tenant, and now have fixed fields; object and context are
// dynamically typed.
func refType(path string, kind Kind) (Type, error) {
	ns, rest, _ := strings.Cut(path, ".")
	allowed := kindNamespaces[kind]
	if allowed == nil || !allowed[Namespace(ns)] {
		return "", &ValidationError{Path: path, Message: fmt.Sprintf("namespace %q not allowed for %s", ns, kind)}
	}
	switch Namespace(ns) {
	case NamespaceObject, NamespaceContext:
		if rest == "" {
			return "", &ValidationError{Path: path, Message: "reference path has no field"}
		}
		return TypeAny, nil
	case NamespaceTransition:
		switch rest {
		case "from", "to", "code":
			return TypeString, nil
		}
	case NamespaceUser:
		switch {
		case rest == "id":
			return TypeString, nil
		case rest == "roles":
			return TypeList, nil
		case strings.HasPrefix(rest, "claims.") && len(rest) > len("claims."):
			return TypeString, nil
		}
	case NamespaceTenant:
		if rest == "id" {
			return TypeString, nil
		}
	case NamespaceNow:
		if rest == "utc" {
			return TypeTime, nil
		}
	}
	return "", &ValidationError{Path: path, Message: "unknown reference path"}
}

// validateAction checks one top-level action directive.
func validateAction(a *Expr) error {
	switch a.Op {
	case OpEmitEvent:
		if len(a.Args) < 1 {
			return &ValidationError{Op: OpEmitEvent, Message: "missing event type code"}
		}
		if err := requireLitString(a.Args[0], OpEmitEvent, "event type code"); err != nil {
			return err
		}
		for _, p := range a.Args[1:] {
			if p.Op != OpPair || len(p.Args) != 2 {
				return &ValidationError{Op: OpEmitEvent, Message: "payload entries must be pairs"}
			}
			if err := requireLitString(p.Args[0], OpPair, "payload name"); err != nil {
				return err
			}
			if _, err := typeOf(p.Args[1], KindActions); err != nil {
				return err
			}
		}
		return nil

	case OpSetField:
		if len(a.Args) != 2 {
			return &ValidationError{Op: OpSetField, Message: "takes a path and a value expression"}
		}
		if err := requireLitString(a.Args[0], OpSetField, "field path"); err != nil {
			return err
		}
		_, err := typeOf(a.Args[1], KindActions)
		return err

	case OpStartTimer, OpStopTimer:
		if len(a.Args) != 1 {
			return &ValidationError{Op: a.Op, Message: "takes exactly one policy code"}
		}
		return requireLitString(a.Args[0], a.Op, "policy code")

	case OpEnqueueEscalation:
		if len(a.Args) != 3 {
			return &ValidationError{Op: OpEnqueueEscalation, Message: "takes signal code, severity, assignee"}
		}
		if err := requireLitString(a.Args[0], OpEnqueueEscalation, "signal code"); err != nil {
			return err
		}
		for _, arg := range a.Args[1:] {
			if _, err := typeOf(arg, KindActions); err != nil {
				return err
			}
		}
		return nil
	}
	return &ValidationError{Op: a.Op, Message: "not an action operator"}
}

func requireLitString(e *Expr, op Op, what string) error {
	if e.Op != OpLit {
		return &ValidationError{Op: op, Message: what + " must be a string literal"}
	}
	s, ok := e.Value.(string)
	if !ok || s == "" {
		return &ValidationError{Op: op, Message: what + " must be a non-empty string"}
	}
	return nil
}
