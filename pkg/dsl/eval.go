package dsl

import (
	"fmt"
	"strings"
	"time"
)

// EvalBool evaluates an expression document against the context and
// requires a boolean result. Used for guards and timer rules.
func (d *Document) EvalBool(ctx *EvaluationContext) (bool, error) {
	if d.Kind == KindActions {
		return false, &EvaluationError{Message: "actions document has no boolean value"}
	}
	v, err := Evaluate(d.Root, ctx)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, &EvaluationError{Op: d.Root.Op, Message: fmt.Sprintf("%s did not evaluate to a boolean", d.Kind)}
	}
	return b, nil
}

// Evaluate evaluates an expression node against the context. It is
// pure: the only inputs are the tree and the context, and identical
// inputs always yield identical outputs.
func Evaluate(e *Expr, ctx *EvaluationContext) (interface{}, error) {
	switch e.Op {
	case OpLit:
		return e.Value, nil
	case OpDur:
		return e.Dur, nil
	case OpRef:
		return ctx.Resolve(e.Path)

	case OpAnd:
		for _, a := range e.Args {
			b, err := evalBoolArg(a, ctx)
			if err != nil {
				return nil, err
			}
			if !b {
				return false, nil
			}
		}
		return true, nil

	case OpOr:
		for _, a := range e.Args {
			b, err := evalBoolArg(a, ctx)
			if err != nil {
				return nil, err
			}
			if b {
				return true, nil
			}
		}
		return false, nil

	case OpNot:
		b, err := evalBoolArg(e.Args[0], ctx)
		if err != nil {
			return nil, err
		}
		return !b, nil

	case OpEq, OpNe:
		l, r, err := evalBinary(e, ctx)
		if err != nil {
			return nil, err
		}
		eq, err := valuesEqual(l, r)
		if err != nil {
			return nil, err
		}
		if e.Op == OpNe {
			return !eq, nil
		}
		return eq, nil

	case OpLt, OpLe, OpGt, OpGe:
		l, r, err := evalBinary(e, ctx)
		if err != nil {
			return nil, err
		}
		c, err := compareValues(e.Op, l, r)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case OpLt:
			return c < 0, nil
		case OpLe:
			return c <= 0, nil
		case OpGt:
			return c > 0, nil
		default:
			return c >= 0, nil
		}

	case OpIn:
		l, r, err := evalBinary(e, ctx)
		if err != nil {
			return nil, err
		}
		list, ok := r.([]interface{})
		if !ok {
			return nil, &EvaluationError{Op: OpIn, Message: "right operand is not a list"}
		}
		for _, item := range list {
			eq, err := valuesEqual(l, item)
			if err != nil {
				return nil, err
			}
			if eq {
				return true, nil
			}
		}
		return false, nil

	case OpExists:
		// exists is the only operator that absorbs resolution
		// failures: an unresolvable reference is simply absent.
		v, err := ctx.Resolve(e.Args[0].Path)
		if err != nil {
			return false, nil
		}
		return v != nil, nil

	case OpAdd, OpSub, OpMul, OpDiv:
		l, r, err := evalBinary(e, ctx)
		if err != nil {
			return nil, err
		}
		return arithmetic(e.Op, l, r)

	case OpStartsWith, OpContains:
		l, r, err := evalBinary(e, ctx)
		if err != nil {
			return nil, err
		}
		ls, ok1 := l.(string)
		rs, ok2 := r.(string)
		if !ok1 || !ok2 {
			return nil, &EvaluationError{Op: e.Op, Message: "operands are not strings"}
		}
		if e.Op == OpStartsWith {
			return strings.HasPrefix(ls, rs), nil
		}
		return strings.Contains(ls, rs), nil
	}
	return nil, &EvaluationError{Op: e.Op, Message: "operator not in whitelist"}
}

func evalBoolArg(e *Expr, ctx *EvaluationContext) (bool, error) {
	v, err := Evaluate(e, ctx)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, &EvaluationError{Op: e.Op, Message: "operand is not a boolean"}
	}
	return b, nil
}

func evalBinary(e *Expr, ctx *EvaluationContext) (interface{}, interface{}, error) {
	l, err := Evaluate(e.Args[0], ctx)
	if err != nil {
		return nil, nil, err
	}
	r, err := Evaluate(e.Args[1], ctx)
	if err != nil {
		return nil, nil, err
	}
	return l, r, nil
}

// valuesEqual compares two runtime values for equality. Numeric
// values compare across int/float representations because object
// snapshots may carry either.
func valuesEqual(l, r interface{}) (bool, error) {
	if ln, lok := toNumber(l); lok {
		if rn, rok := toNumber(r); rok {
			return ln == rn, nil
		}
		return false, nil
	}
	switch lv := l.(type) {
	case string:
		rv, ok := r.(string)
		return ok && lv == rv, nil
	case bool:
		rv, ok := r.(bool)
		return ok && lv == rv, nil
	case time.Time:
		rv, ok := r.(time.Time)
		return ok && lv.Equal(rv), nil
	case time.Duration:
		rv, ok := r.(time.Duration)
		return ok && lv == rv, nil
	case nil:
		return r == nil, nil
	}
	return false, &EvaluationError{Message: fmt.Sprintf("cannot compare %T with %T", l, r)}
}

// compareValues orders two runtime values, returning -1, 0, or 1.
func compareValues(op Op, l, r interface{}) (int, error) {
	if ln, lok := toNumber(l); lok {
		rn, rok := toNumber(r)
		if !rok {
			return 0, &EvaluationError{Op: op, Message: fmt.Sprintf("cannot order number against %T", r)}
		}
		switch {
		case ln < rn:
			return -1, nil
		case ln > rn:
			return 1, nil
		}
		return 0, nil
	}
	switch lv := l.(type) {
	case string:
		rv, ok := r.(string)
		if !ok {
			return 0, &EvaluationError{Op: op, Message: fmt.Sprintf("cannot order string against %T", r)}
		}
		return strings.Compare(lv, rv), nil
	case time.Time:
		rv, ok := r.(time.Time)
		if !ok {
			return 0, &EvaluationError{Op: op, Message: fmt.Sprintf("cannot order time against %T", r)}
		}
		return lv.Compare(rv), nil
	case time.Duration:
		rv, ok := r.(time.Duration)
		if !ok {
			return 0, &EvaluationError{Op: op, Message: fmt.Sprintf("cannot order duration against %T", r)}
		}
		switch {
		case lv < rv:
			return -1, nil
		case lv > rv:
			return 1, nil
		}
		return 0, nil
	}
	return 0, &EvaluationError{Op: op, Message: fmt.Sprintf("type %T is not ordered", l)}
}

func arithmetic(op Op, l, r interface{}) (interface{}, error) {
	if ln, lok := toNumber(l); lok {
		if rn, rok := toNumber(r); rok {
			switch op {
			case OpAdd:
				return ln + rn, nil
			case OpSub:
				return ln - rn, nil
			case OpMul:
				return ln * rn, nil
			case OpDiv:
				if rn == 0 {
					return nil, &EvaluationError{Op: OpDiv, Message: "division by zero"}
				}
				return ln / rn, nil
			}
		}
	}
	if ld, ok := l.(time.Duration); ok {
		switch rv := r.(type) {
		case time.Duration:
			switch op {
			case OpAdd:
				return ld + rv, nil
			case OpSub:
				return ld - rv, nil
			}
		case float64, int, int64:
			n, _ := toNumber(rv)
			switch op {
			case OpMul:
				return time.Duration(float64(ld) * n), nil
			case OpDiv:
				if n == 0 {
					return nil, &EvaluationError{Op: OpDiv, Message: "division by zero"}
				}
				return time.Duration(float64(ld) / n), nil
			}
		}
	}
	if lt, ok := l.(time.Time); ok {
		switch rv := r.(type) {
		case time.Duration:
			switch op {
			case OpAdd:
				return lt.Add(rv), nil
			case OpSub:
				return lt.Add(-rv), nil
			}
		case time.Time:
			if op == OpSub {
				return lt.Sub(rv), nil
			}
		}
	}
	return nil, &EvaluationError{Op: op, Message: fmt.Sprintf("cannot apply to %T and %T", l, r)}
}

func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
