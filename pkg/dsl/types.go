package dsl

import (
	"time"
)

// Op identifies a node operator. The set of operators is a closed
// whitelist; parsing rejects anything else.
type Op string

const (
	// OpLit is a literal leaf. args holds exactly one JSON scalar or
	// list of scalars.
	OpLit Op = "lit"

	// OpDur is a duration literal leaf. args holds one string in Go
	// duration syntax (e.g. "15m").
	OpDur Op = "dur"

	// OpRef is a reference leaf. args holds one dotted path rooted at
	// a namespace (e.g. "object.CaseNumber").
	OpRef Op = "ref"

	// Comparison operators.
	OpEq Op = "eq"
	OpNe Op = "ne"
	OpLt Op = "lt"
	OpLe Op = "le"
	OpGt Op = "gt"
	OpGe Op = "ge"

	// Boolean operators.
	OpAnd Op = "and"
	OpOr  Op = "or"
	OpNot Op = "not"

	// OpIn tests membership of a scalar in a list.
	OpIn Op = "in"

	// OpExists tests whether a reference resolves to a non-null value.
	OpExists Op = "exists"

	// Arithmetic on numbers, durations, and time+duration.
	OpAdd Op = "add"
	OpSub Op = "sub"
	OpMul Op = "mul"
	OpDiv Op = "div"

	// String operators.
	OpStartsWith Op = "starts_with"
	OpContains   Op = "contains"
)

// Action operators. Actions share the {op, args} node shape with
// expressions but are side-effecting directives, executed in list
// order by the workflow engine.
const (
	// OpEmitEvent emits a domain event. args: lit(eventTypeCode)
	// followed by zero or more pair(lit(name), expr) payload entries.
	OpEmitEvent Op = "emit_event"

	// OpSetField updates a runtime field on the instance snapshot.
	// args: lit(path), valueExpr.
	OpSetField Op = "set_field"

	// OpStartTimer starts the SLA timer for a policy. args:
	// lit(policyCode).
	OpStartTimer Op = "start_timer"

	// OpStopTimer stops the SLA timer for a policy. args:
	// lit(policyCode).
	OpStopTimer Op = "stop_timer"

	// OpEnqueueEscalation enqueues an escalation work item. args:
	// lit(signalCode), severityExpr, assigneeExpr.
	OpEnqueueEscalation Op = "enqueue_escalation"

	// OpPair is a structural node pairing a lit(name) with a value
	// expression inside emit_event payloads.
	OpPair Op = "pair"
)

// Kind selects which reference namespaces and compilation template
// apply to a document.
type Kind string

const (
	// KindGuard is a boolean expression gating a workflow transition.
	KindGuard Kind = "guard"

	// KindSecurityRule is a boolean expression compiled into backend
	// policy tables.
	KindSecurityRule Kind = "security_rule"

	// KindTimerRule is a boolean expression deciding SLA timer
	// start/stop.
	KindTimerRule Kind = "timer_rule"

	// KindActions is an ordered action list bound to a transition or
	// an escalation rule.
	KindActions Kind = "actions"
)

// DocumentVersion is the canonical document version this package
// reads and writes.
const DocumentVersion = 1

// Type is the static type of an expression node, determined at
// validation time.
type Type string

const (
	TypeBool     Type = "bool"
	TypeNumber   Type = "number"
	TypeString   Type = "string"
	TypeDuration Type = "duration"
	TypeTime     Type = "time"
	TypeList     Type = "list"

	// TypeAny is assigned to object.* and context.* references, whose
	// concrete type is only known at evaluation time.
	TypeAny Type = "any"
)

// Expr is one node of a rule syntax tree.
type Expr struct {
	// Op is the node operator.
	Op Op `json:"op"`

	// Args are the child nodes, empty for leaves.
	Args []*Expr `json:"args,omitempty"`

	// Value holds the literal for OpLit nodes: bool, float64, string,
	// or []interface{} of those.
	Value interface{} `json:"-"`

	// Dur holds the parsed duration for OpDur nodes.
	Dur time.Duration `json:"-"`

	// Path holds the dotted reference path for OpRef nodes.
	Path string `json:"-"`
}

// Document is the parsed form of the canonical rule document
// {kind, version, root}. Exactly one of Root and Actions is set:
// Root for expression kinds, Actions for KindActions.
type Document struct {
	// Kind selects the rule kind.
	Kind Kind `json:"kind"`

	// Version is the document format version.
	Version int `json:"version"`

	// Root is the expression tree for guard/security_rule/timer_rule
	// documents.
	Root *Expr `json:"-"`

	// Actions is the ordered directive list for actions documents.
	Actions []*Expr `json:"-"`
}

// Namespace is a reference namespace root.
type Namespace string

const (
	NamespaceObject     Namespace = "object"
	NamespaceTransition Namespace = "transition"
	NamespaceUser       Namespace = "user"
	NamespaceTenant     Namespace = "tenant"
	NamespaceNow        Namespace = "now"
	NamespaceContext    Namespace = "context"
)

// expressionOps is the whitelist for expression positions.
var expressionOps = map[Op]bool{
	OpLit: true, OpDur: true, OpRef: true,
	OpEq: true, OpNe: true, OpLt: true, OpLe: true, OpGt: true, OpGe: true,
	OpAnd: true, OpOr: true, OpNot: true,
	OpIn: true, OpExists: true,
	OpAdd: true, OpSub: true, OpMul: true, OpDiv: true,
	OpStartsWith: true, OpContains: true,
}

// actionOps is the whitelist for top-level action positions.
var actionOps = map[Op]bool{
	OpEmitEvent: true, OpSetField: true,
	OpStartTimer: true, OpStopTimer: true,
	OpEnqueueEscalation: true,
}

// IsExpressionOp reports whether op may appear in an expression tree.
func IsExpressionOp(op Op) bool { return expressionOps[op] }

// IsActionOp reports whether op may appear as a top-level action.
func IsActionOp(op Op) bool { return actionOps[op] }
