// Package dsl implements the rule expression and action model for the
// FlowPlane engine.
//
// Rules are closed-whitelist syntax trees: every node is an {op, args}
// pair drawn from a fixed operator set, with no loops, no user-defined
// functions, and no arbitrary code execution. This restriction is what
// makes rules auditable, statically checkable, and compilable to
// declarative backend targets.
//
// The package provides four capabilities:
//
//   - Parsing the canonical JSON document form {kind, version, root}
//     into a typed AST, and serializing the AST back losslessly.
//   - Validation: rejecting unknown operators and reference paths and
//     type-checking the tree before it is ever bound to a transition.
//   - Hashing: a stable content hash over the canonical serialization,
//     identical for semantically identical trees regardless of source
//     JSON key order or whitespace.
//   - Evaluation: pure, total evaluation of a validated tree against an
//     EvaluationContext. Evaluation never performs I/O; it only reads
//     the supplied context. Unresolvable references fail the
//     evaluation, they never silently default.
//
// Expressions reference data through six namespaces: object (the
// current instance snapshot), transition (from/to/code), user (id,
// roles, claims), tenant (id), now (utc), and context (caller-supplied
// key/value map).
package dsl
