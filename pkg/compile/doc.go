// Package compile translates validated rule documents into
// backend-specific artifacts: relational predicate text (sql),
// distributed-compute expression text (flink), and policy-table
// modules (rego).
//
// Every backend emitter is a pure function from a validated syntax
// tree to target text; the Compiler holds no backend-specific state,
// so adding a new target is additive and never touches the expression
// model or the workflow engine.
//
// Compilation is best-effort and non-blocking for runtime
// correctness: the workflow engine always evaluates guards and
// actions in-process, and compiled artifacts are an interop surface
// that external consumers may lag behind. A construct a backend
// cannot represent produces a CompileError that is reported to the
// caller, never silently degraded into an always-true or always-false
// guard.
//
// Artifacts are cached by (expression hash, backend). The hash is
// content-addressed, so stale cache entries are structurally
// impossible; the cache TTL only bounds memory.
package compile
