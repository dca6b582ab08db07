// Package workflow implements the finite-state engine at the core of
// FlowPlane. It consumes catalog definitions, authorizes transitions
// through role sets and DSL guards, commits state changes under
// optimistic concurrency, and writes every effect to the hash-chained
// journal inside the same transaction as the state change itself.
//
// RequestTransition returns one of three outcomes: Committed with the
// new state, Denied with a stable reason code, or Conflict when a
// concurrent caller won the commit race. Conflicts are never retried
// internally; RetryTransition offers a bounded caller-side retry loop
// for workloads where replaying the request is known to be safe.
package workflow
