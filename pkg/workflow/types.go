package workflow

import (
	"context"
	"database/sql"

	"github.com/flowplane/flowplane/pkg/catalog"
	"github.com/flowplane/flowplane/pkg/dsl"
	"github.com/flowplane/flowplane/pkg/stores"
)

// Outcome is the result category of a transition request.
type Outcome string

const (
	// OutcomeCommitted means the transition was applied and is durable.
	OutcomeCommitted Outcome = "committed"

	// OutcomeDenied means the request was rejected by authorization or
	// rule evaluation. Nothing was written.
	OutcomeDenied Outcome = "denied"

	// OutcomeConflict means a concurrent request won the commit race.
	// Nothing was written; the caller may re-read and retry.
	OutcomeConflict Outcome = "conflict"
)

// DenyReason is the stable reason code attached to a denied outcome.
type DenyReason string

const (
	// DenyReasonRole means the actor holds none of the transition's
	// authorized roles.
	DenyReasonRole DenyReason = "role"

	// DenyReasonGuard means the guard evaluated to false or failed to
	// evaluate.
	DenyReasonGuard DenyReason = "guard"

	// DenyReasonAction means the action list failed to evaluate, so
	// the transition was aborted before any write.
	DenyReasonAction DenyReason = "action"
)

// Request describes one transition attempt.
type Request struct {
	// WorkflowCode selects the workflow definition.
	WorkflowCode string `json:"workflow_code"`

	// TenantID is the owning tenant.
	TenantID string `json:"tenant_id"`

	// EntityRef identifies the tracked entity.
	EntityRef string `json:"entity_ref"`

	// TransitionCode selects the edge to follow.
	TransitionCode string `json:"transition_code"`

	// Actor is the requesting caller.
	Actor dsl.Actor `json:"actor"`

	// Fields seeds the instance snapshot when this request creates the
	// instance through an entry transition. Ignored for existing
	// instances.
	Fields map[string]interface{} `json:"fields,omitempty"`

	// Context is the caller-supplied key/value map exposed to guards
	// and actions under the context namespace.
	Context map[string]interface{} `json:"context,omitempty"`
}

// Result is the outcome of one transition request. A Result is only
// returned for requests that ran to a decision; malformed requests
// (unknown workflow, no such edge) return an error instead.
type Result struct {
	// Outcome is the result category.
	Outcome Outcome `json:"outcome"`

	// NewState is the committed state, set only for committed outcomes.
	NewState string `json:"new_state,omitempty"`

	// Reason is the denial reason, set only for denied outcomes.
	Reason DenyReason `json:"reason,omitempty"`

	// Version is the instance version after the request: the committed
	// version for committed outcomes, the version read for denials.
	Version int64 `json:"version,omitempty"`
}

// TimerHook is the SLA engine's seam into the transition commit. All
// methods run inside the transition's transaction so timer effects
// are atomic with the state change; returning an error aborts the
// whole transition.
type TimerHook interface {
	// OnTransition evaluates every policy bound to the committed
	// transition for start/stop rule satisfaction.
	OnTransition(ctx context.Context, tx *sql.Tx, def *catalog.Definition, inst *stores.WorkflowInstance, ec *dsl.EvaluationContext) error

	// StartTimer starts the named policy's timer for the instance,
	// fired by an explicit start_timer action.
	StartTimer(ctx context.Context, tx *sql.Tx, def *catalog.Definition, policyCode string, inst *stores.WorkflowInstance, actor dsl.Actor) error

	// StopTimer stops the named policy's timer for the instance,
	// fired by an explicit stop_timer action.
	StopTimer(ctx context.Context, tx *sql.Tx, policyCode string, inst *stores.WorkflowInstance, actor dsl.Actor) error
}
