package dsl

import (
	"fmt"
	"strings"
	"time"

	"github.com/oliveagle/jsonpath"
)

// TransitionRef identifies the transition being evaluated.
type TransitionRef struct {
	// From is the source state code, empty for entry transitions.
	From string `json:"from"`

	// To is the target state code.
	To string `json:"to"`

	// Code is the stable transition code.
	Code string `json:"code"`
}

// Actor identifies the caller requesting a transition.
type Actor struct {
	// ID is the actor's stable identifier.
	ID string `json:"id"`

	// Roles are the actor's role codes.
	Roles []string `json:"roles"`

	// Claims are additional key/value assertions about the actor.
	Claims map[string]string `json:"claims,omitempty"`
}

// HasRole reports whether the actor holds the given role.
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// EvaluationContext is the bundle of values an expression is
// evaluated against. Evaluation reads only this context; it performs
// no I/O, so evaluation of the same tree against the same context is
// always identical.
type EvaluationContext struct {
	// Object is the current instance snapshot (runtime fields).
	Object map[string]interface{}

	// Transition is the transition being attempted, zero for
	// non-transition evaluations such as sweep-side timer rules.
	Transition TransitionRef

	// User is the requesting actor, zero when no actor applies.
	User Actor

	// TenantID is the owning tenant.
	TenantID string

	// Now is the evaluation instant in UTC.
	Now time.Time

	// Context is the caller-supplied key/value map.
	Context map[string]interface{}
}

// Resolve resolves a dotted reference path against the context. The
// first segment selects the namespace; object and context paths may
// descend into nested maps. A missing or malformed path returns an
// EvaluationError — references never silently default.
func (c *EvaluationContext) Resolve(path string) (interface{}, error) {
	ns, rest, _ := strings.Cut(path, ".")
	switch Namespace(ns) {
	case NamespaceObject:
		return lookupNested(c.Object, rest, path)
	case NamespaceContext:
		return lookupNested(c.Context, rest, path)
	case NamespaceTransition:
		switch rest {
		case "from":
			return c.Transition.From, nil
		case "to":
			return c.Transition.To, nil
		case "code":
			return c.Transition.Code, nil
		}
	case NamespaceUser:
		switch {
		case rest == "id":
			return c.User.ID, nil
		case rest == "roles":
			roles := make([]interface{}, len(c.User.Roles))
			for i, r := range c.User.Roles {
				roles[i] = r
			}
			return roles, nil
		case strings.HasPrefix(rest, "claims."):
			key := strings.TrimPrefix(rest, "claims.")
			if v, ok := c.User.Claims[key]; ok {
				return v, nil
			}
			return nil, &EvaluationError{Path: path, Message: "unknown claim"}
		}
	case NamespaceTenant:
		if rest == "id" {
			return c.TenantID, nil
		}
	case NamespaceNow:
		if rest == "utc" {
			return c.Now.UTC(), nil
		}
	}
	return nil, &EvaluationError{Path: path, Message: "unresolvable reference"}
}

// lookupNested resolves a dotted sub-path inside a snapshot map via
// jsonpath, which handles nested maps and list indexing.
func lookupNested(data map[string]interface{}, rest, full string) (interface{}, error) {
	if rest == "" {
		return nil, &EvaluationError{Path: full, Message: "reference path has no field"}
	}
	if data == nil {
		return nil, &EvaluationError{Path: full, Message: "unresolvable reference"}
	}
	v, err := jsonpath.JsonPathLookup(data, "$."+rest)
	if err != nil {
		return nil, &EvaluationError{Path: full, Message: fmt.Sprintf("unresolvable reference: %v", err)}
	}
	return v, nil
}
