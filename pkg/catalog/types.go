package catalog

import (
	"github.com/flowplane/flowplane/pkg/dsl"
)

// WorkflowDefinition is the YAML shape of one lifecycle definition.
// Guard, action, and timer rules are embedded as canonical DSL
// document JSON; that is the only persisted form of a rule.
type WorkflowDefinition struct {
	Code        string       `yaml:"code" validate:"required"`
	Name        string       `yaml:"name" validate:"required"`
	EntityType  string       `yaml:"entity_type" validate:"required"`
	Version     int          `yaml:"version" validate:"required,min=1"`
	States      []State      `yaml:"states" validate:"required,min=1,dive"`
	Transitions []Transition `yaml:"transitions" validate:"required,min=1,dive"`
	SlaPolicies []SlaPolicy  `yaml:"sla_policies,omitempty" validate:"dive"`
}

// State is a named node in a definition. Exactly one state per
// definition carries is_start.
type State struct {
	Code       string `yaml:"code" validate:"required"`
	Name       string `yaml:"name"`
	IsStart    bool   `yaml:"is_start"`
	IsTerminal bool   `yaml:"is_terminal"`
}

// Transition is a directed edge. An empty From marks an entry
// transition, usable only to create an instance in the start state.
type Transition struct {
	Code  string   `yaml:"code" validate:"required"`
	From  string   `yaml:"from"`
	To    string   `yaml:"to" validate:"required"`
	// Roles lists the roles allowed to request the transition. An
	// empty list leaves the transition open to any actor.
	Roles []string `yaml:"roles"`

	// Guard is a canonical guard document; empty means unconditional.
	Guard string `yaml:"guard,omitempty"`
	// Actions is a canonical actions document executed on commit.
	Actions string `yaml:"actions,omitempty"`

	guardDoc  *dsl.Document
	actionDoc *dsl.Document
}

// GuardDoc returns the parsed guard, or nil for an unconditional
// transition.
func (t *Transition) GuardDoc() *dsl.Document { return t.guardDoc }

// ActionDoc returns the parsed action list, or nil when the
// transition has no actions.
func (t *Transition) ActionDoc() *dsl.Document { return t.actionDoc }

// IsEntry reports whether the transition creates instances.
func (t *Transition) IsEntry() bool { return t.From == "" }

// SlaPolicy binds target/warn durations and DSL start/stop rules to
// a workflow, optionally narrowed to one transition.
type SlaPolicy struct {
	Code          string `yaml:"code" validate:"required"`
	Name          string `yaml:"name"`
	TargetMinutes int    `yaml:"target_minutes" validate:"required,min=1"`
	WarnMinutes   int    `yaml:"warn_minutes" validate:"min=0"`
	// Transition narrows rule evaluation to one edge; empty means the
	// rules are evaluated on every committed transition.
	Transition string `yaml:"transition,omitempty"`

	// StartRule and StopRule are canonical timer_rule documents.
	StartRule string `yaml:"start_rule" validate:"required"`
	StopRule  string `yaml:"stop_rule,omitempty"`
	// Escalation is a canonical actions document run when the timer
	// warns or breaches.
	Escalation string `yaml:"escalation,omitempty"`

	startDoc      *dsl.Document
	stopDoc       *dsl.Document
	escalationDoc *dsl.Document
}

// StartDoc returns the parsed start rule.
func (p *SlaPolicy) StartDoc() *dsl.Document { return p.startDoc }

// StopDoc returns the parsed stop rule, or nil when the timer only
// stops by reaching a terminal state.
func (p *SlaPolicy) StopDoc() *dsl.Document { return p.stopDoc }

// EscalationDoc returns the parsed escalation action list, or nil.
func (p *SlaPolicy) EscalationDoc() *dsl.Document { return p.escalationDoc }

// Definition is a loaded, validated workflow definition with lookup
// indexes resolved. Immutable after load.
type Definition struct {
	WorkflowDefinition

	startState  string
	states      map[string]*State
	transitions map[transitionKey]*Transition
	entries     map[string]*Transition
}

type transitionKey struct {
	from string
	code string
}

// StartState returns the code of the definition's start state.
func (d *Definition) StartState() string { return d.startState }

// State looks up a state by code.
func (d *Definition) State(code string) (*State, bool) {
	s, ok := d.states[code]
	return s, ok
}

// Resolve finds the transition with the given code leaving the given
// state.
func (d *Definition) Resolve(fromState, code string) (*Transition, bool) {
	t, ok := d.transitions[transitionKey{from: fromState, code: code}]
	return t, ok
}

// Entry finds an entry transition by code.
func (d *Definition) Entry(code string) (*Transition, bool) {
	t, ok := d.entries[code]
	return t, ok
}

// PoliciesFor returns the SLA policies that apply to a committed
// transition: those bound to the transition's code plus the unbound
// workflow-wide ones.
func (d *Definition) PoliciesFor(transitionCode string) []*SlaPolicy {
	var out []*SlaPolicy
	for i := range d.SlaPolicies {
		p := &d.SlaPolicies[i]
		if p.Transition == "" || p.Transition == transitionCode {
			out = append(out, p)
		}
	}
	return out
}

// Policy looks up an SLA policy by code.
func (d *Definition) Policy(code string) (*SlaPolicy, bool) {
	for i := range d.SlaPolicies {
		if d.SlaPolicies[i].Code == code {
			return &d.SlaPolicies[i], true
		}
	}
	return nil, false
}
