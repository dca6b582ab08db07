package dsl

import (
	"testing"
)

func TestValidateRejectsTypeMismatch(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			"ordering strings against time",
			`{"kind":"guard","version":1,"root":{"op":"lt","args":[{"op":"ref","args":["transition.code"]},{"op":"ref","args":["now.utc"]}]}}`,
		},
		{
			"boolean operand is a string",
			`{"kind":"guard","version":1,"root":{"op":"and","args":[{"op":"lit","args":[true]},{"op":"lit","args":["yes"]}]}}`,
		},
		{
			"non-boolean root",
			`{"kind":"guard","version":1,"root":{"op":"add","args":[{"op":"lit","args":[1]},{"op":"lit","args":[2]}]}}`,
		},
		{
			"in with scalar right operand",
			`{"kind":"guard","version":1,"root":{"op":"in","args":[{"op":"lit","args":["a"]},{"op":"lit","args":["b"]}]}}`,
		},
		{
			"multiplying strings",
			`{"kind":"guard","version":1,"root":{"op":"gt","args":[{"op":"mul","args":[{"op":"lit","args":["a"]},{"op":"lit","args":["b"]}]},{"op":"lit","args":[0]}]}}`,
		},
		{
			"starts_with on numbers",
			`{"kind":"guard","version":1,"root":{"op":"starts_with","args":[{"op":"lit","args":[1]},{"op":"lit","args":[2]}]}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := mustParse(t, tt.doc)
			if err := d.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidateRejectsUnknownReference(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			"unknown namespace",
			`{"kind":"guard","version":1,"root":{"op":"exists","args":[{"op":"ref","args":["session.id"]}]}}`,
		},
		{
			"unknown transition field",
			`{"kind":"guard","version":1,"root":{"op":"eq","args":[{"op":"ref","args":["transition.actor"]},{"op":"lit","args":["x"]}]}}`,
		},
		{
			"bare namespace with no field",
			`{"kind":"guard","version":1,"root":{"op":"exists","args":[{"op":"ref","args":["object"]}]}}`,
		},
		{
			"now without utc",
			`{"kind":"guard","version":1,"root":{"op":"eq","args":[{"op":"ref","args":["now.local"]},{"op":"ref","args":["now.utc"]}]}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := mustParse(t, tt.doc)
			if err := d.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidateKindNamespaces(t *testing.T) {
	// Security rules compile to backend policy tables and see no
	// transition context.
	d := mustParse(t, `{"kind":"security_rule","version":1,"root":{"op":"eq","args":[{"op":"ref","args":["transition.code"]},{"op":"lit","args":["submit"]}]}}`)
	if err := d.Validate(); err == nil {
		t.Fatal("expected transition namespace to be rejected for security_rule")
	}

	// Timer rules run in the sweep where no user applies.
	d = mustParse(t, `{"kind":"timer_rule","version":1,"root":{"op":"eq","args":[{"op":"ref","args":["user.id"]},{"op":"lit","args":["u1"]}]}}`)
	if err := d.Validate(); err == nil {
		t.Fatal("expected user namespace to be rejected for timer_rule")
	}

	// Guards see everything.
	d = mustParse(t, `{"kind":"guard","version":1,"root":{"op":"eq","args":[{"op":"ref","args":["user.id"]},{"op":"lit","args":["u1"]}]}}`)
	if err := d.Validate(); err != nil {
		t.Fatalf("guard validation failed: %v", err)
	}
}

func TestValidateActions(t *testing.T) {
	bad := []struct {
		name string
		doc  string
	}{
		{
			"empty policy code",
			`{"kind":"actions","version":1,"root":[{"op":"start_timer","args":[{"op":"lit","args":[""]}]}]}`,
		},
		{
			"non-literal event code",
			`{"kind":"actions","version":1,"root":[{"op":"emit_event","args":[{"op":"ref","args":["object.Code"]}]}]}`,
		},
		{
			"escalation missing assignee",
			`{"kind":"actions","version":1,"root":[{"op":"enqueue_escalation","args":[{"op":"lit","args":["sig"]},{"op":"lit","args":[1]}]}]}`,
		},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			d := mustParse(t, tt.doc)
			if err := d.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidateAcceptsAnyTypedObjectRefs(t *testing.T) {
	// object.* is dynamically typed; static validation lets it through
	// and evaluation enforces the concrete type.
	d := mustParse(t, `{"kind":"guard","version":1,"root":{"op":"gt","args":[{"op":"ref","args":["object.Priority"]},{"op":"lit","args":[1]}]}}`)
	if err := d.Validate(); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
}
