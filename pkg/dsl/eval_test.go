package dsl

import (
	"errors"
	"testing"
	"time"
)

func testContext() *EvaluationContext {
	return &EvaluationContext{
		Object: map[string]interface{}{
			"CaseNumber": "C-1042",
			"Priority":   3.0,
			"Nested":     map[string]interface{}{"Owner": "team-a"},
		},
		Transition: TransitionRef{From: "Draft", To: "Submitted", Code: "submit"},
		User:       Actor{ID: "u1", Roles: []string{"Agent", "Supervisor"}, Claims: map[string]string{"region": "emea"}},
		TenantID:   "t1",
		Now:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Context:    map[string]interface{}{"channel": "web"},
	}
}

func evalGuard(t *testing.T, doc string, ctx *EvaluationContext) (bool, error) {
	t.Helper()
	d := mustParse(t, doc)
	if err := d.Validate(); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	return d.EvalBool(ctx)
}

func TestEvaluateReferences(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want bool
	}{
		{
			"object field",
			`{"kind":"guard","version":1,"root":{"op":"eq","args":[{"op":"ref","args":["object.CaseNumber"]},{"op":"lit","args":["C-1042"]}]}}`,
			true,
		},
		{
			"nested object field",
			`{"kind":"guard","version":1,"root":{"op":"eq","args":[{"op":"ref","args":["object.Nested.Owner"]},{"op":"lit","args":["team-a"]}]}}`,
			true,
		},
		{
			"transition code",
			`{"kind":"guard","version":1,"root":{"op":"eq","args":[{"op":"ref","args":["transition.code"]},{"op":"lit","args":["submit"]}]}}`,
			true,
		},
		{
			"role membership",
			`{"kind":"guard","version":1,"root":{"op":"in","args":[{"op":"lit","args":["Supervisor"]},{"op":"ref","args":["user.roles"]}]}}`,
			true,
		},
		{
			"claim",
			`{"kind":"guard","version":1,"root":{"op":"eq","args":[{"op":"ref","args":["user.claims.region"]},{"op":"lit","args":["emea"]}]}}`,
			true,
		},
		{
			"tenant",
			`{"kind":"guard","version":1,"root":{"op":"ne","args":[{"op":"ref","args":["tenant.id"]},{"op":"lit","args":["t2"]}]}}`,
			true,
		},
		{
			"caller context",
			`{"kind":"guard","version":1,"root":{"op":"eq","args":[{"op":"ref","args":["context.channel"]},{"op":"lit","args":["web"]}]}}`,
			true,
		},
		{
			"numeric comparison",
			`{"kind":"guard","version":1,"root":{"op":"ge","args":[{"op":"ref","args":["object.Priority"]},{"op":"lit","args":[2]}]}}`,
			true,
		},
		{
			"string prefix",
			`{"kind":"guard","version":1,"root":{"op":"starts_with","args":[{"op":"ref","args":["object.CaseNumber"]},{"op":"lit","args":["C-"]}]}}`,
			true,
		},
		{
			"negation",
			`{"kind":"guard","version":1,"root":{"op":"not","args":[{"op":"eq","args":[{"op":"ref","args":["user.id"]},{"op":"lit","args":["u2"]}]}]}}`,
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evalGuard(t, tt.doc, testContext())
			if err != nil {
				t.Fatalf("evaluation failed: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluationIsDeterministic(t *testing.T) {
	doc := `{"kind":"guard","version":1,"root":{"op":"and","args":[{"op":"exists","args":[{"op":"ref","args":["object.CaseNumber"]}]},{"op":"gt","args":[{"op":"ref","args":["object.Priority"]},{"op":"lit","args":[1]}]}]}}`
	ctx := testContext()
	first, err := evalGuard(t, doc, ctx)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	for i := 0; i < 100; i++ {
		got, err := evalGuard(t, doc, ctx)
		if err != nil {
			t.Fatalf("evaluation %d failed: %v", i, err)
		}
		if got != first {
			t.Fatalf("evaluation %d returned %v, first returned %v", i, got, first)
		}
	}
}

func TestUnresolvableReferenceFails(t *testing.T) {
	doc := `{"kind":"guard","version":1,"root":{"op":"eq","args":[{"op":"ref","args":["object.NoSuchField"]},{"op":"lit","args":["x"]}]}}`
	_, err := evalGuard(t, doc, testContext())
	if err == nil {
		t.Fatal("expected evaluation error for unresolvable reference")
	}
	var everr *EvaluationError
	if !errors.As(err, &everr) {
		t.Fatalf("expected EvaluationError, got %T", err)
	}
}

func TestExistsAbsorbsMissingReference(t *testing.T) {
	present := `{"kind":"guard","version":1,"root":{"op":"exists","args":[{"op":"ref","args":["object.CaseNumber"]}]}}`
	absent := `{"kind":"guard","version":1,"root":{"op":"exists","args":[{"op":"ref","args":["object.NoSuchField"]}]}}`

	got, err := evalGuard(t, present, testContext())
	if err != nil || !got {
		t.Fatalf("exists(present) = %v, %v; want true, nil", got, err)
	}
	got, err = evalGuard(t, absent, testContext())
	if err != nil || got {
		t.Fatalf("exists(absent) = %v, %v; want false, nil", got, err)
	}
}

func TestShortCircuitSkipsUnresolvable(t *testing.T) {
	// and/or evaluate operands in order and stop as soon as the result
	// is decided, so a later unresolvable reference is never touched.
	doc := `{"kind":"guard","version":1,"root":{"op":"or","args":[{"op":"lit","args":[true]},{"op":"eq","args":[{"op":"ref","args":["object.Missing"]},{"op":"lit","args":[1]}]}]}}`
	got, err := evalGuard(t, doc, testContext())
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if !got {
		t.Fatal("expected true")
	}
}

func TestDurationArithmetic(t *testing.T) {
	ctx := testContext()
	ctx.Object["StartedUTC"] = ctx.Now.Add(-30 * time.Minute)
	doc := `{"kind":"timer_rule","version":1,"root":{"op":"gt","args":[{"op":"sub","args":[{"op":"ref","args":["now.utc"]},{"op":"ref","args":["object.StartedUTC"]}]},{"op":"dur","args":["15m"]}]}}`
	got, err := evalGuard(t, doc, ctx)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if !got {
		t.Fatal("expected 30m elapsed > 15m")
	}
}

func TestDivisionByZeroFails(t *testing.T) {
	doc := `{"kind":"guard","version":1,"root":{"op":"gt","args":[{"op":"div","args":[{"op":"lit","args":[1]},{"op":"lit","args":[0]}]},{"op":"lit","args":[0]}]}}`
	if _, err := evalGuard(t, doc, testContext()); err == nil {
		t.Fatal("expected division by zero error")
	}
}

func TestEvalActions(t *testing.T) {
	doc := `{
		"kind": "actions",
		"version": 1,
		"root": [
			{"op": "emit_event", "args": [
				{"op": "lit", "args": ["case.submitted"]},
				{"op": "pair", "args": [{"op": "lit", "args": ["by"]}, {"op": "ref", "args": ["user.id"]}]},
				{"op": "pair", "args": [{"op": "lit", "args": ["case"]}, {"op": "ref", "args": ["object.CaseNumber"]}]}
			]},
			{"op": "set_field", "args": [{"op": "lit", "args": ["SubmittedBy"]}, {"op": "ref", "args": ["user.id"]}]},
			{"op": "start_timer", "args": [{"op": "lit", "args": ["review-sla"]}]},
			{"op": "enqueue_escalation", "args": [
				{"op": "lit", "args": ["sla.breach"]},
				{"op": "lit", "args": [2]},
				{"op": "ref", "args": ["object.Nested.Owner"]}
			]}
		]
	}`
	d := mustParse(t, doc)
	if err := d.Validate(); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	effects, err := d.EvalActions(testContext())
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	if len(effects) != 4 {
		t.Fatalf("expected 4 effects, got %d", len(effects))
	}
	if effects[0].Kind != EffectEmitEvent || effects[0].EventType != "case.submitted" {
		t.Fatalf("unexpected first effect: %+v", effects[0])
	}
	if effects[0].Payload["by"] != "u1" || effects[0].Payload["case"] != "C-1042" {
		t.Fatalf("unexpected payload: %+v", effects[0].Payload)
	}
	if effects[1].Kind != EffectSetField || effects[1].FieldPath != "SubmittedBy" || effects[1].Value != "u1" {
		t.Fatalf("unexpected second effect: %+v", effects[1])
	}
	if effects[2].PolicyCode != "review-sla" {
		t.Fatalf("unexpected third effect: %+v", effects[2])
	}
	if effects[3].Severity != "2" || effects[3].Assignee != "team-a" {
		t.Fatalf("unexpected escalation effect: %+v", effects[3])
	}
}

func TestEvalActionsAbortsOnFailure(t *testing.T) {
	doc := `{
		"kind": "actions",
		"version": 1,
		"root": [
			{"op": "start_timer", "args": [{"op": "lit", "args": ["review-sla"]}]},
			{"op": "set_field", "args": [{"op": "lit", "args": ["X"]}, {"op": "ref", "args": ["object.Missing"]}]}
		]
	}`
	d := mustParse(t, doc)
	effects, err := d.EvalActions(testContext())
	if err == nil {
		t.Fatal("expected evaluation error")
	}
	if effects != nil {
		t.Fatalf("expected no partial effects, got %d", len(effects))
	}
}
