package dsl

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func mustParse(t *testing.T, doc string) *Document {
	t.Helper()
	d, err := ParseDocument([]byte(doc))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return d
}

const guardDoc = `{
	"kind": "guard",
	"version": 1,
	"root": {
		"op": "and",
		"args": [
			{"op": "exists", "args": [{"op": "ref", "args": ["object.CaseNumber"]}]},
			{"op": "eq", "args": [{"op": "ref", "args": ["transition.code"]}, {"op": "lit", "args": ["submit"]}]}
		]
	}
}`

func TestParseGuardDocument(t *testing.T) {
	d := mustParse(t, guardDoc)
	if d.Kind != KindGuard {
		t.Fatalf("expected guard kind, got %s", d.Kind)
	}
	if d.Root == nil || d.Root.Op != OpAnd || len(d.Root.Args) != 2 {
		t.Fatalf("unexpected root: %+v", d.Root)
	}
	if d.Root.Args[0].Op != OpExists {
		t.Fatalf("expected exists, got %s", d.Root.Args[0].Op)
	}
	if got := d.Root.Args[0].Args[0].Path; got != "object.CaseNumber" {
		t.Fatalf("unexpected ref path %q", got)
	}
}

func TestParseRejectsUnknownOperator(t *testing.T) {
	_, err := ParseDocument([]byte(`{"kind":"guard","version":1,"root":{"op":"regex_match","args":[]}}`))
	if err == nil {
		t.Fatal("expected parse error for non-whitelisted operator")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestParseRejectsUnknownKind(t *testing.T) {
	_, err := ParseDocument([]byte(`{"kind":"macro","version":1,"root":{"op":"lit","args":[true]}}`))
	if err == nil {
		t.Fatal("expected parse error for unknown kind")
	}
}

func TestParseRejectsWrongVersion(t *testing.T) {
	_, err := ParseDocument([]byte(`{"kind":"guard","version":2,"root":{"op":"lit","args":[true]}}`))
	if err == nil {
		t.Fatal("expected parse error for unsupported version")
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	d := mustParse(t, guardDoc)
	out, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	d2, err := ParseDocument(out)
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	if d.Hash() != d2.Hash() {
		t.Fatal("round trip changed the document hash")
	}

	// The wire form itself must be stable once canonicalized.
	out2, err := json.Marshal(d2)
	if err != nil {
		t.Fatalf("second marshal failed: %v", err)
	}
	if !bytes.Equal(out, out2) {
		t.Fatalf("serialization is not stable:\n%s\n%s", out, out2)
	}
}

func TestHashIgnoresFormatting(t *testing.T) {
	compact := `{"kind":"guard","version":1,"root":{"op":"eq","args":[{"op":"ref","args":["user.id"]},{"op":"lit","args":["u1"]}]}}`
	// Same tree, different key order and whitespace.
	shuffled := `{
		"root": {"args": [{"args": ["user.id"], "op": "ref"}, {"args": ["u1"], "op": "lit"}], "op": "eq"},
		"version": 1,
		"kind": "guard"
	}`
	a := mustParse(t, compact)
	b := mustParse(t, shuffled)
	if a.Hash() != b.Hash() {
		t.Fatalf("hash differs for identical trees: %s vs %s", a.Hash(), b.Hash())
	}
}

func TestHashDistinguishesTrees(t *testing.T) {
	a := mustParse(t, `{"kind":"guard","version":1,"root":{"op":"lit","args":[true]}}`)
	b := mustParse(t, `{"kind":"guard","version":1,"root":{"op":"lit","args":[false]}}`)
	if a.Hash() == b.Hash() {
		t.Fatal("different trees must hash differently")
	}

	// The same root under a different kind is a different document.
	c := mustParse(t, `{"kind":"timer_rule","version":1,"root":{"op":"lit","args":[true]}}`)
	if a.Hash() == c.Hash() {
		t.Fatal("kind must participate in the hash")
	}
}

func TestParseActionsDocument(t *testing.T) {
	doc := `{
		"kind": "actions",
		"version": 1,
		"root": [
			{"op": "emit_event", "args": [
				{"op": "lit", "args": ["case.submitted"]},
				{"op": "pair", "args": [{"op": "lit", "args": ["actor"]}, {"op": "ref", "args": ["user.id"]}]}
			]},
			{"op": "start_timer", "args": [{"op": "lit", "args": ["review-sla"]}]}
		]
	}`
	d := mustParse(t, doc)
	if len(d.Actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(d.Actions))
	}
	if d.Actions[0].Op != OpEmitEvent || d.Actions[1].Op != OpStartTimer {
		t.Fatalf("unexpected action ops: %s, %s", d.Actions[0].Op, d.Actions[1].Op)
	}
	if err := d.Validate(); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
}

func TestParseRejectsExpressionAsAction(t *testing.T) {
	doc := `{"kind":"actions","version":1,"root":[{"op":"eq","args":[{"op":"lit","args":[1]},{"op":"lit","args":[1]}]}]}`
	if _, err := ParseDocument([]byte(doc)); err == nil {
		t.Fatal("expected error for expression in action position")
	}
}

func TestParseDurationLiteral(t *testing.T) {
	d := mustParse(t, `{"kind":"timer_rule","version":1,"root":{"op":"gt","args":[{"op":"sub","args":[{"op":"ref","args":["now.utc"]},{"op":"ref","args":["object.StartedUTC"]}]},{"op":"dur","args":["15m"]}]}}`)
	if err := d.Validate(); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if _, err := ParseDocument([]byte(`{"kind":"guard","version":1,"root":{"op":"dur","args":["fortnight"]}}`)); err == nil {
		t.Fatal("expected error for bad duration literal")
	}
}
