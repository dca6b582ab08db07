package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

const caseLifecycleYAML = `
code: case-lifecycle
name: Case Lifecycle
entity_type: case
version: 1
states:
  - code: draft
    name: Draft
    is_start: true
  - code: submitted
    name: Submitted
  - code: approved
    name: Approved
    is_terminal: true
  - code: rejected
    name: Rejected
    is_terminal: true
transitions:
  - code: open
    to: draft
    roles: [clerk]
  - code: submit
    from: draft
    to: submitted
    roles: [clerk]
    guard: '{"kind":"guard","version":1,"root":{"op":"exists","args":[{"op":"ref","args":["object.CaseNumber"]}]}}'
    actions: '{"kind":"actions","version":1,"root":[{"op":"start_timer","args":[{"op":"lit","args":["review-sla"]}]}]}'
  - code: approve
    from: submitted
    to: approved
    roles: [supervisor]
    actions: '{"kind":"actions","version":1,"root":[{"op":"stop_timer","args":[{"op":"lit","args":["review-sla"]}]}]}'
  - code: reject
    from: submitted
    to: rejected
    roles: [supervisor]
sla_policies:
  - code: review-sla
    name: Review SLA
    target_minutes: 60
    warn_minutes: 15
    start_rule: '{"kind":"timer_rule","version":1,"root":{"op":"eq","args":[{"op":"ref","args":["transition.code"]},{"op":"lit","args":["submit"]}]}}'
    stop_rule: '{"kind":"timer_rule","version":1,"root":{"op":"eq","args":[{"op":"ref","args":["transition.code"]},{"op":"lit","args":["approve"]}]}}'
    escalation: '{"kind":"actions","version":1,"root":[{"op":"enqueue_escalation","args":[{"op":"lit","args":["sla.review"]},{"op":"lit","args":[2]},{"op":"lit","args":["ops-queue"]}]}]}'
`

func writeDefinition(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "workflows.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return dir
}

func loadCatalog(t *testing.T, content string) *Catalog {
	t.Helper()
	c := New(zerolog.Nop())
	if err := c.LoadFromPaths(context.Background(), []string{writeDefinition(t, content)}); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	return c
}

func TestLoadDefinition(t *testing.T) {
	c := loadCatalog(t, caseLifecycleYAML)

	def, ok := c.Definition("case-lifecycle")
	if !ok {
		t.Fatal("definition not found")
	}
	if def.StartState() != "draft" {
		t.Errorf("start state = %q, want draft", def.StartState())
	}

	tr, ok := def.Resolve("draft", "submit")
	if !ok {
		t.Fatal("submit transition not resolvable from draft")
	}
	if tr.GuardDoc() == nil {
		t.Error("expected a parsed guard on submit")
	}
	if tr.ActionDoc() == nil {
		t.Error("expected a parsed action list on submit")
	}

	if _, ok := def.Resolve("approved", "submit"); ok {
		t.Error("terminal state must not resolve outgoing transitions")
	}

	entry, ok := def.Entry("open")
	if !ok {
		t.Fatal("entry transition not found")
	}
	if !entry.IsEntry() {
		t.Error("open should be an entry transition")
	}
}

func TestEntryTransitionResolvesFromStartState(t *testing.T) {
	c := loadCatalog(t, caseLifecycleYAML)
	def, _ := c.Definition("case-lifecycle")

	if _, ok := def.Resolve("draft", "open"); !ok {
		t.Error("entry transition should resolve from the start state")
	}
}

func TestPoliciesFor(t *testing.T) {
	c := loadCatalog(t, caseLifecycleYAML)
	def, _ := c.Definition("case-lifecycle")

	policies := def.PoliciesFor("submit")
	if len(policies) != 1 || policies[0].Code != "review-sla" {
		t.Fatalf("unexpected policies: %v", policies)
	}
	if policies[0].StartDoc() == nil || policies[0].StopDoc() == nil || policies[0].EscalationDoc() == nil {
		t.Error("expected all policy rules parsed")
	}
}

func TestTransitionWithoutRolesLoadsAsOpen(t *testing.T) {
	open := strings.Replace(caseLifecycleYAML,
		"to: rejected\n    roles: [supervisor]", "to: rejected", 1)
	c := loadCatalog(t, open)
	def, _ := c.Definition("case-lifecycle")

	tr, ok := def.Resolve("submitted", "reject")
	if !ok {
		t.Fatal("reject transition not resolvable")
	}
	if len(tr.Roles) != 0 {
		t.Errorf("expected no role restriction, got %v", tr.Roles)
	}
}

func TestLoadRejectsInvalidDefinitions(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "two start states",
			mutate:  func(s string) string { return strings.Replace(s, "name: Submitted", "name: Submitted\n    is_start: true", 1) },
			wantErr: "is_start",
		},
		{
			name:    "no start state",
			mutate:  func(s string) string { return strings.Replace(s, "is_start: true", "is_start: false", 1) },
			wantErr: "no start state",
		},
		{
			name:    "unknown target state",
			mutate:  func(s string) string { return strings.Replace(s, "to: rejected", "to: archived", 1) },
			wantErr: "unknown target state",
		},
		{
			name: "terminal outgoing edge",
			mutate: func(s string) string {
				return strings.Replace(s, "sla_policies:",
					"  - code: reopen\n    from: approved\n    to: draft\n    roles: [admin]\nsla_policies:", 1)
			},
			wantErr: "terminal state",
		},
		{
			name:    "guard with wrong kind",
			mutate:  func(s string) string { return strings.Replace(s, `"kind":"guard"`, `"kind":"timer_rule"`, 1) },
			wantErr: "guard",
		},
		{
			name:    "warn not below target",
			mutate:  func(s string) string { return strings.Replace(s, "warn_minutes: 15", "warn_minutes: 60", 1) },
			wantErr: "warn_minutes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broken := tt.mutate(caseLifecycleYAML)
			c := New(zerolog.Nop())
			err := c.LoadFromPaths(context.Background(), []string{writeDefinition(t, broken)})
			if err == nil {
				t.Fatal("expected a load error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestFailedLoadKeepsPreviousDefinitions(t *testing.T) {
	c := loadCatalog(t, caseLifecycleYAML)

	broken := strings.Replace(caseLifecycleYAML, "to: rejected", "to: archived", 1)
	if err := c.LoadFromPaths(context.Background(), []string{writeDefinition(t, broken)}); err == nil {
		t.Fatal("expected a load error")
	}
	if _, ok := c.Definition("case-lifecycle"); !ok {
		t.Error("previous definitions should survive a failed reload")
	}
}

func TestMultiDocumentStream(t *testing.T) {
	second := strings.Replace(caseLifecycleYAML, "code: case-lifecycle", "code: ticket-lifecycle", 1)
	c := loadCatalog(t, caseLifecycleYAML+"\n---\n"+second)
	if len(c.Definitions()) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(c.Definitions()))
	}
}
