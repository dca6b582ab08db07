package sla

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowplane/flowplane/pkg/catalog"
	"github.com/flowplane/flowplane/pkg/dsl"
	"github.com/flowplane/flowplane/pkg/journal"
	"github.com/flowplane/flowplane/pkg/stores"
	"github.com/flowplane/flowplane/pkg/workflow"
)

const reviewWorkflowYAML = `
code: review-flow
name: Review Flow
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
transitions:
  - code: open
    to: draft
    roles: [clerk]
  - code: submit
    from: draft
    to: submitted
    roles: [clerk]
    actions: '{"kind":"actions","version":1,"root":[{"op":"start_timer","args":[{"op":"lit","args":["review-sla"]}]}]}'
  - code: approve
    from: submitted
    to: approved
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

// fakeClock is a controllable clock shared by every engine in a test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	store    *stores.SQLiteStore
	workflow *workflow.Engine
	sla      *Engine
	clock    *fakeClock
}

func setup(t *testing.T) *fixture {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "workflows.yaml"), []byte(reviewWorkflowYAML), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	cat := catalog.New(zerolog.Nop())
	if err := cat.LoadFromPaths(ctx, []string{dir}); err != nil {
		t.Fatalf("catalog load failed: %v", err)
	}

	clock := newFakeClock()
	jrnl := journal.New(store, zerolog.Nop()).WithClock(clock.Now)
	slaEngine := New(store, cat, jrnl, zerolog.Nop()).WithClock(clock.Now)
	wf := workflow.New(store, cat, jrnl, zerolog.Nop()).
		WithTimerHook(slaEngine).
		WithClock(clock.Now)

	return &fixture{store: store, workflow: wf, sla: slaEngine, clock: clock}
}

func (f *fixture) transition(t *testing.T, entityRef, code string, actor dsl.Actor) {
	t.Helper()
	result, err := f.workflow.RequestTransition(context.Background(), workflow.Request{
		WorkflowCode:   "review-flow",
		TenantID:       "t1",
		EntityRef:      entityRef,
		TransitionCode: code,
		Actor:          actor,
	})
	if err != nil {
		t.Fatalf("%s failed: %v", code, err)
	}
	if result.Outcome != workflow.OutcomeCommitted {
		t.Fatalf("%s outcome = %+v, want committed", code, result)
	}
}

func (f *fixture) timer(t *testing.T, entityRef string) *stores.SlaTimer {
	t.Helper()
	timer, err := f.store.GetTimer(context.Background(), nil, "t1", entityRef, "review-sla")
	if err != nil {
		t.Fatalf("timer lookup failed: %v", err)
	}
	return timer
}

func clerk() dsl.Actor      { return dsl.Actor{ID: "u-clerk", Roles: []string{"clerk"}} }
func supervisor() dsl.Actor { return dsl.Actor{ID: "u-super", Roles: []string{"supervisor"}} }

func TestTransitionStartsOneTimer(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.transition(t, "case:1", "open", clerk())
	f.transition(t, "case:1", "submit", clerk())

	// The explicit start_timer action and the policy's start rule both
	// fire on submit; the second create is a no-op.
	timers, err := f.store.ListTimersByEntity(ctx, "t1", "case:1")
	if err != nil {
		t.Fatalf("list timers failed: %v", err)
	}
	if len(timers) != 1 {
		t.Fatalf("expected exactly 1 timer, got %d", len(timers))
	}
	timer := timers[0]
	if timer.Status != stores.TimerStatusRunning {
		t.Errorf("status = %s, want running", timer.Status)
	}
	if want := f.clock.Now().Add(45 * time.Minute); !timer.WarnUTC.Equal(want) {
		t.Errorf("warn_utc = %v, want %v", timer.WarnUTC, want)
	}
	if want := f.clock.Now().Add(60 * time.Minute); !timer.DueUTC.Equal(want) {
		t.Errorf("due_utc = %v, want %v", timer.DueUTC, want)
	}
}

func TestSweepWarnsThenBreaches(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.transition(t, "case:2", "open", clerk())
	f.transition(t, "case:2", "submit", clerk())

	// Before the warn threshold nothing happens.
	processed, err := f.sla.Sweep(ctx, 100)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if processed != 0 {
		t.Fatalf("early sweep processed %d timers", processed)
	}

	// Past warn, before due.
	f.clock.Advance(46 * time.Minute)
	processed, err = f.sla.Sweep(ctx, 100)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if processed != 1 {
		t.Fatalf("warn sweep processed %d timers, want 1", processed)
	}
	if got := f.timer(t, "case:2").Status; got != stores.TimerStatusWarned {
		t.Fatalf("status = %s, want warned", got)
	}

	items, err := f.store.ListEscalations(ctx, "t1", nil, 10, 0)
	if err != nil {
		t.Fatalf("list escalations failed: %v", err)
	}
	if len(items) != 1 || items[0].ThresholdKind != stores.ThresholdWarn {
		t.Fatalf("expected one warn escalation, got %+v", items)
	}
	if items[0].SignalCode != "sla.review" || items[0].Severity != "2" || items[0].Assignee != "ops-queue" {
		t.Errorf("unexpected escalation fields: %+v", items[0])
	}

	// Past due.
	f.clock.Advance(15 * time.Minute)
	processed, err = f.sla.Sweep(ctx, 100)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if processed != 1 {
		t.Fatalf("breach sweep processed %d timers, want 1", processed)
	}
	if got := f.timer(t, "case:2").Status; got != stores.TimerStatusBreached {
		t.Fatalf("status = %s, want breached", got)
	}

	items, err = f.store.ListEscalations(ctx, "t1", nil, 10, 0)
	if err != nil {
		t.Fatalf("list escalations failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected warn and breach escalations, got %d", len(items))
	}
}

func TestRepeatedSweepIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.transition(t, "case:3", "open", clerk())
	f.transition(t, "case:3", "submit", clerk())
	f.clock.Advance(2 * time.Hour)

	if _, err := f.sla.Sweep(ctx, 100); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if got := f.timer(t, "case:3").Status; got != stores.TimerStatusBreached {
		t.Fatalf("status = %s, want breached", got)
	}

	// Re-running the sweep moves nothing and duplicates nothing.
	for i := 0; i < 3; i++ {
		processed, err := f.sla.Sweep(ctx, 100)
		if err != nil {
			t.Fatalf("re-sweep failed: %v", err)
		}
		if processed != 0 {
			t.Fatalf("re-sweep processed %d timers", processed)
		}
	}
	items, err := f.store.ListEscalations(ctx, "t1", nil, 10, 0)
	if err != nil {
		t.Fatalf("list escalations failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected a single breach escalation, got %d", len(items))
	}
}

func TestStopRuleFreezesTimer(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.transition(t, "case:4", "open", clerk())
	f.transition(t, "case:4", "submit", clerk())
	f.transition(t, "case:4", "approve", supervisor())

	timer := f.timer(t, "case:4")
	if timer.Status != stores.TimerStatusStopped {
		t.Fatalf("status = %s, want stopped", timer.Status)
	}
	if timer.StoppedUTC == nil {
		t.Fatal("stopped timer missing stopped_utc")
	}

	// A stopped timer never warns or breaches, however late the sweep.
	f.clock.Advance(24 * time.Hour)
	processed, err := f.sla.Sweep(ctx, 100)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if processed != 0 {
		t.Fatalf("sweep moved a stopped timer: processed %d", processed)
	}
	if got := f.timer(t, "case:4").Status; got != stores.TimerStatusStopped {
		t.Fatalf("status = %s, want stopped", got)
	}

	items, err := f.store.ListEscalations(ctx, "t1", nil, 10, 0)
	if err != nil {
		t.Fatalf("list escalations failed: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("stopped timer escalated: %+v", items)
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	if _, err := advanceStatus(stores.TimerStatusWarned, triggerWarn); err == nil {
		t.Error("warned timer accepted a second warn")
	}
	if _, err := advanceStatus(stores.TimerStatusBreached, triggerWarn); err == nil {
		t.Error("breached timer accepted a warn")
	}
	if _, err := advanceStatus(stores.TimerStatusStopped, triggerBreach); err == nil {
		t.Error("stopped timer accepted a breach")
	}

	next, err := advanceStatus(stores.TimerStatusWarned, triggerBreach)
	if err != nil {
		t.Fatalf("warned->breached rejected: %v", err)
	}
	if next != stores.TimerStatusBreached {
		t.Errorf("next = %s, want breached", next)
	}
}

func TestSweeperLifecycle(t *testing.T) {
	f := setup(t)

	sweeper := NewSweeper(f.sla, 10*time.Millisecond, 50, zerolog.Nop())
	sweeper.Start(context.Background())
	time.Sleep(35 * time.Millisecond)
	sweeper.Stop()

	// Stop is idempotent and Start after Stop works.
	sweeper.Stop()
	sweeper.Start(context.Background())
	sweeper.Stop()
}
