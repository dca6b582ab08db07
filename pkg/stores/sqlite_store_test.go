package stores

import (
	"context"
	"errors"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testInstance() *WorkflowInstance {
	now := time.Now().UTC()
	return &WorkflowInstance{
		ID:           "inst-1",
		TenantID:     "t1",
		EntityRef:    "case:1042",
		WorkflowCode: "CaseLifecycle",
		CurrentState: "Draft",
		Snapshot:     `{"CaseNumber":"C-1042"}`,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestStoreLifecycle(t *testing.T) {
	store := setupTestStore(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
}

func TestInstanceCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	inst := testInstance()
	if err := store.CreateInstance(ctx, nil, inst); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := store.GetInstance(ctx, "t1", "case:1042")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.CurrentState != "Draft" || got.Version != 1 {
		t.Fatalf("unexpected instance: %+v", got)
	}

	got.CurrentState = "Submitted"
	got.LastTransitionCode = "submit"
	got.UpdatedAt = time.Now().UTC()
	if err := store.UpdateInstance(ctx, nil, got, 1); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if got.Version != 2 {
		t.Fatalf("expected version 2, got %d", got.Version)
	}

	reread, err := store.GetInstance(ctx, "t1", "case:1042")
	if err != nil {
		t.Fatalf("re-get failed: %v", err)
	}
	if reread.CurrentState != "Submitted" || reread.Version != 2 {
		t.Fatalf("update not visible: %+v", reread)
	}
}

func TestInstanceVersionConflict(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	inst := testInstance()
	if err := store.CreateInstance(ctx, nil, inst); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// First writer wins.
	inst.CurrentState = "Submitted"
	inst.UpdatedAt = time.Now().UTC()
	if err := store.UpdateInstance(ctx, nil, inst, 1); err != nil {
		t.Fatalf("first update failed: %v", err)
	}

	// Second writer with the stale version loses.
	stale := testInstance()
	stale.CurrentState = "Rejected"
	stale.UpdatedAt = time.Now().UTC()
	err := store.UpdateInstance(ctx, nil, stale, 1)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestInstanceNotFound(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.GetInstance(context.Background(), "t1", "case:none")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJournalAppendAndList(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		entry := &JournalEntry{
			TenantID:     "t1",
			EntityRef:    "case:1042",
			Sequence:     int64(i),
			EventType:    "workflow.transition",
			Actor:        "u1",
			TimestampUTC: time.Now().UTC(),
			Payload:      `{"n":1}`,
			PayloadHash:  "p",
			PrevHash:     "q",
		}
		if err := store.AppendJournalEntry(ctx, nil, entry); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}

	entries, err := store.GetJournalEntries(ctx, "t1", "case:1042", 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Sequence != int64(i+1) {
			t.Fatalf("entries out of order: %+v", entries)
		}
	}

	last, err := store.LastJournalEntry(ctx, nil, "t1", "case:1042")
	if err != nil {
		t.Fatalf("last failed: %v", err)
	}
	if last.Sequence != 3 {
		t.Fatalf("expected last sequence 3, got %d", last.Sequence)
	}

	// Duplicate sequence is rejected by the primary key.
	dup := &JournalEntry{
		TenantID: "t1", EntityRef: "case:1042", Sequence: 3,
		EventType: "x", Actor: "u1", TimestampUTC: time.Now().UTC(),
		Payload: "{}", PayloadHash: "p", PrevHash: "q",
	}
	if err := store.AppendJournalEntry(ctx, nil, dup); err == nil {
		t.Fatal("expected duplicate sequence to fail")
	}
}

func TestLastJournalEntryEmpty(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.LastJournalEntry(context.Background(), nil, "t1", "case:empty")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQuarantine(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	q := &Quarantine{
		TenantID: "t1", EntityRef: "case:1042",
		BrokenAt: 5, Reason: "prev hash mismatch",
		CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateQuarantine(ctx, q); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	// Idempotent: a second verification run does not error.
	if err := store.CreateQuarantine(ctx, q); err != nil {
		t.Fatalf("second create failed: %v", err)
	}

	got, err := store.GetQuarantine(ctx, "t1", "case:1042")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.BrokenAt != 5 {
		t.Fatalf("unexpected quarantine: %+v", got)
	}

	if err := store.DeleteQuarantine(ctx, "t1", "case:1042"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.GetQuarantine(ctx, "t1", "case:1042"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func testTimer(started time.Time) *SlaTimer {
	return &SlaTimer{
		ID:         "timer-1",
		TenantID:   "t1",
		EntityRef:  "case:1042",
		PolicyCode: "review-sla",
		Status:     TimerStatusRunning,
		StartedUTC: started,
		WarnUTC:    started.Add(45 * time.Minute),
		DueUTC:     started.Add(60 * time.Minute),
		Version:    1,
		CreatedAt:  started,
		UpdatedAt:  started,
	}
}

func TestTimerCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	started := time.Now().UTC().Add(-50 * time.Minute)

	timer := testTimer(started)
	if err := store.CreateTimer(ctx, nil, timer); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := store.GetTimer(ctx, nil, "t1", "case:1042", "review-sla")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != TimerStatusRunning {
		t.Fatalf("unexpected timer: %+v", got)
	}

	// Past the warn threshold, not yet due.
	expired, err := store.ListExpiredTimers(ctx, time.Now().UTC(), 100)
	if err != nil {
		t.Fatalf("list expired failed: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "timer-1" {
		t.Fatalf("expected the timer to be listed, got %+v", expired)
	}

	got.Status = TimerStatusWarned
	got.UpdatedAt = time.Now().UTC()
	if err := store.UpdateTimerStatus(ctx, nil, got, 1); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	// A stale writer loses.
	stale := testTimer(started)
	stale.Status = TimerStatusStopped
	if err := store.UpdateTimerStatus(ctx, nil, stale, 1); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestExpiredTimerQueryExcludesStoppedAndFuture(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stopped := testTimer(now.Add(-2 * time.Hour))
	stopped.ID = "timer-stopped"
	stopped.EntityRef = "case:1"
	stopped.Status = TimerStatusStopped
	if err := store.CreateTimer(ctx, nil, stopped); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	future := testTimer(now)
	future.ID = "timer-future"
	future.EntityRef = "case:2"
	if err := store.CreateTimer(ctx, nil, future); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	expired, err := store.ListExpiredTimers(ctx, now, 100)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(expired) != 0 {
		t.Fatalf("expected no expired timers, got %+v", expired)
	}
}

func TestEscalationDeduplication(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	item := &EscalationItem{
		ID:            "esc-1",
		TenantID:      "t1",
		TimerID:       "timer-1",
		ThresholdKind: ThresholdWarn,
		SignalCode:    "sla.warn",
		Severity:      "2",
		Assignee:      "team-a",
		Status:        EscalationStatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	created, err := store.CreateEscalation(ctx, nil, item)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !created {
		t.Fatal("expected first insert to create a row")
	}

	// Same (timer, threshold) again: de-duplicated.
	dup := *item
	dup.ID = "esc-2"
	created, err = store.CreateEscalation(ctx, nil, &dup)
	if err != nil {
		t.Fatalf("duplicate insert failed: %v", err)
	}
	if created {
		t.Fatal("expected duplicate to be ignored")
	}

	// A different threshold for the same timer is a new item.
	breach := *item
	breach.ID = "esc-3"
	breach.ThresholdKind = ThresholdBreach
	created, err = store.CreateEscalation(ctx, nil, &breach)
	if err != nil {
		t.Fatalf("breach insert failed: %v", err)
	}
	if !created {
		t.Fatal("expected breach threshold to create a row")
	}

	items, err := store.ListEscalations(ctx, "t1", nil, 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
}

func TestEscalationLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	item := &EscalationItem{
		ID: "esc-1", TenantID: "t1", TimerID: "timer-1",
		ThresholdKind: ThresholdBreach, SignalCode: "sla.breach",
		Status: EscalationStatusOpen, CreatedAt: now, UpdatedAt: now,
	}
	if _, err := store.CreateEscalation(ctx, nil, item); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := store.UpdateEscalationStatus(ctx, "esc-1", EscalationStatusAck); err != nil {
		t.Fatalf("ack failed: %v", err)
	}
	got, err := store.GetEscalation(ctx, "esc-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != EscalationStatusAck {
		t.Fatalf("expected ack, got %s", got.Status)
	}

	if err := store.UpdateEscalationStatus(ctx, "esc-missing", EscalationStatusClosed); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestArtifactPutGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	artifact := &CompiledArtifact{
		ExpressionHash: "abc123",
		Backend:        "sql",
		Kind:           "guard",
		Content:        "(case_number IS NOT NULL)",
		CreatedAt:      time.Now().UTC(),
	}
	if err := store.PutArtifact(ctx, artifact); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	// Content-addressed writes are idempotent.
	if err := store.PutArtifact(ctx, artifact); err != nil {
		t.Fatalf("second put failed: %v", err)
	}

	got, err := store.GetArtifact(ctx, "abc123", "sql")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Content != artifact.Content {
		t.Fatalf("unexpected artifact: %+v", got)
	}

	if _, err := store.GetArtifact(ctx, "abc123", "flink"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransactionalUnit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	inst := testInstance()
	if err := store.CreateInstance(ctx, tx, inst); err != nil {
		t.Fatalf("create in tx failed: %v", err)
	}
	entry := &JournalEntry{
		TenantID: "t1", EntityRef: "case:1042", Sequence: 1,
		EventType: "workflow.transition", Actor: "u1",
		TimestampUTC: time.Now().UTC(), Payload: "{}",
		PayloadHash: "p", PrevHash: "",
	}
	if err := store.AppendJournalEntry(ctx, tx, entry); err != nil {
		t.Fatalf("append in tx failed: %v", err)
	}

	// Roll back: neither write is visible.
	if err := store.RollbackTx(tx); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	if _, err := store.GetInstance(ctx, "t1", "case:1042"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected instance rollback, got %v", err)
	}
	entries, err := store.GetJournalEntries(ctx, "t1", "case:1042", 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected journal rollback, got %d entries", len(entries))
	}
}
