package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// TimerStatus is the lifecycle status of an SLA timer. Status only
// moves forward (Running -> Warned -> Breached) or into Stopped, and
// never leaves Stopped.
type TimerStatus string

const (
	TimerStatusRunning  TimerStatus = "running"
	TimerStatusWarned   TimerStatus = "warned"
	TimerStatusBreached TimerStatus = "breached"
	TimerStatusStopped  TimerStatus = "stopped"
)

// EscalationStatus is the lifecycle status of an escalation item.
// Items are created by the engine and owned by operational staff
// afterwards.
type EscalationStatus string

const (
	EscalationStatusOpen   EscalationStatus = "open"
	EscalationStatusAck    EscalationStatus = "ack"
	EscalationStatusClosed EscalationStatus = "closed"
)

// ThresholdKind identifies which threshold produced an escalation.
// Together with the timer ID it forms the de-duplication key.
type ThresholdKind string

const (
	ThresholdWarn   ThresholdKind = "warn"
	ThresholdBreach ThresholdKind = "breach"

	// ThresholdAction marks escalations raised directly by a
	// transition's action list rather than a timer threshold.
	ThresholdAction ThresholdKind = "action"
)

// Sentinel errors returned by store operations. The engine maps these
// onto its public error taxonomy.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates an optimistic-concurrency update
	// found a different version than expected.
	ErrVersionConflict = errors.New("version conflict")

	// ErrQuarantined indicates the entity's journal failed chain
	// verification; journal reads and transitions are refused pending
	// operator review.
	ErrQuarantined = errors.New("journal quarantined")
)

// WorkflowInstance is one row per tracked entity. Created on the
// first transition into the workflow, mutated on every transition,
// never physically deleted.
type WorkflowInstance struct {
	ID                 string     `json:"id"`
	TenantID           string     `json:"tenant_id"`
	EntityRef          string     `json:"entity_ref"`
	WorkflowCode       string     `json:"workflow_code"`
	CurrentState       string     `json:"current_state"`
	LastTransitionCode string     `json:"last_transition_code,omitempty"`
	LastTransitionUTC  *time.Time `json:"last_transition_utc,omitempty"`

	// Snapshot is the runtime field map as a JSON blob; guards read
	// it through the object namespace.
	Snapshot string `json:"snapshot"`

	// Version is the optimistic-concurrency counter.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SlaTimer is one row per (instance, policy) pair.
type SlaTimer struct {
	ID         string      `json:"id"`
	TenantID   string      `json:"tenant_id"`
	EntityRef  string      `json:"entity_ref"`
	PolicyCode string      `json:"policy_code"`
	Status     TimerStatus `json:"status"`
	StartedUTC time.Time   `json:"started_utc"`
	WarnUTC    time.Time   `json:"warn_utc"`
	DueUTC     time.Time   `json:"due_utc"`
	StoppedUTC *time.Time  `json:"stopped_utc,omitempty"`

	// Version guards concurrent sweep/transition updates.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EscalationItem is an operational work item produced when a timer
// warns or breaches.
type EscalationItem struct {
	ID            string           `json:"id"`
	TenantID      string           `json:"tenant_id"`
	TimerID       string           `json:"timer_id"`
	ThresholdKind ThresholdKind    `json:"threshold_kind"`
	SignalCode    string           `json:"signal_code"`
	Severity      string           `json:"severity"`
	Assignee      string           `json:"assignee,omitempty"`
	Status        EscalationStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// JournalEntry is one append-only, hash-chained audit record. The
// sequence is monotonic and gap-free per (tenant, entity).
type JournalEntry struct {
	Sequence     int64     `json:"sequence"`
	TenantID     string    `json:"tenant_id"`
	EntityRef    string    `json:"entity_ref"`
	EventType    string    `json:"event_type"`
	Actor        string    `json:"actor"`
	TimestampUTC time.Time `json:"timestamp_utc"`

	// Payload is the event payload as a JSON blob.
	Payload string `json:"payload"`

	// PayloadHash is the canonical hash of the payload.
	PayloadHash string `json:"payload_hash"`

	// PrevHash chains this entry to its predecessor's core fields.
	PrevHash string `json:"prev_hash"`
}

// Quarantine marks an entity whose journal failed verification.
type Quarantine struct {
	TenantID  string    `json:"tenant_id"`
	EntityRef string    `json:"entity_ref"`
	BrokenAt  int64     `json:"broken_at"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// CompiledArtifact is the cached compiler output for one
// (expression hash, backend) pair. Purely derived data, safe to
// regenerate.
type CompiledArtifact struct {
	ExpressionHash string    `json:"expression_hash"`
	Backend        string    `json:"backend"`
	Kind           string    `json:"kind"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store defines the persistence layer. Mutating operations accept an
// optional *sql.Tx so the engine can commit a transition, its journal
// entries, and its timer effects as one atomic unit; a nil tx runs
// the statement standalone.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Workflow instances
	CreateInstance(ctx context.Context, tx *sql.Tx, inst *WorkflowInstance) error
	GetInstance(ctx context.Context, tenantID, entityRef string) (*WorkflowInstance, error)
	UpdateInstance(ctx context.Context, tx *sql.Tx, inst *WorkflowInstance, expectedVersion int64) error
	ListInstances(ctx context.Context, tenantID string, limit, offset int) ([]*WorkflowInstance, error)

	// Journal
	AppendJournalEntry(ctx context.Context, tx *sql.Tx, entry *JournalEntry) error
	GetJournalEntries(ctx context.Context, tenantID, entityRef string, limit, offset int) ([]*JournalEntry, error)
	LastJournalEntry(ctx context.Context, tx *sql.Tx, tenantID, entityRef string) (*JournalEntry, error)
	CreateQuarantine(ctx context.Context, q *Quarantine) error
	GetQuarantine(ctx context.Context, tenantID, entityRef string) (*Quarantine, error)
	DeleteQuarantine(ctx context.Context, tenantID, entityRef string) error

	// SLA timers
	CreateTimer(ctx context.Context, tx *sql.Tx, timer *SlaTimer) error
	GetTimer(ctx context.Context, tx *sql.Tx, tenantID, entityRef, policyCode string) (*SlaTimer, error)
	UpdateTimerStatus(ctx context.Context, tx *sql.Tx, timer *SlaTimer, expectedVersion int64) error
	ListExpiredTimers(ctx context.Context, now time.Time, limit int) ([]*SlaTimer, error)
	ListTimersByEntity(ctx context.Context, tenantID, entityRef string) ([]*SlaTimer, error)

	// Escalations
	CreateEscalation(ctx context.Context, tx *sql.Tx, item *EscalationItem) (bool, error)
	GetEscalation(ctx context.Context, id string) (*EscalationItem, error)
	UpdateEscalationStatus(ctx context.Context, id string, status EscalationStatus) error
	ListEscalations(ctx context.Context, tenantID string, status *EscalationStatus, limit, offset int) ([]*EscalationItem, error)

	// Compiled artifacts
	PutArtifact(ctx context.Context, artifact *CompiledArtifact) error
	GetArtifact(ctx context.Context, expressionHash, backend string) (*CompiledArtifact, error)
}
