package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if s.path == ":memory:" {
		// Every pooled connection to :memory: opens its own database;
		// pin the pool to one connection so they all see the same one.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded source.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// BeginTx starts a new transaction.
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction.
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction.
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *SQLiteStore) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return s.db
}

// CreateInstance inserts a new workflow instance row.
func (s *SQLiteStore) CreateInstance(ctx context.Context, tx *sql.Tx, inst *WorkflowInstance) error {
	query := `
		INSERT INTO workflow_instances (
			id, tenant_id, entity_ref, workflow_code, current_state,
			last_transition_code, last_transition_utc, snapshot, version,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.q(tx).ExecContext(ctx, query,
		inst.ID,
		inst.TenantID,
		inst.EntityRef,
		inst.WorkflowCode,
		inst.CurrentState,
		inst.LastTransitionCode,
		inst.LastTransitionUTC,
		inst.Snapshot,
		inst.Version,
		inst.CreatedAt,
		inst.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create instance: %w", err)
	}

	return nil
}

// GetInstance retrieves a workflow instance by (tenant, entity).
func (s *SQLiteStore) GetInstance(ctx context.Context, tenantID, entityRef string) (*WorkflowInstance, error) {
	query := `
		SELECT id, tenant_id, entity_ref, workflow_code, current_state,
			   last_transition_code, last_transition_utc, snapshot, version,
			   created_at, updated_at
		FROM workflow_instances
		WHERE tenant_id = ? AND entity_ref = ?
	`

	inst := &WorkflowInstance{}
	err := s.db.QueryRowContext(ctx, query, tenantID, entityRef).Scan(
		&inst.ID,
		&inst.TenantID,
		&inst.EntityRef,
		&inst.WorkflowCode,
		&inst.CurrentState,
		&inst.LastTransitionCode,
		&inst.LastTransitionUTC,
		&inst.Snapshot,
		&inst.Version,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	return inst, nil
}

// UpdateInstance updates an instance row conditioned on the version
// read by the caller. A version mismatch returns ErrVersionConflict.
func (s *SQLiteStore) UpdateInstance(ctx context.Context, tx *sql.Tx, inst *WorkflowInstance, expectedVersion int64) error {
	query := `
		UPDATE workflow_instances
		SET current_state = ?, last_transition_code = ?, last_transition_utc = ?,
			snapshot = ?, version = version + 1, updated_at = ?
		WHERE tenant_id = ? AND entity_ref = ? AND version = ?
	`

	result, err := s.q(tx).ExecContext(ctx, query,
		inst.CurrentState,
		inst.LastTransitionCode,
		inst.LastTransitionUTC,
		inst.Snapshot,
		inst.UpdatedAt,
		inst.TenantID,
		inst.EntityRef,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrVersionConflict
	}

	inst.Version = expectedVersion + 1
	return nil
}

// ListInstances lists workflow instances for a tenant with pagination.
func (s *SQLiteStore) ListInstances(ctx context.Context, tenantID string, limit, offset int) ([]*WorkflowInstance, error) {
	query := `
		SELECT id, tenant_id, entity_ref, workflow_code, current_state,
			   last_transition_code, last_transition_utc, snapshot, version,
			   created_at, updated_at
		FROM workflow_instances
		WHERE tenant_id = ?
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	instances := []*WorkflowInstance{}
	for rows.Next() {
		inst := &WorkflowInstance{}
		err := rows.Scan(
			&inst.ID,
			&inst.TenantID,
			&inst.EntityRef,
			&inst.WorkflowCode,
			&inst.CurrentState,
			&inst.LastTransitionCode,
			&inst.LastTransitionUTC,
			&inst.Snapshot,
			&inst.Version,
			&inst.CreatedAt,
			&inst.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, inst)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return instances, nil
}

// AppendJournalEntry inserts a journal entry with its caller-assigned
// sequence. The primary key rejects duplicate sequences, so an append
// race inside concurrent transactions cannot silently fork the chain.
func (s *SQLiteStore) AppendJournalEntry(ctx context.Context, tx *sql.Tx, entry *JournalEntry) error {
	query := `
		INSERT INTO journal_entries (
			tenant_id, entity_ref, sequence, event_type, actor,
			timestamp_utc, payload, payload_hash, prev_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.q(tx).ExecContext(ctx, query,
		entry.TenantID,
		entry.EntityRef,
		entry.Sequence,
		entry.EventType,
		entry.Actor,
		entry.TimestampUTC,
		entry.Payload,
		entry.PayloadHash,
		entry.PrevHash,
	)

	if err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}

	return nil
}

// GetJournalEntries returns entries for an entity in sequence order.
func (s *SQLiteStore) GetJournalEntries(ctx context.Context, tenantID, entityRef string, limit, offset int) ([]*JournalEntry, error) {
	query := `
		SELECT tenant_id, entity_ref, sequence, event_type, actor,
			   timestamp_utc, payload, payload_hash, prev_hash
		FROM journal_entries
		WHERE tenant_id = ? AND entity_ref = ?
		ORDER BY sequence ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID, entityRef, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	defer rows.Close()

	entries := []*JournalEntry{}
	for rows.Next() {
		e := &JournalEntry{}
		err := rows.Scan(
			&e.TenantID,
			&e.EntityRef,
			&e.Sequence,
			&e.EventType,
			&e.Actor,
			&e.TimestampUTC,
			&e.Payload,
			&e.PayloadHash,
			&e.PrevHash,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journal entries: %w", err)
	}

	return entries, nil
}

// LastJournalEntry returns the highest-sequence entry for an entity,
// or ErrNotFound for an empty journal.
func (s *SQLiteStore) LastJournalEntry(ctx context.Context, tx *sql.Tx, tenantID, entityRef string) (*JournalEntry, error) {
	query := `
		SELECT tenant_id, entity_ref, sequence, event_type, actor,
			   timestamp_utc, payload, payload_hash, prev_hash
		FROM journal_entries
		WHERE tenant_id = ? AND entity_ref = ?
		ORDER BY sequence DESC
		LIMIT 1
	`

	e := &JournalEntry{}
	err := s.q(tx).QueryRowContext(ctx, query, tenantID, entityRef).Scan(
		&e.TenantID,
		&e.EntityRef,
		&e.Sequence,
		&e.EventType,
		&e.Actor,
		&e.TimestampUTC,
		&e.Payload,
		&e.PayloadHash,
		&e.PrevHash,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last journal entry: %w", err)
	}

	return e, nil
}

// CreateQuarantine records a broken chain for an entity.
func (s *SQLiteStore) CreateQuarantine(ctx context.Context, q *Quarantine) error {
	query := `
		INSERT INTO journal_quarantine (tenant_id, entity_ref, broken_at, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, entity_ref) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query, q.TenantID, q.EntityRef, q.BrokenAt, q.Reason, q.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create quarantine: %w", err)
	}

	return nil
}

// GetQuarantine returns the quarantine marker for an entity, or
// ErrNotFound if the entity is not quarantined.
func (s *SQLiteStore) GetQuarantine(ctx context.Context, tenantID, entityRef string) (*Quarantine, error) {
	query := `
		SELECT tenant_id, entity_ref, broken_at, reason, created_at
		FROM journal_quarantine
		WHERE tenant_id = ? AND entity_ref = ?
	`

	q := &Quarantine{}
	err := s.db.QueryRowContext(ctx, query, tenantID, entityRef).Scan(
		&q.TenantID,
		&q.EntityRef,
		&q.BrokenAt,
		&q.Reason,
		&q.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quarantine: %w", err)
	}

	return q, nil
}

// DeleteQuarantine clears a quarantine marker after operator review.
func (s *SQLiteStore) DeleteQuarantine(ctx context.Context, tenantID, entityRef string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM journal_quarantine WHERE tenant_id = ? AND entity_ref = ?`,
		tenantID, entityRef)
	if err != nil {
		return fmt.Errorf("failed to delete quarantine: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// CreateTimer inserts a new SLA timer row.
func (s *SQLiteStore) CreateTimer(ctx context.Context, tx *sql.Tx, timer *SlaTimer) error {
	query := `
		INSERT INTO sla_timers (
			id, tenant_id, entity_ref, policy_code, status,
			started_utc, warn_utc, due_utc, stopped_utc, version,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.q(tx).ExecContext(ctx, query,
		timer.ID,
		timer.TenantID,
		timer.EntityRef,
		timer.PolicyCode,
		timer.Status,
		timer.StartedUTC,
		timer.WarnUTC,
		timer.DueUTC,
		timer.StoppedUTC,
		timer.Version,
		timer.CreatedAt,
		timer.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create timer: %w", err)
	}

	return nil
}

// GetTimer retrieves the timer for one (instance, policy) pair. A
// non-nil tx reads inside the caller's transaction so timers created
// earlier in the same unit are visible.
func (s *SQLiteStore) GetTimer(ctx context.Context, tx *sql.Tx, tenantID, entityRef, policyCode string) (*SlaTimer, error) {
	query := `
		SELECT id, tenant_id, entity_ref, policy_code, status,
			   started_utc, warn_utc, due_utc, stopped_utc, version,
			   created_at, updated_at
		FROM sla_timers
		WHERE tenant_id = ? AND entity_ref = ? AND policy_code = ?
	`

	timer := &SlaTimer{}
	err := s.q(tx).QueryRowContext(ctx, query, tenantID, entityRef, policyCode).Scan(
		&timer.ID,
		&timer.TenantID,
		&timer.EntityRef,
		&timer.PolicyCode,
		&timer.Status,
		&timer.StartedUTC,
		&timer.WarnUTC,
		&timer.DueUTC,
		&timer.StoppedUTC,
		&timer.Version,
		&timer.CreatedAt,
		&timer.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get timer: %w", err)
	}

	return timer, nil
}

// UpdateTimerStatus updates a timer's status and stop timestamp,
// conditioned on the version the caller read. The stale-read guard
// for sweep/transition races lives here: a concurrent update bumps
// the version and this write returns ErrVersionConflict.
func (s *SQLiteStore) UpdateTimerStatus(ctx context.Context, tx *sql.Tx, timer *SlaTimer, expectedVersion int64) error {
	query := `
		UPDATE sla_timers
		SET status = ?, stopped_utc = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`

	result, err := s.q(tx).ExecContext(ctx, query,
		timer.Status,
		timer.StoppedUTC,
		timer.UpdatedAt,
		timer.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update timer: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrVersionConflict
	}

	timer.Version = expectedVersion + 1
	return nil
}

// ListExpiredTimers returns running or warned timers whose warn or due
// instant has passed. The sweep processes these in due order.
func (s *SQLiteStore) ListExpiredTimers(ctx context.Context, now time.Time, limit int) ([]*SlaTimer, error) {
	query := `
		SELECT id, tenant_id, entity_ref, policy_code, status,
			   started_utc, warn_utc, due_utc, stopped_utc, version,
			   created_at, updated_at
		FROM sla_timers
		WHERE status IN (?, ?) AND (warn_utc <= ? OR due_utc <= ?)
		ORDER BY due_utc ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		TimerStatusRunning, TimerStatusWarned, now, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired timers: %w", err)
	}
	defer rows.Close()

	return scanTimers(rows)
}

// ListTimersByEntity returns all timers for one entity.
func (s *SQLiteStore) ListTimersByEntity(ctx context.Context, tenantID, entityRef string) ([]*SlaTimer, error) {
	query := `
		SELECT id, tenant_id, entity_ref, policy_code, status,
			   started_utc, warn_utc, due_utc, stopped_utc, version,
			   created_at, updated_at
		FROM sla_timers
		WHERE tenant_id = ? AND entity_ref = ?
		ORDER BY started_utc ASC
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID, entityRef)
	if err != nil {
		return nil, fmt.Errorf("failed to list timers: %w", err)
	}
	defer rows.Close()

	return scanTimers(rows)
}

func scanTimers(rows *sql.Rows) ([]*SlaTimer, error) {
	timers := []*SlaTimer{}
	for rows.Next() {
		timer := &SlaTimer{}
		err := rows.Scan(
			&timer.ID,
			&timer.TenantID,
			&timer.EntityRef,
			&timer.PolicyCode,
			&timer.Status,
			&timer.StartedUTC,
			&timer.WarnUTC,
			&timer.DueUTC,
			&timer.StoppedUTC,
			&timer.Version,
			&timer.CreatedAt,
			&timer.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan timer: %w", err)
		}
		timers = append(timers, timer)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating timers: %w", err)
	}

	return timers, nil
}

// CreateEscalation inserts an escalation item. The unique key on
// (timer, threshold kind) de-duplicates crash re-runs; the bool
// reports whether a new row was actually created.
func (s *SQLiteStore) CreateEscalation(ctx context.Context, tx *sql.Tx, item *EscalationItem) (bool, error) {
	query := `
		INSERT INTO escalations (
			id, tenant_id, timer_id, threshold_kind, signal_code,
			severity, assignee, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (timer_id, threshold_kind) DO NOTHING
	`

	result, err := s.q(tx).ExecContext(ctx, query,
		item.ID,
		item.TenantID,
		item.TimerID,
		item.ThresholdKind,
		item.SignalCode,
		item.Severity,
		item.Assignee,
		item.Status,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create escalation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// GetEscalation retrieves an escalation item by ID.
func (s *SQLiteStore) GetEscalation(ctx context.Context, id string) (*EscalationItem, error) {
	query := `
		SELECT id, tenant_id, timer_id, threshold_kind, signal_code,
			   severity, assignee, status, created_at, updated_at
		FROM escalations
		WHERE id = ?
	`

	item := &EscalationItem{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&item.ID,
		&item.TenantID,
		&item.TimerID,
		&item.ThresholdKind,
		&item.SignalCode,
		&item.Severity,
		&item.Assignee,
		&item.Status,
		&item.CreatedAt,
		&item.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get escalation: %w", err)
	}

	return item, nil
}

// UpdateEscalationStatus moves an escalation item through its
// operational lifecycle (open -> ack -> closed).
func (s *SQLiteStore) UpdateEscalationStatus(ctx context.Context, id string, status EscalationStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE escalations SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update escalation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListEscalations lists escalation items for a tenant, optionally
// filtered by status.
func (s *SQLiteStore) ListEscalations(ctx context.Context, tenantID string, status *EscalationStatus, limit, offset int) ([]*EscalationItem, error) {
	query := `
		SELECT id, tenant_id, timer_id, threshold_kind, signal_code,
			   severity, assignee, status, created_at, updated_at
		FROM escalations
		WHERE tenant_id = ? AND (? IS NULL OR status = ?)
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID, status, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list escalations: %w", err)
	}
	defer rows.Close()

	items := []*EscalationItem{}
	for rows.Next() {
		item := &EscalationItem{}
		err := rows.Scan(
			&item.ID,
			&item.TenantID,
			&item.TimerID,
			&item.ThresholdKind,
			&item.SignalCode,
			&item.Severity,
			&item.Assignee,
			&item.Status,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan escalation: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating escalations: %w", err)
	}

	return items, nil
}

// PutArtifact stores a compiled artifact, replacing any previous one
// for the same (hash, backend) pair. Artifacts are content-addressed,
// so a replace can only write identical content.
func (s *SQLiteStore) PutArtifact(ctx context.Context, artifact *CompiledArtifact) error {
	query := `
		INSERT INTO compiled_artifacts (expression_hash, backend, kind, content, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (expression_hash, backend) DO UPDATE SET
			kind = excluded.kind,
			content = excluded.content
	`

	_, err := s.db.ExecContext(ctx, query,
		artifact.ExpressionHash,
		artifact.Backend,
		artifact.Kind,
		artifact.Content,
		artifact.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put artifact: %w", err)
	}

	return nil
}

// GetArtifact retrieves a compiled artifact by (hash, backend).
func (s *SQLiteStore) GetArtifact(ctx context.Context, expressionHash, backend string) (*CompiledArtifact, error) {
	query := `
		SELECT expression_hash, backend, kind, content, created_at
		FROM compiled_artifacts
		WHERE expression_hash = ? AND backend = ?
	`

	artifact := &CompiledArtifact{}
	err := s.db.QueryRowContext(ctx, query, expressionHash, backend).Scan(
		&artifact.ExpressionHash,
		&artifact.Backend,
		&artifact.Kind,
		&artifact.Content,
		&artifact.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}

	return artifact, nil
}
