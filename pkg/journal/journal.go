// Package journal implements the tamper-evident event journal: an
// append-only, per-entity, monotonic-sequence log whose entries are
// hash-chained. Every state-affecting action of the workflow and SLA
// engines is appended here; there is no update or delete operation in
// the public contract. An auditor (or VerifyChain) detects any
// retroactive edit or deletion by recomputing the chain.
package journal

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowplane/flowplane/pkg/dsl"
	"github.com/flowplane/flowplane/pkg/stores"
	"github.com/flowplane/flowplane/pkg/telemetry"
)

// Event types written by the engines.
const (
	EventTransition      = "workflow.transition"
	EventInstanceCreated = "workflow.instance_created"
	EventFieldSet        = "workflow.field_set"
	EventTimerStarted    = "sla.timer_started"
	EventTimerStopped    = "sla.timer_stopped"
	EventTimerWarned     = "sla.timer_warned"
	EventTimerBreached   = "sla.timer_breached"
	EventEscalation      = "sla.escalation_enqueued"
)

// IntegrityError reports a broken hash chain. It is fatal for the
// affected entity's read path: the journal is quarantined for manual
// review and never auto-repaired.
type IntegrityError struct {
	TenantID  string `json:"tenant_id"`
	EntityRef string `json:"entity_ref"`
	Sequence  int64  `json:"sequence"`
	Reason    string `json:"reason"`
}

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	return fmt.Sprintf("journal integrity violation for %s at sequence %d: %s", e.EntityRef, e.Sequence, e.Reason)
}

// Is matches the stores.ErrQuarantined sentinel, so callers can test
// for a quarantined entity without depending on this package's type.
func (e *IntegrityError) Is(target error) bool {
	return target == stores.ErrQuarantined
}

// VerifyResult is the outcome of a chain verification.
type VerifyResult struct {
	// Valid is true when the whole chain recomputes cleanly.
	Valid bool `json:"valid"`

	// BrokenAt is the first mismatching sequence when Valid is false.
	BrokenAt int64 `json:"broken_at,omitempty"`

	// Entries is the number of entries verified.
	Entries int `json:"entries"`
}

// Record is the caller-facing shape of one append.
type Record struct {
	TenantID  string
	EntityRef string
	EventType string
	Actor     string
	Payload   map[string]interface{}
}

// Journal writes and verifies hash-chained entries on top of the
// store.
type Journal struct {
	store   stores.Store
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// New creates a Journal.
func New(store stores.Store, logger zerolog.Logger) *Journal {
	return &Journal{
		store:  store,
		logger: logger.With().Str("component", "journal").Logger(),
		now:    time.Now,
	}
}

// WithMetrics enables append and verification metrics.
func (j *Journal) WithMetrics(m *telemetry.Metrics) *Journal {
	j.metrics = m
	return j
}

// WithClock overrides the journal clock. Tests use this to produce
// reproducible chains.
func (j *Journal) WithClock(now func() time.Time) *Journal {
	j.now = now
	return j
}

// Append writes one entry inside the caller's transaction, assigning
// the next per-entity sequence and chaining it to the previous entry.
// The transaction is the same one that carries the workflow commit,
// so journal order per entity is identical to commit order.
func (j *Journal) Append(ctx context.Context, tx *sql.Tx, rec Record) (*stores.JournalEntry, error) {
	var sequence int64 = 1
	prevHash := ""

	last, err := j.store.LastJournalEntry(ctx, tx, rec.TenantID, rec.EntityRef)
	switch {
	case err == nil:
		sequence = last.Sequence + 1
		prevHash = entryHash(last)
	case errors.Is(err, stores.ErrNotFound):
		// Genesis entry for this entity.
	default:
		return nil, fmt.Errorf("failed to read chain head: %w", err)
	}

	payload := rec.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	entry := &stores.JournalEntry{
		TenantID:     rec.TenantID,
		EntityRef:    rec.EntityRef,
		Sequence:     sequence,
		EventType:    rec.EventType,
		Actor:        rec.Actor,
		TimestampUTC: j.now().UTC(),
		Payload:      string(payloadJSON),
		PayloadHash:  dsl.HashPayload(payload),
		PrevHash:     prevHash,
	}

	if err := j.store.AppendJournalEntry(ctx, tx, entry); err != nil {
		return nil, err
	}

	if j.metrics != nil {
		j.metrics.RecordJournalAppend(rec.EventType)
	}
	j.logger.Debug().
		Str("entity", rec.EntityRef).
		Int64("sequence", sequence).
		Str("event_type", rec.EventType).
		Msg("journal entry appended")

	return entry, nil
}

// Entries returns the journal for an entity in sequence order. A
// quarantined entity returns an IntegrityError instead of entries;
// the engine does not silently continue past a broken chain.
func (j *Journal) Entries(ctx context.Context, tenantID, entityRef string, limit, offset int) ([]*stores.JournalEntry, error) {
	q, err := j.store.GetQuarantine(ctx, tenantID, entityRef)
	if err == nil {
		return nil, &IntegrityError{
			TenantID:  tenantID,
			EntityRef: entityRef,
			Sequence:  q.BrokenAt,
			Reason:    q.Reason,
		}
	}
	if !errors.Is(err, stores.ErrNotFound) {
		return nil, err
	}
	return j.store.GetJournalEntries(ctx, tenantID, entityRef, limit, offset)
}

// VerifyChain recomputes the hash chain for an entity from the first
// entry and reports the first mismatch. On a mismatch the entity is
// quarantined.
func (j *Journal) VerifyChain(ctx context.Context, tenantID, entityRef string) (*VerifyResult, error) {
	entries, err := j.store.GetJournalEntries(ctx, tenantID, entityRef, int(^uint(0)>>1), 0)
	if err != nil {
		return nil, err
	}

	prevHash := ""
	expectedSeq := int64(1)
	for _, e := range entries {
		reason := ""
		switch {
		case e.Sequence != expectedSeq:
			reason = fmt.Sprintf("sequence gap: expected %d", expectedSeq)
		case e.PrevHash != prevHash:
			reason = "prev hash mismatch"
		case e.PayloadHash != payloadHash(e.Payload):
			reason = "payload hash mismatch"
		}
		if reason != "" {
			j.quarantine(ctx, tenantID, entityRef, e.Sequence, reason)
			if j.metrics != nil {
				j.metrics.RecordChainVerification(false)
			}
			return &VerifyResult{Valid: false, BrokenAt: e.Sequence, Entries: len(entries)}, nil
		}
		prevHash = entryHash(e)
		expectedSeq++
	}

	if j.metrics != nil {
		j.metrics.RecordChainVerification(true)
	}
	return &VerifyResult{Valid: true, Entries: len(entries)}, nil
}

func (j *Journal) quarantine(ctx context.Context, tenantID, entityRef string, seq int64, reason string) {
	j.logger.Error().
		Str("entity", entityRef).
		Int64("sequence", seq).
		Str("reason", reason).
		Msg("journal chain broken, quarantining entity")

	err := j.store.CreateQuarantine(ctx, &stores.Quarantine{
		TenantID:  tenantID,
		EntityRef: entityRef,
		BrokenAt:  seq,
		Reason:    reason,
		CreatedAt: j.now().UTC(),
	})
	if err != nil {
		j.logger.Error().Err(err).Str("entity", entityRef).Msg("failed to record quarantine")
	}
}

// entryHash hashes an entry's core fields. The next entry stores this
// as its prevHash, forming the chain.
func entryHash(e *stores.JournalEntry) string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatInt(e.Sequence, 10)))
	h.Write([]byte{0})
	h.Write([]byte(e.TenantID))
	h.Write([]byte{0})
	h.Write([]byte(e.EntityRef))
	h.Write([]byte{0})
	h.Write([]byte(e.EventType))
	h.Write([]byte{0})
	h.Write([]byte(e.Actor))
	h.Write([]byte{0})
	h.Write([]byte(e.TimestampUTC.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte{0})
	h.Write([]byte(e.PayloadHash))
	h.Write([]byte{0})
	h.Write([]byte(e.PrevHash))
	return hex.EncodeToString(h.Sum(nil))
}

// payloadHash recomputes the canonical payload hash from the stored
// JSON blob.
func payloadHash(payload string) string {
	var v interface{}
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		// Unparseable payloads hash over raw bytes; the mismatch
		// against the recorded hash is what matters.
		sum := sha256.Sum256([]byte(payload))
		return hex.EncodeToString(sum[:])
	}
	return dsl.HashPayload(v)
}
