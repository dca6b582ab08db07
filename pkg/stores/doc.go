// Package stores provides the persistence layer for the FlowPlane
// engine: workflow instance rows, SLA timers, escalation items, the
// append-only journal, and cached compiled artifacts.
//
// The package defines a Store interface and a SQLite implementation
// using modernc.org/sqlite (pure Go, no CGO) with embedded
// golang-migrate migrations. Rows that participate in optimistic
// concurrency (instances, timers) carry a version column; conditional
// updates return ErrVersionConflict on a mismatch and the engine
// surfaces that to the caller rather than retrying internally.
//
// Mutating operations accept an optional *sql.Tx so a transition, its
// journal entries, and its timer effects commit as one atomic unit.
package stores
