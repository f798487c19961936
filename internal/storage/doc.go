// Package storage is the record-store boundary of the scheduling engine.
//
// The engine never blocks on disk or network directly: reconciliation and
// instance generation go through the Store interface, which the rest of the
// records application also uses to persist tasks, completions, prescriptions
// and dispensing instances.
//
// Drivers:
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "memory": in-process maps, used by tests and ephemeral setups
//
// Concurrency is pushed to this boundary per the engine's contract: the
// unique (prescription, date, slot) key makes instance generation idempotent
// under concurrent invocations, and task-schedule updates are per-row writes.
package storage
