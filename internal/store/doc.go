// Package store provides the SQLite-backed event journal.
//
// The journal is append-only and holds two tables:
//   - events: every dispatched event, one row per (run, event id)
//   - failures: worker, chain and teardown failures reported by the engine
//
// # Critical Patterns
//
// Logical identity and time:
//   - Rows are ordered by seq (insertion order) and event id (the engine's
//     logical clock), NEVER by wall time
//   - A run id (UUIDv7) separates engine runs sharing one database file
//
// Idempotency:
//   - UNIQUE(run, event_id); writing the same event twice is a no-op
//
// Names are stored as canonical JSON arrays of their atoms, so numbers and
// strings survive the round trip.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
