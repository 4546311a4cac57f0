// Package store provides SQLite-backed durable storage for
// linearization runs.
//
// The store is an append-only record with:
//   - Kernels: content-addressed kernel revisions (hash + canonical body)
//   - Runs: one row per linearization run, keyed by run token
//   - Schedules: accepted schedules, unique per (run, ordinal)
//   - Schedule items: the ordered enter/leave/run/barrier sequence
//
// # Critical Patterns
//
// Idempotent writes
//   - Every insert uses ON CONFLICT DO NOTHING on a natural key
//     (kernel hash, run token, run+ordinal), so replaying a save after
//     a crash never duplicates records.
//
// Logical time
//   - All ordering uses the seq INTEGER logical clock plus binary
//     collation, never timestamps, so trace read-back is deterministic.
//
// Canonical serialization
//   - Kernel bodies and run configurations are stored as RFC 8785
//     canonical JSON, the same bytes content hashes are computed over.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
