// Package store provides SQLite-backed durable state for the intake
// pipeline: checkpoints, accepted candidates, the quarantine log, lineage
// chains, and the per-scope metrics ledger.
//
// # Transaction discipline
//
// Every record-level mutation is one atomic unit: the candidate or
// quarantine write, the lineage chain update, the metric increments, and
// the checkpoint advance for that record either all become durable or none
// do. A checkpoint therefore never advances past a record whose outcome was
// not durably recorded, which is what makes crash/replay safe.
//
// Admission conflict checks (dedup, payload-hash mismatch, lineage
// conflicts) run INSIDE the admission transaction. Combined with SQLite's
// single writer this serializes concurrent partitions that touch the same
// decision id, so first-writer-wins provenance holds without any
// application-level locking.
//
// # Append-only audit rules
//
// Candidates and quarantine rows are created on first admission and never
// mutated or deleted. Conflicting re-observations are quarantined, never
// merged into the original. The quarantine table's unique source coordinate
// makes replayed appends no-ops.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//
// Content hashes are computed in internal/envelope using RFC 8785 canonical
// JSON and SHA-256 with domain separation.
package store
