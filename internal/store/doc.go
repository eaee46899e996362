// Package store provides the SQLite-backed record store.
//
// The store keeps an append-only history:
//   - snapshots: one row per (oid, ts), tombstones included
//   - record_fields: the payload of each snapshot, one row per key, for queries
//   - commits: commit metadata keyed by timestamp
//   - commit_entries: the OIDs each commit touched, in submission order
//
// # Critical Patterns
//
// Deterministic Query Results
//   - Every query has an ORDER BY; text ordering uses COLLATE BINARY
//
// Serialized Writers
//   - One pooled connection and BEGIN IMMEDIATE transactions
//   - A commit's conflict check and its writes run in one transaction
//
// Shared Predicate Semantics
//   - edb_fold and edb_like are registered from queryir, so SQL and
//     in-memory matching agree exactly
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads from other processes during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait up to 5s for locks
//   - foreign_keys=ON: Enforce referential integrity
package store
