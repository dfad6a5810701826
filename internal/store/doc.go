// Package store provides SQLite-backed storage for tasks and the entities
// task queries read.
//
// The store plays two roles:
//   - Execution adapter: Count, List, NativeCount and NativeList run
//     resolved task queries compiled by internal/querysql.
//   - Repository: a Tx exposes task, identity link, variable, comment,
//     attachment and membership operations for the task service.
//
// # Optimistic Locking
//
// Every task row carries a version. UpdateTask writes with
// WHERE id = ? AND version = ?, so of two saves based on the same version
// exactly one succeeds; the other gets CONCURRENCY_CONFLICT.
//
// # Deterministic Query Results
//
// All list queries end with: id ASC COLLATE BINARY.
//
// # SQL Functions
//
// Each connection registers fold(x) and like_match(x, pattern), backed by
// internal/value, so case folding and LIKE agree with the in-memory adapter.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
