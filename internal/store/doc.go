// Package store provides SQLite-backed durable storage for the offline cache
// and the pending-write queue.
//
// Each logical partition is one table:
//   - tasks: Task snapshots keyed by id; indexed on status and assigned_to
//   - quality_scores: QualityScore snapshots keyed by id; indexed on task_id
//   - pending_requests: deferred writes; AUTOINCREMENT id, unique seq, indexed enqueued_at
//   - dead_letters: replays the server rejected (only under the dead-letter policy)
//
// # Ordering
//
// Replay order is ORDER BY seq ASC, id ASC. seq comes from a high-water mark
// in the meta table that is bumped inside the enqueue transaction, and Clear
// leaves the mark in place. Neither seq nor id is ever reused, so a cleared
// and refilled queue cannot interleave with old entries. enqueued_at is wall
// time and only informational.
//
// # Snapshots
//
// Task and QualityScore rows store the whole record as a JSON document; the
// indexed columns are projections of it. Saving replaces the document.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Every error leaving this package is a *model.StorageError, except
// ErrNotFound for absent keys.
package store
