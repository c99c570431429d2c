// Package model provides the record types shared by the offline store, the
// sync engine and the CLI.
//
// This package contains type definitions and the error taxonomy only. All
// other internal packages import model; model imports nothing internal.
//
// Key design constraints:
//   - Snapshots (Task, QualityScore) are replaced wholesale on save, no field merge
//   - PendingRequest is immutable once created
//   - Queue ordering uses Seq only; EnqueuedAt is informational
//   - All JSON tags use snake_case
package model
