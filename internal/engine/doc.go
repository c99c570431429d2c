// Package engine implements the offline-aware sync engine.
//
// The engine owns the pending-request queue. Writes go through
// FetchWithOfflineSupport: online, they are sent directly; offline, or
// when the network turns out to be unreachable, they are persisted and
// an "accepted and queued" response is returned at once.
//
// When the connectivity monitor reports an online transition, Run drains
// the queue with SyncPendingRequests.
//
// DRAIN RULES:
//
// Single-flight: at most one drain runs at a time. A second call while
// one is active returns immediately with Skipped set.
//
// Order: requests replay strictly sequentially in ascending seq, the
// order they were queued. There is no skip-ahead.
//
// Removal: a request leaves the queue only after a 2xx response. A
// connectivity failure aborts the pass and leaves the failed request and
// everything after it untouched. A non-2xx response is a rejection,
// handled by the configured RejectionPolicy. Whenever a request stays
// queued (retained rejection, other transport error) the pass stops
// there, so nothing queued behind it is replayed first.
//
// A drain cannot be cancelled once started: it runs on a context
// detached from the caller's cancellation.
package engine
