// Package harness provides a conformance testing framework for the fieldsync
// sync engine.
//
// A scenario runs the real engine over a fresh in-memory store, a
// scripted testutil.FakeBackend and a connectivity monitor the scenario
// flips explicitly.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: offline_queue_replay
//	description: "What this scenario validates"
//	online: false            # initial connectivity, default true
//	policy: dead-letter      # rejection policy, default retain
//	setup:
//	  - action: save_task
//	    args: { id: "42", status: pending, scheduled_at: 2024-05-01T08:00:00Z, updated_at: 2024-05-01T08:00:00Z }
//	flow:
//	  - invoke: fetch
//	    args: { method: POST, url: /tasks/42/complete }
//	    expect:
//	      case: queued
//	      result: { pending_id: 1 }
//	  - invoke: set_online
//	    args: { online: true }
//	  - invoke: sync
//	    expect: { case: completed, result: { replayed: 1 } }
//	assertions:
//	  - type: requests
//	    requests: ["POST /tasks/42/complete"]
//	  - type: final_state
//	    table: pendingRequests
//	    count: 0
//
// # Actions
//
//   - fetch: FetchWithOfflineSupport; cases sent, queued, error
//   - sync: SyncPendingRequests; cases completed, aborted, blocked, skipped, error
//   - set_online: platform connectivity report; case ok
//   - backend: script replies ({status, body}, {unreachable: true} or
//     {error: msg}) and optionally a default; case ok
//   - save_task, save_score, clear: cache writes; cases ok, error
//
// # Assertion Types
//
//   - trace_contains: an action or "METHOD URL" request appears, with args
//   - trace_order: actions or requests appear in the given order
//   - trace_count: an action or request appears exactly N times
//   - requests: the backend saw exactly these requests, in order
//   - final_state: reads a partition and checks count and field values
//
// # Deterministic Testing
//
// The harness uses a testutil.DeterministicClock starting at Epoch,
// testutil.SequentialKeyGenerator request keys and an in-memory SQLite
// store per scenario. Traces are identical across runs, which makes them
// suitable for golden comparison via RunWithGolden.
package harness
