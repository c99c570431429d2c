package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func boolPtr(b bool) *bool { return &b }

func TestRun_Scenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

func TestRun_TraceShape(t *testing.T) {
	scenario := &Scenario{
		Name:        "trace_shape",
		Description: "Online fetch reaches the backend",
		Flow: []FlowStep{
			{
				Invoke: ActionFetch,
				Args:   map[string]any{"method": "get", "url": "/tasks"},
				Expect: &ExpectClause{Case: "sent", Result: map[string]any{"status": 200}},
			},
		},
		Assertions: []Assertion{
			{Type: AssertRequests, Requests: []string{"GET /tasks"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Trace, 3)
	assert.Equal(t, EventInvocation, result.Trace[0].Type)
	assert.Equal(t, ActionFetch, result.Trace[0].Action)
	assert.Equal(t, EventRequest, result.Trace[1].Type)
	assert.Equal(t, "GET /tasks", result.Trace[1].Action, "method is normalized before sending")
	assert.Equal(t, EventCompletion, result.Trace[2].Type)
	assert.Equal(t, "sent", result.Trace[2].OutputCase)
	assert.Equal(t, map[string]any{"status": float64(200)}, result.Trace[2].Result)

	for i, event := range result.Trace {
		assert.Equal(t, int64(i+1), event.Seq)
	}
}

func TestRun_SetupIsNotTraced(t *testing.T) {
	scenario := &Scenario{
		Name:        "setup_untraced",
		Description: "Setup steps run but do not appear in the trace",
		Online:      boolPtr(false),
		Setup: []ActionStep{
			{Action: ActionFetch, Args: map[string]any{"method": "POST", "url": "/tasks/1/complete"}},
			{Action: ActionSetOnline, Args: map[string]any{"online": true}},
		},
		Flow: []FlowStep{
			{Invoke: ActionSync, Expect: &ExpectClause{Case: "completed", Result: map[string]any{"replayed": 1}}},
		},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Action: ActionFetch, Count: intPtr(0)},
			{Type: AssertRequests, Requests: []string{"POST /tasks/1/complete"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Len(t, result.Trace, 3)
	assert.Equal(t, int64(1), result.Trace[0].Seq)
}

func TestRun_ExpectCaseMismatch(t *testing.T) {
	scenario := &Scenario{
		Name:        "case_mismatch",
		Description: "Online fetch is sent, not queued",
		Flow: []FlowStep{
			{
				Invoke: ActionFetch,
				Args:   map[string]any{"method": "POST", "url": "/tasks/1/complete"},
				Expect: &ExpectClause{Case: "queued"},
			},
		},
		Assertions: []Assertion{
			{Type: AssertTraceContains, Action: ActionFetch},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `expected case "queued", got "sent"`)
}

func TestRun_ExpectResultMismatch(t *testing.T) {
	scenario := &Scenario{
		Name:        "result_mismatch",
		Description: "Pending id is 1, not 5",
		Online:      boolPtr(false),
		Flow: []FlowStep{
			{
				Invoke: ActionFetch,
				Args:   map[string]any{"url": "/tasks"},
				Expect: &ExpectClause{Case: "queued", Result: map[string]any{"pending_id": 5}},
			},
		},
		Assertions: []Assertion{
			{Type: AssertRequests, Requests: []string{}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected result")
}

func TestRun_FailingAssertionReported(t *testing.T) {
	scenario := &Scenario{
		Name:        "failing_assertion",
		Description: "Queue is not empty after an offline fetch",
		Online:      boolPtr(false),
		Flow: []FlowStep{
			{Invoke: ActionFetch, Args: map[string]any{"method": "POST", "url": "/tasks/1/complete"}},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Table: "pendingRequests", Count: intPtr(0)},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "final_state")
}

func TestRun_StateSnapshot(t *testing.T) {
	scenario := &Scenario{
		Name:        "state_snapshot",
		Description: "Every partition is captured after the flow",
		Online:      boolPtr(false),
		Flow: []FlowStep{
			{Invoke: ActionSaveTask, Args: map[string]any{"id": "42", "status": "pending"}},
			{Invoke: ActionFetch, Args: map[string]any{"method": "POST", "url": "/tasks/42/complete"}},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Table: "tasks", Count: intPtr(1)},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	assert.Len(t, result.State["tasks"], 1)
	assert.Empty(t, result.State["qualityScores"])
	assert.Empty(t, result.State["deadLetters"])
	require.Len(t, result.State["pendingRequests"], 1)

	pending := result.State["pendingRequests"][0]
	assert.Equal(t, "req-1", pending["key"])
	assert.NotEmpty(t, pending["enqueued_at"])
}

func TestRun_SetupErrorAborts(t *testing.T) {
	scenario := &Scenario{
		Name:        "setup_error",
		Description: "A bad setup step stops the run",
		Setup: []ActionStep{
			{Action: ActionSetOnline, Args: map[string]any{}},
		},
		Flow:       []FlowStep{{Invoke: ActionSync}},
		Assertions: []Assertion{{Type: AssertRequests, Requests: []string{}}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "online is required")
}

func TestRun_UnknownArgsRejected(t *testing.T) {
	scenario := &Scenario{
		Name:        "unknown_args",
		Description: "Typos in action args are caught",
		Flow: []FlowStep{
			{Invoke: ActionFetch, Args: map[string]any{"url": "/tasks", "methd": "POST"}},
		},
		Assertions: []Assertion{{Type: AssertRequests, Requests: []string{}}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flow[0] (fetch)")
}

func TestRun_BackendError(t *testing.T) {
	scenario := &Scenario{
		Name:        "backend_error",
		Description: "A non-connectivity transport error is returned, not queued",
		Flow: []FlowStep{
			{Invoke: ActionBackend, Args: map[string]any{
				"replies": []any{map[string]any{"error": "tls: bad certificate"}},
			}},
			{
				Invoke: ActionFetch,
				Args:   map[string]any{"method": "POST", "url": "/tasks/1/complete"},
				Expect: &ExpectClause{Case: "error"},
			},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Table: "pendingRequests", Count: intPtr(0)},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "fifo_replay.yaml"))
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.State, second.State)
}

func TestReplyArgs(t *testing.T) {
	r := replyArgs{Status: 409, Body: []byte(`"{\"error\":\"conflict\"}"`)}.reply()
	assert.Equal(t, 409, r.Status)
	assert.Equal(t, `{"error":"conflict"}`, r.Body, "YAML strings are used verbatim")

	r = replyArgs{Status: 200, Body: []byte(`{"ok":true}`)}.reply()
	assert.Equal(t, `{"ok":true}`, r.Body, "structured bodies are sent as JSON")

	r = replyArgs{Unreachable: true}.reply()
	assert.Error(t, r.Err)

	r = replyArgs{Error: "boom"}.reply()
	assert.EqualError(t, r.Err, "boom")
}
