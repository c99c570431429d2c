package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/fieldsync/internal/connectivity"
	"github.com/roach88/fieldsync/internal/engine"
	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/store"
	"github.com/roach88/fieldsync/internal/testutil"
)

// Epoch is the first clock reading of every scenario.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness is the test execution engine.
// It runs scenarios with a deterministic clock and request keys.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine
	monitor *connectivity.Monitor
	backend *testutil.FakeBackend
	logger  *slog.Logger

	mu      sync.Mutex
	result  *Result
	seq     int64
	tracing bool
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Create fresh in-memory database, backend and monitor
// 2. Execute setup steps (untraced)
// 3. Execute flow steps with expect validation
// 4. Snapshot every partition into Result.State
// 5. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	policy, err := engine.ParseRejectionPolicy(scenario.Policy)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	initial := connectivity.Online
	if scenario.Online != nil && !*scenario.Online {
		initial = connectivity.Offline
	}

	clock := testutil.NewDeterministicClock(Epoch, time.Second)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	monitor := connectivity.NewMonitor(initial,
		connectivity.WithLogger(logger),
		connectivity.WithClock(clock.Now),
	)
	backend := testutil.NewFakeBackend()

	h := &Harness{
		store:   st,
		monitor: monitor,
		backend: backend,
		logger:  logger,
		result:  NewResult(),
		engine: engine.New(st, backend, monitor,
			engine.WithLogger(logger),
			engine.WithClock(clock.Now),
			engine.WithKeyGenerator(testutil.NewSequentialKeyGenerator("req")),
			engine.WithRejectionPolicy(policy),
		),
	}
	backend.SetHook(h.recordRequest)

	ctx := context.Background()

	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	h.tracing = true
	if err := h.executeFlow(ctx, scenario.Flow); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}
	h.tracing = false

	for _, p := range store.Partitions {
		records, err := partitionRecords(ctx, st, string(p))
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot %s: %w", p, err)
		}
		h.result.State[string(p)] = records
	}

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, errMsg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(errMsg)
	}

	return h.result, nil
}

// executeSetup runs all setup steps. A setup step that ends in the
// "error" case aborts the scenario.
func (h *Harness) executeSetup(ctx context.Context, setup []ActionStep) error {
	for i, step := range setup {
		outputCase, result, err := h.invoke(ctx, step.Action, step.Args)
		if err != nil {
			return fmt.Errorf("setup[%d] (%s): %w", i, step.Action, err)
		}
		if outputCase == caseError {
			return fmt.Errorf("setup[%d] (%s): %v", i, step.Action, result["error"])
		}
	}
	return nil
}

// executeFlow runs all flow steps, tracing each invocation and completion
// and checking expect clauses.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep) error {
	for i, step := range flow {
		args, err := normalizeMap(step.Args)
		if err != nil {
			return fmt.Errorf("flow[%d] (%s): args: %w", i, step.Invoke, err)
		}
		var tracedArgs any
		if args != nil {
			tracedArgs = args
		}
		h.trace(func(seq int64) { h.result.AddInvocationTrace(step.Invoke, tracedArgs, seq) })

		outputCase, result, err := h.invoke(ctx, step.Invoke, step.Args)
		if err != nil {
			return fmt.Errorf("flow[%d] (%s): %w", i, step.Invoke, err)
		}
		var traced any
		if len(result) > 0 {
			traced = result
		}
		h.trace(func(seq int64) { h.result.AddCompletionTrace(outputCase, traced, seq) })

		if step.Expect == nil {
			continue
		}
		if outputCase != step.Expect.Case {
			h.result.AddError(fmt.Sprintf("flow[%d] (%s): expected case %q, got %q (result %v)",
				i, step.Invoke, step.Expect.Case, outputCase, result))
			continue
		}
		want, err := normalizeMap(step.Expect.Result)
		if err != nil {
			return fmt.Errorf("flow[%d] (%s): expect: %w", i, step.Invoke, err)
		}
		if !matchArgs(result, want) {
			h.result.AddError(fmt.Sprintf("flow[%d] (%s): expected result %v, got %v",
				i, step.Invoke, want, result))
		}
	}
	return nil
}

func (h *Harness) trace(add func(seq int64)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.tracing {
		return
	}
	h.seq++
	add(h.seq)
}

func (h *Harness) recordRequest(req model.Request) {
	h.trace(func(seq int64) { h.result.AddRequestTrace(req.Method, req.URL, seq) })
}

// Output cases.
const (
	caseOK        = "ok"
	caseError     = "error"
	caseSent      = "sent"
	caseQueued    = "queued"
	caseCompleted = "completed"
	caseSkipped   = "skipped"
	caseAborted   = "aborted"
	caseBlocked   = "blocked"
)

type fetchArgs struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
}

type setOnlineArgs struct {
	Online *bool `json:"online"`
}

type replyArgs struct {
	Status      int             `json:"status"`
	Body        json.RawMessage `json:"body"`
	Unreachable bool            `json:"unreachable"`
	Error       string          `json:"error"`
}

type backendArgs struct {
	Replies []replyArgs `json:"replies"`
	Default *replyArgs  `json:"default"`
}

// invoke runs one action and returns its outcome. An error means the
// harness itself could not run the step; engine failures that a scenario
// may expect are reported as the "error" case.
func (h *Harness) invoke(ctx context.Context, action string, raw map[string]any) (string, map[string]any, error) {
	switch action {
	case ActionFetch:
		var args fetchArgs
		if err := decodeArgs(raw, &args); err != nil {
			return "", nil, err
		}
		if args.URL == "" {
			return "", nil, errors.New("url is required")
		}
		resp, err := h.engine.FetchWithOfflineSupport(ctx, model.Request{
			Method:  args.Method,
			URL:     args.URL,
			Headers: args.Headers,
			Body:    args.Body,
		})
		if err != nil {
			return caseError, map[string]any{"error": err.Error()}, nil
		}
		result := map[string]any{"status": float64(resp.Status)}
		if resp.Queued {
			result["pending_id"] = float64(resp.PendingID)
			return caseQueued, result, nil
		}
		return caseSent, result, nil

	case ActionSync:
		r, err := h.engine.SyncPendingRequests(ctx)
		if err != nil {
			return caseError, map[string]any{"error": err.Error()}, nil
		}
		if r.Skipped {
			return caseSkipped, map[string]any{"reason": r.SkipReason}, nil
		}
		result := map[string]any{
			"replayed":  float64(r.Replayed),
			"rejected":  float64(r.Rejected),
			"failed":    float64(r.Failed),
			"remaining": float64(r.Remaining),
		}
		if r.Aborted {
			return caseAborted, result, nil
		}
		if r.Blocked {
			return caseBlocked, result, nil
		}
		return caseCompleted, result, nil

	case ActionSetOnline:
		var args setOnlineArgs
		if err := decodeArgs(raw, &args); err != nil {
			return "", nil, err
		}
		if args.Online == nil {
			return "", nil, errors.New("online is required")
		}
		h.monitor.SetPlatformOnline(*args.Online)
		return caseOK, map[string]any{"state": h.monitor.State().String()}, nil

	case ActionBackend:
		var args backendArgs
		if err := decodeArgs(raw, &args); err != nil {
			return "", nil, err
		}
		replies := make([]testutil.Reply, 0, len(args.Replies))
		for _, r := range args.Replies {
			replies = append(replies, r.reply())
		}
		h.backend.Push(replies...)
		if args.Default != nil {
			h.backend.SetDefault(args.Default.reply())
		}
		return caseOK, map[string]any{"scripted": float64(len(replies))}, nil

	case ActionSaveTask:
		var task model.Task
		if err := decodeArgs(raw, &task); err != nil {
			return "", nil, err
		}
		if err := h.engine.SaveTask(ctx, task); err != nil {
			return caseError, map[string]any{"error": err.Error()}, nil
		}
		return caseOK, nil, nil

	case ActionSaveScore:
		var score model.QualityScore
		if err := decodeArgs(raw, &score); err != nil {
			return "", nil, err
		}
		if err := h.engine.SaveQualityScore(ctx, score); err != nil {
			return caseError, map[string]any{"error": err.Error()}, nil
		}
		return caseOK, nil, nil

	case ActionClear:
		if err := h.engine.ClearDatabase(ctx); err != nil {
			return caseError, map[string]any{"error": err.Error()}, nil
		}
		return caseOK, nil, nil
	}

	return "", nil, fmt.Errorf("unknown action %q", action)
}

func (r replyArgs) reply() testutil.Reply {
	switch {
	case r.Unreachable:
		return testutil.Unreachable
	case r.Error != "":
		return testutil.Reply{Err: errors.New(r.Error)}
	}

	body := string(r.Body)
	var s string
	if err := json.Unmarshal(r.Body, &s); err == nil {
		body = s
	}
	return testutil.Reply{Status: r.Status, Body: body}
}

// decodeArgs converts YAML args into a typed struct, rejecting unknown
// keys.
func decodeArgs(args map[string]any, v any) error {
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode args: %w", err)
	}
	return nil
}

// normalizeMap round-trips m through JSON so YAML ints and Go ints both
// compare as float64. Empty or nil maps normalize to nil.
func normalizeMap(m map[string]any) (map[string]any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// sortedKeys returns m's keys in order.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
