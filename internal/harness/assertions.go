package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/roach88/fieldsync/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			switch event.Type {
			case EventInvocation:
				fmt.Fprintf(&buf, "  [%d] %s %v\n", event.Seq, event.Action, event.Args)
			case EventRequest:
				fmt.Fprintf(&buf, "  [%d] -> %s\n", event.Seq, event.Action)
			}
		}
	}

	return buf.String()
}

// labelled reports whether event is an invocation or backend request
// carrying the given action label.
func labelled(event TraceEvent, action string) bool {
	return (event.Type == EventInvocation || event.Type == EventRequest) && event.Action == action
}

// assertTraceContains checks if the trace contains an invocation matching
// the specified action and args (subset match).
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	want, err := normalizeMap(assertion.Args)
	if err != nil {
		return fmt.Errorf("trace_contains args: %w", err)
	}
	for _, event := range trace {
		if labelled(event, assertion.Action) && matchArgs(event.Args, want) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("action %s with args %v", assertion.Action, want),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if actions appear in the specified order.
// Actions don't need to be consecutive (intervening actions are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	// Step 1: Find first position of each expected action
	positions := make(map[string]int)
	for i, event := range trace {
		for _, expected := range assertion.Actions {
			if labelled(event, expected) && positions[expected] == 0 {
				positions[expected] = i + 1 // 1-indexed for readability
			}
		}
	}

	// Step 2: Verify all actions found
	for _, action := range assertion.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	// Step 3: Verify order
	for i := 1; i < len(assertion.Actions); i++ {
		prev := assertion.Actions[i-1]
		curr := assertion.Actions[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks if the action appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if labelled(event, assertion.Action) {
			count++
		}
	}

	if count != *assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", *assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertRequests checks that the backend saw exactly the listed
// requests, in order.
func assertRequests(trace []TraceEvent, assertion Assertion) error {
	var seen []string
	for _, event := range trace {
		if event.Type == EventRequest {
			seen = append(seen, event.Action)
		}
	}

	if !slices.Equal(seen, assertion.Requests) {
		return &AssertionError{
			Type:     AssertRequests,
			Expected: fmt.Sprintf("requests %q", assertion.Requests),
			Actual:   fmt.Sprintf("requests %q", seen),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState reads a partition and checks the records matching
// Where. Count, when set, is the exact number of matches; Expect is a
// subset match against the first match in partition order.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	records, err := partitionRecords(ctx, st, assertion.Table)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("read partition %s", assertion.Table),
			Actual:   fmt.Sprintf("read error: %v", err),
		}
	}

	where, err := normalizeMap(assertion.Where)
	if err != nil {
		return fmt.Errorf("final_state where: %w", err)
	}
	expect, err := normalizeMap(assertion.Expect)
	if err != nil {
		return fmt.Errorf("final_state expect: %w", err)
	}

	var matches []map[string]any
	for _, rec := range records {
		if matchArgs(rec, where) {
			matches = append(matches, rec)
		}
	}

	if assertion.Count != nil && len(matches) != *assertion.Count {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%d records in %s where %s", *assertion.Count, assertion.Table, formatWhere(where)),
			Actual:   fmt.Sprintf("%d records", len(matches)),
		}
	}

	if expect == nil {
		return nil
	}
	if len(matches) == 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("record in %s where %s", assertion.Table, formatWhere(where)),
			Actual:   "record not found",
		}
	}

	actual := matches[0]
	for _, key := range sortedKeys(expect) {
		value, exists := actual[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("fields present: %v", sortedKeys(actual)),
			}
		}
		if !valuesEqual(value, expect[key]) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v", key, expect[key]),
				Actual:   fmt.Sprintf("field %q = %v", key, value),
			}
		}
	}

	return nil
}

// partitionRecords returns a partition's records as JSON-shaped maps in
// the store's listing order.
func partitionRecords(ctx context.Context, st *store.Store, table string) ([]map[string]any, error) {
	var (
		records any
		err     error
	)
	switch store.Partition(table) {
	case store.PartitionTasks:
		records, err = st.ListTasks(ctx)
	case store.PartitionQualityScores:
		records, err = st.ListQualityScores(ctx)
	case store.PartitionPendingRequests:
		records, err = st.ListPendingRequests(ctx)
	case store.PartitionDeadLetters:
		records, err = st.ListDeadLetters(ctx)
	default:
		return nil, fmt.Errorf("unknown partition %q", table)
	}
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", table, err)
	}
	out := []map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", table, err)
	}
	return out, nil
}

// formatWhere creates a human-readable description of filter conditions.
func formatWhere(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	parts := make([]string, 0, len(where))
	for _, k := range sortedKeys(where) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// matchArgs checks if actual args contain all expected args (subset match).
// Extra keys in actual are ignored.
func matchArgs(actual any, expected map[string]any) bool {
	if len(expected) == 0 {
		return true
	}

	actualMap, ok := actual.(map[string]any)
	if !ok {
		return false
	}

	for key, expectedVal := range expected {
		actualVal, exists := actualMap[key]
		if !exists {
			return false
		}
		if !valuesEqual(actualVal, expectedVal) {
			return false
		}
	}
	return true
}

// valuesEqual compares two normalized values. Nested maps use subset
// semantics; everything else must be deeply equal.
func valuesEqual(actual, expected any) bool {
	if nested, ok := expected.(map[string]any); ok {
		if len(nested) == 0 {
			_, isMap := actual.(map[string]any)
			return isMap
		}
		return matchArgs(actual, nested)
	}
	return reflect.DeepEqual(actual, expected)
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides store access for final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			if assertion.Count == nil {
				err = fmt.Errorf("assertion[%d]: trace_count requires count", i)
			} else {
				err = assertTraceCount(result.Trace, assertion)
			}
		case AssertRequests:
			err = assertRequests(result.Trace, assertion)
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires store context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
