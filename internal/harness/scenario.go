package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/fieldsync/internal/engine"
)

// Scenario defines a conformance test scenario.
// A scenario drives the sync engine against a scripted backend through a
// sequence of steps and asserts on the resulting trace and final store
// contents.
type Scenario struct {
	// Name uniquely identifies this scenario. It is also the golden file
	// name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Online is the initial connectivity state. Default: online.
	Online *bool `yaml:"online,omitempty"`

	// Policy is the rejection policy name. Default: retain.
	Policy string `yaml:"policy,omitempty"`

	// Setup contains steps run before the main flow. They are not traced
	// and must not fail.
	Setup []ActionStep `yaml:"setup,omitempty"`

	// Flow contains the main test flow - invocations with expected results.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and store contents.
	Assertions []Assertion `yaml:"assertions"`
}

// ActionStep represents a single setup action.
type ActionStep struct {
	// Action is one of the Action* names.
	Action string `yaml:"action"`

	// Args contains the action arguments.
	Args map[string]any `yaml:"args"`
}

// FlowStep represents a step in the main test flow.
type FlowStep struct {
	// Invoke is one of the Action* names.
	Invoke string `yaml:"invoke"`

	// Args contains the action arguments.
	Args map[string]any `yaml:"args"`

	// Expect specifies the expected outcome.
	// If nil, no validation is performed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies expected step behavior.
type ExpectClause struct {
	// Case is the expected outcome name (e.g. "queued", "sent", "aborted").
	Case string `yaml:"case"`

	// Result contains expected result field values.
	// This is a subset match - only specified fields are validated.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": Check action appears in trace with args
	// - "trace_order": Check actions appear in order
	// - "trace_count": Check action appears exactly N times
	// - "requests": Check the backend saw exactly these requests, in order
	// - "final_state": Read a partition and verify records
	Type string `yaml:"type"`

	// Action is the action name (used by trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Args are the expected action arguments (used by trace_contains).
	// Subset match - only specified fields are validated.
	Args map[string]any `yaml:"args,omitempty"`

	// Table is the partition name (used by final_state): tasks,
	// qualityScores, pendingRequests or deadLetters.
	Table string `yaml:"table,omitempty"`

	// Where filters records (used by final_state). Subset match.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected field values of the first matching record
	// (used by final_state). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of occurrences (trace_count) or
	// matching records (final_state).
	Count *int `yaml:"count,omitempty"`

	// Actions is the expected action order (used by trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Requests lists "METHOD URL" entries (used by requests).
	Requests []string `yaml:"requests,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertRequests      = "requests"
	AssertFinalState    = "final_state"
)

// Actions understood by setup and flow steps.
const (
	ActionFetch     = "fetch"      // args: method, url, headers, body
	ActionSync      = "sync"       // no args
	ActionSetOnline = "set_online" // args: online
	ActionBackend   = "backend"    // args: replies, default
	ActionSaveTask  = "save_task"  // args: a task snapshot
	ActionSaveScore = "save_score" // args: a quality score snapshot
	ActionClear     = "clear"      // no args
)

var knownActions = []string{
	ActionFetch,
	ActionSync,
	ActionSetOnline,
	ActionBackend,
	ActionSaveTask,
	ActionSaveScore,
	ActionClear,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if _, err := engine.ParseRejectionPolicy(s.Policy); err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	for i, step := range s.Setup {
		if step.Action == "" {
			return fmt.Errorf("setup[%d]: action is required", i)
		}
		if !slices.Contains(knownActions, step.Action) {
			return fmt.Errorf("setup[%d]: unknown action %q", i, step.Action)
		}
	}

	for i, step := range s.Flow {
		if step.Invoke == "" {
			return fmt.Errorf("flow[%d]: invoke is required", i)
		}
		if !slices.Contains(knownActions, step.Invoke) {
			return fmt.Errorf("flow[%d]: unknown action %q", i, step.Invoke)
		}
		if step.Expect != nil && step.Expect.Case == "" {
			return fmt.Errorf("flow[%d].expect: case is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for trace_count", index)
		}
	case AssertRequests:
		if a.Requests == nil {
			return fmt.Errorf("assertions[%d]: requests list is required (use [] for none)", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if a.Count == nil && a.Expect == nil {
			return fmt.Errorf("assertions[%d]: final_state needs count or expect", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
