package harness

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_OfflineQueueReplay(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "offline_queue_replay.yaml"))
	require.NoError(t, err)

	// Regenerate with:
	//   go test ./internal/harness -run TestRunWithGolden -update
	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestTraceSnapshot_Marshal(t *testing.T) {
	snapshot := TraceSnapshot{
		ScenarioName: "snap",
		Trace: []TraceEvent{
			{Type: EventInvocation, Action: ActionSync, Seq: 1},
			{Type: EventCompletion, OutputCase: "completed", Result: map[string]any{"replayed": 0.0, "failed": 0.0}, Seq: 2},
		},
	}

	data, err := snapshot.marshal()
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), data[len(data)-1])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "snap", decoded["scenario_name"])

	s := string(data)
	assert.NotContains(t, s, `"args"`, "empty args are omitted")
	assert.Less(t, strings.Index(s, `"failed"`), strings.Index(s, `"replayed"`), "result keys are sorted")

	again, err := snapshot.marshal()
	require.NoError(t, err)
	assert.Equal(t, data, again)
}
