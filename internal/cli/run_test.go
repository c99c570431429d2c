package cli

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/connectivity"
	"github.com/roach88/fieldsync/internal/engine"
	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/realtime"
	"github.com/roach88/fieldsync/internal/store"
	"github.com/roach88/fieldsync/internal/testutil"
)

func TestRun_DrainsQueueAtStartup(t *testing.T) {
	c := newTestCLI(t, testConfig)
	c.mustRun("fetch", "--offline", "POST", "/tasks/1/complete")
	c.mustRun("fetch", "--offline", "POST", "/tasks/2/complete")

	ctx, cancel := context.WithCancel(context.Background())
	done := c.start(ctx, "run", "--no-realtime")

	require.Eventually(t, func() bool { return c.backend.Calls() == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	r := waitResult(t, done)
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "Sync engine started.")
	assert.Equal(t, []string{
		"https://api.example.test/tasks/1/complete",
		"https://api.example.test/tasks/2/complete",
	}, c.backend.URLs())
	assert.Zero(t, c.dialer.Dials())
	assert.Equal(t, "Pending requests: 0\n", c.mustRun("queue", "list"))
}

func TestRun_MirrorsPushEvents(t *testing.T) {
	c := newTestCLI(t, testConfig)
	c.mustRun("tasks", "put", "--data", task42)

	ctx, cancel := context.WithCancel(context.Background())
	done := c.start(ctx, "run")

	conn := c.waitConn()
	conn.Deliver([]byte(`{"type":"task_update","data":{"taskId":42,"status":"completed","updatedAt":"2024-05-01T09:45:00Z"},"timestamp":"2024-05-01T09:45:01Z"}`))

	st := c.openStore()
	require.Eventually(t, func() bool {
		task, err := st.GetTask(context.Background(), "42")
		return err == nil && task.Status == model.TaskCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	r := waitResult(t, done)
	require.NoError(t, r.err)
	assert.True(t, conn.Closed())
}

func TestRun_InvalidConfig(t *testing.T) {
	c := newTestCLI(t, "log:\n  level: loud\n")

	_, _, err := c.run("run")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

// newMirrorFixture builds a mirror over a fresh store.
func newMirrorFixture(t *testing.T) (*cacheMirror, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	e := engine.New(st, testutil.NewFakeBackend(), connectivity.NewMonitor(connectivity.Online))
	return newCacheMirror(e, slog.New(slog.NewTextHandler(io.Discard, nil))), st
}

func pushEvent(typ realtime.EventType, data string) realtime.Event {
	return realtime.Event{
		Type:      typ,
		Data:      json.RawMessage(data),
		Timestamp: testStart,
	}
}

func TestCacheMirror_TaskUpdate(t *testing.T) {
	m, st := newMirrorFixture(t)
	ctx := context.Background()
	require.NoError(t, st.PutTask(ctx, model.Task{ID: "42", Title: "Lobby", Status: model.TaskPending, ScheduledAt: testStart}))

	require.NoError(t, m.taskUpdate(pushEvent(realtime.EventTaskUpdate, `{"taskId":"42","status":"in_progress"}`)))

	task, err := st.GetTask(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, model.TaskInProgress, task.Status)
	assert.Equal(t, "Lobby", task.Title, "other fields survive")
	assert.True(t, task.UpdatedAt.Equal(testStart), "envelope time used when updatedAt is absent")
}

func TestCacheMirror_StringTaskIDs(t *testing.T) {
	m, st := newMirrorFixture(t)
	ctx := context.Background()
	const id = "7f3c2a9e-1b4d-4c8a-9e2f-5d6a7b8c9d0e"
	require.NoError(t, st.PutTask(ctx, model.Task{ID: id, Status: model.TaskPending, ScheduledAt: testStart}))

	require.NoError(t, m.taskUpdate(pushEvent(realtime.EventTaskUpdate,
		`{"taskId":"`+id+`","status":"completed"}`)))
	require.NoError(t, m.scheduleChange(pushEvent(realtime.EventScheduleChange,
		`{"taskId":"`+id+`","newTime":"2024-05-01T11:00:00Z"}`)))
	require.NoError(t, m.qualityScore(pushEvent(realtime.EventQualityScore,
		`{"taskId":"`+id+`","score":0.91,"timestamp":"2024-05-01T09:30:00Z"}`)))

	task, err := st.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, task.Status)
	assert.True(t, task.ScheduledAt.Equal(testStart.Add(3*time.Hour)))

	scores, err := st.ListQualityScoresByTask(ctx, id)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, id, scores[0].TaskID)
}

func TestCacheMirror_UncachedTaskIgnored(t *testing.T) {
	m, st := newMirrorFixture(t)

	require.NoError(t, m.taskUpdate(pushEvent(realtime.EventTaskUpdate, `{"taskId":7,"status":"completed"}`)))

	tasks, err := st.ListTasks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestCacheMirror_ScheduleChange(t *testing.T) {
	m, st := newMirrorFixture(t)
	ctx := context.Background()
	require.NoError(t, st.PutTask(ctx, model.Task{ID: "42", Status: model.TaskPending, ScheduledAt: testStart}))

	moved := testStart.Add(3 * time.Hour)
	require.NoError(t, m.scheduleChange(pushEvent(realtime.EventScheduleChange,
		`{"taskId":42,"oldTime":"2024-05-01T08:00:00Z","newTime":"2024-05-01T11:00:00Z","reason":"access"}`)))

	task, err := st.GetTask(ctx, "42")
	require.NoError(t, err)
	assert.True(t, task.ScheduledAt.Equal(moved))
}

func TestCacheMirror_QualityScore(t *testing.T) {
	m, st := newMirrorFixture(t)
	ctx := context.Background()

	ev := pushEvent(realtime.EventQualityScore, `{"taskId":42,"score":"0.87","location":"Lobby","timestamp":"2024-05-01T09:30:00Z"}`)
	require.NoError(t, m.qualityScore(ev))
	// Redelivery overwrites instead of duplicating.
	require.NoError(t, m.qualityScore(ev))

	scores, err := st.ListQualityScoresByTask(ctx, "42")
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.InDelta(t, 0.87, scores[0].Score, 1e-9)
	assert.Equal(t, "Lobby", scores[0].Location)
}

func TestCacheMirror_BadPayload(t *testing.T) {
	m, _ := newMirrorFixture(t)

	err := m.qualityScore(pushEvent(realtime.EventQualityScore, `{"taskId":42,"score":"high"}`))
	require.Error(t, err)
	assert.True(t, model.IsProtocol(err))

	err = m.taskUpdate(pushEvent(realtime.EventTaskUpdate, `{"taskId":{"nested":true}}`))
	require.Error(t, err)
	assert.True(t, model.IsProtocol(err))
}
