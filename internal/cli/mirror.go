package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/fieldsync/internal/engine"
	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/realtime"
	"github.com/roach88/fieldsync/internal/store"
)

// cacheMirror applies push events to the local cache so reads made while
// offline reflect what the server last announced.
type cacheMirror struct {
	engine *engine.Engine
	logger *slog.Logger
}

func newCacheMirror(e *engine.Engine, logger *slog.Logger) *cacheMirror {
	return &cacheMirror{engine: e, logger: logger}
}

func (m *cacheMirror) attach(ch *realtime.Channel) {
	ch.On(realtime.EventTaskUpdate, m.taskUpdate)
	ch.On(realtime.EventScheduleChange, m.scheduleChange)
	ch.On(realtime.EventQualityScore, m.qualityScore)
}

// taskUpdate sets the status of a cached task. Tasks not in the cache are
// skipped; the push feed does not carry full snapshots.
func (m *cacheMirror) taskUpdate(ev realtime.Event) error {
	u, err := realtime.Decode[realtime.TaskUpdate](ev)
	if err != nil {
		return err
	}
	return m.updateTask(u.TaskID.String(), func(t *model.Task) {
		t.Status = u.Status
		if !u.UpdatedAt.IsZero() {
			t.UpdatedAt = u.UpdatedAt
		} else {
			t.UpdatedAt = ev.Timestamp
		}
	})
}

func (m *cacheMirror) scheduleChange(ev realtime.Event) error {
	c, err := realtime.Decode[realtime.ScheduleChange](ev)
	if err != nil {
		return err
	}
	return m.updateTask(c.TaskID.String(), func(t *model.Task) {
		t.ScheduledAt = c.NewTime
		t.UpdatedAt = ev.Timestamp
	})
}

func (m *cacheMirror) updateTask(id string, apply func(*model.Task)) error {
	ctx := context.Background()

	task, err := m.engine.GetTask(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		m.logger.Debug("push event for uncached task", "task_id", id)
		return nil
	}
	if err != nil {
		return err
	}

	apply(&task)
	if err := m.engine.SaveTask(ctx, task); err != nil {
		return err
	}
	m.logger.Debug("task cache updated from push", "task_id", id, "status", task.Status)
	return nil
}

// qualityScore stores the announced score. The id is derived from the
// task and timestamp so a redelivered event overwrites its first copy.
func (m *cacheMirror) qualityScore(ev realtime.Event) error {
	q, err := realtime.Decode[realtime.QualityScoreEvent](ev)
	if err != nil {
		return err
	}
	score, err := q.Score.Float64()
	if err != nil {
		return &model.ProtocolError{Reason: "score is not a number", Raw: ev.Data, Err: err}
	}

	at := q.Timestamp
	if at.IsZero() {
		at = ev.Timestamp
	}
	return m.engine.SaveQualityScore(context.Background(), model.QualityScore{
		ID:         fmt.Sprintf("%s@%d", q.TaskID, at.UnixNano()),
		TaskID:     q.TaskID.String(),
		Score:      score,
		Location:   q.Location,
		RecordedAt: at,
	})
}
