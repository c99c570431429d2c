package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/fieldsync/internal/model"
)

// marshalDoc serialises a snapshot to JSON TEXT for the doc column.
func marshalDoc(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal doc: %w", err)
	}
	return string(data), nil
}

// utcTask returns t with every timestamp in UTC, so a stored snapshot
// reads back equal to what was written.
func utcTask(t model.Task) model.Task {
	t.ScheduledAt = t.ScheduledAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	t.StartedAt = utcPtr(t.StartedAt)
	t.CompletedAt = utcPtr(t.CompletedAt)
	return t
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func unmarshalTask(doc string) (model.Task, error) {
	var t model.Task
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return model.Task{}, fmt.Errorf("unmarshal task: %w", err)
	}
	return t, nil
}

func unmarshalQualityScore(doc string) (model.QualityScore, error) {
	var q model.QualityScore
	if err := json.Unmarshal([]byte(doc), &q); err != nil {
		return model.QualityScore{}, fmt.Errorf("unmarshal quality score: %w", err)
	}
	return q, nil
}

// marshalHeaders converts a header mapping to JSON TEXT. Nil maps are
// stored as "{}".
func marshalHeaders(h map[string]string) (string, error) {
	if len(h) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("marshal headers: %w", err)
	}
	return string(data), nil
}

// unmarshalHeaders parses JSON TEXT headers. Empty objects come back as nil
// so a request without headers round-trips unchanged.
func unmarshalHeaders(data string) (map[string]string, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var h map[string]string
	if err := json.Unmarshal([]byte(data), &h); err != nil {
		return nil, fmt.Errorf("unmarshal headers: %w", err)
	}
	return h, nil
}

func bodyValue(body json.RawMessage) sql.NullString {
	if len(body) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(body), Valid: true}
}

func bodyFromColumn(col sql.NullString) json.RawMessage {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.RawMessage(col.String)
}

func toUnixNano(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
