package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/fieldsync/internal/model"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var baseTime = time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC)

// createTestTask creates a task with every field populated.
func createTestTask(id string, status model.TaskStatus, assignee string) model.Task {
	started := baseTime.Add(30 * time.Minute)
	return model.Task{
		ID:                id,
		LocationID:        "loc-1",
		AssignedTo:        assignee,
		Title:             "Lobby floors " + id,
		Description:       "Mop and dry the main lobby",
		Status:            status,
		Priority:          "high",
		ScheduledAt:       baseTime,
		EstimatedDuration: 45,
		StartedAt:         &started,
		UpdatedAt:         baseTime.Add(time.Hour),
	}
}

// createTestRequest creates a JSON POST request against a fake API.
func createTestRequest(n int) model.Request {
	return model.Request{
		URL:     fmt.Sprintf("https://api.example.test/tasks/%d", n),
		Method:  "POST",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    json.RawMessage(fmt.Sprintf(`{"n":%d}`, n)),
	}
}
