package model

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"
)

// TaskStatus is the lifecycle state of a cleaning task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Task is the local cache copy of a cleaning task.
type Task struct {
	ID                string     `json:"id"`
	LocationID        string     `json:"location_id,omitempty"`
	AssignedTo        string     `json:"assigned_to,omitempty"`
	Title             string     `json:"title,omitempty"`
	Description       string     `json:"description,omitempty"`
	Status            TaskStatus `json:"status"`
	Priority          string     `json:"priority,omitempty"`
	ScheduledAt       time.Time  `json:"scheduled_at"`
	EstimatedDuration int        `json:"estimated_duration,omitempty"` // minutes
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// QualityScore is the local cache copy of a task's quality assessment.
type QualityScore struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	Score      float64   `json:"score"` // 0..1
	Location   string    `json:"location,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Request is an outbound HTTP call as the application describes it.
type Request struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// Normalize returns a copy with an upper-cased method (GET when empty) and
// canonical header keys. Keys that collapse to the same canonical form keep
// the last value in sorted order of their original spelling.
func (r Request) Normalize() Request {
	out := Request{
		URL:    r.URL,
		Method: strings.ToUpper(strings.TrimSpace(r.Method)),
		Body:   r.Body,
	}
	if out.Method == "" {
		out.Method = http.MethodGet
	}
	if len(r.Headers) > 0 {
		keys := make([]string, 0, len(r.Headers))
		for k := range r.Headers {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		out.Headers = make(map[string]string, len(r.Headers))
		for _, k := range keys {
			out.Headers[http.CanonicalHeaderKey(k)] = r.Headers[k]
		}
	}
	return out
}

// PendingRequest is a Request deferred to the local queue.
//
// ID is assigned by the store and never reused. Seq is the ordering key:
// replay order is ascending Seq.
type PendingRequest struct {
	ID         int64     `json:"id"`
	Seq        int64     `json:"seq"`
	Key        string    `json:"key"`
	Request    Request   `json:"request"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// DeadLetter is a PendingRequest the server rejected during replay.
type DeadLetter struct {
	PendingRequest
	Status   int       `json:"status"`
	Reason   string    `json:"reason,omitempty"`
	FailedAt time.Time `json:"failed_at"`
}

// Response is the result of a network call, or the synthesised
// acknowledgement returned when the call was queued.
type Response struct {
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      []byte            `json:"body,omitempty"`
	Queued    bool              `json:"queued"`
	PendingID int64             `json:"pending_id,omitempty"`
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}
