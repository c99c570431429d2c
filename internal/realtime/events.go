package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/fieldsync/internal/model"
)

// ID is an entity id sent either as a JSON string or as a number.
// Numbers keep their literal text, so 42 and "42" are the same ID.
type ID string

// UnmarshalJSON accepts a string, a number or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// TaskUpdate announces a task status change.
type TaskUpdate struct {
	TaskID    ID               `json:"taskId"`
	Status    model.TaskStatus `json:"status"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// QualityScoreEvent announces a new quality assessment.
// Score arrives as a number or a decimal string.
type QualityScoreEvent struct {
	TaskID    ID          `json:"taskId"`
	Score     json.Number `json:"score"`
	Location  string      `json:"location"`
	Timestamp time.Time   `json:"timestamp"`
}

// SensorAlert reports an IoT sensor crossing its threshold.
type SensorAlert struct {
	SensorID   string    `json:"sensorId"`
	SensorType string    `json:"sensorType"`
	Value      float64   `json:"value"`
	Threshold  float64   `json:"threshold"`
	Location   string    `json:"location"`
	Timestamp  time.Time `json:"timestamp"`
}

// StaffNotification is a message for field staff.
type StaffNotification struct {
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Priority  string    `json:"priority"`
	Timestamp time.Time `json:"timestamp"`
}

// ScheduleChange moves a task to a new time.
type ScheduleChange struct {
	TaskID    ID          `json:"taskId"`
	OldTime   time.Time   `json:"oldTime"`
	NewTime   time.Time   `json:"newTime"`
	Reason    string      `json:"reason"`
	Timestamp time.Time   `json:"timestamp"`
}

// Ack confirms the server received a frame.
type Ack struct {
	Received  bool      `json:"received"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnectInfo is the data of EventConnect.
type ConnectInfo struct {
	UserID string `json:"userId"`
}

// DisconnectInfo is the data of EventDisconnect.
type DisconnectInfo struct {
	Reason string `json:"reason"`
}

// Decode unmarshals an event's data into T. A mismatch is a
// *model.ProtocolError.
//
//	alert, err := realtime.Decode[realtime.SensorAlert](ev)
func Decode[T any](ev Event) (T, error) {
	var v T
	if err := json.Unmarshal(ev.Data, &v); err != nil {
		return v, &model.ProtocolError{
			Reason: fmt.Sprintf("decode %s", ev.Type),
			Raw:    ev.Data,
			Err:    err,
		}
	}
	return v, nil
}
