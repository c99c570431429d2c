package realtime

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/roach88/fieldsync/internal/model"
)

// EventType keys dispatch. It is the envelope's "type" field.
type EventType string

// Push feed events.
const (
	EventTaskUpdate        EventType = "task_update"
	EventQualityScore      EventType = "quality_score"
	EventSensorAlert       EventType = "sensor_alert"
	EventStaffNotification EventType = "staff_notification"
	EventScheduleChange    EventType = "schedule_change"
	EventAck               EventType = "ack"
)

// Local events. These never arrive on the wire.
const (
	// EventConnect fires after a successful dial. Data: {"userId": ...}.
	EventConnect EventType = "connect"

	// EventDisconnect fires when a Connected channel closes or drops.
	// Data: {"reason": ...}.
	EventDisconnect EventType = "disconnect"

	// EventMessage receives every decoded inbound envelope after the
	// handlers for its own type.
	EventMessage EventType = "message"
)

// IsLocal reports whether t is a lifecycle or catch-all type that only
// the channel itself emits.
func (t EventType) IsLocal() bool {
	switch t {
	case EventConnect, EventDisconnect, EventMessage:
		return true
	}
	return false
}

// DomainEvents lists the push feed event types.
var DomainEvents = []EventType{
	EventTaskUpdate,
	EventQualityScore,
	EventSensorAlert,
	EventStaffNotification,
	EventScheduleChange,
	EventAck,
}

// Envelope is the JSON frame exchanged on the channel.
type Envelope struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	SenderID  string          `json:"senderId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// EncodeEnvelope builds a frame for payload. A nil payload is sent as {}.
func EncodeEnvelope(typ EventType, payload any, senderID string, at time.Time) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(data, []byte("null")) {
		data = []byte("{}")
	}
	return json.Marshal(Envelope{
		Type:      typ,
		Data:      data,
		SenderID:  senderID,
		Timestamp: at.UTC(),
	})
}

// DecodeEnvelope parses an inbound frame. Invalid JSON, a missing or
// local type, or data that is not a JSON object yield a
// *model.ProtocolError.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, &model.ProtocolError{Reason: "invalid json", Raw: raw, Err: err}
	}
	if env.Type == "" {
		return Envelope{}, &model.ProtocolError{Reason: "missing type", Raw: raw}
	}
	if env.Type.IsLocal() {
		return Envelope{}, &model.ProtocolError{Reason: "reserved type " + string(env.Type), Raw: raw}
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		env.Data = json.RawMessage("{}")
	} else if data[0] != '{' {
		return Envelope{}, &model.ProtocolError{Reason: "data is not an object", Raw: raw}
	}
	return env, nil
}
