package amqp

import (
	"encoding/json"
	"time"
)

// Event types, also used as routing keys on the topic exchange.
const (
	EventSessionStarted     = "session.started"
	EventSessionEnded       = "session.ended"
	EventSessionInvalidated = "session.invalidated"
	EventMutationSucceeded  = "mutation.succeeded"
)

// Event is a lightweight lifecycle notification. It never carries the
// credential or form contents, only what happened and to which entity.
type Event struct {
	Type       string    `json:"type"`
	Generation uint64    `json:"generation,omitempty"`
	Entity     string    `json:"entity,omitempty"`
	EntityID   string    `json:"entity_id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewEvent creates an event of the given type stamped with the current time
func NewEvent(eventType string) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the event to JSON bytes
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventFromJSON decodes an event from JSON bytes
func EventFromJSON(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
