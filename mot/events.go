package mot

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType tags audit events
type EventType string

const (
	EventSystemStart    EventType = "SYSTEM_START"
	EventSystemShutdown EventType = "SYSTEM_SHUTDOWN"
	EventPersonEntered  EventType = "PERSON_ENTERED"
	EventPersonExited   EventType = "PERSON_EXITED"
	EventWeaponDetected EventType = "WEAPON_DETECTED"
	EventIdentified     EventType = "IDENTIFIED"
	EventEntryAdded     EventType = "ENTRY_ADDED"
)

// Event is flat key-value audit record
type Event struct {
	ID        uuid.UUID
	Type      EventType
	Timestamp time.Time
	Details   map[string]any
}

// NewEvent creates event with generated ID
func NewEvent(eventType EventType, ts time.Time, details map[string]any) Event {
	if details == nil {
		details = map[string]any{}
	}
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: ts.UTC(),
		Details:   details,
	}
}

func NewPersonEnteredEvent(trackID int64, ts time.Time) Event {
	return NewEvent(EventPersonEntered, ts, map[string]any{"track_id": trackID})
}

func NewPersonExitedEvent(trackID int64, ts time.Time) Event {
	return NewEvent(EventPersonExited, ts, map[string]any{"track_id": trackID})
}

func NewWeaponDetectedEvent(label string, trackID int64, ts time.Time) Event {
	return NewEvent(EventWeaponDetected, ts, map[string]any{"type": label, "track_id": trackID})
}

func NewIdentifiedEvent(trackID int64, name string, role Role, ts time.Time) Event {
	return NewEvent(EventIdentified, ts, map[string]any{"track_id": trackID, "name": name, "role": role.String()})
}

func NewEntryAddedEvent(name string, role Role, ts time.Time) Event {
	return NewEvent(EventEntryAdded, ts, map[string]any{"name": name, "role": role.String()})
}

// Subject returns NATS-friendly lower case suffix for the event type
func (e Event) Subject() string {
	return strings.ToLower(string(e.Type))
}

// MarshalJSON flattens details next to id, event and ISO-8601 timestamp.
// Details cannot override reserved keys.
func (e Event) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(e.Details)+3)
	for k, v := range e.Details {
		flat[k] = v
	}
	flat["id"] = e.ID.String()
	flat["event"] = string(e.Type)
	flat["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	return json.Marshal(flat)
}

// EventSink consumes audit events
type EventSink interface {
	Emit(event Event) error
}

// nopSink drops events
type nopSink struct{}

func (nopSink) Emit(Event) error { return nil }
