package session

import (
	"time"

	"github.com/google/uuid"
)

// EventKind classifies relayed lifecycle events. Values match the event
// names the receiving service expects.
type EventKind string

const (
	EventChallenge       EventKind = "scan"
	EventAuthenticated   EventKind = "login"
	EventDeauthenticated EventKind = "logout"
	EventFault           EventKind = "error"
)

// Event is a value snapshot of one lifecycle transition, safe to hand to a
// detached delivery.
type Event struct {
	ID       string    `json:"id"`
	Kind     EventKind `json:"event"`
	Identity *Identity `json:"user"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

func NewEvent(kind EventKind, id *Identity, errText string) Event {
	return Event{
		ID:       uuid.NewString(),
		Kind:     kind,
		Identity: copyIdentity(id),
		Error:    errText,
		At:       time.Now(),
	}
}

// Type is the receiving-service message type for the event.
func (e Event) Type() string {
	return "system_event_" + string(e.Kind)
}
