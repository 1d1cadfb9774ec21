// Package events carries lifecycle notifications from the session and the
// conversation coordinator to read-only observers.
package events

import "time"

// Event is a named notification with optional key/value fields.
type Event struct {
	Name   string         `json:"name"`
	Time   time.Time      `json:"time"`
	Fields map[string]any `json:"fields,omitempty"`
}

// New builds an Event stamped with the current time.
func New(name string, fields map[string]any) Event {
	return Event{Name: name, Time: time.Now(), Fields: fields}
}

// Publisher receives events. Implementations must be lightweight and
// non-blocking; Publish must not panic.
type Publisher interface {
	Publish(Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(Event) {}

// Multi fans a single Publish out to several publishers in order.
type Multi []Publisher

func (m Multi) Publish(e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}

// OrNop returns p, or Nop when p is nil.
func OrNop(p Publisher) Publisher {
	if p == nil {
		return Nop{}
	}
	return p
}
