package channel

import "time"

// Event is a push-style notification delivered to registered listeners when
// a channel produces a new value or transitions into a failure state.
type Event struct {
	ChannelName string
	Value       *TypedValue
	Status      *Status
	Timestamp   time.Time
}

// Listener receives channel events. Implementations must not block: events
// are dispatched from the notification loop and a slow listener stalls
// delivery to its siblings.
type Listener interface {
	OnChannelEvent(ev Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ev Event)

func (f ListenerFunc) OnChannelEvent(ev Event) { f(ev) }
