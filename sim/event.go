package sim

import (
	"time"

	"github.com/rs/xid"
)

// VTime is the time in the simulated space, counted from the start of the
// simulation.
type VTime = time.Duration

// An Event is something going to happen in the future.
type Event interface {
	// Return the time that the event should happen
	Time() VTime

	// Returns the handler that can should handle the event
	Handler() Handler
}

// EventBase provides the basic fields and getters for other events
type EventBase struct {
	ID      string
	time    VTime
	handler Handler
}

// NewEventBase creates a new EventBase
func NewEventBase(t VTime, handler Handler) *EventBase {
	e := new(EventBase)
	e.ID = xid.New().String()
	e.time = t
	e.handler = handler

	return e
}

// Time return the time that the event is going to happen
func (e EventBase) Time() VTime {
	return e.time
}

// Handler returns the handler to handle the event.
func (e EventBase) Handler() Handler {
	return e.handler
}

// A Handler defines a domain for the events.
type Handler interface {
	Handle(e Event) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(e Event) error

// Handle calls f(e).
func (f HandlerFunc) Handle(e Event) error {
	return f(e)
}

// FuncEvent is an event that runs a closure when it is handled.
type FuncEvent struct {
	*EventBase
	Func func()
}

// NewFuncEvent creates an event that invokes f at time t.
func NewFuncEvent(t VTime, f func()) *FuncEvent {
	evt := &FuncEvent{Func: f}
	evt.EventBase = NewEventBase(t, HandlerFunc(runFuncEvent))

	return evt
}

func runFuncEvent(e Event) error {
	e.(*FuncEvent).Func()
	return nil
}
