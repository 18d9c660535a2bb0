// Package profiling keeps a bounded, append-only log of timestamped
// coordinator events.
package profiling

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// DefaultCapacity is the number of events a ring holds before it starts
// dropping new ones.
const DefaultCapacity = 256

// EventType identifies what happened.
type EventType int

// The event types recorded by the coordinator.
const (
	EventSysInt EventType = iota
	EventRx
	EventRxEOT
	EventTxEOT
	EventTxEOTFail
	EventPause
	EventUnpause
	EventFlush
	EventTxComplete
	numEventTypes
)

var eventTypeNames = [numEventTypes]string{
	"sysint",
	"rx",
	"rx_eot",
	"tx_eot",
	"tx_eot_fail",
	"pause",
	"unpause",
	"flush",
	"tx_complete",
}

func (t EventType) String() string {
	if t < 0 || t >= numEventTypes {
		return fmt.Sprintf("EventType(%d)", int(t))
	}

	return eventTypeNames[t]
}

// Event is one entry of the ring.
type Event struct {
	Type EventType
	Time time.Duration
}

// A Clock tells the monotonic time that is stamped on events.
type Clock interface {
	Now() time.Duration
}

// Ring is a fixed-capacity event log. Writes past the capacity are dropped;
// old entries are never overwritten. Dump is the only way to free space.
type Ring struct {
	lock   sync.Mutex
	clock  Clock
	logger *log.Logger
	events []Event
	cur    int
}

// NewRing creates a ring that stamps events with the given clock. Dumped
// events are written to logger; a nil logger disables the output.
func NewRing(capacity int, clock Clock, logger *log.Logger) *Ring {
	if capacity <= 0 {
		log.Panicf("profiling ring capacity must be positive, got %d", capacity)
	}

	r := &Ring{
		clock:  clock,
		logger: logger,
		events: make([]Event, capacity),
	}
	r.cur = -1

	return r
}

// Reset empties the ring without logging its content.
func (r *Ring) Reset() {
	r.lock.Lock()
	r.cur = -1
	r.lock.Unlock()
}

// Put appends an event stamped with the current time. It reports whether
// the event was stored.
func (r *Ring) Put(t EventType) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.cur+1 >= len(r.events) {
		return false
	}

	r.cur++
	r.events[r.cur] = Event{Type: t, Time: r.clock.Now()}

	return true
}

// Len returns the number of stored events.
func (r *Ring) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.cur + 1
}

// Capacity returns the maximum number of events the ring can hold.
func (r *Ring) Capacity() int {
	return len(r.events)
}

// Dump logs every stored event, oldest first, and empties the ring. The
// dumped events are returned.
func (r *Ring) Dump() []Event {
	r.lock.Lock()
	defer r.lock.Unlock()

	dumped := make([]Event, r.cur+1)
	copy(dumped, r.events[:r.cur+1])

	if r.logger != nil {
		for i, e := range dumped {
			r.logger.Printf("xrps: profiling[%d]: %s @ %dus",
				i, e.Type, e.Time.Microseconds())
		}
	}

	r.cur = -1

	return dumped
}
