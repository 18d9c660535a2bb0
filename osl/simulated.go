package osl

import (
	"log"
	"reflect"
	"sync"
	"time"

	"github.com/sarchlab/xrps/sim"
	"github.com/sarchlab/xrps/xrps"
)

type sysIntEvent struct {
	*sim.EventBase
	generation uint64
}

type eotWorkEvent struct {
	*sim.EventBase
}

// Simulated is an OS layer whose clock, timer and deferred work are events
// of a simulation engine.
type Simulated struct {
	engine sim.Engine

	lock         sync.Mutex
	host         xrps.Host
	initialized  bool
	generation   uint64
	timerRunning bool
}

// NewSimulated creates an OS layer driven by engine.
func NewSimulated(engine sim.Engine) *Simulated {
	return &Simulated{engine: engine}
}

// Init binds the layer to host.
func (o *Simulated) Init(host xrps.Host) error {
	o.lock.Lock()
	defer o.lock.Unlock()

	o.host = host
	o.initialized = true

	return nil
}

// Cleanup stops the timer. EOT work still queued is discarded.
func (o *Simulated) Cleanup() {
	o.StopSysIntTimer()

	o.lock.Lock()
	o.initialized = false
	o.lock.Unlock()
}

// Now returns the current simulation time.
func (o *Simulated) Now() time.Duration {
	return o.engine.CurrentTime()
}

// StartSysIntTimer schedules the first expiry at deadline, or now if the
// deadline has already passed.
func (o *Simulated) StartSysIntTimer(deadline time.Duration) {
	o.lock.Lock()
	o.generation++
	gen := o.generation
	o.timerRunning = true
	o.lock.Unlock()

	now := o.engine.CurrentTime()
	if deadline < now {
		deadline = now
	}

	o.scheduleSysInt(deadline, gen)
}

func (o *Simulated) scheduleSysInt(t time.Duration, gen uint64) {
	evt := &sysIntEvent{
		EventBase:  sim.NewEventBase(t, o),
		generation: gen,
	}
	o.engine.Schedule(evt)
}

// StopSysIntTimer invalidates every scheduled expiry.
func (o *Simulated) StopSysIntTimer() {
	o.lock.Lock()
	o.generation++
	o.timerRunning = false
	o.lock.Unlock()
}

// TimerRunning reports whether an expiry is pending.
func (o *Simulated) TimerRunning() bool {
	o.lock.Lock()
	defer o.lock.Unlock()

	return o.timerRunning
}

// SubmitEOTWork schedules an EOT send at the current time, after the
// events already scheduled for this time.
func (o *Simulated) SubmitEOTWork() {
	o.engine.Schedule(&eotWorkEvent{
		EventBase: sim.NewEventBase(o.engine.CurrentTime(), o),
	})
}

// Handle runs timer expiries and deferred work.
func (o *Simulated) Handle(e sim.Event) error {
	switch e := e.(type) {
	case *sysIntEvent:
		o.handleSysInt(e)
	case *eotWorkEvent:
		o.handleEOTWork()
	default:
		log.Panicf("osl: cannot handle event of %s", reflect.TypeOf(e))
	}

	return nil
}

func (o *Simulated) isCurrent(gen uint64) bool {
	o.lock.Lock()
	defer o.lock.Unlock()

	return o.timerRunning && o.initialized && o.generation == gen
}

func (o *Simulated) handleSysInt(e *sysIntEvent) {
	if !o.isCurrent(e.generation) {
		return
	}

	o.host.SysIntHandler()

	if !o.isCurrent(e.generation) {
		return
	}

	interval := time.Duration(o.host.SysIntervalUs()) * time.Microsecond
	o.scheduleSysInt(e.Time()+interval, e.generation)
}

func (o *Simulated) handleEOTWork() {
	o.lock.Lock()
	initialized := o.initialized
	o.lock.Unlock()

	if !initialized {
		return
	}

	_ = o.host.SendEOT()
}
