package drvsim

import (
	"time"

	"github.com/sarchlab/xrps/sim"
)

// A Scheduler runs functions after a delay. Functions scheduled for the
// same time run in the order they were scheduled.
type Scheduler interface {
	Now() time.Duration
	After(d time.Duration, f func())
}

// EngineScheduler schedules functions as events of a simulation engine.
type EngineScheduler struct {
	Engine sim.Engine
}

// Now returns the simulation time.
func (s EngineScheduler) Now() time.Duration {
	return s.Engine.CurrentTime()
}

// After schedules f to run d after the current simulation time.
func (s EngineScheduler) After(d time.Duration, f func()) {
	s.Engine.Schedule(sim.NewFuncEvent(s.Engine.CurrentTime()+d, f))
}

// RealTimeScheduler runs functions on a single goroutine in wall-clock
// time.
type RealTimeScheduler struct {
	start time.Time
	queue *sim.EventQueueImpl
	wake  chan struct{}
	stop  chan struct{}
	done  chan struct{}
}

// NewRealTimeScheduler starts a scheduler. Close stops it.
func NewRealTimeScheduler() *RealTimeScheduler {
	s := &RealTimeScheduler{
		start: time.Now(),
		queue: sim.NewEventQueue(),
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}

	go s.run()

	return s
}

// Now returns the time since the scheduler started.
func (s *RealTimeScheduler) Now() time.Duration {
	return time.Since(s.start)
}

// After schedules f to run after d.
func (s *RealTimeScheduler) After(d time.Duration, f func()) {
	s.queue.Push(sim.NewFuncEvent(s.Now()+d, f))

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Close stops the scheduler. Functions not yet run are dropped.
func (s *RealTimeScheduler) Close() {
	close(s.stop)
	<-s.done
}

func (s *RealTimeScheduler) run() {
	defer close(s.done)

	for {
		var wait <-chan time.Time
		var timer *time.Timer

		if s.queue.Len() > 0 {
			next := s.queue.Peek().Time()
			if next <= s.Now() {
				s.queue.Pop().(*sim.FuncEvent).Func()
				continue
			}

			timer = time.NewTimer(next - s.Now())
			wait = timer.C
		}

		select {
		case <-wait:
		case <-s.wake:
		case <-s.stop:
			if timer != nil {
				timer.Stop()
			}

			return
		}

		if timer != nil {
			timer.Stop()
		}
	}
}
