package osl

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/sarchlab/xrps/xrps"
)

// DefaultWorkQueueDepth is the number of EOT sends that can wait on the
// deferred work context before new ones are dropped.
const DefaultWorkQueueDepth = 64

// RealTime is an OS layer backed by the Go runtime.
type RealTime struct {
	start      time.Time
	queueDepth int

	// timerLock serializes timer starts and stops, so that a replaced
	// timer goroutine has exited before the next one is installed.
	timerLock sync.Mutex

	lock        sync.Mutex
	host        xrps.Host
	initialized bool
	work        chan struct{}
	workDone    chan struct{}
	timerStop   chan struct{}
	timerDone   chan struct{}
}

// NewRealTime creates a RealTime OS layer. Its clock starts now.
func NewRealTime() *RealTime {
	return &RealTime{
		start:      time.Now(),
		queueDepth: DefaultWorkQueueDepth,
	}
}

// WithWorkQueueDepth sets how many deferred EOT sends may be queued.
func (o *RealTime) WithWorkQueueDepth(n int) *RealTime {
	o.queueDepth = n
	return o
}

// Init starts the deferred work goroutine.
func (o *RealTime) Init(host xrps.Host) error {
	o.lock.Lock()
	defer o.lock.Unlock()

	if o.initialized {
		return errors.New("osl: already initialized")
	}

	if o.queueDepth <= 0 {
		return errors.New("osl: work queue depth must be positive")
	}

	o.host = host
	o.work = make(chan struct{}, o.queueDepth)
	o.workDone = make(chan struct{})
	o.initialized = true

	go o.runWork(o.work, o.workDone)

	return nil
}

func (o *RealTime) runWork(work <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for range work {
		_ = o.host.SendEOT()
	}
}

// Cleanup stops the timer and waits for queued EOT sends to finish.
func (o *RealTime) Cleanup() {
	o.StopSysIntTimer()

	o.lock.Lock()
	if !o.initialized {
		o.lock.Unlock()
		return
	}

	close(o.work)
	done := o.workDone
	o.initialized = false
	o.lock.Unlock()

	<-done
}

// Now returns the time passed since the layer was created.
func (o *RealTime) Now() time.Duration {
	return time.Since(o.start)
}

// StartSysIntTimer starts the timer, replacing any running one. The first
// expiry is at deadline, later ones follow the host's interval.
func (o *RealTime) StartSysIntTimer(deadline time.Duration) {
	o.timerLock.Lock()
	defer o.timerLock.Unlock()

	o.stopTimer()

	o.lock.Lock()
	defer o.lock.Unlock()

	if !o.initialized {
		return
	}

	o.timerStop = make(chan struct{})
	o.timerDone = make(chan struct{})

	go o.runTimer(deadline-o.Now(), o.timerStop, o.timerDone)
}

func (o *RealTime) runTimer(
	first time.Duration,
	stop <-chan struct{},
	done chan<- struct{},
) {
	defer close(done)

	t := time.NewTimer(first)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}

		select {
		case <-stop:
			return
		default:
		}

		o.host.SysIntHandler()

		t.Reset(time.Duration(o.host.SysIntervalUs()) * time.Microsecond)
	}
}

// StopSysIntTimer stops the timer and waits for an expiry being handled to
// return. It must not be called from the expiry handler.
func (o *RealTime) StopSysIntTimer() {
	o.timerLock.Lock()
	defer o.timerLock.Unlock()

	o.stopTimer()
}

func (o *RealTime) stopTimer() {
	o.lock.Lock()
	stop, done := o.timerStop, o.timerDone
	o.timerStop, o.timerDone = nil, nil
	o.lock.Unlock()

	if stop == nil {
		return
	}

	close(stop)
	<-done
}

// SubmitEOTWork queues an EOT send. If the queue is full the send is
// dropped and logged.
func (o *RealTime) SubmitEOTWork() {
	o.lock.Lock()
	defer o.lock.Unlock()

	if !o.initialized {
		return
	}

	select {
	case o.work <- struct{}{}:
	default:
		log.Printf("osl: warning: eot work queue full, dropping eot")
	}
}
