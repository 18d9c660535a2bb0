// Package xrps implements the XR power-save burst-transmission coordinator.
//
// The coordinator holds transmit flow rings while the queue is paused and
// releases them together at the end of each burst interval, followed by an
// end-of-transmission (EOT) marker for the peer. In master mode the burst
// interval is driven by a periodic timer; in slave mode it follows the
// traffic received from the peer.
package xrps

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/xrps/profiling"
	"github.com/sarchlab/xrps/sim"
)

const (
	// MaxFlowRings is the number of flow rings that can be held at once.
	MaxFlowRings = 40

	// DefaultSysIntervalUs is the burst interval set by Init.
	DefaultSysIntervalUs = 100000

	// MinSysIntervalUs and MaxSysIntervalUs bound SetSysIntervalUs.
	MinSysIntervalUs = 15000
	MaxSysIntervalUs = 10000000
)

// Coordinator decides when held flow rings are released and when EOT is
// sent.
//
// Lock order: stateLock and statsLock are never held together, and neither
// is held while calling into the Driver, because the driver may call
// HandleFlowRing while a flush is in progress.
type Coordinator struct {
	*sim.HookableBase

	name   string
	driver Driver
	osl    OSLayer
	logger *log.Logger

	profilingCapacity int
	profilingLog      bool
	profiling         *profiling.Ring

	sysIntervalUs atomic.Uint32

	stateLock         sync.Mutex
	initialized       bool
	mode              Mode
	queuePause        bool
	pending           []int
	firstRxInInterval bool
	eotCyclePending   bool
	timerRunning      bool
	eotDisabled       bool

	statsLock sync.Mutex
	stats     Stats
}

// Name returns the name of the coordinator.
func (c *Coordinator) Name() string {
	return c.name
}

// Init prepares the OS layer and registers the coordinator with the driver.
// If anything fails after the OS layer is set up, the OS layer is cleaned
// up again before the error is returned.
func (c *Coordinator) Init() error {
	if c.osl == nil {
		return fmt.Errorf("xrps: %s: os layer unavailable: %w", c.name, ErrIO)
	}

	err := c.osl.Init(c)
	if err != nil {
		c.errorf("os layer init failed: %v", err)
		return fmt.Errorf("xrps: %s: os layer init: %w: %w", c.name, ErrIO, err)
	}

	c.sysIntervalUs.Store(DefaultSysIntervalUs)

	c.stateLock.Lock()
	c.mode = ModeDisabled
	c.queuePause = false
	c.pending = c.pending[:0]
	c.firstRxInInterval = true
	c.timerRunning = false
	c.eotDisabled = false
	c.stateLock.Unlock()

	c.statsLock.Lock()
	c.stats = Stats{}
	c.statsLock.Unlock()

	var profilingLogger *log.Logger
	if c.profilingLog {
		profilingLogger = c.logger
	}
	c.profiling = profiling.NewRing(c.profilingCapacity, c.osl, profilingLogger)

	if c.driver == nil {
		c.osl.Cleanup()
		return fmt.Errorf("xrps: %s: no driver: %w", c.name, ErrIO)
	}

	err = c.driver.Register(c)
	if err != nil {
		c.errorf("driver registration failed: %v", err)
		c.osl.Cleanup()

		return fmt.Errorf("xrps: %s: driver register: %w: %w",
			c.name, ErrIO, err)
	}

	c.stateLock.Lock()
	c.initialized = true
	c.stateLock.Unlock()

	return nil
}

// IsInit reports whether Init has succeeded and Cleanup has not run since.
func (c *Coordinator) IsInit() bool {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	return c.initialized
}

// Cleanup releases the held flow rings and tears down what Init set up.
// It does nothing on a coordinator that is not initialized.
func (c *Coordinator) Cleanup() {
	if !c.IsInit() {
		return
	}

	if c.QueuePause() {
		c.SetQueuePause(false)
	}

	c.dumpProfiling()

	c.osl.Cleanup()
	c.driver.Deregister()

	c.stateLock.Lock()
	c.initialized = false
	c.mode = ModeDisabled
	c.timerRunning = false
	c.stateLock.Unlock()
}

// Mode returns the current operating mode.
func (c *Coordinator) Mode() Mode {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	return c.mode
}

// SetMode switches the operating mode. Invalid modes and, except for
// ModeDisabled, an uninitialized coordinator are rejected before anything
// changes.
func (c *Coordinator) SetMode(mode Mode) error {
	if !mode.valid() {
		c.errorf("invalid mode %d", int(mode))
		return fmt.Errorf("xrps: %s: mode %d: %w",
			c.name, int(mode), ErrInvalidArgument)
	}

	if mode != ModeDisabled && !c.IsInit() {
		c.errorf("cannot enter %s mode before init", mode)
		return fmt.Errorf("xrps: %s: set mode %s: %w", c.name, mode, ErrNotReady)
	}

	c.stateLock.Lock()
	c.mode = mode
	c.stateLock.Unlock()

	switch mode {
	case ModeDisabled:
		c.pause(false)
	case ModeMaster:
		c.resume(false)
	case ModeSlave:
		c.enterSlave()
	}

	return nil
}

func (c *Coordinator) enterSlave() {
	c.stopTimer()

	c.stateLock.Lock()
	c.firstRxInInterval = true
	c.eotCyclePending = false
	paused := c.queuePause
	c.stateLock.Unlock()

	// Rings held under the previous mode are released, which also empties
	// the pending set, before the slave starts its first interval.
	if paused && c.IsTxPending() {
		c.SetQueuePause(false)
	}

	c.forceQueuePause(true)
}

// LinkDown tells a master coordinator that the link is gone. The timer is
// stopped and held flow rings are released.
func (c *Coordinator) LinkDown() {
	c.pause(true)
}

// LinkUp tells a master coordinator that the link is back. The queue is
// paused again and the timer restarted.
func (c *Coordinator) LinkUp() {
	c.resume(true)
}

func (c *Coordinator) pause(checkMode bool) {
	if checkMode && c.Mode() != ModeMaster {
		return
	}

	c.stopTimer()
	c.forceQueuePause(false)
}

func (c *Coordinator) resume(checkMode bool) {
	if checkMode && c.Mode() != ModeMaster {
		return
	}

	if !c.IsInit() || !c.driver.IsLinkUp() {
		return
	}

	c.forceQueuePause(true)
	c.startTimer()
}

// forceQueuePause moves the queue to the given pause state unless it is
// already there.
func (c *Coordinator) forceQueuePause(enable bool) {
	if c.QueuePause() == enable {
		return
	}

	c.SetQueuePause(enable)
}

func (c *Coordinator) startTimer() {
	deadline := c.osl.Now() + usToDuration(c.SysIntervalUs())
	c.osl.StartSysIntTimer(deadline)

	c.stateLock.Lock()
	c.timerRunning = true
	c.stateLock.Unlock()
}

func (c *Coordinator) stopTimer() {
	c.stateLock.Lock()
	initialized := c.initialized
	c.stateLock.Unlock()

	if !initialized {
		return
	}

	c.osl.StopSysIntTimer()

	c.stateLock.Lock()
	c.timerRunning = false
	c.stateLock.Unlock()
}

// TimerRunning reports whether the system-interval timer has been started
// and not stopped since.
func (c *Coordinator) TimerRunning() bool {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	return c.timerRunning
}

// SysIntervalUs returns the burst interval of master mode in microseconds.
func (c *Coordinator) SysIntervalUs() uint32 {
	return c.sysIntervalUs.Load()
}

// SetSysIntervalUs sets the burst interval of master mode. The new value
// applies from the next timer start or re-arm.
func (c *Coordinator) SetSysIntervalUs(us uint32) error {
	if us < MinSysIntervalUs || us > MaxSysIntervalUs {
		c.errorf("system interval %dus out of range [%d, %d]",
			us, MinSysIntervalUs, MaxSysIntervalUs)
		return fmt.Errorf("xrps: %s: interval %dus: %w",
			c.name, us, ErrInvalidArgument)
	}

	c.sysIntervalUs.Store(us)

	return nil
}

// EOTDisabled reports whether the burst cycle skips sending EOT.
func (c *Coordinator) EOTDisabled() bool {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	return c.eotDisabled
}

// SetEOTDisabled controls whether the burst cycle sends EOT. Held flow
// rings are released either way, and SendEOT is not affected.
func (c *Coordinator) SetEOTDisabled(disabled bool) {
	c.stateLock.Lock()
	c.eotDisabled = disabled
	c.stateLock.Unlock()
}

// Stats returns a copy of the statistics.
func (c *Coordinator) Stats() Stats {
	c.statsLock.Lock()
	defer c.statsLock.Unlock()

	return c.stats
}

// ClearStats zeroes the statistics and empties the profiling ring.
func (c *Coordinator) ClearStats() {
	c.statsLock.Lock()
	c.stats = Stats{}
	c.statsLock.Unlock()

	if c.profiling != nil {
		c.profiling.Reset()
	}
}

func (c *Coordinator) updateStats(f func(s *Stats)) {
	c.statsLock.Lock()
	f(&c.stats)
	c.statsLock.Unlock()
}

func (c *Coordinator) profile(t profiling.EventType) {
	if c.profiling == nil {
		return
	}

	c.profiling.Put(t)
}

func (c *Coordinator) dumpProfiling() {
	if c.profiling == nil {
		return
	}

	events := c.profiling.Dump()

	c.InvokeHook(sim.HookCtx{
		Domain: c,
		Pos:    HookPosProfilingDump,
		Item:   events,
	})
}

func (c *Coordinator) warnf(format string, args ...interface{}) {
	c.logger.Printf("xrps: warning: %s: "+format,
		append([]interface{}{c.name}, args...)...)
}

func (c *Coordinator) errorf(format string, args ...interface{}) {
	c.logger.Printf("xrps: error: %s: "+format,
		append([]interface{}{c.name}, args...)...)
}
