package xrps

import (
	"fmt"

	"github.com/sarchlab/xrps/profiling"
	"github.com/sarchlab/xrps/sim"
)

// RxEOT is called when a packet carrying the peer's EOT arrives. In slave
// mode the first EOT of an interval only starts tracking; the next one
// without a flush in between releases the held rings and answers with EOT.
// The packet stays owned by the caller.
func (c *Coordinator) RxEOT(_ Packet) {
	c.stateLock.Lock()
	trigger := false
	if c.mode == ModeSlave {
		if c.firstRxInInterval {
			c.firstRxInInterval = false
		} else {
			trigger = true
			c.firstRxInInterval = true
		}
	}
	c.stateLock.Unlock()

	if trigger {
		c.unpausePauseAndSendEOT(true)
	}

	c.updateStats(func(s *Stats) { s.EOTRx++ })
	c.profile(profiling.EventRxEOT)
}

// Rx is called on ordinary data reception. In slave mode the first data of
// an interval immediately releases the held rings and answers with EOT.
func (c *Coordinator) Rx() {
	c.stateLock.Lock()
	trigger := c.mode == ModeSlave && c.firstRxInInterval
	if trigger {
		c.firstRxInInterval = false
	}
	c.stateLock.Unlock()

	if !trigger {
		return
	}

	c.profile(profiling.EventRx)
	c.unpausePauseAndSendEOT(true)
}

// FirstRxInInterval reports whether the slave is still waiting for the
// first reception of the current interval.
func (c *Coordinator) FirstRxInInterval() bool {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	return c.firstRxInInterval
}

// TxComplete is called when the firmware reports transmitted data. The
// status and activeTx arguments are accepted for the driver's sake and not
// interpreted.
func (c *Coordinator) TxComplete(status int, activeTx bool) {
	if c.Mode() == ModeDisabled {
		return
	}

	c.updateStats(func(s *Stats) { s.DataTxCmplt++ })
	c.profile(profiling.EventTxComplete)
}

// SysIntHandler is run by the OS layer each time the system-interval timer
// fires. Timer context may send EOT directly.
func (c *Coordinator) SysIntHandler() {
	c.updateStats(func(s *Stats) { s.SysInts++ })
	c.profile(profiling.EventSysInt)

	c.unpausePauseAndSendEOT(false)
}

// unpausePauseAndSendEOT ends a burst interval: held rings are released,
// the queue is paused again for the next interval, and EOT goes out. With
// eotWorkq the EOT is handed to the deferred work context instead of being
// sent from the calling context.
func (c *Coordinator) unpausePauseAndSendEOT(eotWorkq bool) {
	if c.IsTxPending() {
		c.SetQueuePause(false)
		c.SetQueuePause(true)
	}

	if c.EOTDisabled() {
		c.startNewInterval()
		return
	}

	if eotWorkq {
		c.stateLock.Lock()
		c.eotCyclePending = true
		c.stateLock.Unlock()

		c.osl.SubmitEOTWork()
		return
	}

	_ = c.SendEOT()
}

// startNewInterval lets a slave wait for the first reception of the next
// interval.
func (c *Coordinator) startNewInterval() {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	if c.mode == ModeSlave {
		c.firstRxInInterval = true
	}
}

// finishEOTCycle is called once the EOT of a burst interval was attempted.
// A failed EOT keeps the slave inside the interval, so the peer's next EOT
// runs the cycle again.
func (c *Coordinator) finishEOTCycle(err error) {
	c.stateLock.Lock()
	pending := c.eotCyclePending
	c.eotCyclePending = false
	c.stateLock.Unlock()

	if pending && err == nil {
		c.startNewInterval()
	}
}

// SendEOT sends an EOT marker through the driver. EOT is not gated by the
// queue pause state and is not acknowledged; the firmware sends it after
// the data submitted before it.
func (c *Coordinator) SendEOT() error {
	if !c.IsInit() {
		return fmt.Errorf("xrps: %s: send eot: %w", c.name, ErrNotReady)
	}

	err := c.driver.SendEOT()
	c.finishEOTCycle(err)

	c.InvokeHook(sim.HookCtx{
		Domain: c,
		Pos:    HookPosEOTSent,
		Item:   EOTRecord{Time: c.osl.Now(), Err: err},
	})

	if err != nil {
		c.updateStats(func(s *Stats) { s.SendEOTFail++ })
		c.profile(profiling.EventTxEOTFail)
		c.errorf("send eot failed: %v", err)

		return err
	}

	c.updateStats(func(s *Stats) { s.EOTTx++ })
	c.profile(profiling.EventTxEOT)
	c.dumpProfiling()

	return nil
}
