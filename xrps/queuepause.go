package xrps

import (
	"time"

	"github.com/sarchlab/xrps/profiling"
	"github.com/sarchlab/xrps/sim"
)

// QueuePause reports whether newly ready flow rings are being held.
func (c *Coordinator) QueuePause() bool {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	return c.queuePause
}

// SetQueuePause is the only place where the queue is paused or unpaused.
// Asking for the state the queue is already in is logged and ignored.
// Unpausing releases every held flow ring.
func (c *Coordinator) SetQueuePause(enable bool) {
	c.stateLock.Lock()
	if c.queuePause == enable {
		c.stateLock.Unlock()
		c.warnf("queue pause already %t", enable)

		return
	}

	c.queuePause = enable

	stale := -1
	var release []int
	if enable {
		if len(c.pending) > 0 {
			stale = c.pending[0]
		}
	} else {
		release = make([]int, len(c.pending))
		copy(release, c.pending)
		c.pending = c.pending[:0]
	}
	c.stateLock.Unlock()

	if enable {
		c.updateStats(func(s *Stats) { s.PauseCount++ })
		c.profile(profiling.EventPause)

		if stale >= 0 {
			c.warnf("pausing with flow ring %d still pending", stale)
		}

		return
	}

	c.updateStats(func(s *Stats) { s.UnpauseCount++ })
	c.profile(profiling.EventUnpause)

	c.flushAll(release)
}

// HandleFlowRing is called by the driver when a flow ring has data ready.
// While the queue is paused the ring is recorded and true is returned, so
// that the driver holds it until the next flush.
func (c *Coordinator) HandleFlowRing(flowID int) bool {
	if !c.driver.FlowRingHasWorkToDo(flowID) {
		return false
	}

	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	if !c.queuePause {
		return false
	}

	for _, id := range c.pending {
		if id == flowID {
			return true
		}
	}

	if len(c.pending) >= MaxFlowRings {
		c.logger.Printf("xrps: error: %s: cannot hold flow ring %d, "+
			"%d rings already pending", c.name, flowID, len(c.pending))

		return false
	}

	c.pending = append(c.pending, flowID)

	return true
}

// IsTxPending reports whether any flow ring is being held.
func (c *Coordinator) IsTxPending() bool {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	return len(c.pending) > 0
}

// PendingFlowIDs returns the held flow rings in the order they were held.
func (c *Coordinator) PendingFlowIDs() []int {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	ids := make([]int, len(c.pending))
	copy(ids, c.pending)

	return ids
}

// flushAll unpauses the given flow rings. It must be called without
// stateLock held, since the driver may call HandleFlowRing meanwhile.
func (c *Coordinator) flushAll(flowIDs []int) {
	if len(flowIDs) == 0 {
		return
	}

	start := c.osl.Now()

	var queued uint64
	for _, id := range flowIDs {
		queued += uint64(c.driver.GetNumQueued(id))
		c.driver.UnpauseQueue(id)
	}

	latencyUs := uint64((c.osl.Now() - start).Microseconds())

	c.updateStats(func(s *Stats) { s.recordFlush(latencyUs, queued) })
	c.profile(profiling.EventFlush)

	c.InvokeHook(sim.HookCtx{
		Domain: c,
		Pos:    HookPosFlush,
		Item: FlushRecord{
			Start:     start,
			LatencyUs: latencyUs,
			FlowIDs:   flowIDs,
			Queued:    queued,
		},
	})
}

func usToDuration(us uint32) time.Duration {
	return time.Duration(us) * time.Microsecond
}
