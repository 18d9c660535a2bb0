package drvsim

import (
	"log"
	"time"

	"github.com/sarchlab/xrps/xrps"
)

// Builder can build simulated drivers.
type Builder struct {
	sched        Scheduler
	linkLatency  time.Duration
	numFlowRings int
	linkUp       bool
}

// MakeBuilder returns a Builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		linkLatency:  200 * time.Microsecond,
		numFlowRings: xrps.MaxFlowRings,
		linkUp:       true,
	}
}

// WithScheduler sets the scheduler used for link delays.
func (b Builder) WithScheduler(sched Scheduler) Builder {
	b.sched = sched
	return b
}

// WithLinkLatency sets the time a packet takes to reach the peer.
func (b Builder) WithLinkLatency(d time.Duration) Builder {
	b.linkLatency = d
	return b
}

// WithNumFlowRings sets the number of flow rings.
func (b Builder) WithNumFlowRings(n int) Builder {
	b.numFlowRings = n
	return b
}

// WithLinkDown makes the driver start with the link down.
func (b Builder) WithLinkDown() Builder {
	b.linkUp = false
	return b
}

// Build creates a driver.
func (b Builder) Build(name string) *Driver {
	if b.sched == nil {
		log.Panicf("drvsim: %s: scheduler is required", name)
	}

	if b.numFlowRings <= 0 {
		log.Panicf("drvsim: %s: invalid number of flow rings %d",
			name, b.numFlowRings)
	}

	return &Driver{
		name:        name,
		sched:       b.sched,
		linkLatency: b.linkLatency,
		rings:       make([]flowRing, b.numFlowRings),
		linkUp:      b.linkUp,
	}
}
