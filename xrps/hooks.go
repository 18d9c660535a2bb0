package xrps

import (
	"time"

	"github.com/sarchlab/xrps/sim"
)

// HookPosFlush is triggered after the pending flow rings are released. The
// hook item is a FlushRecord.
var HookPosFlush = &sim.HookPos{Name: "XRPSFlush"}

// HookPosEOTSent is triggered after each EOT send attempt. The hook item is
// an EOTRecord.
var HookPosEOTSent = &sim.HookPos{Name: "XRPSEOTSent"}

// HookPosProfilingDump is triggered when the profiling ring is dumped. The
// hook item is a []profiling.Event.
var HookPosProfilingDump = &sim.HookPos{Name: "XRPSProfilingDump"}

// FlushRecord describes one release of the pending flow rings.
type FlushRecord struct {
	Start     time.Duration
	LatencyUs uint64
	FlowIDs   []int
	Queued    uint64
}

// EOTRecord describes one EOT send attempt.
type EOTRecord struct {
	Time time.Duration
	Err  error
}
