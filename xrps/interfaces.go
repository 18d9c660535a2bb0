package xrps

import "time"

// Packet is a received frame handed to the coordinator for inspection. The
// coordinator never keeps or frees it.
type Packet []byte

// Driver is the wireless driver the coordinator steers. Flow rings are
// identified by integer ids owned by the driver.
type Driver interface {
	// Register installs the callbacks the driver invokes on RX, TX
	// completion and flow-ring activity.
	Register(cb Callbacks) error

	// Deregister removes the callbacks installed by Register.
	Deregister()

	// FlowRingHasWorkToDo reports whether the flow ring has packets queued.
	// It must not call back into the coordinator.
	FlowRingHasWorkToDo(flowID int) bool

	// GetNumQueued returns the number of packets queued on the flow ring.
	GetNumQueued(flowID int) int

	// UnpauseQueue lets the flow ring drain. Unpausing a ring that is not
	// held must be harmless.
	UnpauseQueue(flowID int)

	// SendEOT transmits an end-of-transmission marker to the peer.
	SendEOT() error

	// IsLinkUp reports whether the link to the peer is established.
	IsLinkUp() bool
}

// Callbacks are the entry points the driver calls into.
type Callbacks interface {
	// HandleFlowRing is called when a flow ring has data ready. It returns
	// true if the driver must hold the ring until it is unpaused.
	HandleFlowRing(flowID int) bool

	// RxEOT is called when a packet carrying the peer's EOT arrives.
	RxEOT(pkt Packet)

	// Rx is called on ordinary data reception.
	Rx()

	// TxComplete is called when the firmware reports transmitted data.
	TxComplete(status int, activeTx bool)
}

// Host is what an OSLayer calls back into.
type Host interface {
	// SysIntHandler is invoked each time the system-interval timer fires.
	SysIntHandler()

	// SendEOT is invoked by the deferred EOT work.
	SendEOT() error

	// SysIntervalUs is the period at which the timer re-arms itself.
	SysIntervalUs() uint32
}

// OSLayer provides the clock, timer and deferred work the coordinator runs
// on.
type OSLayer interface {
	// Init prepares the timer and the deferred work context for host.
	Init(host Host) error

	// Cleanup stops the timer and releases everything Init created.
	Cleanup()

	// Now returns a monotonic timestamp.
	Now() time.Duration

	// StartSysIntTimer (re)starts the periodic timer with its first
	// expiry at the absolute time deadline.
	StartSysIntTimer(deadline time.Duration)

	// StopSysIntTimer stops the timer. No expiry is delivered after it
	// returns.
	StopSysIntTimer()

	// SubmitEOTWork queues a call to Host.SendEOT on the deferred work
	// context. Submitted work runs in submission order.
	SubmitEOTWork()
}
