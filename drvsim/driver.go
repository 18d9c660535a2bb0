// Package drvsim simulates a wireless driver with transmit flow rings and a
// peer on the other end of the link.
package drvsim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sarchlab/xrps/xrps"
)

// ErrLinkDown is returned when sending while the link is down.
var ErrLinkDown = errors.New("drvsim: link down")

// ErrEOTInjected is returned by an EOT send that was set up to fail.
var ErrEOTInjected = errors.New("drvsim: injected eot failure")

// EOTMarker is the payload of a simulated EOT packet.
var EOTMarker = xrps.Packet("EOT")

// LinkListener is implemented by callbacks that want link transitions.
type LinkListener interface {
	LinkUp()
	LinkDown()
}

// Stats counts the traffic seen by a driver.
type Stats struct {
	DataTx     uint64 `json:"data_tx"`
	DataRx     uint64 `json:"data_rx"`
	EOTTx      uint64 `json:"eot_tx"`
	EOTRx      uint64 `json:"eot_rx"`
	Bursts     uint64 `json:"bursts"`
	Held       uint64 `json:"held"`
	TxComplete uint64 `json:"tx_complete"`
}

type flowRing struct {
	queued int
	held   bool
}

// Driver is a simulated wireless driver. It implements xrps.Driver.
type Driver struct {
	name        string
	sched       Scheduler
	linkLatency time.Duration

	lock      sync.Mutex
	cb        xrps.Callbacks
	rings     []flowRing
	linkUp    bool
	peer      *Driver
	failEOTs  int
	stats     Stats
	lastEOTTx time.Duration
}

// Name returns the name of the driver.
func (d *Driver) Name() string {
	return d.name
}

// Connect links two drivers to each other.
func Connect(a, b *Driver) {
	a.lock.Lock()
	a.peer = b
	a.lock.Unlock()

	b.lock.Lock()
	b.peer = a
	b.lock.Unlock()
}

// Register installs the callbacks.
func (d *Driver) Register(cb xrps.Callbacks) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.cb != nil {
		return fmt.Errorf("drvsim: %s: callbacks already registered", d.name)
	}

	d.cb = cb

	return nil
}

// Deregister removes the callbacks. Held rings are released.
func (d *Driver) Deregister() {
	d.lock.Lock()
	d.cb = nil
	held := []int{}
	for id := range d.rings {
		if d.rings[id].held {
			held = append(held, id)
		}
	}
	d.lock.Unlock()

	for _, id := range held {
		d.UnpauseQueue(id)
	}
}

func (d *Driver) validFlowID(flowID int) bool {
	return flowID >= 0 && flowID < len(d.rings)
}

// FlowRingHasWorkToDo reports whether the ring has queued packets.
func (d *Driver) FlowRingHasWorkToDo(flowID int) bool {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.validFlowID(flowID) && d.rings[flowID].queued > 0
}

// GetNumQueued returns the number of packets queued on the ring.
func (d *Driver) GetNumQueued(flowID int) int {
	d.lock.Lock()
	defer d.lock.Unlock()

	if !d.validFlowID(flowID) {
		return 0
	}

	return d.rings[flowID].queued
}

// UnpauseQueue releases the ring and transmits what it holds.
func (d *Driver) UnpauseQueue(flowID int) {
	d.lock.Lock()
	if !d.validFlowID(flowID) {
		d.lock.Unlock()
		return
	}

	d.rings[flowID].held = false
	n := d.drainLocked(flowID)
	d.lock.Unlock()

	d.transmit(n)
}

// SendEOT transmits an EOT packet to the peer.
func (d *Driver) SendEOT() error {
	d.lock.Lock()
	if !d.linkUp {
		d.lock.Unlock()
		return ErrLinkDown
	}

	if d.failEOTs > 0 {
		d.failEOTs--
		d.lock.Unlock()

		return ErrEOTInjected
	}

	d.stats.EOTTx++
	d.lastEOTTx = d.sched.Now()
	peer := d.peer
	d.lock.Unlock()

	if peer != nil {
		d.sched.After(d.linkLatency, peer.receiveEOT)
	}

	return nil
}

// IsLinkUp reports the link state.
func (d *Driver) IsLinkUp() bool {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.linkUp
}

// SetLinkUp changes the link state. Registered callbacks that implement
// LinkListener are told about the change.
func (d *Driver) SetLinkUp(up bool) {
	d.lock.Lock()
	changed := d.linkUp != up
	d.linkUp = up
	cb := d.cb
	d.lock.Unlock()

	if !changed {
		return
	}

	listener, ok := cb.(LinkListener)
	if !ok {
		return
	}

	if up {
		listener.LinkUp()
	} else {
		listener.LinkDown()
	}
}

// FailNextEOT makes the next n EOT sends fail.
func (d *Driver) FailNextEOT(n int) {
	d.lock.Lock()
	d.failEOTs = n
	d.lock.Unlock()
}

// Stats returns a copy of the traffic counters.
func (d *Driver) Stats() Stats {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.stats
}

// Enqueue adds n packets to a flow ring. The registered callbacks decide
// whether the ring is held or transmits right away.
func (d *Driver) Enqueue(flowID, n int) error {
	d.lock.Lock()
	if !d.validFlowID(flowID) {
		d.lock.Unlock()
		return fmt.Errorf("drvsim: %s: flow ring %d out of range [0, %d)",
			d.name, flowID, len(d.rings))
	}

	ring := &d.rings[flowID]
	ring.queued += n

	if ring.held {
		d.lock.Unlock()
		return nil
	}

	// The ring counts as held while the callbacks decide, so that a
	// concurrent enqueue does not ask twice.
	ring.held = true
	cb := d.cb
	d.lock.Unlock()

	if cb != nil && cb.HandleFlowRing(flowID) {
		d.lock.Lock()
		d.stats.Held++
		d.lock.Unlock()

		return nil
	}

	d.lock.Lock()
	d.rings[flowID].held = false
	drained := d.drainLocked(flowID)
	d.lock.Unlock()

	d.transmit(drained)

	return nil
}

func (d *Driver) drainLocked(flowID int) int {
	n := d.rings[flowID].queued
	d.rings[flowID].queued = 0

	return n
}

func (d *Driver) transmit(n int) {
	if n == 0 {
		return
	}

	d.lock.Lock()
	d.stats.DataTx += uint64(n)
	d.stats.Bursts++
	peer := d.peer
	d.lock.Unlock()

	d.sched.After(d.linkLatency, func() {
		if peer != nil {
			peer.receiveData(n)
		}

		d.txComplete(n)
	})
}

func (d *Driver) txComplete(n int) {
	d.lock.Lock()
	d.stats.TxComplete += uint64(n)
	cb := d.cb
	d.lock.Unlock()

	if cb != nil {
		cb.TxComplete(0, false)
	}
}

func (d *Driver) receiveData(n int) {
	d.lock.Lock()
	d.stats.DataRx += uint64(n)
	cb := d.cb
	d.lock.Unlock()

	if cb != nil {
		cb.Rx()
	}
}

func (d *Driver) receiveEOT() {
	d.lock.Lock()
	d.stats.EOTRx++
	cb := d.cb
	d.lock.Unlock()

	if cb != nil {
		pkt := make(xrps.Packet, len(EOTMarker))
		copy(pkt, EOTMarker)
		cb.RxEOT(pkt)
	}
}
