package drvsim

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/xrps/sim"
	"github.com/sarchlab/xrps/xrps"
)

var _ = Describe("Driver", func() {
	var (
		engine    *sim.SerialEngine
		a, b      *Driver
		aCB, bCB  *fakeCallbacks
		latency   = 300 * time.Microsecond
		scheduler Scheduler
	)

	BeforeEach(func() {
		engine = sim.NewSerialEngine()
		scheduler = EngineScheduler{Engine: engine}
		builder := MakeBuilder().
			WithScheduler(scheduler).
			WithLinkLatency(latency).
			WithNumFlowRings(4)
		a = builder.Build("A")
		b = builder.Build("B")
		Connect(a, b)

		aCB = newFakeCallbacks()
		bCB = newFakeCallbacks()
		Expect(a.Register(aCB)).To(Succeed())
		Expect(b.Register(bCB)).To(Succeed())
	})

	It("should refuse a second registration", func() {
		Expect(a.Register(newFakeCallbacks())).NotTo(Succeed())
	})

	It("should reject flow ids out of range", func() {
		Expect(a.Enqueue(4, 1)).NotTo(Succeed())
		Expect(a.Enqueue(-1, 1)).NotTo(Succeed())
		Expect(a.FlowRingHasWorkToDo(9)).To(BeFalse())
		Expect(a.GetNumQueued(9)).To(Equal(0))
		a.UnpauseQueue(9)
	})

	It("should transmit right away when the ring is not held", func() {
		Expect(a.Enqueue(1, 3)).To(Succeed())

		Expect(aCB.asked).To(Equal([]int{1}))
		Expect(a.GetNumQueued(1)).To(Equal(0))
		Expect(a.Stats().DataTx).To(Equal(uint64(3)))
		Expect(bCB.rxCount()).To(Equal(0))

		engine.Run()

		Expect(engine.CurrentTime()).To(Equal(latency))
		Expect(bCB.rxCount()).To(Equal(1))
		Expect(b.Stats().DataRx).To(Equal(uint64(3)))
		Expect(aCB.txComplete).To(Equal(1))
		Expect(a.Stats().TxComplete).To(Equal(uint64(3)))
	})

	It("should hold the ring until it is unpaused", func() {
		aCB.hold[2] = true

		Expect(a.Enqueue(2, 3)).To(Succeed())
		Expect(a.Enqueue(2, 2)).To(Succeed())

		Expect(aCB.asked).To(Equal([]int{2}))
		Expect(a.FlowRingHasWorkToDo(2)).To(BeTrue())
		Expect(a.GetNumQueued(2)).To(Equal(5))
		Expect(a.Stats().Held).To(Equal(uint64(1)))

		engine.Run()
		Expect(bCB.rxCount()).To(Equal(0))

		a.UnpauseQueue(2)
		Expect(a.GetNumQueued(2)).To(Equal(0))
		Expect(a.FlowRingHasWorkToDo(2)).To(BeFalse())

		engine.Run()
		Expect(bCB.rxCount()).To(Equal(1))
		Expect(b.Stats().DataRx).To(Equal(uint64(5)))
		Expect(a.Stats().Bursts).To(Equal(uint64(1)))
	})

	It("should ask again once a held ring has been released", func() {
		aCB.hold[0] = true
		Expect(a.Enqueue(0, 1)).To(Succeed())
		a.UnpauseQueue(0)
		Expect(a.Enqueue(0, 1)).To(Succeed())

		Expect(aCB.asked).To(Equal([]int{0, 0}))
	})

	It("should deliver EOT to the peer", func() {
		Expect(a.SendEOT()).To(Succeed())
		engine.Run()

		Expect(bCB.rxEOT).To(HaveLen(1))
		Expect(bCB.rxEOT[0]).To(Equal(EOTMarker))
		Expect(a.Stats().EOTTx).To(Equal(uint64(1)))
		Expect(b.Stats().EOTRx).To(Equal(uint64(1)))
	})

	It("should deliver EOT after the data sent before it", func() {
		Expect(a.Enqueue(1, 1)).To(Succeed())
		Expect(a.SendEOT()).To(Succeed())

		engine.RunUntil(latency - time.Microsecond)
		Expect(bCB.rxCount()).To(Equal(0))
		Expect(bCB.rxEOT).To(BeEmpty())

		engine.Run()
		Expect(bCB.received).To(Equal([]string{"data", "eot"}))
	})

	It("should fail injected EOT sends", func() {
		a.FailNextEOT(2)

		Expect(a.SendEOT()).To(MatchError(ErrEOTInjected))
		Expect(a.SendEOT()).To(MatchError(ErrEOTInjected))
		Expect(a.SendEOT()).To(Succeed())
		Expect(a.Stats().EOTTx).To(Equal(uint64(1)))
	})

	It("should not send EOT while the link is down", func() {
		a.SetLinkUp(false)

		Expect(a.IsLinkUp()).To(BeFalse())
		Expect(a.SendEOT()).To(MatchError(ErrLinkDown))
	})

	It("should tell link listeners about changes only", func() {
		a.SetLinkUp(true)
		a.SetLinkUp(false)
		a.SetLinkUp(false)
		a.SetLinkUp(true)

		Expect(aCB.linkDowns).To(Equal(1))
		Expect(aCB.linkUps).To(Equal(1))
	})

	It("should release held rings on deregistration", func() {
		aCB.hold[3] = true
		Expect(a.Enqueue(3, 2)).To(Succeed())

		a.Deregister()
		engine.Run()

		Expect(a.GetNumQueued(3)).To(Equal(0))
		Expect(b.Stats().DataRx).To(Equal(uint64(2)))
		Expect(aCB.txComplete).To(Equal(0))
	})

	It("should transmit without callbacks", func() {
		c := MakeBuilder().WithScheduler(scheduler).Build("C")

		Expect(c.Enqueue(0, 1)).To(Succeed())
		engine.Run()

		Expect(c.Stats().TxComplete).To(Equal(uint64(1)))
	})

	It("should panic without a scheduler", func() {
		Expect(func() { MakeBuilder().Build("D") }).To(Panic())
	})

	It("should start with the link down if asked", func() {
		d := MakeBuilder().WithScheduler(scheduler).WithLinkDown().Build("D")
		Expect(d.IsLinkUp()).To(BeFalse())
	})
})

var _ xrps.Driver = (*Driver)(nil)
