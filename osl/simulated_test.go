package osl

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/xrps/sim"
)

var _ = Describe("Simulated", func() {
	var (
		engine *sim.SerialEngine
		host   *fakeHost
		layer  *Simulated
	)

	BeforeEach(func() {
		engine = sim.NewSerialEngine()
		host = &fakeHost{intervalUs: 1000}
		layer = NewSimulated(engine)
		Expect(layer.Init(host)).To(Succeed())
	})

	It("should follow the engine clock", func() {
		Expect(engine.RunUntil(3 * time.Millisecond)).To(Succeed())

		Expect(layer.Now()).To(Equal(3 * time.Millisecond))
	})

	It("should fire at the deadline and then every interval", func() {
		times := []time.Duration{}
		host.onSysInt = func() { times = append(times, layer.Now()) }

		layer.StartSysIntTimer(500 * time.Microsecond)
		Expect(engine.RunUntil(3 * time.Millisecond)).To(Succeed())

		Expect(times).To(Equal([]time.Duration{
			500 * time.Microsecond,
			1500 * time.Microsecond,
			2500 * time.Microsecond,
		}))
	})

	It("should pick up a new interval at the next re-arm", func() {
		times := []time.Duration{}
		host.onSysInt = func() {
			times = append(times, layer.Now())
			host.intervalUs = 2000
		}

		layer.StartSysIntTimer(time.Millisecond)
		Expect(engine.RunUntil(6 * time.Millisecond)).To(Succeed())

		Expect(times).To(Equal([]time.Duration{
			1 * time.Millisecond,
			3 * time.Millisecond,
			5 * time.Millisecond,
		}))
	})

	It("should not fire after being stopped", func() {
		layer.StartSysIntTimer(time.Millisecond)
		Expect(engine.RunUntil(1500 * time.Microsecond)).To(Succeed())

		layer.StopSysIntTimer()
		Expect(engine.RunUntil(10 * time.Millisecond)).To(Succeed())

		sysInts, _ := host.counts()
		Expect(sysInts).To(Equal(1))
		Expect(layer.TimerRunning()).To(BeFalse())
	})

	It("should stop when stopped from the handler", func() {
		host.onSysInt = func() { layer.StopSysIntTimer() }

		layer.StartSysIntTimer(time.Millisecond)
		Expect(engine.RunUntil(10 * time.Millisecond)).To(Succeed())

		sysInts, _ := host.counts()
		Expect(sysInts).To(Equal(1))
	})

	It("should replace a running timer on restart", func() {
		layer.StartSysIntTimer(time.Millisecond)
		layer.StartSysIntTimer(5 * time.Millisecond)
		Expect(engine.RunUntil(5500 * time.Microsecond)).To(Succeed())

		sysInts, _ := host.counts()
		Expect(sysInts).To(Equal(1))
	})

	It("should fire immediately for a deadline in the past", func() {
		Expect(engine.RunUntil(2 * time.Millisecond)).To(Succeed())

		layer.StartSysIntTimer(time.Millisecond)
		Expect(engine.RunUntil(2 * time.Millisecond)).To(Succeed())

		sysInts, _ := host.counts()
		Expect(sysInts).To(Equal(1))
	})

	It("should run deferred EOT work at the current time", func() {
		layer.SubmitEOTWork()
		layer.SubmitEOTWork()

		_, eots := host.counts()
		Expect(eots).To(BeZero())

		Expect(engine.RunUntil(0)).To(Succeed())

		_, eots = host.counts()
		Expect(eots).To(Equal(2))
	})

	It("should discard deferred work after cleanup", func() {
		layer.SubmitEOTWork()
		layer.Cleanup()

		Expect(engine.Run()).To(Succeed())

		_, eots := host.counts()
		Expect(eots).To(BeZero())
	})
})
