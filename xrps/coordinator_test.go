package xrps

import (
	"errors"
	"log"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var _ = Describe("Coordinator", func() {
	var (
		mockCtrl *gomock.Controller
		driver   *MockDriver
		osl      *MockOSLayer
		now      time.Duration
		c        *Coordinator
	)

	initCoordinator := func() {
		osl.EXPECT().Init(c).Return(nil)
		driver.EXPECT().Register(c).Return(nil)
		Expect(c.Init()).To(Succeed())
	}

	enterMaster := func() {
		driver.EXPECT().IsLinkUp().Return(true)
		osl.EXPECT().StartSysIntTimer(now + 100*time.Millisecond)
		Expect(c.SetMode(ModeMaster)).To(Succeed())
	}

	holdFlowRing := func(flowID int) {
		driver.EXPECT().FlowRingHasWorkToDo(flowID).Return(true)
		Expect(c.HandleFlowRing(flowID)).To(BeTrue())
	}

	expectRelease := func(flowID, queued int) {
		driver.EXPECT().GetNumQueued(flowID).Return(queued)
		driver.EXPECT().UnpauseQueue(flowID)
	}

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		driver = NewMockDriver(mockCtrl)
		osl = NewMockOSLayer(mockCtrl)
		now = 0
		osl.EXPECT().Now().
			DoAndReturn(func() time.Duration { return now }).
			AnyTimes()

		c = MakeBuilder().
			WithDriver(driver).
			WithOSLayer(osl).
			WithLogger(log.New(GinkgoWriter, "", 0)).
			Build("XRPS")
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	Context("init", func() {
		It("should start disabled with defaults", func() {
			initCoordinator()

			Expect(c.IsInit()).To(BeTrue())
			Expect(c.Mode()).To(Equal(ModeDisabled))
			Expect(c.SysIntervalUs()).To(Equal(uint32(DefaultSysIntervalUs)))
			Expect(c.QueuePause()).To(BeFalse())
			Expect(c.FirstRxInInterval()).To(BeTrue())
			Expect(c.PendingFlowIDs()).To(BeEmpty())
			Expect(c.Stats()).To(Equal(Stats{}))
		})

		It("should fail without an os layer", func() {
			c = MakeBuilder().WithDriver(driver).Build("XRPS")

			err := c.Init()

			Expect(errors.Is(err, ErrIO)).To(BeTrue())
			Expect(c.IsInit()).To(BeFalse())
		})

		It("should fail if the os layer cannot be set up", func() {
			osl.EXPECT().Init(c).Return(errors.New("no timer"))

			err := c.Init()

			Expect(errors.Is(err, ErrIO)).To(BeTrue())
			Expect(c.IsInit()).To(BeFalse())
		})

		It("should undo the os layer if the driver refuses registration", func() {
			osl.EXPECT().Init(c).Return(nil)
			driver.EXPECT().Register(c).Return(errors.New("busy"))
			osl.EXPECT().Cleanup()

			err := c.Init()

			Expect(errors.Is(err, ErrIO)).To(BeTrue())
			Expect(c.IsInit()).To(BeFalse())
		})

		It("should undo the os layer if there is no driver", func() {
			c = MakeBuilder().WithOSLayer(osl).Build("XRPS")
			osl.EXPECT().Init(c).Return(nil)
			osl.EXPECT().Cleanup()

			err := c.Init()

			Expect(errors.Is(err, ErrIO)).To(BeTrue())
		})
	})

	Context("cleanup", func() {
		It("should do nothing if not initialized", func() {
			c.Cleanup()

			Expect(c.IsInit()).To(BeFalse())
		})

		It("should release held rings and tear down", func() {
			initCoordinator()
			enterMaster()
			holdFlowRing(3)

			expectRelease(3, 1)
			osl.EXPECT().Cleanup()
			driver.EXPECT().Deregister()

			c.Cleanup()

			Expect(c.IsInit()).To(BeFalse())
			Expect(c.QueuePause()).To(BeFalse())
			Expect(c.PendingFlowIDs()).To(BeEmpty())
			Expect(c.Mode()).To(Equal(ModeDisabled))
		})
	})

	Context("set mode", func() {
		It("should reject an invalid mode", func() {
			initCoordinator()

			err := c.SetMode(Mode(7))

			Expect(errors.Is(err, ErrInvalidArgument)).To(BeTrue())
			Expect(c.Mode()).To(Equal(ModeDisabled))
		})

		It("should refuse master before init", func() {
			err := c.SetMode(ModeMaster)

			Expect(errors.Is(err, ErrNotReady)).To(BeTrue())
			Expect(c.Mode()).To(Equal(ModeDisabled))
		})

		It("should refuse slave before init", func() {
			err := c.SetMode(ModeSlave)

			Expect(errors.Is(err, ErrNotReady)).To(BeTrue())
		})

		It("should allow disabling before init", func() {
			Expect(c.SetMode(ModeDisabled)).To(Succeed())
		})

		It("should pause and start the timer in master mode", func() {
			initCoordinator()
			now = 7 * time.Millisecond

			enterMaster()

			Expect(c.Mode()).To(Equal(ModeMaster))
			Expect(c.QueuePause()).To(BeTrue())
			Expect(c.TimerRunning()).To(BeTrue())
			Expect(c.PendingFlowIDs()).To(BeEmpty())
			Expect(c.Stats().PauseCount).To(Equal(uint64(1)))
		})

		It("should stay unpaused in master mode if the link is down", func() {
			initCoordinator()
			driver.EXPECT().IsLinkUp().Return(false)

			Expect(c.SetMode(ModeMaster)).To(Succeed())

			Expect(c.Mode()).To(Equal(ModeMaster))
			Expect(c.QueuePause()).To(BeFalse())
			Expect(c.TimerRunning()).To(BeFalse())
		})

		It("should pause without a timer in slave mode", func() {
			initCoordinator()
			osl.EXPECT().StopSysIntTimer()

			Expect(c.SetMode(ModeSlave)).To(Succeed())

			Expect(c.QueuePause()).To(BeTrue())
			Expect(c.TimerRunning()).To(BeFalse())
			Expect(c.FirstRxInInterval()).To(BeTrue())
		})

		It("should stop the timer and release rings when disabled", func() {
			initCoordinator()
			enterMaster()
			holdFlowRing(2)
			holdFlowRing(9)

			osl.EXPECT().StopSysIntTimer()
			expectRelease(2, 4)
			expectRelease(9, 1)

			Expect(c.SetMode(ModeDisabled)).To(Succeed())

			Expect(c.QueuePause()).To(BeFalse())
			Expect(c.TimerRunning()).To(BeFalse())
			Expect(c.PendingFlowIDs()).To(BeEmpty())
		})

		It("should release rings held in master mode when entering slave", func() {
			initCoordinator()
			enterMaster()
			holdFlowRing(4)

			osl.EXPECT().StopSysIntTimer()
			expectRelease(4, 2)

			Expect(c.SetMode(ModeSlave)).To(Succeed())

			Expect(c.QueuePause()).To(BeTrue())
			Expect(c.TimerRunning()).To(BeFalse())
			Expect(c.PendingFlowIDs()).To(BeEmpty())
			Expect(c.Stats().PauseCount).To(Equal(uint64(2)))
			Expect(c.Stats().UnpauseCount).To(Equal(uint64(1)))
		})
	})

	Context("link state", func() {
		BeforeEach(func() {
			initCoordinator()
		})

		It("should pause the master on link down and resume on link up", func() {
			enterMaster()

			osl.EXPECT().StopSysIntTimer()
			c.LinkDown()

			Expect(c.QueuePause()).To(BeFalse())
			Expect(c.TimerRunning()).To(BeFalse())

			now = time.Second
			driver.EXPECT().IsLinkUp().Return(true)
			osl.EXPECT().StartSysIntTimer(time.Second + 100*time.Millisecond)
			c.LinkUp()

			Expect(c.QueuePause()).To(BeTrue())
			Expect(c.TimerRunning()).To(BeTrue())
		})

		It("should ignore link changes outside master mode", func() {
			osl.EXPECT().StopSysIntTimer()
			Expect(c.SetMode(ModeSlave)).To(Succeed())

			c.LinkDown()
			c.LinkUp()

			Expect(c.QueuePause()).To(BeTrue())
			Expect(c.TimerRunning()).To(BeFalse())
		})
	})

	Context("system interval", func() {
		It("should reject an interval below the minimum", func() {
			Expect(c.SetSysIntervalUs(20000)).To(Succeed())

			err := c.SetSysIntervalUs(5000)

			Expect(errors.Is(err, ErrInvalidArgument)).To(BeTrue())
			Expect(c.SysIntervalUs()).To(Equal(uint32(20000)))
		})

		It("should reject an interval above the maximum", func() {
			err := c.SetSysIntervalUs(MaxSysIntervalUs + 1)

			Expect(errors.Is(err, ErrInvalidArgument)).To(BeTrue())
			Expect(c.SysIntervalUs()).To(Equal(uint32(DefaultSysIntervalUs)))
		})

		It("should accept the bounds", func() {
			Expect(c.SetSysIntervalUs(MinSysIntervalUs)).To(Succeed())
			Expect(c.SetSysIntervalUs(MaxSysIntervalUs)).To(Succeed())
			Expect(c.SysIntervalUs()).To(Equal(uint32(MaxSysIntervalUs)))
		})

		It("should start the timer with the configured interval", func() {
			initCoordinator()
			Expect(c.SetSysIntervalUs(50000)).To(Succeed())

			driver.EXPECT().IsLinkUp().Return(true)
			osl.EXPECT().StartSysIntTimer(50 * time.Millisecond)

			Expect(c.SetMode(ModeMaster)).To(Succeed())
		})
	})

	Context("queue pause", func() {
		BeforeEach(func() {
			initCoordinator()
		})

		It("should ignore a redundant pause", func() {
			c.SetQueuePause(true)
			c.SetQueuePause(true)

			Expect(c.QueuePause()).To(BeTrue())
			Expect(c.Stats().PauseCount).To(Equal(uint64(1)))
		})

		It("should ignore a redundant unpause", func() {
			c.SetQueuePause(false)

			Expect(c.QueuePause()).To(BeFalse())
			Expect(c.Stats().UnpauseCount).To(BeZero())
		})

		It("should leave held rings alone on a redundant pause", func() {
			c.SetQueuePause(true)
			holdFlowRing(1)

			c.SetQueuePause(true)

			Expect(c.PendingFlowIDs()).To(Equal([]int{1}))
		})

		It("should release every held ring exactly once on unpause", func() {
			c.SetQueuePause(true)
			for _, id := range []int{8, 3, 21} {
				holdFlowRing(id)
			}

			expectRelease(8, 1)
			expectRelease(3, 1)
			expectRelease(21, 1)

			c.SetQueuePause(false)

			Expect(c.PendingFlowIDs()).To(BeEmpty())
			Expect(c.IsTxPending()).To(BeFalse())
			Expect(c.Stats().UnpauseCount).To(Equal(uint64(1)))
		})

		It("should not touch the driver when nothing is held", func() {
			c.SetQueuePause(true)
			c.SetQueuePause(false)

			Expect(c.Stats().MaxQueued).To(BeZero())
		})
	})

	Context("flow ring admission", func() {
		BeforeEach(func() {
			initCoordinator()
		})

		It("should not hold a ring without work", func() {
			c.SetQueuePause(true)
			driver.EXPECT().FlowRingHasWorkToDo(6).Return(false)

			Expect(c.HandleFlowRing(6)).To(BeFalse())
			Expect(c.PendingFlowIDs()).To(BeEmpty())
		})

		It("should not hold a ring while unpaused", func() {
			driver.EXPECT().FlowRingHasWorkToDo(6).Return(true)

			Expect(c.HandleFlowRing(6)).To(BeFalse())
			Expect(c.PendingFlowIDs()).To(BeEmpty())
		})

		It("should hold a ring only once", func() {
			c.SetQueuePause(true)
			holdFlowRing(6)
			holdFlowRing(6)

			Expect(c.PendingFlowIDs()).To(Equal([]int{6}))
		})

		It("should let the driver transmit when all slots are taken", func() {
			c.SetQueuePause(true)
			for id := 0; id < MaxFlowRings; id++ {
				holdFlowRing(id)
			}

			driver.EXPECT().FlowRingHasWorkToDo(MaxFlowRings).Return(true)

			Expect(c.HandleFlowRing(MaxFlowRings)).To(BeFalse())
			Expect(c.PendingFlowIDs()).To(HaveLen(MaxFlowRings))
		})
	})

	Context("flush statistics", func() {
		BeforeEach(func() {
			initCoordinator()
		})

		flush := func(flowID, queued int, latency time.Duration) {
			c.SetQueuePause(true)
			holdFlowRing(flowID)

			driver.EXPECT().GetNumQueued(flowID).Return(queued)
			driver.EXPECT().UnpauseQueue(flowID).
				Do(func(int) { now += latency })

			c.SetQueuePause(false)
		}

		It("should track max and running average", func() {
			flush(1, 6, 30*time.Microsecond)

			s := c.Stats()
			Expect(s.MaxUnpauseLatencyUs).To(Equal(uint64(30)))
			Expect(s.AvgUnpauseLatencyUs).To(Equal(uint64(30)))
			Expect(s.MaxQueued).To(Equal(uint64(6)))
			Expect(s.AvgQueued).To(Equal(uint64(6)))

			flush(2, 3, 10*time.Microsecond)

			s = c.Stats()
			Expect(s.MaxUnpauseLatencyUs).To(Equal(uint64(30)))
			Expect(s.AvgUnpauseLatencyUs).To(Equal(uint64(20)))
			Expect(s.MaxQueued).To(Equal(uint64(6)))
			Expect(s.AvgQueued).To(Equal(uint64(4)))
		})

		It("should count unpauses without held rings in the average", func() {
			c.SetQueuePause(true)
			c.SetQueuePause(false)

			flush(5, 2, 40*time.Microsecond)

			s := c.Stats()
			Expect(s.UnpauseCount).To(Equal(uint64(2)))
			Expect(s.MaxUnpauseLatencyUs).To(Equal(uint64(40)))
			Expect(s.AvgUnpauseLatencyUs).To(Equal(uint64(20)))
			Expect(s.AvgQueued).To(Equal(uint64(1)))
		})

		It("should be cleared on demand", func() {
			flush(1, 6, 30*time.Microsecond)

			c.ClearStats()

			Expect(c.Stats()).To(Equal(Stats{}))
		})
	})
})
