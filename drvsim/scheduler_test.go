package drvsim

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/xrps/sim"
)

var _ = Describe("EngineScheduler", func() {
	It("should run functions at the delayed simulation time", func() {
		engine := sim.NewSerialEngine()
		s := EngineScheduler{Engine: engine}
		times := []time.Duration{}

		s.After(2*time.Millisecond, func() { times = append(times, s.Now()) })
		s.After(time.Millisecond, func() { times = append(times, s.Now()) })
		engine.Run()

		Expect(times).To(Equal([]time.Duration{
			time.Millisecond, 2 * time.Millisecond,
		}))
	})
})

var _ = Describe("RealTimeScheduler", func() {
	var s *RealTimeScheduler

	BeforeEach(func() {
		s = NewRealTimeScheduler()
	})

	AfterEach(func() {
		s.Close()
	})

	It("should run functions in time order", func() {
		var lock sync.Mutex
		order := []int{}
		record := func(i int) func() {
			return func() {
				lock.Lock()
				order = append(order, i)
				lock.Unlock()
			}
		}

		s.After(30*time.Millisecond, record(3))
		s.After(10*time.Millisecond, record(1))
		s.After(10*time.Millisecond, record(2))

		Eventually(func() []int {
			lock.Lock()
			defer lock.Unlock()

			return append([]int{}, order...)
		}).WithTimeout(time.Second).Should(Equal([]int{1, 2, 3}))
	})

	It("should not run functions before their time", func() {
		ran := make(chan struct{})
		s.After(time.Hour, func() { close(ran) })

		Consistently(ran).WithTimeout(50 * time.Millisecond).
			ShouldNot(BeClosed())
	})
})
