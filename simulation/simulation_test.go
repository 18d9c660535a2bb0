package simulation

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/xrps/config"
	"github.com/sarchlab/xrps/xrps"
)

var _ = Describe("Simulation", func() {
	var (
		cfg     *config.Config
		builder Builder
		s       *Simulation
	)

	BeforeEach(func() {
		cfg = config.Default()
		cfg.ProfilingLog = false
		builder = MakeBuilder().
			WithConfig(cfg).
			WithLogger(log.New(GinkgoWriter, "", 0))
	})

	AfterEach(func() {
		if s != nil {
			s.Terminate()
			s = nil
		}
	})

	run := func() {
		s = builder.Build()
		Expect(s.Start()).To(Succeed())
		Expect(s.Run(context.Background())).To(Succeed())
	}

	It("should give each run a unique id", func() {
		a := builder.Build()
		b := builder.Build()
		DeferCleanup(a.Terminate)
		DeferCleanup(b.Terminate)

		Expect(a.ID()).NotTo(Equal(b.ID()))
	})

	It("should hold traffic and burst it every interval", func() {
		run()

		master := s.Master()
		slave := s.Slave()

		Expect(master.Coordinator.Mode()).To(Equal(xrps.ModeMaster))
		Expect(slave.Coordinator.Mode()).To(Equal(xrps.ModeSlave))

		ms := master.Coordinator.Stats()
		Expect(ms.SysInts).To(Equal(uint64(10)))
		Expect(ms.EOTTx).To(Equal(uint64(10)))
		Expect(ms.UnpauseCount).To(BeNumerically(">=", 10))
		Expect(ms.MaxQueued).To(BeNumerically(">", 0))

		Expect(master.Driver.Stats().Held).To(BeNumerically(">", 0))
		Expect(slave.Driver.Stats().DataRx).To(BeNumerically(">", 0))
		Expect(slave.Driver.Stats().EOTRx).To(BeNumerically(">=", 9))

		ss := slave.Coordinator.Stats()
		Expect(ss.SysInts).To(BeZero())
		Expect(ss.EOTTx).To(BeNumerically(">", 0))
		Expect(master.Coordinator.Stats().EOTRx).To(Equal(ss.EOTTx))
	})

	It("should let traffic through when disabled", func() {
		cfg.Mode = "disabled"

		run()

		Expect(s.Slave().Coordinator.Mode()).To(Equal(xrps.ModeDisabled))
		for _, n := range s.Nodes() {
			Expect(n.Driver.Stats().Held).To(BeZero())
			Expect(n.Coordinator.Stats().EOTTx).To(BeZero())
			Expect(n.Coordinator.Stats().SysInts).To(BeZero())
		}
		Expect(s.Slave().Driver.Stats().DataRx).To(BeNumerically(">", 0))
	})

	It("should count failed EOT sends", func() {
		cfg.Simulation.EOTFailures = 2

		run()

		stats := s.Master().Coordinator.Stats()
		Expect(stats.SendEOTFail).To(Equal(uint64(2)))
		Expect(stats.EOTTx).To(Equal(uint64(8)))
	})

	It("should use the configured interval", func() {
		cfg.SysIntervalUs = 50000

		run()

		Expect(s.Master().Coordinator.SysIntervalUs()).To(Equal(uint32(50000)))
		Expect(s.Master().Coordinator.Stats().SysInts).To(Equal(uint64(20)))
	})

	It("should report both nodes", func() {
		run()

		buf := new(bytes.Buffer)
		Expect(s.Report(buf)).To(Succeed())

		Expect(buf.String()).To(ContainSubstring("== Master (master) =="))
		Expect(buf.String()).To(ContainSubstring("== Slave (slave) =="))
		Expect(buf.String()).To(ContainSubstring("sys_ints: 10\n"))
	})

	It("should record to SQLite", func() {
		path := filepath.Join(GinkgoT().TempDir(), "run")
		builder = builder.WithRecording().WithOutputFileName(path)

		run()

		Expect(s.GetDataRecorder().ListTables()).To(ContainElements(
			"exec_info", "xrps_flush", "xrps_eot", "xrps_profiling",
			"xrps_stats"))

		s.Terminate()
		s = nil

		_, err := os.Stat(path + ".sqlite3")
		Expect(err).NotTo(HaveOccurred())
	})

	It("should refuse an output file without recording", func() {
		Expect(func() {
			builder.WithOutputFileName("run").Build()
		}).To(Panic())
	})

	It("should fail to start with an invalid mode", func() {
		cfg.Mode = "leader"
		s = builder.Build()

		Expect(s.Start()).NotTo(Succeed())
	})

	It("should serve the monitor", func() {
		builder = builder.WithMonitoring().WithMonitorPort(0)

		run()

		Expect(s.GetMonitor()).NotTo(BeNil())
		Expect(s.GetMonitor().URL()).To(HavePrefix("http://localhost:"))
	})

	Context("in real time", func() {
		It("should run the pair on the wall clock", func() {
			cfg.SysIntervalUs = xrps.MinSysIntervalUs
			cfg.Simulation.Duration = 200 * time.Millisecond
			cfg.Simulation.Flows = []config.FlowConfig{
				{Node: config.NodeMaster, FlowID: 0, Packets: 1, PeriodUs: 5000},
			}

			s = builder.WithRealTime().Build()
			Expect(s.GetEngine()).To(BeNil())
			Expect(s.Start()).To(Succeed())
			Expect(s.Run(context.Background())).To(Succeed())

			Expect(s.Master().Coordinator.Stats().SysInts).
				To(BeNumerically(">", 0))
			Eventually(func() uint64 {
				return s.Slave().Driver.Stats().DataRx
			}).WithTimeout(time.Second).Should(BeNumerically(">", 0))
		})

		It("should stop when the context is done", func() {
			cfg.Simulation.Duration = 0

			s = builder.WithRealTime().Build()
			Expect(s.Start()).To(Succeed())

			ctx, cancel := context.WithTimeout(
				context.Background(), 50*time.Millisecond)
			defer cancel()

			Expect(s.Run(ctx)).To(Succeed())
		})
	})
})
