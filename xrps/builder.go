package xrps

import (
	"log"

	"github.com/sarchlab/xrps/profiling"
	"github.com/sarchlab/xrps/sim"
)

// Builder can build coordinators.
type Builder struct {
	driver            Driver
	osl               OSLayer
	logger            *log.Logger
	profilingCapacity int
	profilingLog      bool
}

// MakeBuilder returns a Builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		logger:            log.Default(),
		profilingCapacity: profiling.DefaultCapacity,
		profilingLog:      true,
	}
}

// WithDriver sets the wireless driver the coordinator steers.
func (b Builder) WithDriver(driver Driver) Builder {
	b.driver = driver
	return b
}

// WithOSLayer sets the OS layer that provides clock, timer and deferred
// work.
func (b Builder) WithOSLayer(osl OSLayer) Builder {
	b.osl = osl
	return b
}

// WithLogger sets where diagnostics are written.
func (b Builder) WithLogger(logger *log.Logger) Builder {
	b.logger = logger
	return b
}

// WithProfilingCapacity sets the number of events the profiling ring holds.
func (b Builder) WithProfilingCapacity(n int) Builder {
	b.profilingCapacity = n
	return b
}

// WithoutProfilingLog stops dumped profiling events from being logged. They
// are still delivered to hooks.
func (b Builder) WithoutProfilingLog() Builder {
	b.profilingLog = false
	return b
}

// Build creates a coordinator. The coordinator must be initialized with
// Init before it takes part in traffic.
func (b Builder) Build(name string) *Coordinator {
	if b.profilingCapacity <= 0 {
		log.Panicf("xrps: profiling capacity must be positive, got %d",
			b.profilingCapacity)
	}

	c := &Coordinator{
		HookableBase:      sim.NewHookableBase(),
		name:              name,
		driver:            b.driver,
		osl:               b.osl,
		logger:            b.logger,
		profilingCapacity: b.profilingCapacity,
		profilingLog:      b.profilingLog,
		pending:           make([]int, 0, MaxFlowRings),
		firstRxInInterval: true,
	}
	c.sysIntervalUs.Store(DefaultSysIntervalUs)

	return c
}
