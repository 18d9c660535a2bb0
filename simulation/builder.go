package simulation

import (
	"log"

	"github.com/rs/xid"

	"github.com/sarchlab/xrps/config"
	"github.com/sarchlab/xrps/datarecording"
	"github.com/sarchlab/xrps/drvsim"
	"github.com/sarchlab/xrps/monitoring"
	"github.com/sarchlab/xrps/osl"
	"github.com/sarchlab/xrps/sim"
	"github.com/sarchlab/xrps/xrps"
)

// Builder can be used to build a simulation.
type Builder struct {
	cfg            *config.Config
	realTime       bool
	monitorOn      bool
	monitorPort    int
	recordingOn    bool
	outputFileName string
	logger         *log.Logger
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{
		cfg:    config.Default(),
		logger: log.Default(),
	}
}

// WithConfig sets the configuration of the pair and its traffic.
func (b Builder) WithConfig(cfg *config.Config) Builder {
	b.cfg = cfg
	b.monitorOn = cfg.Monitor.Enabled
	b.monitorPort = cfg.Monitor.Port
	b.recordingOn = cfg.Recording.Enabled
	b.outputFileName = cfg.Recording.Path

	return b
}

// WithRealTime runs the pair on the wall clock instead of a simulation
// engine.
func (b Builder) WithRealTime() Builder {
	b.realTime = true
	return b
}

// WithMonitoring turns the monitoring server on.
func (b Builder) WithMonitoring() Builder {
	b.monitorOn = true
	return b
}

// WithoutMonitoring sets the simulation to not use monitoring.
func (b Builder) WithoutMonitoring() Builder {
	b.monitorOn = false
	return b
}

// WithMonitorPort sets the port number for the monitoring server.
func (b Builder) WithMonitorPort(port int) Builder {
	b.monitorPort = port
	return b
}

// WithRecording turns SQLite recording on.
func (b Builder) WithRecording() Builder {
	b.recordingOn = true
	return b
}

// WithOutputFileName sets the custom output file name for the data recorder.
func (b Builder) WithOutputFileName(filename string) Builder {
	b.outputFileName = filename
	return b
}

// WithLogger sets the logger the coordinators write to.
func (b Builder) WithLogger(logger *log.Logger) Builder {
	b.logger = logger
	return b
}

func (b Builder) parametersMustBeValid() {
	if !b.recordingOn && b.outputFileName != "" {
		log.Panic("output file name cannot be set when recording is disabled")
	}
}

// Build builds the simulation.
func (b Builder) Build() *Simulation {
	b.parametersMustBeValid()

	s := &Simulation{
		id:       xid.New().String(),
		cfg:      b.cfg,
		realTime: b.realTime,
	}

	s.buildScheduler()
	s.master = b.buildNode(s, "Master")
	s.slave = b.buildNode(s, "Slave")
	drvsim.Connect(s.master.Driver, s.slave.Driver)

	if b.recordingOn {
		b.buildRecording(s)
	}

	if b.monitorOn {
		s.monitor = monitoring.NewMonitor()
		if b.monitorPort > 0 {
			s.monitor.WithPortNumber(b.monitorPort)
		}

		if s.engine != nil {
			s.monitor.RegisterEngine(s.engine)
		}

		s.monitor.RegisterCoordinator(s.master.Coordinator)
		s.monitor.RegisterCoordinator(s.slave.Coordinator)
	}

	return s
}

func (s *Simulation) buildScheduler() {
	if s.realTime {
		rt := drvsim.NewRealTimeScheduler()
		s.rtScheduler = rt
		s.scheduler = rt

		return
	}

	s.engine = sim.NewSerialEngine()
	s.scheduler = drvsim.EngineScheduler{Engine: s.engine}
}

func (b Builder) buildNode(s *Simulation, name string) *Node {
	driver := drvsim.MakeBuilder().
		WithScheduler(s.scheduler).
		WithLinkLatency(b.cfg.LinkLatency()).
		Build(name + ".Driver")

	var layer xrps.OSLayer
	if s.realTime {
		layer = osl.NewRealTime()
	} else {
		layer = osl.NewSimulated(s.engine)
	}

	cb := xrps.MakeBuilder().
		WithDriver(driver).
		WithOSLayer(layer).
		WithLogger(b.logger).
		WithProfilingCapacity(b.cfg.ProfilingCapacity)
	if !b.cfg.ProfilingLog {
		cb = cb.WithoutProfilingLog()
	}

	return &Node{
		Name:        name,
		Driver:      driver,
		Coordinator: cb.Build(name),
	}
}

func (b Builder) buildRecording(s *Simulation) {
	outputPath := b.outputFileName
	if outputPath == "" {
		outputPath = "xrps_sim_" + s.id
	}

	s.dataRecorder = datarecording.New(outputPath)
	s.recorder = xrps.NewRecorder(s.dataRecorder)
	s.execRecorder = datarecording.NewExecRecorder(s.dataRecorder)

	s.master.Coordinator.AcceptHook(s.recorder)
	s.slave.Coordinator.AcceptHook(s.recorder)
}
