// Package simulation assembles a master and a slave XRPS node connected by
// a simulated link, drives traffic through them and reports the result.
package simulation

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sarchlab/xrps/config"
	"github.com/sarchlab/xrps/datarecording"
	"github.com/sarchlab/xrps/drvsim"
	"github.com/sarchlab/xrps/monitoring"
	"github.com/sarchlab/xrps/sim"
	"github.com/sarchlab/xrps/xrps"
)

// A Node is one end of the link.
type Node struct {
	Name        string
	Driver      *drvsim.Driver
	Coordinator *xrps.Coordinator
}

// A Simulation owns the two nodes and the services around them.
type Simulation struct {
	id       string
	cfg      *config.Config
	realTime bool

	engine      *sim.SerialEngine
	scheduler   drvsim.Scheduler
	rtScheduler *drvsim.RealTimeScheduler

	master *Node
	slave  *Node

	dataRecorder datarecording.DataRecorder
	recorder     *xrps.Recorder
	execRecorder *datarecording.ExecRecorder
	monitor      *monitoring.Monitor

	stopLock sync.Mutex
	stopped  bool
}

// ID returns the unique id of the run.
func (s *Simulation) ID() string {
	return s.id
}

// GetEngine returns the engine used in the simulation. It is nil when the
// simulation runs in real time.
func (s *Simulation) GetEngine() sim.Engine {
	if s.engine == nil {
		return nil
	}

	return s.engine
}

// GetDataRecorder returns the data recorder, or nil if recording is off.
func (s *Simulation) GetDataRecorder() datarecording.DataRecorder {
	return s.dataRecorder
}

// GetMonitor returns the monitor, or nil if monitoring is off.
func (s *Simulation) GetMonitor() *monitoring.Monitor {
	return s.monitor
}

// Master returns the node that runs in the configured mode.
func (s *Simulation) Master() *Node {
	return s.master
}

// Slave returns the peer node.
func (s *Simulation) Slave() *Node {
	return s.slave
}

// Nodes returns both nodes, master first.
func (s *Simulation) Nodes() []*Node {
	return []*Node{s.master, s.slave}
}

// Start initializes the coordinators, sets their modes and starts the
// traffic and the monitoring server. The master node runs in the
// configured mode. The slave node follows it in slave mode, unless the
// master is disabled.
func (s *Simulation) Start() error {
	mode, err := s.cfg.ParsedMode()
	if err != nil {
		return err
	}

	peerMode := xrps.ModeSlave
	if mode == xrps.ModeDisabled {
		peerMode = xrps.ModeDisabled
	}

	if s.execRecorder != nil {
		s.execRecorder.Start(map[string]string{
			"Run ID": s.id,
			"Mode":   mode.String(),
		})
	}

	for _, n := range s.Nodes() {
		if err := n.Coordinator.Init(); err != nil {
			return fmt.Errorf("%s: %w", n.Name, err)
		}

		if err := n.Coordinator.SetSysIntervalUs(s.cfg.SysIntervalUs); err != nil {
			return fmt.Errorf("%s: %w", n.Name, err)
		}
	}

	if err := s.master.Coordinator.SetMode(mode); err != nil {
		return fmt.Errorf("%s: %w", s.master.Name, err)
	}

	if err := s.slave.Coordinator.SetMode(peerMode); err != nil {
		return fmt.Errorf("%s: %w", s.slave.Name, err)
	}

	s.master.Driver.FailNextEOT(s.cfg.Simulation.EOTFailures)

	for _, f := range s.cfg.Simulation.Flows {
		s.startFlow(f)
	}

	if s.monitor != nil {
		if err := s.monitor.StartServer(); err != nil {
			return err
		}
	}

	return nil
}

func (s *Simulation) nodeOf(f config.FlowConfig) *Node {
	if f.Node == config.NodeSlave {
		return s.slave
	}

	return s.master
}

func (s *Simulation) startFlow(f config.FlowConfig) {
	n := s.nodeOf(f)
	period := time.Duration(f.PeriodUs) * time.Microsecond

	var tick func()
	tick = func() {
		if s.isStopped() {
			return
		}

		// Ids are validated with the configuration.
		_ = n.Driver.Enqueue(f.FlowID, f.Packets)

		s.scheduler.After(period, tick)
	}

	s.scheduler.After(time.Duration(f.StartUs)*time.Microsecond, tick)
}

func (s *Simulation) isStopped() bool {
	s.stopLock.Lock()
	defer s.stopLock.Unlock()

	return s.stopped
}

// Run advances the simulation for the configured duration. In real time it
// returns when the duration has passed or ctx is done, whichever comes
// first. A zero duration in real time runs until ctx is done.
func (s *Simulation) Run(ctx context.Context) error {
	if s.realTime {
		return s.runRealTime(ctx)
	}

	var bar *monitoring.ProgressBar
	if s.monitor != nil {
		bar = s.monitor.CreateProgressBar("Simulation",
			uint64(s.cfg.Simulation.Duration.Microseconds()))
		defer s.monitor.CompleteProgressBar(bar)

		s.engine.AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
			if ctx.Pos == sim.HookPosAfterEvent {
				bar.SetFinished(uint64(s.engine.CurrentTime().Microseconds()))
			}
		}))
	}

	return s.engine.RunUntil(s.cfg.Simulation.Duration)
}

func (s *Simulation) runRealTime(ctx context.Context) error {
	if s.cfg.Simulation.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Simulation.Duration)
		defer cancel()
	}

	<-ctx.Done()

	return nil
}

// Terminate stops the traffic, cleans up the coordinators and closes the
// recorder.
func (s *Simulation) Terminate() {
	s.stopLock.Lock()
	if s.stopped {
		s.stopLock.Unlock()
		return
	}
	s.stopped = true
	s.stopLock.Unlock()

	if s.recorder != nil {
		for _, n := range s.Nodes() {
			s.recorder.RecordStats(n.Coordinator)
		}
	}

	for _, n := range s.Nodes() {
		n.Coordinator.Cleanup()
	}

	if s.rtScheduler != nil {
		s.rtScheduler.Close()
	}

	if s.monitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_ = s.monitor.StopServer(ctx)
	}

	if s.dataRecorder != nil {
		s.execRecorder.End()
		_ = s.dataRecorder.Close()
	}
}

// Report writes the statistics of both nodes.
func (s *Simulation) Report(w io.Writer) error {
	for i, n := range s.Nodes() {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}

		if err := writeNode(w, n); err != nil {
			return err
		}
	}

	return nil
}

func writeNode(w io.Writer, n *Node) error {
	stats := n.Coordinator.Stats()
	drv := n.Driver.Stats()

	_, err := fmt.Fprintf(w, "== %s (%s) ==\n", n.Name, n.Coordinator.Mode())
	if err != nil {
		return err
	}

	if _, err := stats.WriteTo(w); err != nil {
		return err
	}

	_, err = fmt.Fprintf(w,
		"driver: data_tx=%d data_rx=%d bursts=%d held=%d "+
			"eot_tx=%d eot_rx=%d\n",
		drv.DataTx, drv.DataRx, drv.Bursts, drv.Held, drv.EOTTx, drv.EOTRx)

	return err
}
