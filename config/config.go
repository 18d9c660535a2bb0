// Package config loads the settings of the xrps command.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/xrps/profiling"
	"github.com/sarchlab/xrps/xrps"
)

// Config holds the settings of an xrps run.
type Config struct {
	Mode              string           `yaml:"mode"`
	SysIntervalUs     uint32           `yaml:"sys_interval_us"`
	ProfilingLog      bool             `yaml:"profiling_log"`
	ProfilingCapacity int              `yaml:"profiling_capacity"`
	Monitor           MonitorConfig    `yaml:"monitor"`
	Recording         RecordingConfig  `yaml:"recording"`
	Simulation        SimulationConfig `yaml:"simulation"`
}

// MonitorConfig holds the monitoring server settings.
type MonitorConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"` // 0 picks a free port
	Open    bool `yaml:"open"` // open the API in a browser
}

// RecordingConfig holds the SQLite recording settings.
type RecordingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // empty picks a unique name
}

// SimulationConfig describes the master/slave pair and its traffic. A zero
// duration runs a live pair until it is stopped.
type SimulationConfig struct {
	Duration      time.Duration `yaml:"duration"`
	LinkLatencyUs int           `yaml:"link_latency_us"`
	EOTFailures   int           `yaml:"eot_failures"` // master EOT sends to fail
	Flows         []FlowConfig  `yaml:"flows"`
}

// FlowConfig is a periodic traffic source on one side of the link.
type FlowConfig struct {
	Node     string `yaml:"node"` // master or slave
	FlowID   int    `yaml:"flow_id"`
	Packets  int    `yaml:"packets"`
	PeriodUs int    `yaml:"period_us"`
	StartUs  int    `yaml:"start_us"`
}

// The node names a flow can be attached to.
const (
	NodeMaster = "master"
	NodeSlave  = "slave"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{
		Mode:              "master",
		SysIntervalUs:     xrps.DefaultSysIntervalUs,
		ProfilingLog:      true,
		ProfilingCapacity: profiling.DefaultCapacity,
		Monitor: MonitorConfig{
			Port: 32776,
		},
		Simulation: SimulationConfig{
			Duration:      time.Second,
			LinkLatencyUs: 200,
			Flows: []FlowConfig{
				{Node: NodeMaster, FlowID: 0, Packets: 4, PeriodUs: 7000},
				{Node: NodeMaster, FlowID: 1, Packets: 2, PeriodUs: 23000},
				{Node: NodeSlave, FlowID: 0, Packets: 3, PeriodUs: 11000},
			},
		},
	}

	return c
}

// LoadFile loads configuration from a YAML file. Settings missing from the
// file keep their default values.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	cfg.Simulation.Flows = nil

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "master"
	}
	if c.SysIntervalUs == 0 {
		c.SysIntervalUs = xrps.DefaultSysIntervalUs
	}
	if c.ProfilingCapacity == 0 {
		c.ProfilingCapacity = profiling.DefaultCapacity
	}
	if c.Monitor.Port == 0 {
		c.Monitor.Port = 32776
	}
	if c.Simulation.Flows == nil {
		c.Simulation.Flows = Default().Simulation.Flows
	}
}

// ParsedMode returns the configured mode.
func (c *Config) ParsedMode() (xrps.Mode, error) {
	return xrps.ParseMode(c.Mode)
}

// LinkLatency returns the simulated one-way link latency.
func (c *Config) LinkLatency() time.Duration {
	return time.Duration(c.Simulation.LinkLatencyUs) * time.Microsecond
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, err := c.ParsedMode(); err != nil {
		return fmt.Errorf("invalid mode: %w", err)
	}

	if c.SysIntervalUs < xrps.MinSysIntervalUs ||
		c.SysIntervalUs > xrps.MaxSysIntervalUs {
		return fmt.Errorf("invalid sys_interval_us: %d (expected %d to %d)",
			c.SysIntervalUs, xrps.MinSysIntervalUs, xrps.MaxSysIntervalUs)
	}

	if c.ProfilingCapacity <= 0 {
		return fmt.Errorf("invalid profiling_capacity: %d",
			c.ProfilingCapacity)
	}

	if c.Monitor.Port < 0 || c.Monitor.Port > 65535 {
		return fmt.Errorf("invalid monitor port: %d", c.Monitor.Port)
	}

	return c.Simulation.validate()
}

func (s *SimulationConfig) validate() error {
	if s.Duration < 0 {
		return fmt.Errorf("invalid simulation duration: %s", s.Duration)
	}

	if s.LinkLatencyUs < 0 {
		return fmt.Errorf("invalid link_latency_us: %d", s.LinkLatencyUs)
	}

	if s.EOTFailures < 0 {
		return fmt.Errorf("invalid eot_failures: %d", s.EOTFailures)
	}

	for i, f := range s.Flows {
		switch f.Node {
		case NodeMaster, NodeSlave:
		default:
			return fmt.Errorf("flow %d: invalid node %q (expected %s or %s)",
				i, f.Node, NodeMaster, NodeSlave)
		}

		if f.FlowID < 0 || f.FlowID >= xrps.MaxFlowRings {
			return fmt.Errorf("flow %d: invalid flow_id %d", i, f.FlowID)
		}

		if f.Packets <= 0 {
			return fmt.Errorf("flow %d: invalid packets %d", i, f.Packets)
		}

		if f.PeriodUs <= 0 {
			return fmt.Errorf("flow %d: invalid period_us %d", i, f.PeriodUs)
		}

		if f.StartUs < 0 {
			return fmt.Errorf("flow %d: invalid start_us %d", i, f.StartUs)
		}
	}

	return nil
}
