package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// The environment variables that override file settings.
const (
	EnvMode             = "XRPS_MODE"
	EnvSysIntervalUs    = "XRPS_SYS_INTERVAL_US"
	EnvProfilingLog     = "XRPS_PROFILING_LOG"
	EnvMonitorEnabled   = "XRPS_MONITOR_ENABLED"
	EnvMonitorPort      = "XRPS_MONITOR_PORT"
	EnvRecordingEnabled = "XRPS_RECORDING_ENABLED"
	EnvRecordingPath    = "XRPS_RECORDING_PATH"
)

// ApplyEnv overlays XRPS_* variables on the configuration. Variables come
// from envFile, if it exists, and from the process environment, which
// takes precedence.
func (c *Config) ApplyEnv(envFile string) error {
	env := map[string]string{}

	if envFile != "" {
		fileEnv, err := godotenv.Read(envFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return fmt.Errorf("failed to read env file: %w", err)
		default:
			env = fileEnv
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}

		v, ok := env[key]

		return v, ok
	}

	if v, ok := lookup(EnvMode); ok {
		c.Mode = v
	}

	if v, ok := lookup(EnvSysIntervalUs); ok {
		us, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvSysIntervalUs, err)
		}

		c.SysIntervalUs = uint32(us)
	}

	if err := overlayBool(lookup, EnvProfilingLog, &c.ProfilingLog); err != nil {
		return err
	}

	if err := overlayBool(lookup, EnvMonitorEnabled, &c.Monitor.Enabled); err != nil {
		return err
	}

	if v, ok := lookup(EnvMonitorPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMonitorPort, err)
		}

		c.Monitor.Port = port
	}

	if err := overlayBool(lookup, EnvRecordingEnabled, &c.Recording.Enabled); err != nil {
		return err
	}

	if v, ok := lookup(EnvRecordingPath); ok {
		c.Recording.Path = v
	}

	return nil
}

func overlayBool(
	lookup func(string) (string, bool),
	key string,
	field *bool,
) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}

	*field = b

	return nil
}
