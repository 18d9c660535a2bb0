// Package cmd provides the command-line interface for xrps.
package cmd

import (
	"fmt"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/xrps/config"
)

// Version is the version reported by the version command. It is set at
// link time.
var Version = "dev"

// NewRootCmd creates the xrps command with all its subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "xrps",
		Short: "xrps coordinates burst transmission between two XR radios.",
		Long: `xrps coordinates burst transmission between two XR radios. ` +
			`It can simulate a master/slave pair, serve a live pair with a ` +
			`monitoring API, and report on recorded runs.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "",
		"YAML configuration file")
	rootCmd.PersistentFlags().String("env-file", ".env",
		"file with XRPS_* variables, ignored if missing")

	rootCmd.AddCommand(
		newSimulateCmd(),
		newServeCmd(),
		newReportCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

// Execute runs the xrps command and exits. Exit handlers, such as the
// flushing of recorders, run before the process ends.
func Execute() {
	err := NewRootCmd().Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

// loadConfig builds the configuration from the defaults, the config file,
// the environment and the command flags, in increasing precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()

	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		var err error

		cfg, err = config.LoadFile(path)
		if err != nil {
			return nil, err
		}
	}

	envFile, _ := cmd.Flags().GetString("env-file")
	if err := cfg.ApplyEnv(envFile); err != nil {
		return nil, err
	}

	applyFlags(cmd, cfg)

	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("mode") {
		cfg.Mode, _ = flags.GetString("mode")
	}

	if flags.Changed("interval") {
		cfg.SysIntervalUs, _ = flags.GetUint32("interval")
	}

	if flags.Changed("duration") {
		cfg.Simulation.Duration, _ = flags.GetDuration("duration")
	}

	if flags.Changed("port") {
		cfg.Monitor.Port, _ = flags.GetInt("port")
	}

	if flags.Changed("open") {
		cfg.Monitor.Open, _ = flags.GetBool("open")
	}

	if flags.Changed("record") {
		cfg.Recording.Enabled, _ = flags.GetBool("record")
	}

	if flags.Changed("output") {
		cfg.Recording.Path, _ = flags.GetString("output")
		cfg.Recording.Enabled = true
	}

	if flags.Changed("quiet") {
		quiet, _ := flags.GetBool("quiet")
		cfg.ProfilingLog = !quiet
	}
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("mode", "master",
		"mode of the master node: disabled, master or slave")
	cmd.Flags().Uint32("interval", 0, "burst interval in microseconds")
	cmd.Flags().Int("port", 0, "port of the monitoring server")
	cmd.Flags().Bool("open", false, "open the monitoring page in a browser")
	cmd.Flags().Bool("record", false, "record the run into SQLite")
	cmd.Flags().String("output", "",
		"name of the SQLite file, without extension")
	cmd.Flags().Bool("quiet", false, "do not log profiling dumps")
}

var browserOpener = browser.OpenURL

func openMonitor(cmd *cobra.Command, url string, open bool) {
	if !open {
		return
	}

	if err := browserOpener(url); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "cannot open browser: %v\n", err)
	}
}
