package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/xrps/simulation"
)

func newSimulateCmd() *cobra.Command {
	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate a master/slave pair in virtual time.",
		Long: "`simulate` runs a master and a slave node over a simulated " +
			"link for the configured duration and prints their statistics.",
		Args: cobra.NoArgs,
		RunE: runSimulate,
	}

	addRunFlags(simulateCmd)
	simulateCmd.Flags().Duration("duration", 0, "simulated time to run")
	simulateCmd.Flags().Bool("monitor", false,
		"serve the monitoring API while simulating")

	return simulateCmd
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if monitor, _ := cmd.Flags().GetBool("monitor"); monitor {
		cfg.Monitor.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.Simulation.Duration == 0 {
		return fmt.Errorf("simulation duration must be positive")
	}

	s := simulation.MakeBuilder().WithConfig(cfg).Build()
	defer s.Terminate()

	if err := s.Start(); err != nil {
		return err
	}

	if m := s.GetMonitor(); m != nil {
		openMonitor(cmd, m.URL(), cfg.Monitor.Open)
	}

	if err := s.Run(cmd.Context()); err != nil {
		return err
	}

	return s.Report(cmd.OutOrStdout())
}
