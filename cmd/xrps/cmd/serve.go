package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sarchlab/xrps/simulation"
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a live pair on the wall clock with a monitoring API.",
		Long: "`serve` runs a master and a slave node in real time and " +
			"serves the monitoring API until interrupted.",
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	addRunFlags(serveCmd)
	serveCmd.Flags().Duration("duration", 0,
		"stop after this long, 0 runs until interrupted")

	return serveCmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	cfg.Simulation.Duration, _ = cmd.Flags().GetDuration("duration")
	cfg.Monitor.Enabled = true

	if err := cfg.Validate(); err != nil {
		return err
	}

	s := simulation.MakeBuilder().WithConfig(cfg).WithRealTime().Build()
	defer s.Terminate()

	if err := s.Start(); err != nil {
		return err
	}

	openMonitor(cmd, s.GetMonitor().URL(), cfg.Monitor.Open)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Run(ctx); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout())

	return s.Report(cmd.OutOrStdout())
}
