package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sarchlab/xrps/datarecording"
	"github.com/sarchlab/xrps/xrps"
)

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report <file.sqlite3>",
		Short: "Summarize a recorded run.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, err := datarecording.NewReader(args[0])
			if err != nil {
				return err
			}
			defer reader.Close()

			xrps.MapTables(reader)

			return writeReport(cmd.Context(), cmd.OutOrStdout(), reader)
		},
	}
}

func writeReport(
	ctx context.Context,
	w io.Writer,
	reader datarecording.DataReader,
) error {
	if ctx == nil {
		ctx = context.Background()
	}

	stats, _, err := reader.Query(ctx, xrps.TableStats,
		datarecording.QueryParams{OrderBy: "Coordinator"})
	if err != nil {
		return err
	}

	for _, row := range stats {
		s := row.(*xrps.StatsEntry)

		_, total, err := reader.Query(ctx, xrps.TableFlush,
			datarecording.QueryParams{
				Where: "Coordinator = ?",
				Args:  []any{s.Coordinator},
				Limit: 1,
			})
		if err != nil {
			return err
		}

		_, failed, err := reader.Query(ctx, xrps.TableEOT,
			datarecording.QueryParams{
				Where: "Coordinator = ? AND Success = 0",
				Args:  []any{s.Coordinator},
				Limit: 1,
			})
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "%s: flushes=%d eot_tx=%d eot_rx=%d eot_failed=%d "+
			"max_unpause_latency_us=%d avg_queued=%d\n",
			s.Coordinator, total, s.EOTTx, s.EOTRx, failed,
			s.MaxUnpauseLatencyUs, s.AvgQueued)
	}

	return nil
}
