package xrps

import (
	"fmt"
	"io"
	"strings"
)

// Stats accumulates what the coordinator has done since it was initialized
// or since the last ClearStats.
type Stats struct {
	EOTTx       uint64 `json:"eot_tx"`
	EOTRx       uint64 `json:"eot_rx"`
	DataTxCmplt uint64 `json:"data_txcmplt"`
	SysInts     uint64 `json:"sys_ints"`
	SendEOTFail uint64 `json:"send_eot_fail"`

	PauseCount   uint64 `json:"pause_count"`
	UnpauseCount uint64 `json:"unpause_count"`

	MaxUnpauseLatencyUs uint64 `json:"max_unpause_latency_us"`
	AvgUnpauseLatencyUs uint64 `json:"avg_unpause_latency_us"`
	MaxQueued           uint64 `json:"max_queued"`
	AvgQueued           uint64 `json:"avg_queued"`
}

// recordFlush folds one flush into the latency and queue-depth figures.
// The averages follow avg = (v + (n-1)*avg) / n with n the unpause count,
// truncating at every step.
func (s *Stats) recordFlush(latencyUs, queued uint64) {
	n := s.UnpauseCount
	if n == 0 {
		n = 1
	}

	if latencyUs > s.MaxUnpauseLatencyUs {
		s.MaxUnpauseLatencyUs = latencyUs
	}
	s.AvgUnpauseLatencyUs = (latencyUs + (n-1)*s.AvgUnpauseLatencyUs) / n

	if queued > s.MaxQueued {
		s.MaxQueued = queued
	}
	s.AvgQueued = (queued + (n-1)*s.AvgQueued) / n
}

// WriteTo writes the text dump of the statistics.
func (s Stats) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, s.String())
	return int64(n), err
}

func (s Stats) String() string {
	b := &strings.Builder{}

	fmt.Fprintf(b, "eot_tx: %d\n", s.EOTTx)
	fmt.Fprintf(b, "eot_rx: %d\n", s.EOTRx)
	fmt.Fprintf(b, "data_txcmplt: %d\n", s.DataTxCmplt)
	fmt.Fprintf(b, "sys_ints: %d\n", s.SysInts)
	fmt.Fprintf(b, "send_eot_fail: %d\n", s.SendEOTFail)
	fmt.Fprintf(b, "pause_count: %d\n", s.PauseCount)
	fmt.Fprintf(b, "unpause_count: %d\n", s.UnpauseCount)
	fmt.Fprintf(b, "max_unpause_latency_us: %d\n", s.MaxUnpauseLatencyUs)
	fmt.Fprintf(b, "avg_unpause_latency_us: %d\n", s.AvgUnpauseLatencyUs)
	fmt.Fprintf(b, "max_queued: %d\n", s.MaxQueued)
	fmt.Fprintf(b, "avg_queued: %d\n", s.AvgQueued)

	return b.String()
}
