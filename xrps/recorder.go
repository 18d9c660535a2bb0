package xrps

import (
	"fmt"
	"strings"

	"github.com/sarchlab/xrps/datarecording"
	"github.com/sarchlab/xrps/profiling"
	"github.com/sarchlab/xrps/sim"
)

// The tables a Recorder writes.
const (
	TableFlush     = "xrps_flush"
	TableEOT       = "xrps_eot"
	TableProfiling = "xrps_profiling"
	TableStats     = "xrps_stats"
)

// FlushEntry is a row of the flush table.
type FlushEntry struct {
	Coordinator string
	StartUs     int64
	LatencyUs   uint64
	NumFlows    int
	FlowIDs     string
	Queued      uint64
}

// EOTEntry is a row of the EOT table.
type EOTEntry struct {
	Coordinator string
	TimeUs      int64
	Success     bool
	Error       string
}

// ProfilingEntry is a row of the profiling table.
type ProfilingEntry struct {
	Coordinator string
	Event       string
	TimeUs      int64
}

// StatsEntry is a statistics snapshot row.
type StatsEntry struct {
	Coordinator         string
	EOTTx               uint64
	EOTRx               uint64
	DataTxCmplt         uint64
	SysInts             uint64
	SendEOTFail         uint64
	PauseCount          uint64
	UnpauseCount        uint64
	MaxUnpauseLatencyUs uint64
	AvgUnpauseLatencyUs uint64
	MaxQueued           uint64
	AvgQueued           uint64
}

// A Recorder is a hook that stores coordinator activity into a
// DataRecorder.
type Recorder struct {
	recorder datarecording.DataRecorder
}

// NewRecorder creates the xrps tables in the data recorder and returns a
// hook that fills them.
func NewRecorder(recorder datarecording.DataRecorder) *Recorder {
	r := &Recorder{recorder: recorder}

	recorder.CreateTable(TableFlush, FlushEntry{})
	recorder.CreateTable(TableEOT, EOTEntry{})
	recorder.CreateTable(TableProfiling, ProfilingEntry{})
	recorder.CreateTable(TableStats, StatsEntry{})

	return r
}

// MapTables prepares a reader to query the tables a Recorder writes.
func MapTables(reader datarecording.DataReader) {
	reader.MapTable(TableFlush, FlushEntry{})
	reader.MapTable(TableEOT, EOTEntry{})
	reader.MapTable(TableProfiling, ProfilingEntry{})
	reader.MapTable(TableStats, StatsEntry{})
}

// Func records the hook item.
func (r *Recorder) Func(ctx sim.HookCtx) {
	c, ok := ctx.Domain.(*Coordinator)
	if !ok {
		return
	}

	switch ctx.Pos {
	case HookPosFlush:
		r.recordFlush(c, ctx.Item.(FlushRecord))
	case HookPosEOTSent:
		r.recordEOT(c, ctx.Item.(EOTRecord))
	case HookPosProfilingDump:
		r.recordProfiling(c, ctx.Item.([]profiling.Event))
	}
}

func (r *Recorder) recordFlush(c *Coordinator, rec FlushRecord) {
	ids := make([]string, len(rec.FlowIDs))
	for i, id := range rec.FlowIDs {
		ids[i] = fmt.Sprint(id)
	}

	r.recorder.InsertData(TableFlush, FlushEntry{
		Coordinator: c.Name(),
		StartUs:     rec.Start.Microseconds(),
		LatencyUs:   rec.LatencyUs,
		NumFlows:    len(rec.FlowIDs),
		FlowIDs:     strings.Join(ids, ","),
		Queued:      rec.Queued,
	})
}

func (r *Recorder) recordEOT(c *Coordinator, rec EOTRecord) {
	entry := EOTEntry{
		Coordinator: c.Name(),
		TimeUs:      rec.Time.Microseconds(),
		Success:     rec.Err == nil,
	}

	if rec.Err != nil {
		entry.Error = rec.Err.Error()
	}

	r.recorder.InsertData(TableEOT, entry)
}

func (r *Recorder) recordProfiling(c *Coordinator, events []profiling.Event) {
	for _, e := range events {
		r.recorder.InsertData(TableProfiling, ProfilingEntry{
			Coordinator: c.Name(),
			Event:       e.Type.String(),
			TimeUs:      e.Time.Microseconds(),
		})
	}
}

// RecordStats stores a snapshot of the coordinator's statistics.
func (r *Recorder) RecordStats(c *Coordinator) {
	s := c.Stats()

	r.recorder.InsertData(TableStats, StatsEntry{
		Coordinator:         c.Name(),
		EOTTx:               s.EOTTx,
		EOTRx:               s.EOTRx,
		DataTxCmplt:         s.DataTxCmplt,
		SysInts:             s.SysInts,
		SendEOTFail:         s.SendEOTFail,
		PauseCount:          s.PauseCount,
		UnpauseCount:        s.UnpauseCount,
		MaxUnpauseLatencyUs: s.MaxUnpauseLatencyUs,
		AvgUnpauseLatencyUs: s.AvgUnpauseLatencyUs,
		MaxQueued:           s.MaxQueued,
		AvgQueued:           s.AvgQueued,
	})
}
