package datarecording

import (
	"os"
	"strings"
	"time"
)

type execInfo struct {
	Property string
	Value    string
}

// ExecRecorder records when and how the program was run.
type ExecRecorder struct {
	tableName string
	recorder  DataRecorder
	entries   []execInfo
}

// NewExecRecorder creates an ExecRecorder that writes into the "exec_info"
// table of the recorder.
func NewExecRecorder(recorder DataRecorder) *ExecRecorder {
	e := &ExecRecorder{
		tableName: "exec_info",
		recorder:  recorder,
	}

	recorder.CreateTable(e.tableName, execInfo{})

	return e
}

// Start records the start time and the command line, plus any extra
// properties such as the run id.
func (e *ExecRecorder) Start(extra map[string]string) {
	startTime := time.Now().Format("2006-01-02 15:04:05.000000000")
	e.entries = append(e.entries, execInfo{"Start Time", startTime})

	cmd := strings.Join(os.Args, " ")
	e.entries = append(e.entries, execInfo{"Command", cmd})

	cwd, err := os.Getwd()
	if err == nil {
		e.entries = append(e.entries, execInfo{"Working Directory", cwd})
	}

	for k, v := range extra {
		e.entries = append(e.entries, execInfo{k, v})
	}
}

// End writes the recorded properties along with the end time.
func (e *ExecRecorder) End() {
	for _, entry := range e.entries {
		e.recorder.InsertData(e.tableName, entry)
	}

	endTime := time.Now().Format("2006-01-02 15:04:05.000000000")
	e.recorder.InsertData(e.tableName, execInfo{"End Time", endTime})

	e.entries = nil

	e.recorder.Flush()
}
