// Package monitoring provides an HTTP control surface for XRPS
// coordinators.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/rs/xid"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/xrps/monitoring/web"
	"github.com/sarchlab/xrps/sim"
	"github.com/sarchlab/xrps/xrps"
)

// Monitor turns a running system into a server that allows external
// monitoring and control of its coordinators.
type Monitor struct {
	engine     sim.Engine
	portNumber int

	coordinatorsLock sync.RWMutex
	coordinators     []*xrps.Coordinator

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar

	server   *http.Server
	listener net.Listener
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterEngine registers the engine that drives a simulation.
func (m *Monitor) RegisterEngine(e sim.Engine) {
	m.engine = e
}

// RegisterCoordinator registers a coordinator to be monitored. The first
// registered coordinator is served under /api directly.
func (m *Monitor) RegisterCoordinator(c *xrps.Coordinator) {
	m.coordinatorsLock.Lock()
	defer m.coordinatorsLock.Unlock()

	m.coordinators = append(m.coordinators, c)
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        xid.New().String(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the handler that serves the monitoring API and pages.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/pause", m.pauseEngine).Methods(http.MethodPost)
	r.HandleFunc("/api/continue", m.continueEngine).Methods(http.MethodPost)
	r.HandleFunc("/api/now", m.now).Methods(http.MethodGet)
	r.HandleFunc("/api/progress", m.listProgressBars).Methods(http.MethodGet)
	r.HandleFunc("/api/resource", m.listResources).Methods(http.MethodGet)
	r.HandleFunc("/api/profile", m.collectProfile).Methods(http.MethodGet)
	r.HandleFunc("/api/coordinators", m.listCoordinators).
		Methods(http.MethodGet)

	m.registerCoordinatorRoutes(r.PathPrefix("/api/xrps/{name}").Subrouter())
	m.registerCoordinatorRoutes(r.PathPrefix("/api").Subrouter())

	r.PathPrefix("/").Handler(http.FileServer(web.Dashboard()))

	return r
}

func (m *Monitor) registerCoordinatorRoutes(r *mux.Router) {
	r.HandleFunc("/mode", m.getMode).Methods(http.MethodGet)
	r.HandleFunc("/mode/{mode}", m.setMode).Methods(http.MethodPut)
	r.HandleFunc("/interval", m.getInterval).Methods(http.MethodGet)
	r.HandleFunc("/interval/{us}", m.setInterval).Methods(http.MethodPut)
	r.HandleFunc("/queue_pause", m.getQueuePause).Methods(http.MethodGet)
	r.HandleFunc("/queue_pause/{enable}", m.setQueuePause).
		Methods(http.MethodPut)
	r.HandleFunc("/eot", m.sendEOT).Methods(http.MethodPost)
	r.HandleFunc("/eot_disabled", m.getEOTDisabled).Methods(http.MethodGet)
	r.HandleFunc("/eot_disabled/{disabled}", m.setEOTDisabled).
		Methods(http.MethodPut)
	r.HandleFunc("/stats", m.getStats).Methods(http.MethodGet)
	r.HandleFunc("/stats", m.clearStats).Methods(http.MethodDelete)
	r.HandleFunc("/stats/text", m.getStatsText).Methods(http.MethodGet)
	r.HandleFunc("/stats/detail", m.getDetail).Methods(http.MethodGet)
	r.HandleFunc("/pending", m.getPending).Methods(http.MethodGet)
}

// StartServer starts the monitor as a web server.
func (m *Monitor) StartServer() error {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	if err != nil {
		return fmt.Errorf("monitoring: %w", err)
	}

	m.listener = listener
	m.server = &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Fprintf(os.Stderr, "Monitoring xrps with %s\n", m.URL())

	go func() {
		err := m.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("monitoring: %v", err)
		}
	}()

	return nil
}

// URL returns the address the server listens on.
func (m *Monitor) URL() string {
	if m.listener == nil {
		return ""
	}

	return fmt.Sprintf("http://localhost:%d",
		m.listener.Addr().(*net.TCPAddr).Port)
}

// OpenInBrowser opens the monitoring page in the default browser.
func (m *Monitor) OpenInBrowser() error {
	if m.listener == nil {
		return errors.New("monitoring: server not started")
	}

	return browser.OpenURL(m.URL())
}

// StopServer shuts the server down.
func (m *Monitor) StopServer(ctx context.Context) error {
	if m.server == nil {
		return nil
	}

	return m.server.Shutdown(ctx)
}

func (m *Monitor) pauseEngine(w http.ResponseWriter, _ *http.Request) {
	if !m.engineOr404(w) {
		return
	}

	m.engine.Pause()
	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) continueEngine(w http.ResponseWriter, _ *http.Request) {
	if !m.engineOr404(w) {
		return
	}

	m.engine.Continue()
	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	if !m.engineOr404(w) {
		return
	}

	now := m.engine.CurrentTime()
	fmt.Fprintf(w, "{\"now\":%.10f}", now.Seconds())
}

func (m *Monitor) engineOr404(w http.ResponseWriter) bool {
	if m.engine == nil {
		http.Error(w, "No engine registered", http.StatusNotFound)
		return false
	}

	return true
}

func (m *Monitor) listCoordinators(w http.ResponseWriter, _ *http.Request) {
	m.coordinatorsLock.RLock()
	names := make([]string, 0, len(m.coordinators))
	for _, c := range m.coordinators {
		names = append(names, c.Name())
	}
	m.coordinatorsLock.RUnlock()

	writeJSON(w, names)
}

// findCoordinatorOr404 returns the coordinator named in the route, or the
// first registered one if the route carries no name.
func (m *Monitor) findCoordinatorOr404(
	w http.ResponseWriter,
	r *http.Request,
) *xrps.Coordinator {
	m.coordinatorsLock.RLock()
	defer m.coordinatorsLock.RUnlock()

	name, named := mux.Vars(r)["name"]
	for _, c := range m.coordinators {
		if !named || c.Name() == name {
			return c
		}
	}

	http.Error(w, "Coordinator not found", http.StatusNotFound)

	return nil
}

type modeRsp struct {
	Mode string `json:"mode"`
}

func (m *Monitor) getMode(w http.ResponseWriter, r *http.Request) {
	c := m.findCoordinatorOr404(w, r)
	if c == nil {
		return
	}

	writeJSON(w, modeRsp{Mode: c.Mode().String()})
}

func (m *Monitor) setMode(w http.ResponseWriter, r *http.Request) {
	c := m.findCoordinatorOr404(w, r)
	if c == nil {
		return
	}

	mode, err := xrps.ParseMode(mux.Vars(r)["mode"])
	if err != nil {
		writeError(w, err)
		return
	}

	if err := c.SetMode(mode); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, modeRsp{Mode: c.Mode().String()})
}

type intervalRsp struct {
	SysIntervalUs uint32 `json:"sys_interval_us"`
}

func (m *Monitor) getInterval(w http.ResponseWriter, r *http.Request) {
	c := m.findCoordinatorOr404(w, r)
	if c == nil {
		return
	}

	writeJSON(w, intervalRsp{SysIntervalUs: c.SysIntervalUs()})
}

func (m *Monitor) setInterval(w http.ResponseWriter, r *http.Request) {
	c := m.findCoordinatorOr404(w, r)
	if c == nil {
		return
	}

	us, err := strconv.ParseUint(mux.Vars(r)["us"], 10, 32)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", xrps.ErrInvalidArgument, err))
		return
	}

	if err := c.SetSysIntervalUs(uint32(us)); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, intervalRsp{SysIntervalUs: c.SysIntervalUs()})
}

type queuePauseRsp struct {
	QueuePause bool `json:"queue_pause"`
}

func (m *Monitor) getQueuePause(w http.ResponseWriter, r *http.Request) {
	c := m.findCoordinatorOr404(w, r)
	if c == nil {
		return
	}

	writeJSON(w, queuePauseRsp{QueuePause: c.QueuePause()})
}

func (m *Monitor) setQueuePause(w http.ResponseWriter, r *http.Request) {
	c := m.findCoordinatorOr404(w, r)
	if c == nil {
		return
	}

	enable, err := parseFlag(mux.Vars(r)["enable"])
	if err != nil {
		writeError(w, err)
		return
	}

	c.SetQueuePause(enable)

	writeJSON(w, queuePauseRsp{QueuePause: c.QueuePause()})
}

func (m *Monitor) sendEOT(w http.ResponseWriter, r *http.Request) {
	c := m.findCoordinatorOr404(w, r)
	if c == nil {
		return
	}

	if err := c.SendEOT(); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type eotDisabledRsp struct {
	EOTDisabled bool `json:"eot_disabled"`
}

func (m *Monitor) getEOTDisabled(w http.ResponseWriter, r *http.Request) {
	c := m.findCoordinatorOr404(w, r)
	if c == nil {
		return
	}

	writeJSON(w, eotDisabledRsp{EOTDisabled: c.EOTDisabled()})
}

func (m *Monitor) setEOTDisabled(w http.ResponseWriter, r *http.Request) {
	c := m.findCoordinatorOr404(w, r)
	if c == nil {
		return
	}

	disabled, err := parseFlag(mux.Vars(r)["disabled"])
	if err != nil {
		writeError(w, err)
		return
	}

	c.SetEOTDisabled(disabled)

	writeJSON(w, eotDisabledRsp{EOTDisabled: c.EOTDisabled()})
}

func (m *Monitor) getStats(w http.ResponseWriter, r *http.Request) {
	c := m.findCoordinatorOr404(w, r)
	if c == nil {
		return
	}

	writeJSON(w, c.Stats())
}

func (m *Monitor) clearStats(w http.ResponseWriter, r *http.Request) {
	c := m.findCoordinatorOr404(w, r)
	if c == nil {
		return
	}

	c.ClearStats()
	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) getStatsText(w http.ResponseWriter, r *http.Request) {
	c := m.findCoordinatorOr404(w, r)
	if c == nil {
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	stats := c.Stats()
	_, err := stats.WriteTo(w)
	dieOnErr(err)
}

type pendingRsp struct {
	QueuePause bool  `json:"queue_pause"`
	FlowIDs    []int `json:"flow_ids"`
}

func (m *Monitor) getPending(w http.ResponseWriter, r *http.Request) {
	c := m.findCoordinatorOr404(w, r)
	if c == nil {
		return
	}

	writeJSON(w, pendingRsp{
		QueuePause: c.QueuePause(),
		FlowIDs:    c.PendingFlowIDs(),
	})
}

// coordinatorDetail is a consistent-enough snapshot of a coordinator for
// the detail view. Each field is read under the coordinator's own locks.
type coordinatorDetail struct {
	Name              string
	Initialized       bool
	Mode              string
	QueuePause        bool
	TimerRunning      bool
	FirstRxInInterval bool
	EOTDisabled       bool
	SysIntervalUs     uint32
	Pending           []int
	Stats             xrps.Stats
}

func (m *Monitor) getDetail(w http.ResponseWriter, r *http.Request) {
	c := m.findCoordinatorOr404(w, r)
	if c == nil {
		return
	}

	detail := &coordinatorDetail{
		Name:              c.Name(),
		Initialized:       c.IsInit(),
		Mode:              c.Mode().String(),
		QueuePause:        c.QueuePause(),
		TimerRunning:      c.TimerRunning(),
		FirstRxInInterval: c.FirstRxInInterval(),
		EOTDisabled:       c.EOTDisabled(),
		SysIntervalUs:     c.SysIntervalUs(),
		Pending:           c.PendingFlowIDs(),
		Stats:             c.Stats(),
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(detail)
	serializer.SetMaxDepth(2)

	if field := r.URL.Query().Get("field"); field != "" {
		err := serializer.SetEntryPoint(strings.Split(field, "."))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	buf := bytes.NewBuffer(nil)
	err := serializer.Serialize(buf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(buf.Bytes())
	dieOnErr(err)
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]progressRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, r *http.Request) {
	duration := time.Second
	if s := r.URL.Query().Get("duration"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			http.Error(w, "invalid duration", http.StatusBadRequest)
			return
		}

		duration = d
	}

	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(duration)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func parseFlag(s string) (bool, error) {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%w: %v", xrps.ErrInvalidArgument, err)
	}

	return b, nil
}

// statusOf maps coordinator errors to HTTP status codes. Errors that are
// not invalid arguments or readiness problems come from the device.
func statusOf(err error) int {
	switch {
	case errors.Is(err, xrps.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, xrps.ErrNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusOf(err))
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
