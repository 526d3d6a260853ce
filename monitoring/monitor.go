// Package monitoring turns a running simulation into a web server so that
// the FTL can be observed and paused while a workload runs.
package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/ssdsim/internal/logging"
	"github.com/sarchlab/ssdsim/sim/id"
	"github.com/sarchlab/ssdsim/ssd/ftl"
	"github.com/sarchlab/ssdsim/ssd/nand"
)

// Monitor can turn a simulation into a server and allows external monitoring
// controlling of the simulation.
//
// The engine is single threaded, so every operation the workload issues
// goes through Do. Handlers that look into the engine tables take the same
// lock, and a paused monitor holds Do until it is continued.
type Monitor struct {
	engine      *ftl.Engine
	portNumber  int
	openBrowser bool
	log         *logging.Logger

	engineLock sync.Mutex
	paused     bool
	resumed    *sync.Cond

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar

	listener net.Listener
	server   *http.Server
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	m := &Monitor{log: logging.Nop()}
	m.resumed = sync.NewCond(&m.engineLock)

	return m
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		m.log.Warn("monitor port is not allowed, using a random port",
			"port", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithBrowser makes StartServer open the monitor page in a browser.
func (m *Monitor) WithBrowser(open bool) *Monitor {
	m.openBrowser = open
	return m
}

// WithLogger sets the logger.
func (m *Monitor) WithLogger(l *logging.Logger) *Monitor {
	m.log = l.WithComponent("Monitor")
	return m
}

// RegisterEngine registers the FTL engine that is used in the simulation.
func (m *Monitor) RegisterEngine(e *ftl.Engine) {
	m.engine = e
}

// Do runs one engine operation. It waits while the monitor is paused.
func (m *Monitor) Do(op func() error) error {
	m.engineLock.Lock()
	defer m.engineLock.Unlock()

	for m.paused {
		m.resumed.Wait()
	}

	return op()
}

// Pause holds every later Do call until Continue is called.
func (m *Monitor) Pause() {
	m.engineLock.Lock()
	defer m.engineLock.Unlock()

	m.paused = true
}

// Continue releases the Do calls held by Pause.
func (m *Monitor) Continue() {
	m.engineLock.Lock()
	defer m.engineLock.Unlock()

	m.paused = false
	m.resumed.Broadcast()
}

// Paused tells if the monitor is holding the workload.
func (m *Monitor) Paused() bool {
	m.engineLock.Lock()
	defer m.engineLock.Unlock()

	return m.paused
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        id.NewRunID(),
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

// Handler returns the router that serves the monitoring API.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/pause", m.pauseEngine)
	r.HandleFunc("/api/continue", m.continueEngine)
	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/report", m.report)
	r.HandleFunc("/api/geometry", m.geometry)
	r.HandleFunc("/api/counter/{level}/{index}", m.counter)
	r.HandleFunc("/api/blocks", m.listBlocks)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)

	return r
}

// StartServer starts the monitor as a web server and returns the URL it
// listens on.
func (m *Monitor) StartServer() (string, error) {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	if err != nil {
		return "", fmt.Errorf("monitor cannot listen on %s: %w", actualPort, err)
	}

	m.listener = listener
	m.server = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	m.log.Info("monitoring simulation", "url", url)

	go func() {
		err := m.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error("monitor server stopped", "error", err)
		}
	}()

	if m.openBrowser {
		if err := browser.OpenURL(url + "/api/report"); err != nil {
			m.log.Warn("cannot open a browser", "error", err)
		}
	}

	return url, nil
}

// StopServer closes the web server.
func (m *Monitor) StopServer() error {
	if m.server == nil {
		return nil
	}

	return m.server.Close()
}

func (m *Monitor) pauseEngine(w http.ResponseWriter, _ *http.Request) {
	m.Pause()
	writeJSON(w, m.log, map[string]bool{"paused": true})
}

func (m *Monitor) continueEngine(w http.ResponseWriter, _ *http.Request) {
	m.Continue()
	writeJSON(w, m.log, map[string]bool{"paused": false})
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	if !m.engineRegisteredOr404(w) {
		return
	}

	m.engineLock.Lock()
	now := m.engine.NAND().Now()
	m.engineLock.Unlock()

	fmt.Fprintf(w, "{\"now\":%d}", int64(now))
}

func (m *Monitor) report(w http.ResponseWriter, _ *http.Request) {
	if !m.engineRegisteredOr404(w) {
		return
	}

	writeJSON(w, m.log, m.engine.Report())
}

func (m *Monitor) geometry(w http.ResponseWriter, _ *http.Request) {
	if !m.engineRegisteredOr404(w) {
		return
	}

	g := m.engine.Geometry()

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&g)
	serializer.SetMaxDepth(2)

	if err := serializer.Serialize(w); err != nil {
		m.log.Error("cannot serialize geometry", "error", err)
	}
}

type counterRsp struct {
	Level  string            `json:"level"`
	Index  int               `json:"index"`
	Counts map[string]uint64 `json:"counts"`
}

func (m *Monitor) counter(w http.ResponseWriter, r *http.Request) {
	if !m.engineRegisteredOr404(w) {
		return
	}

	vars := mux.Vars(r)

	level, err := nand.ParseLevel(vars["level"])
	if err != nil {
		badRequest(w, err)
		return
	}

	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		badRequest(w, err)
		return
	}

	rsp := counterRsp{
		Level:  level.String(),
		Index:  index,
		Counts: make(map[string]uint64),
	}

	stats := m.engine.NAND().Stats()
	for _, op := range []nand.Op{
		nand.OpRead, nand.OpWrite, nand.OpErase, nand.OpCopyback,
	} {
		n, err := stats.Counter(level, index, op)
		if err != nil {
			badRequest(w, err)
			return
		}

		rsp.Counts[op.String()] = n
	}

	writeJSON(w, m.log, rsp)
}

type blockRsp struct {
	Flash      int `json:"flash"`
	Block      int `json:"block"`
	ValidPages int `json:"valid_pages"`
	EraseCount int `json:"erase_count"`
}

func (m *Monitor) listBlocks(w http.ResponseWriter, r *http.Request) {
	if !m.engineRegisteredOr404(w) {
		return
	}

	sortMethod, limit, offset, err := m.blocksParseParams(r)
	if err != nil {
		badRequest(w, err)
		return
	}

	m.engineLock.Lock()
	blocks := m.collectBlocks()
	m.engineLock.Unlock()

	sortBlocks(blocks, sortMethod)

	writeJSON(w, m.log, selectBlocks(blocks, limit, offset))
}

func (m *Monitor) collectBlocks() []blockRsp {
	g := m.engine.Geometry()
	blocks := make([]blockRsp, 0, g.BlockMappingEntryCount)

	for flash := 0; flash < g.Flashes; flash++ {
		for block := 0; block < g.BlocksPerFlash; block++ {
			info := m.engine.Block(flash, block)
			blocks = append(blocks, blockRsp{
				Flash:      flash,
				Block:      block,
				ValidPages: info.ValidPageCount,
				EraseCount: info.EraseCount,
			})
		}
	}

	return blocks
}

func (*Monitor) blocksParseParams(
	r *http.Request,
) (sort string, limit, offset int, err error) {
	sortMethod := r.URL.Query().Get("sort")
	if sortMethod == "" {
		sortMethod = "valid"
	}
	if sortMethod != "valid" && sortMethod != "erase" {
		return "", 0, 0, fmt.Errorf(
			"invalid sort method: %s. Allowed values are `valid` and `erase`",
			sortMethod)
	}

	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		limitStr = "0"
	}
	limitNumber, err := strconv.Atoi(limitStr)
	if err != nil || limitNumber < 0 {
		return sortMethod, 0, 0, fmt.Errorf("invalid limit %q", limitStr)
	}

	offsetStr := r.URL.Query().Get("offset")
	if offsetStr == "" {
		offsetStr = "0"
	}
	offsetNumber, err := strconv.Atoi(offsetStr)
	if err != nil || offsetNumber < 0 {
		return sortMethod, limitNumber, 0, fmt.Errorf("invalid offset %q", offsetStr)
	}

	return sortMethod, limitNumber, offsetNumber, nil
}

// sortBlocks orders blocks by the key, largest first. Ties keep address
// order.
func sortBlocks(blocks []blockRsp, sortMethod string) {
	key := func(b blockRsp) int { return b.ValidPages }
	if sortMethod == "erase" {
		key = func(b blockRsp) int { return b.EraseCount }
	}

	sort.SliceStable(blocks, func(i, j int) bool {
		return key(blocks[i]) > key(blocks[j])
	})
}

// selectBlocks applies offset and limit. A zero limit selects everything
// after the offset.
func selectBlocks(blocks []blockRsp, limit, offset int) []blockRsp {
	if offset >= len(blocks) {
		return []blockRsp{}
	}

	blocks = blocks[offset:]
	if limit > 0 && limit < len(blocks) {
		blocks = blocks[:limit]
	}

	return blocks
}

type fieldReq struct {
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	if !m.engineRegisteredOr404(w) {
		return
	}

	req := fieldReq{}
	if err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req); err != nil {
		badRequest(w, err)
		return
	}

	m.engineLock.Lock()
	defer m.engineLock.Unlock()

	serializer := goseth.NewSerializer()
	serializer.SetRoot(m.engine)
	serializer.SetMaxDepth(1)

	if req.FieldName != "" {
		if err := serializer.SetEntryPoint(strings.Split(req.FieldName, ".")); err != nil {
			badRequest(w, err)
			return
		}
	}

	if err := serializer.Serialize(w); err != nil {
		m.log.Error("cannot serialize engine field",
			"field", req.FieldName, "error", err)
	}
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]progressBarRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, m.log, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		internalError(w, m.log, err)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		internalError(w, m.log, err)
		return
	}

	memorySize, err := proc.MemoryInfo()
	if err != nil {
		internalError(w, m.log, err)
		return
	}

	writeJSON(w, m.log, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	if err := pprof.StartCPUProfile(buf); err != nil {
		internalError(w, m.log, err)
		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		internalError(w, m.log, err)
		return
	}

	writeJSON(w, m.log, prof)
}

func (m *Monitor) engineRegisteredOr404(w http.ResponseWriter) bool {
	if m.engine != nil {
		return true
	}

	w.WriteHeader(http.StatusNotFound)
	fmt.Fprint(w, "no engine registered")

	return false
}

func writeJSON(w http.ResponseWriter, log *logging.Logger, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		internalError(w, log, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if _, err := w.Write(data); err != nil {
		log.Debug("monitor response not delivered", "error", err)
	}
}

func badRequest(w http.ResponseWriter, err error) {
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprintf(w, "Error: %s", err)
}

func internalError(w http.ResponseWriter, log *logging.Logger, err error) {
	log.Error("monitor request failed", "error", err)
	w.WriteHeader(http.StatusInternalServerError)
	fmt.Fprintf(w, "Error: %s", err)
}
