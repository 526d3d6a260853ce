package nand

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/ssdsim/ssd/geometry"
	"github.com/sarchlab/ssdsim/ssd/mapping"
)

// Level is the granularity of an access counter.
type Level int

// Counter levels.
const (
	LevelPage Level = iota
	LevelBlock
	LevelPlane
	LevelFlash
	LevelChannel
	LevelDevice
	numLevels
)

func (l Level) String() string {
	switch l {
	case LevelPage:
		return "page"
	case LevelBlock:
		return "block"
	case LevelPlane:
		return "plane"
	case LevelFlash:
		return "flash"
	case LevelChannel:
		return "channel"
	case LevelDevice:
		return "device"
	}

	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel converts a level name back into a Level.
func ParseLevel(s string) (Level, error) {
	for l := LevelPage; l < numLevels; l++ {
		if l.String() == s {
			return l, nil
		}
	}

	return 0, fmt.Errorf("unknown counter level %q", s)
}

const numCountedOps = int(OpCopyback) + 1

// Stats are the counters of a simulator. Only the simulator writes them;
// any goroutine may read them at any time and sees a recent value.
type Stats struct {
	pageSize      int
	pagesInSSD    int
	latencyWindow int
	addr          mapping.Addresser
	planes        int

	counters [numLevels][]atomic.Uint64

	pages     [numKinds]atomic.Uint64
	requests  [numKinds]atomic.Uint64
	busyUsec  [numKinds]atomic.Int64
	latencyMu sync.Mutex
	latency   [numKinds]float64

	programmed      atomic.Int64
	reclaimed       atomic.Int64
	blockProgrammed []int32
}

func newStats(g geometry.Geometry, latencyWindow int) *Stats {
	s := &Stats{
		pageSize:        g.PageSize,
		pagesInSSD:      g.PagesInSSD,
		latencyWindow:   latencyWindow,
		addr:            mapping.NewAddresser(g),
		planes:          g.PlanesPerFlash,
		blockProgrammed: make([]int32, g.BlockMappingEntryCount),
	}

	sizes := [numLevels]int{
		LevelPage:    g.PagesInSSD,
		LevelBlock:   g.BlockMappingEntryCount,
		LevelPlane:   g.Flashes * g.PlanesPerFlash,
		LevelFlash:   g.Flashes,
		LevelChannel: g.Channels,
		LevelDevice:  1,
	}
	for l, n := range sizes {
		s.counters[l] = make([]atomic.Uint64, n*numCountedOps)
	}

	return s
}

// LevelSize returns the number of addressable units at the level.
func (s *Stats) LevelSize(l Level) int {
	return len(s.counters[l]) / numCountedOps
}

// Counter returns how many times op hit the unit at index of the level.
func (s *Stats) Counter(l Level, index int, op Op) (uint64, error) {
	if l < LevelPage || l >= numLevels {
		return 0, fmt.Errorf("unknown counter level %d", int(l))
	}

	if index < 0 || index >= s.LevelSize(l) {
		return 0, fmt.Errorf("%s index %d out of range [0, %d)",
			l, index, s.LevelSize(l))
	}

	if op <= OpNone || int(op) >= numCountedOps {
		return 0, fmt.Errorf("op %s is not counted", op)
	}

	return s.counters[l][index*numCountedOps+int(op)].Load(), nil
}

func (s *Stats) count(op Op, ppn mapping.PPN) {
	loc := s.addr.Decompose(ppn)
	idx := [numLevels]int{
		LevelPage:    int(ppn),
		LevelBlock:   s.addr.BlockIndex(loc.Flash, loc.Block),
		LevelPlane:   s.addr.Register(loc.Flash, loc.Block),
		LevelFlash:   loc.Flash,
		LevelChannel: s.addr.Channel(loc.Flash),
		LevelDevice:  0,
	}

	for l := range idx {
		s.counters[l][idx[l]*numCountedOps+int(op)].Add(1)
	}
}

func (s *Stats) countErase(flash, block int) {
	s.count(OpErase, s.addr.FirstPage(flash, block))

	idx := s.addr.BlockIndex(flash, block)
	s.reclaimed.Add(int64(s.blockProgrammed[idx]))
	s.blockProgrammed[idx] = 0
}

func (s *Stats) countProgram(ppn mapping.PPN) {
	s.blockProgrammed[s.addr.BlockOf(ppn)]++
	s.programmed.Add(1)
}

func (s *Stats) countPage(k Kind) {
	s.pages[k].Add(1)
}

func (s *Stats) completeRequest(r *IORequest) float64 {
	first, last := r.span()
	perPage := float64(last-first) / float64(r.Pages)

	n := s.requests[r.Kind].Add(1)
	s.busyUsec[r.Kind].Add(int64(last - first))

	window := min(n, uint64(s.latencyWindow))

	s.latencyMu.Lock()
	s.latency[r.Kind] += (perPage - s.latency[r.Kind]) / float64(window)
	s.latencyMu.Unlock()

	return perPage
}

// Pages returns the number of page accesses of the kind.
func (s *Stats) Pages(k Kind) uint64 {
	return s.pages[k].Load()
}

// Requests returns the number of completed requests of the kind.
func (s *Stats) Requests(k Kind) uint64 {
	return s.requests[k].Load()
}

// AverageLatency returns the running average per-page latency of the kind,
// in microseconds.
func (s *Stats) AverageLatency(k Kind) float64 {
	s.latencyMu.Lock()
	defer s.latencyMu.Unlock()

	return s.latency[k]
}

// Speed returns the throughput of the kind in MB/s, measured over the time
// its requests were in flight.
func (s *Stats) Speed(k Kind) float64 {
	busy := s.busyUsec[k].Load()
	if busy == 0 {
		return 0
	}

	// One byte per microsecond is one MB per second.
	return float64(s.pages[k].Load()) * float64(s.pageSize) / float64(busy)
}

// Utilization returns the share of the device's pages that hold programmed
// data not yet reclaimed by an erase.
func (s *Stats) Utilization() float64 {
	return float64(s.programmed.Load()-s.reclaimed.Load()) /
		float64(s.pagesInSSD)
}

// StatsDump holds the counters that survive a restart.
type StatsDump struct {
	Programmed      int64     `json:"programmed"`
	Reclaimed       int64     `json:"reclaimed"`
	BlockProgrammed []int32   `json:"block_programmed"`
	Pages           []uint64  `json:"pages"`
	Requests        []uint64  `json:"requests"`
	BusyUsec        []int64   `json:"busy_usec"`
	Latency         []float64 `json:"latency"`
}

// Dump returns the counters that survive a restart.
func (s *Stats) Dump() StatsDump {
	d := StatsDump{
		Programmed:      s.programmed.Load(),
		Reclaimed:       s.reclaimed.Load(),
		BlockProgrammed: append([]int32(nil), s.blockProgrammed...),
	}

	s.latencyMu.Lock()
	defer s.latencyMu.Unlock()

	for k := range numKinds {
		d.Pages = append(d.Pages, s.pages[k].Load())
		d.Requests = append(d.Requests, s.requests[k].Load())
		d.BusyUsec = append(d.BusyUsec, s.busyUsec[k].Load())
		d.Latency = append(d.Latency, s.latency[k])
	}

	return d
}

// CheckDump tells if Restore would accept the dump.
func (s *Stats) CheckDump(d StatsDump) error {
	if len(d.BlockProgrammed) != len(s.blockProgrammed) {
		return fmt.Errorf("stats dump holds %d blocks, want %d",
			len(d.BlockProgrammed), len(s.blockProgrammed))
	}

	for _, v := range d.Latency {
		if math.IsNaN(v) {
			return fmt.Errorf("stats dump holds a NaN latency")
		}
	}

	return nil
}

// Restore loads counters from a dump.
func (s *Stats) Restore(d StatsDump) error {
	if err := s.CheckDump(d); err != nil {
		return err
	}

	s.programmed.Store(d.Programmed)
	s.reclaimed.Store(d.Reclaimed)
	copy(s.blockProgrammed, d.BlockProgrammed)

	s.latencyMu.Lock()
	defer s.latencyMu.Unlock()

	for k := range numKinds {
		if int(k) < len(d.Pages) {
			s.pages[k].Store(d.Pages[k])
		}
		if int(k) < len(d.Requests) {
			s.requests[k].Store(d.Requests[k])
		}
		if int(k) < len(d.BusyUsec) {
			s.busyUsec[k].Store(d.BusyUsec[k])
		}
		if int(k) < len(d.Latency) {
			s.latency[k] = d.Latency[k]
		}
	}

	return nil
}
