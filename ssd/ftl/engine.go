// Package ftl is the flash translation layer of the simulated SSD. It maps
// logical pages to physical pages, keeps the inverse mapping and the block
// validity, hands out free pages from the empty pools and reclaims victim
// blocks with a greedy garbage collector. Every physical access goes through
// the NAND timing model.
//
// An Engine is single threaded. Callers must not issue operations
// concurrently. Counters and NAND statistics can be read from any goroutine.
package ftl

import (
	"errors"
	"sync/atomic"

	"github.com/sarchlab/ssdsim/internal/logging"
	"github.com/sarchlab/ssdsim/sim/hooking"
	"github.com/sarchlab/ssdsim/sim/naming"
	"github.com/sarchlab/ssdsim/sim/timing"
	"github.com/sarchlab/ssdsim/ssd/ftl/internal/blockmeta"
	"github.com/sarchlab/ssdsim/ssd/ftl/internal/pool"
	"github.com/sarchlab/ssdsim/ssd/geometry"
	"github.com/sarchlab/ssdsim/ssd/mapping"
	"github.com/sarchlab/ssdsim/ssd/nand"
)

// ErrShutdown is returned by every operation of an engine that was shut
// down.
var ErrShutdown = errors.New("ftl: engine is shut down")

// Engine is one instance of the FTL with its own tables, pools and NAND
// model.
type Engine struct {
	naming.NamedBase
	hooking.HookableBase

	geometry geometry.Geometry
	addr     mapping.Addresser
	log      *logging.Logger

	forward     *mapping.Table
	meta        *blockmeta.Table
	pools       *pool.Manager
	poolBuilder pool.Builder
	nand        *nand.Simulator
	strategy AddressStrategy
	counters *Counters

	failed atomic.Pointer[Error]
	closed atomic.Bool
}

// Builder builds engines.
type Builder struct {
	geometry      geometry.Geometry
	delays        nand.Delays
	clock         timing.Clock
	log           *logging.Logger
	experimental  bool
	latencyWindow int
}

// MakeBuilder creates a builder with the default geometry and delays.
func MakeBuilder() Builder {
	return Builder{
		geometry:      geometry.MustNew(geometry.DefaultParams()),
		delays:        nand.DefaultDelays(),
		latencyWindow: nand.DefaultLatencyWindow,
	}
}

// WithGeometry sets the geometry of the device.
func (b Builder) WithGeometry(g geometry.Geometry) Builder {
	b.geometry = g
	return b
}

// WithDelays sets the NAND stage delays.
func (b Builder) WithDelays(d nand.Delays) Builder {
	b.delays = d
	return b
}

// WithClock sets the clock of the NAND model. A logical clock is used if
// none is given.
func (b Builder) WithClock(c timing.Clock) Builder {
	b.clock = c
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(l *logging.Logger) Builder {
	b.log = l
	return b
}

// WithExperimentalPolicies enables the sequential free page policy.
func (b Builder) WithExperimentalPolicies() Builder {
	b.experimental = true
	return b
}

// WithLatencyWindow sets how many samples the latency averages remember.
func (b Builder) WithLatencyWindow(n int) Builder {
	b.latencyWindow = n
	return b
}

// Build creates an engine where every logical page is unmapped and every
// block is empty.
func (b Builder) Build(name string) *Engine {
	log := b.log
	if log == nil {
		log = logging.Default()
	}
	log = log.WithComponent(name)

	g := b.geometry
	meta := blockmeta.New(g)

	poolBuilder := pool.MakeBuilder().
		WithGeometry(g).
		WithLogger(log)
	if b.experimental {
		poolBuilder = poolBuilder.WithExperimentalPolicies()
	}

	e := &Engine{
		NamedBase: naming.MakeNamedBase(name),
		geometry:  g,
		addr:      mapping.NewAddresser(g),
		log:       log,
		forward:   mapping.NewTable(g.PageMappingEntryCount),
		meta:      meta,
		pools:     poolBuilder.WithBlockMeta(meta).Build(),
		nand: nand.MakeBuilder().
			WithGeometry(g).
			WithDelays(b.delays).
			WithClock(b.clock).
			WithLogger(log).
			WithLatencyWindow(b.latencyWindow).
			Build(name + ".NAND"),
		poolBuilder: poolBuilder,
		counters:    &Counters{},
	}
	e.strategy = sectorStrategy{engine: e}

	return e
}

// Geometry returns the geometry of the device.
func (e *Engine) Geometry() geometry.Geometry {
	return e.geometry
}

// Addresser returns the address arithmetic of the device.
func (e *Engine) Addresser() mapping.Addresser {
	return e.addr
}

// NAND returns the timing model.
func (e *Engine) NAND() *nand.Simulator {
	return e.nand
}

// Counters returns the FTL counters.
func (e *Engine) Counters() *Counters {
	return e.counters
}

// Logger returns the logger of the engine.
func (e *Engine) Logger() *logging.Logger {
	return e.log
}

// Strategy returns the active address strategy.
func (e *Engine) Strategy() AddressStrategy {
	return e.strategy
}

// SetStrategy replaces the strategy GC uses to move pages. It returns the
// previous one so that a new strategy can fall back to it.
func (e *Engine) SetStrategy(s AddressStrategy) AddressStrategy {
	prev := e.strategy
	e.strategy = s

	return prev
}

// EmptyBlockCount returns the number of blocks with free pages.
func (e *Engine) EmptyBlockCount() int {
	return e.pools.EmptyBlockCount()
}

// VictimBlockCount returns the number of fully written blocks.
func (e *Engine) VictimBlockCount() int {
	return e.pools.VictimBlockCount()
}

// FreePageCount returns the number of pages that can be written before GC
// must erase a block.
func (e *Engine) FreePageCount() int {
	return e.pools.FreePageCount()
}

// Block returns a copy of the metadata of a block.
func (e *Engine) Block(flash, block int) BlockInfo {
	b := *e.meta.Block(e.addr.BlockIndex(flash, block))
	b.Pages = append([]PageState(nil), b.Pages...)

	return b
}

// PageState returns the validity flag of a physical page.
func (e *Engine) PageState(ppn mapping.PPN) PageState {
	return e.meta.State(ppn)
}

// Inverse returns the logical page stored at a physical page.
func (e *Engine) Inverse(ppn mapping.PPN) (mapping.LPN, bool) {
	lpn := e.meta.Inverse(ppn)
	return lpn, lpn != mapping.NoLPN
}

// Failed returns the error that latched the engine, nil if it is healthy.
func (e *Engine) Failed() error {
	if f := e.failed.Load(); f != nil {
		return f
	}

	return nil
}

// Check verifies the mapping, validity and pool invariants. It is slow and
// meant for tests and the inspect command.
func (e *Engine) Check() error {
	if e.closed.Load() {
		return ErrShutdown
	}

	return e.checkTables(e.forward, e.meta, e.pools)
}

func (e *Engine) checkTables(
	forward *mapping.Table,
	meta *blockmeta.Table,
	pools *pool.Manager,
) error {
	if err := meta.Check(); err != nil {
		return newError("check", CodeInconsistentState, err.Error())
	}

	if err := pools.Check(); err != nil {
		return newError("check", CodeInconsistentState, err.Error())
	}

	for lpn := 0; lpn < forward.Len(); lpn++ {
		ppn, ok := forward.Get(mapping.LPN(lpn))
		if !ok {
			continue
		}

		if meta.Inverse(ppn) != mapping.LPN(lpn) {
			return newError("check", CodeInconsistentState,
				"forward and inverse tables disagree").
				withLPN(mapping.LPN(lpn)).withPPN(ppn)
		}
	}

	for ppn := 0; ppn < e.geometry.PagesInSSD; ppn++ {
		lpn := meta.Inverse(mapping.PPN(ppn))
		if lpn == mapping.NoLPN {
			continue
		}

		if fwd, ok := forward.Get(lpn); !ok || fwd != mapping.PPN(ppn) {
			return newError("check", CodeInconsistentState,
				"stale inverse entry").
				withLPN(lpn).withPPN(mapping.PPN(ppn))
		}
	}

	return nil
}

// Shutdown releases the tables. The engine refuses every later operation.
func (e *Engine) Shutdown() {
	if e.closed.Swap(true) {
		return
	}

	e.log.Info("engine shut down",
		"logical_writes", e.counters.LogicalPageWrites.Load(),
		"gc_runs", e.counters.GCRuns.Load())

	e.forward = nil
	e.meta = nil
}

func (e *Engine) usable() error {
	if e.closed.Load() {
		return ErrShutdown
	}

	return e.Failed()
}

// fail latches the engine into the failed state.
func (e *Engine) fail(err *Error) error {
	e.log.Error("engine state is inconsistent", "error", err.Error())
	e.failed.CompareAndSwap(nil, err)

	return err
}
