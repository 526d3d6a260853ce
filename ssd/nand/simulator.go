// Package nand models the timing of the flash array behind the FTL: the
// channels that carry data, the plane registers and the cell arrays.
//
// Planning a page access is pure: it reads the channel and register state
// and the current time, and yields a Schedule plus the new state. The
// Simulator then asks its Realizer to wait until the schedule releases the
// caller. A LogicalClock makes that wait instant, a WallClock makes it real.
package nand

import (
	"errors"

	"github.com/sarchlab/ssdsim/internal/logging"
	"github.com/sarchlab/ssdsim/sim/hooking"
	"github.com/sarchlab/ssdsim/sim/naming"
	"github.com/sarchlab/ssdsim/sim/timing"
	"github.com/sarchlab/ssdsim/ssd/geometry"
	"github.com/sarchlab/ssdsim/ssd/mapping"
)

// ErrCrossPlaneCopyback is returned when a copyback would leave the plane.
var ErrCrossPlaneCopyback = errors.New("copyback source and destination are on different planes")

// Simulator is the timing model of the flash array.
type Simulator struct {
	naming.NamedBase
	hooking.HookableBase

	geometry geometry.Geometry
	addr     mapping.Addresser
	delays   Delays
	clock    timing.Clock
	log      *logging.Logger

	channels  []ChannelState
	registers []RegisterState
	requests  *requestTracker
	stats     *Stats
}

// Builder builds simulators.
type Builder struct {
	name          string
	geometry      geometry.Geometry
	delays        Delays
	clock         timing.Clock
	log           *logging.Logger
	latencyWindow int
}

// MakeBuilder creates a builder with default delays and a logical clock.
func MakeBuilder() Builder {
	return Builder{
		name:          "NAND",
		geometry:      geometry.MustNew(geometry.DefaultParams()),
		delays:        DefaultDelays(),
		latencyWindow: DefaultLatencyWindow,
	}
}

// WithGeometry sets the geometry of the device.
func (b Builder) WithGeometry(g geometry.Geometry) Builder {
	b.geometry = g
	return b
}

// WithDelays sets the stage delays.
func (b Builder) WithDelays(d Delays) Builder {
	b.delays = d
	return b
}

// WithClock sets the clock that tells time and realizes delays.
func (b Builder) WithClock(c timing.Clock) Builder {
	b.clock = c
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(l *logging.Logger) Builder {
	b.log = l
	return b
}

// WithLatencyWindow sets how many samples the latency averages remember.
func (b Builder) WithLatencyWindow(n int) Builder {
	b.latencyWindow = n
	return b
}

// Build creates a simulator where every channel and register is idle.
func (b Builder) Build(name string) *Simulator {
	if name == "" {
		name = b.name
	}

	clock := b.clock
	if clock == nil {
		clock = timing.NewLogicalClock()
	}

	log := b.log
	if log == nil {
		log = logging.Nop()
	}

	window := b.latencyWindow
	if window <= 0 {
		window = DefaultLatencyWindow
	}

	g := b.geometry

	return &Simulator{
		NamedBase: naming.MakeNamedBase(name),
		geometry:  g,
		addr:      mapping.NewAddresser(g),
		delays:    b.delays,
		clock:     clock,
		log:       log.WithComponent(name),
		channels:  make([]ChannelState, g.Channels),
		registers: make([]RegisterState, g.Flashes*g.PlanesPerFlash),
		requests:  newRequestTracker(),
		stats:     newStats(g, window),
	}
}

// Now returns the current simulated time.
func (s *Simulator) Now() timing.VTimeInUsec {
	return s.clock.Now()
}

// Stats returns the counters of the simulator.
func (s *Simulator) Stats() *Stats {
	return s.stats
}

// Delays returns the stage delays.
func (s *Simulator) Delays() Delays {
	return s.delays
}

// Register returns the timing state of a plane register.
func (s *Simulator) Register(i int) RegisterState {
	return s.registers[i]
}

// Channel returns the timing state of a channel.
func (s *Simulator) Channel(i int) ChannelState {
	return s.channels[i]
}

// InFlight returns the number of admitted requests that have not completed.
func (s *Simulator) InFlight() int {
	return s.requests.inFlightCount()
}

// Admit starts tracking a request of the given number of pages and returns
// its sequence number. Page accesses that pass the number are counted
// toward the request.
func (s *Simulator) Admit(kind Kind, pages int) uint64 {
	if pages <= 0 {
		return 0
	}

	return s.requests.admit(kind, pages).Seq
}

// Finish closes a request early, when some of its pages will never be
// accessed. Pages that did complete still count toward the latency.
func (s *Simulator) Finish(seq uint64) {
	if r, ok := s.requests.cancel(seq); ok {
		s.complete(r)
	}
}

// Read senses a page and moves it out over the channel.
func (s *Simulator) Read(seq uint64, ppn mapping.PPN) Schedule {
	loc := s.addr.Decompose(ppn)
	chIdx := s.addr.Channel(loc.Flash)
	regIdx := s.addr.Register(loc.Flash, loc.Block)
	kind := s.kindOf(seq, KindRead)

	sched, ch, reg := planRead(
		s.channels[chIdx], s.registers[regIdx], s.clock.Now(), s.delays)
	reg.Kind = kind
	s.channels[chIdx] = ch
	s.registers[regIdx] = reg

	s.stats.count(OpRead, ppn)
	s.finishAccess(OpRead, kind, seq, ppn, mapping.NoPPN, chIdx, regIdx, sched)

	return sched
}

// Write moves a page in over the channel and programs it.
func (s *Simulator) Write(seq uint64, ppn mapping.PPN) Schedule {
	loc := s.addr.Decompose(ppn)
	chIdx := s.addr.Channel(loc.Flash)
	regIdx := s.addr.Register(loc.Flash, loc.Block)
	kind := s.kindOf(seq, KindWrite)

	sched, ch, reg := planWrite(
		s.channels[chIdx], s.registers[regIdx], s.clock.Now(), s.delays)
	reg.Kind = kind
	s.channels[chIdx] = ch
	s.registers[regIdx] = reg

	s.stats.count(OpWrite, ppn)
	s.stats.countProgram(ppn)
	s.finishAccess(OpWrite, kind, seq, ppn, mapping.NoPPN, chIdx, regIdx, sched)

	return sched
}

// Erase erases a block. The caller is released as soon as the erase starts.
func (s *Simulator) Erase(flash, block int) Schedule {
	regIdx := s.addr.Register(flash, block)
	first := s.addr.FirstPage(flash, block)

	sched, reg := planErase(s.registers[regIdx], s.clock.Now(), s.delays)
	reg.Kind = KindGCWrite
	s.registers[regIdx] = reg

	s.stats.countErase(flash, block)
	s.finishAccess(OpErase, KindGCWrite, 0, first, mapping.NoPPN,
		s.addr.Channel(flash), regIdx, sched)

	return sched
}

// Copyback moves a page to another page of the same plane without using the
// channel.
func (s *Simulator) Copyback(seq uint64, src, dst mapping.PPN) (Schedule, error) {
	if !s.addr.SamePlane(src, dst) {
		s.log.Debug("copyback refused", "src", uint32(src), "dst", uint32(dst))
		return Schedule{}, ErrCrossPlaneCopyback
	}

	srcLoc := s.addr.Decompose(src)
	dstLoc := s.addr.Decompose(dst)
	srcIdx := s.addr.Register(srcLoc.Flash, srcLoc.Block)
	dstIdx := s.addr.Register(dstLoc.Flash, dstLoc.Block)
	kind := s.kindOf(seq, KindGCWrite)

	sched, srcReg, dstReg := planCopyback(
		s.registers[srcIdx], s.registers[dstIdx], s.clock.Now(), s.delays)
	srcReg.Kind = kind
	dstReg.Kind = kind
	s.registers[srcIdx] = srcReg
	s.registers[dstIdx] = dstReg

	s.stats.count(OpCopyback, dst)
	s.stats.countProgram(dst)
	s.finishAccess(OpCopyback, kind, seq, dst, src,
		s.addr.Channel(dstLoc.Flash), dstIdx, sched)

	return sched, nil
}

func (s *Simulator) kindOf(seq uint64, fallback Kind) Kind {
	if k, ok := s.requests.kindOf(seq); ok {
		return k
	}

	return fallback
}

func (s *Simulator) finishAccess(
	op Op,
	kind Kind,
	seq uint64,
	ppn, src mapping.PPN,
	channel, register int,
	sched Schedule,
) {
	if op != OpErase {
		s.stats.countPage(kind)
	}

	if s.NumHooks() > 0 {
		s.InvokeHook(hooking.HookCtx{
			Domain: s,
			Pos:    hooking.HookPosPageAccess,
			Item: hooking.PageAccess{
				Op:       op.String(),
				Kind:     kind.String(),
				PPN:      uint32(ppn),
				SrcPPN:   uint32(src),
				Channel:  channel,
				Register: register,
				Issue:    int64(sched.Issue),
				Start:    int64(sched.Start),
				End:      int64(sched.End),
				Release:  int64(sched.Release),
				Request:  seq,
			},
		})
	}

	if seq != 0 {
		if r, done := s.requests.record(seq, sched.Issue, sched.End); done {
			s.complete(r)
		}
	}

	s.clock.WaitUntil(sched.Release)
}

func (s *Simulator) complete(r *IORequest) {
	perPage := s.stats.completeRequest(r)

	if s.NumHooks() == 0 {
		return
	}

	first, last := r.span()
	s.InvokeHook(hooking.HookCtx{
		Domain: s,
		Pos:    hooking.HookPosRequestDone,
		Item: hooking.RequestDone{
			Seq:       r.Seq,
			Kind:      r.Kind.String(),
			Pages:     r.Pages,
			Start:     int64(first),
			End:       int64(last),
			PerPageUs: perPage,
		},
	})
}
