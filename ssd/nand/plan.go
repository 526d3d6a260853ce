package nand

import (
	"fmt"

	"github.com/sarchlab/ssdsim/sim/timing"
)

// Op is a physical page operation.
type Op uint8

// Physical operations. OpNone is the direction of a channel that has not
// been used yet.
const (
	OpNone Op = iota
	OpRead
	OpWrite
	OpErase
	OpCopyback
)

func (o Op) String() string {
	switch o {
	case OpNone:
		return "none"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpErase:
		return "erase"
	case OpCopyback:
		return "copyback"
	}

	return fmt.Sprintf("Op(%d)", uint8(o))
}

// Kind is the class of the I/O request a page access belongs to. Each kind
// has its own latency average.
type Kind uint8

// Request kinds.
const (
	KindRead Kind = iota
	KindWrite
	KindGCRead
	KindGCWrite
	numKinds
)

// Kinds lists every request kind.
var Kinds = []Kind{KindRead, KindWrite, KindGCRead, KindGCWrite}

func (k Kind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindGCRead:
		return "gc-read"
	case KindGCWrite:
		return "gc-write"
	}

	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// RegisterState is the timing state of one plane register and the cell
// array behind it.
type RegisterState struct {
	Op             Op
	Kind           Kind
	RegisterFreeAt timing.VTimeInUsec
	CellFreeAt     timing.VTimeInUsec
}

// ChannelState is the timing state of one channel.
type ChannelState struct {
	LastOp  Op
	LastUse timing.VTimeInUsec
}

// Schedule is the planned timeline of a page access. The caller is released
// at Release; the access is over at End.
type Schedule struct {
	Issue   timing.VTimeInUsec
	Start   timing.VTimeInUsec
	End     timing.VTimeInUsec
	Release timing.VTimeInUsec
}

// channelReady returns when a transfer in direction op may use the channel.
// Turning the channel around costs the switch delay of the previous
// direction.
func channelReady(
	ch ChannelState,
	op Op,
	now timing.VTimeInUsec,
	d Delays,
) timing.VTimeInUsec {
	if ch.LastOp == OpNone || ch.LastOp == op {
		return now
	}

	return timing.Max(now, ch.LastUse+d.channelSwitch(ch.LastOp))
}

// planWrite moves the data into the register, then programs the cell. The
// register is free again as soon as the cell takes the data.
func planWrite(
	ch ChannelState,
	reg RegisterState,
	now timing.VTimeInUsec,
	d Delays,
) (Schedule, ChannelState, RegisterState) {
	ready := channelReady(ch, OpWrite, now, d)

	regStart := timing.Max(ready, reg.RegisterFreeAt)
	regEnd := regStart + d.RegisterWrite
	cellStart := timing.Max(regEnd, reg.CellFreeAt)
	cellEnd := cellStart + d.CellProgram

	reg.Op = OpWrite
	reg.RegisterFreeAt = cellStart
	reg.CellFreeAt = cellEnd
	ch = ChannelState{LastOp: OpWrite, LastUse: regEnd}

	return Schedule{
		Issue:   now,
		Start:   regStart,
		End:     cellEnd,
		Release: regEnd,
	}, ch, reg
}

// planRead senses the cell, then moves the data out of the register.
func planRead(
	ch ChannelState,
	reg RegisterState,
	now timing.VTimeInUsec,
	d Delays,
) (Schedule, ChannelState, RegisterState) {
	ready := channelReady(ch, OpRead, now, d)

	cellStart := timing.Max(ready, reg.CellFreeAt)
	cellEnd := cellStart + d.CellRead
	regStart := timing.Max(cellEnd, reg.RegisterFreeAt)
	regEnd := regStart + d.RegisterRead

	reg.Op = OpRead
	reg.CellFreeAt = cellEnd
	reg.RegisterFreeAt = regEnd
	ch = ChannelState{LastOp: OpRead, LastUse: regEnd}

	return Schedule{
		Issue:   now,
		Start:   cellStart,
		End:     regEnd,
		Release: regEnd,
	}, ch, reg
}

// planErase keeps the cell array busy. The caller does not wait for it.
func planErase(
	reg RegisterState,
	now timing.VTimeInUsec,
	d Delays,
) (Schedule, RegisterState) {
	start := timing.Max(now, reg.CellFreeAt)
	end := start + d.BlockErase

	reg.Op = OpErase
	reg.CellFreeAt = end

	return Schedule{Issue: now, Start: start, End: end, Release: start}, reg
}

// planCopyback reads and programs within the chip. No data crosses the
// channel.
func planCopyback(
	src, dst RegisterState,
	now timing.VTimeInUsec,
	d Delays,
) (Schedule, RegisterState, RegisterState) {
	start := timing.Max(now, src.CellFreeAt, dst.CellFreeAt)
	end := start + d.CellRead + d.CellProgram

	src.Op = OpCopyback
	src.CellFreeAt = start + d.CellRead
	dst.Op = OpCopyback
	dst.CellFreeAt = end

	return Schedule{Issue: now, Start: start, End: end, Release: start}, src, dst
}
