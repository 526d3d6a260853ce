package ftl

import (
	"fmt"

	"github.com/sarchlab/ssdsim/ssd/ftl/internal/blockmeta"
	"github.com/sarchlab/ssdsim/ssd/mapping"
	"github.com/sarchlab/ssdsim/ssd/nand"
)

// pageSpan is the part of a logical page that a sector range covers.
type pageSpan struct {
	lpn     mapping.LPN
	partial bool
}

func (e *Engine) split(op string, sector, length int) ([]pageSpan, error) {
	if length <= 0 || sector < 0 || sector+length > e.geometry.SectorCount {
		return nil, newError(op, CodeInvalidAddress, fmt.Sprintf(
			"sectors [%d, %d) outside [0, %d)",
			sector, sector+length, e.geometry.SectorCount))
	}

	spp := e.geometry.SectorsPerPage
	first := sector / spp
	last := (sector + length - 1) / spp

	spans := make([]pageSpan, 0, last-first+1)
	for p := first; p <= last; p++ {
		start := max(sector, p*spp)
		end := min(sector+length, (p+1)*spp)
		spans = append(spans, pageSpan{
			lpn:     mapping.LPN(p),
			partial: end-start < spp,
		})
	}

	return spans, nil
}

// Read reads length sectors starting at sector. Pages that were never
// written are not read from the flash.
func (e *Engine) Read(sector, length int) error {
	if err := e.usable(); err != nil {
		return err
	}

	spans, err := e.split("read", sector, length)
	if err != nil {
		return err
	}

	e.counters.HostReads.Add(1)

	var ppns []mapping.PPN
	for _, s := range spans {
		if ppn, ok := e.forward.Get(s.lpn); ok {
			ppns = append(ppns, ppn)
		}
	}

	seq := e.nand.Admit(nand.KindRead, len(ppns))
	for _, ppn := range ppns {
		e.nand.Read(seq, ppn)
	}

	return nil
}

// Write writes length sectors starting at sector. A page that the range only
// partly covers is read first if it holds data. Once the data is written,
// GC runs if free blocks are short; a GC failure is returned but the data
// stays written.
func (e *Engine) Write(sector, length int) error {
	if err := e.usable(); err != nil {
		return err
	}

	spans, err := e.split("write", sector, length)
	if err != nil {
		return err
	}

	e.counters.HostWrites.Add(1)

	kind := WriteKind(blockmeta.BlockRandData)
	if len(spans) >= e.geometry.SeqWriteThresholdPages {
		kind = blockmeta.BlockSeqData
	}

	seq := e.nand.Admit(nand.KindWrite, len(spans))
	last := mapping.NoPPN

	for _, s := range spans {
		if old, ok := e.forward.Get(s.lpn); ok && s.partial {
			e.counters.RMWReads.Add(1)
			e.nand.Read(0, old)
		}

		ppn, err := e.AllocateAndMap(s.lpn, PolicySpread, 0, kind)
		if err != nil {
			e.nand.Finish(seq)
			e.log.Warn("write ran out of space",
				"lpn", uint32(s.lpn), "empty_blocks", e.pools.EmptyBlockCount())
			return e.collectAfterShortWrite(last, err)
		}

		e.nand.Write(seq, ppn)
		e.counters.LogicalPageWrites.Add(1)
		e.counters.PhysicalPageWrites.Add(1)
		last = ppn
	}

	return e.CollectAfterWrite(last)
}

// collectAfterShortWrite runs the GC check for the pages a write managed to
// place before it ran out of space. The write error is returned unless GC
// latched the engine.
func (e *Engine) collectAfterShortWrite(last mapping.PPN, writeErr error) error {
	if last == mapping.NoPPN {
		return writeErr
	}

	if err := e.CollectAfterWrite(last); IsCode(err, CodeInconsistentState) {
		return err
	}

	return writeErr
}

// Trim drops the logical pages that the range fully covers. Partly covered
// pages keep their data.
func (e *Engine) Trim(sector, length int) error {
	if err := e.usable(); err != nil {
		return err
	}

	spans, err := e.split("trim", sector, length)
	if err != nil {
		return err
	}

	e.counters.HostTrims.Add(1)

	for _, s := range spans {
		if !s.partial {
			e.unmap(s.lpn)
		}
	}

	return nil
}

// Copyback moves a valid page to a page that the pools have handed out but
// nothing has been written to. The move uses the device copyback when both
// pages share a plane and a read and a write otherwise.
func (e *Engine) Copyback(src, dst mapping.PPN) error {
	if err := e.usable(); err != nil {
		return err
	}

	if !e.addr.ValidPPN(src) || !e.addr.ValidPPN(dst) {
		return newError("copyback", CodeInvalidAddress,
			"physical page out of range").withPPN(max(src, dst))
	}

	if e.meta.State(src) != blockmeta.PageValid {
		return newError("copyback", CodeInvalidAddress,
			"source page holds no valid data").withPPN(src)
	}

	if e.meta.State(dst) != blockmeta.PageFree || !e.pools.HandedOut(dst) {
		return newError("copyback", CodeInvalidAddress,
			"destination page was not allocated or is written").withPPN(dst)
	}

	if _, err := e.migrate(src, dst); err != nil {
		return err
	}

	e.counters.PhysicalPageWrites.Add(1)

	return nil
}

// migrate moves one page with the active strategy. It tells whether the
// device copyback was used.
func (e *Engine) migrate(src, dst mapping.PPN) (bool, error) {
	if err := e.strategy.Copyback(src, dst); err == nil {
		return true, nil
	}

	e.moveByReadWrite(src, dst)

	if err := e.strategy.Remap(src, dst); err != nil {
		return false, newError("migrate", CodeGCFailed, "remap failed").
			withPPN(src).wrap(err)
	}

	return false, nil
}

// AllocatePage hands out a free page without binding it, e.g. as the
// destination of a Copyback.
func (e *Engine) AllocatePage(policy Policy, groupHint int) (mapping.PPN, error) {
	if err := e.usable(); err != nil {
		return mapping.NoPPN, err
	}

	ppn, ok := e.pools.GetFreePage(policy, groupHint)
	if !ok {
		return mapping.NoPPN, newError("allocate", CodeOutOfSpace,
			"no free page under the "+policy.String()+" policy")
	}

	return ppn, nil
}
