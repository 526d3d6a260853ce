package ftl

import (
	"github.com/sarchlab/ssdsim/ssd/ftl/internal/blockmeta"
	"github.com/sarchlab/ssdsim/ssd/mapping"
	"github.com/sarchlab/ssdsim/ssd/nand"
)

// The page primitives below serve front ends that keep their own page
// ownership, such as the object store. Pages written through them have no
// logical page in the forward table.

// Admit starts tracking a multi-page request on the NAND model.
func (e *Engine) Admit(kind nand.Kind, pages int) uint64 {
	return e.nand.Admit(kind, pages)
}

// Finish closes a request whose remaining pages will not be accessed.
func (e *Engine) Finish(seq uint64) {
	e.nand.Finish(seq)
}

// WriteOwnedPage takes a page under the Spread policy, programs it and
// flags it valid. The page that held the previous version, if any, turns
// invalid. The write counts as one logical page write.
func (e *Engine) WriteOwnedPage(
	seq uint64,
	prev mapping.PPN,
	kind WriteKind,
) (mapping.PPN, error) {
	if err := e.usable(); err != nil {
		return mapping.NoPPN, err
	}

	ppn, ok := e.pools.GetFreePage(PolicySpread, 0)
	if !ok {
		return mapping.NoPPN, newError("write", CodeOutOfSpace, "no free page")
	}

	e.nand.Write(seq, ppn)
	if prev != mapping.NoPPN {
		e.meta.Invalidate(prev)
	}
	e.meta.MarkValid(ppn, mapping.NoLPN, kind)

	e.counters.LogicalPageWrites.Add(1)
	e.counters.PhysicalPageWrites.Add(1)

	return ppn, nil
}

// ReadPage reads a physical page.
func (e *Engine) ReadPage(seq uint64, ppn mapping.PPN) error {
	if err := e.usable(); err != nil {
		return err
	}

	if !e.addr.ValidPPN(ppn) {
		return newError("read", CodeInvalidAddress, "physical page out of range").
			withPPN(ppn)
	}

	e.nand.Read(seq, ppn)

	return nil
}

// InvalidatePage flags a page invalid.
func (e *Engine) InvalidatePage(ppn mapping.PPN) error {
	if err := e.usable(); err != nil {
		return err
	}

	if !e.addr.ValidPPN(ppn) {
		return newError("invalidate", CodeInvalidAddress,
			"physical page out of range").withPPN(ppn)
	}

	e.meta.Invalidate(ppn)

	return nil
}

// CopybackPage copies src to dst inside the device. It fails if the two
// pages are not on the same plane.
func (e *Engine) CopybackPage(src, dst mapping.PPN) error {
	if err := e.usable(); err != nil {
		return err
	}

	seq := e.nand.Admit(nand.KindGCWrite, 1)
	if _, err := e.nand.Copyback(seq, src, dst); err != nil {
		e.nand.Finish(seq)
		return err
	}

	return nil
}

// MarkMigrated moves the validity of an owned page from src to dst.
func (e *Engine) MarkMigrated(src, dst mapping.PPN) error {
	if err := e.usable(); err != nil {
		return err
	}

	kind := e.meta.BlockOf(src).Type
	if kind == blockmeta.BlockEmpty {
		kind = blockmeta.BlockData
	}

	e.meta.Invalidate(src)
	e.meta.MarkValid(dst, mapping.NoLPN, kind)

	return nil
}

// CollectAfterWrite runs the GC check that follows a data write to ppn.
func (e *Engine) CollectAfterWrite(ppn mapping.PPN) error {
	loc := e.addr.Decompose(ppn)
	return e.GCCheck(loc.Flash, loc.Block, false)
}

func (e *Engine) moveByReadWrite(src, dst mapping.PPN) {
	e.nand.Read(e.nand.Admit(nand.KindGCRead, 1), src)
	e.nand.Write(e.nand.Admit(nand.KindGCWrite, 1), dst)
}
