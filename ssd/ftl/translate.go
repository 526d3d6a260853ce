package ftl

import (
	"fmt"

	"github.com/sarchlab/ssdsim/ssd/ftl/internal/blockmeta"
	"github.com/sarchlab/ssdsim/ssd/ftl/internal/pool"
	"github.com/sarchlab/ssdsim/ssd/mapping"
)

// Policy selects where a free page comes from.
type Policy = pool.Policy

// Free page policies.
const (
	PolicySpread     = pool.PolicySpread
	PolicyLocal      = pool.PolicyLocal
	PolicySequential = pool.PolicySequential
)

// WriteKind is the write pattern a page was written with.
type WriteKind = blockmeta.BlockType

// Write patterns.
const (
	SeqWrite  = blockmeta.BlockSeqData
	RandWrite = blockmeta.BlockRandData
)

// PageState is the validity flag of a physical page.
type PageState = blockmeta.PageState

// Page states.
const (
	PageFree    = blockmeta.PageFree
	PageValid   = blockmeta.PageValid
	PageInvalid = blockmeta.PageInvalid
)

// BlockInfo is the metadata record of a physical block.
type BlockInfo = blockmeta.Block

// Translate returns the physical page of a logical page. It never
// allocates.
func (e *Engine) Translate(lpn mapping.LPN) (mapping.PPN, bool) {
	if e.closed.Load() || !e.addr.ValidLPN(lpn) {
		return mapping.NoPPN, false
	}

	return e.forward.Get(lpn)
}

// AllocateAndMap binds the logical page to a fresh physical page taken under
// the policy. The previous physical page of the logical page, if any, turns
// invalid.
func (e *Engine) AllocateAndMap(
	lpn mapping.LPN,
	policy Policy,
	groupHint int,
	kind WriteKind,
) (mapping.PPN, error) {
	if err := e.usable(); err != nil {
		return mapping.NoPPN, err
	}

	if !e.addr.ValidLPN(lpn) {
		return mapping.NoPPN, newError("allocate", CodeInvalidAddress,
			fmt.Sprintf("logical page out of range [0, %d)", e.forward.Len())).
			withLPN(lpn)
	}

	ppn, ok := e.pools.GetFreePage(policy, groupHint)
	if !ok {
		return mapping.NoPPN, newError("allocate", CodeOutOfSpace,
			"no free page under the "+policy.String()+" policy").withLPN(lpn)
	}

	e.bind(lpn, ppn, kind)

	return ppn, nil
}

func (e *Engine) bind(lpn mapping.LPN, ppn mapping.PPN, kind WriteKind) {
	if old, ok := e.forward.Get(lpn); ok {
		e.meta.Invalidate(old)
	}

	e.forward.Set(lpn, ppn)
	e.meta.MarkValid(ppn, lpn, kind)
}

// unmap drops a logical page. Its physical page turns invalid.
func (e *Engine) unmap(lpn mapping.LPN) bool {
	old, ok := e.forward.Get(lpn)
	if !ok {
		return false
	}

	e.meta.Invalidate(old)
	e.forward.Set(lpn, mapping.NoPPN)

	return true
}

// RemapOnMigration moves the logical binding of a page that has been copied
// from src to dst. The source page turns invalid. A page that no logical
// page owns is not bound again, so the copy at dst is dead.
func (e *Engine) RemapOnMigration(src, dst mapping.PPN) error {
	if err := e.usable(); err != nil {
		return err
	}

	if !e.addr.ValidPPN(src) || !e.addr.ValidPPN(dst) {
		return newError("remap", CodeInvalidAddress, "physical page out of range").
			withPPN(max(src, dst))
	}

	kind := e.meta.BlockOf(src).Type
	if kind == blockmeta.BlockEmpty {
		kind = blockmeta.BlockData
	}

	lpn := e.meta.Inverse(src)
	e.meta.Invalidate(src)

	if lpn == mapping.NoLPN {
		e.meta.Invalidate(dst)
		return nil
	}

	e.forward.Set(lpn, dst)
	e.meta.MarkValid(dst, lpn, kind)

	return nil
}
