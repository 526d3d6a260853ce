package ftl

import (
	"fmt"

	"github.com/sarchlab/ssdsim/sim/hooking"
	"github.com/sarchlab/ssdsim/ssd/mapping"
)

// GCCheck collects victim blocks while free blocks are short. The first
// victim is collected unconditionally if force is set. At most
// GCVictimsPerCheck victims are collected per call. flash and block name the
// page that triggered the check; victims are chosen device wide.
func (e *Engine) GCCheck(flash, block int, force bool) error {
	if err := e.usable(); err != nil {
		return err
	}

	for i := 0; i < e.geometry.GCVictimsPerCheck; i++ {
		empty := e.pools.EmptyBlockCount()
		if !(force && i == 0) && empty >= e.geometry.GCThresholdBlockCount {
			return nil
		}

		emergency := empty < e.geometry.GCL2ThresholdBlockCount

		e.log.Debug("gc triggered",
			"flash", flash, "block", block,
			"empty_blocks", empty, "forced", force, "emergency", emergency)

		if err := e.collect(emergency); err != nil {
			return err
		}
	}

	return nil
}

// collect reclaims the victim with the fewest valid pages.
func (e *Engine) collect(emergency bool) error {
	idx, ok := e.pools.SelectVictim()
	if !ok {
		e.counters.GCFailures.Add(1)
		return newError("gc", CodeGCFailed, "no victim block")
	}

	flash, block := e.addr.BlockAddress(idx)
	victim := e.meta.Block(idx)

	if victim.Full() {
		e.counters.GCFailures.Add(1)
		e.counters.GCFullVictimFailures.Add(1)
		e.log.Debug("gc found only full victims",
			"flash", flash, "block", block)

		return newError("gc", CodeGCFailed, fmt.Sprintf(
			"best victim, block %d of flash %d, has no invalid page",
			block, flash)).withPPN(e.addr.FirstPage(flash, block))
	}

	if emergency {
		e.counters.GCEmergencies.Add(1)
		e.log.Warn("gc below the emergency threshold",
			"empty_blocks", e.pools.EmptyBlockCount())
	}

	run := hooking.GCRun{
		Flash:      flash,
		Block:      block,
		ValidPages: victim.ValidPageCount,
		Emergency:  emergency,
	}
	e.invokeGCHook(hooking.HookPosGCStart, run)

	moved, copybacks, err := e.evacuate(idx, emergency)
	run.Moved = moved
	run.Copybacks = copybacks

	if err != nil {
		e.counters.GCFailures.Add(1)
		run.Err = err.Error()
		e.invokeGCHook(hooking.HookPosGCEnd, run)
		e.log.Warn("gc failed", "flash", flash, "block", block,
			"moved", moved, "error", err.Error())

		return err
	}

	if moved != run.ValidPages || victim.ValidPageCount != 0 {
		err := e.fail(newError("gc", CodeInconsistentState, fmt.Sprintf(
			"moved %d of %d valid pages, %d still valid",
			moved, run.ValidPages, victim.ValidPageCount)).
			withPPN(e.addr.FirstPage(flash, block)))
		run.Err = err.Error()
		e.invokeGCHook(hooking.HookPosGCEnd, run)

		return err
	}

	e.nand.Erase(flash, block)
	e.counters.PhysicalPageWrites.Add(1)

	if err := e.pools.Reclaim(flash, block); err != nil {
		return e.fail(newError("gc", CodeInconsistentState, "reclaim failed").
			withPPN(e.addr.FirstPage(flash, block)).wrap(err))
	}

	e.counters.GCRuns.Add(1)
	e.invokeGCHook(hooking.HookPosGCEnd, run)
	e.log.Debug("gc collected a block", "flash", flash, "block", block,
		"moved", moved, "copybacks", copybacks)

	return nil
}

// evacuate moves every valid page of the victim. Pages go to the same chip
// when possible so the device copyback can be used. Below the emergency
// threshold they may go anywhere.
func (e *Engine) evacuate(idx int, emergency bool) (moved, copybacks int, err error) {
	flash, block := e.addr.BlockAddress(idx)
	group := e.addr.PlaneGroup(flash, block)

	for _, src := range e.meta.ValidPages(idx) {
		dst, ok := e.pools.GetFreePage(PolicyLocal, group)
		if ok {
			copied, err := e.migrate(src, dst)
			if err != nil {
				return moved, copybacks, err
			}

			if copied {
				copybacks++
				e.counters.GCCopybacks.Add(1)
			} else {
				e.counters.GCMigrations.Add(1)
			}
		} else {
			if err := e.evacuateAnywhere(src, flash, emergency); err != nil {
				return moved, copybacks, err
			}
		}

		moved++
		e.counters.PhysicalPageWrites.Add(1)
	}

	return moved, copybacks, nil
}

func (e *Engine) evacuateAnywhere(src mapping.PPN, flash int, emergency bool) error {
	if !emergency {
		return newError("gc", CodeGCFailed, fmt.Sprintf(
			"no free page left on flash %d", flash)).withPPN(src)
	}

	dst, ok := e.pools.GetFreePage(PolicySpread, 0)
	if !ok {
		return newError("gc", CodeGCFailed, "no free page left").
			withPPN(src).wrap(ErrOutOfSpace)
	}

	e.moveByReadWrite(src, dst)
	e.counters.GCMigrations.Add(1)

	if err := e.strategy.Remap(src, dst); err != nil {
		return newError("gc", CodeGCFailed, "remap failed").withPPN(src).wrap(err)
	}

	return nil
}

func (e *Engine) invokeGCHook(pos *hooking.HookPos, run hooking.GCRun) {
	if e.NumHooks() == 0 {
		return
	}

	e.InvokeHook(hooking.HookCtx{
		Domain: e,
		Pos:    pos,
		Item:   run,
	})
}
