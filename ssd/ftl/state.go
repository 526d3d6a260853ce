package ftl

import (
	"github.com/pkg/errors"

	"github.com/sarchlab/ssdsim/sim/stateful"
	"github.com/sarchlab/ssdsim/ssd/ftl/internal/blockmeta"
	"github.com/sarchlab/ssdsim/ssd/ftl/internal/pool"
	"github.com/sarchlab/ssdsim/ssd/geometry"
	"github.com/sarchlab/ssdsim/ssd/mapping"
	"github.com/sarchlab/ssdsim/ssd/nand"
)

// Names of the tables in a state directory.
const (
	tableGeometry   = "geometry"
	tableForward    = "forward"
	tableInverse    = "inverse"
	tableBlocks     = "blocks"
	tableEmptyPool  = "empty_pool"
	tableVictimPool = "victim_pool"
	tableCounters   = "counters"
	tableNANDStats  = "nand_stats"
)

type emptyPoolTable struct {
	NextPage  []int   `json:"next_page"`
	Lists     [][]int `json:"lists"`
	Cursor    int     `json:"cursor"`
	SeqCursor int     `json:"seq_cursor"`
}

type victimPoolTable struct {
	Lists [][]int `json:"lists"`
}

// Save writes every table of the engine into dir, one file per table.
func (e *Engine) Save(dir string) error {
	if err := e.usable(); err != nil {
		return err
	}

	d := stateful.NewDir(dir)
	meta := e.meta.Dump()
	pools := e.pools.Dump()

	tables := []struct {
		name string
		v    any
	}{
		{tableGeometry, e.geometry.Params},
		{tableForward, e.forward.Entries()},
		{tableInverse, meta.Inverse},
		{tableBlocks, meta.Blocks},
		{tableEmptyPool, emptyPoolTable{
			NextPage:  pools.NextPage,
			Lists:     pools.Empty,
			Cursor:    pools.Cursor,
			SeqCursor: pools.SeqCursor,
		}},
		{tableVictimPool, victimPoolTable{Lists: pools.Victim}},
		{tableCounters, e.counters.Snapshot()},
		{tableNANDStats, e.nand.Stats().Dump()},
	}

	for _, t := range tables {
		if err := d.Save(t.name, t.v); err != nil {
			return errors.Wrapf(err, "saving %s", e.Name())
		}
	}

	e.log.Info("state saved", "dir", dir,
		"mapped_pages", e.forward.Mapped())

	return nil
}

// Restore loads the tables saved in dir. A directory that does not exist
// leaves the engine as built, with every page unmapped and every block
// empty. The tables must come from a device of the same geometry.
func (e *Engine) Restore(dir string) error {
	if err := e.usable(); err != nil {
		return err
	}

	d := stateful.NewDir(dir)
	if !d.Exists() {
		e.log.Info("no saved state, starting empty", "dir", dir)
		return nil
	}

	var params geometry.Params
	found, err := d.Load(tableGeometry, &params)
	if err != nil {
		return err
	}
	if !found {
		return errors.Errorf("state in %s has no geometry table", dir)
	}
	if params != e.geometry.Params {
		return errors.Errorf("state in %s was saved with geometry %+v, engine has %+v",
			dir, params, e.geometry.Params)
	}

	var (
		forward  []mapping.PPN
		meta     blockmeta.Dump
		empty    emptyPoolTable
		victim   victimPoolTable
		counters CountersSnapshot
		stats    nand.StatsDump
	)

	tables := []struct {
		name     string
		v        any
		required bool
	}{
		{tableForward, &forward, true},
		{tableInverse, &meta.Inverse, true},
		{tableBlocks, &meta.Blocks, true},
		{tableEmptyPool, &empty, true},
		{tableVictimPool, &victim, true},
		{tableCounters, &counters, false},
		{tableNANDStats, &stats, false},
	}

	loaded := map[string]bool{}
	for _, t := range tables {
		found, err := d.Load(t.name, t.v)
		if err != nil {
			return err
		}
		if !found && t.required {
			return errors.Errorf("state in %s has no %s table", dir, t.name)
		}
		loaded[t.name] = found
	}

	restored, err := e.rebuildTables(forward, meta, pool.Dump{
		NextPage:  empty.NextPage,
		Empty:     empty.Lists,
		Victim:    victim.Lists,
		Cursor:    empty.Cursor,
		SeqCursor: empty.SeqCursor,
	})
	if err != nil {
		return errors.Wrapf(err, "state in %s", dir)
	}

	if loaded[tableNANDStats] {
		if err := e.nand.Stats().CheckDump(stats); err != nil {
			return errors.Wrap(err, "restoring NAND statistics")
		}
	}

	e.forward = restored.forward
	e.meta = restored.meta
	e.pools = restored.pools

	if loaded[tableCounters] {
		e.counters.restore(counters)
	}

	if loaded[tableNANDStats] {
		if err := e.nand.Stats().Restore(stats); err != nil {
			return errors.Wrap(err, "restoring NAND statistics")
		}
	}

	e.log.Info("state restored", "dir", dir,
		"mapped_pages", e.forward.Mapped(),
		"empty_blocks", e.pools.EmptyBlockCount())

	return nil
}

type tableSet struct {
	forward *mapping.Table
	meta    *blockmeta.Table
	pools   *pool.Manager
}

// rebuildTables loads the dumps into fresh tables and checks them. The
// engine's own tables are not touched.
func (e *Engine) rebuildTables(
	forward []mapping.PPN,
	meta blockmeta.Dump,
	pools pool.Dump,
) (tableSet, error) {
	t := tableSet{
		forward: mapping.NewTable(e.geometry.PageMappingEntryCount),
		meta:    blockmeta.New(e.geometry),
	}
	t.pools = e.poolBuilder.WithBlockMeta(t.meta).Build()

	if err := t.forward.Restore(forward, e.geometry.PagesInSSD); err != nil {
		return tableSet{}, errors.Wrap(err, "restoring the forward table")
	}

	if err := t.meta.Restore(meta); err != nil {
		return tableSet{}, errors.Wrap(err, "restoring block metadata")
	}

	if err := t.pools.Restore(pools); err != nil {
		return tableSet{}, errors.Wrap(err, "restoring pools")
	}

	if err := e.checkTables(t.forward, t.meta, t.pools); err != nil {
		return tableSet{}, err
	}

	return t, nil
}

// Load builds an engine with the builder and restores the state in dir.
func Load(dir string, b Builder, name string) (*Engine, error) {
	e := b.Build(name)
	if err := e.Restore(dir); err != nil {
		return nil, err
	}

	return e, nil
}
