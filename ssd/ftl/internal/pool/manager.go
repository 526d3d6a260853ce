// Package pool manages the empty and victim block pools, one of each per
// plane group. Pools hold arena indices into the block metadata table, never
// the metadata itself.
package pool

import (
	"fmt"
	"sync/atomic"

	"github.com/sarchlab/ssdsim/internal/logging"
	"github.com/sarchlab/ssdsim/ssd/ftl/internal/blockmeta"
	"github.com/sarchlab/ssdsim/ssd/geometry"
	"github.com/sarchlab/ssdsim/ssd/mapping"
)

// Policy decides which plane group a free page comes from.
type Policy int

// Free page policies.
const (
	// PolicySpread walks all plane groups round robin with one global
	// cursor.
	PolicySpread Policy = iota

	// PolicyLocal stays on the flash chip of the hinted plane group, so that
	// GC can move pages with copyback.
	PolicyLocal

	// PolicySequential drains plane groups one after another with a single
	// pointer that never wraps. It is only served when experimental policies
	// are enabled.
	PolicySequential
)

func (p Policy) String() string {
	switch p {
	case PolicySpread:
		return "spread"
	case PolicyLocal:
		return "local"
	case PolicySequential:
		return "sequential"
	}

	return fmt.Sprintf("Policy(%d)", int(p))
}

// A Manager hands out free pages and tracks which blocks are waiting for GC.
type Manager struct {
	addr          mapping.Addresser
	meta          *blockmeta.Table
	log           *logging.Logger
	pagesPerBlock int
	flashes       int
	planes        int
	experimental  bool

	links     links
	nextPage  []int
	empty     []blockList
	victim    []blockList
	cursor    int
	seqCursor int

	emptyTotal  atomic.Int64
	victimTotal atomic.Int64
	freePages   atomic.Int64
}

// Builder builds pool managers.
type Builder struct {
	geometry     geometry.Geometry
	meta         *blockmeta.Table
	log          *logging.Logger
	experimental bool
}

// MakeBuilder creates a builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithGeometry sets the geometry of the device.
func (b Builder) WithGeometry(g geometry.Geometry) Builder {
	b.geometry = g
	return b
}

// WithBlockMeta sets the block arena that the pools index into.
func (b Builder) WithBlockMeta(t *blockmeta.Table) Builder {
	b.meta = t
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(l *logging.Logger) Builder {
	b.log = l
	return b
}

// WithExperimentalPolicies lets the manager serve PolicySequential.
func (b Builder) WithExperimentalPolicies() Builder {
	b.experimental = true
	return b
}

// Build creates a manager where every block sits in the empty pool of its
// plane group, in block order.
func (b Builder) Build() *Manager {
	if b.meta == nil {
		panic("pool: block metadata is required")
	}

	log := b.log
	if log == nil {
		log = logging.Nop()
	}

	g := b.geometry
	m := &Manager{
		addr:          mapping.NewAddresser(g),
		meta:          b.meta,
		log:           log.WithComponent("pool"),
		pagesPerBlock: g.PagesPerBlock,
		flashes:       g.Flashes,
		planes:        g.PlanesPerFlash,
		experimental:  b.experimental,
	}

	m.reset(g.BlockMappingEntryCount, g.EmptyTableEntryCount)
	for idx := 0; idx < g.BlockMappingEntryCount; idx++ {
		m.empty[m.groupOf(idx)].pushBack(&m.links, int32(idx), inEmptyList)
	}
	m.emptyTotal.Store(int64(g.BlockMappingEntryCount))
	m.freePages.Store(int64(g.PagesInSSD))

	return m
}

func (m *Manager) reset(blocks, groups int) {
	m.links = newLinks(blocks)
	m.nextPage = make([]int, blocks)
	m.empty = make([]blockList, groups)
	m.victim = make([]blockList, groups)
	for i := range m.empty {
		m.empty[i] = newBlockList()
		m.victim[i] = newBlockList()
	}

	m.cursor = 0
	m.seqCursor = 0
	m.emptyTotal.Store(0)
	m.victimTotal.Store(0)
	m.freePages.Store(0)
}

func (m *Manager) groupOf(idx int) int {
	flash, block := m.addr.BlockAddress(idx)
	return m.addr.PlaneGroup(flash, block)
}

// NumGroups returns the number of plane groups.
func (m *Manager) NumGroups() int {
	return len(m.empty)
}

// EmptyBlockCount returns the number of blocks that still have free pages.
func (m *Manager) EmptyBlockCount() int {
	return int(m.emptyTotal.Load())
}

// VictimBlockCount returns the number of fully written blocks.
func (m *Manager) VictimBlockCount() int {
	return int(m.victimTotal.Load())
}

// FreePageCount returns the number of pages that can still be handed out
// without erasing a block.
func (m *Manager) FreePageCount() int {
	return int(m.freePages.Load())
}

// GroupEmptyCount returns the empty pool size of one plane group.
func (m *Manager) GroupEmptyCount(group int) int {
	return m.empty[group].count
}

// GroupVictimCount returns the victim pool size of one plane group.
func (m *Manager) GroupVictimCount(group int) int {
	return m.victim[group].count
}

// GetFreePage hands out the next free page under the policy. The group is
// the plane group hint; Spread ignores it. It returns false when the policy
// cannot find a page.
func (m *Manager) GetFreePage(policy Policy, group int) (mapping.PPN, bool) {
	switch policy {
	case PolicySpread:
		return m.spread()
	case PolicyLocal:
		return m.local(group)
	case PolicySequential:
		return m.sequential()
	}

	m.log.Error("unknown free page policy", "policy", int(policy))

	return mapping.NoPPN, false
}

func (m *Manager) spread() (mapping.PPN, bool) {
	n := len(m.empty)
	for i := 0; i < n; i++ {
		g := (m.cursor + i) % n
		if m.empty[g].count == 0 {
			continue
		}

		m.cursor = (g + 1) % n

		return m.take(g), true
	}

	return mapping.NoPPN, false
}

// local serves the chip of the hinted group. The search starts at the
// hinted plane on every call and wraps over the other planes of the chip, so
// a victim's pages stay on its own plane for copyback while that plane has
// room. There is no per-chip cursor.
func (m *Manager) local(group int) (mapping.PPN, bool) {
	flash := m.addr.GroupFlash(group)
	plane := m.addr.GroupPlane(group)

	for i := 0; i < m.planes; i++ {
		g := ((plane+i)%m.planes)*m.flashes + flash
		if m.empty[g].count > 0 {
			return m.take(g), true
		}
	}

	m.log.Debug("chip exhausted", "flash", flash)

	return mapping.NoPPN, false
}

func (m *Manager) sequential() (mapping.PPN, bool) {
	if !m.experimental {
		m.log.Warn("sequential policy requested without experimental policies")
		return mapping.NoPPN, false
	}

	for m.seqCursor < len(m.empty) {
		if m.empty[m.seqCursor].count > 0 {
			return m.take(m.seqCursor), true
		}

		m.seqCursor++
	}

	return mapping.NoPPN, false
}

// take hands out the next page of the head block of the group. The block
// moves to the victim pool as soon as its last page is handed out.
func (m *Manager) take(group int) mapping.PPN {
	l := &m.empty[group]
	idx := l.head

	flash, block := m.addr.BlockAddress(int(idx))
	ppn := m.addr.Compose(flash, block, m.nextPage[idx])
	m.nextPage[idx]++
	m.freePages.Add(-1)

	if m.nextPage[idx] == m.pagesPerBlock {
		l.remove(&m.links, idx)
		m.emptyTotal.Add(-1)

		m.victim[group].pushBack(&m.links, idx, inVictimList)
		m.victimTotal.Add(1)
	}

	return ppn
}

// HandedOut tells if the page has been given out since its block was last
// erased.
func (m *Manager) HandedOut(ppn mapping.PPN) bool {
	idx := m.addr.BlockOf(ppn)
	page := m.addr.Decompose(ppn).Page

	return page < m.nextPage[idx]
}

// SelectVictim returns the victim block with the fewest valid pages across
// all plane groups. Ties go to the block seen first, scanning groups in
// order and each list from its head.
func (m *Manager) SelectVictim() (int, bool) {
	best := -1
	bestValid := 0

	for g := range m.victim {
		for i := m.victim[g].head; i != nilIndex; i = m.links.next[i] {
			valid := m.meta.ValidPageCount(int(i))
			if best < 0 || valid < bestValid {
				best = int(i)
				bestValid = valid
			}
		}
	}

	return best, best >= 0
}

// Reclaim returns an erased victim block to the tail of its empty pool and
// resets its metadata.
func (m *Manager) Reclaim(flash, block int) error {
	idx := m.addr.BlockIndex(flash, block)
	if m.links.where[idx] != inVictimList {
		return fmt.Errorf("block %d of flash %d is not a victim", block, flash)
	}

	g := m.groupOf(idx)
	m.victim[g].remove(&m.links, int32(idx))
	m.victimTotal.Add(-1)

	m.meta.Erase(idx)
	m.nextPage[idx] = 0

	m.empty[g].pushBack(&m.links, int32(idx), inEmptyList)
	m.emptyTotal.Add(1)
	m.freePages.Add(int64(m.pagesPerBlock))

	return nil
}

// IsVictim tells if the block waits in a victim pool.
func (m *Manager) IsVictim(flash, block int) bool {
	return m.links.where[m.addr.BlockIndex(flash, block)] == inVictimList
}

// Check verifies that the lists, their counts and the totals agree, and
// that every block is in exactly one pool.
func (m *Manager) Check() error {
	seen := make([]bool, len(m.nextPage))
	emptySum, victimSum := 0, 0

	walk := func(lists []blockList, kind listKind, sum *int) error {
		for g := range lists {
			n := 0
			for _, idx := range lists[g].indices(&m.links) {
				if seen[idx] {
					return fmt.Errorf("block %d is in more than one list", idx)
				}
				seen[idx] = true

				if m.links.where[idx] != kind {
					return fmt.Errorf("block %d is in the wrong list", idx)
				}

				if m.groupOf(idx) != g {
					return fmt.Errorf("block %d is in group %d, want %d",
						idx, g, m.groupOf(idx))
				}
				n++
			}

			if n != lists[g].count {
				return fmt.Errorf("group %d holds %d blocks but counts %d",
					g, n, lists[g].count)
			}
			*sum += n
		}

		return nil
	}

	if err := walk(m.empty, inEmptyList, &emptySum); err != nil {
		return err
	}

	if err := walk(m.victim, inVictimList, &victimSum); err != nil {
		return err
	}

	if emptySum != m.EmptyBlockCount() || victimSum != m.VictimBlockCount() {
		return fmt.Errorf("totals %d/%d disagree with lists %d/%d",
			m.EmptyBlockCount(), m.VictimBlockCount(), emptySum, victimSum)
	}

	if emptySum+victimSum != len(m.nextPage) {
		return fmt.Errorf("%d empty and %d victim blocks, want %d in total",
			emptySum, victimSum, len(m.nextPage))
	}

	return nil
}

// Dump is the flat form of the pools.
type Dump struct {
	NextPage  []int   `json:"next_page"`
	Empty     [][]int `json:"empty"`
	Victim    [][]int `json:"victim"`
	Cursor    int     `json:"cursor"`
	SeqCursor int     `json:"seq_cursor"`
}

// Dump returns the flat form of the pools.
func (m *Manager) Dump() Dump {
	d := Dump{
		NextPage:  append([]int(nil), m.nextPage...),
		Empty:     make([][]int, len(m.empty)),
		Victim:    make([][]int, len(m.victim)),
		Cursor:    m.cursor,
		SeqCursor: m.seqCursor,
	}

	for g := range m.empty {
		d.Empty[g] = m.empty[g].indices(&m.links)
		d.Victim[g] = m.victim[g].indices(&m.links)
	}

	return d
}

// Restore rebuilds the pools from a dump taken with the same geometry. The
// dump is validated first and the manager is left untouched when it is
// rejected.
func (m *Manager) Restore(d Dump) error {
	if err := m.checkDump(d); err != nil {
		return err
	}

	m.reset(len(m.nextPage), len(m.empty))
	copy(m.nextPage, d.NextPage)
	m.cursor = d.Cursor
	m.seqCursor = d.SeqCursor

	for g := range d.Empty {
		for _, idx := range d.Empty[g] {
			m.empty[g].pushBack(&m.links, int32(idx), inEmptyList)
			m.emptyTotal.Add(1)
			m.freePages.Add(int64(m.pagesPerBlock - m.nextPage[idx]))
		}

		for _, idx := range d.Victim[g] {
			m.victim[g].pushBack(&m.links, int32(idx), inVictimList)
			m.victimTotal.Add(1)
		}
	}

	return m.Check()
}

func (m *Manager) checkDump(d Dump) error {
	blocks := len(m.nextPage)
	if len(d.NextPage) != blocks ||
		len(d.Empty) != len(m.empty) || len(d.Victim) != len(m.victim) {
		return fmt.Errorf("pool dump does not match the geometry")
	}

	if d.Cursor < 0 || d.Cursor >= len(m.empty) ||
		d.SeqCursor < 0 || d.SeqCursor > len(m.empty) {
		return fmt.Errorf("pool dump cursors %d/%d are out of range",
			d.Cursor, d.SeqCursor)
	}

	for idx, next := range d.NextPage {
		if next < 0 || next > m.pagesPerBlock {
			return fmt.Errorf("block %d has next page %d, want [0, %d]",
				idx, next, m.pagesPerBlock)
		}
	}

	seen := make([]bool, blocks)
	listed := 0
	for g := range d.Empty {
		for l, list := range [][]int{d.Empty[g], d.Victim[g]} {
			for _, idx := range list {
				if idx < 0 || idx >= blocks {
					return fmt.Errorf("pool dump names block %d out of range", idx)
				}

				if seen[idx] {
					return fmt.Errorf("pool dump lists block %d twice", idx)
				}
				seen[idx] = true
				listed++

				if m.groupOf(idx) != g {
					return fmt.Errorf("pool dump puts block %d in group %d, want %d",
						idx, g, m.groupOf(idx))
				}

				full := d.NextPage[idx] == m.pagesPerBlock
				if isVictim := l == 1; full != isVictim {
					return fmt.Errorf("pool dump lists block %d with %d pages handed out as %s",
						idx, d.NextPage[idx], [2]string{"empty", "victim"}[l])
				}
			}
		}
	}

	if listed != blocks {
		return fmt.Errorf("pool dump lists %d blocks, want %d", listed, blocks)
	}

	return nil
}
