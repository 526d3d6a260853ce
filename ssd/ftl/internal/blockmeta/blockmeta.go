// Package blockmeta keeps the per-block metadata of the device and the
// inverse page mapping table. Blocks live in one dense arena indexed by
// flash*blocksPerFlash + block; the pools refer to blocks by that index.
package blockmeta

import (
	"fmt"

	"github.com/sarchlab/ssdsim/ssd/geometry"
	"github.com/sarchlab/ssdsim/ssd/mapping"
)

// PageState is the validity flag of one physical page.
type PageState uint8

// Page states. A page is Free until programmed and only becomes Free again
// when its block is erased.
const (
	PageFree PageState = iota
	PageValid
	PageInvalid
)

func (s PageState) String() string {
	switch s {
	case PageFree:
		return "free"
	case PageValid:
		return "valid"
	case PageInvalid:
		return "invalid"
	}

	return fmt.Sprintf("PageState(%d)", uint8(s))
}

// BlockType tells what a block holds.
type BlockType uint8

// Block types. SeqData and RandData record the pattern of the write that
// opened the block; a block that sees both becomes Data.
const (
	BlockEmpty BlockType = iota
	BlockData
	BlockSeqData
	BlockRandData
)

func (t BlockType) String() string {
	switch t {
	case BlockEmpty:
		return "empty"
	case BlockData:
		return "data"
	case BlockSeqData:
		return "seq-data"
	case BlockRandData:
		return "rand-data"
	}

	return fmt.Sprintf("BlockType(%d)", uint8(t))
}

// Block is the metadata record of one physical block.
type Block struct {
	Type           BlockType   `json:"type"`
	ValidPageCount int         `json:"valid_page_count"`
	EraseCount     int         `json:"erase_count"`
	Pages          []PageState `json:"pages"`
}

// Full tells if every page of the block is valid.
func (b *Block) Full() bool {
	return b.ValidPageCount == len(b.Pages)
}

func (b *Block) recount() {
	n := 0
	for _, s := range b.Pages {
		if s == PageValid {
			n++
		}
	}

	b.ValidPageCount = n
}

// Table is the block arena plus the inverse page table.
type Table struct {
	addr    mapping.Addresser
	blocks  []Block
	inverse []mapping.LPN
	lpns    int
}

// New creates a table where every block is empty and every page is free.
func New(g geometry.Geometry) *Table {
	t := &Table{
		addr:    mapping.NewAddresser(g),
		blocks:  make([]Block, g.BlockMappingEntryCount),
		inverse: make([]mapping.LPN, g.PagesInSSD),
		lpns:    g.PageMappingEntryCount,
	}

	for i := range t.blocks {
		t.blocks[i].Pages = make([]PageState, g.PagesPerBlock)
	}

	for i := range t.inverse {
		t.inverse[i] = mapping.NoLPN
	}

	return t
}

// NumBlocks returns the size of the arena.
func (t *Table) NumBlocks() int {
	return len(t.blocks)
}

// Block returns the metadata of the block at the arena index. The pointer
// stays valid for the lifetime of the table.
func (t *Table) Block(index int) *Block {
	return &t.blocks[index]
}

// BlockOf returns the metadata of the block holding the page.
func (t *Table) BlockOf(ppn mapping.PPN) *Block {
	return &t.blocks[t.addr.BlockOf(ppn)]
}

// ValidPageCount returns the live valid count of the block at the index.
func (t *Table) ValidPageCount(index int) int {
	return t.blocks[index].ValidPageCount
}

// State returns the validity flag of a page.
func (t *Table) State(ppn mapping.PPN) PageState {
	loc := t.addr.Decompose(ppn)
	return t.BlockOf(ppn).Pages[loc.Page]
}

// Inverse returns the LPN stored at a page, NoLPN if there is none.
func (t *Table) Inverse(ppn mapping.PPN) mapping.LPN {
	return t.inverse[ppn]
}

// MarkValid flags a page valid, binds its inverse entry and tags its block
// with the write pattern. lpn may be NoLPN for pages that no logical page
// owns, such as object pages.
func (t *Table) MarkValid(ppn mapping.PPN, lpn mapping.LPN, kind BlockType) {
	b := t.BlockOf(ppn)
	page := t.addr.Decompose(ppn).Page

	b.Pages[page] = PageValid
	b.recount()
	t.inverse[ppn] = lpn

	switch {
	case b.Type == BlockEmpty:
		b.Type = kind
	case b.Type != kind:
		b.Type = BlockData
	}
}

// Invalidate flags a page invalid and clears its inverse entry.
func (t *Table) Invalidate(ppn mapping.PPN) {
	b := t.BlockOf(ppn)
	page := t.addr.Decompose(ppn).Page

	b.Pages[page] = PageInvalid
	b.recount()
	t.inverse[ppn] = mapping.NoLPN
}

// Erase frees every page of the block at the index and bumps its erase
// count.
func (t *Table) Erase(index int) {
	b := &t.blocks[index]
	for i := range b.Pages {
		b.Pages[i] = PageFree
	}

	first := index * len(b.Pages)
	for i := first; i < first+len(b.Pages); i++ {
		t.inverse[i] = mapping.NoLPN
	}

	b.Type = BlockEmpty
	b.ValidPageCount = 0
	b.EraseCount++
}

// ValidPages lists the valid pages of a block in page order.
func (t *Table) ValidPages(index int) []mapping.PPN {
	b := &t.blocks[index]
	flash, block := t.addr.BlockAddress(index)
	first := t.addr.FirstPage(flash, block)

	var pages []mapping.PPN
	for i, s := range b.Pages {
		if s == PageValid {
			pages = append(pages, first+mapping.PPN(i))
		}
	}

	return pages
}

// Check verifies that every block's valid count matches its flags and that
// no inverse entry sits on a page that is not valid.
func (t *Table) Check() error {
	for i := range t.blocks {
		b := &t.blocks[i]
		n := 0
		for p, s := range b.Pages {
			if s == PageValid {
				n++
				continue
			}

			ppn := i*len(b.Pages) + p
			if t.inverse[ppn] != mapping.NoLPN {
				return fmt.Errorf("page %d is %s but maps to lpn %d",
					ppn, s, t.inverse[ppn])
			}
		}

		if n != b.ValidPageCount {
			return fmt.Errorf("block %d counts %d valid pages, flags say %d",
				i, b.ValidPageCount, n)
		}
	}

	return nil
}

// Dump is the flat form of the table.
type Dump struct {
	Blocks  []Block       `json:"blocks"`
	Inverse []mapping.LPN `json:"inverse"`
}

// Dump returns the flat form of the table. The slices are shared.
func (t *Table) Dump() Dump {
	return Dump{Blocks: t.blocks, Inverse: t.inverse}
}

// Restore loads a dump taken from a table of the same geometry. Flags, block
// types and inverse entries are range checked, and the table is left
// untouched when the dump is rejected.
func (t *Table) Restore(d Dump) error {
	if len(d.Blocks) != len(t.blocks) || len(d.Inverse) != len(t.inverse) {
		return fmt.Errorf("dump holds %d blocks and %d pages, want %d and %d",
			len(d.Blocks), len(d.Inverse), len(t.blocks), len(t.inverse))
	}

	for i := range d.Blocks {
		if err := t.checkDumpedBlock(i, &d.Blocks[i]); err != nil {
			return err
		}
	}

	for ppn, lpn := range d.Inverse {
		if lpn != mapping.NoLPN && int64(lpn) >= int64(t.lpns) {
			return fmt.Errorf("page %d maps to lpn %d, device has %d logical pages",
				ppn, lpn, t.lpns)
		}
	}

	for i := range d.Blocks {
		d.Blocks[i].recount()
	}

	t.blocks = d.Blocks
	t.inverse = d.Inverse

	return nil
}

func (t *Table) checkDumpedBlock(i int, b *Block) error {
	if len(b.Pages) != len(t.blocks[i].Pages) {
		return fmt.Errorf("block %d holds %d pages, want %d",
			i, len(b.Pages), len(t.blocks[i].Pages))
	}

	if b.Type > BlockRandData {
		return fmt.Errorf("block %d has unknown type %d", i, b.Type)
	}

	if b.EraseCount < 0 {
		return fmt.Errorf("block %d has a negative erase count", i)
	}

	for p, s := range b.Pages {
		if s > PageInvalid {
			return fmt.Errorf("page %d of block %d has unknown state %d", p, i, s)
		}
	}

	return nil
}
