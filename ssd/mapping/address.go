// Package mapping defines logical and physical page numbers and the pure
// arithmetic that turns a physical page number into flash, block, page,
// plane and channel coordinates.
package mapping

import (
	"fmt"
	"math"

	"github.com/sarchlab/ssdsim/ssd/geometry"
)

// LPN is a logical page number.
type LPN uint32

// PPN is a physical page number.
type PPN uint32

// Unmapped marks a table entry that points nowhere. It is used as both an
// LPN and a PPN sentinel.
const Unmapped = math.MaxUint32

// NoPPN is the PPN sentinel.
const NoPPN = PPN(Unmapped)

// NoLPN is the LPN sentinel.
const NoLPN = LPN(Unmapped)

// Location is a decomposed physical page number.
type Location struct {
	Flash int
	Block int
	Page  int
}

func (l Location) String() string {
	return fmt.Sprintf("flash %d block %d page %d", l.Flash, l.Block, l.Page)
}

// An Addresser converts between PPNs and device coordinates for one
// geometry.
type Addresser struct {
	pagesPerBlock  int
	blocksPerFlash int
	flashes        int
	planes         int
	channels       int
	pagesInSSD     int
	lpnCount       int
}

// NewAddresser creates an Addresser.
func NewAddresser(g geometry.Geometry) Addresser {
	return Addresser{
		pagesPerBlock:  g.PagesPerBlock,
		blocksPerFlash: g.BlocksPerFlash,
		flashes:        g.Flashes,
		planes:         g.PlanesPerFlash,
		channels:       g.Channels,
		pagesInSSD:     g.PagesInSSD,
		lpnCount:       g.PageMappingEntryCount,
	}
}

// Decompose splits a PPN into flash, block and page.
func (a Addresser) Decompose(ppn PPN) Location {
	a.checkPPN("decompose", ppn)

	blockNo := int(ppn) / a.pagesPerBlock

	return Location{
		Flash: blockNo / a.blocksPerFlash,
		Block: blockNo % a.blocksPerFlash,
		Page:  int(ppn) % a.pagesPerBlock,
	}
}

// Compose is the inverse of Decompose.
func (a Addresser) Compose(flash, block, page int) PPN {
	a.checkBlock("compose", flash, block)
	if page < 0 || page >= a.pagesPerBlock {
		contractViolation(fmt.Sprintf(
			"compose: page %d out of range [0, %d)", page, a.pagesPerBlock))
	}

	return PPN((flash*a.blocksPerFlash+block)*a.pagesPerBlock + page)
}

// FirstPage returns the PPN of the first page of a block.
func (a Addresser) FirstPage(flash, block int) PPN {
	return a.Compose(flash, block, 0)
}

// BlockIndex returns the dense index of a block across the whole device.
func (a Addresser) BlockIndex(flash, block int) int {
	a.checkBlock("block index", flash, block)

	return flash*a.blocksPerFlash + block
}

// BlockOf returns the dense block index that holds the page.
func (a Addresser) BlockOf(ppn PPN) int {
	a.checkPPN("block of", ppn)

	return int(ppn) / a.pagesPerBlock
}

// BlockAddress is the inverse of BlockIndex.
func (a Addresser) BlockAddress(index int) (flash, block int) {
	return index / a.blocksPerFlash, index % a.blocksPerFlash
}

// Plane returns the plane of a block within its flash.
func (a Addresser) Plane(block int) int {
	return block % a.planes
}

// PlaneGroup returns the pool key of a block: plane*flashes + flash.
func (a Addresser) PlaneGroup(flash, block int) int {
	return a.Plane(block)*a.flashes + flash
}

// GroupFlash returns the flash that a plane group belongs to.
func (a Addresser) GroupFlash(group int) int {
	return group % a.flashes
}

// GroupPlane returns the plane that a plane group stands for.
func (a Addresser) GroupPlane(group int) int {
	return group / a.flashes
}

// Register returns the index of the plane register that serves the block:
// flash*planes + plane.
func (a Addresser) Register(flash, block int) int {
	return flash*a.planes + a.Plane(block)
}

// Channel returns the channel a flash is attached to.
func (a Addresser) Channel(flash int) int {
	return flash % a.channels
}

// SamePlane tells if two pages sit on the same plane of the same flash.
// Copyback is only possible between such pages.
func (a Addresser) SamePlane(x, y PPN) bool {
	lx, ly := a.Decompose(x), a.Decompose(y)

	return lx.Flash == ly.Flash && a.Plane(lx.Block) == a.Plane(ly.Block)
}

// ValidPPN tells if the PPN lies within the device.
func (a Addresser) ValidPPN(ppn PPN) bool {
	return int(ppn) < a.pagesInSSD
}

// ValidLPN tells if the LPN lies within the logical address space.
func (a Addresser) ValidLPN(lpn LPN) bool {
	return int(lpn) < a.lpnCount
}

func (a Addresser) checkPPN(op string, ppn PPN) {
	if !a.ValidPPN(ppn) {
		contractViolation(fmt.Sprintf(
			"%s: ppn %d out of range [0, %d)", op, ppn, a.pagesInSSD))
	}
}

func (a Addresser) checkBlock(op string, flash, block int) {
	if flash < 0 || flash >= a.flashes {
		contractViolation(fmt.Sprintf(
			"%s: flash %d out of range [0, %d)", op, flash, a.flashes))
	}

	if block < 0 || block >= a.blocksPerFlash {
		contractViolation(fmt.Sprintf(
			"%s: block %d out of range [0, %d)", op, block, a.blocksPerFlash))
	}
}
