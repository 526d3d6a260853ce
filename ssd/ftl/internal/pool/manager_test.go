package pool

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/ssdsim/ssd/ftl/internal/blockmeta"
	"github.com/sarchlab/ssdsim/ssd/geometry"
	"github.com/sarchlab/ssdsim/ssd/mapping"
)

var _ = Describe("Manager", func() {
	var (
		g    geometry.Geometry
		addr mapping.Addresser
		meta *blockmeta.Table
		m    *Manager
	)

	// 2 flashes x 2 planes, 4 blocks per flash, 4 pages per block. Each
	// plane group starts with 2 blocks.
	BeforeEach(func() {
		var err error
		g, err = geometry.MakeBuilder().
			WithPagesPerBlock(4).
			WithBlocksPerFlash(4).
			WithFlashes(2).
			WithPlanesPerFlash(2).
			WithChannels(2).
			Build()
		Expect(err).ToNot(HaveOccurred())

		addr = mapping.NewAddresser(g)
		meta = blockmeta.New(g)
		m = MakeBuilder().WithGeometry(g).WithBlockMeta(meta).Build()
	})

	drainGroup := func(group int) []mapping.PPN {
		var pages []mapping.PPN
		for m.GroupEmptyCount(group) > 0 {
			ppn, ok := m.GetFreePage(PolicyLocal, group)
			Expect(ok).To(BeTrue())
			pages = append(pages, ppn)
		}

		return pages
	}

	It("should start with every block empty", func() {
		Expect(m.NumGroups()).To(Equal(4))
		Expect(m.EmptyBlockCount()).To(Equal(8))
		Expect(m.VictimBlockCount()).To(Equal(0))
		Expect(m.FreePageCount()).To(Equal(32))
		for grp := 0; grp < 4; grp++ {
			Expect(m.GroupEmptyCount(grp)).To(Equal(2))
		}
		Expect(m.Check()).To(Succeed())
	})

	It("should spread pages round robin over plane groups", func() {
		groups := []int{}
		for i := 0; i < 5; i++ {
			ppn, ok := m.GetFreePage(PolicySpread, 0)
			Expect(ok).To(BeTrue())

			loc := addr.Decompose(ppn)
			groups = append(groups, addr.PlaneGroup(loc.Flash, loc.Block))
		}

		Expect(groups).To(Equal([]int{0, 1, 2, 3, 0}))
	})

	It("should hand out pages of a block in order", func() {
		p0, _ := m.GetFreePage(PolicyLocal, 0)
		p1, _ := m.GetFreePage(PolicyLocal, 0)

		Expect(p1).To(Equal(p0 + 1))
		Expect(m.HandedOut(p0)).To(BeTrue())
		Expect(m.HandedOut(p1 + 1)).To(BeFalse())
	})

	It("should evict a block when its last page is handed out", func() {
		for i := 0; i < 4; i++ {
			_, ok := m.GetFreePage(PolicyLocal, 0)
			Expect(ok).To(BeTrue())
		}

		Expect(m.GroupEmptyCount(0)).To(Equal(1))
		Expect(m.GroupVictimCount(0)).To(Equal(1))
		Expect(m.EmptyBlockCount()).To(Equal(7))
		Expect(m.VictimBlockCount()).To(Equal(1))
		Expect(m.IsVictim(0, 0)).To(BeTrue())
		Expect(m.Check()).To(Succeed())
	})

	It("should move to the other plane of the chip under Local", func() {
		drainGroup(0)

		ppn, ok := m.GetFreePage(PolicyLocal, 0)

		Expect(ok).To(BeTrue())
		loc := addr.Decompose(ppn)
		Expect(loc.Flash).To(Equal(0))
		Expect(addr.PlaneGroup(loc.Flash, loc.Block)).To(Equal(2))
	})

	It("should start every Local search at the hinted plane", func() {
		for i := 0; i < 3; i++ {
			ppn, ok := m.GetFreePage(PolicyLocal, 2)
			Expect(ok).To(BeTrue())
			loc := addr.Decompose(ppn)
			Expect(addr.PlaneGroup(loc.Flash, loc.Block)).To(Equal(2))
		}

		ppn, ok := m.GetFreePage(PolicyLocal, 0)
		Expect(ok).To(BeTrue())
		loc := addr.Decompose(ppn)
		Expect(addr.PlaneGroup(loc.Flash, loc.Block)).To(Equal(0))
		Expect(m.GroupEmptyCount(2)).To(Equal(2))
	})

	It("should refuse Local on an exhausted chip while Spread succeeds", func() {
		drainGroup(0)
		drainGroup(2)

		_, ok := m.GetFreePage(PolicyLocal, 0)
		Expect(ok).To(BeFalse())
		_, ok = m.GetFreePage(PolicyLocal, 2)
		Expect(ok).To(BeFalse())

		ppn, ok := m.GetFreePage(PolicySpread, 0)
		Expect(ok).To(BeTrue())
		Expect(addr.Decompose(ppn).Flash).To(Equal(1))
		Expect(m.Check()).To(Succeed())
	})

	It("should run out of pages once everything is written", func() {
		for i := 0; i < g.PagesInSSD; i++ {
			_, ok := m.GetFreePage(PolicySpread, 0)
			Expect(ok).To(BeTrue())
		}

		_, ok := m.GetFreePage(PolicySpread, 0)
		Expect(ok).To(BeFalse())
		Expect(m.EmptyBlockCount()).To(Equal(0))
		Expect(m.VictimBlockCount()).To(Equal(8))
		Expect(m.Check()).To(Succeed())
	})

	It("should refuse the sequential policy unless enabled", func() {
		_, ok := m.GetFreePage(PolicySequential, 0)

		Expect(ok).To(BeFalse())
	})

	It("should drain groups in order under the sequential policy", func() {
		m = MakeBuilder().
			WithGeometry(g).
			WithBlockMeta(meta).
			WithExperimentalPolicies().
			Build()

		var groups []int
		for i := 0; i < 9; i++ {
			ppn, ok := m.GetFreePage(PolicySequential, 0)
			Expect(ok).To(BeTrue())

			loc := addr.Decompose(ppn)
			groups = append(groups, addr.PlaneGroup(loc.Flash, loc.Block))
		}

		Expect(groups[:8]).To(HaveEach(0))
		Expect(groups[8]).To(Equal(1))
	})

	Context("when blocks are victims", func() {
		BeforeEach(func() {
			for _, ppn := range drainGroup(0) {
				meta.MarkValid(ppn, mapping.LPN(ppn), blockmeta.BlockSeqData)
			}
			for _, ppn := range drainGroup(1) {
				meta.MarkValid(ppn, mapping.LPN(ppn), blockmeta.BlockSeqData)
			}
		})

		It("should select the victim with the fewest valid pages", func() {
			meta.Invalidate(addr.Compose(1, 0, 0))
			meta.Invalidate(addr.Compose(0, 2, 1))
			meta.Invalidate(addr.Compose(0, 2, 2))

			idx, ok := m.SelectVictim()

			Expect(ok).To(BeTrue())
			Expect(idx).To(Equal(addr.BlockIndex(0, 2)))
		})

		It("should break ties by scan order", func() {
			meta.Invalidate(addr.Compose(1, 2, 0))
			meta.Invalidate(addr.Compose(0, 2, 3))

			idx, _ := m.SelectVictim()

			Expect(idx).To(Equal(addr.BlockIndex(0, 2)))
		})

		It("should return a full victim when nothing is invalid", func() {
			idx, ok := m.SelectVictim()

			Expect(ok).To(BeTrue())
			Expect(meta.Block(idx).Full()).To(BeTrue())
		})

		It("should reclaim a victim into the tail of its empty pool", func() {
			Expect(m.Reclaim(0, 2)).To(Succeed())

			Expect(m.GroupVictimCount(0)).To(Equal(1))
			Expect(m.GroupEmptyCount(0)).To(Equal(1))
			Expect(m.EmptyBlockCount()).To(Equal(5))
			Expect(m.VictimBlockCount()).To(Equal(3))
			Expect(m.FreePageCount()).To(Equal(20))
			Expect(meta.Block(addr.BlockIndex(0, 2)).ValidPageCount).To(Equal(0))
			Expect(meta.Block(addr.BlockIndex(0, 2)).EraseCount).To(Equal(1))
			Expect(m.HandedOut(addr.Compose(0, 2, 0))).To(BeFalse())
			Expect(m.Check()).To(Succeed())

			ppn, ok := m.GetFreePage(PolicyLocal, 0)
			Expect(ok).To(BeTrue())
			Expect(ppn).To(Equal(addr.Compose(0, 2, 0)))
		})

		It("should refuse to reclaim a block that is not a victim", func() {
			Expect(m.Reclaim(0, 1)).To(HaveOccurred())
		})

		It("should survive a dump and restore", func() {
			d := m.Dump()

			other := MakeBuilder().WithGeometry(g).WithBlockMeta(meta).Build()
			Expect(other.Restore(d)).To(Succeed())

			Expect(other.EmptyBlockCount()).To(Equal(m.EmptyBlockCount()))
			Expect(other.VictimBlockCount()).To(Equal(m.VictimBlockCount()))
			Expect(other.FreePageCount()).To(Equal(m.FreePageCount()))
			Expect(other.Dump()).To(Equal(d))
		})
	})

	It("should reject a dump of another geometry", func() {
		Expect(m.Restore(Dump{})).To(HaveOccurred())
	})

	DescribeTable("should keep its pools when a dump is rejected",
		func(corrupt func(d *Dump), msg string) {
			_, ok := m.GetFreePage(PolicyLocal, 1)
			Expect(ok).To(BeTrue())
			d := m.Dump()
			corrupt(&d)

			Expect(m.Restore(d)).To(MatchError(ContainSubstring(msg)))
			Expect(m.EmptyBlockCount()).To(Equal(8))
			Expect(m.FreePageCount()).To(Equal(31))
			Expect(m.Check()).To(Succeed())
		},
		Entry("block listed twice",
			func(d *Dump) { d.Victim[0] = append(d.Victim[0], d.Empty[0][0]) },
			"lists block"),
		Entry("block missing",
			func(d *Dump) { d.Empty[0] = d.Empty[0][1:] },
			"lists 7 blocks, want 8"),
		Entry("block in a foreign group",
			func(d *Dump) { d.Empty[0], d.Empty[1] = d.Empty[1], d.Empty[0] },
			"want"),
		Entry("block out of range",
			func(d *Dump) { d.Empty[0][0] = 99 },
			"block 99 out of range"),
		Entry("next page past the block",
			func(d *Dump) { d.NextPage[0] = 5 },
			"next page 5"),
		Entry("cursor out of range",
			func(d *Dump) { d.Cursor = 4 },
			"cursors"),
	)
})
