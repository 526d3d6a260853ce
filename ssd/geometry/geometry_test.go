package geometry

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Geometry", func() {
	It("should derive the constants", func() {
		g, err := MakeBuilder().
			WithPageSize(4096).
			WithSectorSize(512).
			WithPagesPerBlock(10).
			WithBlocksPerFlash(20).
			WithFlashes(4).
			WithPlanesPerFlash(2).
			WithChannels(4).
			WithOverProvisionPercent(20).
			WithGCThresholds(0.7, 0.9).
			Build()

		Expect(err).ToNot(HaveOccurred())
		Expect(g.SectorsPerPage).To(Equal(8))
		Expect(g.PagesPerFlash).To(Equal(200))
		Expect(g.PagesInSSD).To(Equal(800))
		Expect(g.BlockMappingEntryCount).To(Equal(80))
		Expect(g.PageMappingEntryCount).To(Equal(640))
		Expect(g.SectorCount).To(Equal(5120))
		Expect(g.GCThresholdBlockCount).To(Equal(24))
		Expect(g.GCL2ThresholdBlockCount).To(Equal(8))
		Expect(g.EmptyTableEntryCount).To(Equal(8))
		Expect(g.BlocksPerPlaneGroup()).To(Equal(10))
		Expect(g.PageBytes(3)).To(Equal(int64(3 * 4096)))
	})

	DescribeTable("should not lose a block to float error",
		func(blocksPerFlash int, l1, l2 float64, wantL1, wantL2 int) {
			g, err := MakeBuilder().
				WithPagesPerBlock(4).
				WithBlocksPerFlash(blocksPerFlash).
				WithFlashes(4).
				WithChannels(4).
				WithGCThresholds(l1, l2).
				Build()

			Expect(err).ToNot(HaveOccurred())
			Expect(g.GCThresholdBlockCount).To(Equal(wantL1))
			Expect(g.GCL2ThresholdBlockCount).To(Equal(wantL2))
		},
		Entry("80 blocks", 20, 0.7, 0.9, 24, 8),
		Entry("40 blocks", 10, 0.7, 0.9, 12, 4),
		Entry("an exact tenth", 10, 0.9, 0.975, 4, 1),
		Entry("a fraction below one block", 1, 0.8, 0.9, 0, 0),
	)

	It("should derive the logical page count without float error", func() {
		g, err := MakeBuilder().
			WithPagesPerBlock(10).
			WithBlocksPerFlash(10).
			WithFlashes(1).
			WithChannels(1).
			WithOverProvisionPercent(30).
			Build()

		Expect(err).ToNot(HaveOccurred())
		Expect(g.PageMappingEntryCount).To(Equal(70))
	})

	It("should accept the defaults", func() {
		_, err := New(DefaultParams())

		Expect(err).ToNot(HaveOccurred())
	})

	DescribeTable("should reject invalid parameters",
		func(modify func(p *Params), msg string) {
			p := DefaultParams()
			modify(&p)

			_, err := New(p)

			Expect(err).To(MatchError(ContainSubstring(msg)))
		},
		Entry("fewer flashes than channels",
			func(p *Params) { p.Flashes = 2; p.Channels = 4 },
			"must not be less than channel count"),
		Entry("odd plane count",
			func(p *Params) { p.PlanesPerFlash = 3 },
			"planes per flash must be 1 or even"),
		Entry("page not made of sectors",
			func(p *Params) { p.SectorSize = 500 },
			"not a multiple of sector size"),
		Entry("zero blocks",
			func(p *Params) { p.BlocksPerFlash = 0 },
			"blocks per flash must be positive"),
		Entry("blocks not spread over planes",
			func(p *Params) { p.PlanesPerFlash = 2; p.BlocksPerFlash = 5 },
			"not divisible by planes per flash"),
		Entry("L2 below L1",
			func(p *Params) { p.GCThreshold = 0.8; p.GCL2Threshold = 0.6 },
			"GC L2 threshold"),
		Entry("full over-provisioning",
			func(p *Params) { p.OverProvisionPercent = 100 },
			"over-provisioning"),
	)

	It("should panic in MustNew on invalid parameters", func() {
		p := DefaultParams()
		p.Channels = 100

		Expect(func() { MustNew(p) }).To(Panic())
	})
})
