package geometry

// Builder can build geometries with a chain of With calls.
type Builder struct {
	params Params
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{params: DefaultParams()}
}

// WithParams replaces all the parameters.
func (b Builder) WithParams(p Params) Builder {
	b.params = p
	return b
}

// WithPageSize sets the page size in bytes.
func (b Builder) WithPageSize(n int) Builder {
	b.params.PageSize = n
	return b
}

// WithSectorSize sets the sector size in bytes.
func (b Builder) WithSectorSize(n int) Builder {
	b.params.SectorSize = n
	return b
}

// WithPagesPerBlock sets the number of physical pages in each block.
func (b Builder) WithPagesPerBlock(n int) Builder {
	b.params.PagesPerBlock = n
	return b
}

// WithBlocksPerFlash sets the number of blocks in each flash chip.
func (b Builder) WithBlocksPerFlash(n int) Builder {
	b.params.BlocksPerFlash = n
	return b
}

// WithFlashes sets the number of flash chips.
func (b Builder) WithFlashes(n int) Builder {
	b.params.Flashes = n
	return b
}

// WithPlanesPerFlash sets the number of planes in each flash chip. It must be
// 1 or an even number.
func (b Builder) WithPlanesPerFlash(n int) Builder {
	b.params.PlanesPerFlash = n
	return b
}

// WithChannels sets the number of channels. Flashes are striped over the
// channels, flash i sits on channel i % channels.
func (b Builder) WithChannels(n int) Builder {
	b.params.Channels = n
	return b
}

// WithOverProvisionPercent sets the share of pages hidden from the host.
func (b Builder) WithOverProvisionPercent(p float64) Builder {
	b.params.OverProvisionPercent = p
	return b
}

// WithGCThresholds sets the L1 and L2 used-block fractions.
func (b Builder) WithGCThresholds(l1, l2 float64) Builder {
	b.params.GCThreshold = l1
	b.params.GCL2Threshold = l2
	return b
}

// WithGCVictimsPerCheck bounds the number of victims collected per check.
func (b Builder) WithGCVictimsPerCheck(n int) Builder {
	b.params.GCVictimsPerCheck = n
	return b
}

// WithSeqWriteThresholdPages sets the length from which writes are
// sequential.
func (b Builder) WithSeqWriteThresholdPages(n int) Builder {
	b.params.SeqWriteThresholdPages = n
	return b
}

// Build validates the parameters and derives the geometry.
func (b Builder) Build() (Geometry, error) {
	return New(b.params)
}
