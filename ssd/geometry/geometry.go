// Package geometry derives the constants of a simulated SSD from a handful
// of raw parameters.
package geometry

import (
	"fmt"
	"math"
)

// Params are the raw parameters that describe an SSD.
type Params struct {
	PageSize       int `mapstructure:"page_size" json:"page_size"`
	SectorSize     int `mapstructure:"sector_size" json:"sector_size"`
	PagesPerBlock  int `mapstructure:"pages_per_block" json:"pages_per_block"`
	BlocksPerFlash int `mapstructure:"blocks_per_flash" json:"blocks_per_flash"`
	Flashes        int `mapstructure:"flashes" json:"flashes"`
	PlanesPerFlash int `mapstructure:"planes_per_flash" json:"planes_per_flash"`
	Channels       int `mapstructure:"channels" json:"channels"`

	// OverProvisionPercent is the share of physical pages hidden from the
	// logical address space.
	OverProvisionPercent float64 `mapstructure:"over_provision_percent" json:"over_provision_percent"`

	// GCThreshold is the used fraction of blocks at which GC starts (L1).
	GCThreshold float64 `mapstructure:"gc_threshold" json:"gc_threshold"`

	// GCL2Threshold is the used fraction of blocks at which GC may move
	// pages off-chip to keep making progress (L2).
	GCL2Threshold float64 `mapstructure:"gc_l2_threshold" json:"gc_l2_threshold"`

	// GCVictimsPerCheck bounds how many blocks one GC check collects.
	GCVictimsPerCheck int `mapstructure:"gc_victims_per_check" json:"gc_victims_per_check"`

	// SeqWriteThresholdPages is the request length, in pages, from which a
	// write counts as sequential.
	SeqWriteThresholdPages int `mapstructure:"seq_write_threshold_pages" json:"seq_write_threshold_pages"`
}

// DefaultParams returns a small 4-channel device.
func DefaultParams() Params {
	return Params{
		PageSize:               4096,
		SectorSize:             512,
		PagesPerBlock:          64,
		BlocksPerFlash:         256,
		Flashes:                8,
		PlanesPerFlash:         1,
		Channels:               4,
		OverProvisionPercent:   10,
		GCThreshold:            0.7,
		GCL2Threshold:          0.9,
		GCVictimsPerCheck:      1,
		SeqWriteThresholdPages: 8,
	}
}

// Geometry is the immutable set of derived constants. The raw parameters are
// embedded so the two never disagree.
type Geometry struct {
	Params

	SectorsPerPage          int `json:"sectors_per_page"`
	PagesPerFlash           int `json:"pages_per_flash"`
	PagesInSSD              int `json:"pages_in_ssd"`
	BlockMappingEntryCount  int `json:"block_mapping_entry_count"`
	PageMappingEntryCount   int `json:"page_mapping_entry_count"`
	SectorCount             int `json:"sector_count"`
	GCThresholdBlockCount   int `json:"gc_threshold_block_count"`
	GCL2ThresholdBlockCount int `json:"gc_l2_threshold_block_count"`
	EmptyTableEntryCount    int `json:"empty_table_entry_count"`
}

// New validates the parameters and derives the geometry.
func New(p Params) (Geometry, error) {
	if err := p.Validate(); err != nil {
		return Geometry{}, err
	}

	g := Geometry{Params: p}
	g.SectorsPerPage = p.PageSize / p.SectorSize
	g.PagesPerFlash = p.PagesPerBlock * p.BlocksPerFlash
	g.PagesInSSD = g.PagesPerFlash * p.Flashes
	g.BlockMappingEntryCount = p.BlocksPerFlash * p.Flashes
	g.PageMappingEntryCount = share(g.PagesInSSD, (100-p.OverProvisionPercent)/100)
	g.SectorCount = g.PageMappingEntryCount * g.SectorsPerPage
	g.GCThresholdBlockCount = share(g.BlockMappingEntryCount, 1-p.GCThreshold)
	g.GCL2ThresholdBlockCount = share(g.BlockMappingEntryCount, 1-p.GCL2Threshold)
	g.EmptyTableEntryCount = p.Flashes * p.PlanesPerFlash

	if g.PageMappingEntryCount <= 0 {
		return Geometry{}, fmt.Errorf(
			"over-provisioning of %.1f%% leaves no logical pages",
			p.OverProvisionPercent)
	}

	return g, nil
}

// share returns floor(n * fraction). Products that miss an integer only by
// float error, such as (1-0.9)*80, count as that integer.
func share(n int, fraction float64) int {
	const epsilon = 1e-9

	return int(math.Floor(float64(n)*fraction + epsilon))
}

// MustNew is like New but panics on invalid parameters. Tests and examples
// use it with literal parameters.
func MustNew(p Params) Geometry {
	g, err := New(p)
	if err != nil {
		panic(err)
	}

	return g
}

// Validate checks the raw parameters.
func (p Params) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"page size", p.PageSize},
		{"sector size", p.SectorSize},
		{"pages per block", p.PagesPerBlock},
		{"blocks per flash", p.BlocksPerFlash},
		{"flash count", p.Flashes},
		{"planes per flash", p.PlanesPerFlash},
		{"channel count", p.Channels},
		{"GC victims per check", p.GCVictimsPerCheck},
		{"sequential write threshold", p.SeqWriteThresholdPages},
	}
	for _, f := range positive {
		if f.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", f.name, f.value)
		}
	}

	if p.PageSize%p.SectorSize != 0 {
		return fmt.Errorf("page size %d is not a multiple of sector size %d",
			p.PageSize, p.SectorSize)
	}

	if p.Flashes < p.Channels {
		return fmt.Errorf("flash count %d must not be less than channel count %d",
			p.Flashes, p.Channels)
	}

	if p.PlanesPerFlash != 1 && p.PlanesPerFlash%2 != 0 {
		return fmt.Errorf("planes per flash must be 1 or even, got %d",
			p.PlanesPerFlash)
	}

	if p.BlocksPerFlash%p.PlanesPerFlash != 0 {
		return fmt.Errorf("blocks per flash %d is not divisible by planes per flash %d",
			p.BlocksPerFlash, p.PlanesPerFlash)
	}

	if p.OverProvisionPercent < 0 || p.OverProvisionPercent >= 100 {
		return fmt.Errorf("over-provisioning must be in [0, 100), got %.1f",
			p.OverProvisionPercent)
	}

	if p.GCThreshold <= 0 || p.GCThreshold >= 1 {
		return fmt.Errorf("GC threshold must be in (0, 1), got %.2f", p.GCThreshold)
	}

	if p.GCL2Threshold < p.GCThreshold || p.GCL2Threshold >= 1 {
		return fmt.Errorf("GC L2 threshold must be in [%.2f, 1), got %.2f",
			p.GCThreshold, p.GCL2Threshold)
	}

	return nil
}

// BlocksPerPlaneGroup returns how many blocks each pool starts with.
func (g Geometry) BlocksPerPlaneGroup() int {
	return g.BlocksPerFlash / g.PlanesPerFlash
}

// PageBytes returns the number of bytes of n pages.
func (g Geometry) PageBytes(n int) int64 {
	return int64(n) * int64(g.PageSize)
}
