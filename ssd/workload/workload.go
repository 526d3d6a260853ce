// Package workload generates synthetic host request streams for driving an
// FTL engine from the command line.
package workload

import (
	"fmt"
	"math/rand"

	"github.com/sarchlab/ssdsim/ssd/geometry"
)

// Pattern names a request stream shape.
type Pattern string

// Supported patterns.
const (
	// Sequential writes walk the logical space from sector 0 and wrap.
	Sequential Pattern = "sequential"
	// Random writes start anywhere in the logical space.
	Random Pattern = "random"
	// Mixed is mostly random reads with some writes and trims.
	Mixed Pattern = "mixed"
	// Overwrite sends most writes to a small hot region so that GC has to
	// reclaim blocks full of stale pages.
	Overwrite Pattern = "overwrite"
)

// Patterns lists every supported pattern.
func Patterns() []Pattern {
	return []Pattern{Sequential, Random, Mixed, Overwrite}
}

// Kind is the type of a host request.
type Kind int

// Request kinds.
const (
	KindRead Kind = iota
	KindWrite
	KindTrim
)

func (k Kind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindTrim:
		return "trim"
	}

	return fmt.Sprintf("Kind(%d)", int(k))
}

// Op is one host request in sectors.
type Op struct {
	Kind   Kind
	Sector int
	Length int
}

const (
	mixedReadPercent  = 70
	mixedWritePercent = 25

	hotRegionPercent = 20
	hotWritePercent  = 80
)

// Generator produces the requests of one pattern. The same seed yields the
// same stream.
type Generator struct {
	pattern Pattern
	sectors int
	length  int
	rng     *rand.Rand
	cursor  int
}

// New creates a generator of requests of length sectors over the logical
// space of g.
func New(pattern Pattern, g geometry.Geometry, length int, seed int64) (*Generator, error) {
	switch pattern {
	case Sequential, Random, Mixed, Overwrite:
	default:
		return nil, fmt.Errorf("unknown workload pattern %q", pattern)
	}

	if length <= 0 {
		return nil, fmt.Errorf("request size must be positive, got %d", length)
	}

	if length > g.SectorCount {
		return nil, fmt.Errorf("request size %d exceeds the %d logical sectors",
			length, g.SectorCount)
	}

	return &Generator{
		pattern: pattern,
		sectors: g.SectorCount,
		length:  length,
		rng:     rand.New(rand.NewSource(seed)),
	}, nil
}

// Next returns the next request. Requests never cross the end of the
// logical space.
func (g *Generator) Next() Op {
	switch g.pattern {
	case Sequential:
		return g.sequential()
	case Random:
		return Op{Kind: KindWrite, Sector: g.randomStart(g.sectors), Length: g.length}
	case Mixed:
		return g.mixed()
	default:
		return g.overwrite()
	}
}

func (g *Generator) sequential() Op {
	if g.cursor+g.length > g.sectors {
		g.cursor = 0
	}

	op := Op{Kind: KindWrite, Sector: g.cursor, Length: g.length}
	g.cursor += g.length

	return op
}

func (g *Generator) mixed() Op {
	op := Op{Sector: g.randomStart(g.sectors), Length: g.length}

	switch p := g.rng.Intn(100); {
	case p < mixedReadPercent:
		op.Kind = KindRead
	case p < mixedReadPercent+mixedWritePercent:
		op.Kind = KindWrite
	default:
		op.Kind = KindTrim
	}

	return op
}

func (g *Generator) overwrite() Op {
	region := g.sectors * hotRegionPercent / 100
	if region < g.length || g.rng.Intn(100) >= hotWritePercent {
		region = g.sectors
	}

	return Op{Kind: KindWrite, Sector: g.randomStart(region), Length: g.length}
}

// randomStart picks a start so the request fits in the first n sectors.
func (g *Generator) randomStart(n int) int {
	return g.rng.Intn(n - g.length + 1)
}
