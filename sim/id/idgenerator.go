// Package id hands out identifiers for simulation runs and I/O requests.
package id

import (
	"sync/atomic"

	"github.com/rs/xid"
)

// A SeqGenerator hands out increasing sequence numbers, starting from 1.
type SeqGenerator interface {
	Next() uint64
	// Last returns the most recent sequence number handed out, 0 if none.
	Last() uint64
}

// NewSeqGenerator returns a generator that starts after start.
func NewSeqGenerator(start uint64) SeqGenerator {
	g := &sequentialGenerator{}
	g.last.Store(start)

	return g
}

type sequentialGenerator struct {
	last atomic.Uint64
}

func (g *sequentialGenerator) Next() uint64 {
	return g.last.Add(1)
}

func (g *sequentialGenerator) Last() uint64 {
	return g.last.Load()
}

// NewRunID returns a globally unique id for a simulation run. Recorders and
// state directories are named after it.
func NewRunID() string {
	return xid.New().String()
}
