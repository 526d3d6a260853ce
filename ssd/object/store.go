// Package object is the object addressed front end of the simulated SSD. An
// object is a chain of pages, each taken from the same pools as the sector
// front end. The store also moves its pages on behalf of GC.
package object

import (
	"fmt"

	"github.com/sarchlab/ssdsim/internal/logging"
	"github.com/sarchlab/ssdsim/ssd/ftl"
	"github.com/sarchlab/ssdsim/ssd/mapping"
	"github.com/sarchlab/ssdsim/ssd/nand"
)

// ID locates an object.
type ID struct {
	Partition uint32
	Object    uint64
}

func (id ID) String() string {
	return fmt.Sprintf("%d/%d", id.Partition, id.Object)
}

type owner struct {
	id    ID
	index int
}

// Store keeps the page chains of the objects. It is single threaded, like
// the engine it sits on.
type Store struct {
	engine   *ftl.Engine
	fallback ftl.AddressStrategy
	log      *logging.Logger

	objects map[ID][]mapping.PPN
	owners  map[mapping.PPN]owner
}

// New creates a store and installs it as the engine's address strategy.
// Pages that the store does not own are moved by the strategy it replaces.
func New(e *ftl.Engine) *Store {
	s := &Store{
		engine:  e,
		log:     e.Logger().WithComponent("object"),
		objects: make(map[ID][]mapping.PPN),
		owners:  make(map[mapping.PPN]owner),
	}
	s.fallback = e.SetStrategy(s)

	return s
}

// Size returns the number of pages of an object, including holes.
func (s *Store) Size(id ID) int {
	return len(s.objects[id])
}

// Objects returns the number of objects with at least one page.
func (s *Store) Objects() int {
	return len(s.objects)
}

// Pages returns the physical page chain of an object. Holes are NoPPN.
func (s *Store) Pages(id ID) []mapping.PPN {
	return append([]mapping.PPN(nil), s.objects[id]...)
}

// Owner tells which object page lives at a physical page.
func (s *Store) Owner(ppn mapping.PPN) (ID, int, bool) {
	o, ok := s.owners[ppn]
	return o.id, o.index, ok
}

type pageRange struct {
	first, last int
	partialHead bool
	partialTail bool
}

func (s *Store) split(op string, offset, length int64) (pageRange, error) {
	if offset < 0 || length <= 0 {
		return pageRange{}, ftl.NewError(op, ftl.CodeInvalidAddress, fmt.Sprintf(
			"byte range [%d, %d) is empty or negative", offset, offset+length))
	}

	size := int64(s.engine.Geometry().PageSize)
	end := offset + length

	return pageRange{
		first:       int(offset / size),
		last:        int((end - 1) / size),
		partialHead: offset%size != 0,
		partialTail: end%size != 0,
	}, nil
}

func (r pageRange) partial(i int) bool {
	return (i == r.first && r.partialHead) || (i == r.last && r.partialTail)
}

// Write writes length bytes at offset into an object. A page that the range
// only partly covers is read first if it holds data. GC may run after the
// data is written.
func (s *Store) Write(id ID, offset, length int64) error {
	r, err := s.split("object write", offset, length)
	if err != nil {
		return err
	}

	kind := ftl.RandWrite
	if r.last-r.first+1 >= s.engine.Geometry().SeqWriteThresholdPages {
		kind = ftl.SeqWrite
	}

	seq := s.engine.Admit(nand.KindWrite, r.last-r.first+1)
	last := mapping.NoPPN

	for i := r.first; i <= r.last; i++ {
		chain := s.objects[id]
		prev := mapping.NoPPN
		if i < len(chain) {
			prev = chain[i]
		}

		if prev != mapping.NoPPN && r.partial(i) {
			s.engine.Counters().RMWReads.Add(1)
			if err := s.engine.ReadPage(0, prev); err != nil {
				s.engine.Finish(seq)
				return err
			}
		}

		ppn, err := s.engine.WriteOwnedPage(seq, prev, kind)
		if err != nil {
			s.engine.Finish(seq)
			s.log.Warn("object write ran out of space",
				"object", id.String(), "page", i)
			return s.collectAfterShortWrite(last, err)
		}

		if prev != mapping.NoPPN {
			delete(s.owners, prev)
		}
		for len(chain) <= i {
			chain = append(chain, mapping.NoPPN)
		}
		chain[i] = ppn
		s.objects[id] = chain
		s.owners[ppn] = owner{id: id, index: i}
		last = ppn
	}

	s.engine.Counters().HostWrites.Add(1)

	return s.engine.CollectAfterWrite(last)
}

// collectAfterShortWrite runs the GC check for the pages a write placed
// before it ran out of space and returns the write error, unless GC latched
// the engine.
func (s *Store) collectAfterShortWrite(last mapping.PPN, writeErr error) error {
	if last == mapping.NoPPN {
		return writeErr
	}

	if err := s.engine.CollectAfterWrite(last); ftl.IsCode(err, ftl.CodeInconsistentState) {
		return err
	}

	return writeErr
}

// Read reads length bytes at offset of an object. Holes and pages past the
// end of the object are not read from the flash.
func (s *Store) Read(id ID, offset, length int64) error {
	r, err := s.split("object read", offset, length)
	if err != nil {
		return err
	}

	chain := s.objects[id]

	var ppns []mapping.PPN
	for i := r.first; i <= r.last && i < len(chain); i++ {
		if chain[i] != mapping.NoPPN {
			ppns = append(ppns, chain[i])
		}
	}

	s.engine.Counters().HostReads.Add(1)

	seq := s.engine.Admit(nand.KindRead, len(ppns))
	for _, ppn := range ppns {
		if err := s.engine.ReadPage(seq, ppn); err != nil {
			s.engine.Finish(seq)
			return err
		}
	}

	return nil
}

// Delete drops the pages of an object that the range fully covers. Deleting
// every page forgets the object.
func (s *Store) Delete(id ID, offset, length int64) error {
	r, err := s.split("object delete", offset, length)
	if err != nil {
		return err
	}

	chain, ok := s.objects[id]
	if !ok {
		return nil
	}

	s.engine.Counters().HostTrims.Add(1)

	for i := r.first; i <= r.last && i < len(chain); i++ {
		if chain[i] == mapping.NoPPN || r.partial(i) {
			continue
		}

		if err := s.engine.InvalidatePage(chain[i]); err != nil {
			return err
		}

		delete(s.owners, chain[i])
		chain[i] = mapping.NoPPN
	}

	for len(chain) > 0 && chain[len(chain)-1] == mapping.NoPPN {
		chain = chain[:len(chain)-1]
	}

	if len(chain) == 0 {
		delete(s.objects, id)
	} else {
		s.objects[id] = chain
	}

	return nil
}

// Copyback moves an object page inside the device. Pages of the sector
// front end go to the previous strategy.
func (s *Store) Copyback(src, dst mapping.PPN) error {
	if _, ok := s.owners[src]; !ok {
		return s.fallback.Copyback(src, dst)
	}

	if err := s.engine.CopybackPage(src, dst); err != nil {
		return err
	}

	return s.move(src, dst)
}

// Remap moves the ownership of a page that has been copied by other means.
func (s *Store) Remap(src, dst mapping.PPN) error {
	if _, ok := s.owners[src]; !ok {
		return s.fallback.Remap(src, dst)
	}

	return s.move(src, dst)
}

func (s *Store) move(src, dst mapping.PPN) error {
	o := s.owners[src]

	if err := s.engine.MarkMigrated(src, dst); err != nil {
		return err
	}

	delete(s.owners, src)
	s.owners[dst] = o
	s.objects[o.id][o.index] = dst

	s.log.Debug("object page migrated", "object", o.id.String(),
		"page", o.index, "src", uint32(src), "dst", uint32(dst))

	return nil
}
