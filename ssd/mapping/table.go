package mapping

import "fmt"

// Table is the forward mapping table, one entry per logical page.
type Table struct {
	entries []PPN
	mapped  int
}

// NewTable creates a table where every LPN is unmapped.
func NewTable(n int) *Table {
	t := &Table{entries: make([]PPN, n)}
	for i := range t.entries {
		t.entries[i] = NoPPN
	}

	return t
}

// Len returns the number of logical pages.
func (t *Table) Len() int {
	return len(t.entries)
}

// Mapped returns how many LPNs are currently mapped.
func (t *Table) Mapped() int {
	return t.mapped
}

// Get returns the PPN of an LPN and whether it is mapped.
func (t *Table) Get(lpn LPN) (PPN, bool) {
	ppn := t.entries[lpn]
	return ppn, ppn != NoPPN
}

// Set binds an LPN to a PPN. Setting NoPPN unmaps it.
func (t *Table) Set(lpn LPN, ppn PPN) {
	old := t.entries[lpn]
	switch {
	case old == NoPPN && ppn != NoPPN:
		t.mapped++
	case old != NoPPN && ppn == NoPPN:
		t.mapped--
	}

	t.entries[lpn] = ppn
}

// Entries exposes the raw table for dumping.
func (t *Table) Entries() []PPN {
	return t.entries
}

// Restore replaces the entries with a dump. Every entry must be NoPPN or a
// page number below pages. The table is left untouched on error.
func (t *Table) Restore(entries []PPN, pages int) error {
	if len(entries) != len(t.entries) {
		return fmt.Errorf("forward dump holds %d entries, want %d",
			len(entries), len(t.entries))
	}

	mapped := 0
	for lpn, e := range entries {
		if e == NoPPN {
			continue
		}

		if int64(e) >= int64(pages) {
			return fmt.Errorf("lpn %d maps to ppn %d, device has %d pages",
				lpn, e, pages)
		}
		mapped++
	}

	t.entries = entries
	t.mapped = mapped

	return nil
}
