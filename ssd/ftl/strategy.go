package ftl

import "github.com/sarchlab/ssdsim/ssd/mapping"

// An AddressStrategy moves pages on behalf of GC. The sector front end and
// the object front end each keep their own bookkeeping of who owns a page.
type AddressStrategy interface {
	// Copyback moves src to dst inside the device and updates the owner of
	// the page. It fails when the device cannot copy back between the two
	// pages; nothing is changed then.
	Copyback(src, dst mapping.PPN) error

	// Remap updates the owner of a page that has already been copied from
	// src to dst by other means.
	Remap(src, dst mapping.PPN) error
}

// sectorStrategy owns pages through the forward and inverse tables.
type sectorStrategy struct {
	engine *Engine
}

func (s sectorStrategy) Copyback(src, dst mapping.PPN) error {
	if err := s.engine.CopybackPage(src, dst); err != nil {
		return err
	}

	return s.engine.RemapOnMigration(src, dst)
}

func (s sectorStrategy) Remap(src, dst mapping.PPN) error {
	return s.engine.RemapOnMigration(src, dst)
}
