package ftl

import "sync/atomic"

// Counters are the FTL level statistics. The engine is the only writer;
// monitors read them concurrently.
type Counters struct {
	LogicalPageWrites  atomic.Uint64 // Pages written on behalf of the host
	PhysicalPageWrites atomic.Uint64 // Pages programmed, plus one per erase

	HostReads  atomic.Uint64 // Read requests
	HostWrites atomic.Uint64 // Write requests
	HostTrims  atomic.Uint64 // Trim requests
	RMWReads   atomic.Uint64 // Reads done to merge a partial page write

	GCRuns               atomic.Uint64 // Victims collected
	GCFailures           atomic.Uint64 // Collections that gave up
	GCFullVictimFailures atomic.Uint64 // Collections that found only full victims
	GCEmergencies        atomic.Uint64 // Collections run below the L2 threshold
	GCCopybacks          atomic.Uint64 // Pages moved by copyback
	GCMigrations         atomic.Uint64 // Pages moved by read and write
}

// CountersSnapshot is a point-in-time copy of Counters.
type CountersSnapshot struct {
	LogicalPageWrites    uint64 `json:"logical_page_writes"`
	PhysicalPageWrites   uint64 `json:"physical_page_writes"`
	HostReads            uint64 `json:"host_reads"`
	HostWrites           uint64 `json:"host_writes"`
	HostTrims            uint64 `json:"host_trims"`
	RMWReads             uint64 `json:"rmw_reads"`
	GCRuns               uint64 `json:"gc_runs"`
	GCFailures           uint64 `json:"gc_failures"`
	GCFullVictimFailures uint64 `json:"gc_full_victim_failures"`
	GCEmergencies        uint64 `json:"gc_emergencies"`
	GCCopybacks          uint64 `json:"gc_copybacks"`
	GCMigrations         uint64 `json:"gc_migrations"`
}

// Snapshot copies the counters.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		LogicalPageWrites:    c.LogicalPageWrites.Load(),
		PhysicalPageWrites:   c.PhysicalPageWrites.Load(),
		HostReads:            c.HostReads.Load(),
		HostWrites:           c.HostWrites.Load(),
		HostTrims:            c.HostTrims.Load(),
		RMWReads:             c.RMWReads.Load(),
		GCRuns:               c.GCRuns.Load(),
		GCFailures:           c.GCFailures.Load(),
		GCFullVictimFailures: c.GCFullVictimFailures.Load(),
		GCEmergencies:        c.GCEmergencies.Load(),
		GCCopybacks:          c.GCCopybacks.Load(),
		GCMigrations:         c.GCMigrations.Load(),
	}
}

func (c *Counters) restore(s CountersSnapshot) {
	c.LogicalPageWrites.Store(s.LogicalPageWrites)
	c.PhysicalPageWrites.Store(s.PhysicalPageWrites)
	c.HostReads.Store(s.HostReads)
	c.HostWrites.Store(s.HostWrites)
	c.HostTrims.Store(s.HostTrims)
	c.RMWReads.Store(s.RMWReads)
	c.GCRuns.Store(s.GCRuns)
	c.GCFailures.Store(s.GCFailures)
	c.GCFullVictimFailures.Store(s.GCFullVictimFailures)
	c.GCEmergencies.Store(s.GCEmergencies)
	c.GCCopybacks.Store(s.GCCopybacks)
	c.GCMigrations.Store(s.GCMigrations)
}

// WriteAmplification returns physical over logical page writes, 0 before
// the first write.
func (s CountersSnapshot) WriteAmplification() float64 {
	if s.LogicalPageWrites == 0 {
		return 0
	}

	return float64(s.PhysicalPageWrites) / float64(s.LogicalPageWrites)
}
