package ftl

import "github.com/sarchlab/ssdsim/ssd/nand"

// Summary is the aggregate statistics record the monitor polls.
type Summary struct {
	Name                string  `json:"name"`
	SimTimeUs           int64   `json:"sim_time_us"`
	ReadCount           uint64  `json:"read_count"`
	WriteCount          uint64  `json:"write_count"`
	ReadPages           uint64  `json:"read_pages"`
	WritePages          uint64  `json:"write_pages"`
	ReadSpeedMBps       float64 `json:"read_speed_mbps"`
	WriteSpeedMBps      float64 `json:"write_speed_mbps"`
	GCCount             uint64  `json:"gc_count"`
	WriteAmplification  float64 `json:"write_amplification"`
	Utilization         float64 `json:"utilization"`
	AvgReadLatencyUs    float64 `json:"avg_read_latency_us"`
	AvgWriteLatencyUs   float64 `json:"avg_write_latency_us"`
	AvgGCReadLatencyUs  float64 `json:"avg_gc_read_latency_us"`
	AvgGCWriteLatencyUs float64 `json:"avg_gc_write_latency_us"`
	EmptyBlocks         int     `json:"empty_blocks"`
	VictimBlocks        int     `json:"victim_blocks"`
	FreePages           int     `json:"free_pages"`
	Failed              string  `json:"failed,omitempty"`

	Counters CountersSnapshot `json:"counters"`
}

// Report gathers the aggregate statistics. It may be called from any
// goroutine.
func (e *Engine) Report() Summary {
	stats := e.nand.Stats()
	c := e.counters.Snapshot()

	r := Summary{
		Name:                e.Name(),
		SimTimeUs:           int64(e.nand.Now()),
		ReadCount:           c.HostReads,
		WriteCount:          c.HostWrites,
		ReadPages:           stats.Pages(nand.KindRead),
		WritePages:          stats.Pages(nand.KindWrite),
		ReadSpeedMBps:       stats.Speed(nand.KindRead),
		WriteSpeedMBps:      stats.Speed(nand.KindWrite),
		GCCount:             c.GCRuns,
		WriteAmplification:  c.WriteAmplification(),
		Utilization:         stats.Utilization(),
		AvgReadLatencyUs:    stats.AverageLatency(nand.KindRead),
		AvgWriteLatencyUs:   stats.AverageLatency(nand.KindWrite),
		AvgGCReadLatencyUs:  stats.AverageLatency(nand.KindGCRead),
		AvgGCWriteLatencyUs: stats.AverageLatency(nand.KindGCWrite),
		EmptyBlocks:         e.pools.EmptyBlockCount(),
		VictimBlocks:        e.pools.VictimBlockCount(),
		FreePages:           e.pools.FreePageCount(),
		Counters:            c,
	}

	if err := e.Failed(); err != nil {
		r.Failed = err.Error()
	}

	return r
}
