package wormhole

import (
	"sync/atomic"
	"time"
)

// StatsCollector collects operation counters for an index.
type StatsCollector struct {
	// Operation counts
	gets     uint64
	probes   uint64
	sets     uint64
	deletes  uint64
	inplaces uint64
	seeks    uint64

	// Failures
	allocFailures uint64
	rejectedKeys  uint64

	// Structure changes
	splits uint64
	merges uint64
	hops   uint64 // sibling-chain corrections after a trie jump
	grows  uint64 // anchor-table resizes

	startTime time.Time
}

// NewStatsCollector creates a new statistics collector.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{startTime: time.Now()}
}

func (sc *StatsCollector) RecordGet()          { atomic.AddUint64(&sc.gets, 1) }
func (sc *StatsCollector) RecordProbe()        { atomic.AddUint64(&sc.probes, 1) }
func (sc *StatsCollector) RecordSet()          { atomic.AddUint64(&sc.sets, 1) }
func (sc *StatsCollector) RecordDelete()       { atomic.AddUint64(&sc.deletes, 1) }
func (sc *StatsCollector) RecordInplace()      { atomic.AddUint64(&sc.inplaces, 1) }
func (sc *StatsCollector) RecordSeek()         { atomic.AddUint64(&sc.seeks, 1) }
func (sc *StatsCollector) RecordAllocFailure() { atomic.AddUint64(&sc.allocFailures, 1) }
func (sc *StatsCollector) RecordRejectedKey()  { atomic.AddUint64(&sc.rejectedKeys, 1) }
func (sc *StatsCollector) RecordSplit()        { atomic.AddUint64(&sc.splits, 1) }
func (sc *StatsCollector) RecordMerge()        { atomic.AddUint64(&sc.merges, 1) }
func (sc *StatsCollector) RecordGrow()         { atomic.AddUint64(&sc.grows, 1) }

// RecordHops records sibling-chain steps taken to correct a trie jump.
func (sc *StatsCollector) RecordHops(n int) {
	if n > 0 {
		atomic.AddUint64(&sc.hops, uint64(n))
	}
}

// Stats is a point-in-time view of index counters.
type Stats struct {
	Gets     uint64
	Probes   uint64
	Sets     uint64
	Deletes  uint64
	Inplaces uint64
	Seeks    uint64

	AllocFailures uint64
	RejectedKeys  uint64

	Splits    uint64
	Merges    uint64
	Hops      uint64
	TableGrow uint64

	// Leaves and Keys are the current structure size.
	Leaves int64
	Keys   int64

	// Retired and Reclaimed count deferred frees; Pending is their difference.
	Retired   uint64
	Reclaimed uint64
	Pending   int64

	// Epoch is the global reclamation epoch (0 in unsafe mode).
	Epoch uint64

	// OverallWritesPerSecond is the average write rate since creation.
	OverallWritesPerSecond float64
}

// snapshot fills the counter part of Stats.
func (sc *StatsCollector) snapshot() Stats {
	elapsed := time.Since(sc.startTime).Seconds()
	if elapsed < 1.0 {
		elapsed = 1.0
	}
	sets := atomic.LoadUint64(&sc.sets)
	dels := atomic.LoadUint64(&sc.deletes)
	return Stats{
		Gets:                   atomic.LoadUint64(&sc.gets),
		Probes:                 atomic.LoadUint64(&sc.probes),
		Sets:                   sets,
		Deletes:                dels,
		Inplaces:               atomic.LoadUint64(&sc.inplaces),
		Seeks:                  atomic.LoadUint64(&sc.seeks),
		AllocFailures:          atomic.LoadUint64(&sc.allocFailures),
		RejectedKeys:           atomic.LoadUint64(&sc.rejectedKeys),
		Splits:                 atomic.LoadUint64(&sc.splits),
		Merges:                 atomic.LoadUint64(&sc.merges),
		Hops:                   atomic.LoadUint64(&sc.hops),
		TableGrow:              atomic.LoadUint64(&sc.grows),
		OverallWritesPerSecond: float64(sets+dels) / elapsed,
	}
}
