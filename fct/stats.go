package fct

import (
	"sync/atomic"

	"github.com/buildbuddy-io/filecontenttable/internal/metrics"
)

// counters is the per-instance telemetry collection every Table keeps,
// mirrored into the package-level Prometheus metrics in internal/metrics
// so a single process running several Tables still gets fleet-wide
// counters, following the corpus's habit of keeping both a local
// accounting struct (filecache.go's `entry` bookkeeping) and global
// `promauto` metrics in step.
type counters struct {
	numHit            atomic.Uint64
	numFileIDMismatch atomic.Uint64
	numUSNMismatch    atomic.Uint64
	numContentMismatch atomic.Uint64
	numEvicted        atomic.Uint64
	numUpdatedByScan  atomic.Uint64
	numRemovedByScan  atomic.Uint64
}

// Stats is a point-in-time snapshot of a Table's telemetry counters.
type Stats struct {
	NumEntries        int
	NumHit            uint64
	NumFileIDMismatch uint64
	NumUSNMismatch    uint64
	NumContentMismatch uint64
	NumEvicted        uint64
	NumUpdatedByScan  uint64
	NumRemovedByScan  uint64
}

func (c *counters) hit() {
	c.numHit.Add(1)
	metrics.ProbeCount.WithLabelValues("hit").Inc()
}

func (c *counters) fileIDMismatch() {
	c.numFileIDMismatch.Add(1)
	metrics.ProbeCount.WithLabelValues("miss").Inc()
	metrics.FileIDMismatchCount.Inc()
}

func (c *counters) usnMismatch() {
	c.numUSNMismatch.Add(1)
	metrics.USNMismatchCount.Inc()
}

func (c *counters) contentMismatch() {
	c.numContentMismatch.Add(1)
	metrics.ContentMismatchCount.Inc()
}

func (c *counters) evicted(n uint64) {
	if n == 0 {
		return
	}
	c.numEvicted.Add(n)
	metrics.RemovedCount.WithLabelValues("evicted").Add(float64(n))
}

func (c *counters) updatedByScan() {
	c.numUpdatedByScan.Add(1)
	metrics.UpdatedByScanCount.Inc()
}

func (c *counters) removedByScan() {
	c.numRemovedByScan.Add(1)
	metrics.RemovedCount.WithLabelValues("removed_by_scan").Inc()
}

func (c *counters) snapshot(numEntries int) Stats {
	return Stats{
		NumEntries:        numEntries,
		NumHit:            c.numHit.Load(),
		NumFileIDMismatch: c.numFileIDMismatch.Load(),
		NumUSNMismatch:    c.numUSNMismatch.Load(),
		NumContentMismatch: c.numContentMismatch.Load(),
		NumEvicted:        c.numEvicted.Load(),
		NumUpdatedByScan:  c.numUpdatedByScan.Load(),
		NumRemovedByScan:  c.numRemovedByScan.Load(),
	}
}
