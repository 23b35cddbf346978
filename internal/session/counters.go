package session

import (
	"sync/atomic"
	"time"
)

// elapsedSmoothing is the weight of the newest sample in the moving average.
const elapsedSmoothing = 0.2

// Counters are written by the scan loop only and read through Stats.
type Counters struct {
	written    atomic.Uint64
	read       atomic.Uint64
	errored    atomic.Uint64
	skipped    atomic.Uint64
	traces     atomic.Uint64
	discarded  atomic.Uint64
	minElapsed atomic.Int64
	maxElapsed atomic.Int64
	avgElapsed atomic.Int64

	frameDesyncs   atomic.Uint64
	frameDiscarded atomic.Uint64
}

// Stats is a point-in-time copy of the session counters.
type Stats struct {
	Written         uint64
	Read            uint64
	Errored         uint64
	Skipped         uint64
	Traces          uint64
	Discarded       uint64
	MinElapsed      time.Duration
	MaxElapsed      time.Duration
	AvgElapsed      time.Duration
	PendingPoints   int
	FrameDesyncs    uint64
	FrameDiscarded  uint64
	DetachedClients uint64
}

func (c *Counters) observeElapsed(d time.Duration) {
	n := int64(d)
	if cur := c.minElapsed.Load(); cur == 0 || n < cur {
		c.minElapsed.Store(n)
	}
	if n > c.maxElapsed.Load() {
		c.maxElapsed.Store(n)
	}
	avg := c.avgElapsed.Load()
	if avg == 0 {
		c.avgElapsed.Store(n)
		return
	}
	c.avgElapsed.Store(avg + int64(elapsedSmoothing*float64(n-avg)))
}

func (c *Counters) snapshot() Stats {
	return Stats{
		Written:    c.written.Load(),
		Read:       c.read.Load(),
		Errored:    c.errored.Load(),
		Skipped:    c.skipped.Load(),
		Traces:     c.traces.Load(),
		Discarded:  c.discarded.Load(),
		MinElapsed: time.Duration(c.minElapsed.Load()),
		MaxElapsed: time.Duration(c.maxElapsed.Load()),
		AvgElapsed: time.Duration(c.avgElapsed.Load()),

		FrameDesyncs:   c.frameDesyncs.Load(),
		FrameDiscarded: c.frameDiscarded.Load(),
	}
}
