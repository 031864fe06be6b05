package capturesync

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"go.uber.org/atomic"
)

const latencyWindow = 256

// Stats is a point in time snapshot of a synchronizer's counters.
type Stats struct {
	FramesReceived  uint64
	FramesDropped   uint64
	FramesIgnored   uint64
	CapturesEmitted uint64
	CapturesPartial uint64
	RoundsAbandoned uint64
	QueueOverflows  uint64
	// CapturesDiscarded counts captures completed by a run after the synchronizer was restarted
	// or closed.
	CapturesDiscarded uint64
	Callbacks         uint64
	AlignFailures     uint64

	// Assembly latency is the time from the first frame of a capture arriving to its emission,
	// over the most recent captures.
	LatencyMean time.Duration
	LatencyP50  time.Duration
	LatencyP99  time.Duration
}

type counters struct {
	framesReceived    atomic.Uint64
	framesDropped     atomic.Uint64
	framesIgnored     atomic.Uint64
	capturesEmitted   atomic.Uint64
	capturesPartial   atomic.Uint64
	roundsAbandoned   atomic.Uint64
	queueOverflows    atomic.Uint64
	capturesDiscarded atomic.Uint64
	callbacks         atomic.Uint64
	alignFailures     atomic.Uint64

	mu        sync.Mutex
	latencies []float64
	next      int
}

func (c *counters) record(out outcome) {
	c.capturesEmitted.Add(uint64(len(out.captures)))
	c.capturesPartial.Add(uint64(out.partial))
	c.framesDropped.Add(uint64(out.dropped))
	c.roundsAbandoned.Add(uint64(out.abandoned))
	if len(out.latencies) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range out.latencies {
		ms := float64(l) / float64(time.Millisecond)
		if len(c.latencies) < latencyWindow {
			c.latencies = append(c.latencies, ms)
			continue
		}
		c.latencies[c.next] = ms
		c.next = (c.next + 1) % latencyWindow
	}
}

func (c *counters) snapshot() Stats {
	s := Stats{
		FramesReceived:    c.framesReceived.Load(),
		FramesDropped:     c.framesDropped.Load(),
		FramesIgnored:     c.framesIgnored.Load(),
		CapturesEmitted:   c.capturesEmitted.Load(),
		CapturesPartial:   c.capturesPartial.Load(),
		RoundsAbandoned:   c.roundsAbandoned.Load(),
		QueueOverflows:    c.queueOverflows.Load(),
		CapturesDiscarded: c.capturesDiscarded.Load(),
		Callbacks:         c.callbacks.Load(),
		AlignFailures:     c.alignFailures.Load(),
	}
	c.mu.Lock()
	data := stats.Float64Data(append([]float64(nil), c.latencies...))
	c.mu.Unlock()
	if len(data) == 0 {
		return s
	}
	toDuration := func(ms float64) time.Duration {
		return time.Duration(ms * float64(time.Millisecond))
	}
	if mean, err := data.Mean(); err == nil {
		s.LatencyMean = toDuration(mean)
	}
	if p50, err := data.Percentile(50); err == nil {
		s.LatencyP50 = toDuration(p50)
	}
	if p99, err := data.Percentile(99); err == nil {
		s.LatencyP99 = toDuration(p99)
	}
	return s
}
