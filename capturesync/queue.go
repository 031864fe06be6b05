package capturesync

import (
	"sync"

	"go.viam.com/rgbdsync/capture"
)

// DefaultQueueSize is how many emitted captures wait for a consumer before the oldest is dropped.
const DefaultQueueSize = 4

// captureQueue is a bounded FIFO of emitted captures that drops its oldest entry on overflow.
// Waiters block on the channel returned by next, which is closed and replaced on every push.
// Only captures of the current run are accepted; run 0 accepts nothing.
type captureQueue struct {
	mu     sync.Mutex
	size   int
	run    uint64
	items  []*capture.Capture
	notify chan struct{}
}

func newCaptureQueue(size int) *captureQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &captureQueue{size: size, notify: make(chan struct{})}
}

// push appends c, emitted by run, and returns the capture it displaced, if any. It reports false
// and keeps nothing when run is not the current run. The caller releases what is handed back.
func (q *captureQueue) push(run uint64, c *capture.Capture) (*capture.Capture, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if run == 0 || run != q.run {
		return nil, false
	}
	var overflow *capture.Capture
	if len(q.items) >= q.size {
		overflow = q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
	}
	q.items = append(q.items, c)
	close(q.notify)
	q.notify = make(chan struct{})
	return overflow, true
}

// next pops the oldest capture, or returns the channel to wait on when the queue is empty.
func (q *captureQueue) next() (*capture.Capture, <-chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, q.notify
	}
	c := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return c, nil
}

// reset makes run the current run and empties the queue, handing back what it held.
func (q *captureQueue) reset(run uint64) []*capture.Capture {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.run = run
	items := q.items
	q.items = nil
	return items
}
