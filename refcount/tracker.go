package refcount

import (
	"sort"
	"sync"
)

// Tracker counts live objects per kind. Tests use it to assert nothing leaked; the synchronizer
// reports it in its stats.
type Tracker struct {
	mu   sync.Mutex
	live map[string]int64
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{live: map[string]int64{}}
}

// DefaultTracker records every image and capture created by this module.
var DefaultTracker = NewTracker()

// Track returns a Counter for a new object of the given kind. The kind's live count goes up now
// and back down when the counter's destructor runs.
func (t *Tracker) Track(kind string, destroy func()) *Counter {
	t.mu.Lock()
	t.live[kind]++
	t.mu.Unlock()
	return New(func() {
		if destroy != nil {
			destroy()
		}
		t.mu.Lock()
		t.live[kind]--
		t.mu.Unlock()
	})
}

// Live returns the number of live objects of a kind.
func (t *Tracker) Live(kind string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live[kind]
}

// Snapshot returns every kind with a non-zero live count.
func (t *Tracker) Snapshot() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int64, len(t.live))
	for k, v := range t.live {
		if v != 0 {
			out[k] = v
		}
	}
	return out
}

// Kinds returns the tracked kinds in sorted order.
func (t *Tracker) Kinds() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	kinds := make([]string, 0, len(t.live))
	for k := range t.live {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
