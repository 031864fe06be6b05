package capturesync

import (
	"time"

	"go.viam.com/rgbdsync/camera"
	"go.viam.com/rgbdsync/capture"
	"go.viam.com/rgbdsync/config"
)

// pendingFrame is a slot's frame waiting for its companions. The slot owns one reference on img.
type pendingFrame struct {
	img     *capture.Image
	arrived time.Time
}

// outcome is what a matcher step produced. The caller owns every capture in captures.
type outcome struct {
	captures  []*capture.Capture
	latencies []time.Duration
	partial   int
	dropped   int
	abandoned int
}

func (o *outcome) merge(other outcome) {
	o.captures = append(o.captures, other.captures...)
	o.latencies = append(o.latencies, other.latencies...)
	o.partial += other.partial
	o.dropped += other.dropped
	o.abandoned += other.abandoned
}

// matcher is the per slot state machine turning frame arrivals into captures. It is not safe for
// concurrent use; the synchronizer serializes every call under its lock.
type matcher struct {
	mode      config.SyncMode
	policy    config.CapturePolicy
	enabled   [camera.NumSlots]bool
	tolerance int64
	staleness time.Duration
	pending   [camera.NumSlots]*pendingFrame
}

func newMatcher(cfg *config.CamerasConfig, staleness time.Duration) *matcher {
	m := &matcher{}
	m.reconfigure(cfg, staleness)
	return m
}

// reconfigure applies a new config, returning what disabling slots released.
func (m *matcher) reconfigure(cfg *config.CamerasConfig, staleness time.Duration) outcome {
	var out outcome
	m.mode = cfg.SyncMode
	m.policy = cfg.CapturePolicy
	for _, t := range camera.Types {
		slot := t.Slot()
		m.enabled[slot] = cfg.Enabled(t)
		if !m.enabled[slot] && m.pending[slot] != nil {
			m.drop(slot, &out)
		}
	}
	_, fastest := cfg.FrameRateRange()
	m.tolerance = 0
	if fastest > 0 {
		m.tolerance = int64(time.Second/time.Microsecond) / int64(fastest)
	}
	m.staleness = staleness
	return out
}

func (m *matcher) enabledCount() int {
	n := 0
	for _, e := range m.enabled {
		if e {
			n++
		}
	}
	return n
}

func (m *matcher) complete() bool {
	for slot, e := range m.enabled {
		if e && m.pending[slot] == nil {
			return false
		}
	}
	return true
}

func (m *matcher) pendingSlots() []int {
	var slots []int
	for slot, p := range m.pending {
		if p != nil {
			slots = append(slots, slot)
		}
	}
	return slots
}

func (m *matcher) drop(slot int, out *outcome) {
	//nolint:errcheck
	m.pending[slot].img.Release()
	m.pending[slot] = nil
	out.dropped++
}

// emit moves the frames of slots into a new capture.
func (m *matcher) emit(slots []int, now time.Time, out *outcome) {
	if len(slots) == 0 {
		return
	}
	c := capture.New()
	first := now
	for _, slot := range slots {
		p := m.pending[slot]
		m.pending[slot] = nil
		if p.arrived.Before(first) {
			first = p.arrived
		}
		//nolint:errcheck
		c.SetImage(camera.Types[slot], p.img)
		//nolint:errcheck
		p.img.Release()
	}
	if len(slots) < m.enabledCount() {
		out.partial++
	}
	out.captures = append(out.captures, c)
	out.latencies = append(out.latencies, now.Sub(first))
}

// abandon ends a waiting round, keeping what the capture policy keeps.
func (m *matcher) abandon(now time.Time, out *outcome) {
	slots := m.pendingSlots()
	if len(slots) == 0 {
		return
	}
	out.abandoned++
	switch m.policy {
	case config.KeepAllImages:
		m.emit(slots, now, out)
	case config.KeepColorImage:
		if m.pending[camera.Color.Slot()] != nil {
			m.emit(slots, now, out)
			return
		}
		fallthrough
	case config.SyncImagesOnly:
		for _, slot := range slots {
			m.drop(slot, out)
		}
	}
}

// companions returns the pending slots other than slot whose device timestamp lies within the
// tolerance of slot's.
func (m *matcher) companions(slot int) []int {
	ts := m.pending[slot].img.DeviceTimestamp()
	var out []int
	for _, other := range m.pendingSlots() {
		if other == slot {
			continue
		}
		diff := camera.DeviceTimestampDiff(m.pending[other].img.DeviceTimestamp(), ts)
		if diff < 0 {
			diff = -diff
		}
		if diff <= m.tolerance {
			out = append(out, other)
		}
	}
	return out
}

// evict removes one frame that will never be matched, keeping what the capture policy keeps.
func (m *matcher) evict(slot int, now time.Time, out *outcome) {
	keep := m.policy == config.KeepAllImages ||
		(m.policy == config.KeepColorImage && slot == camera.Color.Slot())
	if !keep {
		m.drop(slot, out)
		return
	}
	m.emit(append([]int{slot}, m.companions(slot)...), now, out)
}

func (m *matcher) staleUsec() int64 {
	return int64(m.staleness / time.Microsecond)
}

// arrive hands a new frame to its slot. The matcher takes over the caller's reference on img.
func (m *matcher) arrive(t camera.Type, img *capture.Image, now time.Time) outcome {
	var out outcome
	slot := t.Slot()
	if slot < 0 || !m.enabled[slot] {
		//nolint:errcheck
		img.Release()
		out.dropped++
		return out
	}
	switch m.mode {
	case config.DeviceTimestampMatch:
		m.arriveMatch(slot, img, now, &out)
	case config.WaitLaterComer:
		fallthrough
	default:
		m.arriveLaterComer(slot, img, now, &out)
	}
	return out
}

func (m *matcher) arriveLaterComer(slot int, img *capture.Image, now time.Time, out *outcome) {
	ts := img.DeviceTimestamp()
	for _, other := range m.pendingSlots() {
		if other == slot {
			continue
		}
		if camera.DeviceTimestampDiff(ts, m.pending[other].img.DeviceTimestamp()) > m.staleUsec() {
			m.abandon(now, out)
			break
		}
	}
	if m.pending[slot] != nil {
		overwriteAbandons := m.policy == config.KeepAllImages ||
			(m.policy == config.KeepColorImage && slot == camera.Color.Slot())
		if overwriteAbandons {
			m.abandon(now, out)
		} else {
			m.drop(slot, out)
		}
	}
	m.pending[slot] = &pendingFrame{img: img, arrived: now}
	if m.complete() {
		m.emit(m.pendingSlots(), now, out)
	}
}

func (m *matcher) arriveMatch(slot int, img *capture.Image, now time.Time, out *outcome) {
	if m.pending[slot] != nil {
		m.evict(slot, now, out)
	}
	m.pending[slot] = &pendingFrame{img: img, arrived: now}

	ts := img.DeviceTimestamp()
	for _, other := range m.pendingSlots() {
		if m.pending[other] == nil {
			continue
		}
		if camera.DeviceTimestampDiff(ts, m.pending[other].img.DeviceTimestamp()) > m.staleUsec() {
			m.evict(other, now, out)
		}
	}

	for m.complete() {
		oldest, spread := m.spread()
		if spread <= m.tolerance {
			m.emit(m.pendingSlots(), now, out)
			return
		}
		m.evict(oldest, now, out)
	}
}

// spread returns the slot with the oldest device timestamp and the distance from it to the
// newest, over every pending frame.
func (m *matcher) spread() (int, int64) {
	slots := m.pendingSlots()
	if len(slots) == 0 {
		return -1, 0
	}
	ref := m.pending[slots[0]].img.DeviceTimestamp()
	oldest := slots[0]
	var low, high int64
	for _, slot := range slots[1:] {
		d := camera.DeviceTimestampDiff(m.pending[slot].img.DeviceTimestamp(), ref)
		if d < low {
			low = d
			oldest = slot
		}
		if d > high {
			high = d
		}
	}
	return oldest, high - low
}

// sweep applies the staleness window on the host clock, so a stream that stops delivering
// entirely cannot hold its companions forever.
func (m *matcher) sweep(now time.Time) outcome {
	var out outcome
	if m.staleness <= 0 {
		return out
	}
	for _, slot := range m.pendingSlots() {
		p := m.pending[slot]
		if p == nil || now.Sub(p.arrived) <= m.staleness {
			continue
		}
		if m.mode == config.DeviceTimestampMatch {
			m.evict(slot, now, &out)
			continue
		}
		m.abandon(now, &out)
		break
	}
	return out
}

// reset releases every pending frame.
func (m *matcher) reset() int {
	n := 0
	for slot, p := range m.pending {
		if p != nil {
			//nolint:errcheck
			p.img.Release()
			m.pending[slot] = nil
			n++
		}
	}
	return n
}
