package imu

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"

	"go.viam.com/rgbdsync/camera"
	"go.viam.com/rgbdsync/config"
	"go.viam.com/rgbdsync/logging"
	"go.viam.com/rgbdsync/utils"
)

// DefaultBufferSize is how many readings per sensor are kept for the next composite.
const DefaultBufferSize = 256

// WaitInfinite makes Poll wait without bound.
const WaitInfinite time.Duration = -1

// Callback receives a pushed composite. The composite belongs to the callback.
type Callback func(*Composite)

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock sets the clock used by Poll timeouts.
func WithClock(clk clock.Clock) Option {
	return func(a *Aggregator) { a.clk = clk }
}

// WithBufferSize bounds the readings kept per sensor. The oldest reading is dropped on overflow.
func WithBufferSize(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.bufferSize = n
		}
	}
}

// Stats counts what the aggregator has seen.
type Stats struct {
	SamplesReceived uint64
	SamplesDropped  uint64
	SamplesIgnored  uint64
	Composites      uint64
}

// Aggregator collects IMU readings between polls. It is safe for concurrent use.
type Aggregator struct {
	caps       camera.Capabilities
	logger     logging.Logger
	clk        clock.Clock
	bufferSize int

	mu          sync.Mutex
	cfg         *config.ImuConfig
	running     bool
	closed      bool
	stopCh      chan struct{}
	pending     Composite
	notify      chan struct{}
	callbacks   map[int]Callback
	nextID      int
	subsChanged chan struct{}

	received   atomic.Uint64
	dropped    atomic.Uint64
	ignored    atomic.Uint64
	composites atomic.Uint64

	workers utils.StoppableWorkers
}

// NewAggregator returns a stopped aggregator for a device with the given capabilities.
func NewAggregator(caps camera.Capabilities, logger logging.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		caps:        caps,
		logger:      logger,
		clk:         clock.New(),
		bufferSize:  DefaultBufferSize,
		notify:      make(chan struct{}),
		callbacks:   map[int]Callback{},
		subsChanged: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.workers = utils.NewStoppableWorkersWithLogger(logger, a.dispatch)
	return a
}

// Configure validates cfg and makes it the config of the next Start.
func (a *Aggregator) Configure(cfg *config.ImuConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return camera.NewError(camera.ErrClosed, "configure imu", camera.Unknown, "")
	}
	if a.running {
		return camera.NewError(camera.ErrUnsupportedWhileRunning, "configure imu", camera.Unknown, "stop the imu first")
	}
	if err := cfg.Validate(a.caps); err != nil {
		return err
	}
	clone := *cfg
	a.cfg = &clone
	return nil
}

// Start begins accepting readings. Readings left from an earlier run are discarded.
func (a *Aggregator) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.closed:
		return camera.NewError(camera.ErrClosed, "start imu", camera.Unknown, "")
	case a.running:
		return camera.NewError(camera.ErrUnsupportedWhileRunning, "start imu", camera.Unknown, "already running")
	case a.cfg == nil:
		return camera.NewError(camera.ErrConfiguration, "start imu", camera.Unknown, "not configured")
	}
	a.pending = Composite{}
	a.stopCh = make(chan struct{})
	a.running = true
	a.logger.Infow("imu started", "accel", a.cfg.AccelEnabled, "gyro", a.cfg.GyroEnabled)
	return nil
}

// Stop ends the stream and wakes blocked Polls with ErrCancelled. Readings already collected can
// still be polled.
func (a *Aggregator) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return camera.NewError(camera.ErrNotRunning, "stop imu", camera.Unknown, "")
	}
	a.running = false
	close(a.stopCh)
	a.logger.Info("imu stopped")
	return nil
}

// Close stops the stream and the dispatcher.
func (a *Aggregator) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	if a.running {
		a.running = false
		close(a.stopCh)
	}
	a.closed = true
	a.mu.Unlock()
	a.workers.Stop()
	return nil
}

// OnSample accepts a reading from a driver.
func (a *Aggregator) OnSample(sensor camera.ImuSensorType, s Sample) {
	a.received.Inc()
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running || !a.cfg.Enabled(sensor) {
		a.ignored.Inc()
		return
	}
	var buf *[]Sample
	switch sensor {
	case camera.Accel:
		buf = &a.pending.Accel
	case camera.Gyro:
		buf = &a.pending.Gyro
	case camera.ImuUnknown:
		a.ignored.Inc()
		return
	}
	if len(*buf) >= a.bufferSize {
		*buf = (*buf)[1:]
		a.dropped.Inc()
	}
	*buf = append(*buf, s)
	close(a.notify)
	a.notify = make(chan struct{})
}

func (a *Aggregator) takeLocked() *Composite {
	if a.pending.Len() == 0 {
		return nil
	}
	c := a.pending
	a.pending = Composite{}
	a.composites.Inc()
	return &c
}

// Poll returns every reading collected since the previous Poll. A zero timeout checks without
// waiting and WaitInfinite waits without bound.
func (a *Aggregator) Poll(ctx context.Context, timeout time.Duration) (*Composite, error) {
	const op = "poll imu"
	var expired <-chan time.Time
	if timeout > 0 {
		timer := a.clk.Timer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	for {
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return nil, camera.NewError(camera.ErrClosed, op, camera.Unknown, "")
		}
		if len(a.callbacks) > 0 {
			a.mu.Unlock()
			return nil, camera.NewError(camera.ErrNotSupported, op, camera.Unknown, "samples are delivered to subscribers")
		}
		if c := a.takeLocked(); c != nil {
			a.mu.Unlock()
			return c, nil
		}
		running := a.running
		stopCh := a.stopCh
		wait := a.notify
		a.mu.Unlock()

		if !running {
			return nil, camera.NewError(camera.ErrNotRunning, op, camera.Unknown, "")
		}
		if timeout == 0 {
			return nil, camera.NewError(camera.ErrTimeout, op, camera.Unknown, "no sample ready")
		}
		select {
		case <-wait:
		case <-stopCh:
			return nil, camera.NewError(camera.ErrCancelled, op, camera.Unknown, "imu stopped")
		case <-expired:
			return nil, camera.NewError(camera.ErrTimeout, op, camera.Unknown, "no sample within "+timeout.String())
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Subscribe registers a callback that receives readings as they arrive, batched into composites.
func (a *Aggregator) Subscribe(cb Callback) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.callbacks[id] = cb
	a.subsChangedLocked()
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.callbacks, id)
		a.subsChangedLocked()
	}
}

func (a *Aggregator) subsChangedLocked() {
	close(a.subsChanged)
	a.subsChanged = make(chan struct{})
}

func (a *Aggregator) dispatch(ctx context.Context) {
	for {
		a.mu.Lock()
		var c *Composite
		callbacks := make([]Callback, 0, len(a.callbacks))
		for _, cb := range a.callbacks {
			callbacks = append(callbacks, cb)
		}
		var wait <-chan struct{}
		if len(callbacks) > 0 {
			c = a.takeLocked()
			wait = a.notify
		}
		changed := a.subsChanged
		a.mu.Unlock()

		if c != nil {
			for i, cb := range callbacks {
				if i == len(callbacks)-1 {
					cb(c)
					continue
				}
				clone := Composite{
					Accel: append([]Sample(nil), c.Accel...),
					Gyro:  append([]Sample(nil), c.Gyro...),
				}
				cb(&clone)
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-wait:
		case <-changed:
		}
	}
}

// Stats returns the counters.
func (a *Aggregator) Stats() Stats {
	return Stats{
		SamplesReceived: a.received.Load(),
		SamplesDropped:  a.dropped.Load(),
		SamplesIgnored:  a.ignored.Load(),
		Composites:      a.composites.Load(),
	}
}
