// Package capturesync combines independently clocked camera frames into captures.
//
// A Synchronizer keeps at most one pending frame per camera slot. Whenever a frame arrives the
// configured sync mode decides whether the pending set forms a capture, and the capture policy
// decides what happens to frames that can no longer be matched. Emitted captures wait in a small
// bounded queue for Poll, or are pushed to subscribers by a dispatcher goroutine.
package capturesync

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.opencensus.io/trace"

	"go.viam.com/rgbdsync/camera"
	"go.viam.com/rgbdsync/capture"
	"go.viam.com/rgbdsync/config"
	"go.viam.com/rgbdsync/logging"
	"go.viam.com/rgbdsync/utils"
)

// WaitInfinite makes Poll wait without bound.
const WaitInfinite time.Duration = -1

const sweepInterval = 10 * time.Millisecond

// State is the lifecycle state of a Synchronizer.
type State int

// Synchronizer states.
const (
	Idle State = iota
	Running
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Aligner reprojects a depth image into the color camera's view. The returned image is a new
// handle owned by the caller.
type Aligner interface {
	AlignDepthToColor(depth *capture.Image) (*capture.Image, error)
}

// Callback receives a pushed capture. The capture is released after every callback returns; a
// callback that keeps it must Ref it.
type Callback func(*capture.Capture)

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithClock sets the host clock used for arrival times, the staleness sweeper and Poll timeouts.
func WithClock(clk clock.Clock) Option {
	return func(s *Synchronizer) { s.clk = clk }
}

// WithQueueSize bounds the number of captures waiting for a consumer.
func WithQueueSize(n int) Option {
	return func(s *Synchronizer) { s.queueSize = n }
}

// WithStalenessWindow overrides how far a pending frame may trail before it is given up on. The
// default is twice the period of the slowest enabled stream.
func WithStalenessWindow(d time.Duration) Option {
	return func(s *Synchronizer) { s.stalenessOverride = d }
}

// WithAligner sets the depth to color aligner used by software alignment.
func WithAligner(a Aligner) Option {
	return func(s *Synchronizer) { s.aligner = a }
}

type subscriber struct {
	id int
	cb Callback
}

// Synchronizer is the capture synchronizer. It is safe for concurrent use; OnFrame may be called
// from any number of driver goroutines.
type Synchronizer struct {
	caps   camera.Capabilities
	logger logging.Logger
	clk    clock.Clock

	queueSize         int
	stalenessOverride time.Duration
	aligner           Aligner

	mu          sync.Mutex
	state       State
	cfg         *config.CamerasConfig
	matcher     *matcher
	runID       uint64
	stopCh      chan struct{}
	subscribers []subscriber
	nextSubID   int
	subsChanged chan struct{}

	queue   *captureQueue
	stats   counters
	workers utils.StoppableWorkers
}

// New returns an idle synchronizer for a device with the given capabilities.
func New(caps camera.Capabilities, logger logging.Logger, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		caps:        caps,
		logger:      logger,
		clk:         clock.New(),
		subsChanged: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = newCaptureQueue(s.queueSize)
	ticker := s.clk.Ticker(sweepInterval)
	s.workers = utils.NewStoppableWorkersWithLogger(logger, s.dispatch, func(ctx context.Context) {
		s.sweep(ctx, ticker)
	})
	return s
}

// State returns the current lifecycle state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config returns a copy of the active config, or nil before Configure.
func (s *Synchronizer) Config() *config.CamerasConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return nil
	}
	return s.cfg.Clone()
}

func (s *Synchronizer) stalenessFor(cfg *config.CamerasConfig) time.Duration {
	if s.stalenessOverride > 0 {
		return s.stalenessOverride
	}
	slowest, _ := cfg.FrameRateRange()
	if slowest <= 0 {
		return 0
	}
	return 2 * time.Second / time.Duration(slowest)
}

func (s *Synchronizer) checkConfig(op string, cfg *config.CamerasConfig) (*config.CamerasConfig, error) {
	resolved, err := cfg.Resolved(s.caps)
	if err != nil {
		return nil, err
	}
	if resolved.AlignMode == config.AlignSoftwareD2C && s.aligner == nil {
		return nil, camera.NewError(camera.ErrConfiguration, op, camera.Depth, "software alignment needs an aligner")
	}
	return resolved, nil
}

// Configure validates cfg and makes it the config of the next Start. Fuzzy profiles are resolved
// against the device registry. It fails while running.
func (s *Synchronizer) Configure(cfg *config.CamerasConfig) error {
	const op = "configure"
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Running:
		return camera.NewError(camera.ErrUnsupportedWhileRunning, op, camera.Unknown, "stop the stream first")
	case Closed:
		return camera.NewError(camera.ErrClosed, op, camera.Unknown, "")
	case Idle:
	}
	resolved, err := s.checkConfig(op, cfg)
	if err != nil {
		return err
	}
	s.cfg = resolved
	s.logger.Debugw("configured", "cameras", resolved.EnabledCameras(), "sync_mode", resolved.SyncMode,
		"capture_policy", resolved.CapturePolicy, "align_mode", resolved.AlignMode)
	return nil
}

// Start begins accepting frames. Captures left queued by an earlier run are released, and any
// capture the earlier run completes after this point is discarded.
func (s *Synchronizer) Start() error {
	const op = "start"
	s.mu.Lock()
	switch s.state {
	case Running:
		s.mu.Unlock()
		return camera.NewError(camera.ErrUnsupportedWhileRunning, op, camera.Unknown, "already running")
	case Closed:
		s.mu.Unlock()
		return camera.NewError(camera.ErrClosed, op, camera.Unknown, "")
	case Idle:
	}
	if s.cfg == nil {
		s.mu.Unlock()
		return camera.NewError(camera.ErrConfiguration, op, camera.Unknown, "not configured")
	}
	cfg := s.cfg
	window := s.stalenessFor(cfg)
	s.matcher = newMatcher(cfg, window)
	s.runID++
	stale := s.queue.reset(s.runID)
	s.stopCh = make(chan struct{})
	s.state = Running
	s.mu.Unlock()

	releaseAll(stale)
	s.logger.Infow("stream started", "cameras", cfg.EnabledCameras(), "sync_mode", cfg.SyncMode,
		"capture_policy", cfg.CapturePolicy, "staleness_window", window)
	return nil
}

// Update changes the config of a running stream. Cameras may be enabled or disabled and profiles,
// capture policy, alignment and exposure settings changed; the sync mode and the wired sync
// role may not. Pending frames of disabled cameras are released.
func (s *Synchronizer) Update(cfg *config.CamerasConfig) error {
	const op = "update"
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return camera.NewError(camera.ErrNotRunning, op, camera.Unknown, "")
	}
	if cfg.SyncMode != s.cfg.SyncMode {
		s.mu.Unlock()
		return camera.NewError(camera.ErrUnsupportedWhileRunning, op, camera.Unknown, "sync mode cannot change while running")
	}
	if cfg.WiredSyncMode != s.cfg.WiredSyncMode {
		s.mu.Unlock()
		return camera.NewError(camera.ErrUnsupportedWhileRunning, op, camera.Unknown, "wired sync mode cannot change while running")
	}
	resolved, err := s.checkConfig(op, cfg)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.cfg = resolved
	out := s.matcher.reconfigure(resolved, s.stalenessFor(resolved))
	s.mu.Unlock()

	s.stats.record(out)
	s.logger.Infow("stream updated", "cameras", resolved.EnabledCameras(), "capture_policy", resolved.CapturePolicy)
	return nil
}

// Stop ends the stream. Pending frames are released and blocked Polls return ErrCancelled.
// Captures already emitted stay valid and can still be polled. Stop may be called from a
// subscriber callback.
func (s *Synchronizer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Idle:
		return camera.NewError(camera.ErrNotRunning, "stop", camera.Unknown, "")
	case Closed:
		return camera.NewError(camera.ErrClosed, "stop", camera.Unknown, "")
	case Running:
	}
	s.stopLocked()
	return nil
}

func (s *Synchronizer) stopLocked() {
	released := s.matcher.reset()
	s.stats.framesDropped.Add(uint64(released))
	close(s.stopCh)
	s.state = Idle
	s.logger.Infow("stream stopped", "released_pending", released)
}

// Close stops the stream, joins the background workers and releases every queued capture. It
// must not be called from a subscriber callback.
func (s *Synchronizer) Close() error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return nil
	}
	if s.state == Running {
		s.stopLocked()
	}
	s.state = Closed
	s.mu.Unlock()

	s.workers.Stop()
	releaseAll(s.queue.reset(0))
	return nil
}

// Stats returns a snapshot of the counters.
func (s *Synchronizer) Stats() Stats {
	return s.stats.snapshot()
}

// OnFrame accepts a frame from a driver. The synchronizer takes ownership of the frame; frames
// for a stopped stream or a disabled camera are released right away.
func (s *Synchronizer) OnFrame(f *camera.Frame) {
	s.stats.framesReceived.Inc()

	s.mu.Lock()
	running := s.state == Running
	runID := s.runID
	var enabled, align bool
	if running {
		enabled = s.cfg.Enabled(f.Camera)
		align = f.Camera == camera.Depth && s.cfg.AlignMode == config.AlignSoftwareD2C
	}
	s.mu.Unlock()

	if !running || !enabled {
		s.stats.framesIgnored.Inc()
		if f.Release != nil {
			f.Release()
		}
		return
	}

	img, err := capture.NewImageFromFrame(f)
	if err != nil {
		s.logger.Debugw("dropping malformed frame", "camera", f.Camera, "error", err)
		s.stats.framesDropped.Inc()
		if f.Release != nil {
			f.Release()
		}
		return
	}
	if align {
		aligned, err := s.aligner.AlignDepthToColor(img)
		//nolint:errcheck
		img.Release()
		if err != nil {
			s.logger.Debugw("depth alignment failed", "error", err)
			s.stats.alignFailures.Inc()
			s.stats.framesDropped.Inc()
			return
		}
		img = aligned
	}

	s.mu.Lock()
	if s.state != Running || s.runID != runID {
		s.mu.Unlock()
		s.stats.framesIgnored.Inc()
		//nolint:errcheck
		img.Release()
		return
	}
	out := s.matcher.arrive(f.Camera, img, s.clk.Now())
	s.mu.Unlock()

	s.deliver(runID, out)
}

// deliver queues the captures run emitted. Captures of a run that has since been stopped and
// restarted, or of a closed synchronizer, are released instead.
func (s *Synchronizer) deliver(runID uint64, out outcome) {
	s.stats.record(out)
	for _, c := range out.captures {
		overflow, ok := s.queue.push(runID, c)
		if !ok {
			s.stats.capturesDiscarded.Inc()
			//nolint:errcheck
			c.Release()
			continue
		}
		if overflow != nil {
			s.stats.queueOverflows.Inc()
			//nolint:errcheck
			overflow.Release()
		}
	}
}

// Poll returns the oldest emitted capture, which the caller must Release. A zero timeout checks
// without waiting and WaitInfinite waits without bound; other negative timeouts are rejected.
// Poll is unavailable while a subscriber is registered.
func (s *Synchronizer) Poll(ctx context.Context, timeout time.Duration) (*capture.Capture, error) {
	const op = "poll"
	if timeout < 0 && timeout != WaitInfinite {
		return nil, camera.NewError(camera.ErrConfiguration, op, camera.Unknown, "negative timeout "+timeout.String())
	}
	ctx, span := trace.StartSpan(ctx, "capturesync::Poll")
	defer span.End()

	s.mu.Lock()
	state := s.state
	stopCh := s.stopCh
	hasSubscribers := len(s.subscribers) > 0
	s.mu.Unlock()

	if state == Closed {
		return nil, camera.NewError(camera.ErrClosed, op, camera.Unknown, "")
	}
	if hasSubscribers {
		return nil, camera.NewError(camera.ErrNotSupported, op, camera.Unknown, "captures are delivered to subscribers")
	}

	var timer *clock.Timer
	var expired <-chan time.Time
	if timeout > 0 {
		timer = s.clk.Timer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		c, wait := s.queue.next()
		if c != nil {
			return c, nil
		}
		if state != Running {
			return nil, camera.NewError(camera.ErrNotRunning, op, camera.Unknown, "")
		}
		if timeout == 0 {
			return nil, camera.NewError(camera.ErrTimeout, op, camera.Unknown, "no capture ready")
		}
		select {
		case <-wait:
		case <-stopCh:
			if c, _ := s.queue.next(); c != nil {
				return c, nil
			}
			return nil, camera.NewError(camera.ErrCancelled, op, camera.Unknown, "stream stopped")
		case <-expired:
			return nil, camera.NewError(camera.ErrTimeout, op, camera.Unknown, "no capture within "+timeout.String())
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Subscribe registers a callback for every emitted capture and returns a function that removes
// it. Callbacks run on one dispatcher goroutine, in emission order.
func (s *Synchronizer) Subscribe(cb Callback) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return func() {}
	}
	id := s.nextSubID
	s.nextSubID++
	s.subscribers = append(s.subscribers, subscriber{id: id, cb: cb})
	s.notifySubscribersLocked()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subscribers {
				if sub.id == id {
					s.subscribers = append(s.subscribers[:i:i], s.subscribers[i+1:]...)
					break
				}
			}
			s.notifySubscribersLocked()
		})
	}
}

func (s *Synchronizer) notifySubscribersLocked() {
	close(s.subsChanged)
	s.subsChanged = make(chan struct{})
}

func (s *Synchronizer) dispatch(ctx context.Context) {
	for {
		var c *capture.Capture
		var wait <-chan struct{}
		s.mu.Lock()
		subs := append([]subscriber(nil), s.subscribers...)
		changed := s.subsChanged
		if len(subs) > 0 {
			c, wait = s.queue.next()
		}
		s.mu.Unlock()

		if c != nil {
			s.invoke(subs, c)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-changed:
		case <-wait:
		}
	}
}

func (s *Synchronizer) invoke(subs []subscriber, c *capture.Capture) {
	defer func() {
		//nolint:errcheck
		c.Release()
	}()
	for _, sub := range subs {
		s.stats.callbacks.Inc()
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Errorw("capture callback panicked", "error", r)
				}
			}()
			sub.cb(c)
		}()
	}
}

func (s *Synchronizer) sweep(ctx context.Context, ticker *clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		if s.state != Running {
			s.mu.Unlock()
			continue
		}
		out := s.matcher.sweep(s.clk.Now())
		runID := s.runID
		s.mu.Unlock()
		if out.abandoned > 0 || out.dropped > 0 || len(out.captures) > 0 {
			s.logger.Debugw("swept stale frames", "dropped", out.dropped, "emitted", len(out.captures))
		}
		s.deliver(runID, out)
	}
}

func releaseAll(captures []*capture.Capture) {
	for _, c := range captures {
		//nolint:errcheck
		c.Release()
	}
}
