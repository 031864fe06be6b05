// Package fake implements a synthetic RGB-D device. It streams generated color, depth and IR
// frames at the configured profile rates plus accelerometer and gyroscope readings, and can stall
// streams or jitter timestamps to exercise the capture synchronizer.
package fake

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"golang.org/x/sync/errgroup"

	"go.viam.com/rgbdsync/camera"
	"go.viam.com/rgbdsync/config"
	"go.viam.com/rgbdsync/device"
	"go.viam.com/rgbdsync/logging"
	"go.viam.com/rgbdsync/rimage/transform"
)

// DriverName is the name the fake driver registers under.
const DriverName = "fake"

func init() {
	device.RegisterDriver(DriverName, func(ctx context.Context, attrs config.AttributeMap, logger logging.Logger) (device.Driver, error) {
		var conf Config
		if err := config.DecodeInto(attrs, &conf); err != nil {
			return nil, errors.Wrap(err, "cannot decode fake driver attributes")
		}
		return NewFromConfig(&conf, logger)
	})
}

// Config are the attributes of the fake driver.
type Config struct {
	SerialNumber string `json:"serial_number,omitempty"`
	// StallCameras never deliver frames.
	StallCameras []string `json:"stall_cameras,omitempty"`
	JitterUsec   int      `json:"jitter_usec,omitempty"`
	Seed         int64    `json:"seed,omitempty"`
	// WarmUpMs delays the first frame of every stream.
	WarmUpMs           int    `json:"warm_up_ms,omitempty"`
	StartTimestampUsec uint64 `json:"start_timestamp_usec,omitempty"`
}

// Validate checks the attributes.
func (conf *Config) Validate() error {
	for _, name := range conf.StallCameras {
		if _, err := camera.ParseType(name); err != nil {
			return errors.Wrap(err, "stall_cameras")
		}
	}
	if conf.JitterUsec < 0 || conf.WarmUpMs < 0 {
		return errors.New("jitter_usec and warm_up_ms must not be negative")
	}
	return nil
}

// Option configures a Driver.
type Option func(*Driver)

// WithClock sets the clock frames and readings are paced by and stamped with.
func WithClock(clk clock.Clock) Option {
	return func(d *Driver) { d.clk = clk }
}

// WithCapabilities replaces the default capability table.
func WithCapabilities(caps camera.Capabilities) Option {
	return func(d *Driver) { d.caps = caps }
}

// WithStall makes a camera deliver nothing until SetStalled clears it.
func WithStall(t camera.Type) Option {
	return func(d *Driver) { d.SetStalled(t, true) }
}

// WithJitter adds up to usec microseconds, either way, to every device timestamp.
func WithJitter(usec int, seed int64) Option {
	return func(d *Driver) {
		d.jitterUsec = usec
		d.rng = rand.New(rand.NewSource(seed)) //nolint:gosec
	}
}

// WithWarmUp delays the first frame of every stream.
func WithWarmUp(delay time.Duration) Option {
	return func(d *Driver) { d.warmUp = delay }
}

// WithStartTimestamp sets the device clock reading at stream start, for exercising wraparound.
func WithStartTimestamp(usec uint64) Option {
	return func(d *Driver) { d.startUsec = usec }
}

type run struct {
	cancel func()
	group  *errgroup.Group
}

func (r *run) stop() error {
	if r == nil {
		return nil
	}
	r.cancel()
	return r.group.Wait()
}

// Driver is the fake device driver.
type Driver struct {
	logger     logging.Logger
	clk        clock.Clock
	caps       camera.Capabilities
	info       device.DeviceInfo
	jitterUsec int
	warmUp     time.Duration
	startUsec  uint64

	rngMu   sync.Mutex
	rng     *rand.Rand
	stalled [camera.NumSlots]atomic.Bool
	frames  [camera.NumSlots]atomic.Uint64

	mu      sync.Mutex
	cameras *run
	sink    device.FrameSink
	imu     *run
	closed  bool
}

// New returns a fake driver.
func New(logger logging.Logger, opts ...Option) *Driver {
	d := &Driver{
		logger: logger,
		clk:    clock.New(),
		caps:   DefaultCapabilities(),
		info: device.DeviceInfo{
			Name:            "Fake RGB-D Camera",
			SerialNumber:    "FAKE0000",
			FirmwareVersion: "1.0.0",
			HardwareVersion: "0.1",
			ConnectionType:  "virtual",
			VID:             0x2bc5,
			PID:             0x0666,
			Technology:      "synthetic",
		},
		rng: rand.New(rand.NewSource(1)), //nolint:gosec
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewFromConfig returns a fake driver set up from attributes.
func NewFromConfig(conf *Config, logger logging.Logger, opts ...Option) (*Driver, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	var fromConf []Option
	for _, name := range conf.StallCameras {
		t, _ := camera.ParseType(name)
		fromConf = append(fromConf, WithStall(t))
	}
	if conf.JitterUsec > 0 {
		fromConf = append(fromConf, WithJitter(conf.JitterUsec, conf.Seed))
	}
	if conf.WarmUpMs > 0 {
		fromConf = append(fromConf, WithWarmUp(time.Duration(conf.WarmUpMs)*time.Millisecond))
	}
	if conf.StartTimestampUsec > 0 {
		fromConf = append(fromConf, WithStartTimestamp(conf.StartTimestampUsec))
	}
	d := New(logger, append(fromConf, opts...)...)
	if conf.SerialNumber != "" {
		d.info.SerialNumber = conf.SerialNumber
	}
	return d, nil
}

// DefaultCapabilities is the capability table of the fake device.
func DefaultCapabilities() camera.Capabilities {
	depthWide := camera.StreamProfile{Width: 640, Height: 576, FrameRate: 30, Format: camera.FormatY16}
	depthBinned := camera.StreamProfile{Width: 320, Height: 288, FrameRate: 15, Format: camera.FormatY16}
	return camera.Capabilities{
		Cameras: camera.NewRegistry().
			Add(camera.Color,
				camera.StreamProfile{Width: 640, Height: 480, FrameRate: 30, Format: camera.FormatMJPG},
				camera.StreamProfile{Width: 640, Height: 480, FrameRate: 30, Format: camera.FormatRGB},
				camera.StreamProfile{Width: 1280, Height: 720, FrameRate: 15, Format: camera.FormatMJPG},
				camera.StreamProfile{Width: 640, Height: 480, FrameRate: 15, Format: camera.FormatYUYV},
			).
			Add(camera.Depth, depthWide, depthBinned).
			Add(camera.IR,
				camera.StreamProfile{Width: 640, Height: 576, FrameRate: 30, Format: camera.FormatY16},
				camera.StreamProfile{Width: 640, Height: 576, FrameRate: 30, Format: camera.FormatY8},
			),
		Alignable: camera.NewRegistry().Add(camera.Depth, depthWide, depthBinned),
		Accel: []camera.AccelProfile{
			{FullScale: camera.AccelFS4g, SampleRate: camera.SampleRate200Hz},
			{FullScale: camera.AccelFS2g, SampleRate: camera.SampleRate100Hz},
		},
		Gyro: []camera.GyroProfile{
			{FullScale: camera.GyroFS500dps, SampleRate: camera.SampleRate200Hz},
			{FullScale: camera.GyroFS2000dps, SampleRate: camera.SampleRate100Hz},
		},
	}
}

// Info describes the fake device.
func (d *Driver) Info() device.DeviceInfo {
	return d.info
}

// Capabilities returns the capability table.
func (d *Driver) Capabilities() camera.Capabilities {
	return d.caps
}

var (
	baseDepth = transform.Intrinsics{Fx: 504.52, Fy: 504.61, Cx: 320.18, Cy: 330.06, Width: 640, Height: 576}
	baseColor = transform.Intrinsics{Fx: 605.33, Fy: 605.12, Cx: 637.81, Cy: 366.42, Width: 1280, Height: 720}

	depthDistortion = transform.Distortion{K1: 0.0521, K2: -0.0184, P1: 0.0003, P2: -0.0002}
	colorDistortion = transform.Distortion{K1: 0.0913, K2: -0.0657, K3: 0.0028, P1: 0.0007, P2: -0.0004}

	depthToColor = transform.Extrinsics{
		Rotation:    [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		Translation: [3]float64{-32.1, -2.0, 3.8},
	}
)

func scaled(base transform.Intrinsics, p camera.StreamProfile) transform.Intrinsics {
	wr := float64(p.Width) / float64(base.Width)
	hr := float64(p.Height) / float64(base.Height)
	return transform.Intrinsics{
		Fx:     base.Fx * wr,
		Fy:     base.Fy * hr,
		Cx:     base.Cx * wr,
		Cy:     base.Cy * hr,
		Width:  p.Width,
		Height: p.Height,
	}
}

// Calibration returns camera models scaled to the depth and color profiles of cfg.
func (d *Driver) Calibration(cfg *config.CamerasConfig) (*transform.CamerasCalibration, error) {
	depthProfile := cfg.Stream(camera.Depth).Profile
	colorProfile := cfg.Stream(camera.Color).Profile
	if depthProfile.Width <= 0 || depthProfile.Height <= 0 || colorProfile.Width <= 0 || colorProfile.Height <= 0 {
		return nil, transform.NewNoIntrinsicsError("depth and color profiles need concrete resolutions")
	}
	return &transform.CamerasCalibration{
		DepthIntrinsics: scaled(baseDepth, depthProfile),
		ColorIntrinsics: scaled(baseColor, colorProfile),
		DepthDistortion: depthDistortion,
		ColorDistortion: colorDistortion,
		DepthToColor:    depthToColor,
	}, nil
}

// SetStalled stops or resumes a camera's frames without stopping its stream.
func (d *Driver) SetStalled(t camera.Type, stalled bool) {
	if t.Valid() {
		d.stalled[t.Slot()].Store(stalled)
	}
}

// FramesSent returns how many frames a camera has delivered.
func (d *Driver) FramesSent(t camera.Type) uint64 {
	if !t.Valid() {
		return 0
	}
	return d.frames[t.Slot()].Load()
}

func (d *Driver) jitter() int64 {
	if d.jitterUsec <= 0 {
		return 0
	}
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	return d.rng.Int63n(int64(2*d.jitterUsec+1)) - int64(d.jitterUsec)
}

// deviceTimestamp converts time since stream start to the device clock, which wraps.
func (d *Driver) deviceTimestamp(elapsed time.Duration) uint64 {
	usec := int64(d.startUsec) + elapsed.Microseconds() + d.jitter()
	if usec < 0 {
		usec = 0
	}
	return uint64(usec)
}

// warmUpWait waits out the warm up delay, reporting false if ctx ended first.
func (d *Driver) warmUpWait(ctx context.Context) bool {
	if d.warmUp <= 0 {
		return ctx.Err() == nil
	}
	return goutils.SelectContextOrWait(ctx, d.warmUp)
}

// StartCameras streams every enabled camera of cfg into sink.
func (d *Driver) StartCameras(ctx context.Context, cfg *config.CamerasConfig, sink device.FrameSink) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("fake driver closed")
	}
	if d.cameras != nil {
		return errors.New("cameras already streaming")
	}
	r, err := d.startCamerasLocked(cfg, sink)
	if err != nil {
		return err
	}
	d.cameras = r
	d.sink = sink
	return nil
}

func (d *Driver) startCamerasLocked(cfg *config.CamerasConfig, sink device.FrameSink) (*run, error) {
	var streams []*stream
	for _, t := range cfg.EnabledCameras() {
		s, err := newStream(d, t, cfg.Stream(t).Profile, sink)
		if err != nil {
			for _, started := range streams {
				started.ticker.Stop()
			}
			return nil, err
		}
		streams = append(streams, s)
	}
	cancelCtx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(cancelCtx)
	start := d.clk.Now()
	for _, s := range streams {
		s := s
		group.Go(func() error { return s.run(groupCtx, start) })
	}
	return &run{cancel: cancel, group: group}, nil
}

// UpdateCameras restarts the streams with a new config.
func (d *Driver) UpdateCameras(ctx context.Context, cfg *config.CamerasConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cameras == nil {
		return errors.New("cameras not streaming")
	}
	if err := d.cameras.stop(); err != nil {
		return err
	}
	r, err := d.startCamerasLocked(cfg, d.sink)
	if err != nil {
		d.cameras = nil
		d.sink = nil
		return err
	}
	d.cameras = r
	return nil
}

// StopCameras stops every camera stream.
func (d *Driver) StopCameras(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cameras == nil {
		return errors.New("cameras not streaming")
	}
	err := d.cameras.stop()
	d.cameras = nil
	d.sink = nil
	return err
}

// StartImu streams readings of the sensors cfg enables into sink.
func (d *Driver) StartImu(ctx context.Context, cfg *config.ImuConfig, sink device.ImuSink) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("fake driver closed")
	}
	if d.imu != nil {
		return errors.New("imu already streaming")
	}
	cancelCtx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(cancelCtx)
	start := d.clk.Now()
	if cfg.AccelEnabled {
		ticker := d.clk.Ticker(cfg.Accel.SampleRate.Period())
		group.Go(func() error { return d.runAccel(groupCtx, ticker, start, cfg.Accel, sink) })
	}
	if cfg.GyroEnabled {
		ticker := d.clk.Ticker(cfg.Gyro.SampleRate.Period())
		group.Go(func() error { return d.runGyro(groupCtx, ticker, start, cfg.Gyro, sink) })
	}
	d.imu = &run{cancel: cancel, group: group}
	return nil
}

// StopImu stops the IMU streams.
func (d *Driver) StopImu(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.imu == nil {
		return errors.New("imu not streaming")
	}
	err := d.imu.stop()
	d.imu = nil
	return err
}

// Close stops everything.
func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	err := multierr.Combine(d.cameras.stop(), d.imu.stop())
	d.cameras, d.imu, d.sink = nil, nil, nil
	return err
}
