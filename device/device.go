package device

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"go.viam.com/rgbdsync/camera"
	"go.viam.com/rgbdsync/capture"
	"go.viam.com/rgbdsync/capturesync"
	"go.viam.com/rgbdsync/config"
	"go.viam.com/rgbdsync/imu"
	"go.viam.com/rgbdsync/logging"
	"go.viam.com/rgbdsync/rimage/transform"
	"go.viam.com/rgbdsync/utils"
)

// Stats combines the counters of the camera and IMU pipelines.
type Stats struct {
	Cameras capturesync.Stats `json:"cameras"`
	Imu     imu.Stats         `json:"imu"`
}

// Option configures a Device.
type Option func(*options)

type options struct {
	syncOpts []capturesync.Option
	imuOpts  []imu.Option
}

// WithSyncOptions passes options to the capture synchronizer.
func WithSyncOptions(opts ...capturesync.Option) Option {
	return func(o *options) { o.syncOpts = append(o.syncOpts, opts...) }
}

// WithImuOptions passes options to the IMU aggregator.
func WithImuOptions(opts ...imu.Option) Option {
	return func(o *options) { o.imuOpts = append(o.imuOpts, opts...) }
}

// calibratedAligner aligns with the calibration of the profiles of the current stream.
type calibratedAligner struct {
	current atomic.Pointer[transform.SoftwareAligner]
}

func (ca *calibratedAligner) AlignDepthToColor(depth *capture.Image) (*capture.Image, error) {
	sa := ca.current.Load()
	if sa == nil {
		return nil, errors.New("no calibration loaded for software alignment")
	}
	return sa.AlignDepthToColor(depth)
}

// Device is an opened RGB-D device.
type Device struct {
	driver  Driver
	logger  logging.Logger
	caps    camera.Capabilities
	sync    *capturesync.Synchronizer
	imu     *imu.Aggregator
	aligner *calibratedAligner

	mu             sync.Mutex
	camerasRunning bool
	imuRunning     bool
	unsubscribe    func()
	watcher        *config.Watcher
	closed         bool
}

// New wraps an opened driver.
func New(driver Driver, logger logging.Logger, opts ...Option) *Device {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	caps := driver.Capabilities()
	aligner := &calibratedAligner{}
	syncOpts := append([]capturesync.Option{capturesync.WithAligner(aligner)}, o.syncOpts...)
	return &Device{
		driver:  driver,
		logger:  logger,
		caps:    caps,
		sync:    capturesync.New(caps, logger.Sublogger("sync"), syncOpts...),
		imu:     imu.NewAggregator(caps, logger.Sublogger("imu"), o.imuOpts...),
		aligner: aligner,
	}
}

// Open opens a registered driver and wraps it.
func Open(ctx context.Context, name string, attrs config.AttributeMap, logger logging.Logger, opts ...Option) (*Device, error) {
	driver, err := OpenDriver(ctx, name, attrs, logger.Sublogger(name))
	if err != nil {
		return nil, err
	}
	return New(driver, logger, opts...), nil
}

// OpenFromConfig opens the driver a config file names, applying its log levels and synchronizer
// settings.
func OpenFromConfig(ctx context.Context, fc *config.FileConfig, logger logging.Logger, opts ...Option) (*Device, error) {
	if err := logging.UpdateLogLevels(fc.Log); err != nil {
		return nil, err
	}
	var syncOpts []capturesync.Option
	if w := fc.StalenessWindow(); w > 0 {
		syncOpts = append(syncOpts, capturesync.WithStalenessWindow(w))
	}
	if fc.QueueSize > 0 {
		syncOpts = append(syncOpts, capturesync.WithQueueSize(fc.QueueSize))
	}
	return Open(ctx, fc.Driver, fc.DriverAttributes, logger, append([]Option{WithSyncOptions(syncOpts...)}, opts...)...)
}

// Info describes the device.
func (d *Device) Info() DeviceInfo {
	return d.driver.Info()
}

// Capabilities returns the stream profiles and IMU ranges the device supports.
func (d *Device) Capabilities() camera.Capabilities {
	return d.caps
}

// CreateCamerasConfig returns a config with every camera at its default profile, all disabled.
func (d *Device) CreateCamerasConfig() *config.CamerasConfig {
	return config.NewCamerasConfig(d.caps)
}

// CamerasConfig returns the config of the current or last stream, or nil if cameras never started.
func (d *Device) CamerasConfig() *config.CamerasConfig {
	return d.sync.Config()
}

// CamerasCalibration returns the camera models for the profiles cfg selects.
func (d *Device) CamerasCalibration(cfg *config.CamerasConfig) (*transform.CamerasCalibration, error) {
	resolved, err := cfg.Resolved(d.caps)
	if err != nil {
		return nil, err
	}
	return d.driver.Calibration(resolved)
}

// loadAligner builds the software aligner for the profiles of cfg. It returns nil when cfg does
// not ask for software alignment. The caller stores it once the stream accepted cfg.
func (d *Device) loadAligner(op string, cfg *config.CamerasConfig) (*transform.SoftwareAligner, error) {
	if cfg.AlignMode != config.AlignSoftwareD2C {
		return nil, nil
	}
	calib, err := d.driver.Calibration(cfg)
	if err != nil {
		return nil, camera.WrapError(camera.ErrConfiguration, op, camera.Depth, err, "no calibration")
	}
	sa, err := transform.NewSoftwareAligner(calib)
	if err != nil {
		return nil, camera.WrapError(camera.ErrConfiguration, op, camera.Depth, err, "bad calibration")
	}
	return sa, nil
}

// StartCameras starts streaming. Captures are fetched with GetCapture.
func (d *Device) StartCameras(ctx context.Context, cfg *config.CamerasConfig) error {
	return d.startCameras(ctx, cfg, nil)
}

// StartCamerasWithCallback starts streaming and delivers every capture to cb on a background
// goroutine. The callback owns the capture until it returns, after which it is released.
func (d *Device) StartCamerasWithCallback(ctx context.Context, cfg *config.CamerasConfig, cb capturesync.Callback) error {
	if cb == nil {
		return camera.NewError(camera.ErrConfiguration, "start cameras", camera.Unknown, "nil callback")
	}
	return d.startCameras(ctx, cfg, cb)
}

func (d *Device) startCameras(ctx context.Context, cfg *config.CamerasConfig, cb capturesync.Callback) error {
	const op = "start cameras"
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return camera.NewError(camera.ErrClosed, op, camera.Unknown, "")
	}
	if d.camerasRunning {
		return camera.NewError(camera.ErrUnsupportedWhileRunning, op, camera.Unknown, "already streaming")
	}
	resolved, err := cfg.Resolved(d.caps)
	if err != nil {
		return err
	}
	sa, err := d.loadAligner(op, resolved)
	if err != nil {
		return err
	}
	if err := d.sync.Configure(resolved); err != nil {
		return err
	}
	d.aligner.current.Store(sa)
	if cb != nil {
		d.unsubscribe = d.sync.Subscribe(cb)
	}
	guard := utils.NewGuard(d.unsubscribeLocked)
	defer guard.OnFail()
	if err := d.sync.Start(); err != nil {
		return err
	}
	if err := d.driver.StartCameras(ctx, resolved, d.sync); err != nil {
		return multierr.Combine(errors.Wrap(err, "driver failed to start cameras"), d.sync.Stop())
	}
	guard.Success()
	d.camerasRunning = true
	return nil
}

func (d *Device) unsubscribeLocked() {
	if d.unsubscribe != nil {
		d.unsubscribe()
		d.unsubscribe = nil
	}
}

// UpdateCamerasConfig changes the config of the running stream. See capturesync.Synchronizer.Update
// for what may change.
func (d *Device) UpdateCamerasConfig(ctx context.Context, cfg *config.CamerasConfig) error {
	const op = "update cameras"
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.camerasRunning {
		return camera.NewError(camera.ErrNotRunning, op, camera.Unknown, "")
	}
	resolved, err := cfg.Resolved(d.caps)
	if err != nil {
		return err
	}
	sa, err := d.loadAligner(op, resolved)
	if err != nil {
		return err
	}
	if err := d.sync.Update(resolved); err != nil {
		return err
	}
	d.aligner.current.Store(sa)
	if err := d.driver.UpdateCameras(ctx, resolved); err != nil {
		return d.abortCamerasLocked(ctx, errors.Wrap(err, "driver failed to update cameras, stream stopped"))
	}
	return nil
}

// abortCamerasLocked ends a stream the driver could not keep running. The driver may already have
// torn its streams down, so its stop error is only logged.
func (d *Device) abortCamerasLocked(ctx context.Context, cause error) error {
	d.camerasRunning = false
	if err := d.driver.StopCameras(ctx); err != nil {
		d.logger.Debugw("driver stop after failed update", "error", err)
	}
	err := multierr.Combine(cause, d.sync.Stop())
	d.unsubscribeLocked()
	return err
}

// StopCameras stops streaming. Captures already fetched stay valid.
func (d *Device) StopCameras(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.camerasRunning {
		return camera.NewError(camera.ErrNotRunning, "stop cameras", camera.Unknown, "")
	}
	return d.stopCamerasLocked(ctx)
}

func (d *Device) stopCamerasLocked(ctx context.Context) error {
	d.camerasRunning = false
	err := multierr.Combine(d.driver.StopCameras(ctx), d.sync.Stop())
	d.unsubscribeLocked()
	return err
}

// GetCapture waits up to timeout for the next capture. Zero checks without waiting,
// capturesync.WaitInfinite waits without bound and other negative timeouts are rejected. The
// caller must release the capture.
func (d *Device) GetCapture(ctx context.Context, timeout time.Duration) (*capture.Capture, error) {
	return d.sync.Poll(ctx, timeout)
}

// CreateImuConfig returns a config with the first listed profile of each sensor, all disabled.
func (d *Device) CreateImuConfig() *config.ImuConfig {
	return config.NewImuConfig(d.caps)
}

// StartImu starts the IMU sensors cfg enables.
func (d *Device) StartImu(ctx context.Context, cfg *config.ImuConfig) error {
	const op = "start imu"
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return camera.NewError(camera.ErrClosed, op, camera.Unknown, "")
	}
	if d.imuRunning {
		return camera.NewError(camera.ErrUnsupportedWhileRunning, op, camera.Unknown, "already streaming")
	}
	if err := d.imu.Configure(cfg); err != nil {
		return err
	}
	if err := d.imu.Start(); err != nil {
		return err
	}
	if err := d.driver.StartImu(ctx, cfg, d.imu); err != nil {
		return multierr.Combine(errors.Wrap(err, "driver failed to start imu"), d.imu.Stop())
	}
	d.imuRunning = true
	return nil
}

// StopImu stops the IMU sensors.
func (d *Device) StopImu(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.imuRunning {
		return camera.NewError(camera.ErrNotRunning, "stop imu", camera.Unknown, "")
	}
	d.imuRunning = false
	return multierr.Combine(d.driver.StopImu(ctx), d.imu.Stop())
}

// GetImuSample waits up to timeout for IMU readings and returns every reading since the last call.
func (d *Device) GetImuSample(ctx context.Context, timeout time.Duration) (*imu.Composite, error) {
	return d.imu.Poll(ctx, timeout)
}

// SubscribeImu delivers IMU readings to cb instead of GetImuSample.
func (d *Device) SubscribeImu(cb imu.Callback) func() {
	return d.imu.Subscribe(cb)
}

// WatchConfig reloads a config file whenever it changes. Log levels are applied right away; when
// cameras are streaming the new cameras config is applied as an update. A later call replaces the
// earlier watch.
func (d *Device) WatchConfig(path string) error {
	w, err := config.NewWatcher(path, 0, d.logger.Sublogger("config"), d.applyFileConfig)
	if err != nil {
		return err
	}
	d.mu.Lock()
	old := d.watcher
	d.watcher = w
	d.mu.Unlock()
	if old != nil {
		return old.Close()
	}
	return nil
}

func (d *Device) applyFileConfig(fc *config.FileConfig) {
	if err := logging.UpdateLogLevels(fc.Log); err != nil {
		d.logger.Warnw("cannot apply log levels", "error", err)
	}
	d.mu.Lock()
	running := d.camerasRunning
	d.mu.Unlock()
	if !running {
		return
	}
	cfg, err := fc.CamerasConfig(d.caps)
	if err != nil {
		d.logger.Warnw("ignoring cameras config", "error", err)
		return
	}
	if err := d.UpdateCamerasConfig(context.Background(), cfg); err != nil {
		d.logger.Warnw("cannot apply cameras config", "error", err)
		return
	}
	d.logger.Infow("applied cameras config", "cameras", cfg.EnabledCameras())
}

// Stats returns the pipeline counters.
func (d *Device) Stats() Stats {
	return Stats{Cameras: d.sync.Stats(), Imu: d.imu.Stats()}
}

// Close stops every stream and closes the driver.
func (d *Device) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	var err error
	if d.camerasRunning {
		err = multierr.Append(err, d.stopCamerasLocked(ctx))
	}
	if d.imuRunning {
		d.imuRunning = false
		err = multierr.Append(err, d.driver.StopImu(ctx))
	}
	w := d.watcher
	d.watcher = nil
	d.mu.Unlock()

	if w != nil {
		err = multierr.Append(err, w.Close())
	}
	return multierr.Combine(
		err,
		d.sync.Close(),
		d.imu.Close(),
		d.driver.Close(ctx),
	)
}
