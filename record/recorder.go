package record

import (
	"bufio"
	"context"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/matttproud/golang_protobuf_extensions/pbutil"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"go.viam.com/rgbdsync/camera"
	"go.viam.com/rgbdsync/capture"
	"go.viam.com/rgbdsync/device"
	"go.viam.com/rgbdsync/imu"
	"go.viam.com/rgbdsync/logging"
	"go.viam.com/rgbdsync/rimage/transform"
	"go.viam.com/rgbdsync/utils"
)

// DefaultQueueSize is the number of records a Recorder buffers before dropping captures.
const DefaultQueueSize = 32

// ErrRecorderClosed is returned by writes after Close.
var ErrRecorderClosed = errors.New("recorder closed")

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderClock sets the clock that stamps record offsets.
func WithRecorderClock(clk clock.Clock) RecorderOption {
	return func(r *Recorder) { r.clk = clk }
}

// WithRecorderQueueSize sets how many records may wait for the writer.
func WithRecorderQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// queued is a record waiting for the writer. Captures are encoded on the writer goroutine.
type queued struct {
	entry      entry
	capture    *capture.Capture
	hostOffset time.Duration
}

// Recorder writes a session to a capture file. Writes are queued and written on a background
// goroutine, so WriteCapture can be used as a capture callback. The file is written under
// path+InProgressExt and renamed to path by Close.
type Recorder struct {
	logger    logging.Logger
	clk       clock.Clock
	path      string
	queueSize int
	header    Header

	file    *os.File
	wmu     sync.Mutex
	w       *bufio.Writer
	queue   chan queued
	workers utils.StoppableWorkers

	mu      sync.Mutex
	closed  bool
	pending int
	idle    chan struct{}
	err     error

	written atomic.Uint64
	dropped atomic.Uint64
}

// Create starts a capture file at path.
func Create(path string, logger logging.Logger, opts ...RecorderOption) (*Recorder, error) {
	r := &Recorder{
		logger:    logger,
		clk:       clock.New(),
		path:      path,
		queueSize: DefaultQueueSize,
		idle:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	close(r.idle)

	//nolint:gosec
	f, err := os.OpenFile(path+InProgressExt, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	r.file = f
	r.w = bufio.NewWriter(f)
	r.header = Header{Version: Version, Session: uuid.New(), Created: r.clk.Now()}

	header, err := r.header.toProto()
	if err == nil {
		_, err = pbutil.WriteDelimited(r.w, header)
	}
	if err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "cannot write capture file header"), f.Close(), os.Remove(f.Name()))
	}

	r.queue = make(chan queued, r.queueSize)
	r.workers = utils.NewStoppableWorkersWithLogger(logger, r.run)
	logger.Infow("recording", "path", path, "session", r.header.Session)
	return r, nil
}

// Session returns the id of the recording.
func (r *Recorder) Session() uuid.UUID {
	return r.header.Session
}

// Written returns the number of records written so far.
func (r *Recorder) Written() uint64 {
	return r.written.Load()
}

// Dropped returns the number of captures and samples dropped on a full queue.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// WriteDeviceInfo records the device description. It waits for queue space.
func (r *Recorder) WriteDeviceInfo(info device.DeviceInfo) error {
	e, err := jsonEntry(kindDeviceInfo, info)
	if err != nil {
		return err
	}
	return r.enqueue(queued{entry: e}, true)
}

// WriteCamerasCalibration records the calibration of the recorded profiles. It waits for queue
// space.
func (r *Recorder) WriteCamerasCalibration(calib *transform.CamerasCalibration) error {
	if calib == nil {
		return errors.New("nil calibration")
	}
	e, err := jsonEntry(kindCalibration, calib)
	if err != nil {
		return err
	}
	return r.enqueue(queued{entry: e}, true)
}

// WriteCapture records a capture along with the time since recording started, which paces
// playback. It takes its own reference, so the caller keeps ownership of c. When the queue is full
// the capture is dropped and an error is returned.
func (r *Recorder) WriteCapture(c *capture.Capture) error {
	if err := c.Ref(); err != nil {
		return errors.Wrap(err, "write capture")
	}
	q := queued{capture: c, hostOffset: r.clk.Since(r.header.Created)}
	if err := r.enqueue(q, false); err != nil {
		//nolint:errcheck
		c.Release()
		return err
	}
	return nil
}

// OnCapture adapts WriteCapture to a capture callback.
func (r *Recorder) OnCapture(c *capture.Capture) {
	if err := r.WriteCapture(c); err != nil {
		r.logger.Debugw("capture not recorded", "error", err)
	}
}

// WriteImuSample records an IMU reading. When the queue is full the reading is dropped.
func (r *Recorder) WriteImuSample(sensor camera.ImuSensorType, s imu.Sample) error {
	e, err := imuEntry(sensor, s, r.clk.Since(r.header.Created))
	if err != nil {
		return err
	}
	return r.enqueue(queued{entry: e}, false)
}

// OnImu adapts WriteImuSample to an IMU callback.
func (r *Recorder) OnImu(c *imu.Composite) {
	for _, t := range []camera.ImuSensorType{camera.Accel, camera.Gyro} {
		for _, s := range c.Samples(t) {
			if err := r.WriteImuSample(t, s); err != nil {
				r.logger.Debugw("imu sample not recorded", "error", err)
			}
		}
	}
}

func (r *Recorder) enqueue(q queued, wait bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRecorderClosed
	}
	if r.err != nil {
		return r.err
	}
	if wait {
		// The writer receives before it takes mu, so this cannot deadlock.
		r.queue <- q
	} else {
		select {
		case r.queue <- q:
		default:
			r.dropped.Inc()
			return errors.New("recorder queue full")
		}
	}
	if r.pending == 0 {
		r.idle = make(chan struct{})
	}
	r.pending++
	return nil
}

func (r *Recorder) run(ctx context.Context) {
	for {
		select {
		case q := <-r.queue:
			r.write(q)
		case <-ctx.Done():
			for {
				select {
				case q := <-r.queue:
					r.write(q)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(q queued) {
	e := q.entry
	var err error
	if q.capture != nil {
		e, err = captureEntry(q.capture, q.hostOffset)
		//nolint:errcheck
		q.capture.Release()
	}
	if err == nil {
		r.wmu.Lock()
		err = writeEntry(r.w, e)
		r.wmu.Unlock()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil && r.err == nil {
		r.err = errors.Wrap(err, "cannot write record")
		r.logger.Errorw("recording failed", "error", err)
	}
	if err == nil {
		r.written.Inc()
	}
	r.pending--
	if r.pending == 0 {
		close(r.idle)
	}
}

// Flush waits up to timeout for queued records to be written and flushes them to the file.
func (r *Recorder) Flush(timeout time.Duration) error {
	r.mu.Lock()
	idle := r.idle
	r.mu.Unlock()

	timer := r.clk.Timer(timeout)
	defer timer.Stop()
	select {
	case <-idle:
	case <-timer.C:
		return camera.NewError(camera.ErrTimeout, "flush", camera.Unknown, "records still queued after "+timeout.String())
	}

	r.mu.Lock()
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.wmu.Lock()
	defer r.wmu.Unlock()
	return r.w.Flush()
}

// Close writes every queued record and completes the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	done := utils.SlowLogger(context.Background(), r.clk, "waiting for queued records to be written", "path", r.path, r.logger)
	r.workers.Stop()
	done()

	r.mu.Lock()
	defer r.mu.Unlock()
	err := multierr.Combine(r.err, r.w.Flush(), r.file.Sync(), r.file.Close())
	if err != nil {
		return err
	}
	if err := os.Rename(r.path+InProgressExt, r.path); err != nil {
		return err
	}
	r.logger.Infow("recording complete", "path", r.path, "records", r.written.Load(), "dropped", r.dropped.Load())
	return nil
}
