package record

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/rgbdsync/camera"
	"go.viam.com/rgbdsync/capture"
	"go.viam.com/rgbdsync/device"
	"go.viam.com/rgbdsync/imu"
	"go.viam.com/rgbdsync/logging"
	"go.viam.com/rgbdsync/rimage/transform"
	rgbdtestutils "go.viam.com/rgbdsync/testutils"
)

type collector struct {
	mu       sync.Mutex
	captures []*capture.Capture
	samples  []imu.Sample
	at       []time.Time
}

func (c *collector) OnCapture(capt *capture.Capture) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.captures = append(c.captures, capt)
	c.at = append(c.at, time.Now())
}

func (c *collector) OnImuSample(sensor camera.ImuSensorType, s imu.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sensor == camera.Accel {
		c.samples = append(c.samples, s)
	}
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.captures)
}

func (c *collector) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, capt := range c.captures {
		//nolint:errcheck
		capt.Release()
	}
}

func newCapture(t *testing.T, deviceUsec uint64) *capture.Capture {
	t.Helper()
	c := capture.New()
	color := rgbdtestutils.ColorFrame(deviceUsec)
	for i := range color.Data {
		color.Data[i] = byte(i)
	}
	for _, f := range []*camera.Frame{color, rgbdtestutils.DepthFrame(deviceUsec+100, 1234, 0.5)} {
		f.ValidBits = f.Format.PixelBits()
		img, err := capture.NewImageFromFrame(f)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, c.SetImage(f.Camera, img), test.ShouldBeNil)
		test.That(t, img.Release(), test.ShouldBeNil)
	}
	return c
}

var testCalibration = &transform.CamerasCalibration{
	DepthIntrinsics: transform.Intrinsics{Fx: 100, Fy: 100, Cx: 2, Cy: 2, Width: 4, Height: 4},
	ColorIntrinsics: transform.Intrinsics{Fx: 100, Fy: 100, Cx: 2, Cy: 2, Width: 4, Height: 4},
	DepthToColor:    transform.IdentityExtrinsics(),
}

// writeSession records two captures 20ms apart and an accel reading between them.
func writeSession(t *testing.T, path string) {
	t.Helper()
	mock := clock.NewMock()
	r, err := Create(path, logging.NewTestLogger(t), WithRecorderClock(mock))
	test.That(t, err, test.ShouldBeNil)
	_, err = os.Stat(path + InProgressExt)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, r.WriteDeviceInfo(device.DeviceInfo{Name: "test", SerialNumber: "REC1"}), test.ShouldBeNil)
	test.That(t, r.WriteCamerasCalibration(testCalibration), test.ShouldBeNil)
	test.That(t, r.WriteCamerasCalibration(nil), test.ShouldNotBeNil)

	for i := 0; i < 2; i++ {
		mock.Add(20 * time.Millisecond)
		c := newCapture(t, uint64(1000*(i+1)))
		test.That(t, r.WriteCapture(c), test.ShouldBeNil)
		test.That(t, c.Release(), test.ShouldBeNil)
		if i == 0 {
			sample := imu.AccelFromRaw(1500, 36.5, [3]int16{0, 0, 8192}, camera.AccelFS4g)
			test.That(t, r.WriteImuSample(camera.Accel, sample), test.ShouldBeNil)
		}
	}
	test.That(t, r.Flush(time.Second), test.ShouldBeNil)
	test.That(t, r.Written(), test.ShouldEqual, uint64(5))
	test.That(t, r.Close(), test.ShouldBeNil)
	test.That(t, r.Close(), test.ShouldBeNil)

	c := newCapture(t, 1)
	test.That(t, errors.Is(r.WriteCapture(c), ErrRecorderClosed), test.ShouldBeTrue)
	test.That(t, c.Release(), test.ShouldBeNil)
}

func TestRecordAndPlayback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.capture")
	writeSession(t, path)
	_, err := os.Stat(path + InProgressExt)
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)

	var statesMu sync.Mutex
	var states []PlaybackState
	p, err := Open(path, logging.NewTestLogger(t), WithStateCallback(func(s PlaybackState) {
		statesMu.Lock()
		defer statesMu.Unlock()
		states = append(states, s)
	}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Header().Version, test.ShouldEqual, Version)
	test.That(t, p.DeviceInfo().SerialNumber, test.ShouldEqual, "REC1")
	test.That(t, p.Calibration().DepthIntrinsics.Fx, test.ShouldEqual, 100.0)
	test.That(t, p.Captures(), test.ShouldEqual, 2)
	test.That(t, p.ImuSamples(), test.ShouldEqual, 1)
	test.That(t, p.Duration(), test.ShouldEqual, 40*time.Millisecond)

	sink := &collector{}
	defer sink.release()
	start := time.Now()
	test.That(t, p.Play(context.Background(), sink), test.ShouldBeNil)
	test.That(t, time.Since(start), test.ShouldBeGreaterThanOrEqualTo, 35*time.Millisecond)

	test.That(t, sink.count(), test.ShouldEqual, 2)
	test.That(t, len(sink.samples), test.ShouldEqual, 1)
	test.That(t, sink.samples[0].Z, test.ShouldAlmostEqual, 1, 0.001)
	test.That(t, sink.samples[0].TimestampUsec, test.ShouldEqual, uint64(1500))
	test.That(t, sink.at[1].Sub(sink.at[0]), test.ShouldBeGreaterThanOrEqualTo, 15*time.Millisecond)

	first := sink.captures[0]
	test.That(t, first.Has(camera.IR), test.ShouldBeFalse)
	color := first.ColorImage()
	test.That(t, color.Format(), test.ShouldEqual, camera.FormatRGB)
	test.That(t, color.DeviceTimestamp(), test.ShouldEqual, uint64(1000))
	test.That(t, color.Data()[5], test.ShouldEqual, byte(5))
	stride, err := color.Stride()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stride, test.ShouldEqual, 12)

	depth := first.DepthImage()
	scale, err := depth.ValueScale()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, scale, test.ShouldEqual, float32(0.5))
	test.That(t, depth.DeviceTimestamp(), test.ShouldEqual, uint64(1100))
	test.That(t, depth.Size(), test.ShouldEqual, 32)
	test.That(t, depth.ValidBits(), test.ShouldEqual, 16)

	statesMu.Lock()
	test.That(t, states, test.ShouldResemble, []PlaybackState{PlaybackBegin, PlaybackEnd})
	statesMu.Unlock()
}

func TestPlaybackPause(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.capture")
	writeSession(t, path)

	states := make(chan PlaybackState, 8)
	p, err := Open(path, logging.NewTestLogger(t), WithStateCallback(func(s PlaybackState) { states <- s }))
	test.That(t, err, test.ShouldBeNil)

	test.That(t, p.Resume(), test.ShouldBeFalse)
	test.That(t, p.Pause(), test.ShouldBeTrue)
	test.That(t, p.Pause(), test.ShouldBeFalse)
	test.That(t, <-states, test.ShouldEqual, PlaybackPause)

	sink := &collector{}
	defer sink.release()
	done := make(chan error, 1)
	go func() { done <- p.Play(context.Background(), sink) }()
	test.That(t, <-states, test.ShouldEqual, PlaybackBegin)
	test.That(t, p.Play(context.Background(), sink), test.ShouldNotBeNil)

	time.Sleep(100 * time.Millisecond)
	test.That(t, sink.count(), test.ShouldEqual, 0)

	test.That(t, p.Resume(), test.ShouldBeTrue)
	test.That(t, <-states, test.ShouldEqual, PlaybackResume)
	test.That(t, <-done, test.ShouldBeNil)
	test.That(t, <-states, test.ShouldEqual, PlaybackEnd)
	test.That(t, sink.count(), test.ShouldEqual, 2)
}

func TestPlaybackCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.capture")
	writeSession(t, path)

	p, err := Open(path, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	p.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	sink := &collector{}
	defer sink.release()
	done := make(chan error, 1)
	go func() { done <- p.Play(ctx, sink) }()
	cancel()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		select {
		case err := <-done:
			test.That(tb, errors.Is(err, context.Canceled), test.ShouldBeTrue)
		default:
			tb.Error("still playing")
		}
	})
}

func TestOpenBadFiles(t *testing.T) {
	dir := t.TempDir()
	logger := logging.NewTestLogger(t)

	_, err := Open(filepath.Join(dir, "missing.capture"), logger)
	test.That(t, err, test.ShouldNotBeNil)

	junk := filepath.Join(dir, "junk.capture")
	test.That(t, os.WriteFile(junk, []byte("\x05hello"), 0o600), test.ShouldBeNil)
	_, err = Open(junk, logger)
	test.That(t, err, test.ShouldNotBeNil)

	path := filepath.Join(dir, "session.capture")
	writeSession(t, path)
	data, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	truncated := filepath.Join(dir, "truncated.capture")
	test.That(t, os.WriteFile(truncated, data[:len(data)-10], 0o600), test.ShouldBeNil)
	_, err = Open(truncated, logger)
	test.That(t, err, test.ShouldNotBeNil)
}
