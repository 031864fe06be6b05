package fake

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/rgbdsync/camera"
	"go.viam.com/rgbdsync/device"
	"go.viam.com/rgbdsync/imu"
)

// Scene constants. Depth is a tilted plane, nearest at the top of the frame.
const (
	sceneNearMM = 800
	sceneFarMM  = 2400
	irPeak      = 1023
)

type stream struct {
	driver  *Driver
	camera  camera.Type
	profile camera.StreamProfile
	sink    device.FrameSink
	ticker  *clock.Ticker
	stride  int
	// payload is the rendered frame every delivery copies.
	payload []byte
	buffers sync.Pool
}

func newStream(d *Driver, t camera.Type, p camera.StreamProfile, sink device.FrameSink) (*stream, error) {
	if p.IsFuzzy() {
		return nil, errors.Errorf("%s profile %s is not resolved", t, p)
	}
	payload, stride, err := render(t, p)
	if err != nil {
		return nil, err
	}
	s := &stream{
		driver:  d,
		camera:  t,
		profile: p,
		sink:    sink,
		ticker:  d.clk.Ticker(p.Period()),
		stride:  stride,
		payload: payload,
	}
	s.buffers.New = func() interface{} {
		buf := make([]byte, len(payload))
		return &buf
	}
	return s, nil
}

func (s *stream) run(ctx context.Context, start time.Time) error {
	defer s.ticker.Stop()
	logger := s.driver.logger
	logger.Debugw("stream running", "camera", s.camera, "profile", s.profile)
	if !s.driver.warmUpWait(ctx) {
		return nil
	}
	for {
		var tick time.Time
		select {
		case <-ctx.Done():
			logger.Debugw("stream stopped", "camera", s.camera, "frames", s.driver.FramesSent(s.camera))
			return nil
		case tick = <-s.ticker.C:
		}
		if s.driver.stalled[s.camera.Slot()].Load() {
			continue
		}
		// Frames are stamped with their exposure tick, not the time they are handed over.
		s.sink.OnFrame(s.frame(tick.Sub(start), tick))
		s.driver.frames[s.camera.Slot()].Inc()
	}
}

func (s *stream) frame(elapsed time.Duration, now time.Time) *camera.Frame {
	bufp := s.buffers.Get().(*[]byte)
	copy(*bufp, s.payload)
	f := &camera.Frame{
		Camera:          s.camera,
		Format:          s.profile.Format,
		Width:           s.profile.Width,
		Height:          s.profile.Height,
		Stride:          s.stride,
		DeviceTimestamp: s.driver.deviceTimestamp(elapsed),
		HostTimestamp:   now,
		Data:            *bufp,
		ValidBits:       s.profile.Format.PixelBits(),
		Release:         func() { s.buffers.Put(bufp) },
	}
	if s.camera == camera.Depth {
		f.ValueScale = 1
	}
	return f
}

// render draws the synthetic scene once in the stream's format.
func render(t camera.Type, p camera.StreamProfile) ([]byte, int, error) {
	w, h := p.Width, p.Height
	if p.Format == camera.FormatMJPG {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, colorScene(w, h), &jpeg.Options{Quality: 80}); err != nil {
			return nil, 0, errors.Wrap(err, "cannot encode fake mjpg frame")
		}
		return buf.Bytes(), 0, nil
	}
	stride, err := p.Format.MinStride(w)
	if err != nil {
		return nil, 0, err
	}
	size, err := p.Format.FrameSize(w, h)
	if err != nil {
		return nil, 0, err
	}
	out := make([]byte, size)
	switch p.Format {
	case camera.FormatRGB, camera.FormatBGR, camera.FormatBGRA:
		scene := colorScene(w, h)
		bpp := stride / w
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := scene.NRGBAAt(x, y)
				px := out[y*stride+x*bpp:]
				switch p.Format {
				case camera.FormatRGB:
					px[0], px[1], px[2] = c.R, c.G, c.B
				default:
					px[0], px[1], px[2] = c.B, c.G, c.R
					if bpp == 4 {
						px[3] = 255
					}
				}
			}
		}
	case camera.FormatYUYV, camera.FormatYUY2:
		for y := 0; y < h; y++ {
			for x := 0; x+1 < w; x += 2 {
				px := out[y*stride+2*x:]
				luma := uint8(255 * x / w)
				px[0], px[1], px[2], px[3] = luma, 128, luma, 128
			}
		}
	case camera.FormatY16:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				var v int
				if t == camera.Depth {
					v = sceneNearMM + (sceneFarMM-sceneNearMM)*y/h
				} else {
					v = irPeak * (x + y) / (w + h)
				}
				binary.LittleEndian.PutUint16(out[y*stride+2*x:], uint16(v))
			}
		}
	case camera.FormatY8, camera.FormatGray:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out[y*stride+x] = uint8(255 * (x + y) / (w + h))
			}
		}
	default:
		return nil, 0, errors.Errorf("fake device cannot render %s %s", t, p.Format)
	}
	return out, stride, nil
}

func colorScene(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(255 * x / w), G: uint8(255 * y / h), B: 96, A: 255})
		}
	}
	return img
}

func (d *Driver) runAccel(
	ctx context.Context, ticker *clock.Ticker, start time.Time, p camera.AccelProfile, sink device.ImuSink,
) error {
	defer ticker.Stop()
	// one g straight down
	gravity := int16(math.Min(32767, 32768/p.FullScale.G()))
	for goutils.SelectContextOrWaitChan(ctx, ticker.C) {
		ts := d.deviceTimestamp(d.clk.Since(start))
		sink.OnSample(camera.Accel, imu.AccelFromRaw(ts, 36.5, [3]int16{0, 0, gravity}, p.FullScale))
	}
	return nil
}

func (d *Driver) runGyro(
	ctx context.Context, ticker *clock.Ticker, start time.Time, p camera.GyroProfile, sink device.ImuSink,
) error {
	defer ticker.Stop()
	for goutils.SelectContextOrWaitChan(ctx, ticker.C) {
		elapsed := d.clk.Since(start)
		// slow yaw wobble
		yaw := int16(1000 * math.Sin(2*math.Pi*elapsed.Seconds()))
		sink.OnSample(camera.Gyro, imu.GyroFromRaw(d.deviceTimestamp(elapsed), 36.5, [3]int16{0, 0, yaw}, p.FullScale))
	}
	return nil
}
