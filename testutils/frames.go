// Package testutils provides synthetic frames and device capabilities for tests.
package testutils

import (
	"encoding/binary"
	"time"

	"go.uber.org/atomic"

	"go.viam.com/rgbdsync/camera"
)

// Capabilities returns the capability table of a typical RGB-D device: MJPG and RGB color, Y16
// depth at 30 and 15 fps, Y16 and Y8 IR, and both IMU sensors.
func Capabilities() camera.Capabilities {
	depth30 := camera.StreamProfile{Width: 640, Height: 576, FrameRate: 30, Format: camera.FormatY16}
	return camera.Capabilities{
		Cameras: camera.NewRegistry().
			Add(camera.Color,
				camera.StreamProfile{Width: 640, Height: 480, FrameRate: 30, Format: camera.FormatMJPG},
				camera.StreamProfile{Width: 640, Height: 480, FrameRate: 30, Format: camera.FormatRGB},
				camera.StreamProfile{Width: 1280, Height: 720, FrameRate: 15, Format: camera.FormatMJPG},
			).
			Add(camera.Depth,
				depth30,
				camera.StreamProfile{Width: 320, Height: 288, FrameRate: 15, Format: camera.FormatY16},
			).
			Add(camera.IR,
				camera.StreamProfile{Width: 640, Height: 576, FrameRate: 30, Format: camera.FormatY16},
				camera.StreamProfile{Width: 640, Height: 576, FrameRate: 30, Format: camera.FormatY8},
			),
		Alignable: camera.NewRegistry().Add(camera.Depth, depth30),
		Accel: []camera.AccelProfile{
			{FullScale: camera.AccelFS4g, SampleRate: camera.SampleRate200Hz},
			{FullScale: camera.AccelFS2g, SampleRate: camera.SampleRate100Hz},
		},
		Gyro: []camera.GyroProfile{
			{FullScale: camera.GyroFS500dps, SampleRate: camera.SampleRate200Hz},
		},
	}
}

// ReleaseCounter counts frame release hooks that have run.
type ReleaseCounter struct {
	count atomic.Int64
}

// Hook returns a release hook that bumps the counter.
func (rc *ReleaseCounter) Hook() func() {
	return func() { rc.count.Inc() }
}

// Count returns how many hooks have run.
func (rc *ReleaseCounter) Count() int64 {
	return rc.count.Load()
}

// NewFrame returns a frame with a zeroed buffer sized for the format. Compressed formats get a
// small fake payload.
func NewFrame(t camera.Type, format camera.Format, width, height int, deviceUsec uint64) *camera.Frame {
	size, err := format.FrameSize(width, height)
	if err != nil {
		size = 4096
	}
	stride := 0
	if format.Planar() {
		stride, _ = format.MinStride(width)
	}
	return &camera.Frame{
		Camera:          t,
		Format:          format,
		Width:           width,
		Height:          height,
		Stride:          stride,
		DeviceTimestamp: deviceUsec,
		HostTimestamp:   time.Now(),
		Data:            make([]byte, size),
	}
}

// ColorFrame returns a 4x4 RGB color frame.
func ColorFrame(deviceUsec uint64) *camera.Frame {
	return NewFrame(camera.Color, camera.FormatRGB, 4, 4, deviceUsec)
}

// DepthFrame returns a 4x4 Y16 depth frame with every pixel set to value.
func DepthFrame(deviceUsec uint64, value uint16, scale float32) *camera.Frame {
	f := NewFrame(camera.Depth, camera.FormatY16, 4, 4, deviceUsec)
	FillY16(f.Data, value)
	f.ValueScale = scale
	return f
}

// IRFrame returns a 4x4 Y8 IR frame.
func IRFrame(deviceUsec uint64) *camera.Frame {
	return NewFrame(camera.IR, camera.FormatY8, 4, 4, deviceUsec)
}

// FillY16 sets every little endian 16-bit pixel of buf to value.
func FillY16(buf []byte, value uint16) {
	for i := 0; i+1 < len(buf); i += 2 {
		binary.LittleEndian.PutUint16(buf[i:], value)
	}
}
