package camera

import (
	"time"

	"github.com/pkg/errors"
)

// Frame is one raw sensor buffer as delivered by a driver. Ownership of Data passes to whoever
// receives the frame; Release, when set, hands a driver-owned buffer back once it is no longer
// needed.
type Frame struct {
	Camera Type
	Format Format
	Width  int
	Height int
	// Stride is the row span in bytes. Zero for non-planar formats.
	Stride int
	// DeviceTimestamp is in microseconds on the device clock. It may wrap.
	DeviceTimestamp uint64
	HostTimestamp   time.Time
	Data            []byte
	// Size is the number of meaningful bytes in Data. Zero means len(Data).
	Size int
	// ValidBits is the number of significant bits per pixel for sub-16-bit sensors packed into
	// 16-bit words. Zero means the format's own depth.
	ValidBits int
	// ValueScale converts depth pixels to millimeters. Depth frames only.
	ValueScale float32
	Release    func()
}

// PayloadSize returns the number of meaningful bytes.
func (f *Frame) PayloadSize() int {
	if f.Size > 0 {
		return f.Size
	}
	return len(f.Data)
}

// Validate checks the frame invariants a driver must honor.
func (f *Frame) Validate() error {
	if !f.Camera.Valid() {
		return errors.Errorf("frame has invalid camera type %d", f.Camera)
	}
	if f.Size > len(f.Data) {
		return errors.Errorf("frame size %d exceeds buffer capacity %d", f.Size, len(f.Data))
	}
	if f.Format.Planar() && f.Stride != 0 {
		minStride, err := f.Format.MinStride(f.Width)
		if err != nil {
			return err
		}
		if f.Stride < minStride {
			return errors.Errorf("stride %d shorter than row of %d bytes", f.Stride, minStride)
		}
	}
	return nil
}

// DeviceTimestampDiff returns a-b in microseconds on a clock that may wrap.
func DeviceTimestampDiff(a, b uint64) int64 {
	return int64(a - b)
}
