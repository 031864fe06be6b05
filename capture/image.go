// Package capture holds the reference counted Image and Capture handles.
//
// An Image owns one buffer, allocated here or supplied by the caller with a release callback. A
// Capture bundles at most one Image per camera slot. Many captures may reference the same Image;
// the buffer is freed when its last owner releases it.
package capture

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/rgbdsync/camera"
	"go.viam.com/rgbdsync/refcount"
)

const imageKind = "image"

// BufferReleaseFunc hands a caller-supplied buffer back to its owner.
type BufferReleaseFunc func(buf []byte)

// Image is a reference counted handle on one frame buffer.
type Image struct {
	refs *refcount.Counter

	mu         sync.RWMutex
	source     camera.Type
	format     camera.Format
	width      int
	height     int
	stride     int
	buf        []byte
	size       int
	deviceTS   uint64
	hostTS     time.Time
	validBits  int
	valueScale float32
}

// NewImage allocates an image whose buffer fits the format and dimensions. A zero stride means
// packed rows. Non-planar formats get an upper bound of three bytes per pixel.
func NewImage(source camera.Type, format camera.Format, width, height, stride int) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid image dimensions %dx%d", width, height)
	}
	var capacity int
	if format.Planar() {
		minStride, err := format.MinStride(width)
		if err != nil {
			return nil, err
		}
		if stride == 0 {
			stride = minStride
		}
		if stride < minStride {
			return nil, errors.Errorf("stride %d shorter than row of %d bytes", stride, minStride)
		}
		packed, err := format.FrameSize(width, height)
		if err != nil {
			return nil, err
		}
		capacity = packed + (stride-minStride)*height
	} else {
		stride = 0
		capacity = width * height * 3
	}
	buf := make([]byte, capacity)
	return newImage(source, format, width, height, stride, buf, len(buf), nil), nil
}

// NewImageFromBuffer wraps a caller-owned buffer. release, if not nil, is called exactly once
// with buf when the last owner releases the image.
func NewImageFromBuffer(
	source camera.Type,
	format camera.Format,
	width, height, stride int,
	buf []byte,
	release BufferReleaseFunc,
) (*Image, error) {
	if len(buf) == 0 {
		return nil, errors.New("empty image buffer")
	}
	if format.Planar() {
		if stride == 0 {
			minStride, err := format.MinStride(width)
			if err != nil {
				return nil, err
			}
			stride = minStride
		}
		if stride*height > len(buf) {
			return nil, errors.Errorf("buffer of %d bytes too small for %d rows of %d bytes", len(buf), height, stride)
		}
	} else {
		stride = 0
	}
	var destroy func()
	if release != nil {
		destroy = func() { release(buf) }
	}
	return newImage(source, format, width, height, stride, buf, len(buf), destroy), nil
}

// NewImageFromFrame adopts a driver frame, including its timestamps and release hook.
func NewImageFromFrame(f *camera.Frame) (*Image, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	stride := f.Stride
	if f.Format.Planar() && stride == 0 {
		var err error
		if stride, err = f.Format.MinStride(f.Width); err != nil {
			return nil, err
		}
	}
	if !f.Format.Planar() {
		stride = 0
	}
	img := newImage(f.Camera, f.Format, f.Width, f.Height, stride, f.Data, f.PayloadSize(), f.Release)
	img.deviceTS = f.DeviceTimestamp
	img.hostTS = f.HostTimestamp
	img.validBits = f.ValidBits
	img.valueScale = f.ValueScale
	return img, nil
}

func newImage(source camera.Type, format camera.Format, width, height, stride int, buf []byte, size int, destroy func()) *Image {
	img := &Image{
		source:    source,
		format:    format,
		width:     width,
		height:    height,
		stride:    stride,
		buf:       buf,
		size:      size,
		validBits: format.PixelBits(),
	}
	img.refs = refcount.DefaultTracker.Track(imageKind, func() {
		img.mu.Lock()
		img.buf = nil
		img.size = 0
		img.mu.Unlock()
		if destroy != nil {
			destroy()
		}
	})
	return img
}

// LiveImages returns the number of images not yet destroyed.
func LiveImages() int64 {
	return refcount.DefaultTracker.Live(imageKind)
}

// Ref adds an owner.
func (img *Image) Ref() error {
	return img.refs.Ref()
}

// Release drops an owner, freeing the buffer with the last one.
func (img *Image) Release() error {
	_, err := img.refs.Release()
	return err
}

// RefCount returns the current number of owners.
func (img *Image) RefCount() int64 {
	return img.refs.Count()
}

// Buffer returns the whole underlying buffer. It is nil once the image is destroyed.
func (img *Image) Buffer() []byte {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.buf
}

// Data returns the meaningful bytes of the buffer.
func (img *Image) Data() []byte {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.buf[:img.size]
}

// Size returns the number of meaningful bytes.
func (img *Image) Size() int {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.size
}

// SetSize sets the number of meaningful bytes, e.g. after encoding into the buffer.
func (img *Image) SetSize(size int) error {
	img.mu.Lock()
	defer img.mu.Unlock()
	if size < 0 || size > len(img.buf) {
		return errors.Errorf("size %d outside buffer capacity %d", size, len(img.buf))
	}
	img.size = size
	return nil
}

// Format returns the pixel format.
func (img *Image) Format() camera.Format {
	return img.format
}

// Width returns the width in pixels.
func (img *Image) Width() int {
	return img.width
}

// Height returns the height in pixels.
func (img *Image) Height() int {
	return img.height
}

// Stride returns the row span in bytes. Rows may be padded, so it is not necessarily a multiple
// of the width. Compressed formats have no stride and return an error.
func (img *Image) Stride() (int, error) {
	if !img.format.Planar() {
		return 0, camera.NewError(camera.ErrNotSupported, "stride", img.source, "format "+img.format.String()+" has no stride")
	}
	return img.stride, nil
}

// SourceCamera returns the camera the image came from.
func (img *Image) SourceCamera() camera.Type {
	return img.source
}

// DeviceTimestamp returns the device clock timestamp in microseconds.
func (img *Image) DeviceTimestamp() uint64 {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.deviceTS
}

// HostTimestamp returns the host arrival time.
func (img *Image) HostTimestamp() time.Time {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.hostTS
}

// SetTimestamps sets both timestamps.
func (img *Image) SetTimestamps(deviceUsec uint64, host time.Time) {
	img.mu.Lock()
	defer img.mu.Unlock()
	img.deviceTS = deviceUsec
	img.hostTS = host
}

// ValidBits returns the number of significant bits per pixel.
func (img *Image) ValidBits() int {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.validBits
}

// SetValidBits sets the number of significant bits per pixel.
func (img *Image) SetValidBits(bits int) {
	img.mu.Lock()
	defer img.mu.Unlock()
	img.validBits = bits
}

// ValueScale returns the factor converting depth pixels to millimeters. Only depth images have
// one.
func (img *Image) ValueScale() (float32, error) {
	if img.source != camera.Depth {
		return 0, camera.NewError(camera.ErrNotSupported, "value scale", img.source, "only depth images have a value scale")
	}
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.valueScale, nil
}

// SetValueScale sets the depth value scale.
func (img *Image) SetValueScale(scale float32) error {
	if img.source != camera.Depth {
		return camera.NewError(camera.ErrNotSupported, "value scale", img.source, "only depth images have a value scale")
	}
	img.mu.Lock()
	defer img.mu.Unlock()
	img.valueScale = scale
	return nil
}
