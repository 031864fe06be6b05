package capture

import (
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/rgbdsync/camera"
	"go.viam.com/rgbdsync/refcount"
)

const captureKind = "capture"

// Capture is a time aligned bundle of at most one image per camera slot. It owns one reference
// on each image it holds.
type Capture struct {
	refs *refcount.Counter

	mu     sync.Mutex
	images [camera.NumSlots]*Image
}

// New returns an empty capture with one owner.
func New() *Capture {
	c := &Capture{}
	c.refs = refcount.DefaultTracker.Track(captureKind, c.destroy)
	return c
}

// LiveCaptures returns the number of captures not yet destroyed.
func LiveCaptures() int64 {
	return refcount.DefaultTracker.Live(captureKind)
}

func (c *Capture) destroy() {
	c.mu.Lock()
	images := c.images
	c.images = [camera.NumSlots]*Image{}
	c.mu.Unlock()
	for _, img := range images {
		if img != nil {
			//nolint:errcheck
			img.Release()
		}
	}
}

// Ref adds an owner.
func (c *Capture) Ref() error {
	return c.refs.Ref()
}

// Release drops an owner. The last release releases every held image.
func (c *Capture) Release() error {
	_, err := c.refs.Release()
	return err
}

// RefCount returns the current number of owners.
func (c *Capture) RefCount() int64 {
	return c.refs.Count()
}

// Image returns the image in the camera's slot, or nil. The capture keeps its reference; callers
// that outlive the capture must Ref the image.
func (c *Capture) Image(t camera.Type) *Image {
	slot := t.Slot()
	if slot < 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.images[slot]
}

// ColorImage returns the color image, or nil.
func (c *Capture) ColorImage() *Image { return c.Image(camera.Color) }

// DepthImage returns the depth image, or nil.
func (c *Capture) DepthImage() *Image { return c.Image(camera.Depth) }

// IRImage returns the IR image, or nil.
func (c *Capture) IRImage() *Image { return c.Image(camera.IR) }

// SetImage places img in the camera's slot, taking a reference on it and releasing any image it
// replaces. A nil img clears the slot.
func (c *Capture) SetImage(t camera.Type, img *Image) error {
	slot := t.Slot()
	if slot < 0 {
		return camera.NewError(camera.ErrNotSupported, "set image", t, "no capture slot for camera type")
	}
	if !c.refs.Alive() {
		return errors.Wrap(refcount.ErrReleased, "set image")
	}
	if img != nil {
		if err := img.Ref(); err != nil {
			return errors.Wrap(err, "set image")
		}
	}
	c.mu.Lock()
	old := c.images[slot]
	c.images[slot] = img
	c.mu.Unlock()
	if old != nil {
		return old.Release()
	}
	return nil
}

// SetColorImage places img in the color slot.
func (c *Capture) SetColorImage(img *Image) error { return c.SetImage(camera.Color, img) }

// SetDepthImage places img in the depth slot.
func (c *Capture) SetDepthImage(img *Image) error { return c.SetImage(camera.Depth, img) }

// SetIRImage places img in the IR slot.
func (c *Capture) SetIRImage(img *Image) error { return c.SetImage(camera.IR, img) }

// ClearImage empties the camera's slot.
func (c *Capture) ClearImage(t camera.Type) error {
	return c.SetImage(t, nil)
}

// Cameras returns the camera types with a filled slot, in slot order.
func (c *Capture) Cameras() []camera.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []camera.Type
	for i, img := range c.images {
		if img != nil {
			out = append(out, camera.Types[i])
		}
	}
	return out
}

// Len returns the number of filled slots.
func (c *Capture) Len() int {
	return len(c.Cameras())
}

// Has reports whether the camera's slot is filled.
func (c *Capture) Has(t camera.Type) bool {
	return c.Image(t) != nil
}
