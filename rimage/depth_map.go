package rimage

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"go.viam.com/rgbdsync/camera"
	"go.viam.com/rgbdsync/capture"
)

// Depth is a distance in millimeters. Zero means no reading.
type Depth uint16

// MaxDepth is the largest representable depth.
const MaxDepth = Depth(math.MaxUint16)

// DepthMap is a packed grid of depths in millimeters.
type DepthMap struct {
	width  int
	height int
	data   []Depth
}

// NewEmptyDepthMap returns a zeroed depth map.
func NewEmptyDepthMap(width, height int) *DepthMap {
	return &DepthMap{
		width:  width,
		height: height,
		data:   make([]Depth, width*height),
	}
}

// NewDepthMapFromImage converts a Y16 depth image to millimeters using its value scale.
func NewDepthMapFromImage(img *capture.Image) (*DepthMap, error) {
	if img.SourceCamera() != camera.Depth || img.Format() != camera.FormatY16 {
		return nil, errors.Errorf("cannot make a depth map from a %s %s image", img.SourceCamera(), img.Format())
	}
	scale, err := img.ValueScale()
	if err != nil {
		return nil, err
	}
	dm := NewEmptyDepthMap(img.Width(), img.Height())
	if err := rows(img, 2, func(x, y int, px []byte) {
		mm := math.Round(DepthScale(binary.LittleEndian.Uint16(px), scale))
		if mm > float64(MaxDepth) {
			mm = float64(MaxDepth)
		}
		dm.Set(x, y, Depth(mm))
	}); err != nil {
		return nil, err
	}
	return dm, nil
}

// Width returns the width.
func (dm *DepthMap) Width() int {
	return dm.width
}

// Height returns the height.
func (dm *DepthMap) Height() int {
	return dm.height
}

// Contains reports whether (x, y) is inside the map.
func (dm *DepthMap) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < dm.width && y < dm.height
}

// At returns the depth at (x, y).
func (dm *DepthMap) At(x, y int) Depth {
	return dm.data[y*dm.width+x]
}

// Set sets the depth at (x, y).
func (dm *DepthMap) Set(x, y int, d Depth) {
	dm.data[y*dm.width+x] = d
}

// MinMax returns the smallest and largest nonzero depths. Both are zero for an empty map.
func (dm *DepthMap) MinMax() (Depth, Depth) {
	low, high := MaxDepth, Depth(0)
	for _, d := range dm.data {
		if d == 0 {
			continue
		}
		if d < low {
			low = d
		}
		if d > high {
			high = d
		}
	}
	if high == 0 {
		return 0, 0
	}
	return low, high
}

// ToImage writes the map into a new Y16 depth image with a value scale of one.
func (dm *DepthMap) ToImage() (*capture.Image, error) {
	img, err := capture.NewImage(camera.Depth, camera.FormatY16, dm.width, dm.height, 0)
	if err != nil {
		return nil, err
	}
	if err := img.SetValueScale(1); err != nil {
		img.Release() //nolint:errcheck
		return nil, err
	}
	img.SetValidBits(16)
	buf := img.Buffer()
	for i, d := range dm.data {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(d))
	}
	return img, nil
}
