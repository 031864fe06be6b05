// Package transform holds camera models and the geometry that moves depth between camera frames.
package transform

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is when a camera does not have usable intrinsic parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intrinsics are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// Intrinsics holds the parameters of a pinhole projection from camera space to the image plane.
type Intrinsics struct {
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Cx     float64 `json:"cx"`
	Cy     float64 `json:"cy"`
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
}

// CheckValid checks if the fields for Intrinsics have valid inputs.
func (in *Intrinsics) CheckValid() error {
	if in == nil {
		return NewNoIntrinsicsError("intrinsics do not exist")
	}
	if in.Width <= 0 || in.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("invalid size (%d, %d)", in.Width, in.Height))
	}
	if in.Fx <= 0 || in.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("invalid focal length (%v, %v)", in.Fx, in.Fy))
	}
	if in.Cx < 0 || in.Cy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("invalid principal point (%v, %v)", in.Cx, in.Cy))
	}
	return nil
}

// PixelToPoint lifts a pixel at depth z to a point in camera space, in the units of z.
func (in *Intrinsics) PixelToPoint(u, v, z float64) (float64, float64, float64) {
	return (u - in.Cx) / in.Fx * z, (v - in.Cy) / in.Fy * z, z
}

// PointToPixel projects a camera space point onto the image plane. Points at zero depth land at
// (-1, -1) so bounds checks drop them.
func (in *Intrinsics) PointToPixel(x, y, z float64) (float64, float64) {
	if z == 0 {
		return -1, -1
	}
	return math.Round(x/z*in.Fx + in.Cx), math.Round(y/z*in.Fy + in.Cy)
}

// Normalize maps a pixel to normalized image coordinates.
func (in *Intrinsics) Normalize(u, v float64) (float64, float64) {
	return (u - in.Cx) / in.Fx, (v - in.Cy) / in.Fy
}

// Denormalize maps normalized image coordinates back to a pixel.
func (in *Intrinsics) Denormalize(x, y float64) (float64, float64) {
	return x*in.Fx + in.Cx, y*in.Fy + in.Cy
}

// Matrix returns the camera matrix
//
//	[[fx 0 cx],
//	 [0 fy cy],
//	 [0  0  1]]
func (in *Intrinsics) Matrix() *mat.Dense {
	if in == nil {
		return nil
	}
	return mat.NewDense(3, 3, []float64{
		in.Fx, 0, in.Cx,
		0, in.Fy, in.Cy,
		0, 0, 1,
	})
}
