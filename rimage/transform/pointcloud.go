package transform

import (
	"context"
	"encoding/binary"
	"image/color"

	"github.com/pkg/errors"

	"go.viam.com/rgbdsync/camera"
	"go.viam.com/rgbdsync/capture"
	"go.viam.com/rgbdsync/rimage"
)

// Point3 is a point in camera space, in millimeters.
type Point3 struct {
	X, Y, Z float64
}

// ColoredPoint3 is a point with the color the color camera saw there.
type ColoredPoint3 struct {
	Point3
	R, G, B uint8
}

// DepthToPointCloud lifts every nonzero depth pixel to a point using the depth camera's
// intrinsics. Depth that was aligned to color must be lifted with the color intrinsics instead.
func DepthToPointCloud(depth *capture.Image, in *Intrinsics) ([]Point3, error) {
	var pts []Point3
	err := eachDepth(depth, in, func(_, _ int, p Point3) {
		pts = append(pts, p)
	})
	return pts, err
}

// DepthToColoredPointCloud is DepthToPointCloud for depth aligned to a color image of the same
// size, attaching each point's color.
func DepthToColoredPointCloud(ctx context.Context, depth, colorImg *capture.Image, in *Intrinsics) ([]ColoredPoint3, error) {
	if colorImg.Width() != depth.Width() || colorImg.Height() != depth.Height() {
		return nil, errors.Errorf("depth %dx%d and color %dx%d dimensions don't match",
			depth.Width(), depth.Height(), colorImg.Width(), colorImg.Height())
	}
	pic, err := rimage.DecodeContext(ctx, colorImg)
	if err != nil {
		return nil, err
	}
	if pic == nil {
		return nil, camera.NewError(camera.ErrNotSupported, "colored point cloud", camera.Color,
			"cannot decode "+colorImg.Format().String())
	}
	b := pic.Bounds()
	var pts []ColoredPoint3
	err = eachDepth(depth, in, func(u, v int, p Point3) {
		c := color.NRGBAModel.Convert(pic.At(b.Min.X+u, b.Min.Y+v)).(color.NRGBA)
		pts = append(pts, ColoredPoint3{Point3: p, R: c.R, G: c.G, B: c.B})
	})
	return pts, err
}

func eachDepth(depth *capture.Image, in *Intrinsics, fn func(u, v int, p Point3)) error {
	if err := in.CheckValid(); err != nil {
		return err
	}
	if depth.SourceCamera() != camera.Depth || depth.Format() != camera.FormatY16 {
		return errors.Errorf("cannot make points from a %s %s image", depth.SourceCamera(), depth.Format())
	}
	if depth.Width() != in.Width || depth.Height() != in.Height {
		return errors.Errorf("depth image %dx%d does not match intrinsics %dx%d",
			depth.Width(), depth.Height(), in.Width, in.Height)
	}
	scale, err := depth.ValueScale()
	if err != nil {
		return err
	}
	stride, err := depth.Stride()
	if err != nil {
		return err
	}
	data := depth.Data()
	if len(data) < (in.Height-1)*stride+2*in.Width {
		return errors.Errorf("depth payload of %d bytes too short", len(data))
	}
	for v := 0; v < in.Height; v++ {
		row := data[v*stride:]
		for u := 0; u < in.Width; u++ {
			raw := binary.LittleEndian.Uint16(row[2*u:])
			if raw == 0 {
				continue
			}
			x, y, z := in.PixelToPoint(float64(u), float64(v), rimage.DepthScale(raw, scale))
			fn(u, v, Point3{X: x, Y: y, Z: z})
		}
	}
	return nil
}
