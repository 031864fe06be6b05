package transform

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/rgbdsync/camera"
	"go.viam.com/rgbdsync/capture"
	"go.viam.com/rgbdsync/rimage"
)

// SoftwareAligner reprojects depth images into the color camera's image plane.
type SoftwareAligner struct {
	calib    CamerasCalibration
	rotation *mat.Dense
	shift    *mat.VecDense
}

// NewSoftwareAligner returns an aligner for a calibrated depth and color pair.
func NewSoftwareAligner(calib *CamerasCalibration) (*SoftwareAligner, error) {
	if err := calib.CheckValid(); err != nil {
		return nil, err
	}
	t := calib.DepthToColor.Translation
	return &SoftwareAligner{
		calib:    *calib,
		rotation: calib.DepthToColor.RotationMatrix(),
		shift:    mat.NewVecDense(3, t[:]),
	}, nil
}

// AlignDepthToColor returns a new Y16 depth image the size of the color camera, where each pixel
// holds the depth of the point that color pixel sees. When several depth pixels land on the same
// color pixel the nearest wins. The result keeps the input's value scale and timestamps.
func (sa *SoftwareAligner) AlignDepthToColor(depth *capture.Image) (*capture.Image, error) {
	if depth.SourceCamera() != camera.Depth || depth.Format() != camera.FormatY16 {
		return nil, errors.Errorf("cannot align a %s %s image", depth.SourceCamera(), depth.Format())
	}
	din, cin := &sa.calib.DepthIntrinsics, &sa.calib.ColorIntrinsics
	if depth.Width() != din.Width || depth.Height() != din.Height {
		return nil, errors.Errorf("depth image %dx%d does not match intrinsics %dx%d",
			depth.Width(), depth.Height(), din.Width, din.Height)
	}
	scale, err := depth.ValueScale()
	if err != nil {
		return nil, err
	}
	stride, err := depth.Stride()
	if err != nil {
		return nil, err
	}
	src := depth.Data()
	if len(src) < (din.Height-1)*stride+2*din.Width {
		return nil, errors.Errorf("depth payload of %d bytes too short", len(src))
	}

	out, err := capture.NewImage(camera.Depth, camera.FormatY16, cin.Width, cin.Height, 0)
	if err != nil {
		return nil, err
	}
	if err := out.SetValueScale(scale); err != nil {
		out.Release() //nolint:errcheck
		return nil, err
	}
	out.SetTimestamps(depth.DeviceTimestamp(), depth.HostTimestamp())
	out.SetValidBits(depth.ValidBits())
	dst := out.Buffer()
	outStride := 2 * cin.Width

	unit := rimage.DepthScale(1, scale)
	p := mat.NewVecDense(3, nil)
	var q mat.VecDense
	for v := 0; v < din.Height; v++ {
		row := src[v*stride:]
		for u := 0; u < din.Width; u++ {
			raw := binary.LittleEndian.Uint16(row[2*u:])
			if raw == 0 {
				continue
			}
			z := rimage.DepthScale(raw, scale)
			xn, yn := din.Normalize(float64(u), float64(v))
			xn, yn = sa.calib.DepthDistortion.Undistort(xn, yn)
			p.SetVec(0, xn*z)
			p.SetVec(1, yn*z)
			p.SetVec(2, z)
			q.MulVec(sa.rotation, p)
			q.AddVec(&q, sa.shift)

			zc := q.AtVec(2)
			if zc <= 0 {
				continue
			}
			xc, yc := sa.calib.ColorDistortion.Distort(q.AtVec(0)/zc, q.AtVec(1)/zc)
			cu, cv := cin.Denormalize(xc, yc)
			x, y := int(math.Round(cu)), int(math.Round(cv))
			if x < 0 || y < 0 || x >= cin.Width || y >= cin.Height {
				continue
			}
			value := math.Round(zc / unit)
			if value < 1 || value > math.MaxUint16 {
				continue
			}
			off := y*outStride + 2*x
			if prev := binary.LittleEndian.Uint16(dst[off:]); prev == 0 || uint16(value) < prev {
				binary.LittleEndian.PutUint16(dst[off:], uint16(value))
			}
		}
	}
	return out, nil
}
