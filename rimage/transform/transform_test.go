package transform

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"go.viam.com/rgbdsync/camera"
	"go.viam.com/rgbdsync/capture"
	"go.viam.com/rgbdsync/capturesync"
	"go.viam.com/rgbdsync/testutils"
)

var _ capturesync.Aligner = (*SoftwareAligner)(nil)

func depthImage(t *testing.T, w, h int, scale float32, values map[[2]int]uint16) *capture.Image {
	t.Helper()
	f := testutils.NewFrame(camera.Depth, camera.FormatY16, w, h, 7)
	f.ValueScale = scale
	for px, v := range values {
		binary.LittleEndian.PutUint16(f.Data[2*(px[1]*w+px[0]):], v)
	}
	img, err := capture.NewImageFromFrame(f)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { img.Release() }) //nolint:errcheck
	return img
}

func depthAt(img *capture.Image, x, y int) uint16 {
	return binary.LittleEndian.Uint16(img.Data()[2*(y*img.Width()+x):])
}

func TestIntrinsics(t *testing.T) {
	in := &Intrinsics{Fx: 100, Fy: 200, Cx: 50, Cy: 40, Width: 100, Height: 80}
	test.That(t, in.CheckValid(), test.ShouldBeNil)

	x, y, z := in.PixelToPoint(150, 40, 1000)
	test.That(t, x, test.ShouldEqual, 1000.)
	test.That(t, y, test.ShouldEqual, 0.)
	test.That(t, z, test.ShouldEqual, 1000.)
	u, v := in.PointToPixel(x, y, z)
	test.That(t, u, test.ShouldEqual, 150.)
	test.That(t, v, test.ShouldEqual, 40.)
	u, v = in.PointToPixel(1, 1, 0)
	test.That(t, u, test.ShouldEqual, -1.)
	test.That(t, v, test.ShouldEqual, -1.)

	m := in.Matrix()
	test.That(t, m.At(0, 0), test.ShouldEqual, 100.)
	test.That(t, m.At(1, 2), test.ShouldEqual, 40.)
	test.That(t, m.At(2, 2), test.ShouldEqual, 1.)

	var missing *Intrinsics
	test.That(t, errors.Is(missing.CheckValid(), ErrNoIntrinsics), test.ShouldBeTrue)
	bad := &Intrinsics{Fx: 0, Fy: 1, Width: 1, Height: 1}
	test.That(t, errors.Is(bad.CheckValid(), ErrNoIntrinsics), test.ShouldBeTrue)
}

func TestDistortion(t *testing.T) {
	d := Distortion{K1: 0.1, K2: -0.05, K3: 0.01, K4: 0.02, P1: 0.001, P2: 0.002}
	for _, pt := range [][2]float64{{0, 0}, {0.2, -0.1}, {-0.3, 0.25}, {0.4, 0.4}} {
		xd, yd := d.Distort(pt[0], pt[1])
		xu, yu := d.Undistort(xd, yd)
		test.That(t, xu, test.ShouldAlmostEqual, pt[0], 1e-8)
		test.That(t, yu, test.ShouldAlmostEqual, pt[1], 1e-8)
	}
	x, y := Distortion{}.Undistort(0.3, 0.1)
	test.That(t, x, test.ShouldEqual, 0.3)
	test.That(t, y, test.ShouldEqual, 0.1)
}

func TestCalibration(t *testing.T) {
	calib := &CamerasCalibration{
		DepthIntrinsics: Intrinsics{Fx: 4, Fy: 4, Cx: 1.5, Cy: 1.5, Width: 4, Height: 4},
		ColorIntrinsics: Intrinsics{Fx: 2, Fy: 2, Cx: 0.5, Cy: 0.5, Width: 2, Height: 2},
		DepthToColor:    IdentityExtrinsics(),
	}
	test.That(t, calib.CheckValid(), test.ShouldBeNil)

	path := filepath.Join(t.TempDir(), "calib.json")
	data, err := json.Marshal(calib)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, os.WriteFile(path, data, 0o600), test.ShouldBeNil)
	read, err := NewCalibrationFromJSONFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, read, test.ShouldResemble, calib)

	skewed := *calib
	skewed.DepthToColor.Rotation[0] = 2
	test.That(t, skewed.CheckValid(), test.ShouldNotBeNil)

	_, err = NewSoftwareAligner(&skewed)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewCalibrationFromJSONFile(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestAlignIdentity(t *testing.T) {
	in := Intrinsics{Fx: 4, Fy: 4, Cx: 1.5, Cy: 1.5, Width: 4, Height: 4}
	aligner, err := NewSoftwareAligner(&CamerasCalibration{
		DepthIntrinsics: in,
		ColorIntrinsics: in,
		DepthToColor:    IdentityExtrinsics(),
	})
	test.That(t, err, test.ShouldBeNil)

	depth := depthImage(t, 4, 4, 0.5, map[[2]int]uint16{{0, 0}: 2000, {3, 2}: 1234})
	out, err := aligner.AlignDepthToColor(depth)
	test.That(t, err, test.ShouldBeNil)
	defer out.Release() //nolint:errcheck
	test.That(t, out.Width(), test.ShouldEqual, 4)
	test.That(t, depthAt(out, 0, 0), test.ShouldEqual, uint16(2000))
	test.That(t, depthAt(out, 3, 2), test.ShouldEqual, uint16(1234))
	test.That(t, depthAt(out, 1, 1), test.ShouldEqual, uint16(0))
	test.That(t, out.DeviceTimestamp(), test.ShouldEqual, uint64(7))
	scale, err := out.ValueScale()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, scale, test.ShouldEqual, float32(0.5))
}

func TestAlignTranslation(t *testing.T) {
	in := Intrinsics{Fx: 100, Fy: 100, Cx: 1.5, Cy: 1.5, Width: 4, Height: 4}
	ext := IdentityExtrinsics()
	// 10mm at 1m with a 100px focal length moves one pixel
	ext.Translation = [3]float64{10, 0, 0}
	aligner, err := NewSoftwareAligner(&CamerasCalibration{DepthIntrinsics: in, ColorIntrinsics: in, DepthToColor: ext})
	test.That(t, err, test.ShouldBeNil)

	depth := depthImage(t, 4, 4, 1, map[[2]int]uint16{{1, 1}: 1000, {3, 1}: 1000})
	out, err := aligner.AlignDepthToColor(depth)
	test.That(t, err, test.ShouldBeNil)
	defer out.Release() //nolint:errcheck
	test.That(t, depthAt(out, 2, 1), test.ShouldEqual, uint16(1000))
	test.That(t, depthAt(out, 1, 1), test.ShouldEqual, uint16(0))
	// pushed out of the color frame
	test.That(t, depthAt(out, 3, 1), test.ShouldEqual, uint16(0))
}

func TestAlignNearestWins(t *testing.T) {
	aligner, err := NewSoftwareAligner(&CamerasCalibration{
		DepthIntrinsics: Intrinsics{Fx: 4, Fy: 4, Cx: 1.5, Cy: 1.5, Width: 4, Height: 4},
		ColorIntrinsics: Intrinsics{Fx: 2, Fy: 2, Cx: 0.5, Cy: 0.5, Width: 2, Height: 2},
		DepthToColor:    IdentityExtrinsics(),
	})
	test.That(t, err, test.ShouldBeNil)

	depth := depthImage(t, 4, 4, 1, map[[2]int]uint16{
		{0, 0}: 900, {1, 0}: 700, {0, 1}: 800,
		{2, 2}: 500, {3, 3}: 400,
	})
	out, err := aligner.AlignDepthToColor(depth)
	test.That(t, err, test.ShouldBeNil)
	defer out.Release() //nolint:errcheck
	test.That(t, out.Width(), test.ShouldEqual, 2)
	test.That(t, out.Height(), test.ShouldEqual, 2)
	test.That(t, depthAt(out, 0, 0), test.ShouldEqual, uint16(700))
	test.That(t, depthAt(out, 1, 1), test.ShouldEqual, uint16(400))
	test.That(t, depthAt(out, 1, 0), test.ShouldEqual, uint16(0))

	_, err = aligner.AlignDepthToColor(depthImage(t, 2, 2, 1, nil))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPointClouds(t *testing.T) {
	in := &Intrinsics{Fx: 10, Fy: 10, Cx: 1, Cy: 1, Width: 4, Height: 4}
	depth := depthImage(t, 4, 4, 0.5, map[[2]int]uint16{{1, 1}: 2000, {3, 1}: 400})

	pts, err := DepthToPointCloud(depth, in)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(pts), test.ShouldEqual, 2)
	test.That(t, pts[0], test.ShouldResemble, Point3{X: 0, Y: 0, Z: 1000})
	test.That(t, pts[1].X, test.ShouldAlmostEqual, 40, 1e-9)
	test.That(t, pts[1].Z, test.ShouldAlmostEqual, 200, 1e-9)

	f := testutils.NewFrame(camera.Color, camera.FormatRGB, 4, 4, 7)
	// pad to a decodable payload
	f.Data = append(f.Data, make([]byte, 1024)...)
	copy(f.Data[3*(4+1):], []byte{9, 8, 7})
	colorImg, err := capture.NewImageFromFrame(f)
	test.That(t, err, test.ShouldBeNil)
	defer colorImg.Release() //nolint:errcheck

	colored, err := DepthToColoredPointCloud(context.Background(), depth, colorImg, in)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(colored), test.ShouldEqual, 2)
	test.That(t, colored[0].Point3, test.ShouldResemble, Point3{X: 0, Y: 0, Z: 1000})
	test.That(t, []uint8{colored[0].R, colored[0].G, colored[0].B}, test.ShouldResemble, []uint8{9, 8, 7})

	_, err = DepthToPointCloud(depth, &Intrinsics{Fx: 10, Fy: 10, Width: 8, Height: 8})
	test.That(t, err, test.ShouldNotBeNil)
}
