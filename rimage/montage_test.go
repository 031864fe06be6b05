package rimage

import (
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"go.viam.com/test"

	"go.viam.com/rgbdsync/camera"
	"go.viam.com/rgbdsync/testutils"
)

var (
	red  = color.NRGBA{R: 255, A: 255}
	blue = color.NRGBA{B: 255, A: 255}
)

func TestMontageTiles(t *testing.T) {
	pics := []image.Image{imaging.New(10, 10, red), nil, imaging.New(20, 20, blue)}

	out, err := Montage(pics, nil, 40, 20, LayoutHorizontal)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Bounds(), test.ShouldResemble, image.Rect(0, 0, 40, 20))
	test.That(t, out.NRGBAAt(10, 10), test.ShouldResemble, red)
	test.That(t, out.NRGBAAt(30, 10), test.ShouldResemble, blue)

	out, err = Montage(pics, nil, 20, 40, LayoutVertical)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.NRGBAAt(10, 10), test.ShouldResemble, red)
	test.That(t, out.NRGBAAt(10, 30), test.ShouldResemble, blue)

	three := []image.Image{imaging.New(4, 4, red), imaging.New(4, 4, blue), imaging.New(4, 4, red)}
	out, err = Montage(three, nil, 40, 40, LayoutGrid)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.NRGBAAt(10, 10), test.ShouldResemble, red)
	test.That(t, out.NRGBAAt(30, 10), test.ShouldResemble, blue)
	test.That(t, out.NRGBAAt(10, 30), test.ShouldResemble, red)
	test.That(t, out.NRGBAAt(30, 30), test.ShouldResemble, color.NRGBA{A: 255})
}

func TestMontageCombined(t *testing.T) {
	pics := []image.Image{imaging.New(8, 8, red), imaging.New(8, 8, blue)}

	out, err := Montage(pics, nil, 8, 8, LayoutOverlay)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.NRGBAAt(4, 4), test.ShouldResemble, color.NRGBA{R: 255, B: 255, A: 255})

	out, err = Montage(pics, nil, 8, 8, LayoutBlend)
	test.That(t, err, test.ShouldBeNil)
	c := out.NRGBAAt(4, 4)
	test.That(t, float64(c.R), test.ShouldAlmostEqual, 127.5, 1)
	test.That(t, float64(c.B), test.ShouldAlmostEqual, 127.5, 1)
	test.That(t, c.G, test.ShouldEqual, uint8(0))
}

func TestMontageLabelsAndErrors(t *testing.T) {
	pics := []image.Image{imaging.New(64, 64, color.NRGBA{A: 255})}
	out, err := Montage(pics, []string{camera.Depth.String()}, 64, 64, LayoutHorizontal)
	test.That(t, err, test.ShouldBeNil)
	lit := false
	for y := 0; y < 20; y++ {
		for x := 0; x < 40; x++ {
			if out.NRGBAAt(x, y).R > 0 {
				lit = true
			}
		}
	}
	test.That(t, lit, test.ShouldBeTrue)

	empty, err := Montage(nil, nil, 4, 4, LayoutGrid)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, empty.NRGBAAt(0, 0), test.ShouldResemble, color.NRGBA{A: 255})

	_, err = Montage(pics, nil, 0, 4, LayoutGrid)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = Montage(pics, nil, 4, 4, Layout(42))
	test.That(t, err, test.ShouldNotBeNil)

	layout, err := ParseLayout("overlay")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, layout, test.ShouldEqual, LayoutOverlay)
	test.That(t, layout.String(), test.ShouldEqual, "overlay")
	_, err = ParseLayout("diagonal")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDepthMap(t *testing.T) {
	f := testutils.NewFrame(camera.Depth, camera.FormatY16, 4, 2, 1)
	f.ValueScale = 0.5
	testutils.FillY16(f.Data, 100)
	f.Data[0], f.Data[1] = 0, 0
	f.Data[2], f.Data[3] = 0xff, 0xff
	img := imageFromFrame(t, f)

	dm, err := NewDepthMapFromImage(img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dm.Width(), test.ShouldEqual, 4)
	test.That(t, dm.Height(), test.ShouldEqual, 2)
	test.That(t, dm.At(0, 0), test.ShouldEqual, Depth(0))
	test.That(t, dm.At(3, 1), test.ShouldEqual, Depth(50))
	low, high := dm.MinMax()
	test.That(t, low, test.ShouldEqual, Depth(50))
	test.That(t, high, test.ShouldEqual, Depth(32768))
	test.That(t, dm.Contains(4, 0), test.ShouldBeFalse)

	back, err := dm.ToImage()
	test.That(t, err, test.ShouldBeNil)
	defer back.Release() //nolint:errcheck
	scale, err := back.ValueScale()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, scale, test.ShouldEqual, float32(1))
	again, err := NewDepthMapFromImage(back)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again.At(3, 1), test.ShouldEqual, Depth(50))

	_, err = NewDepthMapFromImage(imageFromFrame(t, testutils.IRFrame(1)))
	test.That(t, err, test.ShouldNotBeNil)
}
