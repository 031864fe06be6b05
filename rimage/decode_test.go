package rimage

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"math/rand"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/rgbdsync/camera"
	"go.viam.com/rgbdsync/capture"
	"go.viam.com/rgbdsync/testutils"
)

func imageFromFrame(t *testing.T, f *camera.Frame) *capture.Image {
	t.Helper()
	img, err := capture.NewImageFromFrame(f)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { img.Release() }) //nolint:errcheck
	return img
}

func asNRGBA(t *testing.T, pic image.Image) *image.NRGBA {
	t.Helper()
	out, ok := pic.(*image.NRGBA)
	test.That(t, ok, test.ShouldBeTrue)
	return out
}

func TestJet(t *testing.T) {
	test.That(t, Jet(0), test.ShouldResemble, color.NRGBA{R: 0, G: 0, B: 128, A: 255})
	test.That(t, Jet(255), test.ShouldResemble, color.NRGBA{R: 128, G: 0, B: 0, A: 255})
	mid := Jet(128)
	test.That(t, int(mid.G), test.ShouldBeGreaterThan, 200)
}

func TestDecodeSkipsSmallImages(t *testing.T) {
	img := imageFromFrame(t, testutils.ColorFrame(1))
	test.That(t, img.Size(), test.ShouldBeLessThan, MinDecodeSize)
	pic, err := Decode(img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pic, test.ShouldBeNil)

	pic, err = Decode(nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pic, test.ShouldBeNil)
}

func TestDecodeDepth(t *testing.T) {
	f := testutils.NewFrame(camera.Depth, camera.FormatY16, 32, 32, 1)
	f.ValueScale = 0.1
	testutils.FillY16(f.Data, 10000)
	binary.LittleEndian.PutUint16(f.Data[2:], 60000)
	img := imageFromFrame(t, f)

	pic, err := Decode(img)
	test.That(t, err, test.ShouldBeNil)
	out := asNRGBA(t, pic)
	test.That(t, out.Bounds(), test.ShouldResemble, image.Rect(0, 0, 32, 32))
	// 10000 * 0.1 = 1000mm, 1000 * 255 / 6000 = 42
	test.That(t, out.NRGBAAt(0, 0), test.ShouldResemble, Jet(42))
	test.That(t, out.NRGBAAt(1, 0), test.ShouldResemble, Jet(255))

	t.Run("unscaled", func(t *testing.T) {
		f := testutils.NewFrame(camera.Depth, camera.FormatY16, 32, 32, 1)
		testutils.FillY16(f.Data, 3000)
		pic, err := Decode(imageFromFrame(t, f))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, asNRGBA(t, pic).NRGBAAt(5, 5), test.ShouldResemble, Jet(127))
	})

	t.Run("unsupported format", func(t *testing.T) {
		f := testutils.NewFrame(camera.Depth, camera.FormatY8, 64, 32, 1)
		pic, err := Decode(imageFromFrame(t, f))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pic, test.ShouldBeNil)
	})
}

func TestDecodeIR(t *testing.T) {
	f := testutils.NewFrame(camera.IR, camera.FormatY16, 32, 32, 1)
	testutils.FillY16(f.Data, 512)
	binary.LittleEndian.PutUint16(f.Data[2:], 5000)
	pic, err := Decode(imageFromFrame(t, f))
	test.That(t, err, test.ShouldBeNil)
	out := asNRGBA(t, pic)
	test.That(t, out.NRGBAAt(0, 0), test.ShouldResemble, color.NRGBA{R: 127, G: 127, B: 127, A: 255})
	test.That(t, out.NRGBAAt(1, 0), test.ShouldResemble, color.NRGBA{R: 255, G: 255, B: 255, A: 255})

	f = testutils.NewFrame(camera.IR, camera.FormatY8, 32, 32, 1)
	f.Data[33] = 77
	pic, err = Decode(imageFromFrame(t, f))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, asNRGBA(t, pic).NRGBAAt(1, 1), test.ShouldResemble, color.NRGBA{R: 77, G: 77, B: 77, A: 255})
}

func TestDecodeColor(t *testing.T) {
	f := testutils.NewFrame(camera.Color, camera.FormatRGB, 32, 32, 1)
	copy(f.Data, []byte{10, 20, 30})
	pic, err := Decode(imageFromFrame(t, f))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, asNRGBA(t, pic).NRGBAAt(0, 0), test.ShouldResemble, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

	f = testutils.NewFrame(camera.Color, camera.FormatBGR, 32, 32, 1)
	copy(f.Data, []byte{10, 20, 30})
	pic, err = Decode(imageFromFrame(t, f))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, asNRGBA(t, pic).NRGBAAt(0, 0), test.ShouldResemble, color.NRGBA{R: 30, G: 20, B: 10, A: 255})

	t.Run("padded rows", func(t *testing.T) {
		const stride = 100
		buf := make([]byte, stride*32)
		copy(buf[stride:], []byte{1, 2, 3})
		img, err := capture.NewImageFromBuffer(camera.Color, camera.FormatRGB, 32, 32, stride, buf, nil)
		test.That(t, err, test.ShouldBeNil)
		defer img.Release() //nolint:errcheck
		pic, err := Decode(img)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, asNRGBA(t, pic).NRGBAAt(0, 1), test.ShouldResemble, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	})

	t.Run("mjpg", func(t *testing.T) {
		src := image.NewRGBA(image.Rect(0, 0, 64, 48))
		rng := rand.New(rand.NewSource(1))
		rng.Read(src.Pix)
		var encoded bytes.Buffer
		test.That(t, jpeg.Encode(&encoded, src, &jpeg.Options{Quality: 95}), test.ShouldBeNil)
		test.That(t, encoded.Len(), test.ShouldBeGreaterThan, MinDecodeSize)

		img, err := capture.NewImageFromBuffer(camera.Color, camera.FormatMJPG, 64, 48, 0, encoded.Bytes(), nil)
		test.That(t, err, test.ShouldBeNil)
		defer img.Release() //nolint:errcheck
		pic, err := DecodeContext(context.Background(), img)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pic.Bounds(), test.ShouldResemble, image.Rect(0, 0, 64, 48))
	})
}

func TestConvertToRGB(t *testing.T) {
	f := testutils.NewFrame(camera.Color, camera.FormatBGRA, 16, 16, 42)
	copy(f.Data, []byte{10, 20, 30, 255})
	host := time.Now()
	f.HostTimestamp = host
	src := imageFromFrame(t, f)

	out, err := ConvertToRGB(context.Background(), src)
	test.That(t, err, test.ShouldBeNil)
	defer out.Release() //nolint:errcheck
	test.That(t, out.Format(), test.ShouldEqual, camera.FormatRGB)
	test.That(t, out.Data()[:3], test.ShouldResemble, []byte{30, 20, 10})
	test.That(t, out.DeviceTimestamp(), test.ShouldEqual, uint64(42))
	test.That(t, out.HostTimestamp().Equal(host), test.ShouldBeTrue)

	_, err = ConvertToRGB(context.Background(), imageFromFrame(t, testutils.IRFrame(1)))
	test.That(t, err, test.ShouldNotBeNil)
}
