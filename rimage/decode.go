// Package rimage turns captured images into displayable 8-bit pictures: decoding color formats,
// tone mapping depth and IR, and laying previews out side by side.
package rimage

import (
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"image/draw"

	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/rgbdsync/camera"
	"go.viam.com/rgbdsync/capture"
)

// MinDecodeSize is the smallest payload worth decoding. Smaller images are treated as empty.
const MinDecodeSize = 1024

// Tone mapping constants. Depth is shown from 0 to DepthDisplayRangeMM; 16-bit IR is scaled so
// IRDisplayMax saturates.
const (
	DepthDisplayRangeMM = 6000
	IRDisplayMax        = 1024
)

var mediaFormats = map[camera.Format]frame.Format{
	camera.FormatMJPG: frame.FormatMJPEG,
	camera.FormatYUYV: frame.FormatYUY2,
	camera.FormatYUY2: frame.FormatYUY2,
	camera.FormatUYVY: frame.FormatUYVY,
	camera.FormatNV12: frame.FormatNV12,
	camera.FormatNV21: frame.FormatNV21,
	camera.FormatI420: frame.FormatI420,
}

// Decode renders img as an 8-bit color picture. It returns nil, nil for images smaller than
// MinDecodeSize and for camera and format combinations it does not know how to show.
func Decode(img *capture.Image) (image.Image, error) {
	return DecodeContext(context.Background(), img)
}

// DecodeContext is Decode with tracing.
func DecodeContext(ctx context.Context, img *capture.Image) (image.Image, error) {
	_, span := trace.StartSpan(ctx, "rimage::Decode")
	defer span.End()

	if img == nil || img.Size() < MinDecodeSize {
		return nil, nil
	}
	switch img.SourceCamera() {
	case camera.Color:
		return decodeColor(img)
	case camera.Depth:
		if img.Format() != camera.FormatY16 {
			return nil, nil
		}
		scale, err := img.ValueScale()
		if err != nil {
			return nil, err
		}
		return toneMapDepth(img, scale)
	case camera.IR:
		switch img.Format() {
		case camera.FormatY16:
			return toneMapIR16(img)
		case camera.FormatY8:
			return grayFromY8(img)
		case camera.FormatMJPG:
			return decodeMedia(img, frame.FormatMJPEG)
		default:
			return nil, nil
		}
	case camera.Unknown:
	}
	return nil, nil
}

func decodeColor(img *capture.Image) (image.Image, error) {
	switch img.Format() {
	case camera.FormatRGB:
		return repack(img, 3, func(p []byte) color.NRGBA { return color.NRGBA{R: p[0], G: p[1], B: p[2], A: 255} })
	case camera.FormatBGR:
		return repack(img, 3, func(p []byte) color.NRGBA { return color.NRGBA{R: p[2], G: p[1], B: p[0], A: 255} })
	case camera.FormatBGRA:
		return repack(img, 4, func(p []byte) color.NRGBA { return color.NRGBA{R: p[2], G: p[1], B: p[0], A: p[3]} })
	}
	mf, ok := mediaFormats[img.Format()]
	if !ok {
		return nil, nil
	}
	return decodeMedia(img, mf)
}

// decodeMedia hands the payload to a mediadevices frame decoder and copies the result out, since
// decoders may reuse their buffers.
func decodeMedia(img *capture.Image, mf frame.Format) (image.Image, error) {
	decoder, err := frame.NewDecoder(mf)
	if err != nil {
		return nil, errors.Wrapf(err, "no decoder for %s", mf)
	}
	data := img.Data()
	if img.Format().Planar() {
		if data, err = packed(img); err != nil {
			return nil, err
		}
	}
	decoded, release, err := decoder.Decode(data, img.Width(), img.Height())
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode %s %s image", img.SourceCamera(), img.Format())
	}
	if release != nil {
		defer release()
	}
	out := image.NewNRGBA(decoded.Bounds())
	draw.Draw(out, out.Bounds(), decoded, decoded.Bounds().Min, draw.Src)
	return out, nil
}

// packed returns the payload without row padding.
func packed(img *capture.Image) ([]byte, error) {
	stride, err := img.Stride()
	if err != nil {
		return nil, err
	}
	minStride, err := img.Format().MinStride(img.Width())
	if err != nil {
		return nil, err
	}
	data := img.Data()
	if stride == minStride {
		return data, nil
	}
	size, err := img.Format().FrameSize(img.Width(), img.Height())
	if err != nil {
		return nil, err
	}
	rows := size / minStride
	out := make([]byte, 0, size)
	for row := 0; row < rows; row++ {
		start := row * stride
		if start+minStride > len(data) {
			return nil, errors.Errorf("payload of %d bytes too short for row %d", len(data), row)
		}
		out = append(out, data[start:start+minStride]...)
	}
	return out, nil
}

func rows(img *capture.Image, bytesPerPixel int, fn func(x, y int, px []byte)) error {
	stride, err := img.Stride()
	if err != nil {
		return err
	}
	data := img.Data()
	w, h := img.Width(), img.Height()
	if need := (h-1)*stride + w*bytesPerPixel; len(data) < need {
		return errors.Errorf("payload of %d bytes too short for %dx%d %s", len(data), w, h, img.Format())
	}
	for y := 0; y < h; y++ {
		row := data[y*stride:]
		for x := 0; x < w; x++ {
			fn(x, y, row[x*bytesPerPixel:(x+1)*bytesPerPixel])
		}
	}
	return nil
}

func repack(img *capture.Image, bytesPerPixel int, pixel func([]byte) color.NRGBA) (image.Image, error) {
	out := image.NewNRGBA(image.Rect(0, 0, img.Width(), img.Height()))
	if err := rows(img, bytesPerPixel, func(x, y int, px []byte) {
		out.SetNRGBA(x, y, pixel(px))
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func saturate(v float64) uint8 {
	if v >= 255 {
		return 255
	}
	if v <= 0 {
		return 0
	}
	return uint8(v)
}

// DepthScale converts a raw depth pixel to millimeters. A zero scale is treated as one.
func DepthScale(pixel uint16, scale float32) float64 {
	if scale <= 0 {
		scale = 1
	}
	return float64(pixel) * float64(scale)
}

func toneMapDepth(img *capture.Image, scale float32) (image.Image, error) {
	out := image.NewNRGBA(image.Rect(0, 0, img.Width(), img.Height()))
	if err := rows(img, 2, func(x, y int, px []byte) {
		mm := DepthScale(binary.LittleEndian.Uint16(px), scale)
		out.SetNRGBA(x, y, Jet(saturate(mm*255/DepthDisplayRangeMM)))
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func gray(v uint8) color.NRGBA {
	return color.NRGBA{R: v, G: v, B: v, A: 255}
}

func toneMapIR16(img *capture.Image) (image.Image, error) {
	out := image.NewNRGBA(image.Rect(0, 0, img.Width(), img.Height()))
	if err := rows(img, 2, func(x, y int, px []byte) {
		v := float64(binary.LittleEndian.Uint16(px))
		out.SetNRGBA(x, y, gray(saturate(v*255/IRDisplayMax)))
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func grayFromY8(img *capture.Image) (image.Image, error) {
	out := image.NewNRGBA(image.Rect(0, 0, img.Width(), img.Height()))
	if err := rows(img, 1, func(x, y int, px []byte) {
		out.SetNRGBA(x, y, gray(px[0]))
	}); err != nil {
		return nil, err
	}
	return out, nil
}
