package rimage

import (
	"context"
	"image"
	"image/color"

	"github.com/pkg/errors"

	"go.viam.com/rgbdsync/camera"
	"go.viam.com/rgbdsync/capture"
)

// ConvertToRGB decodes a color image into a new packed RGB image with the same timestamps.
func ConvertToRGB(ctx context.Context, img *capture.Image) (*capture.Image, error) {
	if img.SourceCamera() != camera.Color {
		return nil, errors.Errorf("cannot convert a %s image to RGB", img.SourceCamera())
	}
	decoded, err := DecodeContext(ctx, img)
	if err != nil {
		return nil, err
	}
	if decoded == nil {
		return nil, camera.NewError(camera.ErrNotSupported, "convert to rgb", camera.Color, img.Format().String())
	}
	out, err := FromImage(decoded)
	if err != nil {
		return nil, err
	}
	out.SetTimestamps(img.DeviceTimestamp(), img.HostTimestamp())
	return out, nil
}

// FromImage packs a decoded picture into a new RGB color image.
func FromImage(pic image.Image) (*capture.Image, error) {
	b := pic.Bounds()
	out, err := capture.NewImage(camera.Color, camera.FormatRGB, b.Dx(), b.Dy(), 0)
	if err != nil {
		return nil, err
	}
	stride, err := out.Stride()
	if err != nil {
		out.Release() //nolint:errcheck
		return nil, err
	}
	buf := out.Buffer()
	for y := 0; y < b.Dy(); y++ {
		row := buf[y*stride:]
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(pic.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			row[3*x], row[3*x+1], row[3*x+2] = c.R, c.G, c.B
		}
	}
	return out, nil
}
