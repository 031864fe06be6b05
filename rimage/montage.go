package rimage

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Layout says how Montage arranges several previews in one picture.
type Layout int

// Layouts.
const (
	LayoutHorizontal Layout = iota
	LayoutVertical
	LayoutGrid
	// LayoutOverlay ORs the pictures together pixel by pixel.
	LayoutOverlay
	// LayoutBlend alpha blends the pictures on top of each other.
	LayoutBlend
)

var layoutNames = map[Layout]string{
	LayoutHorizontal: "horizontal",
	LayoutVertical:   "vertical",
	LayoutGrid:       "grid",
	LayoutOverlay:    "overlay",
	LayoutBlend:      "blend",
}

func (l Layout) String() string {
	if name, ok := layoutNames[l]; ok {
		return name
	}
	return "unknown"
}

// ParseLayout parses a layout name.
func ParseLayout(s string) (Layout, error) {
	for l, name := range layoutNames {
		if name == s {
			return l, nil
		}
	}
	return 0, errors.Errorf("unknown layout %q", s)
}

// BlendAlpha is the opacity of each picture laid over the previous ones by LayoutBlend.
const BlendAlpha = 0.5

var labelColor = color.NRGBA{R: 255, G: 255, B: 255, A: 255}

// Montage arranges pictures in a width by height canvas. Nil pictures are skipped. labels, if
// given, are drawn in the top left corner of the matching cell.
func Montage(pictures []image.Image, labels []string, width, height int, layout Layout) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid montage size %dx%d", width, height)
	}
	var imgs []image.Image
	var names []string
	for i, p := range pictures {
		if p == nil {
			continue
		}
		imgs = append(imgs, p)
		if i < len(labels) {
			names = append(names, labels[i])
		} else {
			names = append(names, "")
		}
	}
	canvas := imaging.New(width, height, color.NRGBA{A: 255})
	if len(imgs) == 0 {
		return canvas, nil
	}

	switch layout {
	case LayoutOverlay:
		for _, img := range imgs {
			orInto(canvas, fit(img, width, height))
		}
		drawLabel(canvas, image.Point{}, joinLabels(names))
		return canvas, nil
	case LayoutBlend:
		canvas = imaging.Clone(fit(imgs[0], width, height))
		for _, img := range imgs[1:] {
			canvas = imaging.Overlay(canvas, fit(img, width, height), image.Point{}, BlendAlpha)
		}
		drawLabel(canvas, image.Point{}, joinLabels(names))
		return canvas, nil
	case LayoutHorizontal, LayoutVertical, LayoutGrid:
	default:
		return nil, errors.Errorf("unknown layout %d", layout)
	}

	cols, rows := len(imgs), 1
	switch layout {
	case LayoutVertical:
		cols, rows = 1, len(imgs)
	case LayoutGrid:
		cols = int(math.Ceil(math.Sqrt(float64(len(imgs)))))
		rows = (len(imgs) + cols - 1) / cols
	case LayoutHorizontal, LayoutOverlay, LayoutBlend:
	}
	cellW, cellH := width/cols, height/rows
	if cellW == 0 || cellH == 0 {
		return nil, errors.Errorf("montage of %dx%d too small for %d pictures", width, height, len(imgs))
	}
	for i, img := range imgs {
		origin := image.Pt((i%cols)*cellW, (i/cols)*cellH)
		canvas = imaging.Paste(canvas, fit(img, cellW, cellH), origin)
		drawLabel(canvas, origin, names[i])
	}
	return canvas, nil
}

func fit(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	return resize.Resize(uint(width), uint(height), img, resize.Bilinear)
}

func orInto(dst *image.NRGBA, src image.Image) {
	b := dst.Bounds()
	sb := src.Bounds()
	for y := b.Min.Y; y < b.Max.Y && y-b.Min.Y < sb.Dy(); y++ {
		for x := b.Min.X; x < b.Max.X && x-b.Min.X < sb.Dx(); x++ {
			c := color.NRGBAModel.Convert(src.At(sb.Min.X+x-b.Min.X, sb.Min.Y+y-b.Min.Y)).(color.NRGBA)
			d := dst.NRGBAAt(x, y)
			dst.SetNRGBA(x, y, color.NRGBA{R: d.R | c.R, G: d.G | c.G, B: d.B | c.B, A: 255})
		}
	}
}

func joinLabels(names []string) string {
	out := ""
	for _, n := range names {
		if n == "" {
			continue
		}
		if out != "" {
			out += " + "
		}
		out += n
	}
	return out
}

func drawLabel(dst *image.NRGBA, origin image.Point, text string) {
	if text == "" {
		return
	}
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(labelColor),
		Face: face,
		Dot:  fixed.P(origin.X+4, origin.Y+face.Ascent+4),
	}
	d.DrawString(text)
}
