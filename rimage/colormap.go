package rimage

import (
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// jetStops are the anchor colors of the jet colormap, evenly spaced from 0 to 255.
var jetStops = []colorful.Color{
	{R: 0, G: 0, B: 0.5},
	{R: 0, G: 0, B: 1},
	{R: 0, G: 1, B: 1},
	{R: 1, G: 1, B: 0},
	{R: 1, G: 0, B: 0},
	{R: 0.5, G: 0, B: 0},
}

var jet = buildJet()

func buildJet() [256]color.NRGBA {
	var lut [256]color.NRGBA
	segments := len(jetStops) - 1
	for i := range lut {
		pos := float64(i) / 255 * float64(segments)
		seg := int(pos)
		if seg >= segments {
			seg = segments - 1
		}
		c := jetStops[seg].BlendRgb(jetStops[seg+1], pos-float64(seg)).Clamped()
		r, g, b := c.RGB255()
		lut[i] = color.NRGBA{R: r, G: g, B: b, A: 255}
	}
	return lut
}

// Jet maps an 8-bit intensity to the jet colormap, dark blue through red.
func Jet(v uint8) color.NRGBA {
	return jet[v]
}
