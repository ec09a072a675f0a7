package plot

import (
	"image/color"
)

// blueStops approximates matplotlib's "Blues" colormap from light to dark.
var blueStops = []color.RGBA{
	{0xf7, 0xfb, 0xff, 0xff},
	{0xde, 0xeb, 0xf7, 0xff},
	{0xc6, 0xdb, 0xef, 0xff},
	{0x9e, 0xca, 0xe1, 0xff},
	{0x6b, 0xae, 0xd6, 0xff},
	{0x42, 0x92, 0xc6, 0xff},
	{0x21, 0x71, 0xb5, 0xff},
	{0x08, 0x51, 0x9c, 0xff},
	{0x08, 0x30, 0x6b, 0xff},
}

// Blues is a sequential palette with n colors interpolated over blueStops.
type Blues int

// Colors implements palette.Palette.
func (b Blues) Colors() []color.Color {
	n := int(b)
	if n < 2 {
		n = 2
	}
	out := make([]color.Color, n)
	segments := float64(len(blueStops) - 1)
	for i := range out {
		pos := float64(i) / float64(n-1) * segments
		k := int(pos)
		if k >= len(blueStops)-1 {
			out[i] = blueStops[len(blueStops)-1]
			continue
		}
		out[i] = lerp(blueStops[k], blueStops[k+1], pos-float64(k))
	}
	return out
}

func lerp(a, b color.RGBA, t float64) color.RGBA {
	mix := func(x, y uint8) uint8 {
		return uint8(float64(x) + (float64(y)-float64(x))*t + 0.5)
	}
	return color.RGBA{mix(a.R, b.R), mix(a.G, b.G), mix(a.B, b.B), 0xff}
}
