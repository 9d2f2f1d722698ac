package export

import (
	"io"
	"math"

	"github.com/fogleman/gg"

	"github.com/SensingClues/correlaid-environmental-time-series/internal/raster"
)

type rgb struct{ R, G, B float64 }

// Palette maps NDVI values linearly onto a sequence of colours.
type Palette struct {
	Min    float64
	Max    float64
	Colors []rgb
}

// NDVIPalette is the brown, white, green ramp over [-1, 0.8].
var NDVIPalette = Palette{
	Min: -1,
	Max: 0.8,
	Colors: []rgb{
		{165.0 / 255, 42.0 / 255, 42.0 / 255},
		{1, 1, 1},
		{0, 128.0 / 255, 0},
	},
}

func (p Palette) color(v float64) rgb {
	t := (v - p.Min) / (p.Max - p.Min)
	t = math.Max(0, math.Min(1, t))
	pos := t * float64(len(p.Colors)-1)
	i := int(math.Floor(pos))
	if i >= len(p.Colors)-1 {
		return p.Colors[len(p.Colors)-1]
	}
	f := pos - float64(i)
	a, b := p.Colors[i], p.Colors[i+1]
	return rgb{a.R + (b.R-a.R)*f, a.G + (b.G-a.G)*f, a.B + (b.B-a.B)*f}
}

// previewMaxSize bounds the longest side of a quick-look.
const previewMaxSize = 1024

// createPreviewImage renders the band as a PNG quick-look. No-data pixels
// stay transparent. Large grids are sampled down to previewMaxSize.
func createPreviewImage(w io.Writer, grid raster.Grid, band raster.Band, palette Palette) error {
	step := 1
	if longest := max(grid.Width, grid.Height); longest > previewMaxSize {
		step = int(math.Ceil(float64(longest) / previewMaxSize))
	}
	width := (grid.Width + step - 1) / step
	height := (grid.Height + step - 1) / step

	dc := gg.NewContext(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := band[(y*step)*grid.Width+x*step]
			if raster.IsNoData(v) {
				continue
			}
			c := palette.color(v)
			dc.SetRGB(c.R, c.G, c.B)
			dc.SetPixel(x, y)
		}
	}
	return dc.EncodePNG(w)
}
