package preview

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/plotmerge/internal/errkind"
	"github.com/banshee-data/plotmerge/internal/logging"
)

// Render writes a top-down scatter of sample to outPath, coloured by
// elevation. The image format follows the file extension.
func Render(sample *Sample, title, outPath string) error {
	if sample == nil || sample.Len() == 0 {
		return fmt.Errorf("no points to render")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Easting (m)"
	p.Y.Label.Text = "Northing (m)"

	xys := make(plotter.XYs, sample.Len())
	for i := range xys {
		xys[i] = plotter.XY{X: sample.X[i], Y: sample.Y[i]}
	}
	scatter, err := plotter.NewScatter(xys)
	if err != nil {
		return fmt.Errorf("build scatter: %w", err)
	}

	minZ, maxZ := floats.Min(sample.Z), floats.Max(sample.Z)
	scatter.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		return draw.GlyphStyle{
			Color:  elevationColor(sample.Z[i], minZ, maxZ),
			Radius: vg.Points(1),
			Shape:  draw.CircleGlyph{},
		}
	}
	p.Add(scatter)

	if err := p.Save(8*vg.Inch, 8*vg.Inch, outPath); err != nil {
		return errkind.IO("save preview", outPath, err)
	}
	logging.Diagf("preview of %d points written to %s", sample.Len(), outPath)
	return nil
}

// elevationColor maps z onto a blue (low) to red (high) hue ramp.
func elevationColor(z, minZ, maxZ float64) color.Color {
	t := 0.0
	if maxZ > minZ {
		t = (z - minZ) / (maxZ - minZ)
	}
	r, g, b := hslToRGB((1-t)*2.0/3.0, 0.8, 0.5)
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// hslToRGB converts HSL with h, s and l in [0, 1] to 8-bit RGB.
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	c := (1 - math.Abs(2*l-1)) * s
	hp := h * 6
	x := c * (1 - math.Abs(math.Mod(hp, 2)-1))
	var r1, g1, b1 float64
	switch {
	case hp < 1:
		r1, g1 = c, x
	case hp < 2:
		r1, g1 = x, c
	case hp < 3:
		g1, b1 = c, x
	case hp < 4:
		g1, b1 = x, c
	case hp < 5:
		r1, b1 = x, c
	default:
		r1, b1 = c, x
	}
	m := l - c/2
	return uint8(math.Round((r1 + m) * 255)), uint8(math.Round((g1 + m) * 255)), uint8(math.Round((b1 + m) * 255))
}
