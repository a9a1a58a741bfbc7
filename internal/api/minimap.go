package api

import (
	"image/color"
	"io"
	"math"

	"github.com/fogleman/gg"

	"cell-arena/internal/game"
)

const (
	minimapSize    = 256
	minimapMinDot  = 1.5
	minimapGridGap = 8 // grid lines per side
)

// RenderMinimap draws the players and viruses of a world onto a square PNG
// scaled to minimapSize.
func RenderMinimap(out io.Writer, cells []game.CellState, width, height float64) error {
	dc := gg.NewContext(minimapSize, minimapSize)
	drawMinimapBackground(dc)

	scale := minimapSize / math.Max(width, height)
	for _, c := range cells {
		r := math.Max(c.Radius*scale, minimapMinDot)
		if c.Kind == "virus" {
			dc.SetColor(color.RGBA{34, 255, 34, 160})
		} else {
			dc.SetHexColor(c.Colour)
		}
		dc.DrawCircle(c.X*scale, c.Y*scale, r)
		dc.Fill()
	}
	return dc.EncodePNG(out)
}

func drawMinimapBackground(dc *gg.Context) {
	dc.SetColor(color.RGBA{12, 12, 28, 255})
	dc.DrawRectangle(0, 0, minimapSize, minimapSize)
	dc.Fill()

	dc.SetColor(color.RGBA{30, 30, 45, 255})
	dc.SetLineWidth(1)
	step := float64(minimapSize) / minimapGridGap
	for v := step; v < minimapSize; v += step {
		dc.DrawLine(v, 0, v, minimapSize)
		dc.DrawLine(0, v, minimapSize, v)
	}
	dc.Stroke()
}
