package annotate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/openvigil/vigil/detection-server/pkg/types"
)

const boxThickness = 2

var (
	boxColor  = color.RGBA{0, 255, 0, 255}
	textColor = color.RGBA{255, 255, 255, 255}
)

// DrawDetections returns a copy of the image with a box and a
// "class: 0.92" label for every detection. The input image is never
// modified.
func DrawDetections(src image.Image, dets []types.Detection) *image.RGBA {
	b := src.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, src, b.Min, draw.Src)

	for _, d := range dets {
		drawRect(out, d.Box, boxColor, boxThickness)
		label := fmt.Sprintf("%s: %.2f", d.Label, d.Confidence)
		drawText(out, label, d.Box.X1, d.Box.Y1-10, boxColor)
	}
	return out
}

func drawRect(img *image.RGBA, box types.Box, c color.Color, thickness int) {
	r := image.Rect(box.X1, box.Y1, box.X2, box.Y2).Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	for t := 0; t < thickness; t++ {
		edge := image.Rect(r.Min.X+t, r.Min.Y+t, r.Max.X-t, r.Max.Y-t)
		if edge.Empty() {
			return
		}
		for x := edge.Min.X; x < edge.Max.X; x++ {
			img.Set(x, edge.Min.Y, c)
			img.Set(x, edge.Max.Y-1, c)
		}
		for y := edge.Min.Y; y < edge.Max.Y; y++ {
			img.Set(edge.Min.X, y, c)
			img.Set(edge.Max.X-1, y, c)
		}
	}
}

func drawText(img *image.RGBA, text string, x, y int, c color.Color) {
	face := basicfont.Face7x13
	if min := face.Metrics().Ascent.Ceil(); y < min {
		y = min
	}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
