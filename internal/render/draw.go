package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"
)

// circle is an alpha mask of a disc, for draw.DrawMask.
type circle struct {
	cx, cy float64
	r      float64
}

func (c *circle) ColorModel() color.Model { return color.AlphaModel }

func (c *circle) Bounds() image.Rectangle {
	return image.Rect(
		int(math.Floor(c.cx-c.r)), int(math.Floor(c.cy-c.r)),
		int(math.Ceil(c.cx+c.r))+1, int(math.Ceil(c.cy+c.r))+1,
	)
}

func (c *circle) At(x, y int) color.Color {
	dx := float64(x) + 0.5 - c.cx
	dy := float64(y) + 0.5 - c.cy
	d := math.Sqrt(dx*dx+dy*dy) - c.r
	switch {
	case d <= -0.5:
		return color.Alpha{255}
	case d >= 0.5:
		return color.Alpha{0}
	default:
		// one pixel of edge antialiasing
		return color.Alpha{uint8(255 * (0.5 - d))}
	}
}

// fillDisc alpha-blends a disc of col onto dst.
func fillDisc(dst *image.NRGBA, cx, cy, r float64, col color.NRGBA) {
	mask := &circle{cx: cx, cy: cy, r: r}
	rect := mask.Bounds().Intersect(dst.Bounds())
	if rect.Empty() {
		return
	}
	draw.DrawMask(dst, rect, image.NewUniform(col), image.Point{}, mask, rect.Min, draw.Over)
}

// fillRect alpha-blends a rectangle of col onto dst.
func fillRect(dst *image.NRGBA, r image.Rectangle, col color.NRGBA) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	draw.Draw(dst, r, image.NewUniform(col), image.Point{}, draw.Over)
}

// hline draws a horizontal line of the given thickness; dash > 0 makes it dashed.
func hline(dst *image.NRGBA, x0, x1, y, thickness, dash int, col color.NRGBA) {
	if dash <= 0 {
		fillRect(dst, image.Rect(x0, y, x1, y+thickness), col)
		return
	}
	for x := x0; x < x1; x += 2 * dash {
		fillRect(dst, image.Rect(x, y, min(x+dash, x1), y+thickness), col)
	}
}

// diamond draws a small filled diamond centered on (cx, cy).
func diamond(dst *image.NRGBA, cx, cy, size int, col color.NRGBA) {
	for dy := -size; dy <= size; dy++ {
		w := size - abs(dy)
		fillRect(dst, image.Rect(cx-w, cy+dy, cx+w+1, cy+dy+1), col)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
