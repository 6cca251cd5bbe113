package raster

import (
	"image"
	"math"

	"golang.org/x/image/vector"
)

// kappa is the control-point distance, as a fraction of the radius, for a
// cubic Bézier approximating a quarter circle.
const kappa = 0.5522847498

// coverage rasterizes the path built by fn into an alpha mask the size of
// bbox. fn receives the bbox origin so it can translate its coordinates.
func coverage(bbox image.Rectangle, fn func(z *vector.Rasterizer, ox, oy float64)) *image.Alpha {
	w, h := bbox.Dx(), bbox.Dy()
	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	if w <= 0 || h <= 0 {
		return mask
	}
	z := vector.NewRasterizer(w, h)
	fn(z, float64(bbox.Min.X), float64(bbox.Min.Y))
	z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
	return mask
}

// circlePath adds a closed circle to z. dir is 1 for clockwise (in screen
// coordinates) and -1 for counter-clockwise; opposite directions cancel, which
// is how rings are cut.
func circlePath(z *vector.Rasterizer, cx, cy, r, dir float64) {
	k := kappa * r
	pt := func(a float64) (float64, float64) {
		return cx + r*math.Cos(a), cy + r*math.Sin(a)
	}
	x0, y0 := pt(0)
	z.MoveTo(float32(x0), float32(y0))
	for i := 0; i < 4; i++ {
		a0 := dir * float64(i) * math.Pi / 2
		a1 := dir * float64(i+1) * math.Pi / 2
		sx, sy := pt(a0)
		ex, ey := pt(a1)
		c1x := sx - dir*k*math.Sin(a0)
		c1y := sy + dir*k*math.Cos(a0)
		c2x := ex + dir*k*math.Sin(a1)
		c2y := ey - dir*k*math.Cos(a1)
		z.CubeTo(float32(c1x), float32(c1y), float32(c2x), float32(c2y), float32(ex), float32(ey))
	}
	z.ClosePath()
}

// strokeBand approximates stroking the outline of the shapes in m with a pen
// of the given radius: the dilation of m minus its erosion.
func strokeBand(m *image.Alpha, radius int) *image.Alpha {
	if radius <= 0 {
		return m
	}
	dil := morph(m, radius, true)
	ero := morph(m, radius, false)
	for i := range dil.Pix {
		dil.Pix[i] = uint8(int(dil.Pix[i]) * (255 - int(ero.Pix[i])) / 255)
	}
	return dil
}

// morph computes the grey-scale dilation (max) or erosion (min) of m over a
// disc of the given radius. Pixels outside m count as zero.
func morph(m *image.Alpha, radius int, dilate bool) *image.Alpha {
	b := m.Bounds()
	out := image.NewAlpha(b)

	var offs []image.Point
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				offs = append(offs, image.Pt(dx, dy))
			}
		}
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			var v uint8
			if !dilate {
				v = 255
			}
			for _, o := range offs {
				p := image.Pt(x+o.X, y+o.Y)
				var a uint8
				if p.In(b) {
					a = m.Pix[m.PixOffset(p.X, p.Y)]
				}
				if dilate && a > v {
					v = a
					if v == 255 {
						break
					}
				} else if !dilate && a < v {
					v = a
					if v == 0 {
						break
					}
				}
			}
			out.Pix[out.PixOffset(x, y)] = v
		}
	}
	return out
}
