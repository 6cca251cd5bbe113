package raster

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

// maxCoord is the largest magnitude for which float32 still represents every
// integer pixel position.
const maxCoord = 1 << 24

// RGBA is a [Surface] backed by an in-memory [image.RGBA]. It is safe for
// concurrent use; in practice one goroutine draws and presenters take
// snapshots.
type RGBA struct {
	mu        sync.Mutex
	img       *image.RGBA
	mode      CompositeMode
	lineWidth float64
	fill      image.Image

	faces faceCache
	face  font.Face
}

// New returns a transparent surface of the given size, painting in opaque
// black with a line width of 1 and the default font.
func New(width, height int) *RGBA {
	s := &RGBA{
		img:       image.NewRGBA(image.Rect(0, 0, width, height)),
		lineWidth: 1,
		fill:      image.NewUniform(color.Black),
		faces:     make(faceCache),
	}
	if err := s.SetFont(DefaultFont); err != nil {
		panic("raster: default font: " + err.Error())
	}
	return s
}

// SetFillColor sets the colour used for fills and strokes.
func (s *RGBA) SetFillColor(c color.Color) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fill = image.NewUniform(c)
}

func (s *RGBA) Bounds() image.Rectangle {
	return s.img.Bounds()
}

func (s *RGBA) SetComposite(m CompositeMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
}

func (s *RGBA) Composite() CompositeMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *RGBA) SetLineWidth(w float64) {
	if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lineWidth = w
}

func (s *RGBA) SetFont(spec string) error {
	if spec == "" {
		return nil
	}
	fs, err := parseFont(spec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.faces.face(fs)
	if err != nil {
		return err
	}
	s.face = f
	return nil
}

func (s *RGBA) FillArc(x, y, r float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disc(x, y, math.Abs(r), 0)
}

func (s *RGBA) StrokeArc(x, y, r float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r = math.Abs(r)
	half := s.lineWidth / 2
	s.disc(x, y, r+half, math.Max(r-half, 0))
}

// disc paints the ring between outer and inner radius; an inner radius of
// zero paints a full disc.
func (s *RGBA) disc(x, y, outer, inner float64) {
	// Beyond maxCoord the rasterizer's float32 coordinates lose whole pixels.
	if !(outer > 0) || outer > maxCoord || math.Abs(x) > maxCoord || math.Abs(y) > maxCoord {
		return
	}
	bbox := s.clip(Rect{X: x - outer, Y: y - outer, W: 2 * outer, H: 2 * outer}, 1).Pixels()
	if bbox.Empty() {
		return
	}
	mask := coverage(bbox, func(z *vector.Rasterizer, ox, oy float64) {
		circlePath(z, x-ox, y-oy, outer, 1)
		if inner > 0 {
			circlePath(z, x-ox, y-oy, inner, -1)
		}
	})
	s.composite(bbox, mask)
}

func (s *RGBA) FillRect(x, y, w, h float64) {
	r := Rect{X: x, Y: y, W: w, H: h}.Canon()
	if r.Empty() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Clipping a rectangle by a rectangle is exact, so the path itself can be
	// cut down to the surface.
	r = s.clip(r, 1)
	if r.Empty() {
		return
	}
	bbox := r.Pixels()
	mask := coverage(bbox, func(z *vector.Rasterizer, ox, oy float64) {
		x0, y0 := float32(r.X-ox), float32(r.Y-oy)
		x1, y1 := float32(r.X+r.W-ox), float32(r.Y+r.H-oy)
		z.MoveTo(x0, y0)
		z.LineTo(x1, y0)
		z.LineTo(x1, y1)
		z.LineTo(x0, y1)
		z.ClosePath()
	})
	s.composite(bbox, mask)
}

func (s *RGBA) ClearRect(x, y, w, h float64) {
	r := Rect{X: x, Y: y, W: w, H: h}
	if r.Empty() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dr := s.clip(r, 0).Pixels()
	if dr.Empty() {
		return
	}
	draw.Draw(s.img, dr, image.Transparent, image.Point{}, draw.Src)
}

func (s *RGBA) FillText(str string, x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bbox, mask := s.textMask(str, x, y, 0)
	if mask == nil {
		return
	}
	s.composite(bbox, mask)
}

func (s *RGBA) StrokeText(str string, x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	radius := int(math.Ceil(s.lineWidth / 2))
	bbox, mask := s.textMask(str, x, y, radius)
	if mask == nil {
		return
	}
	s.composite(bbox, strokeBand(mask, radius))
}

// textMask renders str into a coverage mask padded by pad pixels on every
// side.
func (s *RGBA) textMask(str string, x, y float64, pad int) (image.Rectangle, *image.Alpha) {
	if str == "" || s.face == nil {
		return image.Rectangle{}, nil
	}
	b, _ := font.BoundString(s.face, str)
	ext := Rect{
		X: math.Floor(x) + float64(b.Min.X.Floor()),
		Y: math.Floor(y) + float64(b.Min.Y.Floor()),
	}
	ext.W = math.Ceil(x) + float64(b.Max.X.Ceil()) - ext.X
	ext.H = math.Ceil(y) + float64(b.Max.Y.Ceil()) - ext.Y
	// The mask only needs to reach pad pixels past the surface for a stroke
	// band to be correct at the edges.
	bbox := s.clip(ext, float64(pad+1)).Pixels()
	if bbox.Empty() {
		return image.Rectangle{}, nil
	}

	mask := image.NewAlpha(image.Rect(0, 0, bbox.Dx(), bbox.Dy()))
	d := &font.Drawer{
		Dst:  mask,
		Src:  image.Opaque,
		Face: s.face,
		Dot: fixed.Point26_6{
			X: toFixed(x - float64(bbox.Min.X)),
			Y: toFixed(y - float64(bbox.Min.Y)),
		},
	}
	d.DrawString(str)
	return bbox, mask
}

func (s *RGBA) DrawImage(img image.Image, src, dst Rect) {
	if img == nil {
		return
	}
	ib := img.Bounds()
	sr := ib
	if !src.Empty() {
		sr = src.Round().Add(ib.Min).Intersect(ib)
	}
	if sr.Empty() {
		return
	}
	if dst.W == 0 && dst.H == 0 {
		dst.W, dst.H = float64(sr.Dx()), float64(sr.Dy())
	}
	dr := dst.Round()
	if dr.Empty() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == Overwrite {
		if dr.Size() == sr.Size() {
			draw.Draw(s.img, dr, img, sr.Min, draw.Over)
			return
		}
		xdraw.ApproxBiLinear.Scale(s.img, dr, img, sr, draw.Over, nil)
		return
	}

	// Erase uses the scaled image's alpha as the coverage mask.
	clip := dr.Intersect(s.img.Bounds())
	if clip.Empty() {
		return
	}
	tmp := image.NewRGBA(clip)
	xdraw.ApproxBiLinear.Scale(tmp, dr, img, sr, draw.Src, nil)
	draw.DrawMask(s.img, clip, image.Transparent, image.Point{}, tmp, clip.Min, draw.Src)
}

// Snapshot returns a copy of the current surface contents.
func (s *RGBA) Snapshot() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := image.NewRGBA(s.img.Bounds())
	copy(out.Pix, s.img.Pix)
	return out
}

// clip intersects r with the surface bounds grown by pad pixels. It works in
// floating point so that huge or non-finite coordinates never reach an
// integer conversion or size a buffer. The result is empty when nothing
// remains.
func (s *RGBA) clip(r Rect, pad float64) Rect {
	r = r.Canon()
	b := RectOf(s.img.Bounds())
	x0 := math.Max(r.X, b.X-pad)
	y0 := math.Max(r.Y, b.Y-pad)
	x1 := math.Min(r.X+r.W, b.X+b.W+pad)
	y1 := math.Min(r.Y+r.H, b.Y+b.H+pad)
	if !(x1 > x0) || !(y1 > y0) {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// composite applies mask, whose origin corresponds to bbox.Min, using the
// current composite mode. The caller holds s.mu.
func (s *RGBA) composite(bbox image.Rectangle, mask *image.Alpha) {
	r := bbox.Intersect(s.img.Bounds())
	if r.Empty() {
		return
	}
	mp := r.Min.Sub(bbox.Min)
	switch s.mode {
	case Erase:
		draw.DrawMask(s.img, r, image.Transparent, image.Point{}, mask, mp, draw.Src)
	default:
		draw.DrawMask(s.img, r, s.fill, image.Point{}, mask, mp, draw.Over)
	}
}

// Round returns the integer rectangle nearest to r.
func (r Rect) Round() image.Rectangle {
	r = r.Canon()
	return image.Rect(
		int(math.Round(r.X)),
		int(math.Round(r.Y)),
		int(math.Round(r.X+r.W)),
		int(math.Round(r.Y+r.H)),
	)
}

func toFixed(f float64) fixed.Int26_6 {
	return fixed.Int26_6(math.Round(f * 64))
}

var _ Surface = (*RGBA)(nil)
