// Package raster provides the 2D drawing surface that easel commands mutate.
//
// A [Surface] exposes the handful of primitive operations the command set
// needs: filled and stroked arcs, rectangles, text, image blits and region
// clears. Every operation composites according to a single surface-wide
// [CompositeMode] which callers set before each shape and which persists
// until it is set again.
package raster

import (
	"image"
	"math"
)

// CompositeMode controls how shape operations combine with existing pixels.
type CompositeMode int

const (
	// Overwrite paints the source over the destination (canvas
	// "source-over").
	Overwrite CompositeMode = iota

	// Erase removes destination coverage wherever the source would have
	// painted (canvas "destination-out").
	Erase
)

func (m CompositeMode) String() string {
	switch m {
	case Overwrite:
		return "overwrite"
	case Erase:
		return "erase"
	default:
		return "unknown"
	}
}

// Rect is a rectangle in fractional surface or image coordinates. W and H may
// be negative, in which case the rectangle extends left or up from X, Y.
type Rect struct {
	X, Y, W, H float64
}

// Empty reports whether r has no area.
func (r Rect) Empty() bool {
	return r.W == 0 || r.H == 0
}

// Canon returns r with non-negative width and height.
func (r Rect) Canon() Rect {
	if r.W < 0 {
		r.X += r.W
		r.W = -r.W
	}
	if r.H < 0 {
		r.Y += r.H
		r.H = -r.H
	}
	return r
}

// Pixels returns the smallest integer rectangle covering r.
func (r Rect) Pixels() image.Rectangle {
	r = r.Canon()
	return image.Rect(
		int(math.Floor(r.X)),
		int(math.Floor(r.Y)),
		int(math.Ceil(r.X+r.W)),
		int(math.Ceil(r.Y+r.H)),
	)
}

// RectOf converts an integer rectangle to a Rect.
func RectOf(r image.Rectangle) Rect {
	return Rect{
		X: float64(r.Min.X),
		Y: float64(r.Min.Y),
		W: float64(r.Dx()),
		H: float64(r.Dy()),
	}
}

// Surface is an addressable 2D drawing surface.
type Surface interface {
	// Bounds returns the pixel extent of the surface.
	Bounds() image.Rectangle

	// SetComposite sets the mode used by every subsequent operation
	// except ClearRect.
	SetComposite(CompositeMode)
	Composite() CompositeMode

	// SetLineWidth sets the width used by StrokeArc and StrokeText.
	SetLineWidth(w float64)

	// SetFont selects the face for text operations from a CSS-like
	// specification such as "bold 48px serif". An empty spec keeps the
	// current face.
	SetFont(spec string) error

	FillArc(x, y, r float64)
	StrokeArc(x, y, r float64)
	FillRect(x, y, w, h float64)

	// ClearRect resets the region to transparent regardless of the
	// composite mode.
	ClearRect(x, y, w, h float64)

	// FillText and StrokeText draw s with its alphabetic baseline starting
	// at x, y.
	FillText(s string, x, y float64)
	StrokeText(s string, x, y float64)

	// DrawImage copies the src region of img into the dst region of the
	// surface, scaling as required. An empty src selects all of img; an
	// empty dst keeps the source size.
	DrawImage(img image.Image, src, dst Rect)
}
