package easel

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"strings"

	"github.com/andrew-d/easel/protocol"
	"github.com/andrew-d/easel/raster"
)

// deleteLineWidth is the stroke width used to erase the anti-aliased fringe
// around deleted circles and text.
const deleteLineWidth = 20

// imageResolver starts an asynchronous image resolution.
type imageResolver interface {
	Resolve(ctx context.Context, p PendingImage)
}

type handlerKey struct {
	mode protocol.Mode
	kind protocol.ShapeKind
}

type handlerFunc func(d *Dispatcher, ctx context.Context, cmd protocol.Command) error

// handlers maps (mode, kind) to the surface operation that renders it.
// Combinations not listed here are ignored.
var handlers = map[handlerKey]handlerFunc{
	{protocol.Draw, protocol.Circle}:      (*Dispatcher).drawCircle,
	{protocol.Delete, protocol.Circle}:    (*Dispatcher).deleteCircle,
	{protocol.Draw, protocol.Rect}:        (*Dispatcher).drawRect,
	{protocol.Delete, protocol.Rect}:      (*Dispatcher).deleteRect,
	{protocol.Draw, protocol.Text}:        (*Dispatcher).drawText,
	{protocol.Delete, protocol.Text}:      (*Dispatcher).deleteText,
	{protocol.Draw, protocol.ImagePath}:   (*Dispatcher).drawImage,
	{protocol.Delete, protocol.ImagePath}: (*Dispatcher).deleteImage,
	{protocol.Draw, protocol.ImageBlob}:   (*Dispatcher).drawImage,
	{protocol.Delete, protocol.ImageBlob}: (*Dispatcher).deleteImage,
	{protocol.Draw, protocol.Frame}:       (*Dispatcher).drawFrame,
}

// Dispatcher applies parsed commands to a surface. It is not safe for
// concurrent use; the poll loop owns it.
type Dispatcher struct {
	surface   raster.Surface
	images    imageResolver
	frameSize image.Point
	logger    *slog.Logger
}

// NewDispatcher returns a Dispatcher drawing on surface. Image commands are
// handed to images; frames are blitted at frameSize.
func NewDispatcher(surface raster.Surface, images imageResolver, frameSize image.Point, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		surface:   surface,
		images:    images,
		frameSize: frameSize,
		logger:    logger,
	}
}

// Dispatch applies cmd. It returns a *HandlerArgumentError when the payload
// does not fit the command; commands with an unknown type are ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd protocol.Command) (err error) {
	d.surface.SetComposite(compositeFor(cmd.Mode))

	h, ok := handlers[handlerKey{cmd.Mode, cmd.Kind}]
	if !ok {
		d.logger.Debug("ignoring command", "mode", cmd.Mode, "type", cmd.TypeName)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = &HandlerArgumentError{
				Mode:    cmd.Mode,
				Kind:    cmd.Kind,
				Payload: cmd.Payload,
				Err:     fmt.Errorf("handler panic: %v", r),
			}
		}
	}()
	if err := h(d, ctx, cmd); err != nil {
		return &HandlerArgumentError{
			Mode:    cmd.Mode,
			Kind:    cmd.Kind,
			Payload: cmd.Payload,
			Err:     err,
		}
	}
	return nil
}

// Apply blits a resolved image. The composite mode is set from the command
// that requested the image, since other commands may have run in between.
func (d *Dispatcher) Apply(c Completion) error {
	if c.Err != nil {
		return c.Err
	}
	d.surface.SetComposite(compositeFor(c.Pending.Mode))
	d.surface.DrawImage(c.Image, c.Pending.Src, c.Pending.Dst)
	return nil
}

func compositeFor(m protocol.Mode) raster.CompositeMode {
	if m == protocol.Delete {
		return raster.Erase
	}
	return raster.Overwrite
}

func (d *Dispatcher) drawCircle(_ context.Context, cmd protocol.Command) error {
	v, err := numbers(protocol.Fields(cmd.Payload), 3)
	if err != nil {
		return err
	}
	d.surface.FillArc(v[0], v[1], v[2])
	return nil
}

func (d *Dispatcher) deleteCircle(_ context.Context, cmd protocol.Command) error {
	v, err := numbers(protocol.Fields(cmd.Payload), 3)
	if err != nil {
		return err
	}
	d.surface.SetLineWidth(deleteLineWidth)
	d.surface.StrokeArc(v[0], v[1], v[2])
	d.surface.FillArc(v[0], v[1], v[2])
	return nil
}

func (d *Dispatcher) drawRect(_ context.Context, cmd protocol.Command) error {
	v, err := numbers(protocol.Fields(cmd.Payload), 4)
	if err != nil {
		return err
	}
	d.surface.FillRect(v[0], v[1], v[2], v[3])
	return nil
}

func (d *Dispatcher) deleteRect(_ context.Context, cmd protocol.Command) error {
	v, err := numbers(protocol.Fields(cmd.Payload), 4)
	if err != nil {
		return err
	}
	d.surface.ClearRect(v[0], v[1], v[2], v[3])
	return nil
}

// textArgs splits a text payload into the string, its position and the font
// spec formed by the remaining fields.
func textArgs(cmd protocol.Command) (s string, x, y float64, font string, err error) {
	fields := protocol.Fields(cmd.Payload)
	if len(fields) < 3 {
		return "", 0, 0, "", fmt.Errorf("want at least 3 fields, got %d", len(fields))
	}
	v, err := numbers(fields[1:3], 2)
	if err != nil {
		return "", 0, 0, "", err
	}
	return fields[0], v[0], v[1], strings.Join(fields[3:], " "), nil
}

func (d *Dispatcher) drawText(_ context.Context, cmd protocol.Command) error {
	s, x, y, font, err := textArgs(cmd)
	if err != nil {
		return err
	}
	// An unusable font keeps the previous face; the text is still drawn.
	fontErr := d.surface.SetFont(font)
	d.surface.FillText(s, x, y)
	return fontErr
}

func (d *Dispatcher) deleteText(_ context.Context, cmd protocol.Command) error {
	s, x, y, font, err := textArgs(cmd)
	if err != nil {
		return err
	}
	fontErr := d.surface.SetFont(font)
	d.surface.SetLineWidth(deleteLineWidth)
	d.surface.StrokeText(s, x, y)
	d.surface.FillText(s, x, y)
	return fontErr
}

func (d *Dispatcher) drawImage(ctx context.Context, cmd protocol.Command) error {
	fields := protocol.Fields(cmd.Payload)
	if len(fields) < 1 {
		return errors.New("missing image reference")
	}
	src, dst, err := blitRects(withoutNulls(fields[1:]))
	if err != nil {
		return err
	}

	p := PendingImage{Mode: cmd.Mode, Kind: cmd.Kind, Src: src, Dst: dst}
	if cmd.Kind == protocol.ImagePath {
		p.Ref.Path = fields[0]
	} else {
		p.Ref.Blob = fields[0]
	}
	d.images.Resolve(ctx, p)
	return nil
}

func (d *Dispatcher) deleteImage(_ context.Context, cmd protocol.Command) error {
	fields := withoutNulls(protocol.Fields(cmd.Payload))
	if len(fields) < 1 {
		return errors.New("missing image reference")
	}
	v, err := numbers(fields[1:], 4)
	if err != nil {
		return err
	}
	d.surface.ClearRect(v[0], v[1], v[2], v[3])
	return nil
}

func (d *Dispatcher) drawFrame(ctx context.Context, cmd protocol.Command) error {
	if cmd.Payload == "" {
		return errors.New("empty frame")
	}
	d.images.Resolve(ctx, PendingImage{
		Mode: cmd.Mode,
		Kind: protocol.Frame,
		Ref:  ImageRef{Blob: cmd.Payload},
		Dst:  raster.Rect{W: float64(d.frameSize.X), H: float64(d.frameSize.Y)},
	})
	return nil
}

// blitRects interprets image blit arguments the way a canvas drawImage call
// does: "dx dy", "dx dy dw dh" or "sx sy sw sh dx dy dw dh".
func blitRects(args []string) (src, dst raster.Rect, err error) {
	switch len(args) {
	case 2, 4, 8:
	default:
		return src, dst, fmt.Errorf("want 2, 4 or 8 position fields, got %d", len(args))
	}
	v, err := numbers(args, len(args))
	if err != nil {
		return src, dst, err
	}
	switch len(v) {
	case 2:
		dst = raster.Rect{X: v[0], Y: v[1]}
	case 4:
		dst = raster.Rect{X: v[0], Y: v[1], W: v[2], H: v[3]}
	case 8:
		src = raster.Rect{X: v[0], Y: v[1], W: v[2], H: v[3]}
		dst = raster.Rect{X: v[4], Y: v[5], W: v[6], H: v[7]}
	}
	return src, dst, nil
}

// numbers parses the first n fields as floats. Extra fields are ignored.
func numbers(fields []string, n int) ([]float64, error) {
	if len(fields) < n {
		return nil, fmt.Errorf("want %d numeric fields, got %d", n, len(fields))
	}
	out := make([]float64, n)
	for i := range n {
		f, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		out[i] = f
	}
	return out, nil
}

func withoutNulls(fields []string) []string {
	out := fields[:0:0]
	for _, f := range fields {
		if f != "null" {
			out = append(out, f)
		}
	}
	return out
}
