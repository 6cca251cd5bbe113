// Package ttyview presents a raster surface in a terminal. Each character
// cell shows two vertically stacked pixels using the upper half block glyph,
// and local mouse and key input is forwarded to the state server.
package ttyview

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"os"
	"time"

	"github.com/andrew-d/easel"
	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/term"
)

// ErrNotTerminal is returned when stdout is not a terminal.
var ErrNotTerminal = errors.New("stdout is not a terminal")

const upperHalf = '▀'

// Source provides the pixels to show.
type Source interface {
	Snapshot() *image.RGBA
}

// InputSink receives forwarded input events.
type InputSink interface {
	MouseMove(ctx context.Context, x, y int)
	MouseClick(ctx context.Context, button int)
	Key(ctx context.Context, ev easel.KeyEvent)
}

// Config configures a View.
type Config struct {
	Source Source
	Input  InputSink

	// Status, if set, is rendered on the bottom line.
	Status func() string

	// FPS is the redraw rate. Defaults to 15.
	FPS int

	// Background is shown through transparent pixels. Defaults to white.
	Background color.Color

	// Screen overrides the terminal screen, mainly for tests.
	Screen tcell.Screen

	Logger *slog.Logger
}

// View renders a Source on a terminal screen.
type View struct {
	config Config
	screen tcell.Screen
	logger *slog.Logger

	// Last known geometry, used to map cells back to surface pixels.
	cols, rows int
	src        image.Rectangle

	lastX, lastY int
	lastButtons  tcell.ButtonMask
}

// New returns a View. Unless cfg.Screen is set, stdout must be a terminal.
func New(cfg Config) (*View, error) {
	if cfg.FPS <= 0 {
		cfg.FPS = 15
	}
	if cfg.Background == nil {
		cfg.Background = color.White
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	screen := cfg.Screen
	if screen == nil {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return nil, ErrNotTerminal
		}
		var err error
		screen, err = tcell.NewScreen()
		if err != nil {
			return nil, err
		}
	}
	return &View{
		config: cfg,
		screen: screen,
		logger: cfg.Logger.With("component", "tty"),
		lastX:  -1,
		lastY:  -1,
	}, nil
}

// Run draws until the user quits with Esc or Ctrl-C, in which case it
// returns nil, or until ctx ends.
func (v *View) Run(ctx context.Context) error {
	if err := v.screen.Init(); err != nil {
		return err
	}
	defer v.screen.Fini()
	v.screen.EnableMouse()
	v.screen.HideCursor()
	v.logger.Debug("terminal view started", "fps", v.config.FPS)

	events := make(chan tcell.Event, 16)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			ev := v.screen.PollEvent()
			if ev == nil {
				return
			}
			select {
			case events <- ev:
			case <-stop:
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second / time.Duration(v.config.FPS))
	defer ticker.Stop()

	v.draw()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			v.draw()
		case ev := <-events:
			if quit := v.handle(ctx, ev); quit {
				return nil
			}
		}
	}
}

// handle processes one terminal event and reports whether the user quit.
func (v *View) handle(ctx context.Context, ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventResize:
		v.screen.Sync()
		v.draw()
	case *tcell.EventKey:
		if ev.Key() == tcell.KeyEsc || ev.Key() == tcell.KeyCtrlC {
			return true
		}
		if v.config.Input != nil {
			if kev, ok := keyEvent(ev); ok {
				v.config.Input.Key(ctx, kev)
			}
		}
	case *tcell.EventMouse:
		v.handleMouse(ctx, ev)
	}
	return false
}

func (v *View) handleMouse(ctx context.Context, ev *tcell.EventMouse) {
	if v.config.Input == nil {
		return
	}
	cx, cy := ev.Position()
	x, y, ok := v.cellToPixel(cx, cy)
	if !ok {
		return
	}
	if x != v.lastX || y != v.lastY {
		v.lastX, v.lastY = x, y
		v.config.Input.MouseMove(ctx, x, y)
	}

	buttons := ev.Buttons()
	pressed := buttons &^ v.lastButtons
	v.lastButtons = buttons
	for _, b := range []struct {
		mask   tcell.ButtonMask
		button int
	}{
		{tcell.Button1, easel.ButtonLeft},
		{tcell.Button3, easel.ButtonMiddle},
		{tcell.Button2, easel.ButtonRight},
	} {
		if pressed&b.mask != 0 {
			v.config.Input.MouseClick(ctx, b.button)
		}
	}
}

// cellToPixel maps a screen cell to the centre of the surface region it
// shows.
func (v *View) cellToPixel(cx, cy int) (x, y int, ok bool) {
	if v.cols == 0 || v.rows == 0 || cx < 0 || cy < 0 || cx >= v.cols || cy >= v.rows {
		return 0, 0, false
	}
	x = v.src.Min.X + int((float64(cx)+0.5)*float64(v.src.Dx())/float64(v.cols))
	y = v.src.Min.Y + int((float64(cy)+0.5)*float64(v.src.Dy())/float64(v.rows))
	return x, y, true
}

// draw renders the current snapshot and the status line.
func (v *View) draw() {
	w, h := v.screen.Size()
	rows := h
	if v.config.Status != nil {
		rows--
	}
	if w <= 0 || rows <= 0 {
		return
	}

	snap := v.config.Source.Snapshot()
	v.cols, v.rows, v.src = w, rows, snap.Bounds()

	// Flatten over the background, then scale to two pixels per cell.
	flat := image.NewRGBA(snap.Bounds())
	draw.Draw(flat, flat.Bounds(), image.NewUniform(v.config.Background), image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), snap, snap.Bounds().Min, draw.Over)
	scaled := image.NewRGBA(image.Rect(0, 0, w, rows*2))
	xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), flat, flat.Bounds(), draw.Src, nil)

	for cy := range rows {
		for cx := range w {
			top := scaled.RGBAAt(cx, cy*2)
			bottom := scaled.RGBAAt(cx, cy*2+1)
			style := tcell.StyleDefault.
				Foreground(tcell.NewRGBColor(int32(top.R), int32(top.G), int32(top.B))).
				Background(tcell.NewRGBColor(int32(bottom.R), int32(bottom.G), int32(bottom.B)))
			v.screen.SetContent(cx, cy, upperHalf, nil, style)
		}
	}

	if v.config.Status != nil {
		v.drawStatus(rows, w, v.config.Status())
	}
	v.screen.Show()
}

func (v *View) drawStatus(y, width int, text string) {
	style := tcell.StyleDefault.Reverse(true)
	text = runewidth.Truncate(text, width, "…")
	x := 0
	for _, r := range text {
		v.screen.SetContent(x, y, r, nil, style)
		x += runewidth.RuneWidth(r)
	}
	for ; x < width; x++ {
		v.screen.SetContent(x, y, ' ', nil, style)
	}
}

var keyNames = map[tcell.Key]string{
	tcell.KeyEnter:      "Enter",
	tcell.KeyTab:        "Tab",
	tcell.KeyBackspace:  "Backspace",
	tcell.KeyBackspace2: "Backspace",
	tcell.KeyDelete:     "Delete",
	tcell.KeyUp:         "ArrowUp",
	tcell.KeyDown:       "ArrowDown",
	tcell.KeyLeft:       "ArrowLeft",
	tcell.KeyRight:      "ArrowRight",
	tcell.KeyHome:       "Home",
	tcell.KeyEnd:        "End",
	tcell.KeyPgUp:       "PageUp",
	tcell.KeyPgDn:       "PageDown",
	tcell.KeyInsert:     "Insert",
}

// keyEvent converts a terminal key to the browser-style event the server
// expects.
func keyEvent(ev *tcell.EventKey) (easel.KeyEvent, bool) {
	mods := ev.Modifiers()
	kev := easel.KeyEvent{
		Shift: mods&tcell.ModShift != 0,
		Ctrl:  mods&tcell.ModCtrl != 0,
		Alt:   mods&tcell.ModAlt != 0,
	}
	if ev.Key() == tcell.KeyRune {
		kev.Key = string(ev.Rune())
		return kev, true
	}
	name, ok := keyNames[ev.Key()]
	if !ok {
		return kev, false
	}
	kev.Key = name
	return kev, true
}
