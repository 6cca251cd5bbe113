package raster

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/gomonobolditalic"
	"golang.org/x/image/font/gofont/gomonoitalic"
	"golang.org/x/image/font/gofont/goregular"
)

// DefaultFont matches the canvas default.
const DefaultFont = "10px sans-serif"

// maxFontSize bounds glyph rasterization, which allocates per glyph at the
// full font size.
const maxFontSize = 2048

// fontSpec is a parsed CSS-like font shorthand.
type fontSpec struct {
	size   float64 // pixels
	bold   bool
	italic bool
	mono   bool
}

func (f fontSpec) key() string {
	return fmt.Sprintf("%g/%t/%t/%t", f.size, f.bold, f.italic, f.mono)
}

// parseFont parses the subset of the CSS font shorthand that commands use:
// optional style and weight keywords, a size in px or pt, and a family list.
func parseFont(spec string) (fontSpec, error) {
	var fs fontSpec
	fields := strings.Fields(spec)
	sizeIdx := -1
	for i, f := range fields {
		lf := strings.ToLower(f)
		switch lf {
		case "normal", "small-caps":
			continue
		case "italic", "oblique":
			fs.italic = true
			continue
		case "bold", "bolder":
			fs.bold = true
			continue
		}
		if w, err := strconv.Atoi(lf); err == nil {
			fs.bold = w >= 600
			continue
		}
		size, ok := parseSize(lf)
		if !ok {
			return fontSpec{}, fmt.Errorf("invalid font %q: unexpected %q before size", spec, f)
		}
		fs.size = size
		sizeIdx = i
		break
	}
	if sizeIdx < 0 {
		return fontSpec{}, fmt.Errorf("invalid font %q: missing size", spec)
	}
	if !(fs.size > 0) {
		return fontSpec{}, fmt.Errorf("invalid font %q: size must be positive", spec)
	}
	if fs.size > maxFontSize {
		return fontSpec{}, fmt.Errorf("invalid font %q: size exceeds %dpx", spec, maxFontSize)
	}

	family := strings.ToLower(strings.Join(fields[sizeIdx+1:], " "))
	family, _, _ = strings.Cut(family, ",")
	family = strings.Trim(strings.TrimSpace(family), `"'`)
	fs.mono = strings.Contains(family, "mono") || strings.Contains(family, "courier")
	return fs, nil
}

// parseSize accepts "<n>px", "<n>pt" or a "<n>px/<line-height>" form.
func parseSize(s string) (float64, bool) {
	s, _, _ = strings.Cut(s, "/")
	scale := 1.0
	switch {
	case strings.HasSuffix(s, "px"):
		s = strings.TrimSuffix(s, "px")
	case strings.HasSuffix(s, "pt"):
		s = strings.TrimSuffix(s, "pt")
		scale = 96.0 / 72.0
	default:
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v * scale, true
}

var (
	parsedMu    sync.Mutex
	parsedFonts = make(map[string]*truetype.Font)
)

func ttfFor(fs fontSpec) (name string, data []byte) {
	switch {
	case fs.mono && fs.bold && fs.italic:
		return "gomonobolditalic", gomonobolditalic.TTF
	case fs.mono && fs.bold:
		return "gomonobold", gomonobold.TTF
	case fs.mono && fs.italic:
		return "gomonoitalic", gomonoitalic.TTF
	case fs.mono:
		return "gomono", gomono.TTF
	case fs.bold && fs.italic:
		return "gobolditalic", gobolditalic.TTF
	case fs.bold:
		return "gobold", gobold.TTF
	case fs.italic:
		return "goitalic", goitalic.TTF
	default:
		return "goregular", goregular.TTF
	}
}

func loadFont(fs fontSpec) (*truetype.Font, error) {
	name, data := ttfFor(fs)

	parsedMu.Lock()
	defer parsedMu.Unlock()
	if f, ok := parsedFonts[name]; ok {
		return f, nil
	}
	f, err := truetype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	parsedFonts[name] = f
	return f, nil
}

// faceCache holds the faces created for one surface.
type faceCache map[string]font.Face

func (c faceCache) face(fs fontSpec) (font.Face, error) {
	k := fs.key()
	if f, ok := c[k]; ok {
		return f, nil
	}
	ttf, err := loadFont(fs)
	if err != nil {
		return nil, err
	}
	f := truetype.NewFace(ttf, &truetype.Options{
		Size:    fs.size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	c[k] = f
	return f, nil
}
