// Package easeltest provides test doubles for easel: a scripted state server
// and a surface that records the operations applied to it.
package easeltest

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/andrew-d/easel/raster"
)

// Server is a scripted state server. Batches are numbered from 1; a poll
// with cursor N is answered with batch N+1 once it has been pushed.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	batches  []string
	pushed   chan struct{} // closed and replaced on every push
	failures []int         // status codes for upcoming polls
	polls    []uint64
	images   map[string][]byte
	gates    map[string]chan struct{}
	fetches  map[string]int
	inputs   []Input
}

// Input is a form posted to one of the input endpoints.
type Input struct {
	Path string
	Form map[string]string
}

// NewServer starts a Server that is closed when t completes.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		pushed:  make(chan struct{}),
		images:  make(map[string][]byte),
		gates:   make(map[string]chan struct{}),
		fetches: make(map[string]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /state/update", s.handleUpdate)
	mux.HandleFunc("GET /image/upload/{path...}", s.handleImage)
	mux.HandleFunc("POST /mouse/move", s.handleInput)
	mux.HandleFunc("POST /mouse/click", s.handleInput)
	mux.HandleFunc("POST /key/update", s.handleInput)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Push appends batches and wakes waiting polls.
func (s *Server) Push(bodies ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, bodies...)
	close(s.pushed)
	s.pushed = make(chan struct{})
}

// FailNext makes the next len(statuses) polls fail with the given statuses.
func (s *Server) FailNext(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, statuses...)
}

// SetImage serves data at /image/upload{path}.
func (s *Server) SetImage(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[path] = data
}

// GateImage holds responses for path until release is called. Held requests
// also end when the client gives up on them.
func (s *Server) GateImage(path string) (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gates[path] = gate
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Polls returns the cursor of every poll received, in order.
func (s *Server) Polls() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.polls...)
}

// Fetches returns how many times path was requested.
func (s *Server) Fetches(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[path]
}

// Inputs returns the input events received, in order.
func (s *Server) Inputs() []Input {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Input(nil), s.inputs...)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	cursor, err := strconv.ParseUint(r.URL.Query().Get("cursor"), 10, 64)
	if err != nil {
		http.Error(w, "bad cursor", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.polls = append(s.polls, cursor)
	if len(s.failures) > 0 {
		status := s.failures[0]
		s.failures = s.failures[1:]
		s.mu.Unlock()
		http.Error(w, http.StatusText(status), status)
		return
	}
	s.mu.Unlock()

	for {
		s.mu.Lock()
		if cursor < uint64(len(s.batches)) {
			body := s.batches[cursor]
			s.mu.Unlock()
			io.WriteString(w, body)
			return
		}
		wake := s.pushed
		s.mu.Unlock()

		select {
		case <-wake:
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	path := "/" + r.PathValue("path")
	s.mu.Lock()
	s.fetches[path]++
	data, ok := s.images[path]
	gate := s.gates[path]
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Write(data)
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	in := Input{Path: r.URL.Path, Form: make(map[string]string)}
	for k := range r.PostForm {
		in.Form[k] = r.PostForm.Get(k)
	}
	s.mu.Lock()
	s.inputs = append(s.inputs, in)
	s.mu.Unlock()
}

// Surface records the operations applied to it as strings such as
// "fillArc 10 20 5". It wraps a real RGBA surface so snapshots still work.
type Surface struct {
	*raster.RGBA

	mu  sync.Mutex
	ops []string
}

var _ raster.Surface = (*Surface)(nil)

// NewSurface returns a recording surface of the given size.
func NewSurface(w, h int) *Surface {
	return &Surface{RGBA: raster.New(w, h)}
}

// Ops returns the recorded operations.
func (s *Surface) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

func (s *Surface) record(format string, args ...any) {
	s.mu.Lock()
	s.ops = append(s.ops, fmt.Sprintf(format, args...))
	s.mu.Unlock()
}

func (s *Surface) SetComposite(m raster.CompositeMode) {
	s.record("composite %s", m)
	s.RGBA.SetComposite(m)
}

func (s *Surface) SetLineWidth(w float64) {
	s.record("lineWidth %g", w)
	s.RGBA.SetLineWidth(w)
}

func (s *Surface) SetFont(spec string) error {
	s.record("font %s", spec)
	return s.RGBA.SetFont(spec)
}

func (s *Surface) FillArc(x, y, r float64) {
	s.record("fillArc %g %g %g", x, y, r)
	s.RGBA.FillArc(x, y, r)
}

func (s *Surface) StrokeArc(x, y, r float64) {
	s.record("strokeArc %g %g %g", x, y, r)
	s.RGBA.StrokeArc(x, y, r)
}

func (s *Surface) FillRect(x, y, w, h float64) {
	s.record("fillRect %g %g %g %g", x, y, w, h)
	s.RGBA.FillRect(x, y, w, h)
}

func (s *Surface) ClearRect(x, y, w, h float64) {
	s.record("clearRect %g %g %g %g", x, y, w, h)
	s.RGBA.ClearRect(x, y, w, h)
}

func (s *Surface) FillText(str string, x, y float64) {
	s.record("fillText %s %g %g", str, x, y)
	s.RGBA.FillText(str, x, y)
}

func (s *Surface) StrokeText(str string, x, y float64) {
	s.record("strokeText %s %g %g", str, x, y)
	s.RGBA.StrokeText(str, x, y)
}

func (s *Surface) DrawImage(img image.Image, src, dst raster.Rect) {
	b := img.Bounds()
	s.record("drawImage %dx%d src=%g,%g,%g,%g dst=%g,%g,%g,%g",
		b.Dx(), b.Dy(), src.X, src.Y, src.W, src.H, dst.X, dst.Y, dst.W, dst.H)
	s.RGBA.DrawImage(img, src, dst)
}

// PNG returns an encoded opaque white w×h PNG.
func PNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// DataURL returns data as a base64 data URL of the given MIME type.
func DataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
