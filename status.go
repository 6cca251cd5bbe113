package easel

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"image/png"
	"net"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
)

//go:embed templates/*.html
var templateFS embed.FS

var statusTemplates = template.Must(
	template.New("").Funcs(template.FuncMap{
		"ago":   humanize.Time,
		"count": func(n uint64) string { return humanize.Comma(int64(n)) },
	}).ParseFS(templateFS, "templates/*.html"),
)

// Status is a point-in-time view of a Client.
type Status struct {
	Server      string        `json:"server"`
	Format      Format        `json:"format"`
	State       string        `json:"state"`
	Cursor      uint64        `json:"cursor"`
	LastPoll    time.Time     `json:"last_poll,omitzero"`
	NextBackoff time.Duration `json:"next_backoff_ns,omitempty"`
	Problems    []Problem     `json:"problems"`
}

// Status reports the client's current state.
func (c *Client) Status() Status {
	c.mu.Lock()
	st := Status{
		Server:      c.base.String(),
		Format:      c.config.Format,
		State:       c.state.String(),
		Cursor:      c.cursor,
		LastPoll:    c.lastPoll,
		NextBackoff: c.nextBackoff,
	}
	c.mu.Unlock()
	st.Problems = c.problems.all()
	return st
}

// statusHandler returns the mux serving the status page.
func (c *Client) statusHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", c.handleStatusPage)
	mux.HandleFunc("GET /api/status", c.handleStatusJSON)
	mux.HandleFunc("GET /raster.png", c.handleRaster)
	return mux
}

// startStatus listens on addr and serves the status page until the returned
// server is shut down.
func (c *Client) startStatus(addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: c.statusHandler()}
	c.logger.Info("serving status page", "addr", ln.Addr().String())

	go func() {
		if err := srv.Serve(ln); err != http.ErrServerClosed {
			c.logger.Error("status server error", "err", err)
		}
	}()
	return srv, nil
}

type statusPage struct {
	Status
	Snapshot    bool
	SurfaceSize string
	GeneratedAt time.Time
}

func (c *Client) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	_, snap := c.surface.(Snapshotter)
	b := c.surface.Bounds()
	data := statusPage{
		Status:      c.Status(),
		Snapshot:    snap,
		SurfaceSize: fmt.Sprintf("%dx%d", b.Dx(), b.Dy()),
		GeneratedAt: time.Now(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusTemplates.ExecuteTemplate(w, "status.html", data); err != nil {
		c.logger.Error("rendering status page", "err", err)
	}
}

func (c *Client) handleStatusJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c.Status())
}

func (c *Client) handleRaster(w http.ResponseWriter, r *http.Request) {
	s, ok := c.surface.(Snapshotter)
	if !ok {
		http.Error(w, errNoSnapshot.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, s.Snapshot()); err != nil {
		c.logger.Debug("encoding raster", "err", err)
	}
}
