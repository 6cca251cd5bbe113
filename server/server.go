// Package server implements a state server for easel clients. It stores
// drawing batches in SQLite, answers long polls for the next batch, serves
// images referenced by path and queues the input events clients forward.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Config holds the configuration for a [Server].
type Config struct {
	// DataDir is the directory where the SQLite database is stored.
	DataDir string

	// HTTPAddr is the listen address (default ":8888").
	HTTPAddr string

	// ImageRoot, if set, is the directory served under /image/upload/.
	// Requests cannot escape it.
	ImageRoot string

	// Retain, if positive, keeps the bodies of only the newest Retain
	// batches. Older batches are served with an empty body.
	Retain int

	// EchoKeys draws each printable key press as text in the top-left
	// corner.
	EchoKeys bool

	// Logger is the structured logger. If nil, [slog.Default] is used.
	Logger *slog.Logger
}

// Server is a running state server.
type Server struct {
	config Config
	db     *sql.DB
	store  *store
	hub    *hub
	mouse  *eventQueue
	keys   *eventQueue
	images *os.Root

	httpServer *http.Server
	httpAddr   string

	logger *slog.Logger
	newID  func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Server with the given configuration.
func New(config Config) *Server {
	if config.HTTPAddr == "" {
		config.HTTPAddr = ":8888"
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := newHub()
	return &Server{
		config: config,
		hub:    h,
		mouse:  newEventQueue(h, topicMouse),
		keys:   newEventQueue(h, topicKeys),
		logger: logger,
		newID:  uuid.NewString,
	}
}

// Addr returns the bound HTTP address. It may differ from Config.HTTPAddr
// when listening on port 0.
func (s *Server) Addr() string {
	return s.httpAddr
}

// Start opens the database and begins serving. It returns once the listener
// is bound.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := os.MkdirAll(s.config.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(s.config.DataDir, "easel.db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	s.db = db

	pragmas := []string{
		"PRAGMA busy_timeout=10000;",
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	st, err := newStore(db)
	if err != nil {
		return err
	}
	s.store = st

	if s.config.ImageRoot != "" {
		root, err := os.OpenRoot(s.config.ImageRoot)
		if err != nil {
			return fmt.Errorf("open image root: %w", err)
		}
		s.images = root
	}

	if err := s.startHTTP(); err != nil {
		return fmt.Errorf("start HTTP: %w", err)
	}

	latest, err := st.latest(s.ctx)
	if err != nil {
		return fmt.Errorf("read latest batch: %w", err)
	}
	s.logger.Info("started server", "http_addr", s.httpAddr, "latest_batch", latest, "image_root", s.config.ImageRoot)
	return nil
}

func (s *Server) startHTTP() error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /state/update", s.handleUpdate)
	mux.HandleFunc("POST /state/update", s.handleUpdate)
	mux.HandleFunc("POST /state/add", s.handleAdd)
	mux.HandleFunc("POST /state/rm", s.handleRemove)
	mux.HandleFunc("POST /state/frame", s.handleFrame)
	mux.HandleFunc("GET /state/objects", s.handleObjects)
	mux.HandleFunc("GET /image/upload/{path...}", s.handleImage)
	mux.HandleFunc("POST /mouse/move", s.handleMouseMove)
	mux.HandleFunc("POST /mouse/click", s.handleMouseClick)
	mux.HandleFunc("POST /key/update", s.handleKey)
	mux.HandleFunc("GET /mouse/report", s.handleReport(s.mouse))
	mux.HandleFunc("GET /key/report", s.handleReport(s.keys))

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	ln, err := net.Listen("tcp", s.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.HTTPAddr, err)
	}
	s.httpAddr = ln.Addr().String()

	s.wg.Go(func() {
		if err := s.httpServer.Serve(ln); err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "err", err)
		}
	})
	return nil
}

// appended wakes pollers after a batch has been stored and applies the
// retention window.
func (s *Server) appended(ctx context.Context, idx int64) {
	s.hub.signal(topicBatches)
	if s.config.Retain <= 0 {
		return
	}
	n, err := s.store.compact(ctx, s.config.Retain)
	if err != nil {
		s.logger.Error("failed to compact batches", "err", err)
		return
	}
	if n > 0 {
		s.logger.Debug("compacted batches", "removed", n, "latest", idx)
	}
}

// Shutdown stops serving and closes the database. In-flight long polls are
// released first.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	var firstErr error
	saveErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.httpServer != nil {
		saveErr(s.httpServer.Shutdown(ctx))
		s.httpServer = nil
	}
	s.wg.Wait()
	if s.images != nil {
		saveErr(s.images.Close())
		s.images = nil
	}
	if s.db != nil {
		saveErr(s.db.Close())
		s.db = nil
	}
	return firstErr
}
