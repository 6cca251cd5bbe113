// Package slogrecorder captures slog records for test assertions.
package slogrecorder

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// Record is a captured log record. Attrs holds the record's own attributes
// merged with any attached via Logger.With, rendered as strings.
type Record struct {
	Level   slog.Level
	Message string
	Attrs   map[string]string
}

type store struct {
	mu   sync.Mutex
	recs []Record
}

// Handler is a [slog.Handler] that records every log call. Handlers derived
// through WithAttrs share the parent's records.
type Handler struct {
	store *store
	attrs []slog.Attr
}

// New returns an empty Handler.
func New() *Handler {
	return &Handler{store: &store{}}
}

func (h *Handler) Enabled(context.Context, slog.Level) bool { return true }
func (h *Handler) WithGroup(string) slog.Handler             { return h }

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{
		store: h.store,
		attrs: append(slices.Clip(h.attrs), attrs...),
	}
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	rec := Record{
		Level:   r.Level,
		Message: r.Message,
		Attrs:   make(map[string]string, len(h.attrs)+r.NumAttrs()),
	}
	for _, a := range h.attrs {
		rec.Attrs[a.Key] = a.Value.String()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.Attrs[a.Key] = a.Value.String()
		return true
	})
	h.store.mu.Lock()
	h.store.recs = append(h.store.recs, rec)
	h.store.mu.Unlock()
	return nil
}

// Records returns a copy of all captured records.
func (h *Handler) Records() []Record {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	return slices.Clone(h.store.recs)
}

// AtLeast returns the captured records at or above level.
func (h *Handler) AtLeast(level slog.Level) []Record {
	var out []Record
	for _, r := range h.Records() {
		if r.Level >= level {
			out = append(out, r)
		}
	}
	return out
}

// Count returns how many records carry msg.
func (h *Handler) Count(msg string) int {
	n := 0
	for _, r := range h.Records() {
		if r.Message == msg {
			n++
		}
	}
	return n
}

// Logger returns a [slog.Logger] that writes to h.
func (h *Handler) Logger() *slog.Logger {
	return slog.New(h)
}
