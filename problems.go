package easel

import (
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Category groups soft errors by their cause.
type Category string

const (
	CategoryTransport Category = "transport"
	CategoryMalformed Category = "malformed"
	CategoryArgument  Category = "argument"
	CategoryImage     Category = "image"
)

// Problem summarizes the soft errors seen for one category.
type Problem struct {
	Category Category    `json:"category"`
	Message  string      `json:"message"` // most recent message
	Attrs    []slog.Attr `json:"-"`       // details of the most recent occurrence
	Count    int         `json:"count"`
	Since    time.Time   `json:"since"` // first occurrence since the category was last cleared
	Last     time.Time   `json:"last"`
}

// problemStore records soft errors. Every report is also logged, so nothing
// recorded here is ever surfaced only through the store.
type problemStore struct {
	mu       sync.Mutex
	problems map[Category]*Problem
	logger   *slog.Logger
	now      func() time.Time
}

func newProblemStore(logger *slog.Logger) *problemStore {
	return &problemStore{
		problems: make(map[Category]*Problem),
		logger:   logger,
	}
}

func (s *problemStore) timeNow() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// report logs msg at warning level and records it under cat.
func (s *problemStore) report(cat Category, msg string, args ...any) {
	s.logger.Warn(msg, append([]any{"category", string(cat)}, args...)...)

	now := s.timeNow()
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.problems[cat]
	if !ok {
		p = &Problem{Category: cat, Since: now}
		s.problems[cat] = p
	}
	p.Message = msg
	p.Attrs = argsToAttrs(args)
	p.Count++
	p.Last = now
}

// clear drops the record for cat, typically once the condition has resolved.
func (s *problemStore) clear(cat Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.problems, cat)
}

// all returns a copy of every recorded problem ordered by category.
func (s *problemStore) all() []Problem {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Problem, 0, len(s.problems))
	for _, p := range s.problems {
		result = append(result, *p)
	}
	slices.SortFunc(result, func(a, b Problem) int {
		switch {
		case a.Category < b.Category:
			return -1
		case a.Category > b.Category:
			return 1
		}
		return 0
	})
	return result
}

// argsToAttrs converts slog-style alternating key-value args to []slog.Attr.
func argsToAttrs(args []any) []slog.Attr {
	var attrs []slog.Attr
	for i := 0; i < len(args); i++ {
		switch v := args[i].(type) {
		case slog.Attr:
			attrs = append(attrs, v)
		case string:
			if i+1 < len(args) {
				attrs = append(attrs, slog.Any(v, args[i+1]))
				i++
			}
		}
	}
	return attrs
}
