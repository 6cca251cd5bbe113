package easel

import (
	"log/slog"
	"testing"
	"time"

	"github.com/andrew-d/easel/internal/slogrecorder"
)

func TestProblemStore_ReportAndAll(t *testing.T) {
	rec := slogrecorder.New()
	s := newProblemStore(rec.Logger())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.report(CategoryTransport, "poll failed", "err", "refused")
	s.report(CategoryArgument, "dropping command", "err", "bad field")

	all := s.all()
	if len(all) != 2 {
		t.Fatalf("expected 2 problems, got %d", len(all))
	}
	if all[0].Category != CategoryArgument || all[1].Category != CategoryTransport {
		t.Fatalf("problems not sorted by category: %+v", all)
	}
	if !all[0].Since.Equal(now) || all[0].Count != 1 {
		t.Fatalf("unexpected problem: %+v", all[0])
	}
	if len(all[1].Attrs) != 1 || all[1].Attrs[0].Key != "err" {
		t.Fatalf("unexpected attrs: %+v", all[1].Attrs)
	}

	warns := rec.AtLeast(slog.LevelWarn)
	if len(warns) != 2 {
		t.Fatalf("expected 2 warnings logged, got %d", len(warns))
	}
	if warns[0].Attrs["category"] != "transport" {
		t.Fatalf("category attr = %q", warns[0].Attrs["category"])
	}
}

func TestProblemStore_SincePreserved(t *testing.T) {
	s := newProblemStore(slog.Default())
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	s.now = func() time.Time { return t1 }
	s.report(CategoryImage, "first")
	s.now = func() time.Time { return t2 }
	s.report(CategoryImage, "second")

	all := s.all()
	if len(all) != 1 {
		t.Fatalf("expected 1 problem, got %d", len(all))
	}
	p := all[0]
	if !p.Since.Equal(t1) || !p.Last.Equal(t2) {
		t.Fatalf("since=%v last=%v, want %v and %v", p.Since, p.Last, t1, t2)
	}
	if p.Count != 2 || p.Message != "second" {
		t.Fatalf("unexpected problem: %+v", p)
	}
}

func TestProblemStore_Clear(t *testing.T) {
	s := newProblemStore(slog.Default())
	s.report(CategoryTransport, "poll failed")
	s.clear(CategoryTransport)
	s.clear(CategoryMalformed)
	if all := s.all(); len(all) != 0 {
		t.Fatalf("expected no problems, got %+v", all)
	}
}

func TestArgsToAttrs(t *testing.T) {
	attrs := argsToAttrs([]any{"a", 1, slog.String("b", "x"), "dangling"})
	if len(attrs) != 2 || attrs[0].Key != "a" || attrs[1].Key != "b" {
		t.Fatalf("unexpected attrs: %+v", attrs)
	}
}
