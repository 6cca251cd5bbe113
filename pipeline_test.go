package easel

import (
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/andrew-d/easel/internal/easeltest"
	"github.com/andrew-d/easel/internal/retry"
	"github.com/andrew-d/easel/protocol"
	"github.com/neilotoole/slogt"
)

func newTestPipeline(t *testing.T, srv *easeltest.Server) *Pipeline {
	t.Helper()
	base, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	return NewPipeline(PipelineConfig{
		BaseURL: base,
		Retry:   retry.Policy{Initial: time.Millisecond, Max: 5 * time.Millisecond, Attempts: 3},
		Logger:  slogt.New(t),
	})
}

func receive(t *testing.T, p *Pipeline) Completion {
	t.Helper()
	select {
	case c := <-p.Completions():
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
		return Completion{}
	}
}

func TestDecodeBlob(t *testing.T) {
	raw := easeltest.PNG(3, 2)
	for name, blob := range map[string]string{
		"data url":  easeltest.DataURL("image/png", raw),
		"base64":    base64.StdEncoding.EncodeToString(raw),
		"raw bytes": string(raw),
	} {
		t.Run(name, func(t *testing.T) {
			img, err := DecodeBlob(blob)
			if err != nil {
				t.Fatal(err)
			}
			if b := img.Bounds(); b.Dx() != 3 || b.Dy() != 2 {
				t.Fatalf("bounds = %v, want 3x2", b)
			}
		})
	}
}

func TestDecodeBlob_Invalid(t *testing.T) {
	for _, blob := range []string{
		"data:image/png;base64",
		"data:image/png;base64,not-base64!",
		"definitely not an image",
	} {
		if _, err := DecodeBlob(blob); err == nil {
			t.Errorf("DecodeBlob(%q): expected error", blob)
		}
	}
}

func TestPipeline_FetchesPath(t *testing.T) {
	srv := easeltest.NewServer(t)
	srv.SetImage("/home/me/puppy.png", easeltest.PNG(8, 6))
	p := newTestPipeline(t, srv)

	p.Resolve(t.Context(), PendingImage{Kind: protocol.ImagePath, Ref: ImageRef{Path: "/home/me/puppy.png"}})
	c := receive(t, p)
	if c.Err != nil {
		t.Fatal(c.Err)
	}
	if b := c.Image.Bounds(); b.Dx() != 8 || b.Dy() != 6 {
		t.Fatalf("bounds = %v, want 8x6", b)
	}
	if n := srv.Fetches("/home/me/puppy.png"); n != 1 {
		t.Fatalf("fetched %d times, want 1", n)
	}
}

func TestPipeline_PathIsAppendedVerbatim(t *testing.T) {
	requests := make(chan string, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- r.URL.RequestURI()
		w.Write(easeltest.PNG(2, 2))
	}))
	t.Cleanup(ts.Close)

	tests := []struct {
		base, path, want string
	}{
		{ts.URL, "/pics/a.png", "/image/upload/pics/a.png"},
		{ts.URL + "/", "/pics/a.png?v=2", "/image/upload/pics/a.png?v=2"},
		{ts.URL + "/easel/", "/a.png", "/easel/image/upload/a.png"},
	}
	for _, tt := range tests {
		base, err := url.Parse(tt.base)
		if err != nil {
			t.Fatal(err)
		}
		p := NewPipeline(PipelineConfig{BaseURL: base, Logger: slogt.New(t)})
		p.Resolve(t.Context(), PendingImage{Kind: protocol.ImagePath, Ref: ImageRef{Path: tt.path}})
		if c := receive(t, p); c.Err != nil {
			t.Fatalf("%s: %v", tt.path, c.Err)
		}
		if got := <-requests; got != tt.want {
			t.Errorf("base %q path %q requested %q, want %q", tt.base, tt.path, got, tt.want)
		}
	}
}

func TestPipeline_MissingPathRetriesThenFails(t *testing.T) {
	srv := easeltest.NewServer(t)
	p := newTestPipeline(t, srv)

	p.Resolve(t.Context(), PendingImage{Kind: protocol.ImagePath, Ref: ImageRef{Path: "/missing.png"}})
	c := receive(t, p)

	var te *TransportError
	if !errors.As(c.Err, &te) {
		t.Fatalf("got %v, want *TransportError", c.Err)
	}
	if te.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", te.StatusCode)
	}
	if n := srv.Fetches("/missing.png"); n != 3 {
		t.Errorf("fetched %d times, want 3", n)
	}
}

func TestPipeline_UndecodableBlob(t *testing.T) {
	srv := easeltest.NewServer(t)
	p := newTestPipeline(t, srv)

	p.Resolve(t.Context(), PendingImage{Kind: protocol.ImageBlob, Ref: ImageRef{Blob: "garbage"}})
	if c := receive(t, p); c.Err == nil {
		t.Fatal("expected decode error")
	}
}

func TestPipeline_CompletionCarriesBlitArgs(t *testing.T) {
	srv := easeltest.NewServer(t)
	p := newTestPipeline(t, srv)

	want := PendingImage{
		Mode: protocol.Draw,
		Kind: protocol.ImageBlob,
		Ref:  ImageRef{Blob: easeltest.DataURL("image/png", easeltest.PNG(1, 1))},
	}
	want.Dst.X, want.Dst.Y = 42, 7
	p.Resolve(t.Context(), want)

	c := receive(t, p)
	if c.Err != nil {
		t.Fatal(c.Err)
	}
	if c.Pending != want {
		t.Fatalf("pending = %+v, want %+v", c.Pending, want)
	}
	p.Wait()
}
