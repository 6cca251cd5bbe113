package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andrew-d/easel/protocol"
	"github.com/neilotoole/slogt"
)

func startServer(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()
	if cfg.DataDir == "" {
		cfg.DataDir = t.TempDir()
	}
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.Logger = slogt.New(t)

	s := New(cfg)
	if err := s.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return s, "http://" + s.Addr()
}

func post(t *testing.T, u, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(u, "text/plain", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(data)
}

func get(t *testing.T, u string) (int, string) {
	t.Helper()
	resp, err := http.Get(u)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(data)
}

func poll(t *testing.T, base string, cursor int) string {
	t.Helper()
	code, body := get(t, fmt.Sprintf("%s/state/update?cursor=%d", base, cursor))
	if code != http.StatusOK {
		t.Fatalf("poll cursor=%d: status %d: %s", cursor, code, body)
	}
	return body
}

const circle = "draw ;-TYPE-; circle ;-TYPE-; [ 10 20 5 ]"
const rect = "draw ;-TYPE-; rect ;-TYPE-; [ 0 0 4 4 ]"

func TestAddAndPoll(t *testing.T) {
	_, base := startServer(t, Config{})

	code, ids := post(t, base+"/state/add", "c1 ;-ID-; "+circle+" ;-MSEP-; "+rect)
	if code != http.StatusOK {
		t.Fatalf("add: status %d", code)
	}
	lines := strings.Fields(ids)
	if len(lines) != 2 || lines[0] != "c1" {
		t.Fatalf("ids = %q", ids)
	}

	cmds, errs := protocol.ParseBatch(poll(t, base, 0))
	if len(errs) != 0 {
		t.Fatalf("parse errors: %v", errs)
	}
	if len(cmds) != 2 || cmds[0].Kind != protocol.Circle || cmds[1].Kind != protocol.Rect {
		t.Fatalf("commands = %+v", cmds)
	}
}

func TestAddRejectsMalformed(t *testing.T) {
	_, base := startServer(t, Config{})
	if code, _ := post(t, base+"/state/add", "x ;-ID-; nonsense"); code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
	if code, _ := post(t, base+"/state/add", ""); code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
}

func TestPollWaitsForNextBatch(t *testing.T) {
	s, base := startServer(t, Config{})

	got := make(chan string, 1)
	go func() {
		resp, err := http.Get(base + "/state/update?cursor=0")
		if err != nil {
			got <- "error: " + err.Error()
			return
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		got <- string(data)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for s.hub.waiting(topicBatches) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("poll never started waiting")
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case body := <-got:
		t.Fatalf("poll returned early with %q", body)
	default:
	}

	post(t, base+"/state/add", "a ;-ID-; "+circle)
	select {
	case body := <-got:
		if !strings.Contains(body, "circle") {
			t.Fatalf("body = %q", body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("poll not woken by add")
	}
}

func TestRemoveRewritesToDelete(t *testing.T) {
	_, base := startServer(t, Config{})
	post(t, base+"/state/add", "a ;-ID-; "+circle+" ;-MSEP-; b ;-ID-; "+rect)

	if code, _ := post(t, base+"/state/rm", "a ;-ID-; missing"); code != http.StatusNoContent {
		t.Fatalf("rm status = %d", code)
	}
	cmds, errs := protocol.ParseBatch(poll(t, base, 1))
	if len(errs) != 0 || len(cmds) != 1 {
		t.Fatalf("cmds=%+v errs=%v", cmds, errs)
	}
	if cmds[0].Mode != protocol.Delete || cmds[0].Kind != protocol.Circle || cmds[0].Payload != "10 20 5" {
		t.Fatalf("delete command = %+v", cmds[0])
	}

	_, objs := get(t, base+"/state/objects")
	if strings.Contains(objs, "circle") || !strings.HasPrefix(objs, "b ;-ID-;") {
		t.Fatalf("objects = %q", objs)
	}

	if code, _ := post(t, base+"/state/rm", "a"); code != http.StatusNotFound {
		t.Fatalf("second rm status = %d, want 404", code)
	}
}

func TestFrameStoredAsDataURL(t *testing.T) {
	_, base := startServer(t, Config{})
	png := []byte("\x89PNG\r\n\x1a\nfake")
	resp, err := http.Post(base+"/state/frame", "application/octet-stream", strings.NewReader(string(png)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	body := poll(t, base, 0)
	if !strings.HasPrefix(body, "data:image/png;base64,") {
		t.Fatalf("body = %q", body)
	}
	if protocol.IsStructured(body) {
		t.Fatal("frame body looks structured")
	}
}

func TestRetainServesEmptyBodies(t *testing.T) {
	_, base := startServer(t, Config{Retain: 1})
	post(t, base+"/state/add", "a ;-ID-; "+circle)
	post(t, base+"/state/add", "b ;-ID-; "+rect)

	if body := poll(t, base, 0); body != "" {
		t.Fatalf("compacted batch body = %q, want empty", body)
	}
	if body := poll(t, base, 1); !strings.Contains(body, "rect") {
		t.Fatalf("latest batch body = %q", body)
	}
}

func TestBatchesPersistAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	s, base := startServer(t, Config{DataDir: dir})
	post(t, base+"/state/add", "a ;-ID-; "+circle)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}

	_, base = startServer(t, Config{DataDir: dir})
	if body := poll(t, base, 0); !strings.Contains(body, "circle") {
		t.Fatalf("body after restart = %q", body)
	}
}

func TestInvalidCursor(t *testing.T) {
	_, base := startServer(t, Config{})
	for _, c := range []string{"", "abc", "-1"} {
		code, _ := get(t, base+"/state/update?cursor="+url.QueryEscape(c))
		if code != http.StatusBadRequest {
			t.Errorf("cursor %q: status %d, want 400", c, code)
		}
	}
}

func TestImageUpload(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "pics"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "pics", "a.png"), []byte("pngdata"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, base := startServer(t, Config{ImageRoot: root})

	code, body := get(t, base+"/image/upload/pics/a.png")
	if code != http.StatusOK || body != "pngdata" {
		t.Fatalf("got %d %q", code, body)
	}
	if code, _ := get(t, base+"/image/upload/pics/missing.png"); code != http.StatusNotFound {
		t.Fatalf("missing: status %d, want 404", code)
	}
	if code, _ := get(t, base+"/image/upload/pics"); code != http.StatusNotFound {
		t.Fatalf("directory: status %d, want 404", code)
	}
	if code, _ := get(t, base+"/image/upload/..%2f..%2fetc%2fpasswd"); code == http.StatusOK {
		t.Fatal("escaped the image root")
	}
}

func TestMouseAndKeyReports(t *testing.T) {
	_, base := startServer(t, Config{})

	for _, req := range []struct{ path, body string }{
		{"/mouse/move", "x=3&y=4"},
		{"/mouse/click", "button=0"},
		{"/mouse/click", "button=7"},
	} {
		resp, err := http.Post(base+req.path, "application/x-www-form-urlencoded", strings.NewReader(req.body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("%s: status %d", req.path, resp.StatusCode)
		}
	}
	_, body := get(t, base+"/mouse/report")
	if want := "(3, 4);--;left click;--;unknown click code"; body != want {
		t.Fatalf("mouse report = %q, want %q", body, want)
	}

	resp, err := http.PostForm(base+"/key/update", url.Values{
		"Key": {"a"}, "shiftKey": {"true"}, "ctrlKey": {"false"}, "altKey": {"false"},
	})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	_, body = get(t, base+"/key/report")
	if want := `("a", true, false, false)`; body != want {
		t.Fatalf("key report = %q, want %q", body, want)
	}

	resp, err = http.PostForm(base+"/mouse/move", url.Values{"x": {"nope"}})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad move: status %d, want 400", resp.StatusCode)
	}
}

func TestEchoKeys(t *testing.T) {
	_, base := startServer(t, Config{EchoKeys: true})
	for _, key := range []string{"Shift", "q"} {
		resp, err := http.PostForm(base+"/key/update", url.Values{
			"Key": {key}, "shiftKey": {"false"}, "ctrlKey": {"false"}, "altKey": {"false"},
		})
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}

	cmds, errs := protocol.ParseBatch(poll(t, base, 0))
	if len(errs) != 0 || len(cmds) != 2 {
		t.Fatalf("cmds=%+v errs=%v", cmds, errs)
	}
	if cmds[0].Mode != protocol.Delete || cmds[1].Kind != protocol.Text || !strings.HasPrefix(cmds[1].Payload, "q ") {
		t.Fatalf("echo batch = %+v", cmds)
	}
}
