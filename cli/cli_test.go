package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andrew-d/easel/internal/easeltest"
	"github.com/andrew-d/easel/server"
	"github.com/neilotoole/slogt"
)

func startServer(t *testing.T) string {
	t.Helper()
	srv := server.New(server.Config{
		DataDir:  t.TempDir(),
		HTTPAddr: "127.0.0.1:0",
		Logger:   slogt.New(t),
	})
	if err := srv.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return "http://" + srv.Addr()
}

func newTestCLI(stdin string) (*CLI, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	return &CLI{
		Stdin:      strings.NewReader(stdin),
		Stdout:     &stdout,
		Stderr:     &stderr,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}, &stdout, &stderr
}

func fetch(t *testing.T, u string) string {
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
	return string(data)
}

func TestAddListRemove(t *testing.T) {
	base := startServer(t)

	c, stdout, stderr := newTestCLI("dot ;-ID-; draw ;-TYPE-; circle ;-TYPE-; [ 5 5 2 ]\n\ndraw ;-TYPE-; rect ;-TYPE-; [ 0 0 3 3 ]\n")
	if code := c.Run([]string{"add", "--server", base}); code != 0 {
		t.Fatalf("add exited %d: %s", code, stderr)
	}
	ids := strings.Fields(stdout.String())
	if len(ids) != 2 || ids[0] != "dot" || ids[1] == "" {
		t.Fatalf("ids = %q", ids)
	}

	c, stdout, stderr = newTestCLI("")
	if code := c.Run([]string{"objects", "--server", base}); code != 0 {
		t.Fatalf("objects exited %d: %s", code, stderr)
	}
	if got := strings.Count(stdout.String(), "\n"); got != 2 {
		t.Fatalf("listed %d objects:\n%s", got, stdout)
	}

	c, _, stderr = newTestCLI("")
	if code := c.Run([]string{"rm", "--server", base, "dot"}); code != 0 {
		t.Fatalf("rm exited %d: %s", code, stderr)
	}
	if got := fetch(t, base+"/state/update?cursor=1"); !strings.HasPrefix(got, "del") {
		t.Fatalf("batch 2 = %q, want a delete", got)
	}

	c, _, _ = newTestCLI("")
	if code := c.Run([]string{"rm", "--server", base, "dot"}); code == 0 {
		t.Fatal("removing a missing object succeeded")
	}
}

func TestAddRejectsMalformed(t *testing.T) {
	base := startServer(t)

	c, _, stderr := newTestCLI("draw circle 1 2 3\n")
	if code := c.Run([]string{"add", "--server", base}); code == 0 {
		t.Fatal("add accepted a malformed command")
	}
	if !strings.Contains(stderr.String(), "error") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestFrame(t *testing.T) {
	base := startServer(t)
	path := filepath.Join(t.TempDir(), "f.png")
	if err := os.WriteFile(path, easeltest.PNG(3, 3), 0o644); err != nil {
		t.Fatal(err)
	}

	c, _, stderr := newTestCLI("")
	if code := c.Run([]string{"frame", "--server", base, path}); code != 0 {
		t.Fatalf("frame exited %d: %s", code, stderr)
	}
	if got := fetch(t, base+"/state/update?cursor=0"); !strings.HasPrefix(got, "data:image/png;base64,") {
		t.Fatalf("batch 1 = %.40q", got)
	}

	notImage := filepath.Join(t.TempDir(), "f.txt")
	os.WriteFile(notImage, []byte("hello"), 0o644)
	c, _, _ = newTestCLI("")
	if code := c.Run([]string{"frame", "--server", base, notImage}); code == 0 {
		t.Fatal("frame accepted a non-image")
	}
}

func TestUnknownCommand(t *testing.T) {
	c, _, stderr := newTestCLI("")
	if code := c.Run([]string{"paint"}); code != 1 {
		t.Fatalf("exit = %d", code)
	}
	if !strings.Contains(stderr.String(), "unknown command: paint") {
		t.Fatalf("stderr = %q", stderr)
	}
}
