// Package cli implements the easel command-line interface.
package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/andrew-d/easel"
	"github.com/andrew-d/easel/internal/retry"
	"github.com/andrew-d/easel/internal/ttyview"
	"github.com/andrew-d/easel/protocol"
	"github.com/andrew-d/easel/raster"
	"github.com/andrew-d/easel/server"
	"github.com/google/uuid"
)

const defaultServer = "http://localhost:8888"

// CLI runs easel subcommands. The streams default to the process's standard
// streams.
type CLI struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// HTTPClient is used by the add, rm, frame and objects commands.
	HTTPClient *http.Client
}

// New returns a new CLI instance.
func New() *CLI {
	return &CLI{
		Stdin:      os.Stdin,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Run parses args and executes the appropriate subcommand.
// It returns an exit code (0 for success, non-zero for failure).
func (c *CLI) Run(args []string) int {
	if len(args) < 1 {
		c.usage()
		return 1
	}

	switch args[0] {
	case "view":
		return c.cmdView(args[1:])
	case "serve":
		return c.cmdServe(args[1:])
	case "add":
		return c.cmdAdd(args[1:])
	case "rm":
		return c.cmdRemove(args[1:])
	case "frame":
		return c.cmdFrame(args[1:])
	case "objects":
		return c.cmdObjects(args[1:])
	default:
		fmt.Fprintf(c.Stderr, "unknown command: %s\n", args[0])
		c.usage()
		return 1
	}
}

func (c *CLI) usage() {
	fmt.Fprintln(c.Stderr, "Usage: easel <command> [options]")
	fmt.Fprintln(c.Stderr, "")
	fmt.Fprintln(c.Stderr, "Commands:")
	fmt.Fprintln(c.Stderr, "  view     Poll a state server and render its drawing")
	fmt.Fprintln(c.Stderr, "  serve    Run a state server")
	fmt.Fprintln(c.Stderr, "  add      Add drawing objects (reads commands from stdin)")
	fmt.Fprintln(c.Stderr, "  rm       Remove drawing objects by id")
	fmt.Fprintln(c.Stderr, "  frame    Send an image file as a full frame")
	fmt.Fprintln(c.Stderr, "  objects  List the objects currently drawn")
}

func (c *CLI) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.SetOutput(c.Stderr)
	return fs
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (c *CLI) cmdView(args []string) int {
	fs := c.flagSet("view")
	serverURL := fs.String("server", defaultServer, "State server URL")
	format := fs.String("format", string(easel.FormatAuto), "Response format: frame, commands or auto")
	backoffSeed := fs.Duration("backoff-seed", retry.DefaultPolicy.Initial, "First retry delay after a failed poll")
	backoffMax := fs.Duration("backoff-max", retry.DefaultPolicy.Max, "Maximum retry delay")
	width := fs.Int("width", 1920, "Surface width in pixels")
	height := fs.Int("height", 1080, "Surface height in pixels")
	tty := fs.Bool("tty", false, "Render the surface in the terminal")
	snapshot := fs.String("snapshot", "", "Periodically write the surface to this PNG file")
	snapshotInterval := fs.Duration("snapshot-interval", 5*time.Second, "Interval between snapshots")
	statusAddr := fs.String("status", "", "Serve a status page on this address")
	logPath := fs.String("log", "", "Write logs to this file")
	verbose := fs.Bool("verbose", false, "Enable debug logging")
	fs.Parse(args)

	if *width <= 0 || *height <= 0 {
		fmt.Fprintln(c.Stderr, "error: --width and --height must be positive")
		return 1
	}
	f, err := easel.ParseFormat(*format)
	if err != nil {
		fmt.Fprintf(c.Stderr, "error: %v\n", err)
		return 1
	}

	var logger *slog.Logger
	switch {
	case *logPath != "":
		lf, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(c.Stderr, "error: open log: %v\n", err)
			return 1
		}
		defer lf.Close()
		logger = newLogger(lf, *verbose)
	case *tty:
		// The terminal is ours; logging to it would corrupt the picture.
		logger = slog.New(slog.DiscardHandler)
	default:
		logger = newLogger(c.Stderr, *verbose)
	}

	surface := raster.New(*width, *height)
	client, err := easel.New(surface, easel.Config{
		ServerURL:        *serverURL,
		Format:           f,
		Backoff:          retry.Policy{Initial: *backoffSeed, Max: *backoffMax},
		FrameSize:        image.Pt(*width, *height),
		StatusAddr:       *statusAddr,
		SnapshotPath:     *snapshot,
		SnapshotInterval: *snapshotInterval,
		Logger:           logger,
	})
	if err != nil {
		fmt.Fprintf(c.Stderr, "error: %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if !*tty {
		if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("client stopped", "err", err)
			return 1
		}
		return 0
	}

	view, err := ttyview.New(ttyview.Config{
		Source: surface,
		Input:  client.Input(),
		Status: func() string { return statusLine(client.Status()) },
		Logger: logger,
	})
	if err != nil {
		fmt.Fprintf(c.Stderr, "error: %v\n", err)
		return 1
	}

	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()
	viewErr := view.Run(ctx)
	cancel()
	runErr := <-done

	for _, err := range []error{viewErr, runErr} {
		if err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(c.Stderr, "error: %v\n", err)
			return 1
		}
	}
	return 0
}

func statusLine(st easel.Status) string {
	line := fmt.Sprintf(" %s  cursor %d  %s", st.Server, st.Cursor, st.State)
	if n := len(st.Problems); n > 0 {
		line += fmt.Sprintf("  %d problem(s): %s", n, st.Problems[0].Message)
	}
	return line
}

func (c *CLI) cmdServe(args []string) int {
	fs := c.flagSet("serve")
	httpAddr := fs.String("http", ":8888", "HTTP listen address")
	dataDir := fs.String("data-dir", "", "Data directory (required)")
	imageRoot := fs.String("image-root", "", "Directory served under /image/upload/")
	retain := fs.Int("retain", 0, "Keep only the newest N batch bodies (0 keeps all)")
	echoKeys := fs.Bool("echo-keys", false, "Draw printable key presses on the surface")
	verbose := fs.Bool("verbose", false, "Enable debug logging")
	fs.Parse(args)

	if *dataDir == "" {
		fmt.Fprintln(c.Stderr, "error: --data-dir is required")
		fs.Usage()
		return 1
	}

	logger := newLogger(c.Stderr, *verbose)
	srv := server.New(server.Config{
		DataDir:   *dataDir,
		HTTPAddr:  *httpAddr,
		ImageRoot: *imageRoot,
		Retain:    *retain,
		EchoKeys:  *echoKeys,
		Logger:    logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		logger.Error("failed to start", "err", err)
		srv.Shutdown(context.Background())
		return 1
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
		return 1
	}
	return 0
}

// cmdAdd reads one drawing command per line, or a single body already joined
// with the message separator, and prints the id of each added object.
func (c *CLI) cmdAdd(args []string) int {
	fs := c.flagSet("add")
	serverURL := fs.String("server", defaultServer, "State server URL")
	fs.Parse(args)

	if fs.NArg() != 0 {
		fmt.Fprintln(c.Stderr, "Usage: easel add [--server URL] < commands")
		return 1
	}

	var entries []string
	sc := bufio.NewScanner(c.Stdin)
	sc.Buffer(make([]byte, 0, 64*1024), 32<<20)
	for sc.Scan() {
		for seg := range strings.SplitSeq(sc.Text(), protocol.MessageSep) {
			seg = strings.TrimSpace(seg)
			if seg == "" {
				continue
			}
			id, descriptor := protocol.SplitID(seg)
			if _, err := protocol.Parse(descriptor); err != nil {
				fmt.Fprintf(c.Stderr, "error: %q: %v\n", seg, err)
				return 1
			}
			if id == "" {
				id = uuid.NewString()
			}
			entries = append(entries, id+" "+protocol.IDSep+" "+descriptor)
		}
	}
	if err := sc.Err(); err != nil {
		fmt.Fprintf(c.Stderr, "error: read stdin: %v\n", err)
		return 1
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.Stderr, "error: no commands on stdin")
		return 1
	}

	body := strings.Join(entries, " "+protocol.MessageSep+" ")
	resp, err := c.post(*serverURL, "/state/add", "text/plain; charset=utf-8", strings.NewReader(body), http.StatusOK)
	if err != nil {
		fmt.Fprintf(c.Stderr, "error: %v\n", err)
		return 1
	}
	io.WriteString(c.Stdout, resp)
	return 0
}

func (c *CLI) cmdRemove(args []string) int {
	fs := c.flagSet("rm")
	serverURL := fs.String("server", defaultServer, "State server URL")
	fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(c.Stderr, "Usage: easel rm [--server URL] <id>...")
		return 1
	}

	body := strings.Join(fs.Args(), " "+protocol.IDSep+" ")
	if _, err := c.post(*serverURL, "/state/rm", "text/plain; charset=utf-8", strings.NewReader(body), http.StatusNoContent); err != nil {
		fmt.Fprintf(c.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func (c *CLI) cmdFrame(args []string) int {
	fs := c.flagSet("frame")
	serverURL := fs.String("server", defaultServer, "State server URL")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(c.Stderr, "Usage: easel frame [--server URL] <image-file>")
		return 1
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(c.Stderr, "error: %v\n", err)
		return 1
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		fmt.Fprintf(c.Stderr, "error: %s is not a supported image: %v\n", fs.Arg(0), err)
		return 1
	}

	mime := http.DetectContentType(data)
	if _, err := c.post(*serverURL, "/state/frame", mime, bytes.NewReader(data), http.StatusNoContent); err != nil {
		fmt.Fprintf(c.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func (c *CLI) cmdObjects(args []string) int {
	fs := c.flagSet("objects")
	serverURL := fs.String("server", defaultServer, "State server URL")
	fs.Parse(args)

	resp, err := c.HTTPClient.Get(strings.TrimSuffix(*serverURL, "/") + "/state/objects")
	if err != nil {
		fmt.Fprintf(c.Stderr, "error: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(c.Stderr, "error: %s %s\n", resp.Status, string(body))
		return 1
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(c.Stderr, "error: %v\n", err)
		return 1
	}
	for obj := range strings.SplitSeq(string(body), protocol.MessageSep) {
		if obj = strings.TrimSpace(obj); obj != "" {
			fmt.Fprintln(c.Stdout, obj)
		}
	}
	return 0
}

// post sends body to the server and returns the response body, failing if
// the status is not want.
func (c *CLI) post(serverURL, path, contentType string, body io.Reader, want int) (string, error) {
	resp, err := c.HTTPClient.Post(strings.TrimSuffix(serverURL, "/")+path, contentType, body)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != want {
		return "", fmt.Errorf("%s %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	return string(respBody), nil
}
