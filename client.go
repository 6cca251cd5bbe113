// Package easel implements a remote-drawing client. It long-polls a state
// server for batches of drawing commands (or whole encoded frames) and
// renders them onto a raster surface, forwarding local pointer and key input
// back to the server.
package easel

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andrew-d/easel/internal/retry"
	"github.com/andrew-d/easel/protocol"
	"github.com/andrew-d/easel/raster"
)

// Format selects how poll responses are interpreted.
type Format string

const (
	// FormatFrame treats every response as one encoded full-surface frame.
	FormatFrame Format = "frame"

	// FormatCommands treats every response as a batch of wire commands.
	FormatCommands Format = "commands"

	// FormatAuto picks commands when the body contains a type separator
	// and frame otherwise.
	FormatAuto Format = "auto"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatFrame, FormatCommands, FormatAuto:
		return f, nil
	}
	return "", fmt.Errorf("unknown format %q (want frame, commands or auto)", s)
}

// State is the poll loop's current phase.
type State int

const (
	StateIdle State = iota
	StatePolling
	StateApplying
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateApplying:
		return "applying"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// Config configures a Client.
type Config struct {
	// ServerURL is the base URL of the state server.
	// Defaults to "http://localhost:8888".
	ServerURL string

	// Format defaults to FormatFrame.
	Format Format

	// Backoff is the schedule used after a failed poll. Its Attempts field
	// is ignored.
	Backoff retry.Policy

	// ImageRetry bounds image fetch attempts. Defaults to 3 attempts.
	ImageRetry retry.Policy

	// FrameSize is the size at which full frames are drawn.
	// Defaults to 1920x1080.
	FrameSize image.Point

	// InputTimeout bounds each forwarded input request. Defaults to 2s.
	InputTimeout time.Duration

	// HTTPClient is used for every request. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// StatusAddr, when set, serves a status page on this address while
	// Run is active.
	StatusAddr string

	// SnapshotPath, when set, receives a PNG of the surface every
	// SnapshotInterval (default 5s) and when Run returns.
	SnapshotPath     string
	SnapshotInterval time.Duration

	Logger *slog.Logger
}

// Client polls a state server and renders what it receives.
type Client struct {
	config     Config
	base       *url.URL
	surface    raster.Surface
	dispatcher *Dispatcher
	pipeline   *Pipeline
	input      *InputForwarder
	problems   *problemStore
	logger     *slog.Logger

	// Owned by the Run goroutine.
	backoff *retry.Backoff
	polls   sync.WaitGroup // outstanding poll requests

	mu          sync.Mutex // guards the fields below
	state       State
	cursor      uint64
	lastPoll    time.Time
	nextBackoff time.Duration
	running     bool
}

// New returns a Client that draws on surface.
func New(surface raster.Surface, cfg Config) (*Client, error) {
	if cfg.ServerURL == "" {
		cfg.ServerURL = "http://localhost:8888"
	}
	if cfg.Format == "" {
		cfg.Format = FormatFrame
	}
	if cfg.FrameSize == (image.Point{}) {
		cfg.FrameSize = image.Pt(1920, 1080)
	}
	if cfg.InputTimeout == 0 {
		cfg.InputTimeout = 2 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.SnapshotInterval == 0 {
		cfg.SnapshotInterval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if _, err := ParseFormat(string(cfg.Format)); err != nil {
		return nil, err
	}

	base, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("parsing server URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server URL %q: scheme must be http or https", cfg.ServerURL)
	}

	logger := cfg.Logger.With("component", "client")
	pipeline := NewPipeline(PipelineConfig{
		BaseURL:    base,
		HTTPClient: cfg.HTTPClient,
		Retry:      cfg.ImageRetry,
		Logger:     cfg.Logger.With("component", "images"),
	})
	backoff := retry.NewBackoff(cfg.Backoff)

	return &Client{
		config:     cfg,
		base:       base,
		surface:    surface,
		dispatcher: NewDispatcher(surface, pipeline, cfg.FrameSize, logger),
		pipeline:   pipeline,
		input:      newInputForwarder(base, cfg.HTTPClient, cfg.InputTimeout, cfg.Logger.With("component", "input")),
		problems:   newProblemStore(logger),
		logger:     logger,
		backoff:    backoff,
	}, nil
}

// Input returns the forwarder for local pointer and key events.
func (c *Client) Input() *InputForwarder {
	return c.input
}

// Cursor returns the index of the last batch applied.
func (c *Client) Cursor() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Run polls until ctx is canceled and returns ctx's error. Transport and
// content errors are logged and never end the loop. Run must not be called
// more than once at a time.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("client already running")
	}
	c.running = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		c.polls.Wait()
		c.pipeline.Wait()
		c.input.Wait()
		c.setState(StateIdle)
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	if c.config.StatusAddr != "" {
		srv, err := c.startStatus(c.config.StatusAddr)
		if err != nil {
			return err
		}
		wg.Go(func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		})
	}
	if c.config.SnapshotPath != "" {
		wg.Go(func() { c.snapshotLoop(ctx) })
	}

	c.logger.Info("polling", "server", c.base.String(), "format", string(c.config.Format))
	for {
		if err := c.step(ctx); err != nil {
			return err
		}
	}
}

// step runs one poll cycle. It returns an error only when ctx has ended.
func (c *Client) step(ctx context.Context) error {
	c.setState(StatePolling)
	body, err := c.awaitPoll(ctx, c.Cursor())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d := c.backoff.Next()
		c.problems.report(CategoryTransport, "poll failed", "err", err, "retry_in", d)

		c.mu.Lock()
		c.state = StateBackoff
		c.nextBackoff = d
		c.mu.Unlock()
		return c.sleep(ctx, d)
	}

	c.backoff.Reset()
	c.problems.clear(CategoryTransport)

	c.mu.Lock()
	c.state = StateApplying
	c.lastPoll = time.Now()
	c.nextBackoff = 0
	c.mu.Unlock()

	frames := c.apply(ctx, body)
	if err := c.awaitFrames(ctx, frames); err != nil {
		return err
	}

	c.mu.Lock()
	c.cursor++
	c.mu.Unlock()
	return nil
}

// apply interprets a poll response and dispatches its commands. It returns
// the number of frames whose blits are still pending.
func (c *Client) apply(ctx context.Context, body string) (frames int) {
	if strings.TrimSpace(body) == "" {
		// Compacted batches carry no body but still count.
		c.logger.Debug("empty batch", "cursor", c.Cursor()+1)
		return 0
	}

	var cmds []protocol.Command
	switch {
	case c.config.Format == FormatCommands,
		c.config.Format == FormatAuto && protocol.IsStructured(body):
		var errs []error
		cmds, errs = protocol.ParseBatch(body)
		for _, err := range errs {
			c.problems.report(CategoryMalformed, "dropping malformed command", "err", err)
		}
	default:
		cmds = []protocol.Command{protocol.FrameCommand(body)}
	}

	for _, cmd := range cmds {
		if err := c.dispatcher.Dispatch(ctx, cmd); err != nil {
			c.problems.report(CategoryArgument, "dropping command", "err", err)
			continue
		}
		if cmd.Mode == protocol.Draw && cmd.Kind == protocol.Frame {
			frames++
		}
	}
	return frames
}

type pollResult struct {
	body string
	err  error
}

// awaitPoll issues a poll and waits for it, applying image completions that
// arrive in the meantime.
func (c *Client) awaitPoll(ctx context.Context, cursor uint64) (string, error) {
	results := make(chan pollResult, 1)
	c.polls.Go(func() {
		body, err := c.poll(ctx, cursor)
		results <- pollResult{body, err}
	})
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case r := <-results:
			return r.body, r.err
		case comp := <-c.pipeline.Completions():
			c.applyCompletion(comp)
		}
	}
}

// awaitFrames waits until n frame completions have been applied.
func (c *Client) awaitFrames(ctx context.Context, n int) error {
	for n > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case comp := <-c.pipeline.Completions():
			c.applyCompletion(comp)
			if comp.Pending.Kind == protocol.Frame {
				n--
			}
		}
	}
	return nil
}

// sleep waits out a backoff delay, applying image completions meanwhile.
func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		case comp := <-c.pipeline.Completions():
			c.applyCompletion(comp)
		}
	}
}

func (c *Client) applyCompletion(comp Completion) {
	if err := c.dispatcher.Apply(comp); err != nil {
		c.problems.report(CategoryImage, "dropping image", "err", err)
	}
}

func (c *Client) poll(ctx context.Context, cursor uint64) (string, error) {
	u := c.base.JoinPath("state", "update")
	u.RawQuery = url.Values{"cursor": {strconv.FormatUint(cursor, 10)}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", &TransportError{Op: "poll", URL: u.String(), Err: err}
	}
	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return "", &TransportError{Op: "poll", URL: u.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", &TransportError{
			Op:         "poll",
			URL:        u.String(),
			StatusCode: resp.StatusCode,
			Err:        errors.New(resp.Status),
		}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{Op: "poll", URL: u.String(), Err: err}
	}
	return string(body), nil
}
