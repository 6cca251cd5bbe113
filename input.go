package easel

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Mouse buttons, numbered as browsers number them.
const (
	ButtonLeft   = 0
	ButtonMiddle = 1
	ButtonRight  = 2
)

// KeyEvent is a key press with its modifier state.
type KeyEvent struct {
	Key   string
	Shift bool
	Ctrl  bool
	Alt   bool
}

// InputForwarder posts local input events to the state server. Every call
// returns immediately; delivery is best-effort and failures are only logged.
type InputForwarder struct {
	base    *url.URL
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func newInputForwarder(base *url.URL, client *http.Client, timeout time.Duration, logger *slog.Logger) *InputForwarder {
	return &InputForwarder{
		base:    base,
		client:  client,
		timeout: timeout,
		logger:  logger,
	}
}

// MouseMove reports the pointer position in surface pixels.
func (f *InputForwarder) MouseMove(ctx context.Context, x, y int) {
	f.post(ctx, "/mouse/move", url.Values{
		"x": {strconv.Itoa(x)},
		"y": {strconv.Itoa(y)},
	})
}

// MouseClick reports a button press.
func (f *InputForwarder) MouseClick(ctx context.Context, button int) {
	f.post(ctx, "/mouse/click", url.Values{
		"button": {strconv.Itoa(button)},
	})
}

// Key reports a key press.
func (f *InputForwarder) Key(ctx context.Context, ev KeyEvent) {
	f.post(ctx, "/key/update", url.Values{
		"Key":      {ev.Key},
		"shiftKey": {strconv.FormatBool(ev.Shift)},
		"ctrlKey":  {strconv.FormatBool(ev.Ctrl)},
		"altKey":   {strconv.FormatBool(ev.Alt)},
	})
}

// Wait blocks until every in-flight event has been sent or abandoned.
func (f *InputForwarder) Wait() {
	f.wg.Wait()
}

func (f *InputForwarder) post(ctx context.Context, path string, form url.Values) {
	u := f.base.JoinPath(path).String()
	f.wg.Go(func() {
		ctx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
		if err != nil {
			f.logger.Debug("building input request", "url", u, "err", err)
			return
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := f.client.Do(req)
		if err != nil {
			f.logger.Debug("forwarding input", "url", u, "err", err)
			return
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	})
}
