package easel

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/andrew-d/easel/internal/retry"
	"github.com/andrew-d/easel/protocol"
	"github.com/andrew-d/easel/raster"
)

// maxImageBytes bounds a single fetched image.
const maxImageBytes = 64 << 20

// ImageRef names the bitmap for an image command. Exactly one field is set.
type ImageRef struct {
	Path string // fetched from the server's image endpoint
	Blob string // data URL, base64 or raw encoded bytes
}

// PendingImage is an image command waiting for its bitmap. It carries
// everything needed to finish the blit once the bitmap has been decoded.
type PendingImage struct {
	Mode     protocol.Mode
	Kind     protocol.ShapeKind
	Ref      ImageRef
	Src, Dst raster.Rect
}

// Completion is the outcome of resolving a PendingImage.
type Completion struct {
	Pending PendingImage
	Image   image.Image
	Err     error
}

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	// BaseURL is the state server; path references are fetched from
	// {BaseURL}/image/upload{path}.
	BaseURL *url.URL

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Retry bounds fetch attempts. Defaults to three attempts on the
	// default schedule.
	Retry retry.Policy

	Logger *slog.Logger
}

// Pipeline resolves image references concurrently and delivers the results
// on a channel, in completion order.
type Pipeline struct {
	base   *url.URL
	client *http.Client
	retry  retry.Policy
	logger *slog.Logger

	out chan Completion
	wg  sync.WaitGroup
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry.Attempts = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		base:   cfg.BaseURL,
		client: cfg.HTTPClient,
		retry:  cfg.Retry,
		logger: cfg.Logger,
		out:    make(chan Completion, 64),
	}
}

// Completions returns the channel on which resolved images are delivered.
func (p *Pipeline) Completions() <-chan Completion {
	return p.out
}

// Resolve fetches and decodes the bitmap for pi in the background. The
// result is sent on Completions unless ctx ends first.
func (p *Pipeline) Resolve(ctx context.Context, pi PendingImage) {
	p.wg.Go(func() {
		img, err := p.resolve(ctx, pi.Ref)
		if err != nil {
			err = fmt.Errorf("resolving %s image: %w", pi.Kind, err)
		}
		select {
		case p.out <- Completion{Pending: pi, Image: img, Err: err}:
		case <-ctx.Done():
		}
	})
}

// Wait blocks until every Resolve call has delivered or given up.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) resolve(ctx context.Context, ref ImageRef) (image.Image, error) {
	if ref.Path == "" {
		return DecodeBlob(ref.Blob)
	}

	data, err := retry.Do(ctx, p.retry, func() ([]byte, error) {
		return p.fetch(ctx, ref.Path)
	})
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", ref.Path, err)
	}
	return img, nil
}

// imageURL appends path verbatim to the upload prefix, so the path keeps
// its own dot segments and query string.
func (p *Pipeline) imageURL(path string) string {
	u := *p.base
	u.RawQuery, u.Fragment = "", ""
	return strings.TrimSuffix(u.String(), "/") + "/image/upload" + path
}

func (p *Pipeline) fetch(ctx context.Context, path string) ([]byte, error) {
	u := p.imageURL(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &TransportError{Op: "image", URL: u, Err: err}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "image", URL: u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &TransportError{
			Op:         "image",
			URL:        u,
			StatusCode: resp.StatusCode,
			Err:        errors.New(resp.Status),
		}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, &TransportError{Op: "image", URL: u, Err: err}
	}
	p.logger.Debug("fetched image", "path", path, "bytes", len(data))
	return data, nil
}

// DecodeBlob decodes an inline image: a data URL, bare base64, or the raw
// encoded bytes.
func DecodeBlob(s string) (image.Image, error) {
	data, err := blobBytes(s)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding blob: %w", err)
	}
	return img, nil
}

func blobBytes(s string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		header, payload, ok := strings.Cut(rest, ",")
		if !ok {
			return nil, errors.New("data URL without payload")
		}
		if strings.HasSuffix(header, ";base64") {
			return decodeBase64(payload)
		}
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("data URL payload: %w", err)
		}
		return []byte(unescaped), nil
	}
	if data, err := decodeBase64(s); err == nil {
		return data, nil
	}
	return []byte(s), nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
