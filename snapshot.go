package easel

import (
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"time"

	"github.com/andrew-d/easel/internal/atomicfile"
)

// Snapshotter is implemented by surfaces that can copy out their pixels.
type Snapshotter interface {
	Snapshot() *image.RGBA
}

var errNoSnapshot = errors.New("surface does not support snapshots")

// WriteSnapshot atomically writes the surface to path as a PNG.
func (c *Client) WriteSnapshot(path string) error {
	s, ok := c.surface.(Snapshotter)
	if !ok {
		return errNoSnapshot
	}
	img := s.Snapshot()
	return atomicfile.Write(path, 0, func(w io.Writer) error {
		return png.Encode(w, img)
	})
}

// snapshotLoop writes a snapshot every SnapshotInterval and once more when
// ctx ends.
func (c *Client) snapshotLoop(ctx context.Context) {
	t := time.NewTicker(c.config.SnapshotInterval)
	defer t.Stop()

	write := func() {
		if err := c.WriteSnapshot(c.config.SnapshotPath); err != nil {
			c.logger.Error("writing snapshot", "path", c.config.SnapshotPath, "err", err)
		}
	}
	for {
		select {
		case <-ctx.Done():
			write()
			return
		case <-t.C:
			write()
		}
	}
}
