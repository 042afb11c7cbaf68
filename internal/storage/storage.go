// Package storage abstracts the media object store. Handlers download
// sources and upload derived outputs through Store; the backend (local
// disk or Supabase storage) is chosen by configuration.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrSizeMismatch is returned when an upload writes fewer or more bytes
// than the caller declared. Treated as a hard failure by handlers.
var ErrSizeMismatch = errors.New("storage: written size does not match declared size")

// ErrNotFound is returned by Download for missing objects.
var ErrNotFound = errors.New("storage: object not found")

type Store interface {
	Download(ctx context.Context, path string) (io.ReadCloser, error)
	// Upload writes exactly size bytes from src. A size mismatch fails
	// the upload.
	Upload(ctx context.Context, path string, src io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, path string) error
}

// countingReader tracks bytes consumed so backends can verify the
// declared size.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func verifySize(declared, written int64) error {
	if declared >= 0 && written != declared {
		return fmt.Errorf("%w: declared %d, wrote %d", ErrSizeMismatch, declared, written)
	}
	return nil
}
