package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Local stores objects under a root directory. Writes go to a temp file
// in the destination directory and are renamed into place, so a re-run
// after a crash replaces the object instead of appending to it.
type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Local{root: root}, nil
}

func (l *Local) abs(path string) string {
	return filepath.Join(l.root, filepath.FromSlash(path))
}

func (l *Local) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(l.abs(path))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return f, err
}

func (l *Local) Upload(ctx context.Context, path string, src io.Reader, size int64, contentType string) error {
	dst := l.abs(path)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	cr := &countingReader{r: src}
	_, err = io.Copy(tmp, cr)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := verifySize(size, cr.n); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func (l *Local) Delete(ctx context.Context, path string) error {
	err := os.Remove(l.abs(path))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
