// Package tempfs allocates per-job scratch directories and guarantees
// their removal, including a periodic sweep for directories orphaned by
// a crashed worker.
package tempfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const prefix = "jobws-"

type Manager struct {
	root string
}

func New(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create temp root: %w", err)
	}
	return &Manager{root: root}, nil
}

func (m *Manager) Root() string { return m.root }

// Workspace creates a scratch directory exclusively owned by one job
// execution. The returned cleanup must run on every exit path; handlers
// defer it immediately.
func (m *Manager) Workspace(jobID string) (dir string, cleanup func(), err error) {
	dir = filepath.Join(m.root, prefix+sanitize(jobID)+"-"+uuid.NewString()[:8])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create workspace: %w", err)
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}

// Sweep removes workspace directories older than maxAge. Only entries
// created by this manager (prefix match) are touched. Returns the number
// removed.
func (m *Manager) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.root, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
