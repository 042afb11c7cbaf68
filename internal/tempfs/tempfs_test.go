package tempfs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWorkspace(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	dir, cleanup, err := m.Workspace("video-abc/123")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(filepath.Base(dir), prefix) {
		t.Errorf("workspace %q missing manager prefix", dir)
	}
	if strings.ContainsAny(filepath.Base(dir), "/\\") {
		t.Errorf("job id not sanitized: %q", dir)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("workspace not created: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "scratch"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	cleanup()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("cleanup left the workspace behind")
	}
}

func TestWorkspaceUnique(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	a, _, err := m.Workspace("job")
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := m.Workspace("job")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two workspaces for the same job id must not collide")
	}
}

func TestSweep(t *testing.T) {
	root := t.TempDir()
	m, err := New(root)
	if err != nil {
		t.Fatal(err)
	}

	old := filepath.Join(root, prefix+"orphan-deadbeef")
	if err := os.Mkdir(old, 0o755); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatal(err)
	}

	fresh, _, err := m.Workspace("live")
	if err != nil {
		t.Fatal(err)
	}

	// unmanaged entry must never be touched
	foreign := filepath.Join(root, "not-ours")
	if err := os.Mkdir(foreign, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(foreign, stale, stale); err != nil {
		t.Fatal(err)
	}

	removed, err := m.Sweep(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("removed %d, want 1", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("stale workspace survived the sweep")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh workspace was swept")
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Error("sweep touched a directory it does not own")
	}
}
