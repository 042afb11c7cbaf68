package media

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
)

func TestTilePos(t *testing.T) {
	opts := DefaultSpriteOptions()
	tests := []struct {
		i, sheet, x, y int
	}{
		{0, 0, 0, 0},
		{1, 0, 160, 0},
		{9, 0, 1440, 0},
		{10, 0, 0, 90},
		{99, 0, 1440, 810},
		{100, 1, 0, 0},
		{250, 2, 0, 450},
	}
	for _, tt := range tests {
		sheet, x, y := opts.TilePos(tt.i)
		if sheet != tt.sheet || x != tt.x || y != tt.y {
			t.Errorf("TilePos(%d) = (%d,%d,%d), want (%d,%d,%d)",
				tt.i, sheet, x, y, tt.sheet, tt.x, tt.y)
		}
	}
}

func TestSheetCount(t *testing.T) {
	opts := DefaultSpriteOptions()
	for _, tt := range []struct{ frames, sheets int }{
		{1, 1}, {100, 1}, {101, 2}, {200, 2}, {201, 3},
	} {
		if got := opts.SheetCount(tt.frames); got != tt.sheets {
			t.Errorf("SheetCount(%d) = %d, want %d", tt.frames, got, tt.sheets)
		}
	}
}

func TestCueIndex(t *testing.T) {
	opts := SpriteOptions{TileW: 160, TileH: 90, Cols: 2, Rows: 2, IntervalSec: 5}
	cue := CueIndex(5, "vid", opts)
	lines := strings.Split(strings.TrimRight(cue, "\n"), "\n")
	if len(lines) != 5 {
		t.Fatalf("got %d cue lines, want 5", len(lines))
	}
	want := []string{
		"00:00:00.000 --> 00:00:05.000 vid_000.jpg#xywh=0,0,160,90",
		"00:00:05.000 --> 00:00:10.000 vid_000.jpg#xywh=160,0,160,90",
		"00:00:10.000 --> 00:00:15.000 vid_000.jpg#xywh=0,90,160,90",
		"00:00:15.000 --> 00:00:20.000 vid_000.jpg#xywh=160,90,160,90",
		"00:00:20.000 --> 00:00:25.000 vid_001.jpg#xywh=0,0,160,90",
	}
	for i, w := range want {
		if lines[i] != w {
			t.Errorf("line %d:\n got %q\nwant %q", i, lines[i], w)
		}
	}
}

func TestCueTime(t *testing.T) {
	for _, tt := range []struct {
		sec  float64
		want string
	}{
		{0, "00:00:00.000"},
		{5, "00:00:05.000"},
		{65.5, "00:01:05.500"},
		{3723.25, "01:02:03.250"},
	} {
		if got := cueTime(tt.sec); got != tt.want {
			t.Errorf("cueTime(%v) = %q, want %q", tt.sec, got, tt.want)
		}
	}
}

func TestBuildSprites(t *testing.T) {
	framesDir := t.TempDir()
	outDir := t.TempDir()
	for i := 0; i < 7; i++ {
		img := imaging.New(320, 180, image.Black)
		name := filepath.Join(framesDir, fmt.Sprintf("frame_%03d.jpg", i))
		if err := imaging.Save(img, name); err != nil {
			t.Fatal(err)
		}
	}

	opts := SpriteOptions{TileW: 160, TileH: 90, Cols: 2, Rows: 2, IntervalSec: 5}
	sheets, cuePath, err := BuildSprites(framesDir, outDir, "vid", opts)
	if err != nil {
		t.Fatalf("BuildSprites: %v", err)
	}
	// 7 frames at 4 tiles per sheet needs 2 sheets.
	if len(sheets) != 2 {
		t.Fatalf("got %d sheets, want 2", len(sheets))
	}
	for i, s := range sheets {
		want := filepath.Join(outDir, fmt.Sprintf("vid_%03d.jpg", i))
		if s != want {
			t.Errorf("sheet %d path %q, want %q", i, s, want)
		}
		img, err := imaging.Open(s)
		if err != nil {
			t.Fatalf("open sheet: %v", err)
		}
		if b := img.Bounds(); b.Dx() != 320 || b.Dy() != 180 {
			t.Errorf("sheet %d is %dx%d, want 320x180", i, b.Dx(), b.Dy())
		}
	}

	cue, err := os.ReadFile(cuePath)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(cue), "\n"), "\n")
	if len(lines) != 7 {
		t.Errorf("cue has %d lines, want 7", len(lines))
	}
	if !strings.Contains(lines[4], "vid_001.jpg#xywh=0,0,") {
		t.Errorf("frame 4 should land on sheet 1 tile 0: %q", lines[4])
	}
}

func TestBuildSpritesNoFrames(t *testing.T) {
	if _, _, err := BuildSprites(t.TempDir(), t.TempDir(), "vid", DefaultSpriteOptions()); err == nil {
		t.Error("expected error for empty frames dir")
	}
}
