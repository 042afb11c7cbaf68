package media

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
)

// Timeline sprite sheets: sampled frames tiled into fixed-size grids,
// one sheet file per segment, plus a text cue index mapping time ranges
// to tile coordinates for the player's scrub preview.

type SpriteOptions struct {
	TileW, TileH int
	Cols, Rows   int
	IntervalSec  float64
}

func DefaultSpriteOptions() SpriteOptions {
	return SpriteOptions{TileW: 160, TileH: 90, Cols: 10, Rows: 10, IntervalSec: 5}
}

// TilePos locates frame i on its sheet.
func (o SpriteOptions) TilePos(i int) (sheet, x, y int) {
	per := o.Cols * o.Rows
	sheet = i / per
	rem := i % per
	x = (rem % o.Cols) * o.TileW
	y = (rem / o.Cols) * o.TileH
	return
}

// SheetCount is the number of sheet files needed for n frames.
func (o SpriteOptions) SheetCount(n int) int {
	per := o.Cols * o.Rows
	return (n + per - 1) / per
}

// BuildSprites tiles the frames in framesDir (jpg, lexical order) into
// sheet files under outDir and writes the cue index. Returns sheet paths
// and the cue path.
func BuildSprites(framesDir, outDir, baseName string, opts SpriteOptions) ([]string, string, error) {
	frames, err := listFrames(framesDir)
	if err != nil {
		return nil, "", err
	}
	if len(frames) == 0 {
		return nil, "", fmt.Errorf("no frames in %s", framesDir)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, "", err
	}

	sheets := make([]string, 0, opts.SheetCount(len(frames)))
	var canvas *image.NRGBA
	flush := func(idx int) error {
		name := filepath.Join(outDir, fmt.Sprintf("%s_%03d.jpg", baseName, idx))
		if err := imaging.Save(canvas, name, imaging.JPEGQuality(80)); err != nil {
			return fmt.Errorf("save sprite sheet: %w", err)
		}
		sheets = append(sheets, name)
		return nil
	}

	for i, fp := range frames {
		sheet, x, y := opts.TilePos(i)
		if x == 0 && y == 0 {
			if canvas != nil {
				if err := flush(sheet - 1); err != nil {
					return nil, "", err
				}
			}
			canvas = imaging.New(opts.Cols*opts.TileW, opts.Rows*opts.TileH, image.Black)
		}
		frame, err := imaging.Open(fp)
		if err != nil {
			return nil, "", fmt.Errorf("open frame %s: %w", fp, err)
		}
		tile := imaging.Fit(frame, opts.TileW, opts.TileH, imaging.Linear)
		canvas = imaging.Paste(canvas, tile, image.Pt(x, y))
	}
	if err := flush(opts.SheetCount(len(frames)) - 1); err != nil {
		return nil, "", err
	}

	cuePath := filepath.Join(outDir, baseName+".cue")
	cue := CueIndex(len(frames), baseName, opts)
	if err := os.WriteFile(cuePath, []byte(cue), 0o644); err != nil {
		return nil, "", fmt.Errorf("write cue index: %w", err)
	}
	return sheets, cuePath, nil
}

// CueIndex renders the cue file body: one line per frame mapping its
// time range to sheet file and tile rectangle.
func CueIndex(frames int, baseName string, opts SpriteOptions) string {
	var b strings.Builder
	for i := 0; i < frames; i++ {
		sheet, x, y := opts.TilePos(i)
		start := float64(i) * opts.IntervalSec
		end := start + opts.IntervalSec
		fmt.Fprintf(&b, "%s --> %s %s_%03d.jpg#xywh=%d,%d,%d,%d\n",
			cueTime(start), cueTime(end), baseName, sheet, x, y, opts.TileW, opts.TileH)
	}
	return b.String()
}

func cueTime(sec float64) string {
	h := int(sec) / 3600
	m := int(sec) % 3600 / 60
	s := int(sec) % 60
	ms := int(sec*1000) % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".jpg") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}
