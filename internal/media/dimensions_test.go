package media

import (
	"math"
	"testing"
)

func TestCalculateOutputDimensions(t *testing.T) {
	tests := []struct {
		name         string
		srcW, srcH   int
		preset       string
		wantW, wantH int
	}{
		{"1080p landscape 16:9", 3840, 2160, "1080p", 1920, 1080},
		{"720p landscape 16:9", 1920, 1080, "720p", 1280, 720},
		{"vertical source uses portrait box", 2160, 3840, "1080p", 1080, 1920},
		{"odd source rounds even", 1279, 721, "720p", 1278, 720},
		{"no upscale beyond source", 640, 360, "1080p", 640, 360},
		{"odd source at scale 1 stays within source", 641, 359, "1080p", 640, 358},
		{"square source", 2000, 2000, "1080p", 1080, 1080},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, err := CalculateOutputDimensions(tt.srcW, tt.srcH, tt.preset)
			if err != nil {
				t.Fatalf("CalculateOutputDimensions: %v", err)
			}
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("got %dx%d, want %dx%d", w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

// Output must stay even, at least 2x2, and within one pixel per
// dimension of the source aspect ratio across arbitrary inputs.
func TestOutputDimensionProperties(t *testing.T) {
	sources := []struct{ w, h int }{
		{1920, 1080}, {1080, 1920}, {4096, 2160}, {720, 1280},
		{641, 359}, {360, 997}, {5000, 33}, {2, 2}, {1234, 771},
	}
	for _, src := range sources {
		for preset := range presets {
			w, h, err := CalculateOutputDimensions(src.w, src.h, preset)
			if err != nil {
				t.Fatalf("%dx%d %s: %v", src.w, src.h, preset, err)
			}
			if w%2 != 0 || h%2 != 0 {
				t.Errorf("%dx%d %s: odd output %dx%d", src.w, src.h, preset, w, h)
			}
			if w < 2 || h < 2 {
				t.Errorf("%dx%d %s: output below 2x2: %dx%d", src.w, src.h, preset, w, h)
			}
			if w > src.w || h > src.h {
				t.Errorf("%dx%d %s: upscaled to %dx%d", src.w, src.h, preset, w, h)
			}
			// aspect preserved within 1px per dimension at the output scale
			scale := float64(w) / float64(src.w)
			if d := math.Abs(float64(h) - float64(src.h)*scale); d > 2.0 {
				t.Errorf("%dx%d %s: aspect drift %.2fpx at %dx%d", src.w, src.h, preset, d, w, h)
			}
		}
	}
}

func TestCalculateOutputDimensionsErrors(t *testing.T) {
	if _, _, err := CalculateOutputDimensions(1920, 1080, "4320p"); err == nil {
		t.Error("expected error for unknown preset")
	}
	if _, _, err := CalculateOutputDimensions(0, 1080, "720p"); err == nil {
		t.Error("expected error for zero width")
	}
}
