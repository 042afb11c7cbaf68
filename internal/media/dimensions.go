// Package media implements the per-queue processing handlers: video
// transcode, asset and client-file validation, project email parsing and
// album photo derivatives.
package media

import "fmt"

// Resolution presets. The bounding box is chosen by source orientation:
// a vertical source gets the portrait box so it is never squeezed into a
// landscape frame.
var presets = map[string]struct{ W, H int }{
	"1080p": {1920, 1080},
	"720p":  {1280, 720},
	"540p":  {960, 540},
}

const DefaultPreset = "1080p"

// CalculateOutputDimensions fits srcW x srcH into the preset's bounding
// box, preserving aspect ratio. Dimensions are rounded to even integers
// (required by most encoders) and never upscaled beyond the source.
// Returns at least 2x2.
func CalculateOutputDimensions(srcW, srcH int, preset string) (int, int, error) {
	box, ok := presets[preset]
	if !ok {
		return 0, 0, fmt.Errorf("unknown resolution preset %q", preset)
	}
	if srcW <= 0 || srcH <= 0 {
		return 0, 0, fmt.Errorf("invalid source dimensions %dx%d", srcW, srcH)
	}

	boxW, boxH := box.W, box.H
	if srcH > srcW { // vertical source: portrait box
		boxW, boxH = box.H, box.W
	}

	scale := 1.0
	if s := float64(boxW) / float64(srcW); s < scale {
		scale = s
	}
	if s := float64(boxH) / float64(srcH); s < scale {
		scale = s
	}

	w := clampEven(float64(srcW)*scale, srcW)
	h := clampEven(float64(srcH)*scale, srcH)
	return w, h, nil
}

// clampEven rounds to the nearest even integer without exceeding the
// source dimension (an odd source at scale 1 would otherwise gain a
// pixel), minimum 2. The 2px floor wins over the no-upscale rule for
// degenerate 1px sources.
func clampEven(f float64, src int) int {
	n := int(f/2+0.5) * 2
	if n > src && n > 2 {
		n -= 2
	}
	if n < 2 {
		return 2
	}
	return n
}
