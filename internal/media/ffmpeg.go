package media

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpeg shells out to ffmpeg/ffprobe. Transcodes are not preemptible:
// once started they run to completion or failure, with cancellation only
// via the context killing the subprocess.
type FFmpeg struct {
	Bin      string
	ProbeBin string
}

func NewFFmpeg(bin, probeBin string) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	if probeBin == "" {
		probeBin = "ffprobe"
	}
	return &FFmpeg{Bin: bin, ProbeBin: probeBin}
}

type ProbeInfo struct {
	Width    int
	Height   int
	Duration float64
}

// Probe reads stream dimensions and container duration.
func (f *FFmpeg) Probe(ctx context.Context, path string) (ProbeInfo, error) {
	var info ProbeInfo
	out, err := exec.CommandContext(ctx, f.ProbeBin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:format=duration",
		"-of", "json", path,
	).Output()
	if err != nil {
		return info, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	var parsed struct {
		Streams []struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return info, fmt.Errorf("ffprobe output: %w", err)
	}
	if len(parsed.Streams) == 0 {
		return info, fmt.Errorf("ffprobe %s: no video stream", path)
	}
	info.Width = parsed.Streams[0].Width
	info.Height = parsed.Streams[0].Height
	info.Duration, _ = strconv.ParseFloat(parsed.Format.Duration, 64)
	return info, nil
}

// Transcode re-encodes src to dst at w x h, reporting fractional
// progress (0..1) parsed from ffmpeg's machine-readable progress stream.
func (f *FFmpeg) Transcode(ctx context.Context, src, dst string, w, h int, durationSec float64, progress func(float64)) error {
	cmd := exec.CommandContext(ctx, f.Bin,
		"-y",
		"-i", src,
		"-vf", fmt.Sprintf("scale=%d:%d", w, h),
		"-c:v", "libx264", "-preset", "medium", "-crf", "23",
		"-c:a", "aac", "-b:a", "128k",
		"-movflags", "+faststart",
		"-progress", "pipe:1", "-nostats",
		dst,
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	sc := bufio.NewScanner(stdout)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "out_time_us=") {
			continue
		}
		us, err := strconv.ParseInt(strings.TrimPrefix(line, "out_time_us="), 10, 64)
		if err != nil || durationSec <= 0 || progress == nil {
			continue
		}
		frac := float64(us) / 1e6 / durationSec
		if frac > 1 {
			frac = 1
		}
		progress(frac)
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, firstLine(stderr.String()))
	}
	return nil
}

// ExtractFrame writes a single frame at the given offset as a JPEG.
func (f *FFmpeg) ExtractFrame(ctx context.Context, src, dst string, atSec float64) error {
	out, err := exec.CommandContext(ctx, f.Bin,
		"-y",
		"-ss", fmt.Sprintf("%.3f", atSec),
		"-i", src,
		"-frames:v", "1",
		"-q:v", "3",
		dst,
	).CombinedOutput()
	if err != nil {
		return fmt.Errorf("extract frame: %w: %s", err, firstLine(string(out)))
	}
	return nil
}

// ExtractFrames samples one frame every intervalSec into the pattern
// (e.g. dir/frame-%04d.jpg), scaled to w x h tiles.
func (f *FFmpeg) ExtractFrames(ctx context.Context, src, pattern string, intervalSec float64, w, h int) error {
	out, err := exec.CommandContext(ctx, f.Bin,
		"-y",
		"-i", src,
		"-vf", fmt.Sprintf("fps=1/%g,scale=%d:%d", intervalSec, w, h),
		"-q:v", "5",
		pattern,
	).CombinedOutput()
	if err != nil {
		return fmt.Errorf("extract frames: %w: %s", err, firstLine(string(out)))
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
