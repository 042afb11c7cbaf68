package media

import (
	"context"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/frameward/jobcore/internal/domain"
	"github.com/frameward/jobcore/internal/records"
)

// Progress weighting: the transcode dominates the wall clock, the
// thumbnail/sprite stage is the remainder.
const (
	transcodeWeight = 0.8
	thumbWeight     = 0.2
)

type VideoHandler struct {
	Deps
	Records VideoRecords
}

func (h *VideoHandler) Handle(ctx context.Context, payload any, sink domain.ProgressSink) error {
	p, ok := payload.(*domain.VideoPayload)
	if !ok {
		return fmt.Errorf("video handler: unexpected payload %T", payload)
	}
	v, err := h.Records.GetVideo(ctx, p.VideoID)
	if err != nil {
		return err
	}
	if v.Status == domain.StatusError && !p.Reprocess {
		return &domain.ContentInvalidError{Reason: "video is in ERROR state; reprocess required"}
	}
	if v.Status == domain.StatusReady && !p.Reprocess {
		return nil // already processed; re-lease after a crash is a no-op
	}
	if err := h.Records.UpdateVideo(ctx, v.ID, records.VideoUpdate{
		Status: statusPtr(domain.StatusProcessing), Progress: ptr(0), ProcessingError: ptr(""),
	}); err != nil {
		return err
	}

	if err := h.process(ctx, v, p, sink); err != nil {
		reason := err.Error()
		if uerr := h.Records.UpdateVideo(ctx, v.ID, records.VideoUpdate{
			Status: statusPtr(domain.StatusError), ProcessingError: &reason,
		}); uerr != nil {
			h.Log.Error("mark video failed", zap.String("video", v.ID), zap.Error(uerr))
		}
		return err
	}
	return nil
}

func (h *VideoHandler) process(ctx context.Context, v *domain.Video, p *domain.VideoPayload, sink domain.ProgressSink) error {
	ws, cleanup, err := h.Temp.Workspace("video-" + v.ID)
	if err != nil {
		return err
	}
	defer cleanup()

	src := workspaceFile(ws, "source"+path.Ext(v.SourcePath))
	if err := h.download(ctx, v.SourcePath, src); err != nil {
		return err
	}
	if _, err := RequireNonEmpty(src); err != nil {
		return err
	}
	if _, err := ValidateCategory(src, CategoryVideo); err != nil {
		return err
	}

	info, err := h.FF.Probe(ctx, src)
	if err != nil {
		return err
	}
	preset := p.Preset
	if preset == "" {
		preset = DefaultPreset
	}
	w, hgt, err := CalculateOutputDimensions(info.Width, info.Height, preset)
	if err != nil {
		return err
	}

	out := workspaceFile(ws, "output.mp4")
	err = h.FF.Transcode(ctx, src, out, w, hgt, info.Duration, func(frac float64) {
		sink.Report(frac * transcodeWeight)
	})
	if err != nil {
		return err
	}
	sink.Report(transcodeWeight)

	thumb := workspaceFile(ws, "thumb.jpg")
	thumbAt := info.Duration / 10
	if err := h.FF.ExtractFrame(ctx, out, thumb, thumbAt); err != nil {
		return err
	}
	sink.Report(transcodeWeight + thumbWeight/2)

	base := "videos/" + v.ID
	outPath := base + "/output.mp4"
	thumbPath := base + "/thumb.jpg"
	if err := h.upload(ctx, out, outPath, "video/mp4"); err != nil {
		return err
	}
	if err := h.upload(ctx, thumb, thumbPath, "image/jpeg"); err != nil {
		return err
	}

	spritePath := ""
	if h.Sprites && p.Sprites {
		spritePath, err = h.buildSprites(ctx, ws, out, base)
		if err != nil {
			return err
		}
	}
	sink.Report(1)

	update := records.VideoUpdate{
		Status:     statusPtr(domain.StatusReady),
		Progress:   ptr(100),
		Width:      ptr(w),
		Height:     ptr(hgt),
		Duration:   ptr(info.Duration),
		OutputPath: &outPath,
		ThumbPath:  &thumbPath,
	}
	if spritePath != "" {
		update.SpritePath = &spritePath
	}
	if err := h.Records.UpdateVideo(ctx, v.ID, update); err != nil {
		return err
	}
	h.count(ctx, "videos_transcoded", 1)
	return nil
}

// buildSprites samples the transcoded output into tile frames, tiles
// them into sheets, and uploads sheets plus cue index. Returns the
// stored cue path.
func (h *VideoHandler) buildSprites(ctx context.Context, ws, out, base string) (string, error) {
	opts := DefaultSpriteOptions()
	framesDir := workspaceFile(ws, "frames")
	spritesDir := workspaceFile(ws, "sprites")
	if err := mkdir(framesDir); err != nil {
		return "", err
	}
	if err := h.FF.ExtractFrames(ctx, out, workspaceFile(framesDir, "frame-%05d.jpg"),
		opts.IntervalSec, opts.TileW, opts.TileH); err != nil {
		return "", err
	}
	sheets, cue, err := BuildSprites(framesDir, spritesDir, "sprite", opts)
	if err != nil {
		return "", err
	}
	for i, sheet := range sheets {
		remote := fmt.Sprintf("%s/sprites/sprite_%03d.jpg", base, i)
		if err := h.upload(ctx, sheet, remote, "image/jpeg"); err != nil {
			return "", err
		}
	}
	cueRemote := base + "/sprites/sprite.cue"
	if err := h.upload(ctx, cue, cueRemote, "text/plain"); err != nil {
		return "", err
	}
	return cueRemote, nil
}
