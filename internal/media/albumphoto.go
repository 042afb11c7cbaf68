package media

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/frameward/jobcore/internal/domain"
	"github.com/frameward/jobcore/internal/records"
)

const derivMaxEdge = 2048

// AlbumPhotoHandler validates a gallery photo, produces a
// display derivative, and rebuilds the album's download zip from
// scratch. Rebuilding rather than appending keeps a lease-expiry re-run
// from doubling entries.
type AlbumPhotoHandler struct {
	Deps
	Records AlbumPhotoRecords
}

func (h *AlbumPhotoHandler) Handle(ctx context.Context, payload any, sink domain.ProgressSink) error {
	p, ok := payload.(*domain.AlbumPhotoPayload)
	if !ok {
		return fmt.Errorf("album photo handler: unexpected payload %T", payload)
	}
	photo, err := h.Records.GetAlbumPhoto(ctx, p.PhotoID)
	if err != nil {
		return err
	}
	if photo.Status == domain.StatusReady {
		return nil
	}
	if err := h.Records.UpdateAlbumPhoto(ctx, photo.ID, records.AlbumPhotoUpdate{
		Status: statusPtr(domain.StatusProcessing), ProcessingError: ptr(""),
	}); err != nil {
		return err
	}

	if err := h.process(ctx, photo, sink); err != nil {
		if domain.IsContentInvalid(err) {
			reason := err.Error()
			if uerr := h.Records.UpdateAlbumPhoto(ctx, photo.ID, records.AlbumPhotoUpdate{
				Status: statusPtr(domain.StatusError), ProcessingError: &reason,
			}); uerr != nil {
				h.Log.Error("mark photo failed", zap.String("photo", photo.ID), zap.Error(uerr))
			}
		}
		return err
	}
	return nil
}

func (h *AlbumPhotoHandler) process(ctx context.Context, photo *domain.AlbumPhoto, sink domain.ProgressSink) error {
	ws, cleanup, err := h.Temp.Workspace("photo-" + photo.ID)
	if err != nil {
		return err
	}
	defer cleanup()

	src := workspaceFile(ws, "source"+path.Ext(photo.SourcePath))
	if err := h.download(ctx, photo.SourcePath, src); err != nil {
		return err
	}
	if _, err := RequireNonEmpty(src); err != nil {
		return err
	}
	if _, err := ValidateCategory(src, CategoryImage); err != nil {
		return err
	}
	sink.Report(0.2)

	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return &domain.ContentInvalidError{Reason: "undecodable image: " + err.Error()}
	}
	deriv := imaging.Fit(img, derivMaxEdge, derivMaxEdge, imaging.Lanczos)
	local := workspaceFile(ws, "deriv.jpg")
	if err := imaging.Save(deriv, local, imaging.JPEGQuality(88)); err != nil {
		return fmt.Errorf("save derivative: %w", err)
	}
	sink.Report(0.5)

	derivPath := fmt.Sprintf("albums/%s/deriv/%s.jpg", photo.AlbumID, photo.ID)
	if err := h.upload(ctx, local, derivPath, "image/jpeg"); err != nil {
		return err
	}
	if err := h.Records.UpdateAlbumPhoto(ctx, photo.ID, records.AlbumPhotoUpdate{
		Status: statusPtr(domain.StatusReady), DerivPath: &derivPath,
	}); err != nil {
		return err
	}
	sink.Report(0.7)

	if err := h.rebuildZip(ctx, ws, photo.AlbumID); err != nil {
		// the zip is derived state; the photo itself processed fine
		h.Log.Warn("album zip rebuild failed", zap.String("album", photo.AlbumID), zap.Error(err))
	}
	sink.Report(1)
	h.count(ctx, "photos_processed", 1)
	return nil
}

// rebuildZip regenerates the album download archive from every READY
// photo.
func (h *AlbumPhotoHandler) rebuildZip(ctx context.Context, ws, albumID string) error {
	paths, err := h.Records.AlbumPhotoPaths(ctx, albumID)
	if err != nil {
		return err
	}
	local := workspaceFile(ws, "album.zip")
	f, err := os.Create(local)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)
	for _, p := range paths {
		src, err := h.Store.Download(ctx, p)
		if err != nil {
			zw.Close()
			f.Close()
			return err
		}
		w, err := zw.Create(path.Base(p))
		if err == nil {
			_, err = io.Copy(w, src)
		}
		src.Close()
		if err != nil {
			zw.Close()
			f.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return h.upload(ctx, local, fmt.Sprintf("albums/%s/album.zip", albumID), "application/zip")
}
