package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/frameward/jobcore/internal/domain"
	"github.com/frameward/jobcore/internal/records"
	"github.com/frameward/jobcore/internal/storage"
	"github.com/frameward/jobcore/internal/tempfs"
)

// Every handler follows the same shape: download the source into a
// scratch workspace, verify non-empty, validate content, transform,
// upload outputs, update the owning record, and remove the workspace in
// a deferred cleanup on every exit path.

// Record store surface consumed by the handlers. Implemented by
// records.Store.
type VideoRecords interface {
	GetVideo(ctx context.Context, id string) (*domain.Video, error)
	UpdateVideo(ctx context.Context, id string, u records.VideoUpdate) error
}

type AssetRecords interface {
	GetAsset(ctx context.Context, id string) (*domain.Asset, error)
	UpdateAsset(ctx context.Context, id string, u records.AssetUpdate) error
}

type ClientFileRecords interface {
	GetClientFile(ctx context.Context, id string) (*domain.ClientFile, error)
	UpdateClientFile(ctx context.Context, id string, u records.ClientFileUpdate) error
}

type ProjectEmailRecords interface {
	GetProjectEmail(ctx context.Context, id string) (*domain.ProjectEmail, error)
	UpdateProjectEmail(ctx context.Context, id string, u records.ProjectEmailUpdate) error
	ReplaceEmailAttachments(ctx context.Context, emailID string, atts []records.EmailAttachment) error
}

type AlbumPhotoRecords interface {
	GetAlbumPhoto(ctx context.Context, id string) (*domain.AlbumPhoto, error)
	UpdateAlbumPhoto(ctx context.Context, id string, u records.AlbumPhotoUpdate) error
	AlbumPhotoPaths(ctx context.Context, albumID string) ([]string, error)
}

// Counters is the non-blocking analytics surface. Failures are logged
// and ignored.
type Counters interface {
	IncrCounter(ctx context.Context, name string, delta int64) error
}

// Deps are shared by every handler.
type Deps struct {
	Store    storage.Store
	Temp     *tempfs.Manager
	FF       *FFmpeg
	Log      *zap.Logger
	Counters Counters
	Sprites  bool
}

func (d Deps) count(ctx context.Context, name string, delta int64) {
	if d.Counters == nil {
		return
	}
	if err := d.Counters.IncrCounter(ctx, name, delta); err != nil {
		d.Log.Warn("analytics counter update failed", zap.String("counter", name), zap.Error(err))
	}
}

// download copies a stored object into the workspace.
func (d Deps) download(ctx context.Context, remote, local string) error {
	src, err := d.Store.Download(ctx, remote)
	if err != nil {
		return fmt.Errorf("download %s: %w", remote, err)
	}
	defer src.Close()
	dst, err := os.Create(local)
	if err != nil {
		return err
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("download %s: %w", remote, err)
	}
	d.count(ctx, "bytes_downloaded", n)
	return nil
}

// upload pushes a workspace file to storage with a declared size.
func (d Deps) upload(ctx context.Context, local, remote, contentType string) error {
	info, err := os.Stat(local)
	if err != nil {
		return err
	}
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := d.Store.Upload(ctx, remote, f, info.Size(), contentType); err != nil {
		return fmt.Errorf("upload %s: %w", remote, err)
	}
	d.count(ctx, "bytes_uploaded", info.Size())
	return nil
}

func workspaceFile(dir, name string) string { return filepath.Join(dir, name) }

func mkdir(dir string) error { return os.MkdirAll(dir, 0o755) }

func ptr[T any](v T) *T { return &v }

func statusPtr(s domain.TargetStatus) *domain.TargetStatus { return &s }
