package records

import (
	"context"
	"fmt"

	"github.com/frameward/jobcore/internal/domain"
)

// Processing-target rows. Each getter reads only the fields the job core
// touches; each mutator is a partial update.

func (s *Store) GetVideo(ctx context.Context, id string) (*domain.Video, error) {
	v := &domain.Video{}
	err := s.db.QueryRow(ctx, `
		select id, project_id, source_path, status, processing_progress,
		       coalesce(width,0), coalesce(height,0), coalesce(duration,0),
		       coalesce(output_path,''), coalesce(thumb_path,''), coalesce(sprite_path,''),
		       coalesce(processing_error,''), updated_at
		  from videos where id = $1`, id).
		Scan(&v.ID, &v.ProjectID, &v.SourcePath, &v.Status, &v.Progress,
			&v.Width, &v.Height, &v.Duration,
			&v.OutputPath, &v.ThumbPath, &v.SpritePath,
			&v.ProcessingError, &v.UpdatedAt)
	if noRows(err) {
		return nil, fmt.Errorf("%w: video %s", ErrNotFound, id)
	}
	return v, err
}

// VideoUpdate is a partial update; nil fields are untouched.
type VideoUpdate struct {
	Status          *domain.TargetStatus
	Progress        *int
	Width, Height   *int
	Duration        *float64
	OutputPath      *string
	ThumbPath       *string
	SpritePath      *string
	ProcessingError *string
}

func (s *Store) UpdateVideo(ctx context.Context, id string, u VideoUpdate) error {
	f := map[string]any{}
	put(f, "status", u.Status)
	put(f, "processing_progress", u.Progress)
	put(f, "width", u.Width)
	put(f, "height", u.Height)
	put(f, "duration", u.Duration)
	put(f, "output_path", u.OutputPath)
	put(f, "thumb_path", u.ThumbPath)
	put(f, "sprite_path", u.SpritePath)
	put(f, "processing_error", u.ProcessingError)
	return s.update(ctx, "videos", id, f)
}

func (s *Store) GetAsset(ctx context.Context, id string) (*domain.Asset, error) {
	a := &domain.Asset{}
	err := s.db.QueryRow(ctx, `
		select id, project_id, source_path, category, coalesce(file_type,''),
		       status, coalesce(processing_error,'')
		  from assets where id = $1`, id).
		Scan(&a.ID, &a.ProjectID, &a.SourcePath, &a.Category, &a.FileType,
			&a.Status, &a.ProcessingError)
	if noRows(err) {
		return nil, fmt.Errorf("%w: asset %s", ErrNotFound, id)
	}
	return a, err
}

type AssetUpdate struct {
	Status          *domain.TargetStatus
	FileType        *string
	ProcessingError *string
}

func (s *Store) UpdateAsset(ctx context.Context, id string, u AssetUpdate) error {
	f := map[string]any{}
	put(f, "status", u.Status)
	put(f, "file_type", u.FileType)
	put(f, "processing_error", u.ProcessingError)
	return s.update(ctx, "assets", id, f)
}

func (s *Store) GetClientFile(ctx context.Context, id string) (*domain.ClientFile, error) {
	c := &domain.ClientFile{}
	err := s.db.QueryRow(ctx, `
		select id, project_id, source_path, coalesce(file_type,''), status,
		       coalesce(processing_error,'')
		  from client_files where id = $1`, id).
		Scan(&c.ID, &c.ProjectID, &c.SourcePath, &c.FileType, &c.Status, &c.ProcessingError)
	if noRows(err) {
		return nil, fmt.Errorf("%w: client file %s", ErrNotFound, id)
	}
	return c, err
}

type ClientFileUpdate struct {
	Status          *domain.TargetStatus
	FileType        *string
	ProcessingError *string
}

func (s *Store) UpdateClientFile(ctx context.Context, id string, u ClientFileUpdate) error {
	f := map[string]any{}
	put(f, "status", u.Status)
	put(f, "file_type", u.FileType)
	put(f, "processing_error", u.ProcessingError)
	return s.update(ctx, "client_files", id, f)
}

func (s *Store) GetProjectEmail(ctx context.Context, id string) (*domain.ProjectEmail, error) {
	e := &domain.ProjectEmail{}
	err := s.db.QueryRow(ctx, `
		select id, project_id, raw_path, coalesce(subject,''), coalesce(from_addr,''),
		       coalesce(body_text,''), status, coalesce(processing_error,'')
		  from project_emails where id = $1`, id).
		Scan(&e.ID, &e.ProjectID, &e.RawPath, &e.Subject, &e.FromAddr,
			&e.BodyText, &e.Status, &e.ProcessingError)
	if noRows(err) {
		return nil, fmt.Errorf("%w: project email %s", ErrNotFound, id)
	}
	return e, err
}

type ProjectEmailUpdate struct {
	Status          *domain.TargetStatus
	Subject         *string
	FromAddr        *string
	BodyText        *string
	ProcessingError *string
}

func (s *Store) UpdateProjectEmail(ctx context.Context, id string, u ProjectEmailUpdate) error {
	f := map[string]any{}
	put(f, "status", u.Status)
	put(f, "subject", u.Subject)
	put(f, "from_addr", u.FromAddr)
	put(f, "body_text", u.BodyText)
	put(f, "processing_error", u.ProcessingError)
	return s.update(ctx, "project_emails", id, f)
}

// ReplaceEmailAttachments rewrites the attachment rows for one email.
// Delete-then-insert keeps a re-leased job from doubling attachments.
func (s *Store) ReplaceEmailAttachments(ctx context.Context, emailID string, atts []EmailAttachment) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `delete from email_attachments where email_id = $1`, emailID); err != nil {
		return err
	}
	for _, a := range atts {
		if _, err := tx.Exec(ctx, `
			insert into email_attachments (id, email_id, filename, content_type, size, path)
			values ($1, $2, $3, $4, $5, $6)`,
			a.ID, emailID, a.Filename, a.ContentType, a.Size, a.Path); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

type EmailAttachment struct {
	ID          string
	Filename    string
	ContentType string
	Size        int64
	Path        string
}

func (s *Store) GetAlbumPhoto(ctx context.Context, id string) (*domain.AlbumPhoto, error) {
	p := &domain.AlbumPhoto{}
	err := s.db.QueryRow(ctx, `
		select id, album_id, source_path, coalesce(deriv_path,''), status,
		       coalesce(processing_error,'')
		  from album_photos where id = $1`, id).
		Scan(&p.ID, &p.AlbumID, &p.SourcePath, &p.DerivPath, &p.Status, &p.ProcessingError)
	if noRows(err) {
		return nil, fmt.Errorf("%w: album photo %s", ErrNotFound, id)
	}
	return p, err
}

type AlbumPhotoUpdate struct {
	Status          *domain.TargetStatus
	DerivPath       *string
	ProcessingError *string
}

func (s *Store) UpdateAlbumPhoto(ctx context.Context, id string, u AlbumPhotoUpdate) error {
	f := map[string]any{}
	put(f, "status", u.Status)
	put(f, "deriv_path", u.DerivPath)
	put(f, "processing_error", u.ProcessingError)
	return s.update(ctx, "album_photos", id, f)
}

// AlbumPhotoPaths lists the source paths of every READY photo in an
// album, used to rebuild the album zip.
func (s *Store) AlbumPhotoPaths(ctx context.Context, albumID string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`select coalesce(deriv_path, source_path) from album_photos
		  where album_id = $1 and status = 'READY' order by created_at`, albumID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func put[T any](f map[string]any, col string, v *T) {
	if v != nil {
		f[col] = *v
	}
}
