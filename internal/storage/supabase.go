package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	storage_go "github.com/supabase-community/storage-go"
)

// Supabase backs Store with a Supabase storage bucket.
type Supabase struct {
	client *storage_go.Client
	bucket string
}

func NewSupabase(url, serviceKey, bucket string) *Supabase {
	return &Supabase{
		client: storage_go.NewClient(url, serviceKey, nil),
		bucket: bucket,
	}
}

func (s *Supabase) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	data, err := s.client.DownloadFile(s.bucket, path)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", path, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Supabase) Upload(ctx context.Context, path string, src io.Reader, size int64, contentType string) error {
	cr := &countingReader{r: src}
	upsert := true
	_, err := s.client.UploadFile(s.bucket, path, cr, storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	return verifySize(size, cr.n)
}

func (s *Supabase) Delete(ctx context.Context, path string) error {
	_, err := s.client.RemoveFile(s.bucket, []string{path})
	return err
}
