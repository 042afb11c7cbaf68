package media

import (
	"bytes"
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/frameward/jobcore/internal/domain"
	"github.com/frameward/jobcore/internal/records"
	"github.com/frameward/jobcore/internal/storage"
	"github.com/frameward/jobcore/internal/tempfs"
)

type fakeAssetRecords struct {
	asset   *domain.Asset
	updates []records.AssetUpdate
}

func (f *fakeAssetRecords) GetAsset(_ context.Context, id string) (*domain.Asset, error) {
	return f.asset, nil
}

func (f *fakeAssetRecords) UpdateAsset(_ context.Context, _ string, u records.AssetUpdate) error {
	f.updates = append(f.updates, u)
	if u.Status != nil {
		f.asset.Status = *u.Status
	}
	if u.FileType != nil {
		f.asset.FileType = *u.FileType
	}
	if u.ProcessingError != nil {
		f.asset.ProcessingError = *u.ProcessingError
	}
	return nil
}

type fakeClientFileRecords struct {
	file *domain.ClientFile
}

func (f *fakeClientFileRecords) GetClientFile(_ context.Context, id string) (*domain.ClientFile, error) {
	return f.file, nil
}

func (f *fakeClientFileRecords) UpdateClientFile(_ context.Context, _ string, u records.ClientFileUpdate) error {
	if u.Status != nil {
		f.file.Status = *u.Status
	}
	if u.FileType != nil {
		f.file.FileType = *u.FileType
	}
	if u.ProcessingError != nil {
		f.file.ProcessingError = *u.ProcessingError
	}
	return nil
}

func testDeps(t *testing.T, objects map[string][]byte) Deps {
	t.Helper()
	store, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for path, data := range objects {
		if err := store.Upload(ctx, path, bytes.NewReader(data), int64(len(data)), ""); err != nil {
			t.Fatal(err)
		}
	}
	temp, err := tempfs.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return Deps{Store: store, Temp: temp, Log: zaptest.NewLogger(t)}
}

func TestAssetHandlerValid(t *testing.T) {
	recs := &fakeAssetRecords{asset: &domain.Asset{
		ID: "a1", SourcePath: "assets/a1/src.png", Category: CategoryImage,
		Status: domain.StatusPending,
	}}
	h := &AssetHandler{
		Deps:    testDeps(t, map[string][]byte{"assets/a1/src.png": pngBytes}),
		Records: recs,
	}

	err := h.Handle(context.Background(), &domain.AssetPayload{AssetID: "a1"}, domain.NopProgress{})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if recs.asset.Status != domain.StatusReady {
		t.Errorf("status = %s, want READY", recs.asset.Status)
	}
	if recs.asset.FileType != "image/png" {
		t.Errorf("fileType = %q, want image/png", recs.asset.FileType)
	}
}

func TestAssetHandlerContentMismatch(t *testing.T) {
	recs := &fakeAssetRecords{asset: &domain.Asset{
		ID: "a2", SourcePath: "assets/a2/photo.jpg", Category: CategoryImage,
		Status: domain.StatusPending,
	}}
	h := &AssetHandler{
		Deps:    testDeps(t, map[string][]byte{"assets/a2/photo.jpg": pdfBytes}),
		Records: recs,
	}

	err := h.Handle(context.Background(), &domain.AssetPayload{AssetID: "a2"}, domain.NopProgress{})
	if !domain.IsContentInvalid(err) {
		t.Fatalf("want content-invalid error, got %v", err)
	}
	if recs.asset.Status != domain.StatusError {
		t.Errorf("status = %s, want ERROR", recs.asset.Status)
	}
	if recs.asset.FileType != "INVALID - application/pdf" {
		t.Errorf("fileType = %q, want INVALID - application/pdf", recs.asset.FileType)
	}
	if recs.asset.ProcessingError == "" {
		t.Error("processing error should carry the reason")
	}
}

func TestAssetHandlerReadySkips(t *testing.T) {
	recs := &fakeAssetRecords{asset: &domain.Asset{
		ID: "a3", SourcePath: "assets/a3/src.png", Category: CategoryImage,
		Status: domain.StatusReady,
	}}
	h := &AssetHandler{Deps: testDeps(t, nil), Records: recs}

	if err := h.Handle(context.Background(), &domain.AssetPayload{AssetID: "a3"}, domain.NopProgress{}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(recs.updates) != 0 {
		t.Errorf("READY asset without reprocess must not be touched, got %d updates", len(recs.updates))
	}
}

func TestClientFileHandlerUnknownSignature(t *testing.T) {
	// A blob with no recognizable signature is tolerated, not failed.
	blob := bytes.Repeat([]byte{0x00, 0x7f, 0x13}, 64)
	recs := &fakeClientFileRecords{file: &domain.ClientFile{
		ID: "f1", SourcePath: "files/f1/data.bin", Status: domain.StatusPending,
	}}
	h := &ClientFileHandler{
		Deps:    testDeps(t, map[string][]byte{"files/f1/data.bin": blob}),
		Records: recs,
	}

	err := h.Handle(context.Background(), &domain.ClientFilePayload{FileID: "f1"}, domain.NopProgress{})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if recs.file.Status != domain.StatusReady {
		t.Errorf("status = %s, want READY", recs.file.Status)
	}
	if recs.file.FileType != "unknown" {
		t.Errorf("fileType = %q, want unknown", recs.file.FileType)
	}
}

func TestClientFileHandlerEmptyFile(t *testing.T) {
	recs := &fakeClientFileRecords{file: &domain.ClientFile{
		ID: "f2", SourcePath: "files/f2/empty", Status: domain.StatusPending,
	}}
	h := &ClientFileHandler{
		Deps:    testDeps(t, map[string][]byte{"files/f2/empty": nil}),
		Records: recs,
	}

	err := h.Handle(context.Background(), &domain.ClientFilePayload{FileID: "f2"}, domain.NopProgress{})
	if !domain.IsContentInvalid(err) {
		t.Fatalf("want content-invalid for empty file, got %v", err)
	}
	if recs.file.Status != domain.StatusError {
		t.Errorf("status = %s, want ERROR", recs.file.Status)
	}
}
