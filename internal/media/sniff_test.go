package media

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/frameward/jobcore/internal/domain"
)

var (
	// 1x1 transparent PNG.
	pngBytes = []byte{
		0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
		0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
		0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
		0x89, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x44, 0x41,
		0x54, 0x78, 0x9c, 0x62, 0x00, 0x01, 0x00, 0x00,
		0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00,
		0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae,
		0x42, 0x60, 0x82,
	}
	pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")
)

func writeFixture(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSniffFile(t *testing.T) {
	path := writeFixture(t, "pic.bin", pngBytes)
	got, err := SniffFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != "image/png" {
		t.Errorf("detected %q, want image/png", got)
	}
}

func TestValidateCategory(t *testing.T) {
	t.Run("png passes image", func(t *testing.T) {
		path := writeFixture(t, "pic.png", pngBytes)
		detected, err := ValidateCategory(path, CategoryImage)
		if err != nil {
			t.Fatalf("ValidateCategory: %v", err)
		}
		if detected != "image/png" {
			t.Errorf("detected %q", detected)
		}
	})

	t.Run("pdf declared as image is content-invalid", func(t *testing.T) {
		path := writeFixture(t, "fake.jpg", pdfBytes)
		detected, err := ValidateCategory(path, CategoryImage)
		if !domain.IsContentInvalid(err) {
			t.Fatalf("want ContentInvalidError, got %v", err)
		}
		if detected != "application/pdf" {
			t.Errorf("detected %q, want application/pdf", detected)
		}
		var cie *domain.ContentInvalidError
		if !errors.As(err, &cie) || cie.Detected != "application/pdf" {
			t.Errorf("error does not carry detected type: %+v", cie)
		}
	})

	t.Run("pdf passes document", func(t *testing.T) {
		path := writeFixture(t, "doc.pdf", pdfBytes)
		if _, err := ValidateCategory(path, CategoryDocument); err != nil {
			t.Fatalf("ValidateCategory: %v", err)
		}
	})

	t.Run("unknown category is a plain error", func(t *testing.T) {
		path := writeFixture(t, "pic.png", pngBytes)
		_, err := ValidateCategory(path, "spreadsheet")
		if err == nil {
			t.Fatal("expected error")
		}
		if domain.IsContentInvalid(err) {
			t.Error("unknown category must not be content-invalid")
		}
	})
}

func TestRequireNonEmpty(t *testing.T) {
	empty := writeFixture(t, "empty", nil)
	if _, err := RequireNonEmpty(empty); !domain.IsContentInvalid(err) {
		t.Errorf("empty file: want content-invalid, got %v", err)
	}

	full := writeFixture(t, "full", pngBytes)
	size, err := RequireNonEmpty(full)
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(len(pngBytes)) {
		t.Errorf("size = %d, want %d", size, len(pngBytes))
	}
}
