package media

import (
	"fmt"
	"os"

	"github.com/gabriel-vasile/mimetype"

	"github.com/frameward/jobcore/internal/domain"
)

// Magic-byte validation. The detected MIME type must belong to the
// allow-list for the expected category; a mismatch is a hard
// content-invalid failure, never retried.

const (
	CategoryImage    = "image"
	CategoryVideo    = "video"
	CategoryAudio    = "audio"
	CategoryDocument = "document"
)

var allowLists = map[string][]string{
	CategoryImage: {
		"image/jpeg", "image/png", "image/gif", "image/webp",
		"image/tiff", "image/heic", "image/heif",
	},
	CategoryVideo: {
		"video/mp4", "video/quicktime", "video/webm",
		"video/x-matroska", "video/x-msvideo", "video/mpeg",
	},
	CategoryAudio: {
		"audio/mpeg", "audio/wav", "audio/x-wav", "audio/aac",
		"audio/flac", "audio/ogg", "audio/mp4",
	},
	CategoryDocument: {
		"application/pdf", "text/plain",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	},
}

// SniffFile detects the MIME type of a file by its magic bytes.
func SniffFile(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("sniff %s: %w", path, err)
	}
	return mt.String(), nil
}

// ValidateCategory sniffs path and checks the result against the
// category's allow-list. A detected type outside the list yields a
// ContentInvalidError carrying the detected type. An unknown category is
// a programmer error, reported as a plain error.
func ValidateCategory(path, category string) (string, error) {
	allowed, ok := allowLists[category]
	if !ok {
		return "", fmt.Errorf("unknown media category %q", category)
	}
	detected, err := SniffFile(path)
	if err != nil {
		return "", err
	}
	for _, m := range allowed {
		if mimetype.EqualsAny(detected, m) {
			return detected, nil
		}
	}
	return detected, &domain.ContentInvalidError{
		Detected: detected,
		Reason:   fmt.Sprintf("detected type %s is not allowed for category %s", detected, category),
	}
}

// RequireNonEmpty fails when the downloaded source is zero bytes.
func RequireNonEmpty(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.Size() == 0 {
		return 0, &domain.ContentInvalidError{Reason: "source file is empty"}
	}
	return info.Size(), nil
}
