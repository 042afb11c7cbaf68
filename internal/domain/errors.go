package domain

import (
	"errors"
	"fmt"
)

// ContentInvalidError marks a deterministic validation failure: the
// input itself is bad (wrong magic bytes, malformed email), so retrying
// can never succeed. The worker dead-letters such jobs without consuming
// retry attempts, and the target record carries Reason as its
// human-readable processing error.
type ContentInvalidError struct {
	Reason   string
	Detected string // sniffed MIME type, when relevant
}

func (e *ContentInvalidError) Error() string {
	if e.Detected != "" {
		return fmt.Sprintf("invalid content (%s): %s", e.Detected, e.Reason)
	}
	return "invalid content: " + e.Reason
}

// IsContentInvalid reports whether err is (or wraps) a content
// validation failure.
func IsContentInvalid(err error) bool {
	var ce *ContentInvalidError
	return errors.As(err, &ce)
}

// ProgressSink receives fractional progress updates from a handler. The
// worker loop, not the handler, persists throttled snapshots.
type ProgressSink interface {
	Report(fraction float64)
}

// NopProgress discards updates.
type NopProgress struct{}

func (NopProgress) Report(float64) {}
