package domain

import (
	"encoding/json"
	"fmt"
)

// Per-queue payload variants. A job's payload is decoded by its queue
// name at lease time; an undecodable payload is a permanent failure, not
// a retry.

type VideoPayload struct {
	VideoID   string `json:"video_id"`
	Preset    string `json:"preset,omitempty"`
	Sprites   bool   `json:"sprites,omitempty"`
	Reprocess bool   `json:"reprocess,omitempty"`
}

type AssetPayload struct {
	AssetID   string `json:"asset_id"`
	Reprocess bool   `json:"reprocess,omitempty"`
}

type ClientFilePayload struct {
	FileID string `json:"file_id"`
}

type ProjectEmailPayload struct {
	EmailID string `json:"email_id"`
}

type AlbumPhotoPayload struct {
	PhotoID string `json:"photo_id"`
}

// Notification sweep kinds.
const (
	SweepHourly    = "hourly"
	SweepFastRetry = "fast_retry"
	SweepImmediate = "immediate"
)

type NotifyPayload struct {
	Kind      string `json:"kind"`
	ProjectID string `json:"project_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`

	// immediate sends (key-date reminders) carry the message inline
	To      []string `json:"to,omitempty"`
	Subject string   `json:"subject,omitempty"`
	HTML    string   `json:"html,omitempty"`
	// CancelKey, when set, is re-checked right before the send
	CancelKey string `json:"cancel_key,omitempty"`
}

// Maintenance task names.
const (
	TaskAutoClose       = "autoclose"
	TaskProjectKeyDates = "keydates_project"
	TaskUserKeyDates    = "keydates_user"
	TaskTempSweep       = "tempsweep"
	TaskIntegrationPull = "integration_pull"
	TaskScheduleResync  = "schedule_resync"
)

type MaintenancePayload struct {
	Task          string `json:"task"`
	IntegrationID string `json:"integration_id,omitempty"`
}

// DecodePayload decodes raw into the variant for queue. Unknown queues
// and malformed payloads are reported as errors so the worker can
// dead-letter the job instead of retrying it.
func DecodePayload(queue string, raw json.RawMessage) (any, error) {
	var dst any
	switch queue {
	case QueueVideo:
		dst = &VideoPayload{}
	case QueueAsset:
		dst = &AssetPayload{}
	case QueueClientFile:
		dst = &ClientFilePayload{}
	case QueueProjectEmail:
		dst = &ProjectEmailPayload{}
	case QueueAlbumPhoto:
		dst = &AlbumPhotoPayload{}
	case QueueNotify:
		dst = &NotifyPayload{}
	case QueueMaintenance:
		dst = &MaintenancePayload{}
	default:
		return nil, fmt.Errorf("no payload schema for queue %q", queue)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", queue, err)
	}
	return dst, nil
}

// MustPayload marshals a payload variant, panicking on programmer error.
func MustPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
