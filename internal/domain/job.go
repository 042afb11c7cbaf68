package domain

import (
	"encoding/json"
	"time"
)

// Queue names. One worker pool per queue.
const (
	QueueVideo        = "video"
	QueueAsset        = "asset"
	QueueClientFile   = "clientfile"
	QueueProjectEmail = "projectemail"
	QueueAlbumPhoto   = "albumphoto"
	QueueNotify       = "notify"
	QueueMaintenance  = "maintenance"
)

// Queues lists every queue the supervisor runs a pool for.
var Queues = []string{
	QueueVideo,
	QueueAsset,
	QueueClientFile,
	QueueProjectEmail,
	QueueAlbumPhoto,
	QueueNotify,
	QueueMaintenance,
}

// LightQueues are CPU-light (no subprocess work) and run wider pools.
var LightQueues = map[string]bool{
	QueueAsset:       true,
	QueueNotify:      true,
	QueueMaintenance: true,
}

const DefaultMaxAttempts = 3

// Job is the envelope persisted in the job store. Payload shape is
// determined by Queue; see DecodePayload.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	AvailableAt time.Time       `json:"available_at"`
	CreatedAt   time.Time       `json:"created_at"`
	LastError   string          `json:"last_error,omitempty"`
}

// Lease is a time-bounded exclusive claim on a job held by one worker.
type Lease struct {
	Job      *Job
	Token    string
	WorkerID string
	Until    time.Time
}

// RecurringSchedule is a repeatable registration: a stable name mapped to
// a 5-field cron pattern. Exactly one active registration may exist per
// name at any time.
type RecurringSchedule struct {
	Name    string          `json:"name"`
	Queue   string          `json:"queue"`
	Pattern string          `json:"pattern"`
	Payload json.RawMessage `json:"payload"`
}
