package domain

import "time"

// TargetStatus is the processing state of an owning business record
// (video, asset, client file, project email, album photo). Status only
// moves forward; ERROR is terminal until an explicit reprocess resets it
// to PENDING.
type TargetStatus string

const (
	StatusPending    TargetStatus = "PENDING"
	StatusProcessing TargetStatus = "PROCESSING"
	StatusReady      TargetStatus = "READY"
	StatusError      TargetStatus = "ERROR"
)

// CanTransition reports whether moving from to next is a legal forward
// step.
func (s TargetStatus) CanTransition(next TargetStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusReady || next == StatusError
	case StatusError:
		return next == StatusPending // explicit reprocess only
	default:
		return false
	}
}

type Video struct {
	ID              string
	ProjectID       string
	SourcePath      string
	Status          TargetStatus
	Progress        int
	Width           int
	Height          int
	Duration        float64
	OutputPath      string
	ThumbPath       string
	SpritePath      string
	ProcessingError string
	UpdatedAt       time.Time
}

type Asset struct {
	ID              string
	ProjectID       string
	SourcePath      string
	Category        string
	FileType        string
	Status          TargetStatus
	ProcessingError string
}

type ClientFile struct {
	ID              string
	ProjectID       string
	SourcePath      string
	FileType        string
	Status          TargetStatus
	ProcessingError string
}

type ProjectEmail struct {
	ID              string
	ProjectID       string
	RawPath         string
	Subject         string
	FromAddr        string
	BodyText        string
	Status          TargetStatus
	ProcessingError string
}

type AlbumPhoto struct {
	ID              string
	AlbumID         string
	SourcePath      string
	DerivPath       string
	Status          TargetStatus
	ProcessingError string
}
