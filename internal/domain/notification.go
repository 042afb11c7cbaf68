package domain

import (
	"encoding/json"
	"time"
)

// NotificationType classifies a queued notification entry.
type NotificationType string

const (
	NotifyClientComment   NotificationType = "CLIENT_COMMENT"
	NotifyInternalComment NotificationType = "INTERNAL_COMMENT"
	NotifyAdminReply      NotificationType = "ADMIN_REPLY"
)

// NotificationEntry is one pending item in the notification queue. It is
// mutated only by the batching engine and deleted once delivered or
// cancelled.
type NotificationEntry struct {
	ID        string
	Type      NotificationType
	ProjectID string
	UserID    string
	SourceID  string // domain id of the originating comment/reply
	Data      json.RawMessage
	Sent      bool
	Failed    bool
	Attempts  int
	LastError string
	CreatedAt time.Time
}

// CancelKey is the out-of-band cancellation marker key for an entry's
// source record.
func (e NotificationEntry) CancelKey() string {
	return "comment:" + e.SourceID
}

// Cadence is a notification batching schedule.
type Cadence string

const (
	CadenceImmediate Cadence = "IMMEDIATE"
	CadenceHourly    Cadence = "HOURLY"
	CadenceDaily     Cadence = "DAILY"
	CadenceWeekly    Cadence = "WEEKLY"
)

// NotifySchedule is the per-project or per-user batching configuration.
type NotifySchedule struct {
	Cadence    Cadence
	SendHour   int          // 0-23, DAILY and WEEKLY
	SendDay    time.Weekday // WEEKLY
	LastSentAt time.Time
}

// Due reports whether the batching window has elapsed at now. The
// boundary is computed, not merely time-since-last-send: a send exactly
// on or after the boundary is due. IMMEDIATE never batches and is never
// due here.
func (s NotifySchedule) Due(now time.Time) bool {
	switch s.Cadence {
	case CadenceHourly:
		return !now.Before(s.LastSentAt.Add(time.Hour))
	case CadenceDaily:
		b := s.lastBoundary(now)
		return s.LastSentAt.Before(b) && !now.Before(b)
	case CadenceWeekly:
		b := s.lastWeeklyBoundary(now)
		return s.LastSentAt.Before(b) && !now.Before(b)
	default:
		return false
	}
}

// lastBoundary is the most recent occurrence of SendHour at or before now.
func (s NotifySchedule) lastBoundary(now time.Time) time.Time {
	b := time.Date(now.Year(), now.Month(), now.Day(), s.SendHour, 0, 0, 0, now.Location())
	if b.After(now) {
		b = b.AddDate(0, 0, -1)
	}
	return b
}

// lastWeeklyBoundary is the most recent SendDay/SendHour at or before now.
func (s NotifySchedule) lastWeeklyBoundary(now time.Time) time.Time {
	b := s.lastBoundary(now)
	for b.Weekday() != s.SendDay {
		b = b.AddDate(0, 0, -1)
	}
	return b
}
