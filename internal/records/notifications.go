package records

import (
	"context"
	"fmt"
	"time"

	"github.com/frameward/jobcore/internal/domain"
)

// Notification queue rows and the per-project/per-user batching
// schedules. Entries are mutated only by the batching engine.

func scanEntries(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
	Close()
}) ([]domain.NotificationEntry, error) {
	defer rows.Close()
	var out []domain.NotificationEntry
	for rows.Next() {
		var e domain.NotificationEntry
		if err := rows.Scan(&e.ID, &e.Type, &e.ProjectID, &e.UserID, &e.SourceID,
			&e.Data, &e.Sent, &e.Failed, &e.Attempts, &e.LastError, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const entryCols = `id, type, coalesce(project_id,''), coalesce(user_id,''), source_id,
	data, sent, failed, attempts, coalesce(last_error,''), created_at`

// PendingEntries returns undelivered, unfailed entries for one project,
// oldest first. Entries already marked failed are excluded from scans.
func (s *Store) PendingEntries(ctx context.Context, projectID string) ([]domain.NotificationEntry, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		select %s from notification_queue
		 where project_id = $1 and not sent and not failed
		 order by created_at`, entryCols), projectID)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// PendingUserEntries returns undelivered entries addressed to one user.
func (s *Store) PendingUserEntries(ctx context.Context, userID string) ([]domain.NotificationEntry, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		select %s from notification_queue
		 where user_id = $1 and not sent and not failed
		 order by created_at`, entryCols), userID)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// ProjectsWithPending lists distinct project ids that currently have
// sendable entries.
func (s *Store) ProjectsWithPending(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		select distinct project_id from notification_queue
		 where project_id is not null and not sent and not failed`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UsersWithPending lists distinct user ids with sendable entries.
func (s *Store) UsersWithPending(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		select distinct user_id from notification_queue
		 where user_id is not null and not sent and not failed`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DeleteEntries removes delivered or cancelled entries.
func (s *Store) DeleteEntries(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `delete from notification_queue where id = any($1)`, ids)
	return err
}

// RecordEntryFailure counts one wholly-failed delivery against the
// entries of a batch. Entries at or past maxAttempts are marked failed
// and drop out of future scans, surfaced for manual inspection.
func (s *Store) RecordEntryFailure(ctx context.Context, ids []string, sendErr string, maxAttempts int) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `
		update notification_queue
		   set attempts = attempts + 1,
		       last_error = $2,
		       failed = (attempts + 1 >= $3)
		 where id = any($1)`, ids, sendErr, maxAttempts)
	return err
}

// FailedEntryCount is surfaced on the health endpoint.
func (s *Store) FailedEntryCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `select count(*) from notification_queue where failed`).Scan(&n)
	return n, err
}

// ProjectSchedule reads a project's batching cadence and recipient list.
func (s *Store) ProjectSchedule(ctx context.Context, projectID string) (domain.NotifySchedule, []string, error) {
	var (
		sched      domain.NotifySchedule
		cadence    string
		sendDay    int
		lastSent   *time.Time
		recipients []string
	)
	err := s.db.QueryRow(ctx, `
		select notify_cadence, coalesce(notify_hour,9), coalesce(notify_weekday,1),
		       notify_last_sent_at, notify_recipients
		  from projects where id = $1`, projectID).
		Scan(&cadence, &sched.SendHour, &sendDay, &lastSent, &recipients)
	if noRows(err) {
		return sched, nil, fmt.Errorf("%w: project %s", ErrNotFound, projectID)
	}
	if err != nil {
		return sched, nil, err
	}
	sched.Cadence = domain.Cadence(cadence)
	sched.SendDay = time.Weekday(sendDay)
	if lastSent != nil {
		sched.LastSentAt = *lastSent
	}
	return sched, recipients, nil
}

// UserSchedule reads a user's digest cadence and address.
func (s *Store) UserSchedule(ctx context.Context, userID string) (domain.NotifySchedule, string, error) {
	var (
		sched    domain.NotifySchedule
		cadence  string
		sendDay  int
		lastSent *time.Time
		email    string
	)
	err := s.db.QueryRow(ctx, `
		select notify_cadence, coalesce(notify_hour,9), coalesce(notify_weekday,1),
		       notify_last_sent_at, email
		  from users where id = $1`, userID).
		Scan(&cadence, &sched.SendHour, &sendDay, &lastSent, &email)
	if noRows(err) {
		return sched, "", fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if err != nil {
		return sched, "", err
	}
	sched.Cadence = domain.Cadence(cadence)
	sched.SendDay = time.Weekday(sendDay)
	if lastSent != nil {
		sched.LastSentAt = *lastSent
	}
	return sched, email, nil
}

func (s *Store) SetProjectLastSent(ctx context.Context, projectID string, at time.Time) error {
	return s.update(ctx, "projects", projectID, map[string]any{"notify_last_sent_at": at})
}

func (s *Store) SetUserLastSent(ctx context.Context, userID string, at time.Time) error {
	return s.update(ctx, "users", userID, map[string]any{"notify_last_sent_at": at})
}
