package records

import (
	"context"
	"time"
)

// Rows read by the recurring maintenance sweeps: auto-close, key-date
// reminders, and external integration settings.

// ExpiredOpenProjects lists open projects whose close date has passed.
func (s *Store) ExpiredOpenProjects(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		select id from projects
		 where closed_at is null and auto_close_at is not null and auto_close_at <= $1`, now)
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

func (s *Store) CloseProject(ctx context.Context, projectID string, at time.Time) error {
	return s.update(ctx, "projects", projectID, map[string]any{"closed_at": at})
}

// KeyDate is a reminder-worthy date on a project or user.
type KeyDate struct {
	ID        string
	OwnerID   string // project or user id
	Label     string
	DueAt     time.Time
	Recipient string
}

// DueProjectKeyDates lists project key dates inside the reminder window
// that have not been reminded yet.
func (s *Store) DueProjectKeyDates(ctx context.Context, now time.Time, window time.Duration) ([]KeyDate, error) {
	return s.dueKeyDates(ctx, `
		select k.id, k.project_id, k.label, k.due_at, p.contact_email
		  from project_key_dates k join projects p on p.id = k.project_id
		 where k.reminded_at is null and k.due_at between $1 and $2`, now, window)
}

// DueUserKeyDates lists user-level key dates inside the reminder window.
func (s *Store) DueUserKeyDates(ctx context.Context, now time.Time, window time.Duration) ([]KeyDate, error) {
	return s.dueKeyDates(ctx, `
		select k.id, k.user_id, k.label, k.due_at, u.email
		  from user_key_dates k join users u on u.id = k.user_id
		 where k.reminded_at is null and k.due_at between $1 and $2`, now, window)
}

func (s *Store) dueKeyDates(ctx context.Context, q string, now time.Time, window time.Duration) ([]KeyDate, error) {
	rows, err := s.db.Query(ctx, q, now, now.Add(window))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []KeyDate
	for rows.Next() {
		var k KeyDate
		if err := rows.Scan(&k.ID, &k.OwnerID, &k.Label, &k.DueAt, &k.Recipient); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) MarkProjectKeyDateReminded(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx, "project_key_dates", id, map[string]any{"reminded_at": at})
}

func (s *Store) MarkUserKeyDateReminded(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx, "user_key_dates", id, map[string]any{"reminded_at": at})
}

// IntegrationSetting configures one external integration pull.
type IntegrationSetting struct {
	ID       string
	Kind     string
	Enabled  bool
	Cadence  string // daily|weekly
	Endpoint string
}

func (s *Store) IntegrationSettings(ctx context.Context) ([]IntegrationSetting, error) {
	rows, err := s.db.Query(ctx, `
		select id, kind, enabled, cadence, endpoint from integration_settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []IntegrationSetting
	for rows.Next() {
		var is IntegrationSetting
		if err := rows.Scan(&is.ID, &is.Kind, &is.Enabled, &is.Cadence, &is.Endpoint); err != nil {
			return nil, err
		}
		out = append(out, is)
	}
	return out, rows.Err()
}

func (s *Store) GetIntegrationSetting(ctx context.Context, id string) (*IntegrationSetting, error) {
	is := &IntegrationSetting{}
	err := s.db.QueryRow(ctx, `
		select id, kind, enabled, cadence, endpoint from integration_settings where id = $1`, id).
		Scan(&is.ID, &is.Kind, &is.Enabled, &is.Cadence, &is.Endpoint)
	if noRows(err) {
		return nil, ErrNotFound
	}
	return is, err
}

func (s *Store) MarkIntegrationPulled(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx, "integration_settings", id, map[string]any{"last_pulled_at": at})
}
