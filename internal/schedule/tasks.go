package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/frameward/jobcore/internal/domain"
	"github.com/frameward/jobcore/internal/jobstore"
	"github.com/frameward/jobcore/internal/records"
)

const (
	reminderWindow = 48 * time.Hour
	orphanMaxAge   = 6 * time.Hour
	pullTimeout    = 30 * time.Second
)

// MaintenanceRecords is the record-store surface of the recurring
// sweeps.
type MaintenanceRecords interface {
	ExpiredOpenProjects(ctx context.Context, now time.Time) ([]string, error)
	CloseProject(ctx context.Context, projectID string, at time.Time) error
	DueProjectKeyDates(ctx context.Context, now time.Time, window time.Duration) ([]records.KeyDate, error)
	DueUserKeyDates(ctx context.Context, now time.Time, window time.Duration) ([]records.KeyDate, error)
	MarkProjectKeyDateReminded(ctx context.Context, id string, at time.Time) error
	MarkUserKeyDateReminded(ctx context.Context, id string, at time.Time) error
	GetIntegrationSetting(ctx context.Context, id string) (*records.IntegrationSetting, error)
	MarkIntegrationPulled(ctx context.Context, id string, at time.Time) error
}

// Sweeper removes orphaned temp workspaces.
type Sweeper interface {
	Sweep(maxAge time.Duration) (int, error)
}

// Enqueuer places follow-up jobs (reminder sends).
type Enqueuer interface {
	Enqueue(ctx context.Context, queue string, payload json.RawMessage, opts jobstore.EnqueueOpts) (string, error)
}

// MaintenanceHandler runs the maintenance-queue tasks.
type MaintenanceHandler struct {
	Records   MaintenanceRecords
	Jobs      Enqueuer
	Temp      Sweeper
	Registrar *Registrar
	HTTP      *http.Client
	Log       *zap.Logger
	Now       func() time.Time
}

func (h *MaintenanceHandler) Handle(ctx context.Context, payload any, _ domain.ProgressSink) error {
	p, ok := payload.(*domain.MaintenancePayload)
	if !ok {
		return fmt.Errorf("maintenance handler: unexpected payload %T", payload)
	}
	switch p.Task {
	case domain.TaskAutoClose:
		return h.autoClose(ctx)
	case domain.TaskProjectKeyDates:
		return h.projectKeyDates(ctx)
	case domain.TaskUserKeyDates:
		return h.userKeyDates(ctx)
	case domain.TaskTempSweep:
		return h.tempSweep(ctx)
	case domain.TaskIntegrationPull:
		return h.integrationPull(ctx, p.IntegrationID)
	case domain.TaskScheduleResync:
		return h.Registrar.Sync(ctx)
	default:
		return fmt.Errorf("maintenance handler: unknown task %q", p.Task)
	}
}

func (h *MaintenanceHandler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

func (h *MaintenanceHandler) autoClose(ctx context.Context) error {
	now := h.now()
	ids, err := h.Records.ExpiredOpenProjects(ctx, now)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := h.Records.CloseProject(ctx, id, now); err != nil {
			return err
		}
		h.Log.Info("auto-closed project", zap.String("project", id))
	}
	return nil
}

func (h *MaintenanceHandler) projectKeyDates(ctx context.Context) error {
	now := h.now()
	dates, err := h.Records.DueProjectKeyDates(ctx, now, reminderWindow)
	if err != nil {
		return err
	}
	for _, k := range dates {
		if err := h.sendReminder(ctx, k, "keydate:project:"+k.ID); err != nil {
			return err
		}
		if err := h.Records.MarkProjectKeyDateReminded(ctx, k.ID, now); err != nil {
			return err
		}
	}
	return nil
}

func (h *MaintenanceHandler) userKeyDates(ctx context.Context) error {
	now := h.now()
	dates, err := h.Records.DueUserKeyDates(ctx, now, reminderWindow)
	if err != nil {
		return err
	}
	for _, k := range dates {
		if err := h.sendReminder(ctx, k, "keydate:user:"+k.ID); err != nil {
			return err
		}
		if err := h.Records.MarkUserKeyDateReminded(ctx, k.ID, now); err != nil {
			return err
		}
	}
	return nil
}

// sendReminder enqueues an immediate notification send. Marking the key
// date reminded happens only after the enqueue succeeds, and the enqueue
// is keyed by the date id, so a re-leased sweep cannot double-send.
func (h *MaintenanceHandler) sendReminder(ctx context.Context, k records.KeyDate, cancelKey string) error {
	body := fmt.Sprintf("<p>Reminder: <strong>%s</strong> is due %s.</p>",
		html.EscapeString(k.Label), k.DueAt.Format("Mon, Jan 2 at 15:04 MST"))
	payload := domain.MustPayload(domain.NotifyPayload{
		Kind:      domain.SweepImmediate,
		To:        []string{k.Recipient},
		Subject:   "Upcoming date: " + k.Label,
		HTML:      body,
		CancelKey: cancelKey,
	})
	_, err := h.Jobs.Enqueue(ctx, domain.QueueNotify, payload, jobstore.EnqueueOpts{
		JobID: "reminder:" + k.ID,
	})
	return err
}

func (h *MaintenanceHandler) tempSweep(ctx context.Context) error {
	removed, err := h.Temp.Sweep(orphanMaxAge)
	if err != nil {
		return err
	}
	if removed > 0 {
		h.Log.Info("swept orphaned temp workspaces", zap.Int("removed", removed))
	}
	return nil
}

// integrationPull fetches an external endpoint on its configured
// cadence. Transport failures bubble up for the job store's backoff.
func (h *MaintenanceHandler) integrationPull(ctx context.Context, id string) error {
	setting, err := h.Records.GetIntegrationSetting(ctx, id)
	if err != nil {
		return err
	}
	if !setting.Enabled {
		h.Log.Info("integration disabled since registration, skipping", zap.String("integration", id))
		return nil
	}
	client := h.HTTP
	if client == nil {
		client = &http.Client{Timeout: pullTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, setting.Endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("pull %s: %w", setting.Kind, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("pull %s: unexpected status %d", setting.Kind, resp.StatusCode)
	}
	if err := h.Records.MarkIntegrationPulled(ctx, id, h.now()); err != nil {
		return err
	}
	h.Log.Info("integration pull completed", zap.String("integration", id), zap.String("kind", setting.Kind))
	return nil
}
