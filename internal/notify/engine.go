package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/frameward/jobcore/internal/domain"
	"github.com/frameward/jobcore/internal/jobstore"
)

// EntryMaxAttempts bounds wholly-failed digest deliveries per entry;
// past it the entry is marked failed and left for manual inspection.
const EntryMaxAttempts = 3

// FastRetryDelay is the short-cycle retry for transient transport
// failures found during a sweep. It is deliberately independent of the
// job store's own backoff: that one covers the sweep job crashing, this
// one covers SMTP/DNS hiccups inside an otherwise successful sweep.
const FastRetryDelay = 2 * time.Minute

const maxConcurrentSends = 4

// Records is the notification surface of the record store.
type Records interface {
	PendingEntries(ctx context.Context, projectID string) ([]domain.NotificationEntry, error)
	PendingUserEntries(ctx context.Context, userID string) ([]domain.NotificationEntry, error)
	ProjectsWithPending(ctx context.Context) ([]string, error)
	UsersWithPending(ctx context.Context) ([]string, error)
	DeleteEntries(ctx context.Context, ids []string) error
	RecordEntryFailure(ctx context.Context, ids []string, sendErr string, maxAttempts int) error
	ProjectSchedule(ctx context.Context, projectID string) (domain.NotifySchedule, []string, error)
	UserSchedule(ctx context.Context, userID string) (domain.NotifySchedule, string, error)
	SetProjectLastSent(ctx context.Context, projectID string, at time.Time) error
	SetUserLastSent(ctx context.Context, userID string, at time.Time) error
}

// Jobs is the job-store surface the engine needs: cancellation markers,
// the fast-retry enqueue and analytics counters.
type Jobs interface {
	IsCancelled(ctx context.Context, key string) (bool, error)
	Enqueue(ctx context.Context, queue string, payload json.RawMessage, opts jobstore.EnqueueOpts) (string, error)
	IncrCounter(ctx context.Context, name string, delta int64) error
}

type Engine struct {
	Records Records
	Jobs    Jobs
	Mailer  Mailer
	Log     *zap.Logger
	Now     func() time.Time
}

func NewEngine(rec Records, jobs Jobs, mailer Mailer, log *zap.Logger) *Engine {
	return &Engine{Records: rec, Jobs: jobs, Mailer: mailer, Log: log, Now: time.Now}
}

// Handle runs a notify-queue job.
func (e *Engine) Handle(ctx context.Context, payload any, _ domain.ProgressSink) error {
	p, ok := payload.(*domain.NotifyPayload)
	if !ok {
		return fmt.Errorf("notify handler: unexpected payload %T", payload)
	}
	switch p.Kind {
	case domain.SweepHourly:
		return e.SweepAll(ctx)
	case domain.SweepFastRetry:
		return e.FastRetry(ctx, p)
	case domain.SweepImmediate:
		return e.SendImmediate(ctx, p)
	default:
		return fmt.Errorf("notify handler: unknown sweep kind %q", p.Kind)
	}
}

// SweepAll evaluates every project and user channel with pending entries
// and flushes the ones whose batching window has elapsed.
func (e *Engine) SweepAll(ctx context.Context) error {
	now := e.Now().UTC()
	var errs []error

	projects, err := e.Records.ProjectsWithPending(ctx)
	if err != nil {
		return err
	}
	for _, id := range projects {
		if err := e.sweepProject(ctx, id, now, false); err != nil {
			// one channel's failure never stops the rest of the sweep
			errs = append(errs, fmt.Errorf("project %s: %w", id, err))
		}
	}

	users, err := e.Records.UsersWithPending(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		for _, id := range users {
			if err := e.sweepUser(ctx, id, now, false); err != nil {
				errs = append(errs, fmt.Errorf("user %s: %w", id, err))
			}
		}
	}
	return errors.Join(errs...)
}

// FastRetry re-runs one channel shortly after a transient failure,
// ignoring the cadence window (the channel was already due when the
// failure happened).
func (e *Engine) FastRetry(ctx context.Context, p *domain.NotifyPayload) error {
	now := e.Now().UTC()
	if p.ProjectID != "" {
		return e.sweepProject(ctx, p.ProjectID, now, true)
	}
	if p.UserID != "" {
		return e.sweepUser(ctx, p.UserID, now, true)
	}
	return nil
}

// SendImmediate delivers an inline message (key-date reminders). The
// cancellation marker, when present, is honored right before the send.
func (e *Engine) SendImmediate(ctx context.Context, p *domain.NotifyPayload) error {
	if p.CancelKey != "" {
		cancelled, err := e.Jobs.IsCancelled(ctx, p.CancelKey)
		if err != nil {
			return err
		}
		if cancelled {
			e.Log.Info("immediate send cancelled", zap.String("key", p.CancelKey))
			return nil
		}
	}
	res := e.Mailer.Send(ctx, Message{To: p.To, Subject: p.Subject, HTML: p.HTML})
	if !res.Success {
		return fmt.Errorf("send %q: %s", p.Subject, res.Error)
	}
	e.countSent(ctx, 1)
	return nil
}

// sweepProject flushes one project channel. force skips the window check
// (fast retry).
func (e *Engine) sweepProject(ctx context.Context, projectID string, now time.Time, force bool) error {
	sched, recipients, err := e.Records.ProjectSchedule(ctx, projectID)
	if err != nil {
		return err
	}
	if sched.Cadence == domain.CadenceImmediate {
		return nil // immediate channels never batch
	}
	if !force && !sched.Due(now) {
		return nil
	}
	entries, err := e.Records.PendingEntries(ctx, projectID)
	if err != nil {
		return err
	}
	live, err := e.dropCancelled(ctx, entries)
	if err != nil {
		return err
	}
	if len(live) == 0 {
		return nil
	}
	if len(recipients) == 0 {
		// nothing was attempted, so nothing failed; entries stay queued
		// until the channel gains a recipient
		e.Log.Warn("project channel has no recipients", zap.String("project", projectID))
		return nil
	}

	msg := BuildProjectDigest(projectID, live)
	results := e.fanOut(ctx, recipients, msg)

	return e.settle(ctx, live, results, func() error {
		return e.Records.SetProjectLastSent(ctx, projectID, now)
	}, &domain.NotifyPayload{Kind: domain.SweepFastRetry, ProjectID: projectID})
}

func (e *Engine) sweepUser(ctx context.Context, userID string, now time.Time, force bool) error {
	sched, email, err := e.Records.UserSchedule(ctx, userID)
	if err != nil {
		return err
	}
	if sched.Cadence == domain.CadenceImmediate {
		return nil
	}
	if !force && !sched.Due(now) {
		return nil
	}
	entries, err := e.Records.PendingUserEntries(ctx, userID)
	if err != nil {
		return err
	}
	live, err := e.dropCancelled(ctx, entries)
	if err != nil {
		return err
	}
	if len(live) == 0 {
		return nil
	}
	if email == "" {
		e.Log.Warn("user has no notification address", zap.String("user", userID))
		return nil
	}

	msg := BuildUserDigest(live)
	results := e.fanOut(ctx, []string{email}, msg)

	return e.settle(ctx, live, results, func() error {
		return e.Records.SetUserLastSent(ctx, userID, now)
	}, &domain.NotifyPayload{Kind: domain.SweepFastRetry, UserID: userID})
}

// dropCancelled deletes entries whose source was cancelled since they
// were queued. Cancelled entries do not count as a failed attempt.
func (e *Engine) dropCancelled(ctx context.Context, entries []domain.NotificationEntry) ([]domain.NotificationEntry, error) {
	var live []domain.NotificationEntry
	var cancelled []string
	for _, entry := range entries {
		gone, err := e.Jobs.IsCancelled(ctx, entry.CancelKey())
		if err != nil {
			return nil, err
		}
		if gone {
			cancelled = append(cancelled, entry.ID)
			continue
		}
		live = append(live, entry)
	}
	if len(cancelled) > 0 {
		if err := e.Records.DeleteEntries(ctx, cancelled); err != nil {
			return nil, err
		}
		e.Log.Info("dropped cancelled notification entries", zap.Int("count", len(cancelled)))
	}
	return live, nil
}

// recipientResult is one recipient's outcome in a batch.
type recipientResult struct {
	To  string
	Res SendResult
}

// fanOut sends msg to each recipient with bounded concurrency and
// collects every outcome; no recipient's failure aborts the others.
func (e *Engine) fanOut(ctx context.Context, recipients []string, msg Message) []recipientResult {
	results := make([]recipientResult, len(recipients))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSends)
	for i, to := range recipients {
		i, to := i, to
		g.Go(func() error {
			m := msg
			m.To = []string{to}
			results[i] = recipientResult{To: to, Res: e.Mailer.Send(gctx, m)}
			return nil
		})
	}
	g.Wait()
	return results
}

// settle applies batch accounting: any success delivers the batch
// (entries deleted, lastSentAt advanced); a wholly-failed batch counts
// one attempt against every entry and schedules the fast retry.
func (e *Engine) settle(ctx context.Context, entries []domain.NotificationEntry, results []recipientResult, markSent func() error, retry *domain.NotifyPayload) error {
	ids := make([]string, len(entries))
	for i, entry := range entries {
		ids[i] = entry.ID
	}

	succeeded := 0
	lastErr := ""
	for _, r := range results {
		if r.Res.Success {
			succeeded++
		} else {
			lastErr = r.Res.Error
			e.Log.Warn("digest delivery failed", zap.String("error", r.Res.Error))
		}
	}

	if succeeded == 0 {
		// wholly-failed batch: one attempt against every entry, then the
		// fast-retry job takes over. The sweep job itself still acks; the
		// job store's own backoff only covers the sweep crashing.
		if err := e.Records.RecordEntryFailure(ctx, ids, lastErr, EntryMaxAttempts); err != nil {
			return err
		}
		e.Log.Warn("digest delivery wholly failed, fast retry scheduled",
			zap.Int("entries", len(ids)), zap.String("error", lastErr))
		return e.scheduleFastRetry(ctx, retry)
	}

	// at least one recipient got the digest: the batch is delivered
	if err := e.Records.DeleteEntries(ctx, ids); err != nil {
		return err
	}
	if err := markSent(); err != nil {
		return err
	}
	e.countSent(ctx, int64(succeeded))
	return nil
}

func (e *Engine) scheduleFastRetry(ctx context.Context, p *domain.NotifyPayload) error {
	id := "notify:fastretry:" + p.ProjectID + p.UserID
	_, err := e.Jobs.Enqueue(ctx, domain.QueueNotify, domain.MustPayload(p), jobstore.EnqueueOpts{
		Delay: FastRetryDelay,
		JobID: id,
	})
	return err
}

func (e *Engine) countSent(ctx context.Context, n int64) {
	if err := e.Jobs.IncrCounter(ctx, "emails_sent", n); err != nil {
		e.Log.Warn("emails_sent counter update failed", zap.Error(err))
	}
}
