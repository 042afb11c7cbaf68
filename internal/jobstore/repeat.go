package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	r "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/frameward/jobcore/internal/domain"
)

// Repeatable registrations: a hash of name -> schedule plus a zset of
// next-run times. EnqueueDueRepeatables turns due registrations into
// ordinary jobs with a stable per-occurrence id, so a tick running on
// two hosts at once cannot double-enqueue.

const (
	repeatEntriesKey = "repeat:entries"
	repeatDueKey     = "repeat:due"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParsePattern validates a 5-field cron pattern.
func ParsePattern(pattern string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(pattern)
	if err != nil {
		return nil, fmt.Errorf("cron pattern %q: %w", pattern, err)
	}
	return sched, nil
}

// RegisterRepeatable adds (or replaces) the registration for
// sched.Name. Any prior registration under the same name is superseded,
// so a pattern change never leaves a ghost schedule behind.
func (s *Store) RegisterRepeatable(ctx context.Context, sched domain.RecurringSchedule) error {
	parsed, err := ParsePattern(sched.Pattern)
	if err != nil {
		return err
	}
	b, err := json.Marshal(sched)
	if err != nil {
		return err
	}
	next := parsed.Next(s.now().UTC())
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, repeatEntriesKey, sched.Name, b)
	pipe.ZAdd(ctx, repeatDueKey, r.Z{Score: float64(next.UnixMilli()), Member: sched.Name})
	_, err = pipe.Exec(ctx)
	return err
}

// RemoveRepeatables deletes every registration whose name is listed.
// Missing names are ignored.
func (s *Store) RemoveRepeatables(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	members := make([]interface{}, len(names))
	for i, n := range names {
		members[i] = n
	}
	pipe := s.rdb.TxPipeline()
	pipe.HDel(ctx, repeatEntriesKey, names...)
	pipe.ZRem(ctx, repeatDueKey, members...)
	_, err := pipe.Exec(ctx)
	return err
}

// ListRepeatables returns every active registration.
func (s *Store) ListRepeatables(ctx context.Context) ([]domain.RecurringSchedule, error) {
	rows, err := s.rdb.HGetAll(ctx, repeatEntriesKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.RecurringSchedule, 0, len(rows))
	for _, row := range rows {
		var sched domain.RecurringSchedule
		if err := json.Unmarshal([]byte(row), &sched); err != nil {
			continue
		}
		out = append(out, sched)
	}
	return out, nil
}

// EnqueueDueRepeatables enqueues one job per due registration and
// advances its next-run time. The occurrence job id is the registration
// name plus the scheduled minute, which makes the enqueue idempotent
// across concurrent tickers.
func (s *Store) EnqueueDueRepeatables(ctx context.Context) (int, error) {
	now := s.now().UTC()
	names, err := s.rdb.ZRangeByScore(ctx, repeatDueKey, &r.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil || len(names) == 0 {
		return 0, err
	}
	fired := 0
	for _, name := range names {
		row, err := s.rdb.HGet(ctx, repeatEntriesKey, name).Result()
		if err == r.Nil {
			s.rdb.ZRem(ctx, repeatDueKey, name)
			continue
		}
		if err != nil {
			return fired, err
		}
		var sched domain.RecurringSchedule
		if err := json.Unmarshal([]byte(row), &sched); err != nil {
			s.rdb.ZRem(ctx, repeatDueKey, name)
			continue
		}
		parsed, err := ParsePattern(sched.Pattern)
		if err != nil {
			s.rdb.ZRem(ctx, repeatDueKey, name)
			continue
		}
		occurrence := fmt.Sprintf("%s@%s", name, now.Truncate(time.Minute).Format("200601021504"))
		if _, err := s.Enqueue(ctx, sched.Queue, sched.Payload, EnqueueOpts{JobID: occurrence}); err != nil {
			return fired, err
		}
		next := parsed.Next(now)
		if err := s.rdb.ZAdd(ctx, repeatDueKey, r.Z{Score: float64(next.UnixMilli()), Member: name}).Err(); err != nil {
			return fired, err
		}
		fired++
	}
	return fired, nil
}
