package jobstore

import (
	"context"
	"time"

	r "github.com/redis/go-redis/v9"
)

// Cancellation markers and side-effect counters. Markers are written by
// the web application when a source comment is deleted or edited;
// handlers check them before an irreversible send. Counters are
// best-effort analytics and must never fail a primary operation.

const cancelTTL = 14 * 24 * time.Hour

func cancelKey(key string) string { return "cancel:" + key }
func statKey(name string) string  { return "stats:" + name }

// SetCancelMarker flags a domain key (e.g. "comment:42") so queued work
// derived from it is dropped instead of delivered.
func (s *Store) SetCancelMarker(ctx context.Context, key string) error {
	return s.rdb.Set(ctx, cancelKey(key), "1", cancelTTL).Err()
}

// IsCancelled reports whether a cancellation marker exists for key.
func (s *Store) IsCancelled(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, cancelKey(key)).Result()
	return n == 1, err
}

// ClearCancelMarker removes a marker once the queued work is gone.
func (s *Store) ClearCancelMarker(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, cancelKey(key)).Err()
}

// IncrCounter bumps a named analytics counter. Errors are returned but
// callers treat them as non-blocking.
func (s *Store) IncrCounter(ctx context.Context, name string, delta int64) error {
	return s.rdb.IncrBy(ctx, statKey(name), delta).Err()
}

// Counter reads a named analytics counter.
func (s *Store) Counter(ctx context.Context, name string) (int64, error) {
	v, err := s.rdb.Get(ctx, statKey(name)).Int64()
	if err == r.Nil {
		return 0, nil
	}
	return v, err
}
