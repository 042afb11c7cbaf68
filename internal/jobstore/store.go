// Package jobstore is a durable Redis-backed job queue with delayed
// jobs, lease locks, bounded retries, dead-lettering and repeatable
// (cron) registrations.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	r "github.com/redis/go-redis/v9"

	"github.com/frameward/jobcore/internal/domain"
)

var (
	// ErrNoJob is returned by Lease when no job is available.
	ErrNoJob = errors.New("jobstore: no job available")
	// ErrLostLease is returned when a lease expired and the job was
	// claimed by another worker before Ack/Fail.
	ErrLostLease = errors.New("jobstore: lease lost")
)

const (
	DefaultLeaseTTL = 90 * time.Second

	retryBase = 30 * time.Second
	retryCap  = 15 * time.Minute
)

type Store struct {
	rdb      *r.Client
	leaseTTL time.Duration
	now      func() time.Time
}

func New(rdb *r.Client) *Store {
	return &Store{rdb: rdb, leaseTTL: DefaultLeaseTTL, now: time.Now}
}

func (s *Store) LeaseTTL() time.Duration { return s.leaseTTL }

// SetLeaseTTL overrides the default lease duration. Call before the
// first Lease.
func (s *Store) SetLeaseTTL(d time.Duration) {
	if d > 0 {
		s.leaseTTL = d
	}
}

func queueKey(q string) string  { return "queue:" + q }
func delayKey(q string) string  { return "delay:" + q }
func leasedKey(q string) string { return "leased:" + q }
func deadKey(q string) string   { return "dead:" + q }
func jobKey(id string) string   { return "job:" + id }
func lockKey(id string) string  { return "lock:" + id }

// EnqueueOpts controls placement of a new job.
type EnqueueOpts struct {
	Delay       time.Duration
	JobID       string // stable id, doubles as idempotency key
	MaxAttempts int
}

// Enqueue stores a job envelope and makes it available after opts.Delay.
// When opts.JobID names a job that already exists the call is a no-op,
// so enqueues keyed by a stable id are idempotent.
func (s *Store) Enqueue(ctx context.Context, queue string, payload json.RawMessage, opts EnqueueOpts) (string, error) {
	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}
	now := s.now().UTC()
	j := domain.Job{
		ID:          id,
		Queue:       queue,
		Payload:     payload,
		MaxAttempts: maxAttempts,
		AvailableAt: now.Add(opts.Delay),
		CreatedAt:   now,
	}
	b, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	set, err := s.rdb.SetNX(ctx, jobKey(id), b, 0).Result()
	if err != nil {
		return "", err
	}
	if !set {
		return id, nil // already enqueued under this id
	}
	if opts.Delay > 0 {
		return id, s.rdb.ZAdd(ctx, delayKey(queue), r.Z{Score: float64(j.AvailableAt.UnixMilli()), Member: id}).Err()
	}
	return id, s.rdb.LPush(ctx, queueKey(queue), id).Err()
}

// claimScript atomically pops the next job id and records the lease.
// KEYS: queue list, leased zset. ARGV: lease-until ms, lock token, lock TTL ms.
var claimScript = r.NewScript(`
local id = redis.call('RPOP', KEYS[1])
if not id then return false end
redis.call('ZADD', KEYS[2], ARGV[1], id)
redis.call('SET', 'lock:'..id, ARGV[2], 'PX', ARGV[3])
return id
`)

// Lease atomically claims the next available job on queue for workerID.
// The claim holds until the lease TTL elapses; the caller renews it via
// RenewLease while the handler runs. Returns ErrNoJob when the queue is
// empty.
func (s *Store) Lease(ctx context.Context, queue, workerID string) (*domain.Lease, error) {
	if err := s.PromoteDue(ctx, queue, 200); err != nil {
		return nil, err
	}
	token := workerID + ":" + uuid.NewString()
	until := s.now().Add(s.leaseTTL)
	res, err := claimScript.Run(ctx, s.rdb,
		[]string{queueKey(queue), leasedKey(queue)},
		until.UnixMilli(), token, s.leaseTTL.Milliseconds(),
	).Result()
	if err == r.Nil || res == nil {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, err
	}
	id, _ := res.(string)
	b, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if err == r.Nil {
		// envelope vanished (acked by a prior owner after its lease was
		// requeued); drop the stale id
		s.rdb.ZRem(ctx, leasedKey(queue), id)
		s.rdb.Del(ctx, lockKey(id))
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, err
	}
	var j domain.Job
	if err := json.Unmarshal(b, &j); err != nil {
		return nil, fmt.Errorf("corrupt job envelope %s: %w", id, err)
	}
	return &domain.Lease{Job: &j, Token: token, WorkerID: workerID, Until: until}, nil
}

// renewScript extends the lock only while the caller still owns it.
var renewScript = r.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
  return 1
end
return 0
`)

// RenewLease extends a held lease by one TTL. Fails with ErrLostLease if
// the lock has expired and is no longer owned.
func (s *Store) RenewLease(ctx context.Context, l *domain.Lease) error {
	until := s.now().Add(s.leaseTTL)
	ok, err := renewScript.Run(ctx, s.rdb,
		[]string{lockKey(l.Job.ID), leasedKey(l.Job.Queue)},
		l.Token, s.leaseTTL.Milliseconds(), until.UnixMilli(), l.Job.ID,
	).Int()
	if err != nil {
		return err
	}
	if ok != 1 {
		return ErrLostLease
	}
	l.Until = until
	return nil
}

// releaseScript removes lock+lease+envelope if the token still matches.
var releaseScript = r.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then return 0 end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[2])
redis.call('DEL', KEYS[3])
return 1
`)

// Ack completes a job: the envelope is removed and the lease released.
func (s *Store) Ack(ctx context.Context, l *domain.Lease) error {
	ok, err := releaseScript.Run(ctx, s.rdb,
		[]string{lockKey(l.Job.ID), leasedKey(l.Job.Queue), jobKey(l.Job.ID)},
		l.Token, l.Job.ID,
	).Int()
	if err != nil {
		return err
	}
	if ok != 1 {
		return ErrLostLease
	}
	return nil
}

// Fail records a failed attempt. Transient failures are requeued with
// exponential backoff until MaxAttempts, then dead-lettered. Permanent
// failures (deterministically invalid content) dead-letter immediately
// without consuming further attempts.
func (s *Store) Fail(ctx context.Context, l *domain.Lease, cause error, permanent bool) error {
	j := l.Job
	j.Attempts++
	if cause != nil {
		j.LastError = cause.Error()
	}

	if permanent || j.Attempts >= j.MaxAttempts {
		return s.deadLetter(ctx, l)
	}

	j.AvailableAt = s.now().UTC().Add(Backoff(j.Attempts))
	b, err := json.Marshal(j)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(j.ID), b, 0)
	pipe.ZAdd(ctx, delayKey(j.Queue), r.Z{Score: float64(j.AvailableAt.UnixMilli()), Member: j.ID})
	pipe.ZRem(ctx, leasedKey(j.Queue), j.ID)
	pipe.Del(ctx, lockKey(j.ID))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) deadLetter(ctx context.Context, l *domain.Lease) error {
	b, err := json.Marshal(l.Job)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, deadKey(l.Job.Queue), b)
	pipe.Del(ctx, jobKey(l.Job.ID))
	pipe.ZRem(ctx, leasedKey(l.Job.Queue), l.Job.ID)
	pipe.Del(ctx, lockKey(l.Job.ID))
	_, err = pipe.Exec(ctx)
	return err
}

// DeadLetters returns up to limit dead-lettered jobs on queue, newest
// first. Jobs stay listed for manual inspection; nothing is discarded.
func (s *Store) DeadLetters(ctx context.Context, queue string, limit int64) ([]domain.Job, error) {
	rows, err := s.rdb.LRange(ctx, deadKey(queue), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Job, 0, len(rows))
	for _, row := range rows {
		var j domain.Job
		if err := json.Unmarshal([]byte(row), &j); err != nil {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

// PromoteDue moves delayed jobs whose availableAt has passed onto the
// ready list.
func (s *Store) PromoteDue(ctx context.Context, queue string, batch int64) error {
	now := s.now().UnixMilli()
	ids, err := s.rdb.ZRangeByScore(ctx, delayKey(queue), &r.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now), Offset: 0, Count: batch,
	}).Result()
	if err != nil || len(ids) == 0 {
		return err
	}
	pipe := s.rdb.TxPipeline()
	for _, id := range ids {
		pipe.LPush(ctx, queueKey(queue), id)
		pipe.ZRem(ctx, delayKey(queue), id)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// RequeueExpired returns jobs whose lease expired without an Ack/Fail
// (worker death) to the ready list. A live lock means the lease was
// renewed; those are left alone.
func (s *Store) RequeueExpired(ctx context.Context, queue string, batch int64) (int, error) {
	now := s.now().UnixMilli()
	ids, err := s.rdb.ZRangeByScore(ctx, leasedKey(queue), &r.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now), Offset: 0, Count: batch,
	}).Result()
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	requeued := 0
	for _, id := range ids {
		held, err := s.rdb.Exists(ctx, lockKey(id)).Result()
		if err != nil {
			return requeued, err
		}
		if held == 1 {
			continue // renewed since the zset entry went stale
		}
		pipe := s.rdb.TxPipeline()
		pipe.ZRem(ctx, leasedKey(queue), id)
		pipe.LPush(ctx, queueKey(queue), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}

// Backoff is the retry delay after n failed attempts: base*2^(n-1),
// capped.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := retryBase << uint(attempts-1)
	if d > retryCap || d <= 0 {
		return retryCap
	}
	return d
}
