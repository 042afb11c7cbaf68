package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	r "github.com/redis/go-redis/v9"

	"github.com/frameward/jobcore/internal/domain"
)

// The claim/renew/release scripts run against an embedded redis so the
// lock semantics are exercised for real, not mocked.
func testStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := r.NewClient(&r.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb), mr
}

var videoPayload = json.RawMessage(`{"video_id":"v1"}`)

func TestLeaseSingleOwner(t *testing.T) {
	s, mr := testStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if _, err := s.Enqueue(ctx, domain.QueueVideo, videoPayload, EnqueueOpts{JobID: "job-1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	first, err := s.Lease(ctx, domain.QueueVideo, "w0")
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}
	if first.Job.ID != "job-1" || first.Token == "" {
		t.Fatalf("lease = %+v", first)
	}

	// the job is claimed: no second owner while the lock is live
	if _, err := s.Lease(ctx, domain.QueueVideo, "w1"); !errors.Is(err, ErrNoJob) {
		t.Fatalf("second Lease = %v, want ErrNoJob", err)
	}

	// the lease deadline passes but the lock has not expired (a renewal
	// may be in flight); the housekeeping sweep must leave it alone
	now = now.Add(2 * DefaultLeaseTTL)
	n, err := s.RequeueExpired(ctx, domain.QueueVideo, 10)
	if err != nil || n != 0 {
		t.Fatalf("RequeueExpired with live lock = %d, %v, want 0", n, err)
	}
	if _, err := s.Lease(ctx, domain.QueueVideo, "w1"); !errors.Is(err, ErrNoJob) {
		t.Fatalf("Lease with live lock = %v, want ErrNoJob", err)
	}

	// worker death: the lock TTL elapses and the job is handed out again
	mr.FastForward(2 * DefaultLeaseTTL)
	n, err = s.RequeueExpired(ctx, domain.QueueVideo, 10)
	if err != nil || n != 1 {
		t.Fatalf("RequeueExpired after lock expiry = %d, %v, want 1", n, err)
	}
	second, err := s.Lease(ctx, domain.QueueVideo, "w1")
	if err != nil {
		t.Fatalf("Lease after requeue: %v", err)
	}
	if second.Job.ID != "job-1" {
		t.Errorf("requeued job = %s", second.Job.ID)
	}
	if second.Token == first.Token {
		t.Error("a reclaimed job must carry a fresh lock token")
	}
}

func TestEnqueueIdempotentByJobID(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	id1, err := s.Enqueue(ctx, domain.QueueVideo, videoPayload, EnqueueOpts{JobID: "job-1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	id2, err := s.Enqueue(ctx, domain.QueueVideo, videoPayload, EnqueueOpts{JobID: "job-1"})
	if err != nil || id2 != id1 {
		t.Fatalf("re-enqueue = %q, %v", id2, err)
	}

	if _, err := s.Lease(ctx, domain.QueueVideo, "w0"); err != nil {
		t.Fatalf("Lease: %v", err)
	}
	if _, err := s.Lease(ctx, domain.QueueVideo, "w0"); !errors.Is(err, ErrNoJob) {
		t.Errorf("duplicate enqueue produced a second job: %v", err)
	}
}

func TestDelayedJobPromotes(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if _, err := s.Enqueue(ctx, domain.QueueVideo, videoPayload, EnqueueOpts{JobID: "job-1", Delay: time.Minute}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := s.Lease(ctx, domain.QueueVideo, "w0"); !errors.Is(err, ErrNoJob) {
		t.Fatalf("delayed job leased early: %v", err)
	}

	now = now.Add(61 * time.Second)
	lease, err := s.Lease(ctx, domain.QueueVideo, "w0")
	if err != nil {
		t.Fatalf("Lease after delay: %v", err)
	}
	if lease.Job.ID != "job-1" {
		t.Errorf("leased %s", lease.Job.ID)
	}
}

func TestStaleTokenLosesLease(t *testing.T) {
	s, mr := testStore(t)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, domain.QueueVideo, videoPayload, EnqueueOpts{JobID: "job-1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	lease, err := s.Lease(ctx, domain.QueueVideo, "w0")
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}

	// the lock changes hands (expiry + reclaim by another worker)
	if err := mr.Set("lock:job-1", "w1:other-token"); err != nil {
		t.Fatal(err)
	}

	if err := s.RenewLease(ctx, lease); !errors.Is(err, ErrLostLease) {
		t.Errorf("RenewLease with stale token = %v, want ErrLostLease", err)
	}
	if err := s.Ack(ctx, lease); !errors.Is(err, ErrLostLease) {
		t.Errorf("Ack with stale token = %v, want ErrLostLease", err)
	}
	// a stale ack must not destroy the new owner's envelope
	if !mr.Exists("job:job-1") {
		t.Error("stale Ack removed the job envelope")
	}
}

func TestRenewThenAck(t *testing.T) {
	s, mr := testStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if _, err := s.Enqueue(ctx, domain.QueueVideo, videoPayload, EnqueueOpts{JobID: "job-1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	lease, err := s.Lease(ctx, domain.QueueVideo, "w0")
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}

	now = now.Add(45 * time.Second)
	if err := s.RenewLease(ctx, lease); err != nil {
		t.Fatalf("RenewLease: %v", err)
	}
	if want := now.Add(DefaultLeaseTTL); !lease.Until.Equal(want) {
		t.Errorf("Until = %v, want %v", lease.Until, want)
	}

	if err := s.Ack(ctx, lease); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if mr.Exists("job:job-1") || mr.Exists("lock:job-1") {
		t.Error("Ack must remove envelope and lock")
	}
	if _, err := s.Lease(ctx, domain.QueueVideo, "w0"); !errors.Is(err, ErrNoJob) {
		t.Errorf("acked job leased again: %v", err)
	}
}

func TestFailTransientRequeuesWithBackoff(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if _, err := s.Enqueue(ctx, domain.QueueVideo, videoPayload, EnqueueOpts{JobID: "job-1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	lease, err := s.Lease(ctx, domain.QueueVideo, "w0")
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}
	if err := s.Fail(ctx, lease, errors.New("ffmpeg crashed"), false); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	// parked in the delay set until the backoff elapses
	if _, err := s.Lease(ctx, domain.QueueVideo, "w0"); !errors.Is(err, ErrNoJob) {
		t.Fatalf("failed job leased before backoff: %v", err)
	}
	now = now.Add(Backoff(1) + time.Second)
	retry, err := s.Lease(ctx, domain.QueueVideo, "w0")
	if err != nil {
		t.Fatalf("Lease after backoff: %v", err)
	}
	if retry.Job.Attempts != 1 || retry.Job.LastError != "ffmpeg crashed" {
		t.Errorf("retried job = %+v", retry.Job)
	}
}

func TestFailPermanentDeadLetters(t *testing.T) {
	s, mr := testStore(t)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, domain.QueueVideo, videoPayload, EnqueueOpts{JobID: "job-1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	lease, err := s.Lease(ctx, domain.QueueVideo, "w0")
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}
	if err := s.Fail(ctx, lease, errors.New("detected type application/pdf"), true); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	dead, err := s.DeadLetters(ctx, domain.QueueVideo, 10)
	if err != nil || len(dead) != 1 {
		t.Fatalf("DeadLetters = %v, %v", dead, err)
	}
	if dead[0].ID != "job-1" || dead[0].LastError != "detected type application/pdf" {
		t.Errorf("dead letter = %+v", dead[0])
	}
	if mr.Exists("job:job-1") {
		t.Error("dead-lettered envelope must be removed")
	}
	if _, err := s.Lease(ctx, domain.QueueVideo, "w0"); !errors.Is(err, ErrNoJob) {
		t.Errorf("dead-lettered job leased: %v", err)
	}
}

func TestFailExhaustedAttemptsDeadLetters(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, domain.QueueVideo, videoPayload, EnqueueOpts{JobID: "job-1", MaxAttempts: 1}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	lease, err := s.Lease(ctx, domain.QueueVideo, "w0")
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}
	if err := s.Fail(ctx, lease, errors.New("db unavailable"), false); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	dead, err := s.DeadLetters(ctx, domain.QueueVideo, 10)
	if err != nil || len(dead) != 1 {
		t.Fatalf("DeadLetters = %v, %v", dead, err)
	}
	if dead[0].Attempts != 1 {
		t.Errorf("attempts = %d, want 1", dead[0].Attempts)
	}
}
