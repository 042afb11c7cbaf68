// Package worker runs one concurrent pool per queue against the job
// store: leasing, lease renewal, payload decoding, progress persistence,
// retry bookkeeping and graceful shutdown.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/frameward/jobcore/internal/domain"
	"github.com/frameward/jobcore/internal/jobstore"
)

const (
	pollBase = 500 * time.Millisecond
	pollMax  = 5 * time.Second
)

// Handler processes one decoded job payload.
type Handler interface {
	Handle(ctx context.Context, payload any, sink domain.ProgressSink) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, payload any, sink domain.ProgressSink) error

func (f HandlerFunc) Handle(ctx context.Context, payload any, sink domain.ProgressSink) error {
	return f(ctx, payload, sink)
}

// Store is the job-store surface a pool consumes.
type Store interface {
	Lease(ctx context.Context, queue, workerID string) (*domain.Lease, error)
	RenewLease(ctx context.Context, l *domain.Lease) error
	Ack(ctx context.Context, l *domain.Lease) error
	Fail(ctx context.Context, l *domain.Lease, cause error, permanent bool) error
	LeaseTTL() time.Duration
	IncrCounter(ctx context.Context, name string, delta int64) error
}

// ProgressPersist stores a throttled progress snapshot for a job's
// payload. Pools without progress-bearing work leave it nil.
type ProgressPersist func(ctx context.Context, payload any, percent int)

// Pool is one queue's worker group.
type Pool struct {
	Queue   string
	Size    int
	Handler Handler
	Persist ProgressPersist
	Store   Store
	Log     *zap.Logger
}

// Run spawns the pool's workers and blocks until ctx is cancelled and
// every in-flight job finished. One pool's failures never stop another;
// errors are logged, not returned.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.Size; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p.worker(ctx, fmt.Sprintf("%s-%d", p.Queue, i))
		}(i)
	}
	wg.Wait()
}

func (p *Pool) worker(ctx context.Context, workerID string) {
	log := p.Log.With(zap.String("worker", workerID), zap.String("queue", p.Queue))
	log.Info("worker started")
	backoff := pollBase
	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopped")
			return
		default:
		}

		lease, err := p.Store.Lease(ctx, p.Queue, workerID)
		if errors.Is(err, jobstore.ErrNoJob) {
			sleep(ctx, backoff)
			backoff = minDur(backoff*2, pollMax)
			continue
		}
		if err != nil {
			log.Warn("lease failed", zap.Error(err))
			sleep(ctx, backoff)
			backoff = minDur(backoff*2, pollMax)
			continue
		}
		backoff = pollBase
		p.process(ctx, lease, log)
	}
}

// process runs one leased job to completion. The handler gets a context
// detached from shutdown cancellation (in-flight work drains; the
// supervisor bounds the drain) that is cancelled if the lease is lost.
// Ack/Fail bookkeeping runs on the detached context too: a job whose
// side effects already happened during the drain must still be acked,
// or lock expiry re-runs it and duplicates those effects.
func (p *Pool) process(ctx context.Context, lease *domain.Lease, log *zap.Logger) {
	job := lease.Job
	jlog := log.With(zap.String("job", job.ID), zap.Int("attempt", job.Attempts+1))
	bctx := context.WithoutCancel(ctx)

	payload, err := domain.DecodePayload(job.Queue, job.Payload)
	if err != nil {
		jlog.Error("job failed", zap.Error(err), zap.String("payload", Redact(string(job.Payload))))
		if ferr := p.Store.Fail(bctx, lease, err, true); ferr != nil {
			jlog.Error("fail bookkeeping failed", zap.Error(ferr))
		}
		return
	}

	hctx, cancel := context.WithCancel(bctx)
	defer cancel()
	stopRenew := p.keepLeaseAlive(hctx, lease, cancel, jlog)

	sink := newThrottledSink(hctx, payload, p.Persist)
	err = p.Handler.Handle(hctx, payload, sink)
	stopRenew()

	if err == nil {
		if aerr := p.Store.Ack(bctx, lease); aerr != nil {
			jlog.Warn("ack failed", zap.Error(aerr))
			return
		}
		jlog.Info("job completed")
		if cerr := p.Store.IncrCounter(bctx, "jobs_completed", 1); cerr != nil {
			jlog.Warn("jobs_completed counter update failed", zap.Error(cerr))
		}
		return
	}

	permanent := domain.IsContentInvalid(err)
	jlog.Error("job failed",
		zap.Error(err),
		zap.Bool("permanent", permanent),
		zap.String("payload", Redact(string(job.Payload))))
	if ferr := p.Store.Fail(bctx, lease, err, permanent); ferr != nil {
		jlog.Error("fail bookkeeping failed", zap.Error(ferr))
	}
}

// keepLeaseAlive renews the lease at half-TTL intervals while the
// handler runs. Losing the lease cancels the handler context; renewal
// stops when the returned func is called.
func (p *Pool) keepLeaseAlive(ctx context.Context, lease *domain.Lease, onLost context.CancelFunc, log *zap.Logger) (stop func()) {
	done := make(chan struct{})
	var once sync.Once
	go func() {
		t := time.NewTicker(p.Store.LeaseTTL() / 2)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if err := p.Store.RenewLease(ctx, lease); err != nil {
					log.Warn("lease renewal failed", zap.Error(err))
					if errors.Is(err, jobstore.ErrLostLease) {
						onLost()
						return
					}
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
