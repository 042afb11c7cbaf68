package worker

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/frameward/jobcore/internal/domain"
)

const tickInterval = time.Second

// TickStore is the supervisor's housekeeping surface: firing repeatables
// and recovering jobs whose lease expired with a dead worker.
type TickStore interface {
	EnqueueDueRepeatables(ctx context.Context) (int, error)
	RequeueExpired(ctx context.Context, queue string, batch int64) (int, error)
	PromoteDue(ctx context.Context, queue string, batch int64) error
}

// Supervisor owns every pool plus the periodic housekeeping tick. It is
// the explicit scheduling context: constructed once at startup, torn
// down on the shutdown signal.
type Supervisor struct {
	pools        []*Pool
	tick         TickStore
	log          *zap.Logger
	drainTimeout time.Duration
}

func NewSupervisor(tick TickStore, log *zap.Logger, drainTimeout time.Duration) *Supervisor {
	return &Supervisor{tick: tick, log: log, drainTimeout: drainTimeout}
}

// Register adds a pool for queue sized by the host CPU count.
func (s *Supervisor) Register(queue string, handler Handler, store Store, persist ProgressPersist) {
	size := PoolSize(runtime.NumCPU(), domain.LightQueues[queue])
	s.pools = append(s.pools, &Pool{
		Queue:   queue,
		Size:    size,
		Handler: handler,
		Persist: persist,
		Store:   store,
		Log:     s.log,
	})
	s.log.Info("pool registered", zap.String("queue", queue), zap.Int("size", size))
}

// Run starts every pool and the housekeeping tick, blocking until ctx is
// cancelled. Shutdown stops new leases immediately and waits up to the
// drain timeout for in-flight jobs.
func (s *Supervisor) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, p := range s.pools {
		wg.Add(1)
		go func(p *Pool) {
			defer wg.Done()
			p.Run(runCtx)
		}(p)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.housekeeping(runCtx)
	}()

	<-ctx.Done()
	s.log.Info("shutdown signal received, draining")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("all pools drained")
	case <-time.After(s.drainTimeout):
		s.log.Warn("drain timeout exceeded, some jobs may be re-leased after lock expiry")
	}
}

// housekeeping fires due repeatables and requeues expired leases. Every
// worker host runs it; both operations are idempotent across hosts.
func (s *Supervisor) housekeeping(ctx context.Context) {
	t := time.NewTicker(tickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.tick.EnqueueDueRepeatables(ctx); err != nil {
				s.log.Warn("repeatable enqueue failed", zap.Error(err))
			}
			for _, p := range s.pools {
				if err := s.tick.PromoteDue(ctx, p.Queue, 200); err != nil {
					s.log.Warn("promote due failed", zap.String("queue", p.Queue), zap.Error(err))
					continue
				}
				if n, err := s.tick.RequeueExpired(ctx, p.Queue, 200); err != nil {
					s.log.Warn("expired lease requeue failed", zap.String("queue", p.Queue), zap.Error(err))
				} else if n > 0 {
					s.log.Info("requeued expired leases", zap.String("queue", p.Queue), zap.Int("count", n))
				}
			}
		}
	}
}

// PoolSize is the per-queue worker count step function: conservative on
// small hosts, wider for CPU-light queues.
func PoolSize(cpus int, light bool) int {
	var n int
	switch {
	case cpus <= 4:
		n = 1
	case cpus <= 8:
		n = 2
	default:
		n = 3
	}
	if light {
		n *= 2
	}
	return n
}
