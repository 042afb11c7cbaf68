package worker

import (
	"context"
	"sync"
	"time"
)

// Progress persistence is the worker loop's job, not the handler's: the
// handler reports raw fractions, the sink throttles and persists
// monotone percent snapshots.

const (
	progressMinInterval = 2 * time.Second
	progressMinDelta    = 5 // percent
)

type throttledSink struct {
	mu      sync.Mutex
	ctx     context.Context
	payload any
	persist ProgressPersist

	lastPct  int
	lastTime time.Time
}

func newThrottledSink(ctx context.Context, payload any, persist ProgressPersist) *throttledSink {
	return &throttledSink{ctx: ctx, payload: payload, persist: persist, lastPct: -1}
}

// Report accepts a fraction in [0,1]. Snapshots are persisted at most
// every progressMinInterval or per progressMinDelta percent, and the
// persisted value never decreases. 100% is always flushed.
func (s *throttledSink) Report(fraction float64) {
	if s.persist == nil {
		return
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	pct := int(fraction * 100)

	s.mu.Lock()
	defer s.mu.Unlock()
	if pct <= s.lastPct {
		return
	}
	now := time.Now()
	if pct < 100 && pct-s.lastPct < progressMinDelta && now.Sub(s.lastTime) < progressMinInterval {
		return
	}
	s.lastPct = pct
	s.lastTime = now
	s.persist(s.ctx, s.payload, pct)
}
