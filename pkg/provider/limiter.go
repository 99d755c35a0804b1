package provider

import (
	"context"
	"sync/atomic"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/pario-ai/promptgate/pkg/metrics"
	"github.com/pario-ai/promptgate/pkg/models"
)

// Limiter bounds the number of simultaneous generations on a provider.
// Up to queueDepth callers wait for a slot; further callers fail with
// KindBusy immediately. A slot stays taken until the returned stream ends
// or is closed.
type Limiter struct {
	next    Provider
	sem     *semaphore.Weighted
	queue   int64
	waiting atomic.Int64
	active  atomic.Int64
}

// NewLimiter wraps next.
func NewLimiter(next Provider, concurrency, queueDepth int) *Limiter {
	if concurrency < 1 {
		concurrency = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	return &Limiter{
		next:  next,
		sem:   semaphore.NewWeighted(int64(concurrency)),
		queue: int64(queueDepth),
	}
}

// Name implements Provider.
func (l *Limiter) Name() string {
	return l.next.Name()
}

// Active returns the number of generations holding a slot.
func (l *Limiter) Active() int64 {
	return l.active.Load()
}

// Waiting returns the number of callers queued for a slot.
func (l *Limiter) Waiting() int64 {
	return l.waiting.Load()
}

// Generate implements Provider.
func (l *Limiter) Generate(ctx context.Context, p models.Prompt) (*Response, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}

	resp, err := l.next.Generate(ctx, p)
	if err != nil {
		l.release()
		return nil, err
	}
	if !resp.Streaming() {
		l.release()
		return resp, nil
	}
	resp.Stream = OnDone(resp.Stream, l.release)
	return resp, nil
}

func (l *Limiter) acquire(ctx context.Context) error {
	if l.sem.TryAcquire(1) {
		l.active.Add(1)
		return nil
	}
	if l.waiting.Add(1) > l.queue {
		l.waiting.Add(-1)
		metrics.LocalBusyTotal.Inc()
		logutil.GetLogger(ctx).Warn("local queue full, rejecting request",
			zap.String("provider", l.Name()), zap.Int64("queue_depth", l.queue))
		return &Error{Provider: l.Name(), Kind: KindBusy, Err: ErrBusy}
	}
	metrics.LocalQueueDepth.Inc()
	err := l.sem.Acquire(ctx, 1)
	l.waiting.Add(-1)
	metrics.LocalQueueDepth.Dec()
	if err != nil {
		return FromTransport(l.Name(), err)
	}
	l.active.Add(1)
	return nil
}

func (l *Limiter) release() {
	l.active.Add(-1)
	l.sem.Release(1)
}

// Close implements Provider.
func (l *Limiter) Close() error {
	return l.next.Close()
}
