package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/pario-ai/promptgate/pkg/metrics"
	"github.com/pario-ai/promptgate/pkg/models"
)

// Guarded wraps a Store so that cache trouble never reaches the caller:
// every call is bounded by timeout, failed reads become misses and failed
// writes are dropped. A nil *Guarded behaves as an always-empty cache.
type Guarded struct {
	store   Store
	timeout time.Duration
	hits    atomic.Int64
	misses  atomic.Int64
	errors  atomic.Int64
}

// NewGuarded wraps store. A non-positive timeout disables the I/O bound.
func NewGuarded(store Store, timeout time.Duration) *Guarded {
	return &Guarded{store: store, timeout: timeout}
}

// Store returns the wrapped backend.
func (g *Guarded) Store() Store {
	if g == nil {
		return nil
	}
	return g.store
}

func (g *Guarded) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

// Lookup returns the cached value for key.
func (g *Guarded) Lookup(ctx context.Context, key string) (string, bool) {
	if g == nil {
		return "", false
	}
	ctx, cancel := g.bound(ctx)
	defer cancel()

	value, ok, err := g.store.Get(ctx, key)
	if err != nil {
		g.errors.Add(1)
		g.misses.Add(1)
		metrics.CacheLookups.WithLabelValues("error").Inc()
		logutil.GetLogger(ctx).Warn("cache lookup failed, treating as miss", zap.String("key", key), zap.Error(err))
		return "", false
	}
	if !ok {
		g.misses.Add(1)
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return "", false
	}
	g.hits.Add(1)
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return value, true
}

// Insert stores value under key. Failures are logged and dropped.
func (g *Guarded) Insert(ctx context.Context, key, value string, ttl time.Duration) {
	if g == nil {
		return
	}
	ctx, cancel := g.bound(ctx)
	defer cancel()

	if err := g.store.Put(ctx, key, value, ttl); err != nil {
		g.errors.Add(1)
		metrics.CacheWrites.WithLabelValues("error").Inc()
		logutil.GetLogger(ctx).Warn("cache write failed, dropping entry", zap.String("key", key), zap.Error(err))
		return
	}
	metrics.CacheWrites.WithLabelValues("ok").Inc()
}

// Stats merges the guard counters with the backend's entry count and
// reachability when the backend reports them.
func (g *Guarded) Stats(ctx context.Context) models.CacheStats {
	if g == nil {
		return models.CacheStats{}
	}
	stats := models.CacheStats{
		Hits:      g.hits.Load(),
		Misses:    g.misses.Load(),
		Errors:    g.errors.Load(),
		Available: true,
	}
	ctx, cancel := g.bound(ctx)
	defer cancel()
	if p, ok := g.store.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			logutil.GetLogger(ctx).Warn("cache backend unreachable", zap.Error(err))
			stats.Available = false
			return stats
		}
	}
	if s, ok := g.store.(Statter); ok {
		backend, err := s.Stats(ctx)
		if err != nil {
			stats.Available = false
			return stats
		}
		stats.Entries = backend.Entries
	}
	return stats
}

// Close closes the wrapped backend.
func (g *Guarded) Close() error {
	if g == nil {
		return nil
	}
	return g.store.Close()
}
