package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/promptgate/pkg/cache"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := New(context.Background(), Options{Addr: mr.Addr(), Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestPutAndGet(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Put(ctx, "cache:abc", "hello", time.Hour))

	v, ok, err := s.Get(ctx, "cache:abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", v)

	_, ok, err = s.Get(ctx, "cache:nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTTLExpiration(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	require.NoError(t, s.Put(ctx, "cache:ttl", "v", time.Hour))
	require.Equal(t, time.Hour, mr.TTL("cache:ttl"))

	mr.FastForward(time.Hour)

	_, ok, err := s.Get(ctx, "cache:ttl")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStatsAndClear(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	require.NoError(t, s.Put(ctx, "cache:a", "1", time.Hour))
	require.NoError(t, s.Put(ctx, "cache:b", "2", time.Hour))
	require.NoError(t, mr.Set("unrelated", "x"))

	_, _, _ = s.Get(ctx, "cache:a")
	_, _, _ = s.Get(ctx, "cache:zzz")

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.Entries)
	require.Equal(t, int64(1), stats.Hits)
	require.Equal(t, int64(1), stats.Misses)

	require.NoError(t, s.Clear(ctx))
	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Entries)
	require.True(t, mr.Exists("unrelated"))
}

func TestGetAfterServerLoss(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)
	mr.Close()

	_, ok, err := s.Get(ctx, "cache:a")
	require.Error(t, err)
	require.False(t, ok)
}

func TestGuardedReportsAvailability(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)
	g := cache.NewGuarded(s, time.Second)

	g.Insert(ctx, "cache:a", "1", time.Hour)
	stats := g.Stats(ctx)
	require.True(t, stats.Available)
	require.Equal(t, int64(1), stats.Entries)

	mr.Close()
	stats = g.Stats(ctx)
	require.False(t, stats.Available)
	require.Zero(t, stats.Entries)
}

func TestNewUnreachable(t *testing.T) {
	_, err := New(context.Background(), Options{Addr: "127.0.0.1:1", Timeout: 100 * time.Millisecond})
	require.Error(t, err)
}
