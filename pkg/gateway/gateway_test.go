package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pario-ai/promptgate/pkg/cache"
	"github.com/pario-ai/promptgate/pkg/cache/memory"
	"github.com/pario-ai/promptgate/pkg/config"
	"github.com/pario-ai/promptgate/pkg/models"
	"github.com/pario-ai/promptgate/pkg/provider"
	"github.com/pario-ai/promptgate/pkg/provider/providertest"
	"github.com/pario-ai/promptgate/pkg/router"
	"github.com/pario-ai/promptgate/pkg/stream"
)

type fixture struct {
	gw    *Gateway
	store *memory.Store
}

func newFixture(t *testing.T, cfg *config.Config, local provider.Provider, cloud ...provider.Provider) *fixture {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	store := memory.New(100, time.Hour)
	gw := New(cfg, cache.NewGuarded(store, time.Second), router.New(cfg, local, cloud...))
	return &fixture{gw: gw, store: store}
}

func (f *fixture) cached(t *testing.T, key string) (string, bool) {
	t.Helper()
	v, ok, err := f.store.Get(context.Background(), key)
	require.NoError(t, err)
	return v, ok
}

func ptr[T any](v T) *T { return &v }

func TestHandleIdempotent(t *testing.T) {
	local := &providertest.Provider{ID: "local", Chunks: []string{"Hel", "lo", " world"}}
	f := newFixture(t, nil, local)
	req := models.CompletionRequest{Prompt: "Say hello"}

	reply, err := f.gw.Handle(context.Background(), req)
	require.NoError(t, err)
	require.False(t, reply.CacheHit)
	require.Equal(t, "local", reply.Provider)

	var texts []string
	for c := range reply.Chunks {
		require.NoError(t, c.Err)
		if c.Text != "" {
			texts = append(texts, c.Text)
		}
	}
	require.Equal(t, []string{"Hel", "lo", " world"}, texts)

	require.Eventually(t, func() bool {
		v, ok := f.cached(t, reply.Key)
		return ok && v == "Hello world"
	}, time.Second, 5*time.Millisecond)

	second, err := f.gw.Handle(context.Background(), req)
	require.NoError(t, err)
	require.True(t, second.CacheHit)
	require.Equal(t, reply.Key, second.Key)

	text, err := stream.Collect(second.Chunks)
	require.NoError(t, err)
	require.Equal(t, "Hello world", text)
	require.Equal(t, 1, local.Calls())
}

func TestHandleEquivalentPromptsShareKey(t *testing.T) {
	local := &providertest.Provider{ID: "local", Text: "answer"}
	f := newFixture(t, nil, local)

	a, err := f.gw.Handle(context.Background(), models.CompletionRequest{Prompt: "  What is Go?\r\n"})
	require.NoError(t, err)
	_, err = stream.Collect(a.Chunks)
	require.NoError(t, err)

	b, err := f.gw.Handle(context.Background(), models.CompletionRequest{Prompt: "What is Go?", MaxTokens: ptr(DefaultMaxTokens)})
	require.NoError(t, err)
	_, err = stream.Collect(b.Chunks)
	require.NoError(t, err)
	require.Equal(t, a.Key, b.Key)

	c, err := f.gw.Handle(context.Background(), models.CompletionRequest{Prompt: "What is Go?", Temperature: ptr(0.1)})
	require.NoError(t, err)
	_, err = stream.Collect(c.Chunks)
	require.NoError(t, err)
	require.NotEqual(t, a.Key, c.Key)
}

func TestHandleCancellationSkipsCache(t *testing.T) {
	local := &providertest.Provider{ID: "local", Chunks: []string{"one", "two", "three"}, ChunkDelay: 30 * time.Millisecond}
	f := newFixture(t, nil, local)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reply, err := f.gw.Handle(ctx, models.CompletionRequest{Prompt: "long answer please"})
	require.NoError(t, err)

	first := <-reply.Chunks
	require.Equal(t, "one", first.Text)
	cancel()
	for range reply.Chunks {
	}

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, f.gw.Close())
	_, ok := f.cached(t, reply.Key)
	require.False(t, ok)
}

func TestHandleCancellationWithReadAhead(t *testing.T) {
	local := &providertest.Provider{ID: "local", Chunks: []string{"one", "two", "three"}}
	f := newFixture(t, nil, local)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reply, err := f.gw.Handle(ctx, models.CompletionRequest{Prompt: "fast answer"})
	require.NoError(t, err)

	first := <-reply.Chunks
	require.Equal(t, "one", first.Text)
	time.Sleep(20 * time.Millisecond)
	cancel()

	require.NoError(t, f.gw.Close())
	_, ok := f.cached(t, reply.Key)
	require.False(t, ok)
	for range reply.Chunks {
	}
}

func TestHandleConcurrencyBound(t *testing.T) {
	gate := make(chan struct{})
	fake := &providertest.Provider{ID: "local", Chunks: []string{"ok"}, Gate: gate}
	limiter := provider.NewLimiter(fake, 2, 0)
	f := newFixture(t, nil, limiter)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		busy int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.gw.Complete(context.Background(), models.CompletionRequest{Prompt: fmt.Sprintf("prompt %d", i)})
			var exhausted *router.ExhaustedError
			if errors.As(err, &exhausted) && exhausted.Kind() == provider.KindBusy {
				mu.Lock()
				busy++
				mu.Unlock()
			}
		}(i)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return busy == 2 && limiter.Active() == 2
	}, 2*time.Second, 5*time.Millisecond)

	close(gate)
	wg.Wait()
	require.LessOrEqual(t, fake.MaxActive(), 2)
	require.Equal(t, 2, fake.Calls())
}

func TestHandleInvalidRequests(t *testing.T) {
	cfg := config.Default()
	cfg.Local.Models = []string{"llama3", "mistral"}
	local := &providertest.Provider{ID: "local", Text: "x"}
	f := newFixture(t, cfg, local)

	tests := []struct {
		name string
		req  models.CompletionRequest
	}{
		{"empty prompt", models.CompletionRequest{}},
		{"blank prompt", models.CompletionRequest{Prompt: " \r\n\t"}},
		{"negative max tokens", models.CompletionRequest{Prompt: "hi", MaxTokens: ptr(-1)}},
		{"temperature too high", models.CompletionRequest{Prompt: "hi", Temperature: ptr(2.5)}},
		{"temperature negative", models.CompletionRequest{Prompt: "hi", Temperature: ptr(-0.1)}},
		{"unknown model", models.CompletionRequest{Prompt: "hi", Model: "gpt-99"}},
		{"no cloud route", models.CompletionRequest{Prompt: "hi", UseCloud: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.gw.Handle(context.Background(), tt.req)
			require.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	require.Equal(t, 0, local.Calls())
}

func TestHandleDefaults(t *testing.T) {
	local := &providertest.Provider{ID: "local", Text: "x"}
	f := newFixture(t, nil, local)

	_, err := f.gw.Complete(context.Background(), models.CompletionRequest{Prompt: "  hi  "})
	require.NoError(t, err)

	prompts := local.Prompts()
	require.Len(t, prompts, 1)
	require.Equal(t, models.Prompt{Text: "hi", Model: "llama3", MaxTokens: DefaultMaxTokens, Temperature: DefaultTemperature}, prompts[0])
}

func TestHandleCloudFallback(t *testing.T) {
	cfg := config.Default()
	cfg.Providers = []config.ProviderConfig{{Name: "openai", Type: "openai"}, {Name: "anthropic", Type: "anthropic"}}
	openai := &providertest.Provider{ID: "openai", Err: &provider.Error{Provider: "openai", Kind: provider.KindRateLimited, Err: errors.New("429")}}
	anthropic := &providertest.Provider{ID: "anthropic", Text: "from claude"}
	f := newFixture(t, cfg, &providertest.Provider{ID: "local"}, openai, anthropic)

	reply, err := f.gw.Handle(context.Background(), models.CompletionRequest{Prompt: "hi", UseCloud: true})
	require.NoError(t, err)
	require.Equal(t, "anthropic", reply.Provider)
	text, err := stream.Collect(reply.Chunks)
	require.NoError(t, err)
	require.Equal(t, "from claude", text)
}

func TestHandleExhaustedNotCached(t *testing.T) {
	local := &providertest.Provider{ID: "local", Err: &provider.Error{Provider: "local", Kind: provider.KindUnavailable, Err: errors.New("down")}}
	f := newFixture(t, nil, local)

	_, err := f.gw.Complete(context.Background(), models.CompletionRequest{Prompt: "hi"})
	require.ErrorIs(t, err, router.ErrExhausted)

	require.NoError(t, f.gw.Close())
	stats, err := f.store.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.Entries)
}

func TestHandleAbortedStreamNotCached(t *testing.T) {
	local := &providertest.Provider{ID: "local", Chunks: []string{"a", "b"}, FailAfter: 1, StreamErr: errors.New("runtime crashed")}
	f := newFixture(t, nil, local)

	reply, err := f.gw.Handle(context.Background(), models.CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)
	_, err = stream.Collect(reply.Chunks)
	require.ErrorIs(t, err, stream.ErrStreamAborted)

	require.NoError(t, f.gw.Close())
	_, ok := f.cached(t, reply.Key)
	require.False(t, ok)
}

func TestCloseClosesProviders(t *testing.T) {
	local := &providertest.Provider{ID: "local", Text: "x"}
	f := newFixture(t, nil, local)

	_, err := f.gw.Complete(context.Background(), models.CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)
	require.NoError(t, f.gw.Close())
	require.True(t, local.Closed())
}
