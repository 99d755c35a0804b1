// Package providertest provides a scripted provider for tests.
package providertest

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pario-ai/promptgate/pkg/models"
	"github.com/pario-ai/promptgate/pkg/provider"
)

// Provider replays a configured outcome. When Chunks is set it answers with
// a stream, otherwise with the one-shot Text. Fields must not be changed
// once Generate has been called.
type Provider struct {
	ID string

	Chunks []string
	Text   string
	// Err is returned by Generate instead of a response.
	Err error
	// Delay is waited before answering; context cancellation aborts it.
	Delay time.Duration
	// ChunkDelay is waited before each chunk.
	ChunkDelay time.Duration
	// FailAfter makes the stream fail with StreamErr after that many chunks.
	FailAfter int
	StreamErr error
	// Gate, when set, blocks Generate until it is closed.
	Gate chan struct{}

	calls     atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32
	closed    atomic.Bool

	mu      sync.Mutex
	prompts []models.Prompt
}

// Name implements provider.Provider.
func (p *Provider) Name() string {
	if p.ID == "" {
		return "fake"
	}
	return p.ID
}

// Calls returns how often Generate was invoked.
func (p *Provider) Calls() int {
	return int(p.calls.Load())
}

// MaxActive returns the highest number of overlapping generations seen.
func (p *Provider) MaxActive() int {
	return int(p.maxActive.Load())
}

// Prompts returns the prompts received so far.
func (p *Provider) Prompts() []models.Prompt {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Prompt(nil), p.prompts...)
}

// Closed reports whether Close was called.
func (p *Provider) Closed() bool {
	return p.closed.Load()
}

// Generate implements provider.Provider.
func (p *Provider) Generate(ctx context.Context, prompt models.Prompt) (*provider.Response, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	p.mu.Unlock()

	n := p.active.Add(1)
	for {
		peak := p.maxActive.Load()
		if n <= peak || p.maxActive.CompareAndSwap(peak, n) {
			break
		}
	}

	if err := p.wait(ctx); err != nil {
		p.active.Add(-1)
		return nil, provider.FromTransport(p.Name(), err)
	}
	if p.Err != nil {
		p.active.Add(-1)
		return nil, p.Err
	}
	if p.Chunks == nil {
		p.active.Add(-1)
		return &provider.Response{Provider: p.Name(), Text: p.Text}, nil
	}
	s := &stream{ctx: ctx, p: p, chunks: p.Chunks}
	return &provider.Response{
		Provider: p.Name(),
		Stream:   provider.OnDone(s, func() { p.active.Add(-1) }),
	}, nil
}

func (p *Provider) wait(ctx context.Context) error {
	if p.Gate != nil {
		select {
		case <-p.Gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return sleep(ctx, p.Delay)
}

// Close implements provider.Provider.
func (p *Provider) Close() error {
	p.closed.Store(true)
	return nil
}

type stream struct {
	ctx    context.Context
	p      *Provider
	chunks []string
	sent   int
	closed atomic.Bool
}

func (s *stream) Recv() (string, error) {
	if s.closed.Load() {
		return "", io.ErrClosedPipe
	}
	if err := sleep(s.ctx, s.p.ChunkDelay); err != nil {
		return "", provider.FromTransport(s.p.Name(), err)
	}
	if s.p.StreamErr != nil && s.sent >= s.p.FailAfter {
		return "", s.p.StreamErr
	}
	if s.sent >= len(s.chunks) {
		return "", io.EOF
	}
	chunk := s.chunks[s.sent]
	s.sent++
	return chunk, nil
}

func (s *stream) Close() error {
	s.closed.Store(true)
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
