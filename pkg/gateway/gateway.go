// Package gateway is the transport-independent entry point: it validates
// requests, serves cache hits, falls back across providers on misses and
// populates the cache once a stream has been fully delivered.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/pario-ai/promptgate/pkg/cache"
	"github.com/pario-ai/promptgate/pkg/config"
	"github.com/pario-ai/promptgate/pkg/metrics"
	"github.com/pario-ai/promptgate/pkg/models"
	"github.com/pario-ai/promptgate/pkg/provider"
	"github.com/pario-ai/promptgate/pkg/router"
	"github.com/pario-ai/promptgate/pkg/stream"
)

const (
	DefaultMaxTokens   = 1024
	DefaultTemperature = 0.7
	MaxTemperature     = 2.0
)

// ErrInvalidRequest is returned for requests that fail validation.
var ErrInvalidRequest = errors.New("invalid request")

// Reply is the outcome of Handle. Chunks always ends with exactly one
// terminal chunk and is then closed.
type Reply struct {
	Chunks   <-chan models.StreamChunk
	CacheHit bool
	Provider string
	Key      string
}

// Gateway serves completion requests.
type Gateway struct {
	cache  *cache.Guarded
	router *router.Router
	coord  *router.Coordinator

	defaultModel string
	models       []string
	cacheTTL     time.Duration
	streamOpts   stream.Options

	mu     sync.Mutex
	closed bool
	writes sync.WaitGroup
}

// New creates a Gateway. c may be nil to disable caching.
func New(cfg *config.Config, c *cache.Guarded, r *router.Router) *Gateway {
	return &Gateway{
		cache:        c,
		router:       r,
		coord:        router.NewCoordinator(r),
		defaultModel: cfg.Local.DefaultModel,
		models:       cfg.Local.Models,
		cacheTTL:     cfg.Cache.TTL,
		streamOpts: stream.Options{
			Buffer:      cfg.Stream.Buffer,
			IdleTimeout: cfg.Stream.IdleTimeout,
		},
	}
}

// Handle validates req and starts delivering its completion.
func (g *Gateway) Handle(ctx context.Context, req models.CompletionRequest) (*Reply, error) {
	p, err := g.prompt(req)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(selection(req.UseCloud), "invalid").Inc()
		return nil, err
	}
	logger := logutil.GetLogger(ctx).With(zap.String("selection", p.Selection()), zap.String("model", p.Model))

	key := cache.Key(p)
	if value, ok := g.cache.Lookup(ctx, key); ok {
		metrics.RequestsTotal.WithLabelValues(p.Selection(), "hit").Inc()
		logger.Debug("cache hit", zap.String("key", key))
		return &Reply{
			Chunks:   stream.Assemble(ctx, &provider.Response{Provider: "cache", Text: value}, stream.Options{Buffer: 1}),
			CacheHit: true,
			Provider: "cache",
			Key:      key,
		}, nil
	}

	resp, err := g.coord.Generate(ctx, p)
	if err != nil {
		outcome := "exhausted"
		if ctx.Err() != nil {
			outcome = "canceled"
		}
		metrics.RequestsTotal.WithLabelValues(p.Selection(), outcome).Inc()
		logger.Warn("no provider produced a response", zap.Error(err))
		return nil, err
	}
	metrics.RequestsTotal.WithLabelValues(p.Selection(), "miss").Inc()
	logger.Debug("cache miss", zap.String("key", key), zap.String("provider", resp.Provider))

	opts := g.streamOpts
	opts.OnComplete = func(full string) { g.store(context.WithoutCancel(ctx), key, full) }
	return &Reply{
		Chunks:   stream.Assemble(ctx, resp, opts),
		Provider: resp.Provider,
		Key:      key,
	}, nil
}

// Complete is the synchronous form of Handle.
func (g *Gateway) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	reply, err := g.Handle(ctx, req)
	if err != nil {
		return "", err
	}
	return stream.Collect(reply.Chunks)
}

// Close waits for pending cache writes, then closes the cache and every
// provider.
func (g *Gateway) Close() error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.writes.Wait()

	errs := []error{g.cache.Close()}
	for _, p := range g.router.Providers() {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

func (g *Gateway) store(ctx context.Context, key, value string) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.writes.Add(1)
	g.mu.Unlock()
	defer g.writes.Done()

	g.cache.Insert(ctx, key, value, g.cacheTTL)
}

// prompt validates req and resolves defaults.
func (g *Gateway) prompt(req models.CompletionRequest) (models.Prompt, error) {
	text := cache.Normalize(req.Prompt)
	if text == "" {
		return models.Prompt{}, fmt.Errorf("%w: prompt is empty", ErrInvalidRequest)
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = g.defaultModel
	}
	if !req.UseCloud && len(g.models) > 0 && !slices.Contains(g.models, model) {
		return models.Prompt{}, fmt.Errorf("%w: unknown model %q", ErrInvalidRequest, model)
	}

	maxTokens := DefaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	if maxTokens < 0 {
		return models.Prompt{}, fmt.Errorf("%w: max_tokens must not be negative", ErrInvalidRequest)
	}

	temperature := DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	if math.IsNaN(temperature) || temperature < 0 || temperature > MaxTemperature {
		return models.Prompt{}, fmt.Errorf("%w: temperature must be between 0 and %g", ErrInvalidRequest, MaxTemperature)
	}

	p := models.Prompt{
		Text:        text,
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		UseCloud:    req.UseCloud,
	}
	if _, err := g.router.Resolve(p); err != nil {
		return models.Prompt{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return p, nil
}

// Stats reports cache statistics.
func (g *Gateway) Stats(ctx context.Context) models.CacheStats {
	return g.cache.Stats(ctx)
}

func selection(useCloud bool) string {
	if useCloud {
		return "cloud"
	}
	return "local"
}
