package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/xxxsen/common/logger"

	"github.com/pario-ai/promptgate/pkg/cache"
	"github.com/pario-ai/promptgate/pkg/cache/memory"
	"github.com/pario-ai/promptgate/pkg/cache/redis"
	"github.com/pario-ai/promptgate/pkg/cache/sqlite"
	"github.com/pario-ai/promptgate/pkg/config"
	"github.com/pario-ai/promptgate/pkg/provider"
	"github.com/pario-ai/promptgate/pkg/provider/anthropic"
	"github.com/pario-ai/promptgate/pkg/provider/gemini"
	"github.com/pario-ai/promptgate/pkg/provider/ollama"
	"github.com/pario-ai/promptgate/pkg/provider/openai"
)

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.File, cfg.Log.Level, cfg.Log.FileCount, cfg.Log.FileSize, cfg.Log.KeepDays, cfg.Log.Console)
	return cfg, nil
}

// openCache opens the configured cache backend.
func openCache(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "redis":
		s, err := redis.New(ctx, redis.Options{
			Addr:     cfg.Cache.Addr(),
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			Timeout:  cfg.Cache.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		c, err := sqlite.New(cfg.Cache.DBPath)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return memory.New(cfg.Cache.Size, cfg.Cache.TTL), nil
	}
}

// buildProviders creates the local runtime, wrapped in its concurrency
// limiter, and every configured cloud provider.
func buildProviders(cfg *config.Config) (provider.Provider, []provider.Provider) {
	var local provider.Provider
	if cfg.Local.Enabled {
		local = provider.NewLimiter(ollama.New(cfg.Local.Endpoint, nil), cfg.Local.Concurrency, cfg.Local.QueueDepth)
	}

	var cloud []provider.Provider
	for _, pc := range cfg.Providers {
		switch pc.Type {
		case "openai":
			cloud = append(cloud, openai.New(pc, http.DefaultClient))
		case "anthropic":
			cloud = append(cloud, anthropic.New(pc, http.DefaultClient))
		case "gemini":
			cloud = append(cloud, gemini.New(pc, nil))
		}
	}
	return local, cloud
}
