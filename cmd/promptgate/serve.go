package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/pario-ai/promptgate/pkg/cache"
	"github.com/pario-ai/promptgate/pkg/gateway"
	"github.com/pario-ai/promptgate/pkg/journal"
	"github.com/pario-ai/promptgate/pkg/proxy"
	"github.com/pario-ai/promptgate/pkg/router"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the inference gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log := logutil.GetLogger(ctx)
			log.Info("config loaded", zap.String("config", configPath), zap.String("cache_backend", cfg.Cache.Backend))

			var (
				guarded *cache.Guarded
				sweeper *cache.Sweeper
			)
			if cfg.Cache.Enabled {
				store, err := openCache(ctx, cfg)
				if err != nil {
					log.Warn("cache unavailable, serving without cache", zap.Error(err))
				} else {
					guarded = cache.NewGuarded(store, cfg.Cache.Timeout)
					if p, ok := store.(cache.Purger); ok && cfg.Cache.SweepSpec != "" {
						sweeper = cache.NewSweeper(p)
						if err := sweeper.Start(ctx, cfg.Cache.SweepSpec); err != nil {
							_ = store.Close()
							return err
						}
					}
				}
			}

			local, cloud := buildProviders(cfg)
			gw := gateway.New(cfg, guarded, router.New(cfg, local, cloud...))
			defer func() {
				if sweeper != nil {
					sweeper.Stop()
				}
				if err := gw.Close(); err != nil {
					log.Error("gateway shutdown", zap.Error(err))
				}
			}()

			var j *journal.Journal
			if cfg.Journal.Enabled {
				j, err = journal.New(cfg.Journal.DBPath, cfg.Journal.Buffer)
				if err != nil {
					return err
				}
				defer func() { _ = j.Close() }()
			}

			log.Info("starting promptgate",
				zap.Bool("local", local != nil), zap.Int("cloud_providers", len(cloud)),
				zap.Strings("cloud_order", cfg.Router.CloudOrder))
			return proxy.New(cfg, gw, j).ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (defaults and environment only when empty)")
	return cmd
}
