package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/promptgate/pkg/cache"
	"github.com/pario-ai/promptgate/pkg/models"
)

func newCacheCmd() *cobra.Command {
	var configPath, server string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the completion cache",
	}

	// withStore opens the configured backend for the duration of fn.
	withStore := func(fn func(ctx context.Context, s cache.Store) error) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		if cfg.Cache.Backend == "memory" {
			return fmt.Errorf("the memory cache lives inside the server process; nothing to manage offline")
		}
		ctx := context.Background()
		s, err := openCache(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()
		return fn(ctx, s)
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics of the running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if server == "" {
				server = serverURL(cfg.Listen)
			}
			stats, err := fetchStats(cmd.Context(), server)
			if err != nil {
				return err
			}
			fmt.Printf("Backend:   %s\n", cfg.Cache.Backend)
			fmt.Printf("Available: %t\n", stats.Available)
			fmt.Printf("Entries:   %d\n", stats.Entries)
			fmt.Printf("Hits:      %d\n", stats.Hits)
			fmt.Printf("Misses:    %d\n", stats.Misses)
			fmt.Printf("Errors:    %d\n", stats.Errors)
			return nil
		},
	}
	statsCmd.Flags().StringVar(&server, "server", "", "base URL of the running server (defaults to the configured listen address)")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cache entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, s cache.Store) error {
				c, ok := s.(cache.Clearer)
				if !ok {
					return fmt.Errorf("backend cannot be cleared")
				}
				if err := c.Clear(ctx); err != nil {
					return err
				}
				fmt.Println("All cache entries cleared.")
				return nil
			})
		},
	}

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove expired cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, s cache.Store) error {
				p, ok := s.(cache.Purger)
				if !ok {
					fmt.Println("Backend expires entries itself; nothing to purge.")
					return nil
				}
				n, err := p.Purge(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Purged %d expired entries.\n", n)
				return nil
			})
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.AddCommand(statsCmd, clearCmd, purgeCmd)
	return cmd
}

// serverURL turns a listen address such as ":8000" into a local base URL.
func serverURL(listen string) string {
	if strings.HasPrefix(listen, ":") {
		listen = "localhost" + listen
	}
	return "http://" + listen
}

func fetchStats(ctx context.Context, server string) (models.CacheStats, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var stats models.CacheStats
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(server, "/")+"/cache/stats", nil)
	if err != nil {
		return stats, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return stats, fmt.Errorf("query server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return stats, fmt.Errorf("query server: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return stats, fmt.Errorf("decode stats: %w", err)
	}
	return stats, nil
}
