package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, ":8000", cfg.Listen)
	require.Equal(t, time.Hour, cfg.Cache.TTL)
	require.Equal(t, []string{"openai", "anthropic", "gemini"}, cfg.Router.CloudOrder)
	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test-123")

	content := `
listen: ":9090"
local:
  endpoint: http://gpu-box:11434
  concurrency: 4
providers:
  - name: openai
    url: https://api.openai.com
    api_key: ${TEST_API_KEY}
  - name: claude
    type: anthropic
    api_key: sk-ant
cache:
  enabled: true
  backend: sqlite
  ttl: 30m
router:
  cloud_order: [claude, openai]
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.Listen)
	require.Equal(t, "sk-test-123", cfg.Providers[0].APIKey)
	require.Equal(t, "openai", cfg.Providers[0].Type)
	require.Equal(t, "anthropic", cfg.Providers[1].Type)
	require.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	require.Equal(t, "sqlite", cfg.Cache.Backend)
	require.Equal(t, 4, cfg.Local.Concurrency)
	require.Equal(t, 8, cfg.Local.QueueDepth)
	require.Equal(t, []string{"claude", "openai"}, cfg.Router.CloudOrder)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"OLLAMA_ENDPOINT":   "http://ollama:11434",
		"CACHE_BACKEND":     "redis",
		"CACHE_HOST":        "redis.internal",
		"CACHE_PORT":        "6380",
		"CACHE_TTL":         "120",
		"PROVIDER_TIMEOUT":  "15s",
		"LOCAL_CONCURRENCY": "3",
		"FALLBACK_ORDER":    "anthropic, openai",
		"ANTHROPIC_API_KEY": "sk-ant-env",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	require.NoError(t, cfg.Validate())

	require.Equal(t, "http://ollama:11434", cfg.Local.Endpoint)
	require.Equal(t, "redis.internal:6380", cfg.Cache.Addr())
	require.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	require.Equal(t, 15*time.Second, cfg.Router.ProviderTimeout)
	require.Equal(t, 3, cfg.Local.Concurrency)
	require.Equal(t, []string{"anthropic", "openai"}, cfg.Router.CloudOrder)
	require.Len(t, cfg.Providers, 1)
	require.Equal(t, "anthropic", cfg.Providers[0].Name)
	require.Equal(t, "sk-ant-env", cfg.Providers[0].APIKey)
}

func TestApplyEnvBadNumber(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		if k == "CACHE_PORT" {
			return "not-a-port", true
		}
		return "", false
	})
	require.Error(t, err)
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := Default()
	cfg.Providers = []ProviderConfig{{Name: "mystery"}}
	require.Error(t, cfg.Validate())

	cfg.Providers = []ProviderConfig{{Type: "openai"}, {Type: "openai"}}
	require.Error(t, cfg.Validate())
}
