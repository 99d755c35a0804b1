package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all promptgate configuration.
type Config struct {
	Listen    string           `yaml:"listen"`
	Log       LogConfig        `yaml:"log"`
	Local     LocalConfig      `yaml:"local"`
	Providers []ProviderConfig `yaml:"providers"`
	Router    RouterConfig     `yaml:"router"`
	Cache     CacheConfig      `yaml:"cache"`
	Journal   JournalConfig    `yaml:"journal"`
	Stream    StreamConfig     `yaml:"stream"`
}

// LogConfig is handed to the zap logger at startup.
type LogConfig struct {
	File      string `yaml:"file"`
	Level     string `yaml:"level"`
	FileCount int    `yaml:"file_count"`
	FileSize  int    `yaml:"file_size"`
	KeepDays  int    `yaml:"keep_days"`
	Console   bool   `yaml:"console"`
}

// LocalConfig describes the locally hosted inference runtime.
type LocalConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Endpoint     string        `yaml:"endpoint"`
	DefaultModel string        `yaml:"default_model"`
	Models       []string      `yaml:"models"`
	Concurrency  int           `yaml:"concurrency"`
	QueueDepth   int           `yaml:"queue_depth"`
	Timeout      time.Duration `yaml:"timeout"`
}

// ProviderConfig defines an upstream cloud provider.
// Type is "openai", "anthropic" or "gemini"; Name defaults to Type.
type ProviderConfig struct {
	Name    string        `yaml:"name"`
	Type    string        `yaml:"type"`
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// RouterConfig defines provider priority.
type RouterConfig struct {
	// CloudOrder is the static fallback chain tried for cloud requests.
	CloudOrder []string `yaml:"cloud_order"`
	// LocalFallback appends the cloud chain after the local runtime.
	LocalFallback bool `yaml:"local_fallback"`
	// ProviderTimeout applies to providers without their own timeout.
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
}

// CacheConfig controls the completion cache.
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Backend   string        `yaml:"backend"` // "memory", "redis" or "sqlite"
	TTL       time.Duration `yaml:"ttl"`
	Timeout   time.Duration `yaml:"timeout"`
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	DBPath    string        `yaml:"db_path"`
	Size      int           `yaml:"size"`
	SweepSpec string        `yaml:"sweep_spec"`
}

// JournalConfig controls the feedback/document log.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
	Buffer  int    `yaml:"buffer"`
}

// StreamConfig tunes the streaming assembler.
type StreamConfig struct {
	Buffer      int           `yaml:"buffer"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// Addr returns the cache server address.
func (c CacheConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8000",
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
		Local: LocalConfig{
			Enabled:      true,
			Endpoint:     "http://localhost:11434",
			DefaultModel: "llama3",
			Concurrency:  2,
			QueueDepth:   8,
			Timeout:      120 * time.Second,
		},
		Router: RouterConfig{
			CloudOrder:      []string{"openai", "anthropic", "gemini"},
			ProviderTimeout: 60 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Backend:   "memory",
			TTL:       time.Hour,
			Timeout:   500 * time.Millisecond,
			Host:      "localhost",
			Port:      6379,
			DBPath:    "promptgate.db",
			Size:      10000,
			SweepSpec: "*/10 * * * *",
		},
		Journal: JournalConfig{
			Enabled: true,
			DBPath:  "promptgate.db",
			Buffer:  256,
		},
		Stream: StreamConfig{
			Buffer:      16,
			IdleTimeout: 30 * time.Second,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
// An empty path yields the defaults. Environment overrides apply last.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment-style settings on top of the file values.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("env %s: %w", name, err)
		}
		*dst = n
		return nil
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(name)
		if !ok || v == "" {
			return nil
		}
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("env %s: %w", name, err)
		}
		*dst = d
		return nil
	}

	str("PROMPTGATE_LISTEN", &c.Listen)
	str("OLLAMA_ENDPOINT", &c.Local.Endpoint)
	str("CACHE_BACKEND", &c.Cache.Backend)
	str("CACHE_HOST", &c.Cache.Host)
	if err := num("CACHE_PORT", &c.Cache.Port); err != nil {
		return err
	}
	if err := dur("CACHE_TTL", &c.Cache.TTL); err != nil {
		return err
	}
	if err := dur("PROVIDER_TIMEOUT", &c.Router.ProviderTimeout); err != nil {
		return err
	}
	if err := num("LOCAL_CONCURRENCY", &c.Local.Concurrency); err != nil {
		return err
	}
	if err := num("LOCAL_QUEUE_DEPTH", &c.Local.QueueDepth); err != nil {
		return err
	}
	if v, ok := lookup("FALLBACK_ORDER"); ok && v != "" {
		var order []string
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				order = append(order, name)
			}
		}
		c.Router.CloudOrder = order
	}

	for _, kind := range []string{"openai", "anthropic", "gemini"} {
		key, ok := lookup(strings.ToUpper(kind) + "_API_KEY")
		if !ok || key == "" {
			continue
		}
		if p := c.provider(kind); p != nil {
			p.APIKey = key
			continue
		}
		c.Providers = append(c.Providers, ProviderConfig{Name: kind, Type: kind, APIKey: key})
	}
	return nil
}

// Validate checks the configuration and fills in derived defaults.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Type == "" {
			p.Type = p.Name
		}
		if p.Name == "" {
			p.Name = p.Type
		}
		switch p.Type {
		case "openai", "anthropic", "gemini":
		default:
			return fmt.Errorf("provider %q: unsupported type %q", p.Name, p.Type)
		}
		if seen[p.Name] {
			return fmt.Errorf("provider %q: duplicate name", p.Name)
		}
		seen[p.Name] = true
	}
	switch c.Cache.Backend {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("cache: unsupported backend %q", c.Cache.Backend)
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache: ttl must be positive")
	}
	if c.Local.Enabled && c.Local.Concurrency <= 0 {
		return fmt.Errorf("local: concurrency must be positive")
	}
	if c.Local.QueueDepth < 0 {
		return fmt.Errorf("local: queue_depth must not be negative")
	}
	return nil
}

func (c *Config) provider(name string) *ProviderConfig {
	for i := range c.Providers {
		if c.Providers[i].Name == name || c.Providers[i].Type == name {
			return &c.Providers[i]
		}
	}
	return nil
}

// parseDuration accepts Go durations ("90s") and bare seconds ("3600").
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}
