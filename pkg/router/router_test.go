package router

import (
	"errors"
	"testing"
	"time"

	"github.com/pario-ai/promptgate/pkg/config"
	"github.com/pario-ai/promptgate/pkg/models"
	"github.com/pario-ai/promptgate/pkg/provider"
	"github.com/pario-ai/promptgate/pkg/provider/providertest"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Providers = []config.ProviderConfig{
		{Name: "openai", Type: "openai"},
		{Name: "anthropic", Type: "anthropic", Timeout: 5 * time.Second},
	}
	return cfg
}

func names(routes []Route) []string {
	out := make([]string, len(routes))
	for i, r := range routes {
		out[i] = r.Provider.Name()
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestResolveLocal(t *testing.T) {
	local := &providertest.Provider{ID: "local"}
	r := New(testConfig(), local, &providertest.Provider{ID: "openai"})

	routes, err := r.Resolve(models.Prompt{Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if got := names(routes); !equal(got, []string{"local"}) {
		t.Fatalf("unexpected chain: %v", got)
	}
	if routes[0].Timeout != 120*time.Second {
		t.Errorf("expected local timeout, got %s", routes[0].Timeout)
	}
}

func TestResolveLocalFallback(t *testing.T) {
	cfg := testConfig()
	cfg.Router.LocalFallback = true
	r := New(cfg, &providertest.Provider{ID: "local"},
		&providertest.Provider{ID: "anthropic"}, &providertest.Provider{ID: "openai"})

	routes, err := r.Resolve(models.Prompt{Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if got := names(routes); !equal(got, []string{"local", "openai", "anthropic"}) {
		t.Fatalf("unexpected chain: %v", got)
	}
}

func TestResolveCloudOrder(t *testing.T) {
	cfg := testConfig()
	r := New(cfg, &providertest.Provider{ID: "local"},
		&providertest.Provider{ID: "anthropic"}, &providertest.Provider{ID: "openai"})

	routes, err := r.Resolve(models.Prompt{Text: "hi", UseCloud: true})
	if err != nil {
		t.Fatal(err)
	}
	// gemini is in the default order but not configured
	if got := names(routes); !equal(got, []string{"openai", "anthropic"}) {
		t.Fatalf("unexpected chain: %v", got)
	}
	if routes[0].Timeout != cfg.Router.ProviderTimeout {
		t.Errorf("expected default timeout, got %s", routes[0].Timeout)
	}
	if routes[1].Timeout != 5*time.Second {
		t.Errorf("expected provider timeout, got %s", routes[1].Timeout)
	}
}

func TestResolveCustomOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Router.CloudOrder = []string{"anthropic", "anthropic", "openai"}
	r := New(cfg, nil, &providertest.Provider{ID: "openai"}, &providertest.Provider{ID: "anthropic"})

	routes, err := r.Resolve(models.Prompt{Text: "hi", UseCloud: true})
	if err != nil {
		t.Fatal(err)
	}
	if got := names(routes); !equal(got, []string{"anthropic", "openai"}) {
		t.Fatalf("unexpected chain: %v", got)
	}
}

func TestResolveNoRoute(t *testing.T) {
	r := New(testConfig(), nil)

	if _, err := r.Resolve(models.Prompt{Text: "hi"}); !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
	if _, err := r.Resolve(models.Prompt{Text: "hi", UseCloud: true}); !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestProviders(t *testing.T) {
	var local provider.Provider = &providertest.Provider{ID: "local"}
	r := New(testConfig(), local, &providertest.Provider{ID: "openai"})
	if len(r.Providers()) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(r.Providers()))
	}
}
