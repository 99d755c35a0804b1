// Package gemini adapts the Gemini API through the genai SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/pario-ai/promptgate/pkg/config"
	"github.com/pario-ai/promptgate/pkg/models"
	"github.com/pario-ai/promptgate/pkg/provider"
)

// DefaultModel is used when the provider has no model configured.
const DefaultModel = "gemini-1.5-flash"

var errNoAPIKey = errors.New("api key not configured")

// Provider answers with one-shot completions.
type Provider struct {
	name   string
	apiKey string
	url    string
	model  string
	http   *http.Client

	once   sync.Once
	client *genai.Client
	err    error
}

// New creates a Provider from cfg. The SDK client is built on first use.
// A nil httpClient uses the SDK default.
func New(cfg config.ProviderConfig, httpClient *http.Client) *Provider {
	p := &Provider{
		name:   cfg.Name,
		apiKey: strings.TrimSpace(cfg.APIKey),
		url:    cfg.URL,
		model:  cfg.Model,
		http:   httpClient,
	}
	if p.name == "" {
		p.name = "gemini"
	}
	if p.model == "" {
		p.model = DefaultModel
	}
	return p
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return p.name }

func (p *Provider) sdk(ctx context.Context) (*genai.Client, error) {
	p.once.Do(func() {
		p.client, p.err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:      p.apiKey,
			Backend:     genai.BackendGeminiAPI,
			HTTPClient:  p.http,
			HTTPOptions: genai.HTTPOptions{BaseURL: p.url},
		})
	})
	return p.client, p.err
}

// Generate implements provider.Provider.
func (p *Provider) Generate(ctx context.Context, prompt models.Prompt) (*provider.Response, error) {
	if p.apiKey == "" {
		return nil, &provider.Error{Provider: p.name, Kind: provider.KindUnavailable, Err: errNoAPIKey}
	}
	client, err := p.sdk(ctx)
	if err != nil {
		return nil, &provider.Error{Provider: p.name, Kind: provider.KindUnavailable, Err: fmt.Errorf("create client: %w", err)}
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(prompt.Temperature)),
	}
	if prompt.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(prompt.MaxTokens)
	}
	resp, err := client.Models.GenerateContent(ctx, p.model, genai.Text(prompt.Text), cfg)
	if err != nil {
		return nil, p.classify(err)
	}
	return &provider.Response{Provider: p.name, Text: resp.Text()}, nil
}

func (p *Provider) classify(err error) *provider.Error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		kind := provider.StatusKind(apiErr.Code)
		if kind == provider.KindInvalidRequest && badKey(apiErr) {
			kind = provider.KindUnavailable
		}
		return &provider.Error{Provider: p.name, Kind: kind, Err: err}
	}
	return provider.FromTransport(p.name, err)
}

// badKey reports whether Gemini rejected the configured API key. The API
// answers 400 INVALID_ARGUMENT for that, not 401.
func badKey(apiErr genai.APIError) bool {
	for _, d := range apiErr.Details {
		if reason, _ := d["reason"].(string); reason == "API_KEY_INVALID" {
			return true
		}
	}
	return strings.Contains(apiErr.Message, "API key not valid")
}

// Close implements provider.Provider.
func (p *Provider) Close() error { return nil }
