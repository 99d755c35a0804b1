// Package anthropic adapts the Anthropic messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/pario-ai/promptgate/pkg/config"
	"github.com/pario-ai/promptgate/pkg/models"
	"github.com/pario-ai/promptgate/pkg/provider"
)

const (
	DefaultURL       = "https://api.anthropic.com"
	DefaultModel     = "claude-3-opus-20240229"
	DefaultMaxTokens = 4096
	apiVersion       = "2023-06-01"
)

var errNoAPIKey = errors.New("api key not configured")

// Provider answers with one-shot completions.
type Provider struct {
	name   string
	url    string
	apiKey string
	model  string
	client *http.Client
}

// New creates a Provider from cfg. A nil client uses http.DefaultClient.
func New(cfg config.ProviderConfig, client *http.Client) *Provider {
	if client == nil {
		client = http.DefaultClient
	}
	p := &Provider{
		name:   cfg.Name,
		url:    strings.TrimRight(cfg.URL, "/"),
		apiKey: strings.TrimSpace(cfg.APIKey),
		model:  cfg.Model,
		client: client,
	}
	if p.name == "" {
		p.name = "anthropic"
	}
	if p.url == "" {
		p.url = DefaultURL
	}
	if p.model == "" {
		p.model = DefaultModel
	}
	return p
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return p.name }

// Generate implements provider.Provider.
func (p *Provider) Generate(ctx context.Context, prompt models.Prompt) (*provider.Response, error) {
	if p.apiKey == "" {
		return nil, &provider.Error{Provider: p.name, Kind: provider.KindUnavailable, Err: errNoAPIKey}
	}
	maxTokens := prompt.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	temperature := prompt.Temperature
	if temperature > 1 {
		temperature = 1
	}
	body, err := json.Marshal(models.AnthropicRequest{
		Model:       p.model,
		Messages:    []models.ChatMessage{{Role: "user", Content: prompt.Text}},
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, &provider.Error{Provider: p.name, Kind: provider.KindInvalidRequest, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, &provider.Error{Provider: p.name, Kind: provider.KindUnavailable, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, provider.FromTransport(p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.FromStatus(p.name, resp)
	}

	var msg models.AnthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, provider.FromTransport(p.name, fmt.Errorf("decode response: %w", err))
	}
	return &provider.Response{Provider: p.name, Text: msg.Text()}, nil
}

// Close implements provider.Provider.
func (p *Provider) Close() error { return nil }
