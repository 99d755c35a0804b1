// Package openai adapts the OpenAI chat completions API.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pario-ai/promptgate/pkg/config"
	"github.com/pario-ai/promptgate/pkg/models"
	"github.com/pario-ai/promptgate/pkg/provider"
)

const (
	// DefaultURL is used when the provider has no url configured.
	DefaultURL = "https://api.openai.com"
	// DefaultModel is used when the provider has no model configured.
	DefaultModel = "gpt-4-1106-preview"
)

var errNoAPIKey = errors.New("api key not configured")

// Provider streams chat completions over SSE.
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
		p.name = "openai"
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
	temperature := prompt.Temperature
	chatReq := models.ChatCompletionRequest{
		Model:       p.model,
		Messages:    []models.ChatMessage{{Role: "user", Content: prompt.Text}},
		Temperature: &temperature,
		Stream:      true,
	}
	if prompt.MaxTokens > 0 {
		maxTokens := prompt.MaxTokens
		chatReq.MaxTokens = &maxTokens
	}
	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, &provider.Error{Provider: p.name, Kind: provider.KindInvalidRequest, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &provider.Error{Provider: p.name, Kind: provider.KindUnavailable, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, provider.FromTransport(p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, provider.FromStatus(p.name, resp)
	}
	return &provider.Response{
		Provider: p.name,
		Stream:   &stream{name: p.name, body: resp.Body, scanner: bufio.NewScanner(resp.Body)},
	}, nil
}

// Close implements provider.Provider.
func (p *Provider) Close() error { return nil }

// stream parses "data: " lines until the [DONE] sentinel.
type stream struct {
	name    string
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func (s *stream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			s.done = true
			return "", io.EOF
		}

		var chunk models.ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", &provider.Error{Provider: s.name, Kind: provider.KindUnavailable, Err: fmt.Errorf("decode chunk: %w", err)}
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", provider.FromTransport(s.name, fmt.Errorf("reading stream: %w", err))
	}
	return "", &provider.Error{Provider: s.name, Kind: provider.KindUnavailable, Err: io.ErrUnexpectedEOF}
}

func (s *stream) Close() error {
	return s.body.Close()
}
