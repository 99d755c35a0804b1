// Package ollama adapts a locally hosted Ollama runtime.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pario-ai/promptgate/pkg/models"
	"github.com/pario-ai/promptgate/pkg/provider"
)

// Name is the provider name used in routes.
const Name = "local"

// Provider streams completions from /api/generate.
type Provider struct {
	endpoint string
	client   *http.Client
}

// New creates a Provider for the runtime at endpoint. A nil client uses
// http.DefaultClient.
func New(endpoint string, client *http.Client) *Provider {
	if client == nil {
		client = http.DefaultClient
	}
	return &Provider{endpoint: strings.TrimRight(endpoint, "/"), client: client}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return Name }

// Generate implements provider.Provider.
func (p *Provider) Generate(ctx context.Context, prompt models.Prompt) (*provider.Response, error) {
	options := map[string]any{"temperature": prompt.Temperature}
	if prompt.MaxTokens > 0 {
		options["num_predict"] = prompt.MaxTokens
	}
	body, err := json.Marshal(models.OllamaGenerateRequest{
		Model:   prompt.Model,
		Prompt:  prompt.Text,
		Stream:  true,
		Options: options,
	})
	if err != nil {
		return nil, &provider.Error{Provider: Name, Kind: provider.KindInvalidRequest, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, &provider.Error{Provider: Name, Kind: provider.KindUnavailable, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, provider.FromTransport(Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, provider.FromStatus(Name, resp)
	}
	return &provider.Response{
		Provider: Name,
		Stream:   &stream{body: resp.Body, scanner: bufio.NewScanner(resp.Body)},
	}, nil
}

// Close implements provider.Provider.
func (p *Provider) Close() error { return nil }

// stream decodes the NDJSON body, one object per line.
type stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func (s *stream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk models.OllamaGenerateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", &provider.Error{Provider: Name, Kind: provider.KindUnavailable, Err: fmt.Errorf("decode chunk: %w", err)}
		}
		if chunk.Error != "" {
			return "", &provider.Error{Provider: Name, Kind: provider.KindUnavailable, Err: fmt.Errorf("runtime: %s", chunk.Error)}
		}
		if chunk.Done {
			s.done = true
			if chunk.Response != "" {
				return chunk.Response, nil
			}
			return "", io.EOF
		}
		if chunk.Response != "" {
			return chunk.Response, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", provider.FromTransport(Name, err)
	}
	return "", &provider.Error{Provider: Name, Kind: provider.KindUnavailable, Err: io.ErrUnexpectedEOF}
}

func (s *stream) Close() error {
	return s.body.Close()
}
