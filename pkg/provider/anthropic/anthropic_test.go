package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pario-ai/promptgate/pkg/config"
	"github.com/pario-ai/promptgate/pkg/models"
	"github.com/pario-ai/promptgate/pkg/provider"
)

func TestGenerate(t *testing.T) {
	var got models.AnthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "sk-ant", r.Header.Get("x-api-key"))
		require.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"Hello"},{"type":"text","text":" world"}],"stop_reason":"end_turn"}`)
	}))
	defer srv.Close()

	p := New(config.ProviderConfig{Name: "claude", URL: srv.URL, APIKey: "sk-ant", Model: "claude-test"}, nil)
	resp, err := p.Generate(context.Background(), models.Prompt{Text: "hi", Temperature: 1.5, UseCloud: true})
	require.NoError(t, err)
	require.False(t, resp.Streaming())
	require.Equal(t, "Hello world", resp.Text)
	require.Equal(t, "claude", resp.Provider)

	require.Equal(t, "claude-test", got.Model)
	require.Equal(t, DefaultMaxTokens, got.MaxTokens)
	require.NotNil(t, got.Temperature)
	require.Equal(t, 1.0, *got.Temperature)
	require.Equal(t, "hi", got.Messages[0].Content)
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   provider.Kind
	}{
		{"bad request", http.StatusBadRequest, provider.KindInvalidRequest},
		{"unauthorized", http.StatusUnauthorized, provider.KindUnavailable},
		{"overloaded", 529, provider.KindUnavailable},
		{"gateway timeout", http.StatusGatewayTimeout, provider.KindTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"type":"error","error":{"type":"api_error","message":"nope"}}`)
			}))
			defer srv.Close()

			_, err := New(config.ProviderConfig{URL: srv.URL, APIKey: "k"}, nil).Generate(context.Background(), models.Prompt{Text: "hi"})
			require.Equal(t, tt.want, provider.KindOf(err))
		})
	}
}
