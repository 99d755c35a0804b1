package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusKind(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusBadRequest, KindInvalidRequest},
		{http.StatusNotFound, KindUnavailable},
		{http.StatusRequestEntityTooLarge, KindInvalidRequest},
		{http.StatusUnprocessableEntity, KindInvalidRequest},
		{http.StatusRequestTimeout, KindTimeout},
		{http.StatusGatewayTimeout, KindTimeout},
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusUnauthorized, KindUnavailable},
		{http.StatusForbidden, KindUnavailable},
		{http.StatusInternalServerError, KindUnavailable},
		{http.StatusBadGateway, KindUnavailable},
		{http.StatusServiceUnavailable, KindUnavailable},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			require.Equal(t, tt.want, StatusKind(tt.status))
		})
	}
}

func TestFromStatusUsesEnvelope(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusTooManyRequests,
		Body:       io.NopCloser(strings.NewReader(`{"error":{"message":"slow down","type":"rate_limit_error"}}`)),
	}
	err := FromStatus("openai", resp)
	require.Equal(t, KindRateLimited, err.Kind)
	require.Equal(t, "openai", err.Provider)
	require.Contains(t, err.Error(), "slow down")
}

func TestFromStatusPlainBody(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusNotFound,
		Body:       io.NopCloser(strings.NewReader(`{"error":"model 'nope' not found"}`)),
	}
	err := FromStatus("local", resp)
	require.Equal(t, KindUnavailable, err.Kind)
	require.Contains(t, err.Error(), "not found")
}

func TestFromTransport(t *testing.T) {
	err := FromTransport("openai", fmt.Errorf("post: %w", context.DeadlineExceeded))
	require.Equal(t, KindTimeout, err.Kind)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	err = FromTransport("openai", errors.New("connection refused"))
	require.Equal(t, KindUnavailable, err.Kind)

	inner := &Error{Provider: "anthropic", Kind: KindRateLimited, Err: errors.New("x")}
	require.Same(t, inner, FromTransport("openai", inner))
}

func TestKindOf(t *testing.T) {
	require.Equal(t, KindBusy, KindOf(fmt.Errorf("wrapped: %w", &Error{Kind: KindBusy, Err: ErrBusy})))
	require.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	require.Equal(t, KindUnavailable, KindOf(errors.New("boom")))
	require.False(t, KindInvalidRequest.Retryable())
	require.True(t, KindBusy.Retryable())
}
