package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/pario-ai/promptgate/pkg/models"
)

// Kind classifies a provider failure.
type Kind int

const (
	// KindUnavailable covers transport failures, 5xx responses and
	// misconfigured credentials.
	KindUnavailable Kind = iota + 1
	// KindRateLimited is returned for HTTP 429.
	KindRateLimited
	// KindInvalidRequest means the prompt itself was rejected; retrying
	// on another provider would fail the same way.
	KindInvalidRequest
	// KindTimeout is returned when the provider did not answer in time.
	KindTimeout
	// KindBusy is returned by the local limiter when its queue is full.
	KindBusy
)

// ErrBusy is the cause of KindBusy errors.
var ErrBusy = errors.New("local runtime busy")

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindRateLimited:
		return "rate_limited"
	case KindInvalidRequest:
		return "invalid_request"
	case KindTimeout:
		return "timeout"
	case KindBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Retryable reports whether another provider may be tried after a failure
// of this kind.
func (k Kind) Retryable() bool {
	return k != KindInvalidRequest
}

// Error is a classified provider failure.
type Error struct {
	Provider string
	Kind     Kind
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an *Error with a formatted cause.
func Errorf(provider string, kind Kind, format string, args ...any) *Error {
	return &Error{Provider: provider, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the failure kind of err. Unclassified errors count as
// KindUnavailable, except context deadlines which count as KindTimeout.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnavailable
}

// StatusKind maps an upstream HTTP status code to a failure kind. Endpoint
// and model are set by configuration, so 404 means the provider is
// misconfigured rather than the prompt being bad.
func StatusKind(status int) Kind {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return KindInvalidRequest
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTimeout
	case http.StatusTooManyRequests:
		return KindRateLimited
	default:
		return KindUnavailable
	}
}

// FromStatus converts a non-2xx upstream response into an *Error, using the
// provider's error envelope for the message when present.
func FromStatus(provider string, resp *http.Response) *Error {
	msg := extractMessage(resp.Body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &Error{
		Provider: provider,
		Kind:     StatusKind(resp.StatusCode),
		Err:      fmt.Errorf("upstream returned %d: %s", resp.StatusCode, msg),
	}
}

// FromTransport classifies an error returned by the HTTP client or while
// reading a body.
func FromTransport(provider string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	kind := KindUnavailable
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &Error{Provider: provider, Kind: kind, Err: err}
}

func extractMessage(body io.Reader) string {
	if body == nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var envelope models.ProviderError
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return strings.TrimSpace(string(data))
}
