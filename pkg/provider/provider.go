// Package provider defines the contract shared by every inference backend
// and the failure taxonomy the fallback coordinator acts on.
package provider

import (
	"context"
	"io"
	"sync"

	"github.com/pario-ai/promptgate/pkg/models"
)

// Provider generates a completion for a prompt.
type Provider interface {
	// Name identifies the provider in routes, logs and metrics.
	Name() string
	// Generate returns either a completed text or an open stream.
	// Failures are reported as *Error.
	Generate(ctx context.Context, p models.Prompt) (*Response, error)
	// Close releases resources held by the provider.
	Close() error
}

// Stream yields text fragments in generation order. Recv returns io.EOF
// once the provider finished cleanly. Close may be called at any time and
// more than once.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Response is the successful outcome of Generate. Exactly one of Text or
// Stream is meaningful: Stream when non-nil, Text otherwise.
type Response struct {
	Provider string
	Text     string
	Stream   Stream
}

// Streaming reports whether the response is delivered incrementally.
func (r *Response) Streaming() bool {
	return r.Stream != nil
}

// Discard closes the stream of r, if any.
func (r *Response) Discard() {
	if r != nil && r.Stream != nil {
		_ = r.Stream.Close()
	}
}

// OnDone wraps s so that fn runs exactly once, when the stream ends
// (Recv returns an error, including io.EOF) or is closed.
func OnDone(s Stream, fn func()) Stream {
	return &doneStream{Stream: s, fn: fn}
}

type doneStream struct {
	Stream
	once sync.Once
	fn   func()
}

func (d *doneStream) Recv() (string, error) {
	text, err := d.Stream.Recv()
	if err != nil {
		d.once.Do(d.fn)
	}
	return text, err
}

func (d *doneStream) Close() error {
	err := d.Stream.Close()
	d.once.Do(d.fn)
	return err
}

// SliceStream replays fixed fragments. It is used for cache-backed and
// one-shot responses as well as in tests.
type SliceStream struct {
	mu     sync.Mutex
	chunks []string
	closed bool
}

// NewSliceStream returns a stream over chunks.
func NewSliceStream(chunks ...string) *SliceStream {
	return &SliceStream{chunks: chunks}
}

// Recv implements Stream.
func (s *SliceStream) Recv() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.chunks) == 0 {
		return "", io.EOF
	}
	next := s.chunks[0]
	s.chunks = s.chunks[1:]
	return next, nil
}

// Close implements Stream.
func (s *SliceStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
