// Package stream turns a provider response into an ordered chunk channel
// while accumulating the full text for the cache.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/pario-ai/promptgate/pkg/metrics"
	"github.com/pario-ai/promptgate/pkg/models"
	"github.com/pario-ai/promptgate/pkg/provider"
)

// ErrStreamAborted marks the terminal chunk of a stream that did not finish.
var ErrStreamAborted = errors.New("stream aborted")

var errIdle = errors.New("provider stream idle")

// Options tunes Assemble.
type Options struct {
	// Buffer is how many provider chunks may be read ahead of the caller.
	Buffer int
	// IdleTimeout aborts the stream when the provider sends nothing for
	// that long. Zero disables it.
	IdleTimeout time.Duration
	// OnComplete receives the full text once the caller has received the
	// terminal chunk. It runs on its own goroutine and is never called for
	// aborted streams.
	OnComplete func(full string)
}

// Assemble delivers resp as chunks on the returned channel, which is closed
// after the terminal chunk. A one-shot response becomes a single terminal
// chunk. The provider stream is closed when assembly ends.
//
// The returned channel is unbuffered: a chunk counts as delivered only once
// the caller has received it. Read-ahead happens behind it, bounded by
// Options.Buffer.
func Assemble(ctx context.Context, resp *provider.Response, opts Options) <-chan models.StreamChunk {
	a := &assembler{
		ctx:      ctx,
		opts:     opts,
		provider: resp.Provider,
		pending:  make(chan item, max(opts.Buffer, 0)),
		out:      make(chan models.StreamChunk),
	}
	metrics.StreamsActive.Inc()
	go a.produce(resp)
	go a.deliver()
	return a.out
}

// item is a chunk read from the provider but not yet handed to the caller.
type item struct {
	chunk models.StreamChunk
	// full is the accumulated text, set on a clean terminal chunk.
	full string
}

type assembler struct {
	ctx      context.Context
	opts     Options
	provider string
	pending  chan item
	out      chan models.StreamChunk
}

// produce reads the provider into pending. It stops without a terminal
// item when the caller goes away; deliver reports that abort.
func (a *assembler) produce(resp *provider.Response) {
	defer close(a.pending)

	if !resp.Streaming() {
		a.push(item{chunk: models.StreamChunk{Text: resp.Text, Final: true}, full: resp.Text})
		return
	}

	s := resp.Stream
	defer s.Close()

	var idle atomic.Bool
	var timer *time.Timer
	if a.opts.IdleTimeout > 0 {
		timer = time.AfterFunc(a.opts.IdleTimeout, func() {
			idle.Store(true)
			_ = s.Close()
		})
		defer timer.Stop()
	}
	stop := context.AfterFunc(a.ctx, func() { _ = s.Close() })
	defer stop()

	var acc strings.Builder
	for {
		if timer != nil {
			timer.Reset(a.opts.IdleTimeout)
		}
		text, err := s.Recv()
		if timer != nil {
			timer.Stop()
		}
		if a.ctx.Err() != nil {
			return
		}
		if idle.Load() {
			a.fail(errIdle)
			return
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			a.fail(err)
			return
		}
		if text == "" {
			continue
		}
		acc.WriteString(text)
		if !a.push(item{chunk: models.StreamChunk{Text: text}}) {
			return
		}
	}
	a.push(item{chunk: models.StreamChunk{Final: true}, full: acc.String()})
}

func (a *assembler) push(it item) bool {
	select {
	case a.pending <- it:
		return true
	case <-a.ctx.Done():
		return false
	}
}

func (a *assembler) fail(cause error) {
	a.push(item{chunk: models.StreamChunk{Final: true, Err: fmt.Errorf("%w: %v", ErrStreamAborted, cause)}})
}

// deliver hands pending chunks to the caller in order and settles the
// outcome of the stream.
func (a *assembler) deliver() {
	defer close(a.out)
	defer metrics.StreamsActive.Dec()

	seq := 0
	for it := range a.pending {
		c := it.chunk
		c.Seq = seq
		if !a.send(c) {
			a.abort(seq, a.ctx.Err())
			return
		}
		seq++
		if c.Err != nil {
			a.aborted(seq, c.Err)
			return
		}
		if c.Final {
			a.complete(it.full)
			return
		}
	}
	// produce gave up without a terminal item: the caller went away.
	a.abort(seq, a.ctx.Err())
}

// send delivers c unless the caller went away first.
func (a *assembler) send(c models.StreamChunk) bool {
	if a.ctx.Err() != nil {
		return false
	}
	select {
	case a.out <- c:
		return true
	case <-a.ctx.Done():
		return false
	}
}

// abort ends a stream the caller stopped listening to. The terminal chunk
// is offered only to a caller that is still receiving.
func (a *assembler) abort(seq int, cause error) {
	err := fmt.Errorf("%w: %v", ErrStreamAborted, cause)
	a.aborted(seq, err)
	select {
	case a.out <- models.StreamChunk{Seq: seq, Final: true, Err: err}:
	default:
	}
}

func (a *assembler) aborted(delivered int, err error) {
	metrics.StreamsTotal.WithLabelValues("aborted").Inc()
	logutil.GetLogger(a.ctx).Warn("stream aborted, discarding response",
		zap.String("provider", a.provider), zap.Int("delivered", delivered), zap.Error(err))
}

func (a *assembler) complete(full string) {
	metrics.StreamsTotal.WithLabelValues("complete").Inc()
	if a.opts.OnComplete != nil {
		go a.opts.OnComplete(full)
	}
}

// Collect drains chunks and returns the concatenated text, or the error
// carried by the terminal chunk. A channel closed without a terminal chunk
// counts as aborted.
func Collect(chunks <-chan models.StreamChunk) (string, error) {
	var sb strings.Builder
	var err error
	final := false
	for c := range chunks {
		if c.Final {
			final = true
		}
		if c.Err != nil {
			err = c.Err
			continue
		}
		sb.WriteString(c.Text)
	}
	if err != nil {
		return "", err
	}
	if !final {
		return "", ErrStreamAborted
	}
	return sb.String(), nil
}
