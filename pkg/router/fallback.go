package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/pario-ai/promptgate/pkg/metrics"
	"github.com/pario-ai/promptgate/pkg/models"
	"github.com/pario-ai/promptgate/pkg/provider"
)

// ErrExhausted matches every *ExhaustedError.
var ErrExhausted = errors.New("all providers failed")

var errAttemptTimeout = errors.New("provider did not respond in time")

// ExhaustedError lists the failure of each provider tried, in order.
type ExhaustedError struct {
	Failures []error
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, err := range e.Failures {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("%s: %s", ErrExhausted, strings.Join(parts, "; "))
}

func (e *ExhaustedError) Unwrap() []error {
	return append([]error{ErrExhausted}, e.Failures...)
}

// Kind summarizes the failures. A chain cut short by an invalid request
// reports KindInvalidRequest; a chain where every provider failed the same
// way reports that kind; anything else is KindUnavailable.
func (e *ExhaustedError) Kind() provider.Kind {
	if len(e.Failures) == 0 {
		return provider.KindUnavailable
	}
	last := provider.KindOf(e.Failures[len(e.Failures)-1])
	if last == provider.KindInvalidRequest {
		return last
	}
	for _, err := range e.Failures {
		if provider.KindOf(err) != last {
			return provider.KindUnavailable
		}
	}
	return last
}

// Coordinator tries the providers of a route chain in order until one
// produces a response.
type Coordinator struct {
	router *Router
}

// NewCoordinator creates a Coordinator over r.
func NewCoordinator(r *Router) *Coordinator {
	return &Coordinator{router: r}
}

// Generate resolves p and walks the chain. Retryable failures move on to
// the next provider; an invalid request stops the walk. Each provider is
// tried at most once. Caller cancellation is returned as ctx.Err().
func (c *Coordinator) Generate(ctx context.Context, p models.Prompt) (*provider.Response, error) {
	routes, err := c.router.Resolve(p)
	if err != nil {
		return nil, err
	}
	logger := logutil.GetLogger(ctx)

	var failures []error
	for i, route := range routes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := route.Provider.Name()

		start := time.Now()
		resp, err := c.invoke(ctx, route, p)
		metrics.ProviderLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err == nil {
			metrics.ProviderRequestsTotal.WithLabelValues(name, "ok").Inc()
			if i > 0 {
				logger.Info("served by fallback provider", zap.String("provider", name), zap.Int("attempt", i+1))
			}
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		kind := provider.KindOf(err)
		metrics.ProviderRequestsTotal.WithLabelValues(name, kind.String()).Inc()
		failures = append(failures, err)
		if !kind.Retryable() {
			logger.Warn("provider rejected request", zap.String("provider", name), zap.Error(err))
			break
		}
		if i < len(routes)-1 {
			logger.Warn("provider failed, trying next", zap.String("provider", name),
				zap.String("kind", kind.String()), zap.Error(err))
		}
	}
	return nil, &ExhaustedError{Failures: failures}
}

// invoke calls one provider. The timeout bounds the time until the
// provider answers or opens its stream; the attempt context then lives
// until the stream ends.
func (c *Coordinator) invoke(ctx context.Context, route Route, p models.Prompt) (*provider.Response, error) {
	if route.Timeout <= 0 {
		return route.Provider.Generate(ctx, p)
	}

	attemptCtx, cancel := context.WithCancelCause(ctx)
	timer := time.AfterFunc(route.Timeout, func() { cancel(errAttemptTimeout) })

	resp, err := route.Provider.Generate(attemptCtx, p)
	// A timer that already fired has cancelled, or is about to cancel,
	// attemptCtx, so a response that raced it cannot be used.
	fired := !timer.Stop()
	if err == nil && fired {
		resp.Discard()
		cancel(nil)
		return nil, &provider.Error{
			Provider: route.Provider.Name(),
			Kind:     provider.KindTimeout,
			Err:      fmt.Errorf("%w after %s", errAttemptTimeout, route.Timeout),
		}
	}
	if err != nil {
		timedOut := fired || errors.Is(context.Cause(attemptCtx), errAttemptTimeout)
		cancel(nil)
		if timedOut {
			return nil, &provider.Error{
				Provider: route.Provider.Name(),
				Kind:     provider.KindTimeout,
				Err:      fmt.Errorf("%w after %s: %v", errAttemptTimeout, route.Timeout, err),
			}
		}
		return nil, err
	}
	if resp.Streaming() {
		resp.Stream = provider.OnDone(resp.Stream, func() { cancel(nil) })
	} else {
		cancel(nil)
	}
	return resp, nil
}
