package router

import (
	"errors"
	"time"

	"github.com/pario-ai/promptgate/pkg/config"
	"github.com/pario-ai/promptgate/pkg/models"
	"github.com/pario-ai/promptgate/pkg/provider"
)

// ErrNoRoute is returned when no configured provider can serve a prompt.
var ErrNoRoute = errors.New("no provider configured for request")

// Route is one provider to try, with the time it has to respond.
type Route struct {
	Provider provider.Provider
	Timeout  time.Duration
}

// Router resolves prompts to ordered provider chains.
type Router struct {
	local         *Route
	cloud         map[string]Route
	cloudOrder    []string
	localFallback bool
	all           []provider.Provider
}

// New creates a Router. local may be nil when no local runtime is enabled.
// Cloud providers are matched to their configuration by name.
func New(cfg *config.Config, local provider.Provider, cloud ...provider.Provider) *Router {
	r := &Router{
		cloud:         make(map[string]Route, len(cloud)),
		cloudOrder:    cfg.Router.CloudOrder,
		localFallback: cfg.Router.LocalFallback,
	}
	if local != nil {
		timeout := cfg.Local.Timeout
		if timeout <= 0 {
			timeout = cfg.Router.ProviderTimeout
		}
		r.local = &Route{Provider: local, Timeout: timeout}
		r.all = append(r.all, local)
	}

	timeouts := make(map[string]time.Duration, len(cfg.Providers))
	for _, p := range cfg.Providers {
		timeouts[p.Name] = p.Timeout
	}
	for _, p := range cloud {
		timeout := timeouts[p.Name()]
		if timeout <= 0 {
			timeout = cfg.Router.ProviderTimeout
		}
		r.cloud[p.Name()] = Route{Provider: p, Timeout: timeout}
		r.all = append(r.all, p)
	}
	return r
}

// Resolve returns the ordered chain of providers for p.
// Local prompts go to the local runtime, followed by the cloud chain when
// local fallback is enabled. Cloud prompts follow the static cloud order;
// providers that are not configured are skipped.
func (r *Router) Resolve(p models.Prompt) ([]Route, error) {
	var routes []Route
	if !p.UseCloud {
		if r.local != nil {
			routes = append(routes, *r.local)
		}
		if r.localFallback {
			routes = append(routes, r.cloudChain()...)
		}
	} else {
		routes = r.cloudChain()
	}
	if len(routes) == 0 {
		return nil, ErrNoRoute
	}
	return routes, nil
}

func (r *Router) cloudChain() []Route {
	seen := make(map[string]bool, len(r.cloudOrder))
	var routes []Route
	for _, name := range r.cloudOrder {
		route, ok := r.cloud[name]
		if !ok || seen[name] {
			continue // not configured
		}
		seen[name] = true
		routes = append(routes, route)
	}
	return routes
}

// Providers returns every provider known to the router.
func (r *Router) Providers() []provider.Provider {
	return r.all
}
