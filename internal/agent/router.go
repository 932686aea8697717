package agent

import (
	"context"
	"strings"
)

// route maps a model-name prefix to a provider name.
type route struct {
	prefix   string
	provider string
}

// routes is checked in order; the first matching prefix wins.
var routes = []route{
	{"claude", "claude"},
	{"sonnet", "claude"},
	{"opus", "claude"},
	{"haiku", "claude"},
	{"gpt-", "codex"},
	{"codex", "codex"},
	{"o1", "codex"},
	{"o3", "codex"},
	{"o4", "codex"},
}

// Router dispatches each invocation to a provider chosen from the requested
// model. Unknown and empty models go to the default provider.
type Router struct {
	providers map[string]Provider
	fallback  Provider
}

// NewRouter creates a router whose default is fallback. Additional providers
// are registered by Name().
func NewRouter(fallback Provider, others ...Provider) *Router {
	r := &Router{
		providers: map[string]Provider{fallback.Name(): fallback},
		fallback:  fallback,
	}
	for _, p := range others {
		r.providers[p.Name()] = p
	}
	return r
}

// Name returns "router".
func (r *Router) Name() string { return "router" }

// Available reports whether the default provider is available.
func (r *Router) Available() bool { return r.fallback.Available() }

// Select returns the provider for model.
func (r *Router) Select(model string) Provider {
	m := strings.ToLower(strings.TrimSpace(model))
	if m == "" {
		return r.fallback
	}
	for _, rt := range routes {
		if strings.HasPrefix(m, rt.prefix) {
			if p, ok := r.providers[rt.provider]; ok {
				return p
			}
			break
		}
	}
	return r.fallback
}

// Invoke forwards req to the provider selected by req.Options.Model.
func (r *Router) Invoke(ctx context.Context, req Request) (*Output, error) {
	return r.Select(req.Options.Model).Invoke(ctx, req)
}
