package protect

import (
	"sort"

	"artshield/internal/domain"
	"artshield/internal/infra"
	"artshield/internal/providers/compute"
)

// defaultConfigs holds the baseline parameters per protection method.
// Step-specific config from the plan is merged over these at dispatch time.
var defaultConfigs = map[string]map[string]any{
	"mist":      {"intensity": "medium", "epsilon": 16},
	"watermark": {"position": "bottom-right", "opacity": 0.35},
	"grayscale": {},
}

// Registry resolves a protection method to its external endpoint, auth token
// and default configuration. It is built once from injected configuration;
// nothing here touches the process environment.
type Registry struct {
	endpoints map[string]infra.MethodEndpoint
}

// NewRegistry builds a registry from the configured method endpoints.
func NewRegistry(cfg *infra.Config) *Registry {
	endpoints := make(map[string]infra.MethodEndpoint, len(cfg.MethodEndpoints))
	for method, ep := range cfg.MethodEndpoints {
		endpoints[method] = ep
	}
	return &Registry{endpoints: endpoints}
}

// Resolve returns the endpoint and default config for method. Unknown methods
// and endpoints missing a URL or token yield a ConfigurationError, which
// callers must treat as non-retryable.
func (r *Registry) Resolve(method string) (compute.Endpoint, map[string]any, error) {
	ep, ok := r.endpoints[method]
	if !ok {
		return compute.Endpoint{}, nil, &domain.ConfigurationError{Method: method, Reason: "unknown protection method"}
	}
	if ep.URL == "" {
		return compute.Endpoint{}, nil, &domain.ConfigurationError{Method: method, Reason: "endpoint url not configured"}
	}
	if ep.Token == "" {
		return compute.Endpoint{}, nil, &domain.ConfigurationError{Method: method, Reason: "auth token not configured"}
	}
	defaults := make(map[string]any, len(defaultConfigs[method]))
	for k, v := range defaultConfigs[method] {
		defaults[k] = v
	}
	return compute.Endpoint{Method: method, URL: ep.URL, Token: ep.Token}, defaults, nil
}

// Known reports whether method exists in the registry, without requiring its
// endpoint to be fully resolvable yet.
func (r *Registry) Known(method string) bool {
	_, ok := r.endpoints[method]
	return ok
}

// Methods lists the registered method names in stable order.
func (r *Registry) Methods() []string {
	out := make([]string, 0, len(r.endpoints))
	for method := range r.endpoints {
		out = append(out, method)
	}
	sort.Strings(out)
	return out
}
