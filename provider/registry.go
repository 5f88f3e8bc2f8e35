package provider

import (
	"fmt"
	"sort"
)

// Constructor builds an Adapter for one API key and an optional base URL
// override (empty string selects the vendor's default endpoint). Each
// vendor package exposes a New function matching this shape (openrouter's
// extra referer/title arguments are bound by the registration closure,
// not by this signature).
type Constructor func(apiKey, baseURL string) Adapter

// Registry resolves a provider name to a configured Adapter.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry builds an empty registry; call Register for each supported
// vendor.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register associates a provider name with its adapter constructor.
func (r *Registry) Register(name string, ctor Constructor) {
	r.constructors[name] = ctor
}

// Get resolves name to an Adapter bound to apiKey, optionally overriding
// the vendor's default endpoint with baseURL (pass "" to use it). An
// empty apiKey is rejected as an auth failure rather than deferred to the
// first call, since no adapter can do anything useful without one. An
// unknown name is reported as a ProviderError naming the supported set.
func (r *Registry) Get(name, apiKey, baseURL string) (Adapter, error) {
	if apiKey == "" {
		return nil, &AuthError{Provider: name, Status: 0}
	}
	ctor, ok := r.constructors[name]
	if !ok {
		return nil, &ProviderError{Provider: name, Message: fmt.Sprintf("unsupported provider %q, supported: %v", name, r.Names())}
	}
	return ctor(apiKey, baseURL), nil
}

// Names lists the registered provider names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
