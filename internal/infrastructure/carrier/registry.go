// Package carrier implements delivery.ProviderAdapter for the API styles
// carriers expose (REST, JSON-RPC, SOAP and GraphQL) and the registry that
// selects one by API format.
package carrier

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/storefront/backend/internal/domain/delivery"
)

// Registry maps API formats to adapters
type Registry struct {
	mu       sync.RWMutex
	adapters map[delivery.APIFormat]delivery.ProviderAdapter
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[delivery.APIFormat]delivery.ProviderAdapter),
	}
}

// NewDefaultRegistry builds one adapter per API format sharing a single HTTP client
func NewDefaultRegistry(config *Config) (*Registry, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: config.Timeout}

	rest, err := NewRESTAdapter(config, client)
	if err != nil {
		return nil, err
	}
	rpc, err := NewJSONRPCAdapter(config, client)
	if err != nil {
		return nil, err
	}
	soap, err := NewSOAPAdapter(config, client)
	if err != nil {
		return nil, err
	}
	gql, err := NewGraphQLAdapter(config, client)
	if err != nil {
		return nil, err
	}

	r := NewRegistry()
	r.Register(rest)
	r.Register(rpc)
	r.Register(soap)
	r.Register(gql)
	return r, nil
}

// Register adds an adapter, replacing any previous one for the same format
func (r *Registry) Register(adapter delivery.ProviderAdapter) {
	if adapter == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Format()] = adapter
}

// Adapter returns the adapter for format
func (r *Registry) Adapter(format delivery.APIFormat) (delivery.ProviderAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", delivery.ErrUnsupportedAPIFormat, format)
	}
	return adapter, nil
}

// Formats returns the registered API formats
func (r *Registry) Formats() []delivery.APIFormat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	formats := make([]delivery.APIFormat, 0, len(r.adapters))
	for f := range r.adapters {
		formats = append(formats, f)
	}
	return formats
}

// Ensure Registry implements AdapterRegistry
var _ delivery.AdapterRegistry = (*Registry)(nil)
