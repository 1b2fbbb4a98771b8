package gateway

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry maps gateway names to implementations.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
	fallback string
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		gateways: make(map[string]Gateway),
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a gateway. The first registered gateway becomes the default.
func (r *Registry) Register(g Gateway) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := g.Name()
	if name == "" {
		return fmt.Errorf("gateway: registration without a name")
	}
	if _, exists := r.gateways[name]; exists {
		return fmt.Errorf("gateway: duplicate registration: %s", name)
	}
	r.gateways[name] = g
	if r.fallback == "" {
		r.fallback = name
	}

	r.logger.Info("payment gateway registered", "name", name)
	return nil
}

// Get returns the gateway registered under name. An empty name resolves to the
// default gateway.
func (r *Registry) Get(name string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.fallback
	}
	g, ok := r.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrGatewayNotFound, name)
	}
	return g, nil
}

// SetDefault selects the gateway used when a call names none.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.gateways[name]; !ok {
		return fmt.Errorf("%w: %q", ErrGatewayNotFound, name)
	}
	r.fallback = name
	return nil
}

// Default returns the name of the default gateway.
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallback
}

// Names returns the registered gateway names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
