package source

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	perrors "perfwatch/internal/errors"
)

// Factory builds a client from its resolved configuration.
type Factory func(spec Spec, logger *slog.Logger) (Client, error)

// Registry maps source type names to factories.
type Registry struct {
	factories map[string]Factory
	mutex     sync.RWMutex
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger,
	}
}

// Register adds a factory under typ.
func (r *Registry) Register(typ string, factory Factory) error {
	if typ == "" {
		return fmt.Errorf("source type cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory for %s cannot be nil", typ)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.factories[typ]; exists {
		return fmt.Errorf("source type %s already registered", typ)
	}
	r.factories[typ] = factory
	r.logger.Debug("registered source type", "type", typ)
	return nil
}

// MustRegister is Register that panics on error. Intended for init-time wiring.
func (r *Registry) MustRegister(typ string, factory Factory) {
	if err := r.Register(typ, factory); err != nil {
		panic(err)
	}
}

// New builds a client for spec and checks its capability tags.
func (r *Registry) New(spec Spec, logger *slog.Logger) (Client, error) {
	r.mutex.RLock()
	factory, ok := r.factories[spec.Type]
	r.mutex.RUnlock()
	if !ok {
		return nil, perrors.ConfigError(fmt.Sprintf("unknown source type %q", spec.Type), "type")
	}
	if logger == nil {
		logger = r.logger
	}

	client, err := factory(spec, logger.With("source", spec.Name, "type", spec.Type))
	if err != nil {
		return nil, err
	}
	if err := CheckCapabilities(client); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Has reports whether typ is registered.
func (r *Registry) Has(typ string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, ok := r.factories[typ]
	return ok
}

// Types returns the registered type names in sorted order.
func (r *Registry) Types() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	types := make([]string, 0, len(r.factories))
	for typ := range r.factories {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}
