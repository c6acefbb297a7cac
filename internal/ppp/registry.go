// internal/ppp/registry.go
package ppp

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// EngineFactory creates protocol engine instances
type EngineFactory func(logger *zap.Logger) (Engine, error)

// Registry manages protocol engine registration and creation
type Registry struct {
	engines map[string]EngineFactory
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewRegistry creates a new engine registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		engines: make(map[string]EngineFactory),
		logger:  logger,
	}
}

// Register registers an engine factory under name, replacing any previous one
func (r *Registry) Register(name string, factory EngineFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.engines[name] = factory
	r.logger.Info("Protocol engine registered", zap.String("engine", name))
}

// Create builds a new engine instance by name
func (r *Registry) Create(name string) (Engine, error) {
	r.mu.RLock()
	factory, exists := r.engines[name]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}

	engine, err := factory(r.logger.With(zap.String("engine", name)))
	if err != nil {
		return nil, fmt.Errorf("failed to create engine %q: %w", name, err)
	}
	return engine, nil
}

// IsSupported checks whether an engine name is registered
func (r *Registry) IsSupported(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.engines[name]
	return exists
}

// ListEngines returns registered engine names in sorted order
func (r *Registry) ListEngines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterDefaultEngines registers the engines shipped with this module
func RegisterDefaultEngines(r *Registry) {
	r.Register(SimEngineName, func(logger *zap.Logger) (Engine, error) {
		return NewSimEngine(logger), nil
	})
}
