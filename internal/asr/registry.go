package asr

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/loqalabs/loqa-stt/internal/config"
)

var (
	// ErrUnknownBackend is returned when a requested backend name has no
	// registered constructor.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrNoBackendAvailable is returned by detection when no usable engine
	// is present on the host.
	ErrNoBackendAvailable = errors.New("no speech backend available")
)

// Constructor builds a backend for a resolved model identifier.
type Constructor func(model string, cfg config.ASRConfig, log *slog.Logger) (Backend, error)

// Registry maps symbolic backend names to constructors. New backends can be
// added with Register without touching existing consumers.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Builtin returns a registry preloaded with the shipped backends.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register(BackendFasterWhisper, NewFasterWhisper)
	r.Register(BackendMLXWhisper, NewMLXWhisper)
	r.Register(BackendOpenAIWhisper, NewOpenAIWhisper)
	return r
}

func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = ctor
}

// Create instantiates a backend by name. Construction failures from the
// engine itself (missing binary, missing credential, bad model) are wrapped
// and propagated; they are fatal at startup.
func (r *Registry) Create(name, model string, cfg config.ASRConfig, log *slog.Logger) (Backend, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownBackend, name, r.Available())
	}
	backend, err := ctor(model, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("initialize %s backend: %w", name, err)
	}
	return backend, nil
}

// Available lists registered backend names in sorted order.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
