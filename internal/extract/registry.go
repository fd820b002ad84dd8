package extract

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps platform names to their extractors.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		extractors: make(map[string]Extractor),
	}
}

// Register adds an extractor under its platform name, replacing any
// previous registration for that platform.
func (r *Registry) Register(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[e.Platform()] = e
}

// Get returns the extractor for a platform.
func (r *Registry) Get(platform string) (Extractor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.extractors[platform]
	if !ok {
		return nil, fmt.Errorf("unsupported platform: %s (available: %v)", platform, r.platformNames())
	}
	return e, nil
}

// Platforms returns the registered platform names, sorted.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.platformNames()
}

func (r *Registry) platformNames() []string {
	names := make([]string, 0, len(r.extractors))
	for name := range r.extractors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
