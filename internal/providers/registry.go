package providers

import (
	"sync"

	"github.com/ClareAI/astra-comms-core/internal/config"
	"github.com/ClareAI/astra-comms-core/internal/domain"
)

// Registry tracks configured drivers per capability and their runtime
// priority order. Priority order is admin-settable via
// PUT /providers/priority and persisted only in memory.
type Registry struct {
	mu       sync.RWMutex
	drivers  map[domain.ProviderKind]map[string]Driver
	priority map[domain.ProviderKind][]string
}

// NewRegistry builds an empty registry; drivers are registered with
// Register, priority order with SetPriority.
func NewRegistry() *Registry {
	return &Registry{
		drivers:  make(map[domain.ProviderKind]map[string]Driver),
		priority: make(map[domain.ProviderKind][]string),
	}
}

// Register adds a driver under a capability kind. Calling Register twice
// for the same (kind, name) replaces the existing driver.
func (r *Registry) Register(kind domain.ProviderKind, driver Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.drivers[kind] == nil {
		r.drivers[kind] = make(map[string]Driver)
	}
	r.drivers[kind][driver.Name()] = driver
}

// SetPriority swaps the priority-ordered candidate list for a kind under a
// lock; callers already mid-Route see the old list complete, never a
// half-swapped one (PUT /providers/priority).
func (r *Registry) SetPriority(kind domain.ProviderKind, names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := make([]string, len(names))
	copy(cp, names)
	r.priority[kind] = cp
}

// Priority returns a copy of the current priority list for a kind.
func (r *Registry) Priority(kind domain.ProviderKind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cp := make([]string, len(r.priority[kind]))
	copy(cp, r.priority[kind])
	return cp
}

// Driver looks up a registered driver by kind and name.
func (r *Registry) Driver(kind domain.ProviderKind, name string) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.drivers[kind][name]
	return d, ok
}

// candidates builds the de-duplicated candidate order: preferred first (if
// given and configured), then the configured priority list.
func (r *Registry) candidates(kind domain.ProviderKind, preferred string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string

	if preferred != "" {
		if _, ok := r.drivers[kind][preferred]; ok {
			out = append(out, preferred)
			seen[preferred] = true
		}
	}
	for _, name := range r.priority[kind] {
		if seen[name] {
			continue
		}
		if _, ok := r.drivers[kind][name]; !ok {
			continue
		}
		out = append(out, name)
		seen[name] = true
	}
	return out
}

// LoadFromConfig registers no drivers itself (that's left to cmd/server,
// which knows the concrete driver implementations) but seeds priority
// order straight from configuration.
func (r *Registry) LoadFromConfig(cfg *config.ProvidersConfig) {
	r.SetPriority(domain.ProviderKindASR, cfg.ASRPriority)
	r.SetPriority(domain.ProviderKindTTS, cfg.TTSPriority)
}
