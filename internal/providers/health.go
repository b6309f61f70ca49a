package providers

import (
	"context"
	"sync"
	"time"

	"github.com/ClareAI/astra-comms-core/internal/domain"
	"github.com/ClareAI/astra-comms-core/pkg/logger"
	"go.uber.org/zap"
)

// probeTimeout bounds the active HTTP health probe for local drivers.
const probeTimeout = 5 * time.Second

// credentialed is implemented by cloud drivers, which are considered
// available iff their credential is configured (no active probe).
type credentialed interface {
	Configured() bool
}

// HealthCache keeps a per-(kind, driver) availability record with a fixed
// freshness window. An expired record triggers a fresh probe on next read;
// a failed probe or a failed route marks the driver unavailable for one
// full window.
type HealthCache struct {
	mu      sync.RWMutex
	records map[string]domain.ProviderHealth
	window  time.Duration
}

func NewHealthCache(window time.Duration) *HealthCache {
	if window <= 0 {
		window = 30 * time.Second
	}
	return &HealthCache{
		records: make(map[string]domain.ProviderHealth),
		window:  window,
	}
}

func healthKey(kind domain.ProviderKind, name string) string {
	return string(kind) + "|" + name
}

// Available reports whether the driver should be tried, probing first if
// the cached record is stale.
func (h *HealthCache) Available(ctx context.Context, kind domain.ProviderKind, driver Driver) bool {
	key := healthKey(kind, driver.Name())

	h.mu.RLock()
	rec, ok := h.records[key]
	h.mu.RUnlock()

	if ok && !rec.Stale(h.window) {
		return rec.Available
	}
	return h.probe(ctx, kind, driver)
}

// MarkUnhealthy pins the driver unavailable for one cache lifetime, used by
// the router after a transient failure.
func (h *HealthCache) MarkUnhealthy(kind domain.ProviderKind, name string, cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec := h.records[healthKey(kind, name)]
	rec.Name = name
	rec.Kind = kind
	rec.Available = false
	rec.LastCheckAt = time.Now()
	if cause != nil {
		rec.LastError = cause.Error()
	}
	h.records[healthKey(kind, name)] = rec
}

// MarkHealthy records a successful route and its observed latency.
func (h *HealthCache) MarkHealthy(kind domain.ProviderKind, name string, latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records[healthKey(kind, name)] = domain.ProviderHealth{
		Name:          name,
		Kind:          kind,
		Available:     true,
		LastLatencyMs: latency.Milliseconds(),
		LastCheckAt:   time.Now(),
	}
}

// Snapshot returns a copy of every health record, for GET /providers/health.
func (h *HealthCache) Snapshot() []domain.ProviderHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]domain.ProviderHealth, 0, len(h.records))
	for _, rec := range h.records {
		out = append(out, rec)
	}
	return out
}

// probe refreshes the record for a driver. Local drivers (HealthProber) do
// an HTTP check; cloud drivers are available iff their credential is set;
// anything else is assumed reachable until a route says otherwise.
func (h *HealthCache) probe(ctx context.Context, kind domain.ProviderKind, driver Driver) bool {
	start := time.Now()
	available := true
	var probeErr error

	switch d := driver.(type) {
	case HealthProber:
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		probeErr = d.Probe(probeCtx)
		cancel()
		available = probeErr == nil
	case credentialed:
		available = d.Configured()
	}

	rec := domain.ProviderHealth{
		Name:          driver.Name(),
		Kind:          kind,
		Available:     available,
		LastLatencyMs: time.Since(start).Milliseconds(),
		LastCheckAt:   time.Now(),
	}
	if probeErr != nil {
		rec.LastError = probeErr.Error()
		logger.Base().Warn("provider health probe failed",
			zap.String("provider", driver.Name()),
			zap.String("kind", string(kind)),
			zap.Error(probeErr))
	}

	h.mu.Lock()
	h.records[healthKey(kind, driver.Name())] = rec
	h.mu.Unlock()

	return available
}
