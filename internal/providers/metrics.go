package providers

import (
	"sync"

	"github.com/ClareAI/astra-comms-core/internal/domain"
)

// UsageSnapshot is one provider's counters plus the derived average, served
// at GET /stats.
type UsageSnapshot struct {
	domain.ProviderUsage
	AvgLatencyMs float64 `json:"avgLatencyMs"`
	InputBytes   int64   `json:"inputBytes"`
}

// Metrics accumulates per-provider usage: monotone request/failure counters,
// a latency sum, and total input size (bytes for audio, UTF-8 bytes for text).
type Metrics struct {
	mu    sync.Mutex
	usage map[string]*usageEntry
}

type usageEntry struct {
	domain.ProviderUsage
	inputBytes int64
}

func NewMetrics() *Metrics {
	return &Metrics{usage: make(map[string]*usageEntry)}
}

// Record counts one request against a provider. Failed requests still count
// toward Requests so a failed-then-failed-over route shows both attempts.
func (m *Metrics) Record(kind domain.ProviderKind, name string, latencyMs int64, inputSize int, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := string(kind) + "|" + name
	entry, ok := m.usage[key]
	if !ok {
		entry = &usageEntry{ProviderUsage: domain.ProviderUsage{Name: name, Kind: kind}}
		m.usage[key] = entry
	}

	entry.Requests++
	entry.LatencySumMs += latencyMs
	entry.inputBytes += int64(inputSize)
	if failed {
		entry.Failures++
	}
}

// Snapshot derives averages from the counters.
func (m *Metrics) Snapshot() []UsageSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]UsageSnapshot, 0, len(m.usage))
	for _, entry := range m.usage {
		snap := UsageSnapshot{ProviderUsage: entry.ProviderUsage, InputBytes: entry.inputBytes}
		if entry.Requests > 0 {
			snap.AvgLatencyMs = float64(entry.LatencySumMs) / float64(entry.Requests)
		}
		out = append(out, snap)
	}
	return out
}
