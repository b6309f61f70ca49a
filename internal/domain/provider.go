package domain

import "time"

// ProviderKind distinguishes speech-recognition from speech-synthesis drivers.
type ProviderKind string

const (
	ProviderKindASR ProviderKind = "asr"
	ProviderKindTTS ProviderKind = "tts"
)

// DriverResultStatus is the closed, sum-typed outcome of a driver call.
// Only Retryable triggers failover to the next candidate in the priority list.
type DriverResultStatus string

const (
	DriverResultOK        DriverResultStatus = "ok"
	DriverResultRetryable DriverResultStatus = "retryable"
	DriverResultFatal     DriverResultStatus = "fatal"
)

// ProviderHealth is a point-in-time snapshot of a single driver's
// reachability, refreshed on a 30s cadence (see providers.HealthCache).
type ProviderHealth struct {
	Name          string       `json:"name"`
	Kind          ProviderKind `json:"kind"`
	Available     bool         `json:"available"`
	LastLatencyMs int64        `json:"lastLatencyMs"`
	LastCheckAt   time.Time    `json:"lastCheckAt"`
	LastError     string       `json:"lastError,omitempty"`
}

// Stale reports whether the health record is older than the freshness window.
func (h ProviderHealth) Stale(window time.Duration) bool {
	return time.Since(h.LastCheckAt) > window
}

// ProviderUsage accumulates counters and latency for a single provider.
type ProviderUsage struct {
	Name         string       `json:"name"`
	Kind         ProviderKind `json:"kind"`
	Requests     int64        `json:"requests"`
	Failures     int64        `json:"failures"`
	LatencySumMs int64        `json:"latencySumMs"`
}
