package telephony

import (
	"sync"

	"github.com/ClareAI/astra-comms-core/pkg/logger"
	"go.uber.org/zap"
)

// StreamRegistry tracks the live media bridge per call and adapts it to the
// orchestrator's audio sink: Play queues a clip, Interrupt flushes it.
type StreamRegistry struct {
	mu      sync.RWMutex
	bridges map[string]*StreamBridge
}

func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{bridges: make(map[string]*StreamBridge)}
}

// Register attaches a bridge for a call, closing any bridge it replaces.
func (r *StreamRegistry) Register(callID string, bridge *StreamBridge) {
	r.mu.Lock()
	old := r.bridges[callID]
	r.bridges[callID] = bridge
	r.mu.Unlock()

	if old != nil {
		logger.Base().Warn("replacing existing media bridge", zap.String("call_id", callID))
		old.Close()
	}
}

// Unregister detaches the bridge if it is still the current one.
func (r *StreamRegistry) Unregister(callID string, bridge *StreamBridge) {
	r.mu.Lock()
	if r.bridges[callID] == bridge {
		delete(r.bridges, callID)
	}
	r.mu.Unlock()
}

// Play queues a synthesized clip onto the call's stream. Returns false when
// no stream is attached.
func (r *StreamRegistry) Play(callID string, audio []byte, mark string) bool {
	r.mu.RLock()
	bridge, ok := r.bridges[callID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	bridge.EnqueueClip(audio, mark)
	return true
}

// Interrupt drops all queued outbound audio for a call (barge-in).
func (r *StreamRegistry) Interrupt(callID string) {
	r.mu.RLock()
	bridge, ok := r.bridges[callID]
	r.mu.RUnlock()
	if ok {
		bridge.ClearOutbound()
	}
}

// Close tears down the bridge for a call, if any.
func (r *StreamRegistry) Close(callID string) {
	r.mu.Lock()
	bridge, ok := r.bridges[callID]
	if ok {
		delete(r.bridges, callID)
	}
	r.mu.Unlock()
	if ok {
		bridge.Close()
	}
}
