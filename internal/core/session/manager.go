package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClareAI/astra-comms-core/pkg/logger"
	"github.com/ClareAI/astra-comms-core/pkg/redis"
	"go.uber.org/zap"
)

const (
	CleanupChannel   = "astra:comms:session:cleanup"
	SessionKeyPrefix = "astra:comms:session:info"
	SessionTTL       = 1 * time.Hour
)

// SessionInfo is the cross-pod registry record for one live call.
type SessionInfo struct {
	CallID    string    `json:"callId"`
	PodID     string    `json:"podId"`
	Purpose   string    `json:"purpose"`
	OrderID   string    `json:"orderId,omitempty"`
	StartTime time.Time `json:"startTime"`
}

// CleanupMessage is the teardown broadcast payload.
type CleanupMessage struct {
	CallID string `json:"callId"`
}

// Manager records live call sessions in a cross-pod Redis registry and
// broadcasts teardown for a call the receiving pod does not own locally.
// The registry is written and cleared here but not read back: GET /sessions
// serves the local Store only.
type Manager struct {
	redisSvc redis.RedisServiceInterface
	podID    string
}

func NewManager(redisSvc redis.RedisServiceInterface, podID string) *Manager {
	return &Manager{
		redisSvc: redisSvc,
		podID:    podID,
	}
}

// Register records a live call in the shared registry. The TTL backstops
// pods that die without unregistering.
func (m *Manager) Register(ctx context.Context, info SessionInfo) error {
	info.PodID = m.podID
	if info.StartTime.IsZero() {
		info.StartTime = time.Now()
	}

	data, _ := json.Marshal(info)
	key := fmt.Sprintf("%s:%s", SessionKeyPrefix, info.CallID)

	err := m.redisSvc.SetValue(ctx, key, string(data), SessionTTL)
	if err == nil {
		logger.Base().Debug("call registered cross-pod",
			zap.String("call_id", info.CallID), zap.String("pod_id", m.podID))
	}
	return err
}

// Unregister drops a finished call from the shared registry.
func (m *Manager) Unregister(ctx context.Context, callID string) error {
	key := fmt.Sprintf("%s:%s", SessionKeyPrefix, callID)
	return m.redisSvc.DelValue(ctx, key)
}

// NotifyCleanup asks every pod to drop local state for a call, used when
// the pod handling the teardown webhook is not the one holding the media
// bridge.
func (m *Manager) NotifyCleanup(ctx context.Context, callID string) error {
	return m.redisSvc.Publish(ctx, CleanupChannel, CleanupMessage{CallID: callID})
}

// SubscribeToCleanup runs handler for every cleanup broadcast, including
// this pod's own.
func (m *Manager) SubscribeToCleanup(ctx context.Context, handler func(callID string)) error {
	return m.redisSvc.Subscribe(ctx, CleanupChannel, func(payload string) {
		var msg CleanupMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			logger.Base().Error("malformed cleanup broadcast", zap.Error(err))
			return
		}
		handler(msg.CallID)
	})
}
