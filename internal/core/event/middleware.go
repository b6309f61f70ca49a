package event

import (
	"fmt"
	"sync"
	"time"

	"github.com/ClareAI/astra-comms-core/pkg/logger"
	"go.uber.org/zap"
)

// LoggingMiddleware traces every delivered event with its outcome and
// handler latency.
func LoggingMiddleware(next EventHandler) EventHandler {
	return func(event *Event) {
		start := time.Now()

		defer func() {
			if event.IsError() {
				logger.Base().Error("event handler failed",
					zap.String("type", string(event.Type)),
					zap.String("call_id", event.CallID),
					zap.Error(event.Error))
			} else {
				logger.Base().Debug("event handled",
					zap.String("type", string(event.Type)),
					zap.String("call_id", event.CallID),
					zap.Duration("duration", time.Since(start)))
			}
		}()

		next(event)
	}
}

// RecoveryMiddleware keeps a panicking subscriber from taking the
// publishing goroutine down with it.
func RecoveryMiddleware(next EventHandler) EventHandler {
	return func(event *Event) {
		defer func() {
			if r := recover(); r != nil {
				logger.Base().Error("panic in event handler",
					zap.String("type", string(event.Type)),
					zap.String("call_id", event.CallID),
					zap.Any("panic", r))
			}
		}()

		next(event)
	}
}

// TimeoutMiddleware bounds a handler beyond the bus's per-subscription
// deadline, for handlers known to call out.
func TimeoutMiddleware(timeout time.Duration) EventMiddleware {
	return func(next EventHandler) EventHandler {
		return func(event *Event) {
			done := make(chan struct{})

			go func() {
				defer close(done)
				next(event)
			}()

			select {
			case <-done:
			case <-time.After(timeout):
				logger.Base().Warn("event handler timed out",
					zap.String("type", string(event.Type)),
					zap.String("call_id", event.CallID),
					zap.Duration("timeout", timeout))
			}
		}
	}
}

// DeduplicationMiddleware drops repeats of the same (type, callId) within
// a window — the in-process counterpart to the keypad-sequence dedup the
// gateway does at the HTTP layer.
func DeduplicationMiddleware(window time.Duration) EventMiddleware {
	var mu sync.Mutex
	lastSeen := make(map[string]time.Time)

	return func(next EventHandler) EventHandler {
		return func(event *Event) {
			key := fmt.Sprintf("%s:%s", event.Type, event.CallID)
			now := time.Now()

			mu.Lock()
			if seen, ok := lastSeen[key]; ok && now.Sub(seen) < window {
				mu.Unlock()
				logger.Base().Debug("duplicate event suppressed",
					zap.String("type", string(event.Type)),
					zap.String("call_id", event.CallID))
				return
			}
			lastSeen[key] = now
			// opportunistic sweep so the map does not grow with call churn
			if len(lastSeen) > 4096 {
				for k, v := range lastSeen {
					if now.Sub(v) > window {
						delete(lastSeen, k)
					}
				}
			}
			mu.Unlock()

			next(event)
		}
	}
}
