// Package eventqueue is the durable outbound queue:
// events that must cross the process boundary are written here with
// at-least-once semantics and per-order ordering.
package eventqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ClareAI/astra-comms-core/pkg/logger"
	"github.com/ClareAI/astra-comms-core/pkg/redis"
	"go.uber.org/zap"
)

// DurableQueue is satisfied by both the Redis-list backend (local/dev) and
// pkg/pubsub.PubSubService (production). The ordering key is the order id;
// writes for the same key preserve submission order.
type DurableQueue interface {
	Publish(ctx context.Context, orderingKey string, payload []byte) error
}

// redisEnvelope mirrors the pubsub envelope shape so downstream consumers
// can read either backend with one decoder.
type redisEnvelope struct {
	ID          string          `json:"id"`
	OrderingKey string          `json:"orderingKey"`
	PublishedAt time.Time       `json:"publishedAt"`
	Payload     json.RawMessage `json:"payload"`
}

// RedisQueue is a single Redis list consumed FIFO. A single list keeps
// global submission order, which trivially preserves per-key order too.
type RedisQueue struct {
	redisSvc redis.RedisServiceInterface
	listKey  string
}

func NewRedisQueue(redisSvc redis.RedisServiceInterface, namespace string) *RedisQueue {
	if namespace == "" {
		namespace = "astra_comms"
	}
	return &RedisQueue{
		redisSvc: redisSvc,
		listKey:  redisSvc.GenerateKey(redis.KeyQueuePrefix, namespace+":outbound"),
	}
}

func (q *RedisQueue) Publish(ctx context.Context, orderingKey string, payload []byte) error {
	data, err := json.Marshal(redisEnvelope{
		ID:          uuid.New().String(),
		OrderingKey: orderingKey,
		PublishedAt: time.Now().UTC(),
		Payload:     payload,
	})
	if err != nil {
		return err
	}
	if err := q.redisSvc.LPush(ctx, q.listKey, string(data)); err != nil {
		logger.Base().Error("durable queue write failed",
			zap.String("ordering_key", orderingKey), zap.Error(err))
		return err
	}
	return nil
}

// Consume blocks for the next queued envelope, for the external-delivery
// worker. Returns redis.ErrKeyNotExist when the wait times out empty.
func (q *RedisQueue) Consume(ctx context.Context, timeout time.Duration) (string, []byte, error) {
	raw, err := q.redisSvc.BRPop(ctx, q.listKey, timeout)
	if err != nil {
		return "", nil, err
	}
	var env redisEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return "", nil, err
	}
	return env.OrderingKey, env.Payload, nil
}

// NopQueue drops everything; used in tests and when no queue backend is
// configured in development.
type NopQueue struct{}

func (NopQueue) Publish(ctx context.Context, orderingKey string, payload []byte) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}
