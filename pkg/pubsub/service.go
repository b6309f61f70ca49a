// Package pubsub is the production backend for the durable outbound queue:
// JSON envelopes on a Google Cloud Pub/Sub topic with per-order ordering
// keys, at-least-once.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"

	"github.com/ClareAI/astra-comms-core/pkg/logger"
	"go.uber.org/zap"
)

type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Envelope is the wire shape every outbound event is wrapped in. The
// CorrelationID ties the event back to log lines on this side.
type Envelope struct {
	ID            string          `json:"id"`
	CorrelationID string          `json:"correlationId"`
	OrderingKey   string          `json:"orderingKey"`
	PublishedAt   time.Time       `json:"publishedAt"`
	Payload       json.RawMessage `json:"payload"`
}

type PubSubService struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	config *PubSubConfig
}

func NewPubSubService(ctx context.Context, config *PubSubConfig) (*PubSubService, error) {
	if config.ProjectID == "" || config.TopicName == "" {
		return nil, fmt.Errorf("pubsub: project id and topic name are required")
	}

	client, err := pubsub.NewClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub: failed to create client: %w", err)
	}

	topic := client.Topic(config.TopicName)
	// Ordering keys only take effect when enabled on the topic handle;
	// per-order delivery order depends on it.
	topic.EnableMessageOrdering = true

	return &PubSubService{client: client, topic: topic, config: config}, nil
}

// Publish wraps the payload in an envelope and publishes it with the given
// ordering key. Blocks until the server acknowledges (at-least-once).
func (s *PubSubService) Publish(ctx context.Context, orderingKey string, payload []byte) error {
	envelope := Envelope{
		ID:            uuid.New().String(),
		CorrelationID: uuid.New().String(),
		OrderingKey:   orderingKey,
		PublishedAt:   time.Now().UTC(),
		Payload:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("pubsub: failed to marshal envelope: %w", err)
	}

	result := s.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: orderingKey,
	})

	id, err := result.Get(ctx)
	if err != nil {
		// A failed publish pauses the ordering key; resume so later events
		// for the same order are not silently stuck.
		s.topic.ResumePublish(orderingKey)
		logger.Base().Error("pubsub publish failed",
			zap.String("ordering_key", orderingKey),
			zap.String("envelope_id", envelope.ID),
			zap.Error(err))
		return err
	}

	logger.Base().Debug("pubsub event published",
		zap.String("message_id", id),
		zap.String("ordering_key", orderingKey),
		zap.String("envelope_id", envelope.ID))
	return nil
}

// Close flushes pending publishes and releases the client.
func (s *PubSubService) Close() error {
	s.topic.Stop()
	return s.client.Close()
}
