package dsr

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"custodia/internal/platform/kafka/producer"
)

// taskEnvelope is the wire format on the processing topic. The request id is
// also the partition key so retries of one request stay ordered.
type taskEnvelope struct {
	RequestID   string `json:"request_id"`
	RequestType string `json:"request_type"`
}

// KafkaDispatcher enqueues processing tasks on a Kafka topic for the worker
// pool. Produce is synchronous with acks from all replicas, so a returned nil
// means the task is durable.
type KafkaDispatcher struct {
	producer *producer.Producer
	topic    string
}

// NewKafkaDispatcher creates the dispatcher.
func NewKafkaDispatcher(p *producer.Producer, topic string) *KafkaDispatcher {
	return &KafkaDispatcher{producer: p, topic: topic}
}

func (d *KafkaDispatcher) Enqueue(ctx context.Context, requestID uuid.UUID, requestType Type) error {
	payload, err := json.Marshal(taskEnvelope{
		RequestID:   requestID.String(),
		RequestType: string(requestType),
	})
	if err != nil {
		return fmt.Errorf("marshal processing task: %w", err)
	}
	if err := d.producer.Produce(ctx, &producer.Message{
		Topic: d.topic,
		Key:   []byte(requestID.String()),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("enqueue processing task: %w", err)
	}
	return nil
}
