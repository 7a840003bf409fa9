//go:build integration

package dsr_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/internal/dsr"
	"custodia/internal/platform/kafka"
	"custodia/internal/platform/kafka/consumer"
	"custodia/internal/platform/kafka/producer"
	"custodia/pkg/testutil/containers"
)

type recordingProcessor struct {
	mu      sync.Mutex
	access  []uuid.UUID
	erasure []uuid.UUID
}

func (p *recordingProcessor) ProcessAccess(_ context.Context, id uuid.UUID) (*dsr.Request, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.access = append(p.access, id)
	return &dsr.Request{ID: id}, nil
}

func (p *recordingProcessor) ProcessErasure(_ context.Context, id uuid.UUID) (*dsr.Request, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.erasure = append(p.erasure, id)
	return &dsr.Request{ID: id}, nil
}

func (p *recordingProcessor) calls() (access, erasure []uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uuid.UUID(nil), p.access...), append([]uuid.UUID(nil), p.erasure...)
}

// TestKafkaDispatchRoundTrip enqueues tasks through the dispatcher and
// verifies the consumer-side worker processes them.
func TestKafkaDispatchRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	broker := containers.NewRedpandaContainer(t)
	logger := slog.New(slog.DiscardHandler)

	const topic = "compliance.dsr.process.test"
	require.NoError(t, kafka.EnsureTopics(ctx, broker.Brokers, topic))

	kafkaProducer, err := producer.New(producer.Config{Brokers: broker.Brokers, Retries: 5}, logger)
	require.NoError(t, err)
	defer kafkaProducer.Close()

	processor := &recordingProcessor{}
	kafkaConsumer, err := consumer.New(consumer.Config{
		Brokers: broker.Brokers,
		GroupID: "custodia-dsr-test",
		Topics:  []string{topic},
	}, dsr.NewWorker(processor, logger), logger)
	require.NoError(t, err)
	kafkaConsumer.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = kafkaConsumer.Stop(stopCtx)
	}()

	dispatcher := dsr.NewKafkaDispatcher(kafkaProducer, topic)
	accessID := uuid.New()
	erasureID := uuid.New()
	require.NoError(t, dispatcher.Enqueue(ctx, accessID, dsr.TypeAccess))
	require.NoError(t, dispatcher.Enqueue(ctx, erasureID, dsr.TypeErasure))

	require.Eventually(t, func() bool {
		access, erasure := processor.calls()
		return len(access) >= 1 && len(erasure) >= 1
	}, 30*time.Second, 100*time.Millisecond, "worker should process both tasks")

	access, erasure := processor.calls()
	assert.Contains(t, access, accessID)
	assert.Contains(t, erasure, erasureID)
}
