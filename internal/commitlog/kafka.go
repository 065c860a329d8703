package commitlog

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/searchlite/searchlite/pkg/kafka"
	"github.com/searchlite/searchlite/pkg/resilience"
)

// KafkaSink publishes each commit's mutations to a Kafka topic, one event
// per mutated document, keyed by document id so a partition sees every
// mutation of a document in order.
//
// Publish runs while the engine's write lock is held, so a broker outage
// must not stall every mutation for a full write timeout: a circuit breaker
// fails fast once the broker has proven unreachable.
type KafkaSink struct {
	producer *kafka.Producer
	breaker  *resilience.CircuitBreaker
	timeout  time.Duration
}

// NewKafkaSink wraps an existing producer. timeout bounds each publish
// attempt; zero disables the bound.
func NewKafkaSink(producer *kafka.Producer, timeout time.Duration) *KafkaSink {
	return &KafkaSink{
		producer: producer,
		breaker:  resilience.NewCircuitBreaker("kafka-commit-sink", resilience.CircuitBreakerConfig{}),
		timeout:  timeout,
	}
}

func (s *KafkaSink) Publish(ctx context.Context, batch Batch) error {
	events := make([]kafka.Event, 0, len(batch.Mutations))
	for _, mut := range batch.Mutations {
		events = append(events, kafka.Event{
			Key:   strconv.FormatInt(mut.DocID, 10),
			Value: mut,
		})
	}
	err := s.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, s.timeout, "kafka publish", func(ctx context.Context) error {
			return s.producer.PublishBatch(ctx, events)
		})
	})
	if err != nil {
		return fmt.Errorf("publishing commit batch: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.producer.Close()
}
