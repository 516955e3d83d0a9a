package producer

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// ProduceResult holds the result of an asynchronous production
type ProduceResult struct {
	Error error
}

// Producer publishes change records to a topic
type Producer interface {
	// PublishAsync sends a message asynchronously.
	// Returns a channel that receives the result when the write completes.
	PublishAsync(ctx context.Context, topic string, key, value []byte) <-chan ProduceResult

	// Close gracefully shuts down the producer
	Close() error
}

// KafkaProducer implements the Producer interface using kafka-go
type KafkaProducer struct {
	writer *kafka.Writer
}

// Config holds Kafka producer configuration
type Config struct {
	Brokers []string
}

// NewKafkaProducer creates a new KafkaProducer instance. The topic is set
// per message so one producer can feed every table's topic.
func NewKafkaProducer(cfg Config) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}

	return &KafkaProducer{
		writer: writer,
	}
}

// PublishAsync sends a message to Kafka asynchronously. Records with the
// same key land on the same partition and keep their order.
func (p *KafkaProducer) PublishAsync(ctx context.Context, topic string, key, value []byte) <-chan ProduceResult {
	resultChan := make(chan ProduceResult, 1)

	msg := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	}

	go func() {
		err := p.writer.WriteMessages(ctx, msg)
		resultChan <- ProduceResult{Error: err}
		close(resultChan)
	}()

	return resultChan
}

// Close gracefully shuts down the producer
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
