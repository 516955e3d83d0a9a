package changefeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds Kafka consumer configuration
type KafkaConfig struct {
	Brokers []string
	GroupID string
	// DialTimeout bounds the broker reachability check in Open
	DialTimeout time.Duration
}

// KafkaOpener opens consumer-group readers over the instance topics
type KafkaOpener struct {
	cfg KafkaConfig
}

// NewKafkaOpener creates a new KafkaOpener instance
func NewKafkaOpener(cfg KafkaConfig) *KafkaOpener {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return &KafkaOpener{cfg: cfg}
}

// Open verifies that a broker is reachable and starts a group reader.
func (o *KafkaOpener) Open(ctx context.Context, topics []string) (Source, error) {
	if len(o.cfg.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	if err := o.ping(ctx); err != nil {
		return nil, err
	}

	reader := kafka.NewReader(o.readerConfig(topics))
	return &KafkaSource{reader: reader}, nil
}

func (o *KafkaOpener) readerConfig(topics []string) kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:        o.cfg.Brokers,
		GroupID:        o.cfg.GroupID,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        500 * time.Millisecond,
		// offsets are flushed in the background; CommitMessages only marks them
		CommitInterval: time.Second,
		// a fresh group starts at the head; the gateway does not backfill
		StartOffset:    kafka.LastOffset,
	}
}

func (o *KafkaOpener) ping(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, o.cfg.DialTimeout)
	defer cancel()

	var lastErr error
	for _, broker := range o.cfg.Brokers {
		conn, err := kafka.DialContext(dialCtx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return fmt.Errorf("failed to reach kafka brokers: %w", lastErr)
}

// KafkaSource implements Source using a kafka-go group reader
type KafkaSource struct {
	reader *kafka.Reader
}

// Fetch returns the next message. A poll window that elapses surfaces as
// the context error.
func (s *KafkaSource) Fetch(ctx context.Context) (Message, error) {
	m, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Topic:     m.Topic,
		Key:       m.Key,
		Value:     m.Value,
		Partition: m.Partition,
		Offset:    m.Offset,
		ack:       m,
	}, nil
}

// Commit commits the offset for a message
func (s *KafkaSource) Commit(ctx context.Context, msg Message) error {
	raw, ok := msg.ack.(kafka.Message)
	if !ok {
		return nil
	}
	return s.reader.CommitMessages(ctx, raw)
}

// Close gracefully shuts down the reader
func (s *KafkaSource) Close() error {
	return s.reader.Close()
}
