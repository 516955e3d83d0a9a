package producer

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisProducer publishes to pub/sub channels named after the topics.
// Keys are not used by pub/sub and are dropped.
type RedisProducer struct {
	client *redis.Client
}

// NewRedisProducer creates a new RedisProducer instance
func NewRedisProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{client: client}
}

// PublishAsync publishes value on the topic channel
func (p *RedisProducer) PublishAsync(ctx context.Context, topic string, _, value []byte) <-chan ProduceResult {
	resultChan := make(chan ProduceResult, 1)

	go func() {
		err := p.client.Publish(ctx, topic, value).Err()
		resultChan <- ProduceResult{Error: err}
		close(resultChan)
	}()

	return resultChan
}

// Close releases the redis client
func (p *RedisProducer) Close() error {
	return p.client.Close()
}
