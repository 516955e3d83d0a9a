package changefeed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOpener subscribes to pub/sub channels named after the topics.
// The client is owned by the caller.
type RedisOpener struct {
	client *redis.Client
}

// NewRedisOpener creates a new RedisOpener instance
func NewRedisOpener(client *redis.Client) *RedisOpener {
	return &RedisOpener{client: client}
}

// Open subscribes and waits for the server to confirm the subscription.
func (o *RedisOpener) Open(ctx context.Context, topics []string) (Source, error) {
	ps := o.client.Subscribe(ctx, topics...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to redis channels: %w", err)
	}
	return &RedisSource{pubsub: ps}, nil
}

// RedisSource implements Source over a redis PubSub
type RedisSource struct {
	pubsub *redis.PubSub
}

// Fetch waits for the next published message until ctx's deadline.
func (s *RedisSource) Fetch(ctx context.Context) (Message, error) {
	for {
		timeout := time.Duration(0)
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
			if timeout <= 0 {
				return Message{}, ErrIdle
			}
		}

		msg, err := s.pubsub.ReceiveTimeout(ctx, timeout)
		if err != nil {
			if isTimeout(err) {
				return Message{}, ErrIdle
			}
			return Message{}, err
		}

		switch m := msg.(type) {
		case *redis.Message:
			return Message{Topic: m.Channel, Value: []byte(m.Payload)}, nil
		default:
			// subscription confirmations and pongs
			continue
		}
	}
}

// Commit is a no-op; pub/sub has no acknowledgements.
func (s *RedisSource) Commit(context.Context, Message) error {
	return nil
}

// Close unsubscribes and releases the pub/sub connection
func (s *RedisSource) Close() error {
	return s.pubsub.Close()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
