package changefeed

import (
	"context"
)

// Source is a live subscription to a set of broker topics
type Source interface {
	// Fetch blocks until the next message, ctx expiry, or a broker error.
	// Sources may return ErrIdle or ctx.Err() when the poll window elapses.
	Fetch(ctx context.Context) (Message, error)

	// Commit acknowledges a message once it has been dispatched
	Commit(ctx context.Context, msg Message) error

	// Close releases the subscription
	Close() error
}

// Opener subscribes to topics on the broker
type Opener interface {
	Open(ctx context.Context, topics []string) (Source, error)
}

// OpenerFunc adapts a function to Opener
type OpenerFunc func(ctx context.Context, topics []string) (Source, error)

// Open calls f
func (f OpenerFunc) Open(ctx context.Context, topics []string) (Source, error) {
	return f(ctx, topics)
}
