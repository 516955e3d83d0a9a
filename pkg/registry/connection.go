package registry

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	// ErrQueueFull is returned by Enqueue when the client is not draining fast enough.
	ErrQueueFull = errors.New("connection queue full")
	// ErrClosed is returned by Enqueue after the connection was unregistered.
	ErrClosed = errors.New("connection closed")
)

// Identity is the authenticated player behind a connection.
// Ids are normalized strings so numeric and string ids compare equal.
type Identity struct {
	PlayerID  string
	FactionID string
}

// state is published atomically and never mutated after publication.
type state struct {
	identity *Identity
	topics   map[string]struct{}
}

// Connection is one live client socket as seen by the registry.
type Connection struct {
	id    string
	queue chan []byte

	// mu guards closed and the close of queue against concurrent Enqueue.
	mu     sync.RWMutex
	closed bool

	// update serializes copy-on-write state changes.
	update sync.Mutex
	state  atomic.Pointer[state]
}

// NewConnection creates an unauthenticated connection with an empty
// subscription set and an outbound queue of the given capacity.
func NewConnection(queueSize int) *Connection {
	if queueSize < 1 {
		queueSize = 1
	}
	c := &Connection{
		id:    uuid.NewString(),
		queue: make(chan []byte, queueSize),
	}
	c.state.Store(&state{topics: map[string]struct{}{}})
	return c
}

// ID returns the process-unique connection id.
func (c *Connection) ID() string { return c.id }

// Queue is drained by the connection's writer. It is closed on Close.
func (c *Connection) Queue() <-chan []byte { return c.queue }

// QueueCap returns the outbound queue capacity.
func (c *Connection) QueueCap() int { return cap(c.queue) }

// QueueLen returns the number of messages awaiting transmission.
func (c *Connection) QueueLen() int { return len(c.queue) }

// Enqueue adds msg without blocking. A full queue drops msg.
func (c *Connection) Enqueue(msg []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClosed
	}
	select {
	case c.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting messages and closes the queue. Safe to call twice.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.queue)
}

// Closed reports whether the connection was closed.
func (c *Connection) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Identity returns the authenticated identity, if any.
func (c *Connection) Identity() (Identity, bool) {
	s := c.state.Load()
	if s.identity == nil {
		return Identity{}, false
	}
	return *s.identity, true
}

// Subscribed reports whether topic is in the subscription set.
func (c *Connection) Subscribed(topic string) bool {
	_, ok := c.state.Load().topics[topic]
	return ok
}

// Topics returns the subscription set, sorted.
func (c *Connection) Topics() []string {
	return sortedTopics(c.state.Load().topics)
}

func (c *Connection) setIdentity(id Identity) {
	c.update.Lock()
	defer c.update.Unlock()

	cur := c.state.Load()
	c.state.Store(&state{identity: &id, topics: cur.topics})
}

func (c *Connection) addTopics(topics []string) {
	c.update.Lock()
	defer c.update.Unlock()

	cur := c.state.Load()
	next := make(map[string]struct{}, len(cur.topics)+len(topics))
	for t := range cur.topics {
		next[t] = struct{}{}
	}
	for _, t := range topics {
		if t != "" {
			next[t] = struct{}{}
		}
	}
	c.state.Store(&state{identity: cur.identity, topics: next})
}

func sortedTopics(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
