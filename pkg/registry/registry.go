package registry

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// Registry tracks every open client connection and its authorization state.
// All methods are safe for concurrent use.
type Registry struct {
	conns *xsync.MapOf[string, *Connection]
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{conns: xsync.NewMapOf[string, *Connection]()}
}

// Register adds a connection in whatever state it currently holds,
// normally unauthenticated with no subscriptions.
func (r *Registry) Register(c *Connection) {
	r.conns.Store(c.ID(), c)
}

// Authenticate attaches an identity to a registered connection.
// It returns false, and does nothing, if the connection is gone.
func (r *Registry) Authenticate(connID string, id Identity) bool {
	c, ok := r.conns.Load(connID)
	if !ok {
		return false
	}
	c.setIdentity(id)
	return true
}

// Subscribe unions topics into the connection's subscription set.
// It returns false if the connection is gone.
func (r *Registry) Subscribe(connID string, topics []string) bool {
	c, ok := r.conns.Load(connID)
	if !ok {
		return false
	}
	c.addTopics(topics)
	return true
}

// Unregister removes the connection and closes its queue. In-flight
// deliveries to it fail with ErrClosed and are dropped.
func (r *Registry) Unregister(connID string) bool {
	c, ok := r.conns.LoadAndDelete(connID)
	if !ok {
		return false
	}
	c.Close()
	return true
}

// Get returns a registered connection.
func (r *Registry) Get(connID string) (*Connection, bool) {
	return r.conns.Load(connID)
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	return r.conns.Size()
}

// Snapshot returns a point-in-time view of all connections. Each view pins
// the connection's state as it was when read, so later Authenticate or
// Subscribe calls do not affect an iteration already in progress.
func (r *Registry) Snapshot() Snapshot {
	views := make(Snapshot, 0, r.conns.Size())
	r.conns.Range(func(_ string, c *Connection) bool {
		views = append(views, View{Conn: c, state: c.state.Load()})
		return true
	})
	return views
}

// Snapshot is an immutable list of connection views.
type Snapshot []View

// View is a read-only copy of one connection's state.
type View struct {
	Conn  *Connection
	state *state
}

// Identity returns the identity captured in the view.
func (v View) Identity() (Identity, bool) {
	if v.state.identity == nil {
		return Identity{}, false
	}
	return *v.state.identity, true
}

// Authenticated reports whether the view carries an identity.
func (v View) Authenticated() bool {
	return v.state.identity != nil
}

// Subscribed reports whether topic was subscribed when the view was taken.
func (v View) Subscribed(topic string) bool {
	_, ok := v.state.topics[topic]
	return ok
}

// Topics returns the captured subscription set, sorted.
func (v View) Topics() []string {
	return sortedTopics(v.state.topics)
}

// NewView builds a detached view. Used to evaluate routing decisions
// without a live registry entry.
func NewView(identity *Identity, topics ...string) View {
	s := &state{topics: make(map[string]struct{}, len(topics))}
	if identity != nil {
		id := *identity
		s.identity = &id
	}
	for _, t := range topics {
		s.topics[t] = struct{}{}
	}
	return View{state: s}
}
