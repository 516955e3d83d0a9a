package registry

import (
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterStartsUnauthenticated(t *testing.T) {
	r := New()
	c := NewConnection(4)
	r.Register(c)

	got, ok := r.Get(c.ID())
	require.True(t, ok)
	_, authed := got.Identity()
	assert.False(t, authed)
	assert.Empty(t, got.Topics())
	assert.Equal(t, 1, r.Count())
}

func TestAuthenticateAndSubscribe(t *testing.T) {
	r := New()
	c := NewConnection(4)
	r.Register(c)

	assert.True(t, r.Authenticate(c.ID(), Identity{PlayerID: "7", FactionID: "3"}))
	assert.True(t, r.Subscribe(c.ID(), []string{"combat_logs", "hospital_stays"}))
	assert.True(t, r.Subscribe(c.ID(), []string{"combat_logs"}))

	id, ok := c.Identity()
	require.True(t, ok)
	assert.Equal(t, Identity{PlayerID: "7", FactionID: "3"}, id)
	assert.Equal(t, []string{"combat_logs", "hospital_stays"}, c.Topics())
}

func TestOperationsOnUnknownConnectionAreNoops(t *testing.T) {
	r := New()
	c := NewConnection(4)
	r.Register(c)
	require.True(t, r.Unregister(c.ID()))

	assert.NotPanics(t, func() {
		assert.False(t, r.Authenticate(c.ID(), Identity{PlayerID: "1"}))
		assert.False(t, r.Subscribe(c.ID(), []string{"stock_prices"}))
		assert.False(t, r.Unregister(c.ID()))
	})
	assert.Equal(t, 0, r.Count())
}

func TestUnregisterClosesQueue(t *testing.T) {
	r := New()
	c := NewConnection(2)
	r.Register(c)
	require.NoError(t, c.Enqueue([]byte("a")))

	r.Unregister(c.ID())

	assert.True(t, c.Closed())
	assert.ErrorIs(t, c.Enqueue([]byte("b")), ErrClosed)
	// buffered message is still readable, then the channel reports closed
	<-c.Queue()
	_, open := <-c.Queue()
	assert.False(t, open)
	assert.NotPanics(t, c.Close)
}

func TestEnqueueDropsNewestWhenFull(t *testing.T) {
	c := NewConnection(2)
	require.NoError(t, c.Enqueue([]byte("1")))
	require.NoError(t, c.Enqueue([]byte("2")))
	assert.ErrorIs(t, c.Enqueue([]byte("3")), ErrQueueFull)

	assert.Equal(t, "1", string(<-c.Queue()))
	require.NoError(t, c.Enqueue([]byte("4")))
	assert.Equal(t, "2", string(<-c.Queue()))
	assert.Equal(t, "4", string(<-c.Queue()))
}

func TestSnapshotIsIsolatedFromLaterMutation(t *testing.T) {
	r := New()
	c := NewConnection(4)
	r.Register(c)
	r.Subscribe(c.ID(), []string{"stock_prices"})

	snap := r.Snapshot()
	r.Authenticate(c.ID(), Identity{PlayerID: "9"})
	r.Subscribe(c.ID(), []string{"cd_rates"})
	r.Register(NewConnection(4))

	require.Len(t, snap, 1)
	assert.False(t, snap[0].Authenticated())
	assert.True(t, snap[0].Subscribed("stock_prices"))
	assert.False(t, snap[0].Subscribed("cd_rates"))
	assert.Len(t, r.Snapshot(), 2)
}

func TestConcurrentRegistrationDuringSnapshots(t *testing.T) {
	const n = 200
	const cycles = 50

	r := New()
	var wg sync.WaitGroup
	ids := make([]string, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := NewConnection(4)
			ids[i] = c.ID()
			r.Register(c)
			r.Subscribe(c.ID(), []string{"combat_logs"})
			r.Authenticate(c.ID(), Identity{PlayerID: "p", FactionID: "f"})
		}(i)
	}
	for i := 0; i < cycles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, v := range r.Snapshot() {
				// identity is set after subscribe; a view may never show
				// an identity without the topic it was subscribed to first
				if v.Authenticated() && !v.Subscribed("combat_logs") {
					t.Errorf("torn view for %s", v.Conn.ID())
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, n, r.Count())
	for _, id := range ids {
		_, ok := r.Get(id)
		assert.True(t, ok)
	}
}

func TestSubscribeProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("subscription set is the union of all requests", prop.ForAll(
		func(first, second []string) bool {
			r := New()
			c := NewConnection(1)
			r.Register(c)
			r.Subscribe(c.ID(), first)
			r.Subscribe(c.ID(), second)
			r.Subscribe(c.ID(), first)

			want := map[string]struct{}{}
			for _, t := range append(append([]string{}, first...), second...) {
				want[t] = struct{}{}
			}
			got := c.Topics()
			if len(got) != len(want) {
				return false
			}
			for _, t := range got {
				if _, ok := want[t]; !ok {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Identifier()),
		gen.SliceOf(gen.Identifier()),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestNewView(t *testing.T) {
	v := NewView(&Identity{PlayerID: "1"}, "stock_prices")
	assert.True(t, v.Authenticated())
	assert.True(t, v.Subscribed("stock_prices"))
	assert.Equal(t, []string{"stock_prices"}, v.Topics())

	anon := NewView(nil)
	_, ok := anon.Identity()
	assert.False(t, ok)
}
