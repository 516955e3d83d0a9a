package changefeed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gateway/pkg/logger"
	"gateway/pkg/retry"
)

type fakeSource struct {
	msgs    chan Message
	errs    chan error
	commits atomic.Int32
	closed  atomic.Bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{msgs: make(chan Message, 16), errs: make(chan error, 1)}
}

func (f *fakeSource) Fetch(ctx context.Context) (Message, error) {
	select {
	case m := <-f.msgs:
		return m, nil
	case err := <-f.errs:
		return Message{}, err
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (f *fakeSource) Commit(context.Context, Message) error {
	f.commits.Add(1)
	return nil
}

func (f *fakeSource) Close() error {
	f.closed.Store(true)
	return nil
}

type countingObserver struct {
	consumed atomic.Int64
	polls    atomic.Int64
	errors   atomic.Int64
}

func (o *countingObserver) RecordConsumed() { o.consumed.Add(1) }
func (o *countingObserver) RecordPoll()     { o.polls.Add(1) }
func (o *countingObserver) RecordError()    { o.errors.Add(1) }

type MockOpener struct{ mock.Mock }

func (m *MockOpener) Open(ctx context.Context, topics []string) (Source, error) {
	args := m.Called(ctx, topics)
	src, _ := args.Get(0).(Source)
	return src, args.Error(1)
}

func testConfig() Config {
	return Config{
		Topics:       []string{"combat_logs"},
		PollInterval: 20 * time.Millisecond,
		Backoff: retry.Options{
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Multiplier:      2,
		},
		StartupAttempts: 3,
	}
}

// sequenceOpener hands out sources in order
func sequenceOpener(sources ...*fakeSource) (Opener, *atomic.Int32) {
	var calls atomic.Int32
	return OpenerFunc(func(ctx context.Context, topics []string) (Source, error) {
		i := int(calls.Add(1)) - 1
		if i >= len(sources) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return sources[i], nil
	}), &calls
}

func collect() (Handler, func() []Record) {
	var mu sync.Mutex
	var got []Record
	return func(_ context.Context, rec Record) {
			mu.Lock()
			got = append(got, rec)
			mu.Unlock()
		}, func() []Record {
			mu.Lock()
			defer mu.Unlock()
			return append([]Record(nil), got...)
		}
}

func TestConsumerSkipsMalformedAndContinues(t *testing.T) {
	src := newFakeSource()
	opener, _ := sequenceOpener(src)
	obs := &countingObserver{}
	c := NewConsumer(testConfig(), opener, obs, logger.NewNop())

	src.msgs <- Message{Topic: "combat_logs", Value: []byte(`{"attacker_id":1}`)}
	src.msgs <- Message{Topic: "combat_logs", Value: []byte(`not json`)}
	src.msgs <- Message{Topic: "combat_logs", Value: nil}
	src.msgs <- Message{Topic: "combat_logs", Value: []byte(`{"attacker_id":2}`)}

	handle, got := collect()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- c.Run(ctx, handle) }()

	require.Eventually(t, func() bool { return len(got()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	recs := got()
	assert.Equal(t, `{"attacker_id":1}`, string(recs[0].Value))
	assert.Equal(t, `{"attacker_id":2}`, string(recs[1].Value))
	assert.Equal(t, int64(2), obs.consumed.Load())
	assert.Equal(t, int64(1), obs.errors.Load())
	assert.Equal(t, int32(4), src.commits.Load())
	assert.Equal(t, Disconnected, c.State())
	assert.True(t, src.closed.Load())
}

func TestConsumerReconnectsAfterBrokerError(t *testing.T) {
	first, second := newFakeSource(), newFakeSource()
	opener, calls := sequenceOpener(first, second)
	obs := &countingObserver{}
	c := NewConsumer(testConfig(), opener, obs, logger.NewNop())

	first.msgs <- Message{Topic: "combat_logs", Value: []byte(`{"n":1}`)}
	handle, got := collect()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error)
	go func() { done <- c.Run(ctx, handle) }()

	require.Eventually(t, func() bool { return len(got()) == 1 }, time.Second, 5*time.Millisecond)
	first.errs <- errors.New("broker connection reset")

	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	second.msgs <- Message{Topic: "combat_logs", Value: []byte(`{"n":2}`)}
	require.Eventually(t, func() bool { return len(got()) == 2 }, time.Second, 5*time.Millisecond)

	assert.True(t, first.closed.Load())
	assert.GreaterOrEqual(t, obs.errors.Load(), int64(1))

	cancel()
	require.NoError(t, <-done)
}

func TestConsumerIdlePollsRecordLiveness(t *testing.T) {
	src := newFakeSource()
	opener, _ := sequenceOpener(src)
	obs := &countingObserver{}
	c := NewConsumer(testConfig(), opener, obs, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- c.Run(ctx, func(context.Context, Record) {}) }()

	require.Eventually(t, func() bool { return obs.polls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Consuming, c.State())
	assert.Zero(t, obs.consumed.Load())
	assert.Zero(t, obs.errors.Load())

	cancel()
	require.NoError(t, <-done)
}

func TestConsumerStartFailsFast(t *testing.T) {
	mo := new(MockOpener)
	mo.On("Open", mock.Anything, []string{"combat_logs"}).Return(nil, errors.New("connection refused"))

	c := NewConsumer(testConfig(), mo, &countingObserver{}, logger.NewNop())
	err := c.Start(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	mo.AssertNumberOfCalls(t, "Open", 3)
	assert.Equal(t, Disconnected, c.State())
}

func TestConsumerStartThenRunUsesInitialSubscription(t *testing.T) {
	src := newFakeSource()
	mo := new(MockOpener)
	mo.On("Open", mock.Anything, mock.Anything).Return(src, nil).Once()

	c := NewConsumer(testConfig(), mo, &countingObserver{}, logger.NewNop())
	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, Subscribed, c.State())

	src.msgs <- Message{Topic: "combat_logs", Value: []byte(`{}`)}
	handle, got := collect()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- c.Run(ctx, handle) }()

	require.Eventually(t, func() bool { return len(got()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	mo.AssertNumberOfCalls(t, "Open", 1)
}

func TestConsumerPreservesOrder(t *testing.T) {
	src := newFakeSource()
	src.msgs = make(chan Message, 100)
	opener, _ := sequenceOpener(src)
	c := NewConsumer(testConfig(), opener, &countingObserver{}, logger.NewNop())

	for i := 0; i < 100; i++ {
		src.msgs <- Message{Topic: "combat_logs", Offset: int64(i), Value: []byte(`{"x":1}`)}
	}

	handle, got := collect()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- c.Run(ctx, handle) }()
	require.Eventually(t, func() bool { return len(got()) == 100 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	for i, rec := range got() {
		assert.Equal(t, int64(i), rec.Offset)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "consuming", Consuming.String())
	assert.Equal(t, "reconnecting", Reconnecting.String())
	assert.Equal(t, "state(42)", State(42).String())
}
