package broker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/taskmesh/internal/broker"
	"github.com/mtlprog/taskmesh/internal/domain"
	"github.com/mtlprog/taskmesh/internal/events"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func envelope(t *testing.T, topic string) *events.Envelope {
	t.Helper()
	env, err := events.NewEnvelope(topic, map[string]string{"id": "x"}, time.Now())
	require.NoError(t, err)
	return env
}

func consume(t *testing.T, b broker.Subscriber, q broker.Queue, h broker.Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Consume(ctx, q, h)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestSettle(t *testing.T) {
	transient := errors.New("db down")
	malformed := errors.Join(events.ErrMalformed, errors.New("bad"))

	assert.Equal(t, broker.OutcomeAck, broker.Settle(nil, false))
	assert.Equal(t, broker.OutcomeRequeue, broker.Settle(transient, false))
	assert.Equal(t, broker.OutcomeDeadLetter, broker.Settle(transient, true))
	assert.Equal(t, broker.OutcomeDeadLetter, broker.Settle(malformed, false))
}

func TestMemory_RoutesByTopic(t *testing.T) {
	ctx := context.Background()
	b := broker.NewMemory(discard)
	defer b.Close()

	tasks := broker.Queue{Name: "tasks", Topics: []string{events.TopicTaskCreated}}
	users := broker.Queue{Name: "users", Topics: []string{events.TopicUserCreated}}
	require.NoError(t, b.Declare(ctx, tasks))
	require.NoError(t, b.Declare(ctx, users))

	require.NoError(t, b.Publish(ctx, envelope(t, events.TopicTaskCreated)))
	require.NoError(t, b.Publish(ctx, envelope(t, events.TopicTaskCreated)))
	require.NoError(t, b.Publish(ctx, envelope(t, events.TopicCommentNew)))

	assert.Equal(t, 2, b.Pending("tasks"))
	assert.Equal(t, 0, b.Pending("users"))
}

func TestMemory_KeepsMessagesUntilConsumerAttaches(t *testing.T) {
	ctx := context.Background()
	b := broker.NewMemory(discard)
	defer b.Close()

	q := broker.Queue{Name: "notifications", Topics: []string{events.TopicTaskCreated}}
	require.NoError(t, b.Declare(ctx, q))

	sent := envelope(t, events.TopicTaskCreated)
	require.NoError(t, b.Publish(ctx, sent))

	received := make(chan *events.Envelope, 1)
	consume(t, b, q, func(_ context.Context, env *events.Envelope) error {
		received <- env
		return nil
	})

	select {
	case got := <-received:
		assert.Equal(t, sent.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestMemory_MalformedIsQuarantinedWithoutRetry(t *testing.T) {
	ctx := context.Background()
	b := broker.NewMemory(discard)
	defer b.Close()

	q := broker.Queue{Name: "q", Topics: []string{events.TopicTaskCreated}}
	var calls atomic.Int32
	consume(t, b, q, func(context.Context, *events.Envelope) error {
		calls.Add(1)
		return events.ErrMalformed
	})

	require.NoError(t, b.Publish(ctx, envelope(t, events.TopicTaskCreated)))

	assert.Eventually(t, func() bool { return len(b.DeadLetters("q")) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMemory_TransientFailureRetriedOnceThenQuarantined(t *testing.T) {
	ctx := context.Background()
	b := broker.NewMemory(discard)
	defer b.Close()

	q := broker.Queue{Name: "q", Topics: []string{events.TopicTaskCreated}}
	var calls atomic.Int32
	consume(t, b, q, func(context.Context, *events.Envelope) error {
		calls.Add(1)
		return errors.New("database unavailable")
	})

	require.NoError(t, b.Publish(ctx, envelope(t, events.TopicTaskCreated)))

	assert.Eventually(t, func() bool { return len(b.DeadLetters("q")) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestMemory_TransientFailureRecovers(t *testing.T) {
	ctx := context.Background()
	b := broker.NewMemory(discard)
	defer b.Close()

	q := broker.Queue{Name: "q", Topics: []string{events.TopicTaskCreated}}
	var calls atomic.Int32
	consume(t, b, q, func(context.Context, *events.Envelope) error {
		if calls.Add(1) == 1 {
			return errors.New("blip")
		}
		return nil
	})

	require.NoError(t, b.Publish(ctx, envelope(t, events.TopicTaskCreated)))

	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, b.DeadLetters("q"))
}

func TestMemory_HandlesSequentially(t *testing.T) {
	ctx := context.Background()
	b := broker.NewMemory(discard)
	defer b.Close()

	q := broker.Queue{Name: "q", Topics: []string{events.TopicTaskUpdated}}
	require.NoError(t, b.Declare(ctx, q))

	var sent []string
	for range 5 {
		env := envelope(t, events.TopicTaskUpdated)
		sent = append(sent, env.ID)
		require.NoError(t, b.Publish(ctx, env))
	}

	var (
		mu       sync.Mutex
		got      []string
		inFlight atomic.Int32
		overlap  atomic.Bool
	)
	consume(t, b, q, func(_ context.Context, env *events.Envelope) error {
		if inFlight.Add(1) > 1 {
			overlap.Store(true)
		}
		defer inFlight.Add(-1)
		time.Sleep(time.Millisecond)
		mu.Lock()
		got = append(got, env.ID)
		mu.Unlock()
		return nil
	})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(sent)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, sent, got)
	assert.False(t, overlap.Load())
}

func TestMemory_Closed(t *testing.T) {
	b := broker.NewMemory(discard)
	require.NoError(t, b.Close())

	err := b.Publish(context.Background(), envelope(t, events.TopicTaskCreated))
	assert.ErrorIs(t, err, broker.ErrClosed)
}

type flakyPublisher struct {
	failures int
	calls    int
	err      error
}

func (p *flakyPublisher) Publish(context.Context, *events.Envelope) error {
	p.calls++
	if p.calls <= p.failures {
		return p.err
	}
	return nil
}

func fastEmitterConfig(tries uint) broker.EmitterConfig {
	return broker.EmitterConfig{MaxTries: tries, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestEmitter_RetriesUntilSuccess(t *testing.T) {
	pub := &flakyPublisher{failures: 2, err: errors.New("connection reset")}
	emitter := broker.NewEmitter(pub, fastEmitterConfig(3), discard)

	env, err := emitter.Emit(context.Background(), events.TopicTaskCreated, map[string]string{"id": "t1"})
	require.NoError(t, err)
	assert.Equal(t, events.TopicTaskCreated, env.Topic)
	assert.Equal(t, 3, pub.calls)
}

func TestEmitter_DeliveryError(t *testing.T) {
	pub := &flakyPublisher{failures: 10, err: errors.New("connection refused")}
	emitter := broker.NewEmitter(pub, fastEmitterConfig(3), discard)

	_, err := emitter.Emit(context.Background(), events.TopicTaskCreated, map[string]string{"id": "t1"})
	assert.ErrorIs(t, err, domain.ErrDelivery)
	assert.Equal(t, 3, pub.calls)
}

func TestEmitter_ClosedBrokerIsNotRetried(t *testing.T) {
	pub := &flakyPublisher{failures: 10, err: broker.ErrClosed}
	emitter := broker.NewEmitter(pub, fastEmitterConfig(5), discard)

	_, err := emitter.Emit(context.Background(), events.TopicTaskCreated, map[string]string{"id": "t1"})
	assert.ErrorIs(t, err, domain.ErrDelivery)
	assert.Equal(t, 1, pub.calls)
}

func TestMux(t *testing.T) {
	mux := broker.NewMux()
	var hit string
	mux.Handle(events.TopicTaskUpdated, func(context.Context, *events.Envelope) error {
		hit = events.TopicTaskUpdated
		return nil
	})
	mux.Handle(events.TopicCommentNew, func(context.Context, *events.Envelope) error {
		hit = events.TopicCommentNew
		return nil
	})

	assert.Equal(t, []string{events.TopicCommentNew, events.TopicTaskUpdated}, mux.Topics())
	assert.Equal(t, broker.Queue{Name: "n", Topics: mux.Topics()}, mux.Queue("n"))

	require.NoError(t, mux.Dispatch(context.Background(), envelope(t, events.TopicCommentNew)))
	assert.Equal(t, events.TopicCommentNew, hit)

	err := mux.Dispatch(context.Background(), envelope(t, events.TopicUserCreated))
	assert.ErrorIs(t, err, events.ErrMalformed)
}
