package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/taskmesh/internal/domain"
	"github.com/mtlprog/taskmesh/internal/events"
)

type fakeStore struct {
	mu      sync.Mutex
	rows    map[string]*domain.OutboxEvent
	order   []string
	leaseOK bool
}

func newFakeStore(rows ...*domain.OutboxEvent) *fakeStore {
	s := &fakeStore{rows: make(map[string]*domain.OutboxEvent), leaseOK: true}
	for _, r := range rows {
		s.rows[r.ID] = r
		s.order = append(s.order, r.ID)
	}
	return s
}

func (s *fakeStore) Lease(_ context.Context, limit int, now time.Time, leaseTTL time.Duration) ([]*domain.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.leaseOK {
		return nil, errors.New("db down")
	}
	var out []*domain.OutboxEvent
	for _, id := range s.order {
		r := s.rows[id]
		if r.Status != domain.OutboxStatusPending || r.NextAttemptAt.After(now) {
			continue
		}
		r.NextAttemptAt = now.Add(leaseTTL)
		copied := *r
		out = append(out, &copied)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) MarkSent(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[id].Status = domain.OutboxStatusSent
	s.rows[id].SentAt = &now
	return nil
}

func (s *fakeStore) MarkRetry(_ context.Context, id string, attempts int, next time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rows[id]
	r.AttemptCount = attempts
	r.NextAttemptAt = next
	r.LastError = &lastError
	return nil
}

func (s *fakeStore) MarkDead(_ context.Context, id string, attempts int, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rows[id]
	r.Status = domain.OutboxStatusDead
	r.AttemptCount = attempts
	r.LastError = &lastError
	return nil
}

func (s *fakeStore) get(id string) domain.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.rows[id]
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []*events.Envelope
	err       error
}

func (p *recordingPublisher) Publish(_ context.Context, env *events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, env)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

var (
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
	t0      = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
)

func userEvent(t *testing.T) *domain.OutboxEvent {
	t.Helper()
	e, err := NewEvent(events.TopicUserCreated, events.UserPayload{
		ID: "u1", Email: "ann@example.com", Name: "Ann", CreatedAt: t0,
	}, t0)
	require.NoError(t, err)
	return e
}

func newTestDispatcher(store Store, pub *recordingPublisher, clock *time.Time) *Dispatcher {
	d := NewDispatcher(store, pub, Config{
		BatchSize:     10,
		MaxAttempts:   3,
		RetryBackoff:  time.Second,
		RetryMaxDelay: 3 * time.Second,
	}, discard)
	d.now = func() time.Time { return *clock }
	return d
}

func TestNewEvent_RejectsInvalidPayload(t *testing.T) {
	_, err := NewEvent(events.TopicUserCreated, events.UserPayload{ID: "u1"}, t0)
	assert.ErrorIs(t, err, events.ErrMalformed)
}

func TestRunOnce_PublishesAndMarksSent(t *testing.T) {
	event := userEvent(t)
	store := newFakeStore(event)
	pub := &recordingPublisher{}
	clock := t0
	d := newTestDispatcher(store, pub, &clock)

	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, pub.published, 1)
	env := pub.published[0]
	assert.Equal(t, event.ID, env.ID, "envelope keeps the outbox row id")
	assert.Equal(t, events.TopicUserCreated, env.Topic)
	assert.Equal(t, domain.OutboxStatusSent, store.get(event.ID).Status)

	n, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunOnce_RetriesThenDeadLetters(t *testing.T) {
	event := userEvent(t)
	store := newFakeStore(event)
	pub := &recordingPublisher{err: errors.New("broker unreachable")}
	clock := t0
	d := newTestDispatcher(store, pub, &clock)

	_, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	row := store.get(event.ID)
	assert.Equal(t, domain.OutboxStatusPending, row.Status)
	assert.Equal(t, 1, row.AttemptCount)
	assert.Equal(t, t0.Add(time.Second), row.NextAttemptAt)
	require.NotNil(t, row.LastError)
	assert.Equal(t, "broker unreachable", *row.LastError)

	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "not due before the backoff elapses")

	clock = t0.Add(time.Second)
	_, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	row = store.get(event.ID)
	assert.Equal(t, 2, row.AttemptCount)
	assert.Equal(t, clock.Add(2*time.Second), row.NextAttemptAt)

	clock = clock.Add(2 * time.Second)
	_, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	row = store.get(event.ID)
	assert.Equal(t, domain.OutboxStatusDead, row.Status)
	assert.Equal(t, 3, row.AttemptCount)
}

func TestRunOnce_LeaseError(t *testing.T) {
	store := newFakeStore()
	store.leaseOK = false
	clock := t0
	d := newTestDispatcher(store, &recordingPublisher{}, &clock)

	_, err := d.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestRetryDelayIsCapped(t *testing.T) {
	clock := t0
	d := newTestDispatcher(newFakeStore(), &recordingPublisher{}, &clock)

	assert.Equal(t, time.Second, d.retryDelay(1))
	assert.Equal(t, 2*time.Second, d.retryDelay(2))
	assert.Equal(t, 3*time.Second, d.retryDelay(3))
	assert.Equal(t, 3*time.Second, d.retryDelay(10))
}

func TestRun_WakeDispatchesImmediately(t *testing.T) {
	store := newFakeStore()
	pub := &recordingPublisher{}
	d := NewDispatcher(store, pub, Config{PollInterval: time.Hour}, discard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	event := userEvent(t)
	event.NextAttemptAt = time.Now().Add(-time.Second)
	store.mu.Lock()
	store.rows[event.ID] = event
	store.order = append(store.order, event.ID)
	store.mu.Unlock()

	assert.Eventually(t, func() bool {
		d.Wake()
		return pub.count() == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

type blockingPublisher struct{}

func (blockingPublisher) Publish(ctx context.Context, _ *events.Envelope) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestConfig_LeaseCoversWholeBatch(t *testing.T) {
	c := Config{BatchSize: 50, LeaseTTL: 30 * time.Second, PublishTimeout: 3 * time.Second}.normalized()
	assert.GreaterOrEqual(t, c.LeaseTTL, 50*c.PublishTimeout)

	c = Config{BatchSize: 2, LeaseTTL: time.Minute, PublishTimeout: time.Second}.normalized()
	assert.Equal(t, time.Minute, c.LeaseTTL)
}

func TestRunOnce_StalledPublishIsBounded(t *testing.T) {
	first, second := userEvent(t), userEvent(t)
	store := newFakeStore(first, second)
	d := NewDispatcher(store, blockingPublisher{}, Config{
		BatchSize:      10,
		MaxAttempts:    3,
		PublishTimeout: 20 * time.Millisecond,
	}, discard)
	clock := t0
	d.now = func() time.Time { return clock }

	start := time.Now()
	n, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Less(t, time.Since(start), d.config.LeaseTTL)

	for _, id := range []string{first.ID, second.ID} {
		row := store.get(id)
		assert.Equal(t, domain.OutboxStatusPending, row.Status)
		assert.Equal(t, 1, row.AttemptCount)
		require.NotNil(t, row.LastError)
	}
}
