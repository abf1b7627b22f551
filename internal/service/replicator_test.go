package service_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/taskmesh/internal/broker"
	"github.com/mtlprog/taskmesh/internal/domain"
	"github.com/mtlprog/taskmesh/internal/events"
	"github.com/mtlprog/taskmesh/internal/service"
)

type memoryUsers struct {
	rows map[string]domain.UserReadModel
}

func (m *memoryUsers) Upsert(_ context.Context, u *domain.UserReadModel) (bool, error) {
	if cur, ok := m.rows[u.ID]; ok && cur.SourceUpdatedAt.After(u.SourceUpdatedAt) {
		return false, nil
	}
	m.rows[u.ID] = *u
	return true, nil
}

func userEnvelope(t *testing.T, topic, name string, occurredAt time.Time) *events.Envelope {
	t.Helper()
	env, err := events.NewEnvelope(topic, events.UserPayload{
		ID:        "U1",
		Email:     "alice@example.com",
		Name:      name,
		CreatedAt: occurredAt,
	}, occurredAt)
	require.NoError(t, err)
	return env
}

func TestReplicator_CreatedTwiceKeepsOneRow(t *testing.T) {
	store := &memoryUsers{rows: map[string]domain.UserReadModel{}}
	r := service.NewReplicator(store, discard)

	env := userEnvelope(t, events.TopicUserCreated, "Alice", time.Now())
	require.NoError(t, r.HandleUser(context.Background(), env))
	require.NoError(t, r.HandleUser(context.Background(), env))

	require.Len(t, store.rows, 1)
	assert.Equal(t, "Alice", store.rows["U1"].Name)
	assert.True(t, env.OccurredAt.Equal(store.rows["U1"].SourceUpdatedAt))
}

func TestReplicator_StaleUpdateIgnored(t *testing.T) {
	store := &memoryUsers{rows: map[string]domain.UserReadModel{}}
	r := service.NewReplicator(store, discard)

	t0 := time.Now().Add(-time.Hour)
	require.NoError(t, r.HandleUser(context.Background(), userEnvelope(t, events.TopicUserCreated, "Alice", t0)))
	require.NoError(t, r.HandleUser(context.Background(), userEnvelope(t, events.TopicUserUpdated, "Alice B.", t0.Add(2*time.Minute))))
	require.NoError(t, r.HandleUser(context.Background(), userEnvelope(t, events.TopicUserUpdated, "Alice A.", t0.Add(time.Minute))))

	assert.Equal(t, "Alice B.", store.rows["U1"].Name)
}

func TestReplicator_MalformedPayload(t *testing.T) {
	store := &memoryUsers{rows: map[string]domain.UserReadModel{}}
	r := service.NewReplicator(store, discard)

	env := &events.Envelope{
		ID:         "e1",
		Topic:      events.TopicUserCreated,
		OccurredAt: time.Now(),
		Payload:    json.RawMessage(`{"id":"U1","email":"not-an-email","name":"Alice","createdAt":"2026-01-01T00:00:00Z"}`),
	}
	err := r.HandleUser(context.Background(), env)
	require.ErrorIs(t, err, events.ErrMalformed)
	assert.Empty(t, store.rows)
}

func TestReplicator_Register(t *testing.T) {
	mux := broker.NewMux()
	service.NewReplicator(&memoryUsers{rows: map[string]domain.UserReadModel{}}, discard).Register(mux)
	assert.Equal(t, []string{events.TopicUserCreated, events.TopicUserUpdated}, mux.Topics())
}
