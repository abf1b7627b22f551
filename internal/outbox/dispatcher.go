// Package outbox relays events recorded in a producer's database to the
// broker.
//
// Producers write an outbox row in the same transaction as the state change,
// so an event is never published for a change that rolled back and never
// lost for one that committed. The Dispatcher leases due rows, publishes them
// and records the outcome; rows that keep failing are marked dead after
// MaxAttempts.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mtlprog/taskmesh/internal/broker"
	"github.com/mtlprog/taskmesh/internal/domain"
	"github.com/mtlprog/taskmesh/internal/events"
)

// Store persists outbox rows.
type Store interface {
	Lease(ctx context.Context, limit int, now time.Time, leaseTTL time.Duration) ([]*domain.OutboxEvent, error)
	MarkSent(ctx context.Context, id string, now time.Time) error
	MarkRetry(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string) error
	MarkDead(ctx context.Context, id string, attempts int, lastError string) error
}

// Config controls the dispatch loop.
type Config struct {
	BatchSize    int
	PollInterval time.Duration
	// LeaseTTL is raised to cover a whole batch of PublishTimeout-bounded
	// publishes, so a slow batch is never leased twice.
	LeaseTTL       time.Duration
	PublishTimeout time.Duration
	MaxAttempts    int
	RetryBackoff   time.Duration
	RetryMaxDelay  time.Duration
}

func (c Config) normalized() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 3 * time.Second
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 30 * time.Second
	}
	if minLease := time.Duration(c.BatchSize+1) * c.PublishTimeout; c.LeaseTTL < minLease {
		c.LeaseTTL = minLease
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 5 * time.Minute
	}
	return c
}

// NewEvent builds a pending outbox row for payload.
func NewEvent(topic string, payload any, occurredAt time.Time) (*domain.OutboxEvent, error) {
	if err := events.Validate(payload); err != nil {
		return nil, fmt.Errorf("%s payload: %w", topic, err)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	occurredAt = occurredAt.UTC()
	return &domain.OutboxEvent{
		ID:            uuid.NewString(),
		Topic:         topic,
		Payload:       raw,
		OccurredAt:    occurredAt,
		Status:        domain.OutboxStatusPending,
		NextAttemptAt: occurredAt,
		CreatedAt:     occurredAt,
	}, nil
}

// Envelope converts a row into the envelope published to the broker.
func Envelope(e *domain.OutboxEvent) *events.Envelope {
	return &events.Envelope{
		ID:         e.ID,
		Topic:      e.Topic,
		OccurredAt: e.OccurredAt,
		Payload:    e.Payload,
	}
}

// Dispatcher publishes leased outbox rows.
type Dispatcher struct {
	store     Store
	publisher broker.Publisher
	config    Config
	logger    *slog.Logger
	wake      chan struct{}
	now       func() time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(store Store, publisher broker.Publisher, config Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		config:    config.normalized(),
		logger:    logger.With("component", "outbox"),
		wake:      make(chan struct{}, 1),
		now:       time.Now,
	}
}

// Wake asks Run to dispatch immediately instead of waiting for the next poll.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run dispatches until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	d.logger.Info("outbox dispatcher started",
		"poll_interval", d.config.PollInterval,
		"batch_size", d.config.BatchSize,
	)

	for {
		for {
			n, err := d.RunOnce(ctx)
			if err != nil && ctx.Err() == nil {
				d.logger.Error("outbox dispatch failed", "error", err)
			}
			// A full batch usually means more rows are due.
			if err != nil || n < d.config.BatchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher stopped")
			return nil
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

// RunOnce leases one batch and publishes it. It returns the number of rows
// leased.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	now := d.now().UTC()
	leased, err := d.store.Lease(ctx, d.config.BatchSize, now, d.config.LeaseTTL)
	if err != nil {
		return 0, fmt.Errorf("lease outbox events: %w", err)
	}

	for _, event := range leased {
		if err := ctx.Err(); err != nil {
			return len(leased), err
		}
		d.dispatch(ctx, event)
	}
	return len(leased), nil
}

func (d *Dispatcher) dispatch(ctx context.Context, event *domain.OutboxEvent) {
	attempts := event.AttemptCount + 1
	logger := d.logger.With("event_id", event.ID, "topic", event.Topic, "attempt", attempts)

	pubCtx, cancel := context.WithTimeout(ctx, d.config.PublishTimeout)
	pubErr := d.publisher.Publish(pubCtx, Envelope(event))
	cancel()
	if pubErr == nil {
		if err := d.store.MarkSent(ctx, event.ID, d.now().UTC()); err != nil {
			logger.Error("failed to mark outbox event sent", "error", err)
		}
		return
	}

	if attempts >= d.config.MaxAttempts {
		logger.Error("outbox event dead-lettered", "error", pubErr)
		if err := d.store.MarkDead(ctx, event.ID, attempts, pubErr.Error()); err != nil {
			logger.Error("failed to mark outbox event dead", "error", err)
		}
		return
	}

	next := d.now().UTC().Add(d.retryDelay(attempts))
	logger.Warn("outbox publish failed, will retry", "error", pubErr, "next_attempt_at", next)
	if err := d.store.MarkRetry(ctx, event.ID, attempts, next, pubErr.Error()); err != nil {
		logger.Error("failed to schedule outbox retry", "error", err)
	}
}

func (d *Dispatcher) retryDelay(attempts int) time.Duration {
	delay := d.config.RetryBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= d.config.RetryMaxDelay {
			return d.config.RetryMaxDelay
		}
	}
	return delay
}
