package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mtlprog/taskmesh/internal/domain"
	"github.com/mtlprog/taskmesh/internal/events"
)

// EmitterConfig controls publish retries.
type EmitterConfig struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultEmitterConfig returns conservative retry settings.
func DefaultEmitterConfig() EmitterConfig {
	return EmitterConfig{
		MaxTries:        4,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Emitter is the outbound publisher used by producers. It is safe for
// concurrent use; there is no ordering between unrelated calls.
type Emitter struct {
	publisher Publisher
	config    EmitterConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewEmitter creates an Emitter on top of a Publisher.
func NewEmitter(publisher Publisher, config EmitterConfig, logger *slog.Logger) *Emitter {
	if config.MaxTries == 0 {
		config.MaxTries = 1
	}
	return &Emitter{
		publisher: publisher,
		config:    config,
		logger:    logger.With("component", "emitter"),
		now:       time.Now,
	}
}

// Emit wraps payload in a new envelope and publishes it.
func (e *Emitter) Emit(ctx context.Context, topic string, payload any) (*events.Envelope, error) {
	env, err := events.NewEnvelope(topic, payload, e.now())
	if err != nil {
		return nil, err
	}
	if err := e.Publish(ctx, env); err != nil {
		return nil, err
	}
	return env, nil
}

// Publish sends an already-built envelope, retrying with exponential backoff.
// A broker that stays unreachable yields an error wrapping domain.ErrDelivery.
func (e *Emitter) Publish(ctx context.Context, env *events.Envelope) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.config.InitialInterval
	b.MaxInterval = e.config.MaxInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := e.publisher.Publish(ctx, env)
		if errors.Is(err, ErrClosed) {
			return struct{}{}, backoff.Permanent(err)
		}
		if err != nil {
			e.logger.Warn("publish attempt failed",
				"event_id", env.ID,
				"topic", env.Topic,
				"attempt", attempt,
				"error", err,
			)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(e.config.MaxTries))
	if err != nil {
		return fmt.Errorf("%w: publish %s %s: %v", domain.ErrDelivery, env.Topic, env.ID, err)
	}

	e.logger.Debug("event published", "event_id", env.ID, "topic", env.Topic)
	return nil
}
