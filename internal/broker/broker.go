// Package broker moves event envelopes between services.
//
// Producers publish through a Publisher; each consuming service owns one
// durable Queue bound to the topics it cares about and processes it with a
// single consumer, so handling inside one queue is serialized. Two
// implementations exist: AMQP (RabbitMQ, durable across restarts) and Memory
// (in-process, for tests and single-binary development).
package broker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mtlprog/taskmesh/internal/events"
)

// Exchange names used by the AMQP topology.
const (
	EventsExchange = "taskmesh.events"
	DeadExchange   = "taskmesh.dead"
)

// ErrClosed is returned by a broker that has been shut down.
var ErrClosed = errors.New("broker closed")

// Queue is a durable queue bound to a set of topics.
type Queue struct {
	Name   string
	Topics []string
}

// DeadLetterName is the quarantine queue receiving messages rejected from q.
func (q Queue) DeadLetterName() string {
	return q.Name + ".dead"
}

// Handler processes one envelope. Returning an error wrapping
// events.ErrMalformed quarantines the message; any other error requeues it
// once and quarantines it on the second failure.
type Handler func(ctx context.Context, env *events.Envelope) error

// Publisher publishes envelopes to the broker.
type Publisher interface {
	Publish(ctx context.Context, env *events.Envelope) error
}

// Subscriber consumes a queue until ctx is cancelled or the connection drops.
type Subscriber interface {
	Consume(ctx context.Context, q Queue, h Handler) error
}

// Broker is a full broker client. Declare creates a queue and its bindings
// up front so messages published before the consumer attaches are kept.
type Broker interface {
	Publisher
	Subscriber
	Declare(ctx context.Context, q Queue) error
	Close() error
}

// Outcome is what the consumer does with a delivery after handling it.
type Outcome int

const (
	OutcomeAck Outcome = iota
	OutcomeRequeue
	OutcomeDeadLetter
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeRequeue:
		return "requeue"
	default:
		return "dead_letter"
	}
}

// Settle decides the outcome for a handler result.
func Settle(err error, redelivered bool) Outcome {
	switch {
	case err == nil:
		return OutcomeAck
	case errors.Is(err, events.ErrMalformed):
		return OutcomeDeadLetter
	case redelivered:
		return OutcomeDeadLetter
	default:
		return OutcomeRequeue
	}
}

// Run keeps a consumer alive: whenever Consume returns before ctx is done it
// is restarted after an exponential backoff.
func Run(ctx context.Context, sub Subscriber, q Queue, h Handler, logger *slog.Logger) {
	logger = logger.With("component", "consumer", "queue", q.Name)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second

	for {
		logger.Info("consumer started", "topics", q.Topics)
		err := sub.Consume(ctx, q, h)
		if ctx.Err() != nil {
			logger.Info("consumer stopped")
			return
		}

		wait := b.NextBackOff()
		logger.Warn("consumer interrupted, restarting", "error", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			logger.Info("consumer stopped")
			return
		case <-time.After(wait):
		}
	}
}
