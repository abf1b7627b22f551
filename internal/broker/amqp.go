package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mtlprog/taskmesh/internal/events"
)

// AMQP is a RabbitMQ broker. Messages are persistent, publishes wait for
// publisher confirms, and consumers ack manually with a prefetch of one.
// Rejected messages go through DeadExchange into the queue's ".dead" twin.
type AMQP struct {
	url    string
	logger *slog.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	pub    *amqp.Channel
	closed bool
}

// DialAMQP connects to RabbitMQ and declares the exchanges.
func DialAMQP(url string, logger *slog.Logger) (*AMQP, error) {
	a := &AMQP{
		url:    url,
		logger: logger.With("component", "broker", "broker", "amqp"),
	}

	a.mu.Lock()
	_, err := a.connectionLocked()
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return a, nil
}

// connectionLocked returns a live connection, redialing if the previous one
// dropped. Caller must hold a.mu.
func (a *AMQP) connectionLocked() (*amqp.Connection, error) {
	if a.closed {
		return nil, ErrClosed
	}
	if a.conn != nil && !a.conn.IsClosed() {
		return a.conn, nil
	}

	conn, err := amqp.Dial(a.url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(EventsExchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", EventsExchange, err)
	}
	if err := ch.ExchangeDeclare(DeadExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", DeadExchange, err)
	}

	if a.conn != nil {
		a.logger.Info("reconnected to broker")
	}
	a.conn = conn
	a.pub = nil
	return conn, nil
}

func (a *AMQP) publishChannel() (*amqp.Channel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pub != nil && !a.pub.IsClosed() {
		return a.pub, nil
	}

	conn, err := a.connectionLocked()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	a.pub = ch
	return ch, nil
}

func (a *AMQP) dropPublishChannel(ch *amqp.Channel) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pub == ch {
		a.pub = nil
	}
	ch.Close()
}

// Publish sends env to EventsExchange with its topic as routing key and
// waits for the broker to confirm it.
func (a *AMQP) Publish(ctx context.Context, env *events.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	ch, err := a.publishChannel()
	if err != nil {
		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, EventsExchange, env.Topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID,
		Type:         env.Topic,
		Timestamp:    env.OccurredAt,
		Body:         body,
	})
	if err != nil {
		a.dropPublishChannel(ch)
		return fmt.Errorf("publish: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait for confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker nacked event %s", env.ID)
	}
	return nil
}

// Declare creates q, its topic bindings and its dead-letter queue.
func (a *AMQP) Declare(_ context.Context, q Queue) error {
	a.mu.Lock()
	conn, err := a.connectionLocked()
	a.mu.Unlock()
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	return declareQueue(ch, q)
}

func declareQueue(ch *amqp.Channel, q Queue) error {
	if _, err := ch.QueueDeclare(q.DeadLetterName(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", q.DeadLetterName(), err)
	}
	if err := ch.QueueBind(q.DeadLetterName(), q.Name, DeadExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", q.DeadLetterName(), err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    DeadExchange,
		"x-dead-letter-routing-key": q.Name,
	}
	if _, err := ch.QueueDeclare(q.Name, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", q.Name, err)
	}
	for _, topic := range q.Topics {
		if err := ch.QueueBind(q.Name, topic, EventsExchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", q.Name, topic, err)
		}
	}
	return nil
}

// Consume processes q one message at a time until ctx is cancelled or the
// channel closes. Handlers run with a context detached from ctx so an
// in-flight message is settled during shutdown.
func (a *AMQP) Consume(ctx context.Context, q Queue, h Handler) error {
	a.mu.Lock()
	conn, err := a.connectionLocked()
	a.mu.Unlock()
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := declareQueue(ch, q); err != nil {
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			a.handle(ctx, q, d, h)
		}
	}
}

func (a *AMQP) handle(ctx context.Context, q Queue, d amqp.Delivery, h Handler) {
	var env events.Envelope
	var err error
	if uerr := json.Unmarshal(d.Body, &env); uerr != nil {
		err = fmt.Errorf("%w: envelope: %v", events.ErrMalformed, uerr)
	} else {
		err = h(context.WithoutCancel(ctx), &env)
	}

	outcome := Settle(err, d.Redelivered)
	var settleErr error
	switch outcome {
	case OutcomeAck:
		settleErr = d.Ack(false)
	case OutcomeRequeue:
		settleErr = d.Nack(false, true)
	default:
		settleErr = d.Nack(false, false)
	}

	if outcome != OutcomeAck {
		a.logger.Warn("message rejected",
			"queue", q.Name,
			"event_id", d.MessageId,
			"topic", d.RoutingKey,
			"outcome", outcome.String(),
			"error", err,
		)
	}
	if settleErr != nil {
		a.logger.Error("failed to settle message", "queue", q.Name, "event_id", d.MessageId, "error", settleErr)
	}
}

// Close closes the connection. Running consumers return.
func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}
