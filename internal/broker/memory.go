package broker

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/mtlprog/taskmesh/internal/events"
)

const memoryQueueCapacity = 1024

type memoryDelivery struct {
	env         *events.Envelope
	redelivered bool
}

type memoryQueue struct {
	topics   map[string]struct{}
	messages chan memoryDelivery
	dead     []*events.Envelope
}

// Memory is an in-process broker. Queues keep their messages while no
// consumer is attached, but nothing survives a process restart.
type Memory struct {
	mu     sync.Mutex
	queues map[string]*memoryQueue
	done   chan struct{}
	closed bool
	logger *slog.Logger
}

// NewMemory creates an empty in-process broker.
func NewMemory(logger *slog.Logger) *Memory {
	return &Memory{
		queues: make(map[string]*memoryQueue),
		done:   make(chan struct{}),
		logger: logger.With("component", "broker", "broker", "memory"),
	}
}

// Declare creates the queue and its bindings if they do not exist yet.
func (m *Memory) Declare(_ context.Context, q Queue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.declareLocked(q)
	return nil
}

func (m *Memory) declareLocked(q Queue) *memoryQueue {
	mq, ok := m.queues[q.Name]
	if !ok {
		mq = &memoryQueue{
			topics:   make(map[string]struct{}),
			messages: make(chan memoryDelivery, memoryQueueCapacity),
		}
		m.queues[q.Name] = mq
	}
	for _, topic := range q.Topics {
		mq.topics[topic] = struct{}{}
	}
	return mq
}

// Publish routes env to every queue bound to its topic. Unroutable messages
// are dropped.
func (m *Memory) Publish(_ context.Context, env *events.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	for name, mq := range m.queues {
		if _, ok := mq.topics[env.Topic]; !ok {
			continue
		}
		msg := *env
		msg.Payload = slices.Clone(env.Payload)
		select {
		case mq.messages <- memoryDelivery{env: &msg}:
		default:
			return fmt.Errorf("queue %s is full", name)
		}
	}
	return nil
}

// Consume processes the queue until ctx is cancelled or the broker closes.
// Handlers run with a context detached from ctx so an in-flight message
// finishes during shutdown.
func (m *Memory) Consume(ctx context.Context, q Queue, h Handler) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	mq := m.declareLocked(q)
	m.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return ErrClosed
		case d := <-mq.messages:
			err := h(context.WithoutCancel(ctx), d.env)
			m.settle(q, mq, d, err)
		}
	}
}

func (m *Memory) settle(q Queue, mq *memoryQueue, d memoryDelivery, err error) {
	outcome := Settle(err, d.redelivered)
	if outcome == OutcomeAck {
		return
	}

	m.logger.Warn("message rejected",
		"queue", q.Name,
		"event_id", d.env.ID,
		"topic", d.env.Topic,
		"outcome", outcome.String(),
		"error", err,
	)

	if outcome == OutcomeRequeue {
		select {
		case mq.messages <- memoryDelivery{env: d.env, redelivered: true}:
			return
		default:
		}
	}

	m.mu.Lock()
	mq.dead = append(mq.dead, d.env)
	m.mu.Unlock()
}

// DeadLetters returns the messages quarantined from the named queue.
func (m *Memory) DeadLetters(queue string) []*events.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	mq, ok := m.queues[queue]
	if !ok {
		return nil
	}
	return slices.Clone(mq.dead)
}

// Pending returns the number of messages waiting in the named queue.
func (m *Memory) Pending(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	mq, ok := m.queues[queue]
	if !ok {
		return 0
	}
	return len(mq.messages)
}

// Close stops every consumer. Further publishes fail with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}
