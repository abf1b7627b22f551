package broker

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/mtlprog/taskmesh/internal/events"
)

// Mux dispatches envelopes to a handler per topic.
type Mux struct {
	handlers map[string]Handler
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[string]Handler)}
}

// Handle registers h for topic, replacing any previous handler.
func (m *Mux) Handle(topic string, h Handler) {
	m.handlers[topic] = h
}

// Topics returns the registered topics in sorted order.
func (m *Mux) Topics() []string {
	return slices.Sorted(maps.Keys(m.handlers))
}

// Queue returns a queue definition bound to every registered topic.
func (m *Mux) Queue(name string) Queue {
	return Queue{Name: name, Topics: m.Topics()}
}

// Dispatch is a Handler. A topic without a handler is treated as malformed.
func (m *Mux) Dispatch(ctx context.Context, env *events.Envelope) error {
	h, ok := m.handlers[env.Topic]
	if !ok {
		return fmt.Errorf("%w: unexpected topic %q", events.ErrMalformed, env.Topic)
	}
	return h(ctx, env)
}
