// Package bus is the in-process message channel between the browser-facing
// layer (focus observer, DOM filler) and the completion coordinator. It
// mirrors the cross-context messaging of a browser extension: fire-and-forget
// delivery, ordering guaranteed within one topic only, slow consumers drop
// rather than block publishers.
package bus

import (
	"log/slog"
	"sync"
)

// Topic identifies one message stream.
type Topic string

const (
	// Inbound to the coordinator.
	TopicFormFocused           Topic = "formFocused"
	TopicRequestFormCompletion Topic = "requestFormCompletion"
	TopicFillForm              Topic = "fillForm"

	// Outbound from the coordinator.
	TopicFormCompletionReady Topic = "formCompletionReady"
	TopicFormCompletionError Topic = "formCompletionError"
)

// Envelope wraps one published message.
type Envelope struct {
	Topic   Topic
	Payload any
}

// Bus fans out messages per topic. One subscriber lagging does not block the
// publisher or other subscribers.
type Bus struct {
	mu     sync.Mutex
	subs   map[Topic][]chan Envelope
	logger *slog.Logger
	closed bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New creates a Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[Topic][]chan Envelope),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe returns a channel receiving every message published to any of
// the given topics after this call. The channel closes when the bus closes.
func (b *Bus) Subscribe(topics ...Topic) <-chan Envelope {
	ch := make(chan Envelope, 64)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], ch)
	}
	return ch
}

// Publish delivers payload to all subscribers of topic. Non-blocking: if a
// subscriber's buffer is full the message is dropped for that subscriber and
// a warning logged.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[topic] {
		select {
		case ch <- Envelope{Topic: topic, Payload: payload}:
		default:
			b.logger.Warn("bus: subscriber lagging, message dropped", "topic", string(topic))
		}
	}
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	seen := make(map[chan Envelope]struct{})
	for _, chans := range b.subs {
		for _, ch := range chans {
			if _, ok := seen[ch]; ok {
				continue
			}
			seen[ch] = struct{}{}
			close(ch)
		}
	}
	b.subs = nil
	return nil
}
