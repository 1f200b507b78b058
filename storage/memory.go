package storage

import (
	"context"
	"encoding/json"
	"sync"
)

// Memory is an in-process Store for tests and ephemeral sessions.
type Memory struct {
	mu     sync.Mutex
	values map[string]json.RawMessage
	subs   []*subscription
	closed bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]json.RawMessage)}
}

func (m *Memory) Get(_ context.Context, keys ...string) (map[string]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		if v, ok := m.values[key]; ok {
			out[key] = v
		}
	}
	return out, nil
}

func (m *Memory) Set(_ context.Context, values map[string]json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range values {
		m.values[key] = value
	}
	for _, sub := range m.subs {
		for key, value := range values {
			if _, ok := sub.keys[key]; !ok {
				continue
			}
			select {
			case sub.ch <- Change{Key: key, Value: value}:
			default:
			}
		}
	}
	return nil
}

func (m *Memory) Subscribe(keys ...string) <-chan Change {
	sub := &subscription{
		keys: make(map[string]struct{}, len(keys)),
		ch:   make(chan Change, 16),
	}
	for _, k := range keys {
		sub.keys[k] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		close(sub.ch)
		return sub.ch
	}
	m.subs = append(m.subs, sub)
	return sub.ch
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		for _, sub := range m.subs {
			close(sub.ch)
		}
		m.subs = nil
	}
	return nil
}
