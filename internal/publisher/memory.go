package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Memory collects published events in-process for local runs and tests.
type Memory struct {
	mu     sync.RWMutex
	events map[string][][]byte
	n      int
}

// NewMemory constructs an empty Memory publisher.
func NewMemory() *Memory {
	return &Memory{events: make(map[string][][]byte)}
}

// Publish stores the JSON-encoded payload under the topic.
func (m *Memory) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[topic] = append(m.events[topic], data)
	m.n++
	return fmt.Sprintf("mem-%d", m.n), nil
}

// Events returns the raw payloads published to a topic (test helper).
func (m *Memory) Events(topic string) [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(m.events[topic]))
	copy(out, m.events[topic])
	return out
}
