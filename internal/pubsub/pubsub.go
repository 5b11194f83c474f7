// Package pubsub carries committed transactions to downstream consumers on
// one channel per account.
package pubsub

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nylas/nylas-mail-sub003/pkg/types"
)

// Publisher is injected into the persistence layer; it is called
// synchronously after each transaction commit, in commit order.
type Publisher interface {
	PublishDelta(delta types.Delta) error
	Close()
}

// SubjectForAccount names the per-account delta channel.
func SubjectForAccount(accountID string) string {
	return fmt.Sprintf("deltas.account.%s", accountID)
}

// MemoryPublisher is an in-process Publisher used in tests and single
// process deployments without a broker.
type MemoryPublisher struct {
	mu     sync.Mutex
	subs   map[string][]chan types.Delta
	closed bool
}

// NewMemoryPublisher creates an empty in-process publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{subs: make(map[string][]chan types.Delta)}
}

// Subscribe returns a buffered channel of deltas for one account.
func (m *MemoryPublisher) Subscribe(accountID string) <-chan types.Delta {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan types.Delta, 256)
	m.subs[accountID] = append(m.subs[accountID], ch)
	return ch
}

// PublishDelta delivers to every subscriber of the delta's account.
func (m *MemoryPublisher) PublishDelta(delta types.Delta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("publisher closed")
	}
	for _, ch := range m.subs[delta.AccountID] {
		select {
		case ch <- delta:
		default:
			// Slow consumers fall behind and replay via cursor.
		}
	}
	return nil
}

// Close closes all subscription channels.
func (m *MemoryPublisher) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for _, subs := range m.subs {
		for _, ch := range subs {
			close(ch)
		}
	}
}

func encodeDelta(delta types.Delta) ([]byte, error) {
	payload, err := json.Marshal(delta)
	if err != nil {
		return nil, fmt.Errorf("encode delta: %w", err)
	}
	return payload, nil
}
