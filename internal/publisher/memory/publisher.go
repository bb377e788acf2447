// Package memory keeps published radar events in process. It backs local
// runs without a Pub/Sub project and lets tests assert on emitted events.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/JakeFAU/market-radar/internal/radar"
)

// Message is one recorded publish call.
type Message struct {
	ID      string
	Topic   string
	Payload []byte
}

// Publisher records every payload it is handed.
type Publisher struct {
	mu   sync.RWMutex
	seq  int
	msgs []Message
}

var _ radar.Publisher = (*Publisher)(nil)

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish copies payload and returns an ID of the form memory-N.
func (p *Publisher) Publish(_ context.Context, topic string, payload []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := fmt.Sprintf("memory-%d", p.seq)
	p.msgs = append(p.msgs, Message{ID: id, Topic: topic, Payload: append([]byte(nil), payload...)})
	return id, nil
}

// Messages returns a copy of the recorded publishes in order.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.msgs))
	copy(out, p.msgs)
	return out
}

// Events decodes the recorded payloads as radar events, keeping those whose
// Type equals eventType. An empty eventType keeps all of them.
func (p *Publisher) Events(eventType string) ([]radar.Event, error) {
	var out []radar.Event
	for _, m := range p.Messages() {
		var ev radar.Event
		if err := json.Unmarshal(m.Payload, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", m.ID, err)
		}
		if eventType == "" || ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out, nil
}
