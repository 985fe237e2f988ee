package api

import (
	"sync"
)

type SSEEvent struct {
	Type string
	Data map[string]any
}

// Broker fans solve events out to in-process subscribers. Channels are
// buffered and sends never block; a slow consumer just misses events.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan SSEEvent]struct{} // solveId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(solveID string) chan SSEEvent {
	ch := make(chan SSEEvent, 8)
	b.mu.Lock()
	if b.subs[solveID] == nil {
		b.subs[solveID] = map[chan SSEEvent]struct{}{}
	}
	b.subs[solveID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(solveID string, ch chan SSEEvent) {
	b.mu.Lock()
	if m := b.subs[solveID]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, solveID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) Publish(solveID string, evt SSEEvent) {
	b.mu.Lock()
	m := b.subs[solveID]
	for ch := range m {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
