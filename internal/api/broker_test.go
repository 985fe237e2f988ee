package api

import (
	"testing"
	"time"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	id := "slv_1"
	ch := b.Subscribe(id)

	evt := SSEEvent{Type: "solve.progress", Data: map[string]any{"iteration": 40}}
	b.Publish(id, evt)

	select {
	case got := <-ch:
		if got.Type != evt.Type {
			t.Fatalf("got type %s, want %s", got.Type, evt.Type)
		}
		if got.Data["iteration"].(int) != 40 {
			t.Fatalf("bad payload: %+v", got.Data)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	b.Unsubscribe(id, ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
}

func TestBrokerSlowConsumerDoesNotBlock(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("slv_2")
	defer b.Unsubscribe("slv_2", ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish("slv_2", SSEEvent{Type: "solve.progress", Data: map[string]any{"iteration": i}})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow consumer")
	}
}

func TestBrokerIsolatesSolves(t *testing.T) {
	b := NewBroker()
	a := b.Subscribe("slv_a")
	defer b.Unsubscribe("slv_a", a)
	c := b.Subscribe("slv_b")
	defer b.Unsubscribe("slv_b", c)

	b.Publish("slv_a", SSEEvent{Type: "solve.completed", Data: map[string]any{}})
	select {
	case <-a:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("subscriber for slv_a missed its event")
	}
	select {
	case got := <-c:
		t.Fatalf("subscriber for slv_b should see nothing, got %+v", got)
	default:
	}
}
