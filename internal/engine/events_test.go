package engine

import (
	"sync"
	"testing"
)

func TestBusDeliversInOrderPerID(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	var received []EventKind
	bus.Subscribe(ObserverFunc(func(e Event) {
		mu.Lock()
		received = append(received, e.Kind)
		mu.Unlock()
	}))

	bus.Emit(Event{Kind: EventAdded, ID: "x"})
	bus.Emit(Event{Kind: EventStarted, ID: "x"})
	bus.Emit(Event{Kind: EventProgress, ID: "x", Downloaded: 10, Total: 100})
	bus.Emit(Event{Kind: EventCompleted, ID: "x"})

	want := []EventKind{EventAdded, EventStarted, EventProgress, EventCompleted}
	if len(received) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(received))
	}
	for i, k := range want {
		if received[i] != k {
			t.Errorf("event %d: expected %v, got %v", i, k, received[i])
		}
	}
}

func TestBusDropsProgressAfterTerminal(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	var received []EventKind
	bus.Subscribe(ObserverFunc(func(e Event) {
		mu.Lock()
		received = append(received, e.Kind)
		mu.Unlock()
	}))

	bus.Emit(Event{Kind: EventCompleted, ID: "x"})
	bus.Emit(Event{Kind: EventProgress, ID: "x", Downloaded: 1, Total: 1})

	mu.Lock()
	defer mu.Unlock()
	for _, k := range received {
		if k == EventProgress {
			t.Errorf("expected no Progress event to follow a terminal event")
		}
	}
}

func TestBusForgetResetsTerminalTracking(t *testing.T) {
	bus := NewBus()
	var count int
	bus.Subscribe(ObserverFunc(func(e Event) {
		if e.Kind == EventProgress {
			count++
		}
	}))

	bus.Emit(Event{Kind: EventCompleted, ID: "x"})
	bus.forget("x")
	bus.Emit(Event{Kind: EventProgress, ID: "x", Downloaded: 1, Total: 1})

	if count != 1 {
		t.Errorf("expected forget to allow future events for a reused id, got count=%d", count)
	}
}
