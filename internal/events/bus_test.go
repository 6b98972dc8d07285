package events

import (
	"sync"
	"testing"
	"time"
)

func recv(t *testing.T, s *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-s.C:
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestSubscribeFiltersByDecision(t *testing.T) {
	bus := NewBus(nil)
	mine := bus.Subscribe("d1")
	all := bus.Subscribe("")
	defer mine.Close()
	defer all.Close()

	bus.Publish(Event{Type: DebateStarted, DecisionID: "d2"})
	bus.Publish(Event{Type: DebateAgentToken, DecisionID: "d1", Payload: Token{Round: 1, Exchange: 1, Agent: "rationalist", Token: "hi"}})

	ev := recv(t, mine)
	if ev.Type != DebateAgentToken {
		t.Fatalf("expected token event, got %s", ev.Type)
	}
	tok, ok := ev.Payload.(Token)
	if !ok || tok.Token != "hi" || tok.Slot().Agent != "rationalist" {
		t.Errorf("unexpected payload: %#v", ev.Payload)
	}

	if recv(t, all).DecisionID != "d2" || recv(t, all).DecisionID != "d1" {
		t.Error("wildcard subscriber should see both events in order")
	}
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	bus := NewBus(nil)
	bus.buffer = 2
	slow := bus.Subscribe("d1")
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(Event{Type: DebateAgentToken, DecisionID: "d1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if len(slow.C) != 2 {
		t.Errorf("expected buffer to hold 2 events, got %d", len(slow.C))
	}
}

func TestCloseIsIdempotentAndStopsDelivery(t *testing.T) {
	bus := NewBus(nil)
	s := bus.Subscribe("d1")
	s.Close()
	s.Close()

	bus.Publish(Event{Type: DebateComplete, DecisionID: "d1"})
	if _, ok := <-s.C; ok {
		t.Error("closed subscription should not receive events")
	}
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	bus := NewBus(nil)
	s := bus.Subscribe("")
	bus.Close()
	if _, ok := <-s.C; ok {
		t.Error("expected channel closed after bus Close")
	}
	s.Close()

	late := bus.Subscribe("")
	if _, ok := <-late.C; ok {
		t.Error("subscription after Close should be closed immediately")
	}
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	bus := NewBus(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s := bus.Subscribe("d")
			s.Close()
		}()
		go func() {
			defer wg.Done()
			bus.Publish(Event{Type: DebateAgentToken, DecisionID: "d"})
		}()
	}
	wg.Wait()
}
