package session

import (
	"testing"
	"time"
)

func TestMultiplexerDelivers(t *testing.T) {
	mux, err := NewMultiplexer(2)
	if err != nil {
		t.Fatal(err)
	}
	defer mux.Close()

	got := make(chan PushEvent, 1)
	fn := func(evt PushEvent) { got <- evt }
	if err := mux.Subscribe(fn); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = mux.Unsubscribe(fn) }()

	mux.Deliver(PushEvent{SubscriberID: "sub-1", SessionID: "alpha", Event: EventQR})
	select {
	case evt := <-got:
		if evt.SessionID != "alpha" || evt.Event != EventQR {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

func TestMultiplexerSkipsUnaddressedEvents(t *testing.T) {
	mux, err := NewMultiplexer(2)
	if err != nil {
		t.Fatal(err)
	}
	defer mux.Close()

	got := make(chan PushEvent, 1)
	fn := func(evt PushEvent) { got <- evt }
	if err := mux.Subscribe(fn); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = mux.Unsubscribe(fn) }()

	mux.Deliver(PushEvent{SessionID: "alpha", Event: EventMessages})
	select {
	case evt := <-got:
		t.Fatalf("event without subscriber id must be dropped, got %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}
