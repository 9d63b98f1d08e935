package webserver

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/talkincode/wppgate/internal/session"
)

func dialPush(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", u, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn
}

func readUntilEvent(t *testing.T, conn *websocket.Conn, event string) pushFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var frame pushFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("waiting for %q frame: %v", event, err)
		}
		if frame.Event == event {
			return frame
		}
	}
}

func TestPushHubDeliversToSubscriber(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.root)
	defer srv.Close()

	sub := dialPush(t, srv.URL)
	defer sub.Close()
	idle := dialPush(t, srv.URL)
	defer idle.Close()

	err := sub.WriteJSON(map[string]interface{}{
		"event": "start-session",
		"data":  map[string]interface{}{"sessionId": "alpha"},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Delivery through the worker pool does not order session-started and qr
	// relative to each other; collect until both arrived.
	seen := map[string]pushFrame{}
	_ = sub.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(seen) < 2 {
		var frame pushFrame
		if err := sub.ReadJSON(&frame); err != nil {
			t.Fatalf("waiting for frames (got %d): %v", len(seen), err)
		}
		seen[frame.Event] = frame
	}
	if started, ok := seen["session-started"]; !ok || started.SessionID != "alpha" {
		t.Fatalf("missing session-started frame: %+v", seen)
	}
	qr, ok := seen["qr"]
	if !ok || qr.SessionID != "alpha" {
		t.Fatalf("missing qr frame: %+v", seen)
	}
	payload, ok := qr.Payload.(map[string]interface{})
	if !ok || payload["qrCode"] != "img:pairing-code" {
		t.Fatalf("unexpected qr payload: %+v", qr.Payload)
	}

	// The socket that never subscribed must stay silent.
	_ = idle.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var stray pushFrame
	if err := idle.ReadJSON(&stray); err == nil {
		t.Fatalf("unsubscribed socket received %+v", stray)
	}
}

func TestPushHubForwardsMessages(t *testing.T) {
	s, dialer := newTestServer(t)
	srv := httptest.NewServer(s.root)
	defer srv.Close()

	sub := dialPush(t, srv.URL)
	defer sub.Close()

	err := sub.WriteJSON(map[string]interface{}{
		"event": "start-session",
		"data":  map[string]interface{}{"sessionId": "alpha"},
	})
	if err != nil {
		t.Fatal(err)
	}
	readUntilEvent(t, sub, "session-started")

	dialer.sink(0).OnOpen(session.Identity{JID: "123@s.whatsapp.net"})
	open := readUntilEvent(t, sub, "connection-open")
	if open.SessionID != "alpha" {
		t.Fatalf("connection-open for %q", open.SessionID)
	}

	dialer.sink(0).OnMessages([]session.MessageRecord{
		{From: "555@s.whatsapp.net", Text: "hi"},
	})
	msgs := readUntilEvent(t, sub, "messages")
	payload, ok := msgs.Payload.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected messages payload: %+v", msgs.Payload)
	}
	records, ok := payload["messages"].([]interface{})
	if !ok || len(records) != 1 {
		t.Fatalf("expected one record, got %+v", payload["messages"])
	}
}

func TestPushHubRejectsMissingSessionID(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.root)
	defer srv.Close()

	sub := dialPush(t, srv.URL)
	defer sub.Close()

	err := sub.WriteJSON(map[string]interface{}{
		"event": "start-session",
		"data":  map[string]interface{}{},
	})
	if err != nil {
		t.Fatal(err)
	}

	frame := readUntilEvent(t, sub, "error")
	payload, ok := frame.Payload.(map[string]interface{})
	if !ok || payload["error"] == "" {
		t.Fatalf("unexpected error payload: %+v", frame.Payload)
	}
}
