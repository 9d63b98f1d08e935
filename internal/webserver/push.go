package webserver

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/talkincode/wppgate/internal/session"
	"go.uber.org/zap"
)

// pushFrame is the wire shape for both directions on the push channel.
// Inbound frames carry an event name and data; outbound frames carry the
// session event and its payload.
type pushFrame struct {
	Event     string                 `json:"event"`
	SessionID string                 `json:"sessionId,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Payload   interface{}            `json:"payload,omitempty"`
}

type pushClient struct {
	id   string
	conn *websocket.Conn

	// writeMu serializes writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex
}

func (p *pushClient) send(frame pushFrame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteJSON(frame)
}

// PushHub owns the websocket side of event delivery. Each socket gets a
// unique subscriber id; session events addressed to that id are forwarded
// fire-and-forget.
type PushHub struct {
	registry *session.Registry
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*pushClient
	closed  bool
}

func NewPushHub(registry *session.Registry) *PushHub {
	return &PushHub{
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*pushClient),
	}
}

// Handle upgrades the request and runs the socket's read loop until the peer
// goes away. The only inbound command is start-session.
func (h *PushHub) Handle(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &pushClient{id: uuid.NewString(), conn: conn}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return nil
	}
	h.clients[client.id] = client
	h.mu.Unlock()

	zap.L().Debug("push client connected", zap.String("client", client.id))
	defer func() {
		h.mu.Lock()
		delete(h.clients, client.id)
		h.mu.Unlock()
		conn.Close()
		zap.L().Debug("push client gone", zap.String("client", client.id))
	}()

	for {
		var frame pushFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return nil
		}
		h.dispatch(c, client, frame)
	}
}

func (h *PushHub) dispatch(c echo.Context, client *pushClient, frame pushFrame) {
	switch frame.Event {
	case "start-session":
		sid, _ := frame.Data["sessionId"].(string)
		if sid == "" {
			_ = client.send(pushFrame{Event: "error", Payload: map[string]string{"error": "sessionId is required"}})
			return
		}
		if _, err := h.registry.StartSession(c.Request().Context(), sid, client.id); err != nil {
			_ = client.send(pushFrame{Event: "error", SessionID: sid,
				Payload: map[string]string{"error": err.Error()}})
		}
	default:
		zap.L().Debug("push frame ignored",
			zap.String("client", client.id), zap.String("event", frame.Event))
	}
}

// deliver routes a registry event to the subscribed socket. Events for
// sockets that already went away are dropped.
func (h *PushHub) deliver(evt session.PushEvent) {
	h.mu.RLock()
	client := h.clients[evt.SubscriberID]
	h.mu.RUnlock()
	if client == nil {
		return
	}
	err := client.send(pushFrame{Event: evt.Event, SessionID: evt.SessionID, Payload: evt.Payload})
	if err != nil {
		zap.L().Debug("push write failed",
			zap.String("client", client.id), zap.Error(err))
	}
}

func (h *PushHub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*pushClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*pushClient)
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
}
