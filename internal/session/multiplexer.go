package session

import (
	"github.com/asaskevich/EventBus"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Push event names delivered to subscribers. They mirror the wire vocabulary
// of the push channel.
const (
	EventSessionStarted  = "session-started"
	EventQR              = "qr"
	EventConnectionOpen  = "connection-open"
	EventConnectionClose = "connection-close"
	EventMessages        = "messages"
)

const deliverTopic = "session:deliver"

// PushEvent is one registry event addressed to a push subscriber. Payload is
// JSON-marshalable.
type PushEvent struct {
	SubscriberID string      `json:"-"`
	SessionID    string      `json:"sessionId"`
	Event        string      `json:"event"`
	Payload      interface{} `json:"payload,omitempty"`
}

// Multiplexer fans registry events out to push subscribers. Delivery is
// fire-and-forget: events for sessions nobody subscribed to are dropped, and
// a saturated worker pool drops rather than blocks. Pull-side state (pairing
// image, message buffer) is maintained by the registry independently, so poll
// clients never depend on the multiplexer.
type Multiplexer struct {
	bus  EventBus.Bus
	pool *ants.Pool
}

func NewMultiplexer(workers int) (*Multiplexer, error) {
	if workers <= 0 {
		workers = 64
	}
	pool, err := ants.NewPool(workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	return &Multiplexer{bus: EventBus.New(), pool: pool}, nil
}

// Subscribe registers a delivery callback. The same function value must be
// passed to Unsubscribe.
func (m *Multiplexer) Subscribe(fn func(PushEvent)) error {
	return m.bus.Subscribe(deliverTopic, fn)
}

func (m *Multiplexer) Unsubscribe(fn func(PushEvent)) error {
	return m.bus.Unsubscribe(deliverTopic, fn)
}

// Deliver schedules one event for push delivery. Events without a subscriber
// id have no push target and are skipped.
func (m *Multiplexer) Deliver(evt PushEvent) {
	if evt.SubscriberID == "" {
		return
	}
	if err := m.pool.Submit(func() { m.bus.Publish(deliverTopic, evt) }); err != nil {
		zap.L().Debug("push delivery dropped",
			zap.String("session_id", evt.SessionID),
			zap.String("event", evt.Event),
			zap.Error(err))
	}
}

func (m *Multiplexer) Close() {
	m.pool.Release()
}
