// Package wameow is the connection-handle layer: it adapts whatsmeow clients
// to the registry's Dialer/Conn/EventSink vocabulary. It holds no lifecycle
// logic of its own; it only translates engine event shapes.
package wameow

import (
	"context"

	"github.com/pkg/errors"
	"github.com/talkincode/wppgate/internal/credstore"
	"github.com/talkincode/wppgate/internal/session"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

// Dialer opens whatsmeow-backed connections using per-session credentials.
type Dialer struct {
	creds *credstore.Store
}

func NewDialer(creds *credstore.Store) *Dialer {
	return &Dialer{creds: creds}
}

var _ session.Dialer = (*Dialer)(nil)

// Dial loads the session's stored device, wires event translation and
// connects. For an unpaired device the QR channel is consumed until the
// pairing succeeds or expires.
func (d *Dialer) Dial(ctx context.Context, sessionID string, sink session.EventSink) (session.Conn, error) {
	device, err := d.creds.Device(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "load credentials")
	}

	client := whatsmeow.NewClient(device, waLog.Noop)
	// The registry owns the reconnect policy.
	client.EnableAutoReconnect = false

	c := &conn{
		client:    client,
		creds:     d.creds,
		sessionID: sessionID,
		sink:      sink,
	}
	client.AddEventHandler(c.handleEvent)

	if client.Store.ID == nil {
		// Must be requested before Connect. The pairing window outlives the
		// originating request, so it is not bound to ctx.
		qrCh, err := client.GetQRChannel(context.Background())
		if err != nil {
			return nil, errors.Wrap(err, "qr channel")
		}
		go c.watchQR(qrCh)
	}

	if err := client.Connect(); err != nil {
		return nil, errors.Wrap(err, "connect")
	}
	return c, nil
}

// conn wraps one whatsmeow client for one session.
type conn struct {
	client    *whatsmeow.Client
	creds     *credstore.Store
	sessionID string
	sink      session.EventSink
}

var _ session.Conn = (*conn)(nil)

func (c *conn) Send(ctx context.Context, to string, text string) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return errors.Wrapf(err, "parse destination %q", to)
	}
	msg := &waE2E.Message{Conversation: proto.String(text)}
	if _, err := c.client.SendMessage(ctx, jid, msg); err != nil {
		return err
	}
	return nil
}

func (c *conn) Logout(ctx context.Context) error {
	if err := c.client.Logout(); err != nil {
		return err
	}
	c.creds.Remove(c.sessionID)
	return nil
}

func (c *conn) Disconnect() {
	c.client.Disconnect()
}

func (c *conn) identity() session.Identity {
	ident := session.Identity{PushName: c.client.Store.PushName}
	if c.client.Store.ID != nil {
		ident.JID = c.client.Store.ID.String()
	}
	return ident
}

// watchQR forwards rotated pairing codes until the channel reports a terminal
// outcome. Success is signalled separately through events.Connected.
func (c *conn) watchQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			c.sink.OnQR(item.Code)
		case whatsmeow.QRChannelSuccess.Event:
			return
		case whatsmeow.QRChannelTimeout.Event:
			c.client.Disconnect()
			c.sink.OnClose("pairing window expired", false)
			return
		default:
			reason := "pairing failed: " + item.Event
			if item.Error != nil {
				reason = "pairing failed: " + item.Error.Error()
			}
			c.client.Disconnect()
			c.sink.OnClose(reason, false)
			return
		}
	}
}

// handleEvent maps the engine's open-ended event stream onto the registry's
// four event kinds.
func (c *conn) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.PairSuccess:
		zap.L().Info("device paired", zap.String("session_id", c.sessionID), zap.String("jid", e.ID.String()))
	case *events.Connected:
		c.sink.OnOpen(c.identity())
	case *events.Disconnected:
		c.sink.OnClose("connection dropped", true)
	case *events.LoggedOut:
		c.sink.OnClose("logged out from device", false)
	case *events.StreamReplaced:
		c.sink.OnClose("stream replaced by another client", false)
	case *events.ConnectFailure:
		c.sink.OnClose("connect failure: "+e.Reason.String(), false)
	case *events.Message:
		if rec, ok := c.messageRecord(e); ok {
			c.sink.OnMessages([]session.MessageRecord{rec})
		}
	}
}

// messageRecord extracts a text body from an inbound message. Own echoes and
// non-text payloads are skipped.
func (c *conn) messageRecord(e *events.Message) (session.MessageRecord, bool) {
	if e.Info.IsFromMe || e.Message == nil {
		return session.MessageRecord{}, false
	}
	text := e.Message.GetConversation()
	if text == "" {
		text = e.Message.GetExtendedTextMessage().GetText()
	}
	if text == "" {
		return session.MessageRecord{}, false
	}
	return session.MessageRecord{
		ID:        e.Info.ID,
		From:      e.Info.Sender.String(),
		Chat:      e.Info.Chat.String(),
		Text:      text,
		Timestamp: e.Info.Timestamp,
	}, true
}
