// Package session implements the gateway core: the registry that owns every
// live WhatsApp connection, the per-session lifecycle state machine and the
// dual push/pull event delivery model. The actual wire protocol lives behind
// the Dialer/Conn interfaces so the registry never touches protocol code.
package session

import (
	"context"
	"strings"
	"time"
)

// State is the lifecycle state of one session entry.
type State int

const (
	Absent State = iota
	Pairing
	Connected
	Closing
)

func (s State) String() string {
	switch s {
	case Pairing:
		return "pairing"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	default:
		return "absent"
	}
}

// Identity describes the WhatsApp account behind an open connection.
type Identity struct {
	JID      string `json:"jid"`
	PushName string `json:"pushName,omitempty"`
}

// MessageRecord is one inbound message kept in the poll buffer.
type MessageRecord struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Chat      string    `json:"chat,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Status is the read-only connectivity view returned by GetStatus.
type Status struct {
	Connected bool      `json:"connected"`
	User      *Identity `json:"user,omitempty"`
}

// Conn is one live protocol connection, owned exclusively by the registry
// entry that created it.
type Conn interface {
	// Send delivers a text message to a protocol address.
	Send(ctx context.Context, to string, text string) error
	// Logout unpairs the device and invalidates its credentials.
	Logout(ctx context.Context) error
	// Disconnect tears the connection down without unpairing.
	Disconnect()
}

// EventSink receives adapted protocol events for one session. Implementations
// must not block: the protocol engine calls them from its own event loop.
type EventSink interface {
	OnQR(code string)
	OnOpen(identity Identity)
	OnClose(reason string, reconnect bool)
	OnMessages(records []MessageRecord)
}

// Dialer opens protocol connections. Events emitted by the connection flow
// into the sink for its lifetime.
type Dialer interface {
	Dial(ctx context.Context, sessionID string, sink EventSink) (Conn, error)
}

// ImageRenderer converts a raw pairing code into displayable image data.
type ImageRenderer func(code string) (string, error)

// NormalizeAddress strips everything but digits from a destination number and
// appends the protocol domain suffix, e.g. "+1 (555) 123-4567" with suffix
// "s.whatsapp.net" becomes "15551234567@s.whatsapp.net".
func NormalizeAddress(number, suffix string) string {
	var b strings.Builder
	b.Grow(len(number) + len(suffix) + 1)
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	b.WriteByte('@')
	b.WriteString(suffix)
	return b.String()
}
