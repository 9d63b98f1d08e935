package session

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pkg/errors"
	"github.com/talkincode/wppgate/config"
	"github.com/talkincode/wppgate/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// entry is the registry-private state of one session.
type entry struct {
	id       string
	gen      uint64
	state    State
	conn     Conn
	identity Identity
	// qrImage holds the rendered pairing image while state == Pairing.
	qrImage string
	// qrReady wakes AwaitPairingImage waiters. Replaced with a fresh channel
	// on every notification so late waiters can park again.
	qrReady chan struct{}
	buffer  *ringBuffer
	// pushID is the single push subscriber slot. The last start-session push
	// request wins; this mirrors the observed single-viewer behavior and is a
	// documented limitation.
	pushID   string
	attempts int
}

// Registry owns the session map and drives the lifecycle state machine. All
// mutations of shared state happen under mu; protocol events re-check the
// entry generation so a handle replaced during reconnect cannot act on the
// entry that superseded it.
type Registry struct {
	cfg    config.SessionConfig
	dialer Dialer
	render ImageRenderer
	mux    *Multiplexer
	node   *snowflake.Node

	mu       sync.Mutex
	sessions map[string]*entry
	genSeq   uint64
	closed   bool

	sf singleflight.Group
}

func NewRegistry(cfg config.SessionConfig, dialer Dialer, render ImageRenderer, mux *Multiplexer) (*Registry, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, err
	}
	if render == nil {
		render = func(code string) (string, error) { return code, nil }
	}
	return &Registry{
		cfg:      cfg,
		dialer:   dialer,
		render:   render,
		mux:      mux,
		node:     node,
		sessions: make(map[string]*entry),
	}, nil
}

// StartSession ensures a connection exists for id. Calls for an id that is
// already Pairing or Connected only refresh the push subscriber slot and
// report current connectivity; concurrent calls for the same id collapse into
// one dial.
func (r *Registry) StartSession(ctx context.Context, id, pushID string) (Status, error) {
	v, err, _ := r.sf.Do(id, func() (interface{}, error) {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return Status{}, ErrRegistryClosed
		}
		if e, ok := r.sessions[id]; ok {
			if pushID != "" {
				e.pushID = pushID
			}
			st := e.status()
			r.mu.Unlock()
			return st, nil
		}
		r.mu.Unlock()
		return r.start(ctx, id, pushID, 0)
	})
	if err != nil {
		return Status{}, err
	}
	return v.(Status), nil
}

// start performs the Absent -> Pairing transition. The entry is registered
// before dialing so events arriving mid-dial find it; if the dial fails the
// entry is rolled back.
func (r *Registry) start(ctx context.Context, id, pushID string, attempts int) (Status, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Status{}, ErrRegistryClosed
	}
	r.genSeq++
	e := &entry{
		id:       id,
		gen:      r.genSeq,
		state:    Pairing,
		qrReady:  make(chan struct{}),
		buffer:   newRingBuffer(r.cfg.MessageBufferSize),
		pushID:   pushID,
		attempts: attempts,
	}
	r.sessions[id] = e
	r.mu.Unlock()

	conn, err := r.dialer.Dial(ctx, id, &sink{r: r, id: id, gen: e.gen})
	if err != nil {
		r.mu.Lock()
		if cur, ok := r.sessions[id]; ok && cur == e {
			delete(r.sessions, id)
			close(e.qrReady)
		}
		r.mu.Unlock()
		return Status{}, errors.Wrap(err, "start session")
	}

	r.mu.Lock()
	cur, ok := r.sessions[id]
	if !ok || cur != e {
		// Disconnected while the dial was in flight.
		r.mu.Unlock()
		conn.Disconnect()
		return Status{}, errors.Wrap(ErrSessionNotFound, "session removed during start")
	}
	e.conn = conn
	st := e.status()
	r.mu.Unlock()

	metrics.Incr(metrics.SessionStart)
	zap.L().Info("session started", zap.String("session_id", id), zap.Int("attempt", attempts))
	r.mux.Deliver(PushEvent{SubscriberID: pushID, SessionID: id, Event: EventSessionStarted, Payload: st})
	return st, nil
}

// GetStatus is a pure read of current connectivity.
func (r *Registry) GetStatus(id string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return Status{Connected: false}
	}
	return e.status()
}

// AwaitPairingImage blocks until a pairing image exists for id, the session
// connects without one (restored credentials), the timeout elapses, or the
// context is canceled. It parks on the entry's notification channel rather
// than polling, and re-checks registry state after every wakeup.
func (r *Registry) AwaitPairingImage(ctx context.Context, id string, timeout time.Duration) (image string, connected bool, err error) {
	if timeout <= 0 {
		timeout = time.Duration(r.cfg.PairingWaitMs) * time.Millisecond
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		r.mu.Lock()
		e, ok := r.sessions[id]
		if !ok {
			r.mu.Unlock()
			return "", false, ErrSessionNotFound
		}
		if e.state == Connected {
			r.mu.Unlock()
			return "", true, nil
		}
		if e.qrImage != "" {
			img := e.qrImage
			r.mu.Unlock()
			return img, false, nil
		}
		ready := e.qrReady
		r.mu.Unlock()

		select {
		case <-ready:
		case <-deadline.C:
			return "", false, ErrPairingTimeout
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
}

// DrainMessages atomically returns the buffered inbound messages oldest-first
// and empties the buffer.
func (r *Registry) DrainMessages(id string) ([]MessageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e.buffer.Drain(), nil
}

// SendMessage normalizes the destination number to the protocol address form
// and delegates to the session's connection.
func (r *Registry) SendMessage(ctx context.Context, id, number, text string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	var conn Conn
	if ok {
		conn = e.conn
	}
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	if conn == nil {
		return errors.Wrap(ErrSendFailure, "connection not established")
	}
	to := NormalizeAddress(number, r.cfg.AddressSuffix)
	if err := conn.Send(ctx, to, text); err != nil {
		return errors.Wrap(ErrSendFailure, err.Error())
	}
	metrics.Incr(metrics.MessageSent)
	return nil
}

// Disconnect logs the session out and removes its entry. Unknown ids report
// success: already-absent is not an error.
func (r *Registry) Disconnect(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	e.state = Closing
	conn := e.conn
	pushID := e.pushID
	r.removeLocked(e)
	r.mu.Unlock()

	r.mux.Deliver(PushEvent{SubscriberID: pushID, SessionID: id, Event: EventConnectionClose,
		Payload: closePayload{ShouldReconnect: false, Reason: "logout"}})
	metrics.Incr(metrics.SessionClose)

	if conn == nil {
		return nil
	}
	if err := conn.Logout(ctx); err != nil {
		zap.L().Warn("logout failed, dropping connection", zap.String("session_id", id), zap.Error(err))
		conn.Disconnect()
		return errors.Wrap(ErrLogoutFailure, err.Error())
	}
	zap.L().Info("session logged out", zap.String("session_id", id))
	return nil
}

// Stats reports session counts per state for the monitor job.
func (r *Registry) Stats() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := map[string]int{}
	for _, e := range r.sessions {
		stats[e.state.String()]++
	}
	return stats
}

// Shutdown drops every live connection without logging out, so credentials
// survive a restart.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	conns := make([]Conn, 0, len(r.sessions))
	for _, e := range r.sessions {
		if e.conn != nil {
			conns = append(conns, e.conn)
		}
		r.removeLocked(e)
	}
	r.mu.Unlock()
	for _, c := range conns {
		c.Disconnect()
	}
	r.mux.Close()
}

// removeLocked deletes the entry and wakes any pairing waiters; they observe
// the missing entry and return ErrSessionNotFound.
func (r *Registry) removeLocked(e *entry) {
	if cur, ok := r.sessions[e.id]; ok && cur == e {
		delete(r.sessions, e.id)
	}
	close(e.qrReady)
}

// notifyLocked wakes pairing waiters and re-arms the channel for future waits.
func (e *entry) notifyLocked() {
	close(e.qrReady)
	e.qrReady = make(chan struct{})
}

func (e *entry) status() Status {
	if e.state != Connected {
		return Status{Connected: false}
	}
	ident := e.identity
	return Status{Connected: true, User: &ident}
}

type closePayload struct {
	ShouldReconnect bool   `json:"shouldReconnect"`
	Reason          string `json:"reason,omitempty"`
}

// sink adapts protocol events into registry transitions. The generation pins
// events to the handle that produced them.
type sink struct {
	r   *Registry
	id  string
	gen uint64
}

func (s *sink) OnQR(code string)                   { s.r.handleQR(s.id, s.gen, code) }
func (s *sink) OnOpen(identity Identity)           { s.r.handleOpen(s.id, s.gen, identity) }
func (s *sink) OnClose(reason string, rec bool)    { s.r.handleClose(s.id, s.gen, reason, rec) }
func (s *sink) OnMessages(records []MessageRecord) { s.r.handleMessages(s.id, s.gen, records) }

// lookup returns the entry only when it still belongs to the emitting
// generation; a false result marks a stale event. Callers hold mu.
func (r *Registry) lookup(id string, gen uint64) (*entry, bool) {
	e, ok := r.sessions[id]
	if !ok || e.gen != gen {
		return nil, false
	}
	return e, true
}

// handleQR runs the Pairing -> Pairing transition: the engine may rotate
// codes before a scan, each rotation overwrites the pending image.
func (r *Registry) handleQR(id string, gen uint64, code string) {
	img, err := r.render(code)
	if err != nil {
		zap.L().Error("pairing image render failed", zap.String("session_id", id), zap.Error(err))
		return
	}
	r.mu.Lock()
	e, ok := r.lookup(id, gen)
	if !ok || e.state != Pairing {
		r.mu.Unlock()
		return
	}
	e.qrImage = img
	e.notifyLocked()
	pushID := e.pushID
	r.mu.Unlock()

	metrics.Incr(metrics.PairingCode)
	zap.L().Debug("pairing code issued", zap.String("session_id", id), zap.Int("code_len", len(code)))
	r.mux.Deliver(PushEvent{SubscriberID: pushID, SessionID: id, Event: EventQR,
		Payload: map[string]string{"qrCode": img}})
}

// handleOpen runs the Pairing -> Connected transition.
func (r *Registry) handleOpen(id string, gen uint64, identity Identity) {
	r.mu.Lock()
	e, ok := r.lookup(id, gen)
	if !ok {
		r.mu.Unlock()
		return
	}
	e.state = Connected
	e.identity = identity
	e.qrImage = ""
	e.attempts = 0
	e.notifyLocked()
	pushID := e.pushID
	st := e.status()
	r.mu.Unlock()

	metrics.Incr(metrics.SessionOpen)
	zap.L().Info("session connected", zap.String("session_id", id), zap.String("jid", identity.JID))
	r.mux.Deliver(PushEvent{SubscriberID: pushID, SessionID: id, Event: EventConnectionOpen, Payload: st})
}

// handleClose removes the entry. A recoverable cause schedules a bounded
// backoff reconnect instead of the unbounded immediate retry the protocol
// would otherwise invite; a terminal cause (logout, stream replaced, retry
// budget exhausted) ends the session.
func (r *Registry) handleClose(id string, gen uint64, reason string, reconnect bool) {
	r.mu.Lock()
	e, ok := r.lookup(id, gen)
	if !ok {
		r.mu.Unlock()
		return
	}
	pushID := e.pushID
	attempts := e.attempts + 1
	retry := reconnect && !r.closed && attempts <= r.cfg.ReconnectMaxAttempts
	r.removeLocked(e)
	r.mu.Unlock()

	metrics.Incr(metrics.SessionClose)
	zap.L().Info("session closed",
		zap.String("session_id", id),
		zap.String("reason", reason),
		zap.Bool("reconnect", retry))
	r.mux.Deliver(PushEvent{SubscriberID: pushID, SessionID: id, Event: EventConnectionClose,
		Payload: closePayload{ShouldReconnect: retry, Reason: reason}})

	if !retry {
		if reconnect {
			zap.L().Warn("reconnect budget exhausted", zap.String("session_id", id),
				zap.Int("attempts", attempts-1))
		}
		return
	}
	go r.reconnect(id, pushID, attempts)
}

// reconnect re-invokes the start procedure after a backoff. A caller-issued
// StartSession during the backoff window wins via the same single-flight key.
func (r *Registry) reconnect(id, pushID string, attempts int) {
	backoff := time.Duration(r.cfg.ReconnectBackoffMs) * time.Millisecond
	for i := 1; i < attempts; i++ {
		backoff *= 2
	}
	if limit := time.Duration(r.cfg.ReconnectBackoffCapMs) * time.Millisecond; limit > 0 && backoff > limit {
		backoff = limit
	}
	time.Sleep(backoff)

	_, err, _ := r.sf.Do(id, func() (interface{}, error) {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return Status{}, ErrRegistryClosed
		}
		if e, ok := r.sessions[id]; ok {
			st := e.status()
			r.mu.Unlock()
			return st, nil
		}
		r.mu.Unlock()
		return r.start(context.Background(), id, pushID, attempts)
	})
	if err != nil && !errors.Is(err, ErrRegistryClosed) {
		zap.L().Warn("reconnect failed", zap.String("session_id", id),
			zap.Int("attempt", attempts), zap.Error(err))
	}
}

// handleMessages appends inbound records to the poll buffer and fans them out.
// The buffer is updated regardless of push subscribers so poll clients are
// never starved.
func (r *Registry) handleMessages(id string, gen uint64, records []MessageRecord) {
	if len(records) == 0 {
		return
	}
	for i := range records {
		if records[i].ID == "" {
			records[i].ID = r.node.Generate().String()
		}
	}
	r.mu.Lock()
	e, ok := r.lookup(id, gen)
	if !ok {
		r.mu.Unlock()
		return
	}
	e.buffer.Append(records...)
	pushID := e.pushID
	r.mu.Unlock()

	metrics.Add(metrics.MessageReceived, int64(len(records)))
	r.mux.Deliver(PushEvent{SubscriberID: pushID, SessionID: id, Event: EventMessages,
		Payload: map[string]interface{}{"messages": records}})
}
