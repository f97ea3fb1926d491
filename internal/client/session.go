// Package client implements the browser-facing presence session: a managed
// WebSocket connection that announces the local participant, throttles
// outbound movement at the leading edge, and reconciles the remote roster
// into a local peer set consumable by a rendering layer.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/officeverse/presence/internal/observability"
	"github.com/officeverse/presence/internal/presence"
)

// errSessionClosed aborts a dial that lost a race with Disconnect.
var errSessionClosed = errors.New("session closed")

const (
	defaultThrottleWindow = 100 * time.Millisecond
	defaultDialAttempts   = 5
	defaultDialBackoff    = time.Second
	writeWait             = 10 * time.Second
	handshakeWait         = 10 * time.Second
)

// Options configures a Session.
type Options struct {
	// URL is the WebSocket endpoint, e.g. ws://localhost:5000/ws.
	URL string
	// ThrottleWindow bounds outbound movement frames to one per window.
	// Defaults to 100ms.
	ThrottleWindow time.Duration
	// DialAttempts caps connection attempts per Connect or reconnect cycle.
	// Defaults to 5.
	DialAttempts int
	// DialBackoff is the pause between attempts. Defaults to 1s.
	DialBackoff time.Duration
	// Reconnect enables automatic redial after an unexpected drop. A
	// successful redial is a brand-new session: fresh session ID, cleared
	// peers, new roster.
	Reconnect bool
	Logger    *zap.Logger
}

func (o *Options) normalize() {
	if o.ThrottleWindow <= 0 {
		o.ThrottleWindow = defaultThrottleWindow
	}
	if o.DialAttempts <= 0 {
		o.DialAttempts = defaultDialAttempts
	}
	if o.DialBackoff <= 0 {
		o.DialBackoff = defaultDialBackoff
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Subscription identifies a registered callback for Unsubscribe.
type Subscription uint64

// Session is the client-side presence connection. All methods are safe for
// concurrent use. Callbacks are invoked from the connection's read goroutine
// and must not block.
type Session struct {
	opts     Options
	logger   *zap.Logger
	throttle *Throttle
	peers    *Peers

	mu        sync.Mutex
	ws        *websocket.Conn
	connected bool
	dialing   bool
	closed    bool
	sessionID string
	userID    string
	username  string

	writeMu sync.Mutex

	subMu       sync.Mutex
	nextSub     Subscription
	removals    map[Subscription]func()
	rosterSubs  map[Subscription]func([]presence.Participant)
	joinedSubs  map[Subscription]func(presence.Participant)
	movedSubs   map[Subscription]func(string, presence.Vector3, float64)
	leftSubs    map[Subscription]func(string)
	typingSubs  map[Subscription]func(presence.UserTypingPayload)
	messageSubs map[Subscription]func(presence.NewMessagePayload)
	statusSubs  map[Subscription]func(bool)
}

// NewSession creates a disconnected Session.
func NewSession(opts Options) *Session {
	opts.normalize()
	return &Session{
		opts:        opts,
		logger:      opts.Logger,
		throttle:    NewThrottle(opts.ThrottleWindow),
		peers:       NewPeers(),
		removals:    make(map[Subscription]func()),
		rosterSubs:  make(map[Subscription]func([]presence.Participant)),
		joinedSubs:  make(map[Subscription]func(presence.Participant)),
		movedSubs:   make(map[Subscription]func(string, presence.Vector3, float64)),
		leftSubs:    make(map[Subscription]func(string)),
		typingSubs:  make(map[Subscription]func(presence.UserTypingPayload)),
		messageSubs: make(map[Subscription]func(presence.NewMessagePayload)),
		statusSubs:  make(map[Subscription]func(bool)),
	}
}

// Connect establishes the WebSocket connection, waits for the server's
// session grant, and announces the participant. Calling Connect while a
// session is already live or being established is a no-op, so repeated calls
// yield exactly one active session.
//
// Postcondition: on success the session ID is set and the read loop is
// running; the roster arrives asynchronously through OnRoster.
func (s *Session) Connect(ctx context.Context, userID, username string) error {
	s.mu.Lock()
	if s.connected || s.dialing {
		s.mu.Unlock()
		return nil
	}
	s.dialing = true
	s.closed = false
	s.userID = userID
	s.username = username
	s.mu.Unlock()

	err := s.dial(ctx)

	s.mu.Lock()
	s.dialing = false
	s.mu.Unlock()
	return err
}

// Disconnect sends a best-effort leave notice, closes the connection, and
// resets session state. Disconnecting an idle session is a no-op. No
// automatic reconnect follows a Disconnect.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.closed = true
	if !s.connected {
		s.mu.Unlock()
		return
	}
	ws := s.ws
	s.connected = false
	s.ws = nil
	s.sessionID = ""
	s.mu.Unlock()

	if frame, err := presence.Encode(presence.EventLeaveOffice, nil); err == nil {
		_ = s.write(ws, frame)
	}
	s.writeMu.Lock()
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	s.writeMu.Unlock()
	_ = ws.Close()

	s.throttle.Stop()
	s.peers.Clear()
	s.notifyStatus(false)
}

// EmitMove publishes the local transform. Calls are dropped silently when the
// session is disconnected or when they land inside the throttle window.
func (s *Session) EmitMove(pos presence.Vector3, rot float64) {
	s.mu.Lock()
	ws, connected := s.ws, s.connected
	s.mu.Unlock()
	if !connected {
		return
	}
	if !s.throttle.Allow() {
		return
	}
	frame, err := presence.Encode(presence.EventPlayerMove, struct {
		Position presence.Vector3 `json:"position"`
		Rotation float64          `json:"rotation"`
	}{pos, rot})
	if err != nil {
		return
	}
	if err := s.write(ws, frame); err != nil {
		s.logger.Debug("move frame dropped", zap.Error(err))
	}
}

// JoinConversation subscribes this session to a conversation's realtime feed.
func (s *Session) JoinConversation(conversationID string) {
	s.emit(presence.EventJoinConversation, presence.ConversationPayload{ConversationID: conversationID})
}

// LeaveConversation unsubscribes this session from a conversation.
func (s *Session) LeaveConversation(conversationID string) {
	s.emit(presence.EventLeaveConversation, presence.ConversationPayload{ConversationID: conversationID})
}

// EmitTyping signals that the local participant is typing in a conversation.
func (s *Session) EmitTyping(conversationID string) {
	s.emit(presence.EventTyping, presence.ConversationPayload{ConversationID: conversationID})
}

// SessionID returns the server-assigned session ID, empty when disconnected.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Connected reports whether the session is live.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Peers exposes the reconciled remote roster.
func (s *Session) Peers() *Peers {
	return s.peers
}

// OnRoster registers a callback for the initial roster after each join.
func (s *Session) OnRoster(fn func([]presence.Participant)) Subscription {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.allocSub()
	s.rosterSubs[id] = fn
	s.removals[id] = func() { delete(s.rosterSubs, id) }
	return id
}

// OnJoined registers a callback for newly joined peers.
func (s *Session) OnJoined(fn func(presence.Participant)) Subscription {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.allocSub()
	s.joinedSubs[id] = fn
	s.removals[id] = func() { delete(s.joinedSubs, id) }
	return id
}

// OnMoved registers a callback for peer transform updates. It fires only for
// peers already present in the local set.
func (s *Session) OnMoved(fn func(sessionID string, pos presence.Vector3, rot float64)) Subscription {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.allocSub()
	s.movedSubs[id] = fn
	s.removals[id] = func() { delete(s.movedSubs, id) }
	return id
}

// OnLeft registers a callback for peer departures.
func (s *Session) OnLeft(fn func(sessionID string)) Subscription {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.allocSub()
	s.leftSubs[id] = fn
	s.removals[id] = func() { delete(s.leftSubs, id) }
	return id
}

// OnTyping registers a callback for typing indicators in subscribed
// conversations.
func (s *Session) OnTyping(fn func(presence.UserTypingPayload)) Subscription {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.allocSub()
	s.typingSubs[id] = fn
	s.removals[id] = func() { delete(s.typingSubs, id) }
	return id
}

// OnMessage registers a callback for chat messages in subscribed
// conversations.
func (s *Session) OnMessage(fn func(presence.NewMessagePayload)) Subscription {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.allocSub()
	s.messageSubs[id] = fn
	s.removals[id] = func() { delete(s.messageSubs, id) }
	return id
}

// OnStatus registers a callback for connect and disconnect transitions.
func (s *Session) OnStatus(fn func(connected bool)) Subscription {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.allocSub()
	s.statusSubs[id] = fn
	s.removals[id] = func() { delete(s.statusSubs, id) }
	return id
}

// Unsubscribe removes a previously registered callback. Unknown tokens are
// ignored.
func (s *Session) Unsubscribe(sub Subscription) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if rm, ok := s.removals[sub]; ok {
		rm()
		delete(s.removals, sub)
	}
}

func (s *Session) allocSub() Subscription {
	s.nextSub++
	return s.nextSub
}

func (s *Session) dial(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < s.opts.DialAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.opts.DialBackoff):
			}
		}
		// A Disconnect issued mid-dial wins; do not bring the session back.
		if s.isClosed() {
			return errSessionClosed
		}
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, s.opts.URL, nil)
		if err != nil {
			lastErr = err
			s.logger.Debug("dial attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		if err := s.handshake(ws); err != nil {
			_ = ws.Close()
			if errors.Is(err, errSessionClosed) {
				return err
			}
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("dialing %s: giving up after %d attempts: %w", s.opts.URL, s.opts.DialAttempts, lastErr)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// handshake consumes the server's session grant and announces the
// participant, then installs the connection and starts the read loop.
func (s *Session) handshake(ws *websocket.Conn) error {
	_ = ws.SetReadDeadline(time.Now().Add(handshakeWait))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("awaiting session grant: %w", err)
	}
	env, err := presence.DecodeEnvelope(data)
	if err != nil {
		return fmt.Errorf("decoding session grant: %w", err)
	}
	if env.Event != presence.EventConnected {
		return fmt.Errorf("expected %q frame, got %q", presence.EventConnected, env.Event)
	}
	var grant presence.ConnectedPayload
	if err := env.Bind(&grant); err != nil {
		return err
	}
	_ = ws.SetReadDeadline(time.Time{})

	if s.isClosed() {
		return errSessionClosed
	}
	frame, err := presence.Encode(presence.EventJoinOffice, presence.JoinOfficePayload{
		UserID:   s.userID,
		Username: s.username,
	})
	if err != nil {
		return err
	}
	if err := s.write(ws, frame); err != nil {
		return fmt.Errorf("announcing join: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		// Disconnect won the race while the handshake was in flight; the
		// caller tears the socket down.
		s.mu.Unlock()
		return errSessionClosed
	}
	s.ws = ws
	s.sessionID = grant.SessionID
	s.connected = true
	s.mu.Unlock()

	s.peers.Clear()
	s.logger.Info("session established", observability.SessionID(grant.SessionID))
	s.notifyStatus(true)

	go s.readLoop(ws)
	return nil
}

func (s *Session) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			s.handleDrop(ws, err)
			return
		}
		env, err := presence.DecodeEnvelope(data)
		if err != nil {
			s.logger.Debug("discarding malformed frame", zap.Error(err))
			continue
		}
		s.dispatch(env)
	}
}

func (s *Session) dispatch(env presence.Envelope) {
	switch env.Event {
	case presence.EventCurrentPlayers:
		var p presence.CurrentPlayersPayload
		if err := env.Bind(&p); err != nil {
			return
		}
		s.mu.Lock()
		selfID := s.sessionID
		s.mu.Unlock()
		s.peers.Reset(p.Players, selfID)
		roster := s.peers.Snapshot()
		for _, fn := range s.rosterCallbacks() {
			fn(roster)
		}
	case presence.EventPlayerJoined:
		var p presence.PlayerJoinedPayload
		if err := env.Bind(&p); err != nil {
			return
		}
		rec := presence.Participant{SessionID: p.SessionID, UserID: p.UserID, Username: p.Username}
		s.peers.Upsert(rec)
		for _, fn := range s.joinedCallbacks() {
			fn(rec)
		}
	case presence.EventPlayerMoved:
		var p presence.PlayerMovedPayload
		if err := env.Bind(&p); err != nil {
			return
		}
		if !s.peers.Move(p.SessionID, p.Position, p.Rotation) {
			return
		}
		for _, fn := range s.movedCallbacks() {
			fn(p.SessionID, p.Position, p.Rotation)
		}
	case presence.EventPlayerLeft:
		var p presence.PlayerLeftPayload
		if err := env.Bind(&p); err != nil {
			return
		}
		s.peers.Remove(p.SessionID)
		for _, fn := range s.leftCallbacks() {
			fn(p.SessionID)
		}
	case presence.EventUserTyping:
		var p presence.UserTypingPayload
		if err := env.Bind(&p); err != nil {
			return
		}
		for _, fn := range s.typingCallbacks() {
			fn(p)
		}
	case presence.EventNewMessage:
		var p presence.NewMessagePayload
		if err := env.Bind(&p); err != nil {
			return
		}
		for _, fn := range s.messageCallbacks() {
			fn(p)
		}
	default:
		s.logger.Debug("ignoring unknown event", zap.String("event", env.Event))
	}
}

// handleDrop runs when the read loop exits. A user-initiated Disconnect has
// already swapped the connection out and notified; an unexpected drop marks
// the session down and, when enabled, redials for a brand-new session.
func (s *Session) handleDrop(ws *websocket.Conn, err error) {
	s.mu.Lock()
	if s.ws != ws {
		s.mu.Unlock()
		return
	}
	s.connected = false
	s.ws = nil
	s.sessionID = ""
	// Claim the dialing flag before releasing the lock so that neither a
	// user Connect nor a second drop can start a competing dial.
	redial := !s.closed && s.opts.Reconnect && !s.dialing
	if redial {
		s.dialing = true
	}
	s.mu.Unlock()

	s.throttle.Stop()
	s.peers.Clear()
	s.logger.Warn("connection dropped", zap.Error(err))
	s.notifyStatus(false)

	if !redial {
		return
	}
	go func() {
		err := s.dial(context.Background())
		s.mu.Lock()
		s.dialing = false
		s.mu.Unlock()
		if err != nil && !errors.Is(err, errSessionClosed) {
			s.logger.Warn("reconnect failed", zap.Error(err))
		}
	}()
}

func (s *Session) emit(event string, payload any) {
	s.mu.Lock()
	ws, connected := s.ws, s.connected
	s.mu.Unlock()
	if !connected {
		return
	}
	frame, err := presence.Encode(event, payload)
	if err != nil {
		return
	}
	if err := s.write(ws, frame); err != nil {
		s.logger.Debug("frame dropped", zap.String("event", event), zap.Error(err))
	}
}

func (s *Session) write(ws *websocket.Conn, frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, frame)
}

func (s *Session) notifyStatus(connected bool) {
	for _, fn := range s.statusCallbacks() {
		fn(connected)
	}
}

func (s *Session) rosterCallbacks() []func([]presence.Participant) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	out := make([]func([]presence.Participant), 0, len(s.rosterSubs))
	for _, fn := range s.rosterSubs {
		out = append(out, fn)
	}
	return out
}

func (s *Session) joinedCallbacks() []func(presence.Participant) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	out := make([]func(presence.Participant), 0, len(s.joinedSubs))
	for _, fn := range s.joinedSubs {
		out = append(out, fn)
	}
	return out
}

func (s *Session) movedCallbacks() []func(string, presence.Vector3, float64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	out := make([]func(string, presence.Vector3, float64), 0, len(s.movedSubs))
	for _, fn := range s.movedSubs {
		out = append(out, fn)
	}
	return out
}

func (s *Session) leftCallbacks() []func(string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	out := make([]func(string), 0, len(s.leftSubs))
	for _, fn := range s.leftSubs {
		out = append(out, fn)
	}
	return out
}

func (s *Session) typingCallbacks() []func(presence.UserTypingPayload) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	out := make([]func(presence.UserTypingPayload), 0, len(s.typingSubs))
	for _, fn := range s.typingSubs {
		out = append(out, fn)
	}
	return out
}

func (s *Session) messageCallbacks() []func(presence.NewMessagePayload) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	out := make([]func(presence.NewMessagePayload), 0, len(s.messageSubs))
	for _, fn := range s.messageSubs {
		out = append(out, fn)
	}
	return out
}

func (s *Session) statusCallbacks() []func(bool) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	out := make([]func(bool), 0, len(s.statusSubs))
	for _, fn := range s.statusSubs {
		out = append(out, fn)
	}
	return out
}
