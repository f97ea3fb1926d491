package realtime

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Hub tracks live connections by session ID and conversation subscriptions
// for chat fan-out. Room occupancy for presence lives in the registry, not
// here; the hub only knows how to reach a session.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*Connection         // sessionID → connection
	channels map[string]map[string]struct{} // conversationID → set of sessionIDs
	subs     map[string]map[string]struct{} // sessionID → set of conversationIDs
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{
		conns:    make(map[string]*Connection),
		channels: make(map[string]map[string]struct{}),
		subs:     make(map[string]map[string]struct{}),
	}
}

// Attach registers a connection and starts its write loop.
//
// Precondition: conn must not already be attached.
func (h *Hub) Attach(conn *Connection) {
	h.mu.Lock()
	h.conns[conn.SessionID] = conn
	h.subs[conn.SessionID] = make(map[string]struct{})
	h.mu.Unlock()

	conn.Start()
}

// Detach removes a connection and all of its conversation subscriptions.
// Detaching an unknown session is a no-op.
func (h *Hub) Detach(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[sessionID]; !ok {
		return
	}
	delete(h.conns, sessionID)
	for channel := range h.subs[sessionID] {
		h.unsubscribeLocked(channel, sessionID)
	}
	delete(h.subs, sessionID)
}

// Send delivers a frame to one session. Returns false when the session is not
// attached or its connection refused the frame.
func (h *Hub) Send(sessionID string, frame []byte) bool {
	h.mu.RLock()
	conn := h.conns[sessionID]
	h.mu.RUnlock()

	if conn == nil {
		return false
	}
	return conn.Send(frame) == nil
}

// SendTo delivers a frame to each listed session, skipping any that are no
// longer attached. Returns the number of successful deliveries.
func (h *Hub) SendTo(sessionIDs []string, frame []byte) int {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		if conn := h.conns[id]; conn != nil {
			conns = append(conns, conn)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range conns {
		if conn.Send(frame) == nil {
			delivered++
		}
	}
	return delivered
}

// Subscribe adds the session to a conversation channel. Unknown sessions are
// ignored so a race with Detach cannot resurrect state.
func (h *Hub) Subscribe(channel, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[sessionID]; !ok {
		return
	}
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[string]struct{})
	}
	h.channels[channel][sessionID] = struct{}{}
	h.subs[sessionID][channel] = struct{}{}
}

// Unsubscribe removes the session from a conversation channel. No-op when the
// session is not subscribed.
func (h *Hub) Unsubscribe(channel, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(channel, sessionID)
	if subs, ok := h.subs[sessionID]; ok {
		delete(subs, channel)
	}
}

// Subscribers returns the session IDs subscribed to a channel, excluding
// excludeID when non-empty.
func (h *Hub) Subscribers(channel, excludeID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members, ok := h.channels[channel]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(members))
	for id := range members {
		if id == excludeID {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Count returns the number of attached connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close terminates every tracked connection and clears hub state.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[string]*Connection)
	h.channels = make(map[string]map[string]struct{})
	h.subs = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.CloseGoingAway, "server shutdown")
	}
}

func (h *Hub) unsubscribeLocked(channel, sessionID string) {
	members := h.channels[channel]
	if members == nil {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(h.channels, channel)
	}
}
