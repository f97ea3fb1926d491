package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/officeverse/presence/internal/config"
	"github.com/officeverse/presence/internal/observability"
	"github.com/officeverse/presence/internal/presence"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The office frontend is served from a different origin in every
		// deployment we run; identity is caller-supplied by design.
		return true
	},
}

// maxFrameSize caps inbound frames. Presence traffic is tiny; anything close
// to this limit is not a movement update.
const maxFrameSize = 64 << 10

// Handler owns the WebSocket endpoint: it upgrades connections, mints session
// IDs, and dispatches inbound frames against the room registry and hub.
type Handler struct {
	registry *presence.Registry
	hub      *Hub
	cfg      config.PresenceConfig
	logger   *zap.Logger
}

// NewHandler creates a Handler with the given dependencies.
//
// Precondition: registry, hub, and logger must be non-nil.
func NewHandler(registry *presence.Registry, hub *Hub, cfg config.PresenceConfig, logger *zap.Logger) *Handler {
	return &Handler{
		registry: registry,
		hub:      hub,
		cfg:      cfg,
		logger:   logger,
	}
}

// Handle upgrades the HTTP request and services the connection until the
// client disconnects. A transport drop is handled identically to an explicit
// leave_office.
func (h *Handler) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the response.
			h.logger.Debug("websocket upgrade failed", zap.Error(err))
			return
		}

		sessionID := uuid.NewString()
		conn := NewConnection(sessionID, ws, ConnOptions{
			SendBuffer:   h.cfg.SendBuffer,
			WriteTimeout: h.cfg.WriteTimeout,
			PingPeriod:   h.cfg.PingPeriod,
		})
		h.hub.Attach(conn)

		h.logger.Info("session connected", observability.SessionID(sessionID))

		defer func() {
			h.leaveOffice(sessionID)
			h.hub.Detach(sessionID)
			conn.Close(websocket.CloseNormalClosure, "session closed")
			h.logger.Info("session disconnected", observability.SessionID(sessionID))
		}()

		if frame, err := presence.Encode(presence.EventConnected, presence.ConnectedPayload{SessionID: sessionID}); err == nil {
			_ = conn.Send(frame)
		}

		ws.SetReadLimit(maxFrameSize)
		_ = ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		})

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				if !isExpectedClose(err) {
					h.logger.Debug("read failed",
						observability.SessionID(sessionID),
						zap.Error(err),
					)
				}
				return
			}
			_ = ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))

			env, err := presence.DecodeEnvelope(data)
			if err != nil {
				h.logger.Debug("dropping malformed frame",
					observability.SessionID(sessionID),
					zap.Error(err),
				)
				continue
			}

			h.dispatch(sessionID, env)
		}
	}
}

// dispatch routes one inbound frame. Unknown events and malformed payloads
// are dropped without a reply; movement is superseded by the next tick anyway.
func (h *Handler) dispatch(sessionID string, env presence.Envelope) {
	switch env.Event {
	case presence.EventJoinOffice:
		h.joinOffice(sessionID, env)
	case presence.EventPlayerMove:
		h.playerMove(sessionID, env)
	case presence.EventLeaveOffice:
		h.leaveOffice(sessionID)
	case presence.EventJoinConversation:
		h.joinConversation(sessionID, env)
	case presence.EventLeaveConversation:
		h.leaveConversation(sessionID, env)
	case presence.EventTyping:
		h.typing(sessionID, env)
	default:
		h.logger.Debug("dropping unknown event",
			observability.SessionID(sessionID),
			zap.String("event", env.Event),
		)
	}
}

func (h *Handler) joinOffice(sessionID string, env presence.Envelope) {
	var p presence.JoinOfficePayload
	if err := env.Bind(&p); err != nil {
		h.logger.Debug("dropping malformed join", observability.SessionID(sessionID), zap.Error(err))
		return
	}

	roster := h.registry.Join(sessionID, h.cfg.Room, p.UserID, p.Username)

	// Reply to the joiner with everyone already present.
	if frame, err := presence.Encode(presence.EventCurrentPlayers, presence.CurrentPlayersPayload{Players: roster}); err == nil {
		_ = h.hub.Send(sessionID, frame)
	}

	// Announce the arrival to the rest of the room.
	h.broadcast(h.cfg.Room, sessionID, presence.EventPlayerJoined, presence.PlayerJoinedPayload{
		SessionID: sessionID,
		UserID:    p.UserID,
		Username:  p.Username,
	})

	h.logger.Info("joined office",
		observability.SessionID(sessionID),
		zap.String("user_id", p.UserID),
		zap.String("username", p.Username),
		zap.Int("roster_size", len(roster)),
	)
}

func (h *Handler) playerMove(sessionID string, env presence.Envelope) {
	var p presence.MovePayload
	if err := env.Bind(&p); err != nil {
		h.logger.Debug("dropping malformed move", observability.SessionID(sessionID), zap.Error(err))
		return
	}
	pos, rot, ok := p.Transform()
	if !ok {
		h.logger.Debug("dropping incomplete move", observability.SessionID(sessionID))
		return
	}

	room, ok := h.registry.UpdateTransform(sessionID, pos, rot)
	if !ok {
		// Stale message from a session that already left. Benign.
		return
	}

	h.broadcast(room, sessionID, presence.EventPlayerMoved, presence.PlayerMovedPayload{
		SessionID: sessionID,
		Position:  pos,
		Rotation:  rot,
	})
}

// leaveOffice removes the session from its room and announces the departure.
// Safe to call when the session never joined or already left.
func (h *Handler) leaveOffice(sessionID string) {
	room, ok := h.registry.Leave(sessionID)
	if !ok {
		return
	}

	h.broadcast(room, sessionID, presence.EventPlayerLeft, presence.PlayerLeftPayload{SessionID: sessionID})

	h.logger.Info("left office",
		observability.SessionID(sessionID),
		observability.Room(room),
	)
}

func (h *Handler) joinConversation(sessionID string, env presence.Envelope) {
	var p presence.ConversationPayload
	if err := env.Bind(&p); err != nil || p.ConversationID == "" {
		return
	}
	h.hub.Subscribe(p.ConversationID, sessionID)
}

func (h *Handler) leaveConversation(sessionID string, env presence.Envelope) {
	var p presence.ConversationPayload
	if err := env.Bind(&p); err != nil || p.ConversationID == "" {
		return
	}
	h.hub.Unsubscribe(p.ConversationID, sessionID)
}

func (h *Handler) typing(sessionID string, env presence.Envelope) {
	var p presence.ConversationPayload
	if err := env.Bind(&p); err != nil || p.ConversationID == "" {
		return
	}

	// Identity comes from the office roster; a session that never joined
	// has no name to relay.
	rec, ok := h.registry.Get(sessionID)
	if !ok {
		return
	}

	frame, err := presence.Encode(presence.EventUserTyping, presence.UserTypingPayload{
		ConversationID: p.ConversationID,
		UserID:         rec.UserID,
		Username:       rec.Username,
	})
	if err != nil {
		return
	}
	h.hub.SendTo(h.hub.Subscribers(p.ConversationID, sessionID), frame)
}

// NotifyNewMessage fans a persisted chat message out to the conversation's
// subscribers. Called by the REST layer after a successful insert; delivery
// is best-effort and never fails the originating request.
func (h *Handler) NotifyNewMessage(conversationID string, message json.RawMessage) {
	frame, err := presence.Encode(presence.EventNewMessage, presence.NewMessagePayload{
		ConversationID: conversationID,
		Message:        message,
	})
	if err != nil {
		h.logger.Error("encoding new_message frame", zap.Error(err))
		return
	}
	delivered := h.hub.SendTo(h.hub.Subscribers(conversationID, ""), frame)
	h.logger.Debug("new message fanned out",
		observability.Conversation(conversationID),
		zap.Int("delivered", delivered),
	)
}

// broadcast encodes one event and pushes it to every session in the room
// except the originator.
func (h *Handler) broadcast(room, excludeID, event string, payload any) {
	frame, err := presence.Encode(event, payload)
	if err != nil {
		h.logger.Error("encoding broadcast frame", zap.String("event", event), zap.Error(err))
		return
	}
	h.hub.SendTo(h.registry.SessionIDs(room, excludeID), frame)
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) || errors.Is(err, websocket.ErrCloseSent)
}
