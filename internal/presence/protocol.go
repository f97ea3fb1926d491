package presence

import (
	"encoding/json"
	"fmt"
)

// Wire event names. Frames are JSON text messages {"event": ..., "data": ...}
// in both directions.
const (
	// EventConnected is sent by the server immediately after accepting a
	// connection, carrying the minted session ID.
	EventConnected = "connected"

	// EventJoinOffice is the client's join announcement.
	EventJoinOffice = "join_office"
	// EventCurrentPlayers is the roster reply sent only to the joiner.
	EventCurrentPlayers = "current_players"
	// EventPlayerJoined announces a new participant to everyone else.
	EventPlayerJoined = "player_joined"

	// EventPlayerMove is the client-authoritative transform update.
	EventPlayerMove = "player_move"
	// EventPlayerMoved relays a transform update to the rest of the room.
	EventPlayerMoved = "player_moved"

	// EventLeaveOffice is the client's best-effort leave notice.
	EventLeaveOffice = "leave_office"
	// EventPlayerLeft announces a departure to the remaining participants.
	EventPlayerLeft = "player_left"

	// EventJoinConversation subscribes the session to a chat conversation's
	// realtime feed; EventLeaveConversation unsubscribes it.
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"

	// EventTyping is relayed to a conversation's other subscribers as
	// EventUserTyping.
	EventTyping     = "typing"
	EventUserTyping = "user_typing"

	// EventNewMessage fans a freshly persisted chat message out to the
	// conversation's subscribers.
	EventNewMessage = "new_message"
)

// Envelope is the frame shape shared by every event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Bind unmarshals the envelope's data into v.
func (e Envelope) Bind(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %q has no data", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decoding %q data: %w", e.Event, err)
	}
	return nil
}

// Encode builds the serialized frame for an event and payload. A nil payload
// produces a frame with no data member.
func Encode(event string, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %q data: %w", event, err)
		}
		env.Data = data
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding %q frame: %w", event, err)
	}
	return frame, nil
}

// DecodeEnvelope parses a raw frame into its envelope.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("frame has no event name")
	}
	return env, nil
}

// ConnectedPayload carries the server-assigned session identity.
type ConnectedPayload struct {
	SessionID string `json:"session_id"`
}

// JoinOfficePayload is the client-supplied identity sent on join.
type JoinOfficePayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// CurrentPlayersPayload is the initial roster for a joining client.
type CurrentPlayersPayload struct {
	Players []Participant `json:"players"`
}

// PlayerJoinedPayload announces a new session to the rest of the room.
type PlayerJoinedPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
}

// MoveVector mirrors Vector3 with pointer fields so that absent coordinates
// are distinguishable from legitimate zeros during validation.
type MoveVector struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	Z *float64 `json:"z"`
}

// MovePayload is the inbound transform update. Fields are pointers because a
// malformed frame (missing position, missing rotation, missing coordinate) is
// dropped rather than defaulted.
type MovePayload struct {
	Position *MoveVector `json:"position"`
	Rotation *float64    `json:"rotation"`
}

// Transform validates the payload and returns the decoded transform.
//
// Postcondition: ok is true only when position x/y/z and rotation are all present.
func (p MovePayload) Transform() (pos Vector3, rot float64, ok bool) {
	if p.Position == nil || p.Rotation == nil {
		return Vector3{}, 0, false
	}
	if p.Position.X == nil || p.Position.Y == nil || p.Position.Z == nil {
		return Vector3{}, 0, false
	}
	return Vector3{X: *p.Position.X, Y: *p.Position.Y, Z: *p.Position.Z}, *p.Rotation, true
}

// PlayerMovedPayload relays one session's transform to its room.
type PlayerMovedPayload struct {
	SessionID string  `json:"session_id"`
	Position  Vector3 `json:"position"`
	Rotation  float64 `json:"rotation"`
}

// PlayerLeftPayload announces a departure.
type PlayerLeftPayload struct {
	SessionID string `json:"session_id"`
}

// ConversationPayload names the conversation for subscribe, unsubscribe, and
// typing frames.
type ConversationPayload struct {
	ConversationID string `json:"conversation_id"`
}

// UserTypingPayload relays a typing indicator to a conversation's subscribers.
type UserTypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
}

// NewMessagePayload fans a persisted message out to a conversation. Message
// is kept opaque here; the storage layer owns its shape.
type NewMessagePayload struct {
	ConversationID string          `json:"conversation_id"`
	Message        json.RawMessage `json:"message"`
}
