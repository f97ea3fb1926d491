// Package presence provides session tracking and room occupancy management
// for the virtual office backend: which sessions are joined to which room,
// the last-written avatar transform per session, and the rosters handed to
// newly joining clients.
package presence

// Vector3 is a position in world coordinates.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Participant is the replicated state peers render for one session: identity
// plus the latest transform. Rotation is yaw only; the office camera never
// replicates pitch or roll.
type Participant struct {
	SessionID string  `json:"session_id"`
	UserID    string  `json:"user_id"`
	Username  string  `json:"username"`
	Position  Vector3 `json:"position"`
	Rotation  float64 `json:"rotation"`
}

// Session tracks one connected client's registry state. A session exists from
// the moment the client joins a room until it leaves or its connection drops;
// nothing about it survives process restart.
type Session struct {
	// SessionID is the server-minted identifier, unique per connection.
	SessionID string
	// UserID is the client-supplied account identifier. Not unique across
	// sessions: one user may hold several tabs open.
	UserID string
	// Username is the display name shown on the avatar nameplate.
	Username string
	// Room is the office room this session currently occupies.
	Room string
	// Position is the last-written avatar position.
	Position Vector3
	// Rotation is the last-written avatar yaw.
	Rotation float64
}

// Record returns the session's replicated view.
func (s *Session) Record() Participant {
	return Participant{
		SessionID: s.SessionID,
		UserID:    s.UserID,
		Username:  s.Username,
		Position:  s.Position,
		Rotation:  s.Rotation,
	}
}
