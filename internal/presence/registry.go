package presence

import "sync"

// Registry tracks all active sessions and room occupancy. It is the single
// writer of the authoritative "who is in this room" state; the transport layer
// relays movement but never mutates another session's record directly.
// All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session            // sessionID → session
	roomSets map[string]map[string]struct{} // room → set of sessionIDs
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		roomSets: make(map[string]map[string]struct{}),
	}
}

// Join registers a session in the given room and returns the roster of every
// other participant already there, so the joining client can render existing
// avatars. A rejoin under an existing sessionID overwrites the previous entry
// (last write wins), moving the session if the room differs. The new record
// starts at the zero transform until the first movement update arrives.
//
// Precondition: sessionID and room must be non-empty.
// Postcondition: The session is present in exactly the given room.
func (r *Registry) Join(sessionID, room, userID, username string) []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.sessions[sessionID]; ok {
		r.removeFromRoomLocked(prev.Room, sessionID)
	}

	r.sessions[sessionID] = &Session{
		SessionID: sessionID,
		UserID:    userID,
		Username:  username,
		Room:      room,
	}
	if r.roomSets[room] == nil {
		r.roomSets[room] = make(map[string]struct{})
	}
	r.roomSets[room][sessionID] = struct{}{}

	return r.rosterLocked(room, sessionID)
}

// UpdateTransform overwrites the session's replicated transform and reports
// the room to rebroadcast into. An unknown sessionID (late message from a
// session that already left) returns ok=false; callers drop the update
// silently, it is not an error condition.
func (r *Registry) UpdateTransform(sessionID string, pos Vector3, rot float64) (room string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.sessions[sessionID]
	if !exists {
		return "", false
	}
	sess.Position = pos
	sess.Rotation = rot
	return sess.Room, true
}

// Leave removes the session and cleans up room occupancy, reporting which room
// it left so departure can be announced. Leaving twice, or leaving without
// having joined, returns ok=false and changes nothing.
func (r *Registry) Leave(sessionID string) (room string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.sessions[sessionID]
	if !exists {
		return "", false
	}
	r.removeFromRoomLocked(sess.Room, sessionID)
	delete(r.sessions, sessionID)
	return sess.Room, true
}

// Roster returns the ParticipantRecords of everyone in room, excluding
// excludeID when non-empty.
//
// Postcondition: Returns a non-nil slice (may be empty).
func (r *Registry) Roster(room, excludeID string) []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rosterLocked(room, excludeID)
}

// SessionIDs returns the IDs of all sessions in room, excluding excludeID
// when non-empty. This is the broadcast fan-out list.
func (r *Registry) SessionIDs(room, excludeID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids, ok := r.roomSets[room]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(ids))
	for id := range ids {
		if id == excludeID {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Get returns the replicated record for the given session.
//
// Postcondition: Returns (record, true) if the session is joined, or
// (zero, false) otherwise.
func (r *Registry) Get(sessionID string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		return Participant{}, false
	}
	return sess.Record(), true
}

// Count returns the total number of joined sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// RoomCount returns the number of non-empty rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roomSets)
}

func (r *Registry) rosterLocked(room, excludeID string) []Participant {
	ids := r.roomSets[room]
	out := make([]Participant, 0, len(ids))
	for id := range ids {
		if id == excludeID {
			continue
		}
		if sess, ok := r.sessions[id]; ok {
			out = append(out, sess.Record())
		}
	}
	return out
}

// removeFromRoomLocked drops sessionID from the room's occupancy set and
// discards the room once empty. Caller must hold r.mu.
func (r *Registry) removeFromRoomLocked(room, sessionID string) {
	set, ok := r.roomSets[room]
	if !ok {
		return
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(r.roomSets, room)
	}
}
