package client

import (
	"sort"
	"sync"

	"github.com/officeverse/presence/internal/presence"
)

// Peers is the local replica of the remote avatars in the room, keyed by
// session ID. It never contains the local participant. Safe for concurrent
// use.
type Peers struct {
	mu      sync.RWMutex
	records map[string]presence.Participant
}

// NewPeers returns an empty peer set.
func NewPeers() *Peers {
	return &Peers{records: make(map[string]presence.Participant)}
}

// Reset replaces the entire peer set with the given roster, discarding any
// prior state. Entries matching selfID are skipped.
func (p *Peers) Reset(roster []presence.Participant, selfID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = make(map[string]presence.Participant, len(roster))
	for _, rec := range roster {
		if rec.SessionID == selfID {
			continue
		}
		p.records[rec.SessionID] = rec
	}
}

// Upsert adds or replaces a peer record.
func (p *Peers) Upsert(rec presence.Participant) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records[rec.SessionID] = rec
}

// Move applies a transform update to an existing peer. Updates for unknown
// session IDs are dropped and Move reports false; there is no buffering of
// early arrivals.
func (p *Peers) Move(sessionID string, pos presence.Vector3, rot float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[sessionID]
	if !ok {
		return false
	}
	rec.Position = pos
	rec.Rotation = rot
	p.records[sessionID] = rec
	return true
}

// Remove deletes a peer. Removing an unknown session ID is a no-op.
func (p *Peers) Remove(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.records, sessionID)
}

// Clear empties the peer set.
func (p *Peers) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = make(map[string]presence.Participant)
}

// Get returns the record for a session ID if present.
func (p *Peers) Get(sessionID string) (presence.Participant, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.records[sessionID]
	return rec, ok
}

// Snapshot returns all peer records ordered by session ID.
func (p *Peers) Snapshot() []presence.Participant {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]presence.Participant, 0, len(p.records))
	for _, rec := range p.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Len returns the number of tracked peers.
func (p *Peers) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.records)
}
