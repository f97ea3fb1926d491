package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officeverse/presence/internal/presence"
)

func participant(sessionID, username string) presence.Participant {
	return presence.Participant{SessionID: sessionID, UserID: "user-" + sessionID, Username: username}
}

func TestPeersResetExcludesSelf(t *testing.T) {
	p := NewPeers()
	p.Reset([]presence.Participant{
		participant("a", "alice"),
		participant("self", "me"),
		participant("b", "bob"),
	}, "self")

	require.Equal(t, 2, p.Len())
	_, ok := p.Get("self")
	assert.False(t, ok, "the local participant must never appear in the peer set")
}

func TestPeersResetDiscardsPriorState(t *testing.T) {
	p := NewPeers()
	p.Upsert(participant("stale", "ghost"))

	p.Reset([]presence.Participant{participant("a", "alice")}, "self")

	require.Equal(t, 1, p.Len())
	_, ok := p.Get("stale")
	assert.False(t, ok)
}

func TestPeersMoveUpdatesTransform(t *testing.T) {
	p := NewPeers()
	p.Upsert(participant("a", "alice"))

	ok := p.Move("a", presence.Vector3{X: 1, Y: 2, Z: 3}, 0.5)
	require.True(t, ok)

	rec, found := p.Get("a")
	require.True(t, found)
	assert.Equal(t, presence.Vector3{X: 1, Y: 2, Z: 3}, rec.Position)
	assert.InDelta(t, 0.5, rec.Rotation, 1e-9)
	assert.Equal(t, "alice", rec.Username, "identity must survive a move")
}

func TestPeersMoveForUnknownPeerIsDropped(t *testing.T) {
	p := NewPeers()

	ok := p.Move("never-seen", presence.Vector3{X: 1}, 0)

	assert.False(t, ok)
	assert.Zero(t, p.Len(), "a dropped move must not create an entry")
}

func TestPeersRemoveIsIdempotent(t *testing.T) {
	p := NewPeers()
	p.Upsert(participant("a", "alice"))

	p.Remove("a")
	p.Remove("a")

	assert.Zero(t, p.Len())
	assert.False(t, p.Move("a", presence.Vector3{}, 0), "a move after removal must be dropped")
}

func TestPeersSnapshotOrderedBySessionID(t *testing.T) {
	p := NewPeers()
	p.Upsert(participant("c", "carol"))
	p.Upsert(participant("a", "alice"))
	p.Upsert(participant("b", "bob"))

	snap := p.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "a", snap[0].SessionID)
	assert.Equal(t, "b", snap[1].SessionID)
	assert.Equal(t, "c", snap[2].SessionID)
}
