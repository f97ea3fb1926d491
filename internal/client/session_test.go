package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/officeverse/presence/internal/config"
	"github.com/officeverse/presence/internal/presence"
	"github.com/officeverse/presence/internal/realtime"
)

type testServer struct {
	registry *presence.Registry
	hub      *realtime.Hub
	url      string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := presence.NewRegistry()
	hub := realtime.NewHub()
	cfg := config.PresenceConfig{
		Room:         "office",
		MoveThrottle: 100 * time.Millisecond,
		SendBuffer:   32,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		PingPeriod:   50 * time.Second,
	}
	handler := realtime.NewHandler(registry, hub, cfg, zap.NewNop())

	engine := gin.New()
	engine.GET("/ws", handler.Handle())
	srv := httptest.NewServer(engine)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	return &testServer{
		registry: registry,
		hub:      hub,
		url:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func newTestSession(t *testing.T, url string) *Session {
	t.Helper()
	s := NewSession(Options{URL: url, Logger: zap.NewNop()})
	t.Cleanup(s.Disconnect)
	return s
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		panic("unreachable")
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	srv := newTestServer(t)
	s := newTestSession(t, srv.url)
	ctx := context.Background()

	require.NoError(t, s.Connect(ctx, "u1", "alice"))
	first := s.SessionID()
	require.NotEmpty(t, first)

	require.NoError(t, s.Connect(ctx, "u1", "alice"))
	assert.Equal(t, first, s.SessionID(), "a second connect must reuse the live session")

	require.Eventually(t, func() bool { return srv.registry.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, srv.hub.Count())
}

func TestDisconnectOnIdleSessionIsNoOp(t *testing.T) {
	srv := newTestServer(t)
	s := newTestSession(t, srv.url)

	s.Disconnect()
	assert.False(t, s.Connected())
	assert.Empty(t, s.SessionID())
}

func TestTwoParticipantScenario(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	a := newTestSession(t, srv.url)
	rosterA := make(chan []presence.Participant, 4)
	a.OnRoster(func(r []presence.Participant) { rosterA <- r })
	joinedA := make(chan presence.Participant, 4)
	a.OnJoined(func(p presence.Participant) { joinedA <- p })

	require.NoError(t, a.Connect(ctx, "u1", "alice"))
	assert.Empty(t, recv(t, rosterA), "first participant must see an empty roster")

	b := newTestSession(t, srv.url)
	rosterB := make(chan []presence.Participant, 4)
	b.OnRoster(func(r []presence.Participant) { rosterB <- r })

	require.NoError(t, b.Connect(ctx, "u2", "bob"))

	roster := recv(t, rosterB)
	require.Len(t, roster, 1)
	assert.Equal(t, a.SessionID(), roster[0].SessionID)
	assert.Equal(t, "alice", roster[0].Username)

	arrival := recv(t, joinedA)
	assert.Equal(t, b.SessionID(), arrival.SessionID)
	assert.Equal(t, "bob", arrival.Username)

	// B moves; A's replica follows.
	type move struct {
		sessionID string
		pos       presence.Vector3
		rot       float64
	}
	movedA := make(chan move, 4)
	a.OnMoved(func(id string, pos presence.Vector3, rot float64) { movedA <- move{id, pos, rot} })

	b.EmitMove(presence.Vector3{X: 1, Y: 1, Z: 1}, 0.5)

	m := recv(t, movedA)
	assert.Equal(t, b.SessionID(), m.sessionID)
	assert.Equal(t, presence.Vector3{X: 1, Y: 1, Z: 1}, m.pos)
	assert.InDelta(t, 0.5, m.rot, 1e-9)

	rec, ok := a.Peers().Get(b.SessionID())
	require.True(t, ok)
	assert.Equal(t, presence.Vector3{X: 1, Y: 1, Z: 1}, rec.Position)

	// B disconnects; A's replica empties.
	leftA := make(chan string, 4)
	a.OnLeft(func(id string) { leftA <- id })
	bID := b.SessionID()

	b.Disconnect()

	assert.Equal(t, bID, recv(t, leftA))
	require.Eventually(t, func() bool { return a.Peers().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEmitMoveIsThrottledAtTheLeadingEdge(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	a := newTestSession(t, srv.url)
	require.NoError(t, a.Connect(ctx, "u1", "alice"))

	b := NewSession(Options{URL: srv.url, ThrottleWindow: 300 * time.Millisecond, Logger: zap.NewNop()})
	t.Cleanup(b.Disconnect)
	require.NoError(t, b.Connect(ctx, "u2", "bob"))

	moved := make(chan struct{}, 16)
	a.OnMoved(func(string, presence.Vector3, float64) { moved <- struct{}{} })

	for i := 0; i < 8; i++ {
		b.EmitMove(presence.Vector3{X: float64(i)}, 0)
	}

	recv(t, moved)
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, moved, "a burst inside one window must reach the room exactly once")
}

func TestEmitMoveWhileDisconnectedIsDropped(t *testing.T) {
	srv := newTestServer(t)
	s := newTestSession(t, srv.url)

	// Must not panic or enqueue anything.
	s.EmitMove(presence.Vector3{X: 1}, 0)
	assert.Zero(t, srv.registry.Count())
}

func TestUnsubscribeRemovesCallback(t *testing.T) {
	srv := newTestServer(t)
	s := newTestSession(t, srv.url)

	status := make(chan bool, 4)
	sub := s.OnStatus(func(connected bool) { status <- connected })
	s.Unsubscribe(sub)
	s.Unsubscribe(sub) // unknown token is ignored

	require.NoError(t, s.Connect(context.Background(), "u1", "alice"))
	assert.Empty(t, status)
}

func TestDisconnectWinsOverPendingReconnect(t *testing.T) {
	srv := newTestServer(t)

	s := NewSession(Options{
		URL:          srv.url,
		Reconnect:    true,
		DialAttempts: 10,
		DialBackoff:  100 * time.Millisecond,
		Logger:       zap.NewNop(),
	})
	t.Cleanup(s.Disconnect)

	status := make(chan bool, 8)
	s.OnStatus(func(connected bool) { status <- connected })

	require.NoError(t, s.Connect(context.Background(), "u1", "alice"))
	require.True(t, recv(t, status))

	// Drop the connection server-side, then disconnect the moment the drop
	// is observed, while the redial is still in flight.
	srv.hub.Close()
	require.False(t, recv(t, status))
	s.Disconnect()

	// Give any straggling dial ample time to finish, then make sure it did
	// not resurrect the session.
	time.Sleep(500 * time.Millisecond)
	assert.False(t, s.Connected(), "session must stay disconnected after an explicit Disconnect")
	assert.Empty(t, s.SessionID())
	assert.Zero(t, srv.registry.Count())
	assert.Zero(t, srv.hub.Count())
}

func TestConnectDuringReconnectKeepsOneSession(t *testing.T) {
	srv := newTestServer(t)

	s := NewSession(Options{
		URL:          srv.url,
		Reconnect:    true,
		DialAttempts: 10,
		DialBackoff:  50 * time.Millisecond,
		Logger:       zap.NewNop(),
	})
	t.Cleanup(s.Disconnect)

	status := make(chan bool, 8)
	s.OnStatus(func(connected bool) { status <- connected })

	require.NoError(t, s.Connect(context.Background(), "u1", "alice"))
	require.True(t, recv(t, status))

	srv.hub.Close()
	require.False(t, recv(t, status))

	// Racing Connect calls must not open a second dial alongside the
	// automatic one.
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Connect(context.Background(), "u1", "alice"))
	}

	require.True(t, recv(t, status))
	require.Eventually(t, func() bool { return srv.hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, srv.hub.Count(), "exactly one live connection after the reconnect settles")
	assert.Equal(t, 1, srv.registry.Count())
}

func TestReconnectYieldsFreshSession(t *testing.T) {
	srv := newTestServer(t)

	s := NewSession(Options{
		URL:          srv.url,
		Reconnect:    true,
		DialAttempts: 10,
		DialBackoff:  50 * time.Millisecond,
		Logger:       zap.NewNop(),
	})
	t.Cleanup(s.Disconnect)

	status := make(chan bool, 8)
	s.OnStatus(func(connected bool) { status <- connected })
	rosters := make(chan []presence.Participant, 8)
	s.OnRoster(func(r []presence.Participant) { rosters <- r })

	require.NoError(t, s.Connect(context.Background(), "u1", "alice"))
	require.True(t, recv(t, status))
	recv(t, rosters)
	first := s.SessionID()

	// Server-side drop; the session must come back on its own.
	srv.hub.Close()

	require.False(t, recv(t, status))
	require.True(t, recv(t, status))
	recv(t, rosters)

	second := s.SessionID()
	assert.NotEmpty(t, second)
	assert.NotEqual(t, first, second, "a reconnect is a brand-new session")
}
