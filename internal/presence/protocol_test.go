package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFrame(t *testing.T) {
	frame, err := Encode(EventPlayerJoined, PlayerJoinedPayload{
		SessionID: "s1", UserID: "u1", Username: "Alice",
	})
	require.NoError(t, err)

	env, err := DecodeEnvelope(frame)
	require.NoError(t, err)
	assert.Equal(t, EventPlayerJoined, env.Event)

	var p PlayerJoinedPayload
	require.NoError(t, env.Bind(&p))
	assert.Equal(t, "s1", p.SessionID)
	assert.Equal(t, "Alice", p.Username)
}

func TestEncodeNilPayload(t *testing.T) {
	frame, err := Encode(EventLeaveOffice, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"event":"leave_office"}`, string(frame))
}

func TestDecodeEnvelopeMalformed(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`not json`))
	assert.Error(t, err)

	_, err = DecodeEnvelope([]byte(`{"data":{}}`))
	assert.Error(t, err, "missing event name must be rejected")
}

func TestBindMissingData(t *testing.T) {
	env := Envelope{Event: EventPlayerMove}
	var p MovePayload
	assert.Error(t, env.Bind(&p))
}

func TestMovePayloadTransform(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	full := MovePayload{
		Position: &MoveVector{X: f(1), Y: f(2), Z: f(3)},
		Rotation: f(0.5),
	}
	pos, rot, ok := full.Transform()
	require.True(t, ok)
	assert.Equal(t, Vector3{X: 1, Y: 2, Z: 3}, pos)
	assert.Equal(t, 0.5, rot)

	// Zero values are legitimate, not missing.
	zero := MovePayload{
		Position: &MoveVector{X: f(0), Y: f(0), Z: f(0)},
		Rotation: f(0),
	}
	_, _, ok = zero.Transform()
	assert.True(t, ok)
}

func TestMovePayloadTransformMalformed(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	cases := map[string]MovePayload{
		"no position": {Rotation: f(1)},
		"no rotation": {Position: &MoveVector{X: f(1), Y: f(1), Z: f(1)}},
		"missing x":   {Position: &MoveVector{Y: f(1), Z: f(1)}, Rotation: f(1)},
		"missing y":   {Position: &MoveVector{X: f(1), Z: f(1)}, Rotation: f(1)},
		"missing z":   {Position: &MoveVector{X: f(1), Y: f(1)}, Rotation: f(1)},
		"empty":       {},
	}
	for name, p := range cases {
		_, _, ok := p.Transform()
		assert.False(t, ok, "case %q must be rejected", name)
	}
}

func TestMovePayloadNonNumericRejected(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"event":"player_move","data":{"position":{"x":"a","y":1,"z":1},"rotation":0}}`))
	require.NoError(t, err)

	var p MovePayload
	assert.Error(t, env.Bind(&p), "non-numeric coordinate must fail to bind")
}
