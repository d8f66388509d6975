package comm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawRathod/minidote/crdt"
)

// Functions

// TestEnvelopeRoundTrip checks that an envelope survives
// marshalling and parsing with key, origin, clock and the
// opaque effect bytes intact.
func TestEnvelopeRoundTrip(t *testing.T) {

	clock := NewVClock()
	clock.Increment("worker-1")
	clock.Increment("worker-2")

	env := &Envelope{
		Effects: []EffectEntry{
			{
				Key: crdt.Key{
					Namespace: "mail",
					Type:      crdt.TypeAWSet,
					ID:        "inbox",
				},
				Effect: []byte{0x00, 0x01, 0xFF, '\n', 0x7C},
			},
			{
				Key: crdt.Key{
					Namespace: "mail",
					Type:      crdt.TypeEWFlag,
					ID:        "seen",
				},
				Effect: []byte{0x42},
			},
		},
		Origin: "worker-1",
		VClock: clock,
	}

	data, err := env.MarshalBinary()
	require.Nil(t, err)

	parsed, err := ParseEnvelope(data)
	require.Nil(t, err)

	assert.Equal(t, env.Effects, parsed.Effects)
	assert.Equal(t, env.Origin, parsed.Origin)
	assert.Equal(t, OrdEqual, env.VClock.Compare(parsed.VClock))
}

// TestParseEnvelopeRejectsIncomplete checks that the
// parts the engine relies on are validated.
func TestParseEnvelopeRejectsIncomplete(t *testing.T) {

	// Messages without an origin are discarded.
	env := &Envelope{
		Effects: []EffectEntry{
			{Key: crdt.Key{Namespace: "n", Type: crdt.TypeEWFlag, ID: "f"}, Effect: []byte{0x01}},
		},
	}

	data, err := env.MarshalBinary()
	require.Nil(t, err)

	_, err = ParseEnvelope(data)
	assert.NotNil(t, err)

	// Messages without an effect payload are discarded.
	env = &Envelope{
		Origin: "worker-1",
	}

	data, err = env.MarshalBinary()
	require.Nil(t, err)

	_, err = ParseEnvelope(data)
	assert.NotNil(t, err)

	// Garbage is discarded.
	_, err = ParseEnvelope([]byte("definitely not msgpack"))
	assert.NotNil(t, err)
}

// TestFraming checks that binary payloads pass the
// length-prefixed framing unharmed and back to back.
func TestFraming(t *testing.T) {

	var buf bytes.Buffer

	first := []byte{0x00, '\n', 0xFF}
	second := []byte("second frame")

	require.Nil(t, WriteFrame(&buf, first))
	require.Nil(t, WriteFrame(&buf, second))

	got, err := ReadFrame(&buf)
	require.Nil(t, err)
	assert.Equal(t, first, got)

	got, err = ReadFrame(&buf)
	require.Nil(t, err)
	assert.Equal(t, second, got)

	// A truncated stream must surface as an error.
	buf.Reset()
	buf.Write([]byte{0x00, 0x00, 0x00, 0x10, 0x01})

	_, err = ReadFrame(&buf)
	assert.NotNil(t, err)
}
