package comm

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/lawRathod/minidote/crdt"
)

// Constants

// Set the maximum number of bytes a framed envelope is
// allowed to carry to (256 * 1024 * 1024 B) + 2048 B
// (buffer) > 256 MiB. Symmetric - send and receive bound.
const maxFrameSize = 268437504

// Structs

// EffectEntry pairs the key of one replicated object
// with the encoded effect to apply on it. The effect
// bytes stay opaque to this layer.
type EffectEntry struct {
	Key    crdt.Key `msgpack:"key"`
	Effect []byte   `msgpack:"effect"`
}

// Envelope carries the effects of one locally applied
// update batch between replicas. All effects of a batch
// share the origin's clock after that batch, so they
// travel and are admitted together; the single clock
// increment per batch would otherwise make a batch's
// later effects indistinguishable from duplicates.
type Envelope struct {
	Effects []EffectEntry `msgpack:"effects"`
	Origin  string        `msgpack:"origin"`
	VClock  VClock        `msgpack:"vclock"`
}

// Functions

// MarshalBinary encodes the envelope for the wire.
func (env *Envelope) MarshalBinary() ([]byte, error) {

	// Encode through a method-less copy of the type:
	// msgpack hands any encoding.BinaryMarshaler back to
	// its MarshalBinary, which would recurse endlessly.
	type plainEnvelope Envelope

	data, err := msgpack.Marshal((*plainEnvelope)(env))
	if err != nil {
		return nil, errors.Wrap(err, "marshalling envelope")
	}

	return data, nil
}

// ParseEnvelope decodes a received envelope and validates
// the parts the engine relies on.
func ParseEnvelope(data []byte) (*Envelope, error) {

	env := &Envelope{}

	if err := msgpack.Unmarshal(data, env); err != nil {
		return nil, errors.Wrap(err, "unmarshalling envelope")
	}

	if env.Origin == "" {
		return nil, fmt.Errorf("invalid envelope: origin replica name is missing")
	}

	if len(env.Effects) == 0 {
		return nil, fmt.Errorf("invalid envelope: effect payload is missing")
	}

	for _, entry := range env.Effects {

		if len(entry.Effect) == 0 {
			return nil, fmt.Errorf("invalid envelope: empty effect for key %s", entry.Key)
		}
	}

	env.VClock = Normalize(env.VClock)

	return env, nil
}

// WriteFrame writes data length-prefixed onto w. The
// prefix is a 4 byte big-endian length so that binary
// msgpack payloads pass through unharmed.
func WriteFrame(w io.Writer, data []byte) error {

	if len(data) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds maximum of %d bytes", len(data), maxFrameSize)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))

	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}

	_, err := w.Write(data)

	return err
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {

	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds maximum of %d bytes", length, maxFrameSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}

	return data, nil
}
