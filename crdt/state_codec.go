package crdt

import (
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Structs

// stateEnvelope wraps an encoded state with its type tag
// so that DecodeState can pick the right shape back out.
type stateEnvelope struct {
	Tag  string `msgpack:"tag"`
	Body []byte `msgpack:"body"`
}

// Functions

// EncodeState marshals a CRDT state for the snapshot
// record.
func EncodeState(s State) ([]byte, error) {

	body, err := msgpack.Marshal(s)
	if err != nil {
		return nil, errors.Wrapf(err, "marshalling %s state", s.Tag())
	}

	return msgpack.Marshal(&stateEnvelope{
		Tag:  s.Tag(),
		Body: body,
	})
}

// DecodeState is the inverse of EncodeState.
func DecodeState(data []byte) (State, error) {

	var env stateEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "unmarshalling state envelope")
	}

	s, err := New(env.Tag)
	if err != nil {
		return nil, err
	}

	if err := msgpack.Unmarshal(env.Body, s); err != nil {
		return nil, errors.Wrapf(err, "unmarshalling %s state", env.Tag)
	}

	return s, nil
}
