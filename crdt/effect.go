package crdt

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Constants

// One discriminator byte per effect shape, prepended to
// the msgpack body by EncodeEffect.
const (
	effCounterDelta byte = 'c'
	effPNBucket     byte = 'p'
	effAWAdd        byte = 'a'
	effAWRemove     byte = 'r'
	effTPAdd        byte = 'A'
	effTPRemove     byte = 'R'
	effMVWrite      byte = 'w'
	effFlagEnable   byte = 'e'
	effFlagDisable  byte = 'd'
)

// Structs

// Effect is the downstream payload of one update,
// produced at the origin and applied on every replica.
// The set of implementations is sealed.
type Effect interface {
	discriminator() byte
	sealedEffect()
}

// CounterDelta is the effect of the operation-based
// PN-counter: a signed delta to add.
type CounterDelta struct {
	Delta int64 `msgpack:"delta"`
}

// PNBucketAdd is the effect of the state-based
// PN-counter: n is added to the origin's entry in the
// positive or negative bucket.
type PNBucketAdd struct {
	Negative bool   `msgpack:"negative"`
	Origin   string `msgpack:"origin"`
	N        uint64 `msgpack:"n"`
}

// TaggedElem pairs an element with the unique token
// minted for its add.
type TaggedElem struct {
	Elem  string `msgpack:"elem"`
	Token string `msgpack:"token"`
}

// ElemTokens pairs an element with a set of add tokens
// observed for it at the origin.
type ElemTokens struct {
	Elem   string   `msgpack:"elem"`
	Tokens []string `msgpack:"tokens"`
}

// AWAddEffect adds freshly tagged elements to an
// add-wins set. One entry per element covers add and
// add_all alike.
type AWAddEffect struct {
	Adds []TaggedElem `msgpack:"adds"`
}

// AWRemoveEffect cancels the add tokens the origin had
// observed per element. It covers remove, remove_all
// and reset.
type AWRemoveEffect struct {
	Removes []ElemTokens `msgpack:"removes"`
}

// TPAddEffect adds elements to the added set of a
// two-phase set.
type TPAddEffect struct {
	Elems []string `msgpack:"elems"`
}

// TPRemoveEffect adds elements to the removed set of a
// two-phase set.
type TPRemoveEffect struct {
	Elems []string `msgpack:"elems"`
}

// MVWriteEffect assigns a value to a multi-value
// register, superseding all versions observed at the
// origin.
type MVWriteEffect struct {
	Value    string    `msgpack:"value"`
	Version  Version   `msgpack:"version"`
	Observed []Version `msgpack:"observed"`
}

// FlagEnableEffect records one fresh enable token.
type FlagEnableEffect struct {
	Token string `msgpack:"token"`
}

// FlagDisableEffect cancels the enable tokens observed
// at the origin.
type FlagDisableEffect struct {
	Tokens []string `msgpack:"tokens"`
}

func (e *CounterDelta) discriminator() byte      { return effCounterDelta }
func (e *PNBucketAdd) discriminator() byte       { return effPNBucket }
func (e *AWAddEffect) discriminator() byte       { return effAWAdd }
func (e *AWRemoveEffect) discriminator() byte    { return effAWRemove }
func (e *TPAddEffect) discriminator() byte       { return effTPAdd }
func (e *TPRemoveEffect) discriminator() byte    { return effTPRemove }
func (e *MVWriteEffect) discriminator() byte     { return effMVWrite }
func (e *FlagEnableEffect) discriminator() byte  { return effFlagEnable }
func (e *FlagDisableEffect) discriminator() byte { return effFlagDisable }

func (e *CounterDelta) sealedEffect()      {}
func (e *PNBucketAdd) sealedEffect()       {}
func (e *AWAddEffect) sealedEffect()       {}
func (e *AWRemoveEffect) sealedEffect()    {}
func (e *TPAddEffect) sealedEffect()       {}
func (e *TPRemoveEffect) sealedEffect()    {}
func (e *MVWriteEffect) sealedEffect()     {}
func (e *FlagEnableEffect) sealedEffect()  {}
func (e *FlagDisableEffect) sealedEffect() {}

// Functions

// EncodeEffect marshals an effect into its wire and log
// representation: one discriminator byte followed by the
// msgpack encoding of the effect struct.
func EncodeEffect(e Effect) ([]byte, error) {

	body, err := msgpack.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling effect body")
	}

	data := make([]byte, 0, len(body)+1)
	data = append(data, e.discriminator())
	data = append(data, body...)

	return data, nil
}

// DecodeEffect is the inverse of EncodeEffect.
func DecodeEffect(data []byte) (Effect, error) {

	if len(data) < 1 {
		return nil, errors.New("effect data empty")
	}

	var e Effect

	switch data[0] {
	case effCounterDelta:
		e = &CounterDelta{}
	case effPNBucket:
		e = &PNBucketAdd{}
	case effAWAdd:
		e = &AWAddEffect{}
	case effAWRemove:
		e = &AWRemoveEffect{}
	case effTPAdd:
		e = &TPAddEffect{}
	case effTPRemove:
		e = &TPRemoveEffect{}
	case effMVWrite:
		e = &MVWriteEffect{}
	case effFlagEnable:
		e = &FlagEnableEffect{}
	case effFlagDisable:
		e = &FlagDisableEffect{}
	default:
		return nil, fmt.Errorf("unknown effect discriminator %q", data[0])
	}

	if err := msgpack.Unmarshal(data[1:], e); err != nil {
		return nil, errors.Wrap(err, "unmarshalling effect body")
	}

	return e, nil
}
