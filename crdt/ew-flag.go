package crdt

import (
	"github.com/pkg/errors"
)

// Structs

// EWFlag is an enable-wins flag built from the same
// token scheme as the add-wins set: enables mint unique
// tokens, disables cancel the enables their origin had
// observed. The flag reads true while some enable token
// has escaped every disable, so a concurrent enable
// beats a concurrent disable.
type EWFlag struct {
	Enables  map[string]bool `msgpack:"enables"`
	Disables map[string]bool `msgpack:"disables"`
}

// Functions

// NewEWFlag returns a disabled flag.
func NewEWFlag() *EWFlag {

	return &EWFlag{
		Enables:  make(map[string]bool),
		Disables: make(map[string]bool),
	}
}

// Tag returns the type tag of this state.
func (f *EWFlag) Tag() string {
	return TypeEWFlag
}

// Value returns true while at least one enable token is
// not covered by a disable.
func (f *EWFlag) Value() interface{} {

	for token := range f.Enables {

		if !f.Disables[token] {
			return true
		}
	}

	return false
}

// Downstream mints a fresh token for enable and ships
// the observed enable tokens for disable.
func (f *EWFlag) Downstream(op Operation, mint *TokenMint) (Effect, error) {

	switch op.Name {

	case OpEnable:
		return &FlagEnableEffect{Token: mint.NextToken()}, nil

	case OpDisable:

		tokens := make([]string, 0, len(f.Enables))
		for token := range f.Enables {
			tokens = append(tokens, token)
		}

		return &FlagDisableEffect{Tokens: tokens}, nil

	default:
		return nil, errors.Wrapf(ErrInvalidOp, "%s on %s", op.Name, f.Tag())
	}
}

// Apply unions tokens into the respective token set.
func (f *EWFlag) Apply(e Effect) error {

	switch eff := e.(type) {

	case *FlagEnableEffect:
		f.Enables[eff.Token] = true
		return nil

	case *FlagDisableEffect:

		for _, token := range eff.Tokens {
			f.Disables[token] = true
		}

		return nil

	default:
		return errors.Wrapf(ErrInvalidOp, "effect %T on %s", e, f.Tag())
	}
}

// Equal reports whether both flags carry identical token
// sets.
func (f *EWFlag) Equal(other State) bool {

	o, ok := other.(*EWFlag)
	if !ok {
		return false
	}

	return elemSetsEqual(f.Enables, o.Enables) && elemSetsEqual(f.Disables, o.Disables)
}

func (f *EWFlag) sealedState() {}
