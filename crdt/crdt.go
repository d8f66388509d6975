package crdt

import (
	"fmt"

	"github.com/pkg/errors"
)

// Constants

// Type tags naming the available CRDTs. The tag is part
// of an object's key, so two keys that differ only in the
// tag denote two different objects.
const (
	TypePNCounterOp    = "pncounter-op"
	TypePNCounterState = "pncounter-state"
	TypeAWSet          = "aw-set"
	TypeTPSet          = "tp-set"
	TypeMVRegister     = "mv-register"
	TypeEWFlag         = "ew-flag"
)

// Operation names accepted by the types above.
const (
	OpIncrement = "increment"
	OpDecrement = "decrement"
	OpAdd       = "add"
	OpAddAll    = "add_all"
	OpRemove    = "remove"
	OpRemoveAll = "remove_all"
	OpReset     = "reset"
	OpAssign    = "assign"
	OpEnable    = "enable"
	OpDisable   = "disable"
)

// Variables

// ErrUnknownType is returned when a key carries a type
// tag no CRDT is registered for.
var ErrUnknownType = errors.New("unknown CRDT type tag")

// ErrInvalidOp is returned when an operation name or its
// argument does not fit the addressed CRDT.
var ErrInvalidOp = errors.New("operation invalid for CRDT type")

// Structs

// Key is the identity of a replicated object: a namespace,
// the type tag of the CRDT stored under it, and an id.
type Key struct {
	Namespace string `msgpack:"namespace"`
	Type      string `msgpack:"type"`
	ID        string `msgpack:"id"`
}

// String renders the key in the form namespace/type/id
// used throughout logs.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Namespace, k.Type, k.ID)
}

// Operation is one client-supplied update instruction,
// an operation name plus its optional argument.
type Operation struct {
	Name string
	Arg  interface{}
}

// State is the common contract of all CRDT states. The
// family is sealed: only the types in this package can
// implement it.
type State interface {

	// Tag returns the type tag of this state.
	Tag() string

	// Value computes the client-visible value. It is a
	// pure function of the state.
	Value() interface{}

	// Downstream executes the origin part of op and
	// returns the effect to apply everywhere. A returned
	// error is an origin rejection: no effect exists and
	// the surrounding batch must be aborted.
	Downstream(op Operation, mint *TokenMint) (Effect, error)

	// Apply folds an effect produced by Downstream of the
	// same type into the state. Effects never fail to
	// apply and applying the same effect twice does not
	// change the observable value.
	Apply(e Effect) error

	// Equal reports whether other carries the same state.
	Equal(other State) bool

	sealedState()
}

// Functions

// New returns the initial state for the given type tag or
// ErrUnknownType if no CRDT is registered for it.
func New(tag string) (State, error) {

	switch tag {
	case TypePNCounterOp:
		return NewPNCounterOp(), nil
	case TypePNCounterState:
		return NewPNCounterState(), nil
	case TypeAWSet:
		return NewAWSet(), nil
	case TypeTPSet:
		return NewTPSet(), nil
	case TypeMVRegister:
		return NewMVRegister(), nil
	case TypeEWFlag:
		return NewEWFlag(), nil
	default:
		return nil, errors.Wrap(ErrUnknownType, tag)
	}
}

// RequiresStateForDownstream reports whether the origin
// part of op on a CRDT of type tag has to observe the
// current state to build its effect. Operations that do
// not can be prepared against an empty state.
func RequiresStateForDownstream(tag string, op string) bool {

	switch tag {

	case TypePNCounterOp, TypePNCounterState:
		return false

	case TypeAWSet:
		// Removes ship the add tokens observed at origin,
		// adds only mint fresh ones.
		return op == OpRemove || op == OpRemoveAll || op == OpReset

	case TypeTPSet:
		// Both directions consult the two phase sets to
		// reject re-adds and removes of absent elements.
		return true

	case TypeMVRegister:
		// Assign ships the set of observed versions.
		return true

	case TypeEWFlag:
		return op == OpDisable

	default:
		return false
	}
}
