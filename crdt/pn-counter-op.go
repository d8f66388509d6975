package crdt

import (
	"github.com/pkg/errors"
)

// Structs

// PNCounterOp is the operation-based PN-counter. Its
// whole state is one signed integer, its effects are
// signed deltas, and integer addition makes any apply
// order converge.
type PNCounterOp struct {
	Count int64 `msgpack:"count"`
}

// Functions

// NewPNCounterOp returns a counter at zero.
func NewPNCounterOp() *PNCounterOp {
	return &PNCounterOp{}
}

// Tag returns the type tag of this state.
func (c *PNCounterOp) Tag() string {
	return TypePNCounterOp
}

// Value returns the current count as int64.
func (c *PNCounterOp) Value() interface{} {
	return c.Count
}

// Downstream turns increment and decrement operations
// into signed delta effects.
func (c *PNCounterOp) Downstream(op Operation, mint *TokenMint) (Effect, error) {

	n, err := argAmount(op)
	if err != nil {
		return nil, err
	}

	switch op.Name {
	case OpIncrement:
		return &CounterDelta{Delta: int64(n)}, nil
	case OpDecrement:
		return &CounterDelta{Delta: -int64(n)}, nil
	default:
		return nil, errors.Wrapf(ErrInvalidOp, "%s on %s", op.Name, c.Tag())
	}
}

// Apply adds the delta onto the count.
func (c *PNCounterOp) Apply(e Effect) error {

	delta, ok := e.(*CounterDelta)
	if !ok {
		return errors.Wrapf(ErrInvalidOp, "effect %T on %s", e, c.Tag())
	}

	c.Count += delta.Delta

	return nil
}

// Equal reports whether other is a counter at the
// same count.
func (c *PNCounterOp) Equal(other State) bool {

	o, ok := other.(*PNCounterOp)
	if !ok {
		return false
	}

	return c.Count == o.Count
}

func (c *PNCounterOp) sealedState() {}
