package crdt

import (
	"github.com/pkg/errors"
)

// Structs

// PNCounterState is the state-based PN-counter: one
// grow-only counter per replica in a positive and a
// negative bucket. Effects and full-state merges are
// interchangeable, both move monotonically up the
// bucket lattice.
type PNCounterState struct {
	Positive map[string]uint64 `msgpack:"positive"`
	Negative map[string]uint64 `msgpack:"negative"`
}

// Functions

// NewPNCounterState returns a counter with empty buckets.
func NewPNCounterState() *PNCounterState {

	return &PNCounterState{
		Positive: make(map[string]uint64),
		Negative: make(map[string]uint64),
	}
}

// Tag returns the type tag of this state.
func (c *PNCounterState) Tag() string {
	return TypePNCounterState
}

// Value returns sum(positive) - sum(negative) as int64.
func (c *PNCounterState) Value() interface{} {

	var value int64

	for _, n := range c.Positive {
		value += int64(n)
	}
	for _, n := range c.Negative {
		value -= int64(n)
	}

	return value
}

// Downstream emits a bucket addition effect tied to the
// minting replica's identity.
func (c *PNCounterState) Downstream(op Operation, mint *TokenMint) (Effect, error) {

	n, err := argAmount(op)
	if err != nil {
		return nil, err
	}

	switch op.Name {
	case OpIncrement:
		return &PNBucketAdd{Origin: mint.Replica(), N: n}, nil
	case OpDecrement:
		return &PNBucketAdd{Negative: true, Origin: mint.Replica(), N: n}, nil
	default:
		return nil, errors.Wrapf(ErrInvalidOp, "%s on %s", op.Name, c.Tag())
	}
}

// Apply adds n onto the origin's entry in the addressed
// bucket.
func (c *PNCounterState) Apply(e Effect) error {

	add, ok := e.(*PNBucketAdd)
	if !ok {
		return errors.Wrapf(ErrInvalidOp, "effect %T on %s", e, c.Tag())
	}

	if add.Negative {
		c.Negative[add.Origin] += add.N
	} else {
		c.Positive[add.Origin] += add.N
	}

	return nil
}

// Merge folds other into c by taking the entry-wise
// maximum of both buckets.
func (c *PNCounterState) Merge(other *PNCounterState) {

	for origin, n := range other.Positive {
		if n > c.Positive[origin] {
			c.Positive[origin] = n
		}
	}

	for origin, n := range other.Negative {
		if n > c.Negative[origin] {
			c.Negative[origin] = n
		}
	}
}

// Equal reports whether both counters carry identical
// buckets.
func (c *PNCounterState) Equal(other State) bool {

	o, ok := other.(*PNCounterState)
	if !ok {
		return false
	}

	return bucketsEqual(c.Positive, o.Positive) && bucketsEqual(c.Negative, o.Negative)
}

func (c *PNCounterState) sealedState() {}

// bucketsEqual compares two buckets treating missing
// entries as zero.
func bucketsEqual(a map[string]uint64, b map[string]uint64) bool {

	for origin, n := range a {
		if b[origin] != n {
			return false
		}
	}

	for origin, n := range b {
		if a[origin] != n {
			return false
		}
	}

	return true
}
